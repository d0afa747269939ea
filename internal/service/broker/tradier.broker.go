package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	tradierLiveURL    = "https://api.tradier.com"
	tradierSandboxURL = "https://sandbox.tradier.com"
)

// TradierBroker talks to the Tradier brokerage REST API with one bearer
// access token per identity.
type TradierBroker struct {
	baseURL    string
	httpClient *http.Client
}

func InitTradierBroker() *TradierBroker {
	cfg := config.Broker(string(entity.BrokerTradier))

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = tradierLiveURL
		if cfg.Sandbox {
			baseURL = tradierSandboxURL
		}
	}

	b := &TradierBroker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}

	RegisterBroker(entity.BrokerTradier, b)

	return b
}

func (b *TradierBroker) Name() entity.BrokerName {
	return entity.BrokerTradier
}

func (b *TradierBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	// Tradier credentials are a bare access token per identity.
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerTradier)), 1)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Tradier not found, skipping...")
		return nil, nil
	}

	brokerage := entity.NewBrokerage("Tradier")
	for idx, cred := range creds {
		identity := fmt.Sprintf("Tradier %d", idx+1)
		token := cred.Username

		notifier.Notify(ctx, fmt.Sprintf("Logging in to %s...", identity))

		accounts, err := b.fetchAccounts(ctx, token)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("Error logging into %s: %v", identity, err))
			continue
		}

		brokerage.SetSession(identity, token)
		for _, account := range accounts {
			if err := brokerage.AddAccount(identity, account.Number); err != nil {
				logrus.Warnf("%s: %v", identity, err)
				continue
			}
			_ = brokerage.SetAccountType(identity, account.Number, account.Type)

			equity, err := b.fetchTotalEquity(ctx, token, account.Number)
			if err != nil {
				logrus.Warnf("%s %s: fetch balances: %v", identity, util.MaskString(account.Number), err)
			} else {
				_ = brokerage.SetAccountTotal(identity, account.Number, equity)
			}

			logrus.Infof("%s: found %s account %s", identity, account.Type, util.MaskString(account.Number))
		}

		notifier.Notify(ctx, fmt.Sprintf("Logged in to %s", identity))
	}

	return brokerage, nil
}

func (b *TradierBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
	for _, identity := range brokerage.Identities() {
		session, err := brokerage.Session(identity)
		if err != nil {
			return err
		}
		token := session.(string)

		accounts, err := brokerage.AccountNumbers(identity)
		if err != nil {
			return err
		}

		for _, account := range accounts {
			positions, err := b.fetchPositions(ctx, token, account)
			if err != nil {
				notifier.Notify(ctx, fmt.Sprintf("%s %s: Error getting holdings: %v", identity, util.MaskString(account), err))
				continue
			}

			for _, position := range positions {
				if position.Quantity.IsZero() {
					continue
				}

				price, err := b.fetchLastPrice(ctx, token, position.Symbol)
				if err != nil {
					logrus.Warnf("%s: quote %s: %v", identity, position.Symbol, err)
					price = decimal.Zero
				}

				_ = brokerage.AddPosition(identity, account, entity.Position{
					Symbol:   position.Symbol,
					Quantity: position.Quantity,
					Price:    price,
				})
			}
		}
	}

	reportHoldings(ctx, brokerage, notifier)

	return nil
}

func (b *TradierBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
	for _, symbol := range order.Symbols {
		for _, identity := range brokerage.Identities() {
			session, err := brokerage.Session(identity)
			if err != nil {
				return err
			}
			token := session.(string)

			notifier.Notify(ctx, fmt.Sprintf("%s: %sing %s %s of %s", identity, order.Action, order.AmountLabel(), sharesWord(order), symbol))

			accounts, err := brokerage.AccountNumbers(identity)
			if err != nil {
				return err
			}

			for _, account := range accounts {
				maskedAccount := util.MaskString(account)

				if order.DryRun {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Running in DRY mode. Transaction would've been: %s %s of %s", identity, maskedAccount, order.Action, order.AmountLabel(), symbol))
					notifier.Record(ctx, newOutcome(entity.BrokerTradier, identity, account, order, symbol, entity.OutcomeStatusDryRun))
					continue
				}

				orderID, err := b.placeOrder(ctx, token, account, symbol, order)
				if err != nil {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Error submitting order: %v", identity, maskedAccount, err))
					notifier.Record(ctx, failedOutcome(entity.BrokerTradier, identity, account, order, symbol, err))
					continue
				}

				notifier.Notify(ctx, fmt.Sprintf("%s: %s %s of %s in %s: Success (order %d)", identity, order.Action, order.AmountLabel(), symbol, maskedAccount, orderID))
				notifier.Record(ctx, newOutcome(entity.BrokerTradier, identity, account, order, symbol, entity.OutcomeStatusSubmitted))
			}
		}
	}

	return nil
}

type tradierAccount struct {
	Number string
	Type   string
}

type tradierPosition struct {
	Symbol   string
	Quantity decimal.Decimal
}

func (b *TradierBroker) fetchAccounts(ctx context.Context, token string) ([]tradierAccount, error) {
	body, err := b.get(ctx, token, "/v1/user/profile")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Profile struct {
			Account json.RawMessage `json:"account"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("tradier profile parse failed: %w", err)
	}

	type rawAccount struct {
		AccountNumber string `json:"account_number"`
		Type          string `json:"type"`
	}

	// A single-account profile returns an object where a multi-account
	// profile returns an array.
	var rawAccounts []rawAccount
	if err := json.Unmarshal(payload.Profile.Account, &rawAccounts); err != nil {
		var single rawAccount
		if err := json.Unmarshal(payload.Profile.Account, &single); err != nil {
			return nil, fmt.Errorf("tradier profile account parse failed: %w", err)
		}
		rawAccounts = []rawAccount{single}
	}

	accounts := make([]tradierAccount, 0, len(rawAccounts))
	for _, raw := range rawAccounts {
		if strings.TrimSpace(raw.AccountNumber) == "" {
			continue
		}
		accounts = append(accounts, tradierAccount{Number: raw.AccountNumber, Type: raw.Type})
	}

	return accounts, nil
}

func (b *TradierBroker) fetchTotalEquity(ctx context.Context, token, account string) (decimal.Decimal, error) {
	body, err := b.get(ctx, token, "/v1/accounts/"+account+"/balances")
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Balances struct {
			TotalEquity decimal.Decimal `json:"total_equity"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("tradier balances parse failed: %w", err)
	}

	return payload.Balances.TotalEquity, nil
}

func (b *TradierBroker) fetchPositions(ctx context.Context, token, account string) ([]tradierPosition, error) {
	body, err := b.get(ctx, token, "/v1/accounts/"+account+"/positions")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Positions json.RawMessage `json:"positions"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("tradier positions parse failed: %w", err)
	}

	// An empty book comes back as the literal string "null".
	if string(envelope.Positions) == `"null"` || string(envelope.Positions) == "null" || len(envelope.Positions) == 0 {
		return nil, nil
	}

	type rawPosition struct {
		Symbol   string          `json:"symbol"`
		Quantity decimal.Decimal `json:"quantity"`
	}

	var payload struct {
		Position json.RawMessage `json:"position"`
	}
	if err := json.Unmarshal(envelope.Positions, &payload); err != nil {
		return nil, fmt.Errorf("tradier positions parse failed: %w", err)
	}

	var rawPositions []rawPosition
	if err := json.Unmarshal(payload.Position, &rawPositions); err != nil {
		var single rawPosition
		if err := json.Unmarshal(payload.Position, &single); err != nil {
			return nil, fmt.Errorf("tradier position parse failed: %w", err)
		}
		rawPositions = []rawPosition{single}
	}

	positions := make([]tradierPosition, 0, len(rawPositions))
	for _, raw := range rawPositions {
		positions = append(positions, tradierPosition{Symbol: raw.Symbol, Quantity: raw.Quantity})
	}

	return positions, nil
}

func (b *TradierBroker) fetchLastPrice(ctx context.Context, token, symbol string) (decimal.Decimal, error) {
	body, err := b.get(ctx, token, "/v1/markets/quotes?symbols="+url.QueryEscape(symbol))
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Quotes struct {
			Quote struct {
				Last decimal.Decimal `json:"last"`
			} `json:"quote"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("tradier quote parse failed: %w", err)
	}

	return payload.Quotes.Quote.Last, nil
}

func (b *TradierBroker) placeOrder(ctx context.Context, token, account, symbol string, order *entity.OrderRequest) (int64, error) {
	if order.AmountAll {
		return 0, fmt.Errorf("tradier adapter does not support %q quantities", "all")
	}

	form := url.Values{}
	form.Set("class", "equity")
	form.Set("symbol", symbol)
	form.Set("side", string(order.Action))
	form.Set("quantity", order.AmountLabel())
	form.Set("type", string(order.Price))
	form.Set("duration", string(order.Duration))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/accounts/"+account+"/orders", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("tradier order rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		Order struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
		Errors struct {
			Error json.RawMessage `json:"error"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("tradier order parse failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	if len(payload.Errors.Error) > 0 {
		return 0, fmt.Errorf("tradier order rejected: %s", string(payload.Errors.Error))
	}

	return payload.Order.ID, nil
}

func (b *TradierBroker) get(ctx context.Context, token, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("tradier request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}
