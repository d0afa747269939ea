package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/dghubble/oauth1"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ally Invest serves a REST API with OAuth1-signed requests; orders go
// in as FIXML documents.
const allyAPIURL = "https://devapi.invest.ally.com/v1"

type AllyBroker struct {
	baseURL string
}

// allyHandle carries the OAuth1-signing client for one credential set.
type allyHandle struct {
	httpClient *http.Client
}

func InitAllyBroker() *AllyBroker {
	cfg := config.Broker(string(entity.BrokerAlly))

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = allyAPIURL
	}

	b := &AllyBroker{baseURL: strings.TrimRight(baseURL, "/")}

	RegisterBroker(entity.BrokerAlly, b)

	return b
}

func (b *AllyBroker) Name() entity.BrokerName {
	return entity.BrokerAlly
}

func (b *AllyBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	// consumer key, consumer secret, oauth token, oauth secret
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerAlly)), 4)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Ally not found, skipping...")
		return nil, nil
	}

	brokerage := entity.NewBrokerage("Ally")
	for idx, cred := range creds {
		identity := fmt.Sprintf("Ally %d", idx+1)

		notifier.Notify(ctx, fmt.Sprintf("Logging in to %s...", identity))

		// Tuple order: consumer key, consumer secret, oauth token, oauth secret.
		oauthConfig := oauth1.NewConfig(cred.Username, cred.Password)
		token := oauth1.NewToken(cred.TOTPSecret, cred.Extra[0])
		handle := &allyHandle{httpClient: oauthConfig.Client(ctx, token)}
		handle.httpClient.Timeout = defaultHTTPTimeout

		accounts, err := b.fetchAccounts(ctx, handle)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("Error logging in to %s: %v", identity, err))
			continue
		}

		brokerage.SetSession(identity, handle)
		for _, account := range accounts {
			if err := brokerage.AddAccount(identity, account.Account); err != nil {
				logrus.Warnf("%s: %v", identity, err)
				continue
			}
			_ = brokerage.SetAccountTotal(identity, account.Account, account.AccountValue)
			logrus.Infof("%s: found account %s", identity, util.MaskString(account.Account))
		}

		notifier.Notify(ctx, fmt.Sprintf("Logged in to %s", identity))
	}

	return brokerage, nil
}

func (b *AllyBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
	for _, identity := range brokerage.Identities() {
		handle, err := b.handle(brokerage, identity)
		if err != nil {
			return err
		}

		accounts, err := brokerage.AccountNumbers(identity)
		if err != nil {
			return err
		}

		for _, account := range accounts {
			holdings, err := b.fetchHoldings(ctx, handle, account)
			if err != nil {
				notifier.Notify(ctx, fmt.Sprintf("%s %s: Error getting holdings: %v", identity, util.MaskString(account), err))
				continue
			}

			for _, holding := range holdings {
				_ = brokerage.AddPosition(identity, account, entity.Position{
					Symbol:   holding.Instrument.Symbol,
					Quantity: holding.Quantity,
					Price:    holding.Price,
				})
			}
		}
	}

	reportHoldings(ctx, brokerage, notifier)

	return nil
}

func (b *AllyBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
	for _, symbol := range order.Symbols {
		for _, identity := range brokerage.Identities() {
			handle, err := b.handle(brokerage, identity)
			if err != nil {
				return err
			}

			notifier.Notify(ctx, fmt.Sprintf("%s: %sing %s %s of %s", identity, order.Action, order.AmountLabel(), sharesWord(order), symbol))

			accounts, err := brokerage.AccountNumbers(identity)
			if err != nil {
				return err
			}

			for _, account := range accounts {
				maskedAccount := util.MaskString(account)

				if order.DryRun {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Running in DRY mode. Transaction would've been: %s %s of %s", identity, maskedAccount, order.Action, order.AmountLabel(), symbol))
					notifier.Record(ctx, newOutcome(entity.BrokerAlly, identity, account, order, symbol, entity.OutcomeStatusDryRun))
					continue
				}

				orderID, err := b.placeOrder(ctx, handle, account, symbol, order)
				if err != nil {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Error submitting order: %v", identity, maskedAccount, err))
					notifier.Record(ctx, failedOutcome(entity.BrokerAlly, identity, account, order, symbol, err))
					continue
				}

				notifier.Notify(ctx, fmt.Sprintf("%s account %s: %s %s of %s (order %s)", identity, maskedAccount, order.Action, order.AmountLabel(), symbol, orderID))
				notifier.Record(ctx, newOutcome(entity.BrokerAlly, identity, account, order, symbol, entity.OutcomeStatusSubmitted))
			}
		}
	}

	return nil
}

func (b *AllyBroker) handle(brokerage *entity.Brokerage, identity string) (*allyHandle, error) {
	raw, err := brokerage.Session(identity)
	if err != nil {
		return nil, err
	}
	return raw.(*allyHandle), nil
}

type allyAccount struct {
	Account      string          `json:"account"`
	AccountValue decimal.Decimal `json:"accountvalue"`
}

func (b *AllyBroker) fetchAccounts(ctx context.Context, handle *allyHandle) ([]allyAccount, error) {
	body, err := b.get(ctx, handle, b.baseURL+"/accounts.json")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Response struct {
			Accounts struct {
				AccountSummary json.RawMessage `json:"accountsummary"`
			} `json:"accounts"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("ally accounts parse failed: %w", err)
	}

	// A single account comes back as an object instead of an array.
	raw := payload.Response.Accounts.AccountSummary
	var accounts []allyAccount
	if err := json.Unmarshal(raw, &accounts); err != nil {
		var single allyAccount
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("ally accounts parse failed: %w", err)
		}
		accounts = append(accounts, single)
	}

	return accounts, nil
}

type allyHolding struct {
	Instrument struct {
		Symbol string `json:"sym"`
	} `json:"instrument"`
	Quantity decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
}

func (b *AllyBroker) fetchHoldings(ctx context.Context, handle *allyHandle, account string) ([]allyHolding, error) {
	body, err := b.get(ctx, handle, fmt.Sprintf("%s/accounts/%s/holdings.json", b.baseURL, account))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Response struct {
			AccountHoldings struct {
				Holding json.RawMessage `json:"holding"`
			} `json:"accountholdings"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("ally holdings parse failed: %w", err)
	}

	raw := payload.Response.AccountHoldings.Holding
	if len(raw) == 0 {
		return nil, nil
	}

	var holdings []allyHolding
	if err := json.Unmarshal(raw, &holdings); err != nil {
		var single allyHolding
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("ally holdings parse failed: %w", err)
		}
		holdings = append(holdings, single)
	}

	return holdings, nil
}

func (b *AllyBroker) placeOrder(ctx context.Context, handle *allyHandle, account, symbol string, order *entity.OrderRequest) (string, error) {
	if order.AmountAll {
		return "", fmt.Errorf("ally adapter does not support %q quantities", "all")
	}

	side := "1"
	if order.Action == entity.OrderActionSell {
		side = "2"
	}

	// TmInForce 0 = day, Typ 1 = market, SecTyp CS = common stock.
	fixml := fmt.Sprintf(
		`<FIXML xmlns="http://www.fixprotocol.org/FIXML-5-0-SP2"><Order TmInForce="0" Typ="1" Side="%s" Acct="%s"><Instrmt SecTyp="CS" Sym="%s"/><OrdQty Qty="%d"/></Order></FIXML>`,
		side, account, symbol, order.Amount,
	)

	endpoint := fmt.Sprintf("%s/accounts/%s/orders.json", b.baseURL, account)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(fixml))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := handle.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("ally order rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		Response struct {
			ClientOrderID string `json:"clientorderid"`
			Error         string `json:"error"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("ally order parse failed: %w", err)
	}
	if payload.Response.Error != "" && payload.Response.Error != "Success" {
		return "", fmt.Errorf("ally order rejected: %s", payload.Response.Error)
	}

	return payload.Response.ClientOrderID, nil
}

func (b *AllyBroker) get(ctx context.Context, handle *allyHandle, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := handle.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("ally request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}
