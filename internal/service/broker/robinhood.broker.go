package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/session"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	robinhoodBaseURL  = "https://api.robinhood.com"
	robinhoodClientID = "c82SH0WZOsabOXGP2sxqcj34FxkvfnWRZBKlBjFS"
	// 30 days, matching the session lifetime the mobile clients ask for.
	robinhoodTokenTTL = 86400 * 30
)

// RobinhoodBroker drives the undocumented Robinhood OAuth2/REST API.
type RobinhoodBroker struct {
	baseURL    string
	httpClient *http.Client
	store      session.Store
}

type robinhoodSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	DeviceToken  string    `json:"device_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type robinhoodHandle struct {
	session  *robinhoodSession
	storeKey string
}

func InitRobinhoodBroker(store session.Store) *RobinhoodBroker {
	cfg := config.Broker(string(entity.BrokerRobinhood))

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = robinhoodBaseURL
	}

	b := &RobinhoodBroker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		store:      store,
	}

	RegisterBroker(entity.BrokerRobinhood, b)

	return b
}

func (b *RobinhoodBroker) Name() entity.BrokerName {
	return entity.BrokerRobinhood
}

func (b *RobinhoodBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerRobinhood)), 2)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Robinhood not found, skipping...")
		return nil, nil
	}

	brokerage := entity.NewBrokerage("Robinhood")
	seenAccounts := make(map[string]bool)

	for idx, cred := range creds {
		identity := fmt.Sprintf("Robinhood %d", idx+1)
		storeKey := fmt.Sprintf("robinhood%d", idx+1)

		notifier.Notify(ctx, fmt.Sprintf("Logging in to %s...", identity))

		sess, err := b.restoreOrLogin(ctx, storeKey, cred)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("Error logging into %s: %v", identity, err))
			continue
		}

		accounts, err := b.fetchAccounts(ctx, sess)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("%s: Account load failed: %v", identity, err))
			continue
		}

		brokerage.SetSession(identity, &robinhoodHandle{session: sess, storeKey: storeKey})
		for _, account := range accounts {
			// The same underlying account can show up under more than
			// one credential set; register it once.
			if seenAccounts[account.AccountNumber] {
				continue
			}
			seenAccounts[account.AccountNumber] = true

			if err := brokerage.AddAccount(identity, account.AccountNumber); err != nil {
				logrus.Warnf("%s: %v", identity, err)
				continue
			}
			_ = brokerage.SetAccountType(identity, account.AccountNumber, account.BrokerageAccountType)
			_ = brokerage.SetAccountTotal(identity, account.AccountNumber, account.PortfolioCash)
			_ = brokerage.SetSubHandle(identity, account.AccountNumber, account.URL)

			logrus.Infof("%s: found %s account %s", identity, account.BrokerageAccountType, util.MaskString(account.AccountNumber))
		}

		notifier.Notify(ctx, fmt.Sprintf("Logged in to %s", identity))
	}

	return brokerage, nil
}

func (b *RobinhoodBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
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
			positions, err := b.fetchPositions(ctx, handle.session, account)
			if err != nil {
				notifier.Notify(ctx, fmt.Sprintf("%s: Error getting account holdings: %v", identity, err))
				continue
			}

			for _, position := range positions {
				if position.Quantity.IsZero() {
					continue
				}

				symbol, err := b.fetchSymbol(ctx, handle.session, position.Instrument)
				if err != nil {
					logrus.Warnf("%s: instrument lookup: %v", identity, err)
					continue
				}

				price := decimal.Zero
				if quote, err := b.fetchQuote(ctx, handle.session, symbol); err == nil {
					price = quote.LastTradePrice
				}

				_ = brokerage.AddPosition(identity, account, entity.Position{
					Symbol:   symbol,
					Quantity: position.Quantity,
					Price:    price,
				})
			}
		}
	}

	reportHoldings(ctx, brokerage, notifier)

	return nil
}

func (b *RobinhoodBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
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
					notifier.Record(ctx, newOutcome(entity.BrokerRobinhood, identity, account, order, symbol, entity.OutcomeStatusDryRun))
					continue
				}

				accountURL, err := brokerage.SubHandle(identity, account)
				if err != nil {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: %v", identity, maskedAccount, err))
					continue
				}

				quantity := order.AmountLabel()
				if order.AmountAll {
					if order.Action != entity.OrderActionSell {
						err := fmt.Errorf("%q quantities are sell-only on robinhood", "all")
						notifier.Notify(ctx, fmt.Sprintf("%s %s: %v", identity, maskedAccount, err))
						notifier.Record(ctx, failedOutcome(entity.BrokerRobinhood, identity, account, order, symbol, err))
						continue
					}
					held, err := b.heldQuantity(ctx, handle.session, account, symbol)
					if err != nil {
						notifier.Notify(ctx, fmt.Sprintf("%s %s: %v", identity, maskedAccount, err))
						notifier.Record(ctx, failedOutcome(entity.BrokerRobinhood, identity, account, order, symbol, err))
						continue
					}
					quantity = held.String()
				}

				// Ordered fallback strategies: a plain market order
				// first, then a limit repriced at best bid/ask plus a
				// one cent offset. First success short-circuits.
				strategies := []struct {
					name  string
					place func(context.Context, *robinhoodSession, string, string, string, string, *entity.OrderRequest) error
				}{
					{"market", b.placeMarketOrder},
					{"limit", b.placeLimitFallback},
				}

				var lastErr error
				succeeded := false
				for i, strategy := range strategies {
					err := strategy.place(ctx, handle.session, accountURL.(string), account, symbol, quantity, order)
					if err == nil {
						succeeded = true
						notifier.Notify(ctx, fmt.Sprintf("%s: %s %s of %s in %s: Success (%s)", identity, order.Action, order.AmountLabel(), symbol, maskedAccount, strategy.name))
						break
					}

					lastErr = err
					if i < len(strategies)-1 {
						notifier.Notify(ctx, fmt.Sprintf("%s: Error %sing %s of %s in %s, trying %s order", identity, order.Action, order.AmountLabel(), symbol, maskedAccount, strategies[i+1].name))
					}
				}

				if succeeded {
					notifier.Record(ctx, newOutcome(entity.BrokerRobinhood, identity, account, order, symbol, entity.OutcomeStatusSubmitted))
				} else {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Error submitting order: %v", identity, maskedAccount, lastErr))
					notifier.Record(ctx, failedOutcome(entity.BrokerRobinhood, identity, account, order, symbol, lastErr))
				}
			}
		}
	}

	return nil
}

func (b *RobinhoodBroker) handle(brokerage *entity.Brokerage, identity string) (*robinhoodHandle, error) {
	raw, err := brokerage.Session(identity)
	if err != nil {
		return nil, err
	}
	return raw.(*robinhoodHandle), nil
}

func (b *RobinhoodBroker) restoreOrLogin(ctx context.Context, storeKey string, cred entity.CredentialSet) (*robinhoodSession, error) {
	if payload, ok, err := b.store.Load(ctx, storeKey); err == nil && ok {
		var sess robinhoodSession
		if err := json.Unmarshal(payload, &sess); err == nil && time.Now().Before(sess.ExpiresAt) {
			if _, err := b.fetchAccounts(ctx, &sess); err == nil {
				return &sess, nil
			}
			if refreshed, err := b.refresh(ctx, &sess); err == nil {
				b.saveSession(ctx, storeKey, refreshed)
				return refreshed, nil
			}
		}
		// Cached session is unusable, start over.
		_ = b.store.Delete(ctx, storeKey)
	}

	sess, err := b.login(ctx, cred)
	if err != nil {
		return nil, err
	}
	b.saveSession(ctx, storeKey, sess)

	return sess, nil
}

func (b *RobinhoodBroker) saveSession(ctx context.Context, storeKey string, sess *robinhoodSession) {
	payload, err := json.Marshal(sess)
	if err != nil {
		logrus.Errorf("marshal robinhood session: %v", err)
		return
	}
	if err := b.store.Save(ctx, storeKey, payload); err != nil {
		logrus.Errorf("save robinhood session: %v", err)
	}
}

func (b *RobinhoodBroker) login(ctx context.Context, cred entity.CredentialSet) (*robinhoodSession, error) {
	deviceToken := uuid.NewString()

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", robinhoodClientID)
	form.Set("username", cred.Username)
	form.Set("password", cred.Password)
	form.Set("scope", "internal")
	form.Set("device_token", deviceToken)
	form.Set("expires_in", fmt.Sprintf("%d", robinhoodTokenTTL))

	if cred.HasTOTP() {
		code, err := mintTOTP(cred.TOTPSecret)
		if err != nil {
			return nil, err
		}
		form.Set("mfa_code", code)
	}

	body, err := b.postForm(ctx, "", "/oauth2/token/", form)
	if err != nil {
		return nil, err
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		MFARequired  bool   `json:"mfa_required"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("robinhood login parse failed: %w", err)
	}
	if payload.MFARequired {
		return nil, fmt.Errorf("robinhood requires an MFA code and no TOTP secret was configured")
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("robinhood login failed: no access token in response")
	}

	return &robinhoodSession{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		DeviceToken:  deviceToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

func (b *RobinhoodBroker) refresh(ctx context.Context, sess *robinhoodSession) (*robinhoodSession, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", robinhoodClientID)
	form.Set("refresh_token", sess.RefreshToken)
	form.Set("device_token", sess.DeviceToken)

	body, err := b.postForm(ctx, "", "/oauth2/token/", form)
	if err != nil {
		return nil, err
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("robinhood refresh parse failed: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("robinhood refresh failed: no access token in response")
	}

	return &robinhoodSession{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		DeviceToken:  sess.DeviceToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}, nil
}

type robinhoodAccount struct {
	URL                  string          `json:"url"`
	AccountNumber        string          `json:"account_number"`
	BrokerageAccountType string          `json:"brokerage_account_type"`
	PortfolioCash        decimal.Decimal `json:"portfolio_cash"`
}

func (b *RobinhoodBroker) fetchAccounts(ctx context.Context, sess *robinhoodSession) ([]robinhoodAccount, error) {
	body, err := b.get(ctx, sess.AccessToken, b.baseURL+"/accounts/")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []robinhoodAccount `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("robinhood accounts parse failed: %w", err)
	}

	return payload.Results, nil
}

type robinhoodPosition struct {
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
}

func (b *RobinhoodBroker) fetchPositions(ctx context.Context, sess *robinhoodSession, account string) ([]robinhoodPosition, error) {
	body, err := b.get(ctx, sess.AccessToken, b.baseURL+"/positions/?nonzero=true&account_number="+url.QueryEscape(account))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []robinhoodPosition `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("robinhood positions parse failed: %w", err)
	}

	return payload.Results, nil
}

func (b *RobinhoodBroker) fetchSymbol(ctx context.Context, sess *robinhoodSession, instrumentURL string) (string, error) {
	body, err := b.get(ctx, sess.AccessToken, instrumentURL)
	if err != nil {
		return "", err
	}

	var payload struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("robinhood instrument parse failed: %w", err)
	}

	return payload.Symbol, nil
}

type robinhoodQuote struct {
	AskPrice       decimal.Decimal `json:"ask_price"`
	BidPrice       decimal.Decimal `json:"bid_price"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	InstrumentURL  string          `json:"instrument"`
}

func (b *RobinhoodBroker) fetchQuote(ctx context.Context, sess *robinhoodSession, symbol string) (*robinhoodQuote, error) {
	body, err := b.get(ctx, sess.AccessToken, b.baseURL+"/quotes/"+url.PathEscape(symbol)+"/")
	if err != nil {
		return nil, err
	}

	var quote robinhoodQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("robinhood quote parse failed: %w", err)
	}

	return &quote, nil
}

// heldQuantity resolves the full position size for sell-all orders.
func (b *RobinhoodBroker) heldQuantity(ctx context.Context, sess *robinhoodSession, account, symbol string) (decimal.Decimal, error) {
	positions, err := b.fetchPositions(ctx, sess, account)
	if err != nil {
		return decimal.Zero, err
	}

	for _, position := range positions {
		if position.Quantity.IsZero() {
			continue
		}
		held, err := b.fetchSymbol(ctx, sess, position.Instrument)
		if err != nil {
			return decimal.Zero, err
		}
		if held == symbol {
			return position.Quantity, nil
		}
	}

	return decimal.Zero, fmt.Errorf("no position in %s to sell", symbol)
}

func (b *RobinhoodBroker) placeMarketOrder(ctx context.Context, sess *robinhoodSession, accountURL, account, symbol, quantity string, order *entity.OrderRequest) error {
	quote, err := b.fetchQuote(ctx, sess, symbol)
	if err != nil {
		return err
	}

	return b.submitOrder(ctx, sess, map[string]any{
		"account":        accountURL,
		"instrument":     quote.InstrumentURL,
		"symbol":         symbol,
		"type":           "market",
		"time_in_force":  "gfd",
		"trigger":        "immediate",
		"quantity":       quantity,
		"side":           string(order.Action),
		"account_number": account,
	})
}

func (b *RobinhoodBroker) placeLimitFallback(ctx context.Context, sess *robinhoodSession, accountURL, account, symbol, quantity string, order *entity.OrderRequest) error {
	quote, err := b.fetchQuote(ctx, sess, symbol)
	if err != nil {
		return err
	}
	if quote.AskPrice.IsZero() || quote.BidPrice.IsZero() {
		return fmt.Errorf("robinhood quote has no bid/ask for %s", symbol)
	}

	price := repriceLimit(order.Action, quote.AskPrice, quote.BidPrice)

	return b.submitOrder(ctx, sess, map[string]any{
		"account":        accountURL,
		"instrument":     quote.InstrumentURL,
		"symbol":         symbol,
		"type":           "limit",
		"price":          price.StringFixed(2),
		"time_in_force":  "gfd",
		"trigger":        "immediate",
		"quantity":       quantity,
		"side":           string(order.Action),
		"account_number": account,
	})
}

func (b *RobinhoodBroker) submitOrder(ctx context.Context, sess *robinhoodSession, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/orders/", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("robinhood order rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	var result struct {
		NonFieldErrors []string `json:"non_field_errors"`
	}
	if err := json.Unmarshal(body, &result); err == nil && len(result.NonFieldErrors) > 0 {
		return fmt.Errorf("robinhood order rejected: %s", strings.Join(result.NonFieldErrors, "; "))
	}

	return nil
}

func (b *RobinhoodBroker) postForm(ctx context.Context, token, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

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
		return nil, fmt.Errorf("robinhood request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (b *RobinhoodBroker) get(ctx context.Context, token, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

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
		return nil, fmt.Errorf("robinhood request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}
