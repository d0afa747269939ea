package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/session"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Fennel authenticates through Auth0 passwordless email codes and serves
// everything else over a single GraphQL endpoint.
const (
	fennelAuthURL     = "https://accounts.fennel.com"
	fennelGraphQLURL  = "https://fennel-api.prod.fennel.com/graphql"
	fennelClientID    = "FXGlhcVdamwozAFp8BZ2MWl6coPl6agX"
	fennelOTPAudience = "https://meta.api.fennel.com/graphql"
	fennelOAuthScope  = "openid profile offline_access email"
)

type FennelBroker struct {
	authURL    string
	graphqlURL string
	httpClient *http.Client
	store      session.Store
	otp        entity.OTPProvider
	otpWait    time.Duration
}

type fennelSession struct {
	Bearer  string `json:"bearer"`
	Refresh string `json:"refresh"`
	IDToken string `json:"id_token"`
}

type fennelHandle struct {
	session  *fennelSession
	storeKey string
}

func InitFennelBroker(store session.Store, otp entity.OTPProvider) *FennelBroker {
	cfg := config.Broker(string(entity.BrokerFennel))

	graphqlURL := strings.TrimSpace(cfg.BaseURL)
	if graphqlURL == "" {
		graphqlURL = fennelGraphQLURL
	}

	otpWait := 300 * time.Second
	if config.Env != nil && config.Env.Discord.OTPWait > 0 {
		otpWait = config.Env.Discord.OTPWait
	}

	b := &FennelBroker{
		authURL:    fennelAuthURL,
		graphqlURL: graphqlURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		store:      store,
		otp:        otp,
		otpWait:    otpWait,
	}

	RegisterBroker(entity.BrokerFennel, b)

	return b
}

func (b *FennelBroker) Name() entity.BrokerName {
	return entity.BrokerFennel
}

func (b *FennelBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	// Fennel credentials are just the account email.
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerFennel)), 1)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Fennel not found, skipping...")
		return nil, nil
	}

	brokerage := entity.NewBrokerage("Fennel")
	for idx, cred := range creds {
		identity := fmt.Sprintf("Fennel %d", idx+1)
		storeKey := fmt.Sprintf("fennel%d", idx+1)
		email := cred.Username

		notifier.Notify(ctx, fmt.Sprintf("Logging in to %s for %s...", identity, util.MaskString(email)))

		sess, err := b.restoreOrLogin(ctx, identity, storeKey, email, notifier)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("Error logging in to %s: %v", identity, err))
			continue
		}

		accountIDs, err := b.fetchAccountIDs(ctx, sess)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("%s: Error retrieving accounts: %v", identity, err))
			continue
		}

		brokerage.SetSession(identity, &fennelHandle{session: sess, storeKey: storeKey})
		for _, accountID := range accountIDs {
			if err := brokerage.AddAccount(identity, accountID); err != nil {
				logrus.Warnf("%s: %v", identity, err)
				continue
			}

			portfolio, err := b.fetchPortfolio(ctx, sess, accountID)
			if err != nil {
				logrus.Warnf("%s: portfolio summary: %v", identity, err)
				continue
			}
			_ = brokerage.SetAccountTotal(identity, accountID, portfolio.TotalEquityValue)
		}

		notifier.Notify(ctx, fmt.Sprintf("Logged in to %s", identity))
	}

	return brokerage, nil
}

func (b *FennelBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
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
			holdings, err := b.fetchHoldings(ctx, handle.session, account)
			if err != nil {
				notifier.Notify(ctx, fmt.Sprintf("%s %s: Error getting holdings: %v", identity, util.MaskString(account), err))
				continue
			}

			for _, holding := range holdings {
				_ = brokerage.AddPosition(identity, account, entity.Position{
					Symbol:   holding.Security.Ticker,
					Quantity: holding.Investment.OwnedShares,
					Price:    holding.Security.CurrentStockPrice,
				})
			}
		}
	}

	reportHoldings(ctx, brokerage, notifier)

	return nil
}

func (b *FennelBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
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

				if err := b.placeOrder(ctx, handle.session, account, symbol, order); err != nil {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Error submitting order: %v", identity, maskedAccount, err))
					notifier.Record(ctx, failedOutcome(entity.BrokerFennel, identity, account, order, symbol, err))
					continue
				}

				if order.DryRun {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Running in DRY mode. Transaction would've been: %s %s of %s", identity, maskedAccount, order.Action, order.AmountLabel(), symbol))
					notifier.Record(ctx, newOutcome(entity.BrokerFennel, identity, account, order, symbol, entity.OutcomeStatusDryRun))
				} else {
					notifier.Notify(ctx, fmt.Sprintf("%s account %s: %s %s of %s", identity, maskedAccount, order.Action, order.AmountLabel(), symbol))
					notifier.Record(ctx, newOutcome(entity.BrokerFennel, identity, account, order, symbol, entity.OutcomeStatusSubmitted))
				}
			}
		}
	}

	return nil
}

func (b *FennelBroker) handle(brokerage *entity.Brokerage, identity string) (*fennelHandle, error) {
	raw, err := brokerage.Session(identity)
	if err != nil {
		return nil, err
	}
	return raw.(*fennelHandle), nil
}

func (b *FennelBroker) restoreOrLogin(ctx context.Context, identity, storeKey, email string, notifier entity.Notifier) (*fennelSession, error) {
	if payload, ok, err := b.store.Load(ctx, storeKey); err == nil && ok {
		var sess fennelSession
		if err := json.Unmarshal(payload, &sess); err == nil && sess.Bearer != "" {
			if _, err := b.fetchAccountIDs(ctx, &sess); err == nil {
				return &sess, nil
			}
			if err := b.refresh(ctx, &sess); err == nil {
				b.saveSession(ctx, storeKey, &sess)
				return &sess, nil
			}
		}
		_ = b.store.Delete(ctx, storeKey)
	}

	if b.otp == nil {
		return nil, fmt.Errorf("fennel login requires a one-time email code and no code provider is available")
	}

	if err := b.startPasswordless(ctx, email); err != nil {
		return nil, err
	}

	notifier.Notify(ctx, fmt.Sprintf("%s: 2FA code sent to email, waiting for code...", identity))
	code, err := b.otp.WaitForCode(ctx, identity, b.otpWait)
	if err != nil {
		return nil, fmt.Errorf("waiting for login code: %w", err)
	}

	sess, err := b.exchangeOTP(ctx, email, code)
	if err != nil {
		return nil, err
	}

	// Rotate immediately so the stored refresh token is the newest one.
	if err := b.refresh(ctx, sess); err != nil {
		return nil, err
	}
	b.saveSession(ctx, storeKey, sess)

	return sess, nil
}

func (b *FennelBroker) saveSession(ctx context.Context, storeKey string, sess *fennelSession) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := b.store.Save(ctx, storeKey, payload); err != nil {
		logrus.Errorf("save fennel session: %v", err)
	}
}

func (b *FennelBroker) startPasswordless(ctx context.Context, email string) error {
	payload := map[string]string{
		"email":      email,
		"client_id":  fennelClientID,
		"connection": "email",
		"send":       "code",
	}

	var out json.RawMessage
	if err := b.postJSON(ctx, b.authURL+"/passwordless/start", payload, &out); err != nil {
		return fmt.Errorf("starting passwordless login: %w", err)
	}

	return nil
}

func (b *FennelBroker) exchangeOTP(ctx context.Context, email, code string) (*fennelSession, error) {
	payload := map[string]string{
		"grant_type": "http://auth0.com/oauth/grant-type/passwordless/otp",
		"client_id":  fennelClientID,
		"otp":        code,
		"username":   email,
		"scope":      fennelOAuthScope,
		"audience":   fennelOTPAudience,
		"realm":      "email",
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
	}
	if err := b.postJSON(ctx, b.authURL+"/oauth/token", payload, &out); err != nil {
		return nil, fmt.Errorf("exchanging login code: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("fennel login failed: no access token in response")
	}

	return &fennelSession{Bearer: out.AccessToken, Refresh: out.RefreshToken, IDToken: out.IDToken}, nil
}

func (b *FennelBroker) refresh(ctx context.Context, sess *fennelSession) error {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     fennelClientID,
		"refresh_token": sess.Refresh,
		"scope":         fennelOAuthScope,
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
	}
	if err := b.postJSON(ctx, b.authURL+"/oauth/token", payload, &out); err != nil {
		return fmt.Errorf("refreshing bearer token: %w", err)
	}

	sess.Bearer = out.AccessToken
	sess.Refresh = out.RefreshToken
	sess.IDToken = out.IDToken

	return nil
}

func (b *FennelBroker) fetchAccountIDs(ctx context.Context, sess *fennelSession) ([]string, error) {
	var out struct {
		User struct {
			Accounts []struct {
				ID      string `json:"id"`
				Status  string `json:"status"`
				Created string `json:"created"`
			} `json:"accounts"`
		} `json:"user"`
	}

	query := `query GetAccounts { user { accounts { id status created } } }`
	if err := b.graphql(ctx, sess, query, nil, &out); err != nil {
		return nil, err
	}

	var ids []string
	for _, account := range out.User.Accounts {
		if account.Status == "APPROVED" {
			ids = append(ids, account.ID)
		}
	}

	return ids, nil
}

type fennelPortfolio struct {
	TotalEquityValue decimal.Decimal `json:"totalEquityValue"`
}

func (b *FennelBroker) fetchPortfolio(ctx context.Context, sess *fennelSession, accountID string) (*fennelPortfolio, error) {
	var out struct {
		Account struct {
			Portfolio fennelPortfolio `json:"portfolio"`
		} `json:"account"`
	}

	query := `query GetPortfolioSummary($accountId: String!) { account(accountId: $accountId) { portfolio { totalEquityValue } } }`
	if err := b.graphql(ctx, sess, query, map[string]any{"accountId": accountID}, &out); err != nil {
		return nil, err
	}

	return &out.Account.Portfolio, nil
}

type fennelHolding struct {
	ISIN       string `json:"isin"`
	Investment struct {
		OwnedShares decimal.Decimal `json:"ownedShares"`
	} `json:"investment"`
	Security struct {
		Ticker            string          `json:"ticker"`
		CurrentStockPrice decimal.Decimal `json:"currentStockPrice"`
	} `json:"security"`
}

func (b *FennelBroker) fetchHoldings(ctx context.Context, sess *fennelSession, accountID string) ([]fennelHolding, error) {
	var out struct {
		Account struct {
			Portfolio struct {
				Bulbs []fennelHolding `json:"bulbs"`
			} `json:"portfolio"`
		} `json:"account"`
	}

	query := `query GetStockHoldings($accountId: String!) { account(accountId: $accountId) { portfolio { bulbs { isin investment { ownedShares } security { ticker currentStockPrice } } } } }`
	if err := b.graphql(ctx, sess, query, map[string]any{"accountId": accountID}, &out); err != nil {
		return nil, err
	}

	return out.Account.Portfolio.Bulbs, nil
}

// fetchISIN resolves a ticker to its ISIN through the app search. Sells
// fall back to holdings when the symbol is no longer searchable.
func (b *FennelBroker) fetchISIN(ctx context.Context, sess *fennelSession, accountID, symbol string, action entity.OrderAction) (string, error) {
	var out struct {
		SearchSearch struct {
			SearchSecurities []struct {
				ISIN     string `json:"isin"`
				Security struct {
					Ticker string `json:"ticker"`
				} `json:"security"`
			} `json:"searchSecurities"`
		} `json:"searchSearch"`
	}

	query := `query Search($query: String!, $count: Int) { searchSearch { searchSecurities(query: $query, count: $count) { isin security { ticker } } } }`
	if err := b.graphql(ctx, sess, query, map[string]any{"query": symbol, "count": 20}, &out); err != nil {
		return "", err
	}

	for _, result := range out.SearchSearch.SearchSecurities {
		if strings.EqualFold(result.Security.Ticker, symbol) {
			return result.ISIN, nil
		}
	}

	if action == entity.OrderActionSell {
		holdings, err := b.fetchHoldings(ctx, sess, accountID)
		if err != nil {
			return "", err
		}
		for _, holding := range holdings {
			if strings.EqualFold(holding.Security.Ticker, symbol) {
				return holding.ISIN, nil
			}
		}
	}

	return "", fmt.Errorf("no security found for %s", symbol)
}

func (b *FennelBroker) checkTradable(ctx context.Context, sess *fennelSession, isin, accountID string, action entity.OrderAction) error {
	var out struct {
		BulbBulb struct {
			Tradeable *struct {
				CanBuy            bool   `json:"canBuy"`
				CanSell           bool   `json:"canSell"`
				RestrictionReason string `json:"restrictionReason"`
			} `json:"tradeable"`
		} `json:"bulbBulb"`
	}

	query := `query CheckTradable($isin: String!, $accountId: String!) { bulbBulb(isin: $isin) { tradeable(accountId: $accountId) { canBuy canSell restrictionReason } } }`
	if err := b.graphql(ctx, sess, query, map[string]any{"isin": isin, "accountId": accountID}, &out); err != nil {
		return err
	}

	tradeable := out.BulbBulb.Tradeable
	if tradeable == nil {
		return fmt.Errorf("no tradeable data found")
	}

	allowed := tradeable.CanBuy
	if action == entity.OrderActionSell {
		allowed = tradeable.CanSell
	}
	if !allowed {
		return fmt.Errorf("not tradable: %s", tradeable.RestrictionReason)
	}

	return nil
}

func (b *FennelBroker) placeOrder(ctx context.Context, sess *fennelSession, accountID, symbol string, order *entity.OrderRequest) error {
	isin, err := b.fetchISIN(ctx, sess, accountID, symbol, order.Action)
	if err != nil {
		return err
	}

	if err := b.checkTradable(ctx, sess, isin, accountID, order.Action); err != nil {
		return err
	}

	quantity := decimal.NewFromInt(order.Amount)
	if order.AmountAll {
		if order.Action != entity.OrderActionSell {
			return fmt.Errorf("%q quantities are only supported for sells", "all")
		}
		holdings, err := b.fetchHoldings(ctx, sess, accountID)
		if err != nil {
			return err
		}
		quantity = decimal.Zero
		for _, holding := range holdings {
			if strings.EqualFold(holding.Security.Ticker, symbol) {
				quantity = holding.Investment.OwnedShares
				break
			}
		}
		if quantity.IsZero() {
			return fmt.Errorf("no shares of %s to sell", symbol)
		}
	}

	// Dry runs stop after the tradability checks, before the mutation.
	if order.DryRun {
		return nil
	}

	var out struct {
		OrderCreateOrder struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"orderCreateOrder"`
	}

	mutation := `mutation CreateOrder($accountId: String!, $order: OrderInput!) { orderCreateOrder(accountId: $accountId, order: $order) { id status } }`
	variables := map[string]any{
		"accountId": accountID,
		"order": map[string]any{
			"ticker":      symbol,
			"isin":        isin,
			"quantity":    quantity,
			"side":        string(order.Action),
			"type":        string(order.Price),
			"timeInForce": string(order.Duration),
		},
	}

	return b.graphql(ctx, sess, mutation, variables, &out)
}

func (b *FennelBroker) graphql(ctx context.Context, sess *fennelSession, query string, variables map[string]any, out any) error {
	body := map[string]any{"query": query}
	if variables != nil {
		body["variables"] = variables
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.graphqlURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sess.Bearer)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("fennel request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("fennel response parse failed: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("fennel request failed: %s", envelope.Errors[0].Message)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("fennel response parse failed: %w", err)
		}
	}

	return nil
}

func (b *FennelBroker) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("fennel auth request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("fennel auth response parse failed: %w", err)
		}
	}

	return nil
}
