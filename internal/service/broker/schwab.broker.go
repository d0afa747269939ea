package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/session"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Schwab has no public API; these are the trade-order-management endpoints
// the web client talks to.
const (
	schwabAuthURL         = "https://client.schwab.com/api/auth/session"
	schwabGatewayURL      = "https://ausgateway.schwab.com/api"
	schwabAccountInfoPath = "/is.TradeOrderManagementWeb/v1/TradeOrderManagementWebPort/customer/accounts"
	schwabPositionsPath   = "/is.Holdings/V1/Holdings/HoldingV2"
	schwabOrdersPath      = "/is.TradeOrderManagementWeb/v1/TradeOrderManagementWebPort/orders"

	// Old trade ticket API, kept as the fallback order mechanism.
	schwabLegacyVerifyURL  = "https://client.schwab.com/api/ts/stamp/verifyOrder"
	schwabLegacyConfirmURL = "https://client.schwab.com/api/ts/stamp/confirmorder"

	// Fixed pause between account submissions to respect rate limits.
	schwabAccountPause = 1 * time.Second
)

type SchwabBroker struct {
	authURL    string
	gatewayURL string
	httpClient *http.Client
	store      session.Store
	// allowlist of account numbers buys are restricted to; empty means all.
	purchaseAccounts map[string]bool
}

type schwabSession struct {
	BearerToken string    `json:"bearer_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type schwabHandle struct {
	session  *schwabSession
	storeKey string
}

func InitSchwabBroker(store session.Store) *SchwabBroker {
	cfg := config.Broker(string(entity.BrokerSchwab))

	gatewayURL := strings.TrimSpace(cfg.BaseURL)
	if gatewayURL == "" {
		gatewayURL = schwabGatewayURL
	}

	allowlist := strings.TrimSpace(cfg.AccountNumbers)
	if raw := strings.TrimSpace(os.Getenv("SCHWAB_ACCOUNT_NUMBERS")); raw != "" {
		allowlist = raw
	}
	purchaseAccounts := make(map[string]bool)
	for _, number := range strings.Split(allowlist, ":") {
		if number = strings.TrimSpace(number); number != "" {
			purchaseAccounts[number] = true
		}
	}

	b := &SchwabBroker{
		authURL:          schwabAuthURL,
		gatewayURL:       strings.TrimRight(gatewayURL, "/"),
		httpClient:       &http.Client{Timeout: defaultHTTPTimeout},
		store:            store,
		purchaseAccounts: purchaseAccounts,
	}

	RegisterBroker(entity.BrokerSchwab, b)

	return b
}

func (b *SchwabBroker) Name() entity.BrokerName {
	return entity.BrokerSchwab
}

func (b *SchwabBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerSchwab)), 2)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Schwab not found, skipping...")
		return nil, nil
	}

	brokerage := entity.NewBrokerage("Schwab")
	for idx, cred := range creds {
		identity := fmt.Sprintf("Schwab %d", idx+1)
		storeKey := fmt.Sprintf("schwab%d", idx+1)

		notifier.Notify(ctx, fmt.Sprintf("Logging in to %s for %s...", identity, util.MaskString(cred.Username)))

		sess, err := b.restoreOrLogin(ctx, storeKey, cred)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("Error logging in to %s: %v", identity, err))
			continue
		}

		accountInfo, err := b.fetchAccountInfo(ctx, sess)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("%s: Error retrieving account info: %v", identity, err))
			continue
		}

		brokerage.SetSession(identity, &schwabHandle{session: sess, storeKey: storeKey})
		for _, account := range accountInfo {
			if err := brokerage.AddAccount(identity, account.AccountID); err != nil {
				logrus.Warnf("%s: %v", identity, err)
				continue
			}
			_ = brokerage.SetAccountTotal(identity, account.AccountID, account.AccountValue)
			logrus.Infof("%s: found account %s", identity, util.MaskString(account.AccountID))
		}

		notifier.Notify(ctx, fmt.Sprintf("Logged in to %s", identity))
	}

	return brokerage, nil
}

func (b *SchwabBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
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
				notifier.Notify(ctx, fmt.Sprintf("%s %s: Error getting holdings: %v", identity, util.MaskString(account), err))
				continue
			}

			for _, position := range positions {
				if position.Quantity.IsZero() {
					continue
				}

				// Schwab doesn't return a current price, derive it
				// from market value and quantity.
				price := position.MarketValue.Div(position.Quantity).Round(2)

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

func (b *SchwabBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
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

				if len(b.purchaseAccounts) > 0 && order.Action != entity.OrderActionSell && !b.purchaseAccounts[account] {
					logrus.Infof("skipping account %s, not in the purchase allowlist", maskedAccount)
					continue
				}

				if order.DryRun {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Running in DRY mode. Transaction would've been: %s %s of %s", identity, maskedAccount, order.Action, order.AmountLabel(), symbol))
					notifier.Record(ctx, newOutcome(entity.BrokerSchwab, identity, account, order, symbol, entity.OutcomeStatusDryRun))
					time.Sleep(schwabAccountPause)
					continue
				}

				strategies := []struct {
					name  string
					place func(context.Context, *schwabSession, string, string, *entity.OrderRequest) ([]string, error)
				}{
					{"v2", b.placeOrderV2},
					{"legacy", b.placeOrderLegacy},
				}

				var lastErr error
				succeeded := false
				for i, strategy := range strategies {
					messages, err := strategy.place(ctx, handle.session, account, symbol, order)
					if err == nil {
						succeeded = true
						notifier.Notify(ctx, fmt.Sprintf("%s account %s: The order verification was successful (%s)", identity, maskedAccount, strategy.name))
						if len(messages) > 0 {
							notifier.Notify(ctx, fmt.Sprintf("%s account %s: %s", identity, maskedAccount, strings.Join(messages, "; ")))
						}
						break
					}

					lastErr = err
					if i < len(strategies)-1 {
						notifier.Notify(ctx, fmt.Sprintf("%s account %s: The order verification was unsuccessful, retrying...", identity, maskedAccount))
					}
				}

				if succeeded {
					notifier.Record(ctx, newOutcome(entity.BrokerSchwab, identity, account, order, symbol, entity.OutcomeStatusSubmitted))
				} else {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Error submitting order: %v", identity, maskedAccount, lastErr))
					notifier.Record(ctx, failedOutcome(entity.BrokerSchwab, identity, account, order, symbol, lastErr))
				}

				time.Sleep(schwabAccountPause)
			}
		}
	}

	return nil
}

func (b *SchwabBroker) handle(brokerage *entity.Brokerage, identity string) (*schwabHandle, error) {
	raw, err := brokerage.Session(identity)
	if err != nil {
		return nil, err
	}
	return raw.(*schwabHandle), nil
}

func (b *SchwabBroker) restoreOrLogin(ctx context.Context, storeKey string, cred entity.CredentialSet) (*schwabSession, error) {
	if payload, ok, err := b.store.Load(ctx, storeKey); err == nil && ok {
		var sess schwabSession
		if err := json.Unmarshal(payload, &sess); err == nil && time.Now().Before(sess.ExpiresAt) {
			if _, err := b.fetchAccountInfo(ctx, &sess); err == nil {
				return &sess, nil
			}
		}
		_ = b.store.Delete(ctx, storeKey)
	}

	sess, err := b.login(ctx, cred)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(sess); err == nil {
		if err := b.store.Save(ctx, storeKey, payload); err != nil {
			logrus.Errorf("save schwab session: %v", err)
		}
	}

	return sess, nil
}

func (b *SchwabBroker) login(ctx context.Context, cred entity.CredentialSet) (*schwabSession, error) {
	body := map[string]string{
		"username": cred.Username,
		"password": cred.Password,
	}
	if cred.HasTOTP() {
		code, err := mintTOTP(cred.TOTPSecret)
		if err != nil {
			return nil, err
		}
		body["totp"] = code
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.authURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("schwab login failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("schwab login parse failed: %w", err)
	}
	if payload.Token == "" {
		return nil, fmt.Errorf("schwab login failed: no session token in response")
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 1800
	}

	return &schwabSession{
		BearerToken: payload.Token,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

type schwabAccount struct {
	AccountID    string          `json:"accountId"`
	AccountValue decimal.Decimal `json:"accountValue"`
}

func (b *SchwabBroker) fetchAccountInfo(ctx context.Context, sess *schwabSession) ([]schwabAccount, error) {
	body, err := b.get(ctx, sess, b.gatewayURL+schwabAccountInfoPath)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Accounts []schwabAccount `json:"accounts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("schwab account info parse failed: %w", err)
	}

	return payload.Accounts, nil
}

type schwabPosition struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	MarketValue decimal.Decimal `json:"marketValue"`
}

func (b *SchwabBroker) fetchPositions(ctx context.Context, sess *schwabSession, account string) ([]schwabPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.gatewayURL+schwabPositionsPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.BearerToken)
	req.Header.Set("Schwab-Client-Ids", account)

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
		return nil, fmt.Errorf("schwab positions request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		GroupedPositions []struct {
			Positions []schwabPosition `json:"positions"`
		} `json:"groupedPositions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("schwab positions parse failed: %w", err)
	}

	var positions []schwabPosition
	for _, group := range payload.GroupedPositions {
		positions = append(positions, group.Positions...)
	}

	return positions, nil
}

// placeOrderV2 runs the two-phase verify/confirm flow of the current
// trade-order-management API.
func (b *SchwabBroker) placeOrderV2(ctx context.Context, sess *schwabSession, account, symbol string, order *entity.OrderRequest) ([]string, error) {
	if order.AmountAll {
		return nil, fmt.Errorf("schwab adapter does not support %q quantities", "all")
	}

	orderBody := map[string]any{
		"AccountId": account,
		"OrderLegs": []map[string]any{{
			"Symbol":   symbol,
			"Quantity": order.Amount,
			"Action":   capitalize(string(order.Action)),
		}},
		"OrderType":              "Market",
		"Duration":               "Day",
		"OrderProcessingControl": "Verification",
	}

	verification, err := b.postOrder(ctx, sess, b.gatewayURL+schwabOrdersPath, orderBody)
	if err != nil {
		return nil, err
	}

	orderBody["OrderProcessingControl"] = "Confirmation"
	orderBody["OrderId"] = verification.OrderID
	confirmation, err := b.postOrder(ctx, sess, b.gatewayURL+schwabOrdersPath, orderBody)
	if err != nil {
		return verification.Messages, err
	}

	return append(verification.Messages, confirmation.Messages...), nil
}

// placeOrderLegacy drives the old stamp trade ticket endpoints.
func (b *SchwabBroker) placeOrderLegacy(ctx context.Context, sess *schwabSession, account, symbol string, order *entity.OrderRequest) ([]string, error) {
	if order.AmountAll {
		return nil, fmt.Errorf("schwab adapter does not support %q quantities", "all")
	}

	orderBody := map[string]any{
		"AccountId": account,
		"Symbol":    symbol,
		"Quantity":  order.Amount,
		"Action":    capitalize(string(order.Action)),
		"OrderType": "Market",
		"Duration":  "Day",
	}

	verification, err := b.postOrder(ctx, sess, schwabLegacyVerifyURL, orderBody)
	if err != nil {
		return nil, err
	}

	orderBody["OrderId"] = verification.OrderID
	confirmation, err := b.postOrder(ctx, sess, schwabLegacyConfirmURL, orderBody)
	if err != nil {
		return verification.Messages, err
	}

	return append(verification.Messages, confirmation.Messages...), nil
}

type schwabOrderResult struct {
	OrderID  int64
	Messages []string
}

func (b *SchwabBroker) postOrder(ctx context.Context, sess *schwabSession, endpoint string, orderBody map[string]any) (*schwabOrderResult, error) {
	raw, err := json.Marshal(orderBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.BearerToken)
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("schwab order rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payload struct {
		OrderID  int64 `json:"orderId"`
		Messages []struct {
			Message string `json:"message"`
		} `json:"orderMessages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("schwab order parse failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	result := &schwabOrderResult{OrderID: payload.OrderID}
	for _, message := range payload.Messages {
		result.Messages = append(result.Messages, message.Message)
	}

	return result, nil
}

func (b *SchwabBroker) get(ctx context.Context, sess *schwabSession, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.BearerToken)

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
		return nil, fmt.Errorf("schwab request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
