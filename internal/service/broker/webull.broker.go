package broker

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Webull's app API spreads across several hosts and wants an MD5 of the
// password salted with a fixed app string.
const (
	webullUserAPIURL   = "https://userapi.webull.com/api"
	webullTradeAPIURL  = "https://ustrade.webullfinance.com/api"
	webullQuotesURL    = "https://quotes-gw.webullfintech.com/api"
	webullPasswordSalt = "wl_app-a&b@!423^"
)

type WebullBroker struct {
	userAPIURL  string
	tradeAPIURL string
	quotesURL   string
	httpClient  *http.Client
}

type webullHandle struct {
	accessToken string
	tradeToken  string
	deviceID    string
	// secAccountId values keyed by the broker account number.
	secAccounts map[string]string
}

func InitWebullBroker() *WebullBroker {
	cfg := config.Broker(string(entity.BrokerWebull))

	tradeAPIURL := strings.TrimSpace(cfg.BaseURL)
	if tradeAPIURL == "" {
		tradeAPIURL = webullTradeAPIURL
	}

	b := &WebullBroker{
		userAPIURL:  webullUserAPIURL,
		tradeAPIURL: strings.TrimRight(tradeAPIURL, "/"),
		quotesURL:   webullQuotesURL,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
	}

	RegisterBroker(entity.BrokerWebull, b)

	return b
}

func (b *WebullBroker) Name() entity.BrokerName {
	return entity.BrokerWebull
}

func (b *WebullBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	// username, password, device id, trading pin
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerWebull)), 4)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Webull not found, skipping...")
		return nil, nil
	}

	brokerage := entity.NewBrokerage("Webull")
	for idx, cred := range creds {
		identity := fmt.Sprintf("Webull %d", idx+1)
		deviceID := cred.TOTPSecret
		tradingPIN := cred.Extra[0]

		if deviceID == "" {
			// A stable random device id keeps Webull from flagging
			// the session, but a fresh one still works.
			deviceID = strings.ReplaceAll(uuid.NewString(), "-", "")
		}

		notifier.Notify(ctx, fmt.Sprintf("Logging in to %s for %s...", identity, util.MaskString(cred.Username)))

		handle, err := b.login(ctx, cred.Username, cred.Password, deviceID, tradingPIN)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("Error logging in to %s: %v", identity, err))
			continue
		}

		accounts, err := b.fetchAccounts(ctx, handle)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("%s: Error retrieving accounts: %v", identity, err))
			continue
		}

		brokerage.SetSession(identity, handle)
		for _, account := range accounts {
			if err := brokerage.AddAccount(identity, account.BrokerAccountID); err != nil {
				logrus.Warnf("%s: %v", identity, err)
				continue
			}
			handle.secAccounts[account.BrokerAccountID] = account.SecAccountID
			_ = brokerage.SetAccountTotal(identity, account.BrokerAccountID, account.NetLiquidation)
			logrus.Infof("%s: found account %s", identity, util.MaskString(account.BrokerAccountID))
		}

		notifier.Notify(ctx, fmt.Sprintf("Logged in to %s", identity))
	}

	return brokerage, nil
}

func (b *WebullBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
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
			positions, err := b.fetchPositions(ctx, handle, handle.secAccounts[account])
			if err != nil {
				notifier.Notify(ctx, fmt.Sprintf("%s %s: Error getting holdings: %v", identity, util.MaskString(account), err))
				continue
			}

			for _, position := range positions {
				_ = brokerage.AddPosition(identity, account, entity.Position{
					Symbol:   position.Ticker.Symbol,
					Quantity: position.Position,
					Price:    position.LastPrice,
				})
			}
		}
	}

	reportHoldings(ctx, brokerage, notifier)

	return nil
}

func (b *WebullBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
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
					notifier.Record(ctx, newOutcome(entity.BrokerWebull, identity, account, order, symbol, entity.OutcomeStatusDryRun))
					continue
				}

				orderID, err := b.placeOrder(ctx, handle, handle.secAccounts[account], symbol, order)
				if err != nil {
					notifier.Notify(ctx, fmt.Sprintf("%s %s: Error submitting order: %v", identity, maskedAccount, err))
					notifier.Record(ctx, failedOutcome(entity.BrokerWebull, identity, account, order, symbol, err))
					continue
				}

				notifier.Notify(ctx, fmt.Sprintf("%s account %s: %s %s of %s (order %d)", identity, maskedAccount, order.Action, order.AmountLabel(), symbol, orderID))
				notifier.Record(ctx, newOutcome(entity.BrokerWebull, identity, account, order, symbol, entity.OutcomeStatusSubmitted))
			}
		}
	}

	return nil
}

func (b *WebullBroker) handle(brokerage *entity.Brokerage, identity string) (*webullHandle, error) {
	raw, err := brokerage.Session(identity)
	if err != nil {
		return nil, err
	}
	return raw.(*webullHandle), nil
}

func webullHashPassword(password string) string {
	sum := md5.Sum([]byte(webullPasswordSalt + password))
	return hex.EncodeToString(sum[:])
}

func (b *WebullBroker) login(ctx context.Context, username, password, deviceID, tradingPIN string) (*webullHandle, error) {
	accountType := 2 // email
	if !strings.Contains(username, "@") {
		accountType = 1 // phone
	}

	payload := map[string]any{
		"account":     username,
		"accountType": accountType,
		"pwd":         webullHashPassword(password),
		"deviceId":    deviceID,
		"deviceName":  "desktop",
		"grade":       1,
		"regionId":    1,
	}

	var out struct {
		AccessToken string `json:"accessToken"`
		UUID        string `json:"uuid"`
		Code        string `json:"code"`
		Msg         string `json:"msg"`
	}
	if err := b.postJSON(ctx, nil, b.userAPIURL+"/passport/login/v5/account", payload, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		if out.Msg != "" {
			return nil, fmt.Errorf("webull login failed: %s", out.Msg)
		}
		return nil, fmt.Errorf("webull login failed: no access token in response")
	}

	handle := &webullHandle{
		accessToken: out.AccessToken,
		deviceID:    deviceID,
		secAccounts: make(map[string]string),
	}

	if err := b.unlockTrading(ctx, handle, tradingPIN); err != nil {
		return nil, err
	}

	return handle, nil
}

// unlockTrading exchanges the trading PIN for the short-lived trade token
// order placement requires.
func (b *WebullBroker) unlockTrading(ctx context.Context, handle *webullHandle, tradingPIN string) error {
	payload := map[string]any{"pwd": webullHashPassword(tradingPIN)}

	var out struct {
		TradeToken string `json:"tradeToken"`
		Msg        string `json:"msg"`
	}
	if err := b.postJSON(ctx, handle, b.tradeAPIURL+"/trading/v1/global/trade/login", payload, &out); err != nil {
		return err
	}
	if out.TradeToken == "" {
		if out.Msg != "" {
			return fmt.Errorf("webull trade unlock failed: %s", out.Msg)
		}
		return fmt.Errorf("webull trade unlock failed: no trade token in response")
	}

	handle.tradeToken = out.TradeToken

	return nil
}

type webullAccount struct {
	SecAccountID    string          `json:"secAccountId"`
	BrokerAccountID string          `json:"brokerAccountId"`
	NetLiquidation  decimal.Decimal `json:"netLiquidation"`
}

func (b *WebullBroker) fetchAccounts(ctx context.Context, handle *webullHandle) ([]webullAccount, error) {
	body, err := b.get(ctx, handle, b.tradeAPIURL+"/trade/account/getSecAccountList/v5")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []webullAccount `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("webull accounts parse failed: %w", err)
	}

	return payload.Data, nil
}

type webullPosition struct {
	Ticker struct {
		Symbol string `json:"symbol"`
	} `json:"ticker"`
	Position  decimal.Decimal `json:"position"`
	LastPrice decimal.Decimal `json:"lastPrice"`
}

func (b *WebullBroker) fetchPositions(ctx context.Context, handle *webullHandle, secAccountID string) ([]webullPosition, error) {
	body, err := b.get(ctx, handle, fmt.Sprintf("%s/trading/v1/webull/asset/summary?secAccountId=%s", b.tradeAPIURL, url.QueryEscape(secAccountID)))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Positions []webullPosition `json:"positions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("webull positions parse failed: %w", err)
	}

	return payload.Positions, nil
}

// fetchTickerID resolves a symbol to Webull's internal ticker id, which
// order placement keys on instead of the symbol.
func (b *WebullBroker) fetchTickerID(ctx context.Context, handle *webullHandle, symbol string) (int64, error) {
	body, err := b.get(ctx, handle, fmt.Sprintf("%s/search/pc/tickers?keyword=%s&regionId=6", b.quotesURL, url.QueryEscape(symbol)))
	if err != nil {
		return 0, err
	}

	var payload struct {
		Data []struct {
			TickerID int64  `json:"tickerId"`
			Symbol   string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("webull ticker search parse failed: %w", err)
	}

	for _, result := range payload.Data {
		if strings.EqualFold(result.Symbol, symbol) {
			return result.TickerID, nil
		}
	}

	return 0, fmt.Errorf("no ticker found for %s", symbol)
}

func (b *WebullBroker) placeOrder(ctx context.Context, handle *webullHandle, secAccountID, symbol string, order *entity.OrderRequest) (int64, error) {
	if order.AmountAll {
		return 0, fmt.Errorf("webull adapter does not support %q quantities", "all")
	}

	tickerID, err := b.fetchTickerID(ctx, handle, symbol)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"tickerId":                  tickerID,
		"action":                    strings.ToUpper(string(order.Action)),
		"orderType":                 "MKT",
		"timeInForce":               "DAY",
		"quantity":                  order.Amount,
		"outsideRegularTradingHour": false,
		"serialId":                  uuid.NewString(),
		"secAccountId":              secAccountID,
	}

	var out struct {
		OrderID int64  `json:"orderId"`
		Msg     string `json:"msg"`
	}
	if err := b.postJSON(ctx, handle, b.tradeAPIURL+"/trading/v1/webull/order/stockOrderPlace", payload, &out); err != nil {
		return 0, err
	}
	if out.OrderID == 0 {
		if out.Msg != "" {
			return 0, fmt.Errorf("webull order rejected: %s", out.Msg)
		}
		return 0, fmt.Errorf("webull order rejected: no order id in response")
	}

	return out.OrderID, nil
}

func (b *WebullBroker) postJSON(ctx context.Context, handle *webullHandle, endpoint string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	b.setAuthHeaders(req, handle)

	return b.do(req, out)
}

func (b *WebullBroker) get(ctx context.Context, handle *webullHandle, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	b.setAuthHeaders(req, handle)

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
		return nil, fmt.Errorf("webull request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (b *WebullBroker) setAuthHeaders(req *http.Request, handle *webullHandle) {
	if handle == nil {
		return
	}
	req.Header.Set("did", handle.deviceID)
	if handle.accessToken != "" {
		req.Header.Set("access_token", handle.accessToken)
	}
	if handle.tradeToken != "" {
		req.Header.Set("t_token", handle.tradeToken)
	}
}

func (b *WebullBroker) do(req *http.Request, out any) error {
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
		return fmt.Errorf("webull request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("webull response parse failed: %w", err)
		}
	}

	return nil
}
