package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/shopspring/decimal"
)

type recordingNotifier struct {
	messages []string
	outcomes []entity.OrderOutcome
}

func (r *recordingNotifier) Notify(_ context.Context, message string) {
	r.messages = append(r.messages, message)
}

func (r *recordingNotifier) Record(_ context.Context, outcome entity.OrderOutcome) {
	r.outcomes = append(r.outcomes, outcome)
}

func newTradierServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/user/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"profile":{"account":{"account_number":"VA12345678","type":"margin"}}}`))
	})
	mux.HandleFunc("/v1/accounts/VA12345678/balances", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balances":{"total_equity":1532.45}}`))
	})
	mux.HandleFunc("/v1/accounts/VA12345678/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"positions":{"position":[{"symbol":"AAPL","quantity":3},{"symbol":"F","quantity":10}]}}`))
	})
	mux.HandleFunc("/v1/markets/quotes", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quotes":{"quote":{"last":12.34}}}`))
	})
	mux.HandleFunc("/v1/accounts/VA12345678/orders", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("class") != "equity" || r.PostForm.Get("side") != "buy" || r.PostForm.Get("quantity") != "2" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":{"error":"bad order form"}}`))
			return
		}
		w.Write([]byte(`{"order":{"id":8675309,"status":"ok"}}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTradierBroker(t *testing.T, serverURL string) *TradierBroker {
	t.Helper()

	t.Setenv("TRADIER", "")
	config.Env = &config.EnvConfig{
		Brokers: map[string]config.BrokerConfig{
			"tradier": {Credentials: "test-token", BaseURL: serverURL},
		},
	}
	t.Cleanup(func() { config.Env = nil })

	ResetRegistry()
	t.Cleanup(ResetRegistry)

	return InitTradierBroker()
}

func TestTradierInit(t *testing.T) {
	server := newTradierServer(t)
	b := newTradierBroker(t, server.URL)

	notifier := &recordingNotifier{}
	brokerage, err := b.Init(context.Background(), notifier)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if brokerage == nil {
		t.Fatal("Init returned nil brokerage with credentials configured")
	}

	accounts, err := brokerage.AccountNumbers("Tradier 1")
	if err != nil {
		t.Fatalf("AccountNumbers: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != "VA12345678" {
		t.Fatalf("accounts = %v, want [VA12345678]", accounts)
	}

	account, err := brokerage.Account("Tradier 1", "VA12345678")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if account.Type != "margin" {
		t.Errorf("account type = %q, want margin", account.Type)
	}
	if !account.Total.Equal(decimal.NewFromFloat(1532.45)) {
		t.Errorf("account total = %s, want 1532.45", account.Total)
	}
}

func TestTradierInitNoCredentials(t *testing.T) {
	b := newTradierBroker(t, "http://127.0.0.1:0")
	config.Env.Brokers["tradier"] = config.BrokerConfig{BaseURL: "http://127.0.0.1:0"}

	brokerage, err := b.Init(context.Background(), &recordingNotifier{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if brokerage != nil {
		t.Error("Init without credentials should signal absence with nil")
	}
}

func TestTradierHoldings(t *testing.T) {
	server := newTradierServer(t)
	b := newTradierBroker(t, server.URL)

	notifier := &recordingNotifier{}
	brokerage, err := b.Init(context.Background(), notifier)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := b.Holdings(context.Background(), brokerage, notifier); err != nil {
		t.Fatalf("Holdings: %v", err)
	}

	account, err := brokerage.Account("Tradier 1", "VA12345678")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if len(account.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(account.Positions))
	}
	if account.Positions[0].Symbol != "AAPL" || !account.Positions[0].Price.Equal(decimal.NewFromFloat(12.34)) {
		t.Errorf("first position = %+v", account.Positions[0])
	}

	report := strings.Join(notifier.messages, "\n")
	if !strings.Contains(report, "Tradier Holdings") {
		t.Errorf("holdings report missing header:\n%s", report)
	}
}

func TestTradierTransaction(t *testing.T) {
	server := newTradierServer(t)
	b := newTradierBroker(t, server.URL)

	notifier := &recordingNotifier{}
	brokerage, err := b.Init(context.Background(), notifier)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	order, err := entity.NewOrderRequest("buy", "2", []string{"AAPL"}, false)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}

	if err := b.Transaction(context.Background(), brokerage, order, notifier); err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	if len(notifier.outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(notifier.outcomes))
	}
	if notifier.outcomes[0].Status != entity.OutcomeStatusSubmitted {
		t.Errorf("status = %q, want SUBMITTED", notifier.outcomes[0].Status)
	}

	report := strings.Join(notifier.messages, "\n")
	if !strings.Contains(report, "8675309") {
		t.Errorf("success line missing order id:\n%s", report)
	}
}

func TestTradierTransactionDryRun(t *testing.T) {
	server := newTradierServer(t)
	b := newTradierBroker(t, server.URL)

	notifier := &recordingNotifier{}
	brokerage, err := b.Init(context.Background(), notifier)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	order, err := entity.NewOrderRequest("sell", "1", []string{"AAPL"}, true)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}

	if err := b.Transaction(context.Background(), brokerage, order, notifier); err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	if len(notifier.outcomes) != 1 || notifier.outcomes[0].Status != entity.OutcomeStatusDryRun {
		t.Fatalf("outcomes = %+v, want one DRY_RUN", notifier.outcomes)
	}

	report := strings.Join(notifier.messages, "\n")
	if !strings.Contains(report, "DRY mode") {
		t.Errorf("dry-run line missing:\n%s", report)
	}
}
