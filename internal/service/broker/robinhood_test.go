package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/braydio/Override-RSA/internal/entity"
)

type capturedOrders struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (c *capturedOrders) add(payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
}

func (c *capturedOrders) all() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.payloads...)
}

// newRobinhoodServer fakes the account endpoints for one account holding
// 5 shares of AAPL.
func newRobinhoodServer(t *testing.T, orders *capturedOrders) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/positions/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"instrument":"` + server.URL + `/instruments/abc/","quantity":"5"}]}`))
	})
	mux.HandleFunc("/instruments/abc/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"AAPL"}`))
	})
	mux.HandleFunc("/quotes/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ask_price":"10.20","bid_price":"10.10","last_trade_price":"10.15","instrument":"` + server.URL + `/instruments/abc/"}`))
	})
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		orders.add(payload)
		w.Write([]byte(`{"id":"order-1"}`))
	})

	return server
}

func newRobinhoodBrokerage(t *testing.T, serverURL string) *entity.Brokerage {
	t.Helper()

	brokerage := entity.NewBrokerage("Robinhood")
	brokerage.SetSession("Robinhood 1", &robinhoodHandle{
		session:  &robinhoodSession{AccessToken: "test-token"},
		storeKey: "robinhood1",
	})
	if err := brokerage.AddAccount("Robinhood 1", "RH123"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := brokerage.SetSubHandle("Robinhood 1", "RH123", serverURL+"/accounts/RH123/"); err != nil {
		t.Fatalf("SetSubHandle: %v", err)
	}
	return brokerage
}

func TestRobinhoodTransactionSellAllUsesHeldQuantity(t *testing.T) {
	orders := &capturedOrders{}
	server := newRobinhoodServer(t, orders)

	b := &RobinhoodBroker{baseURL: server.URL, httpClient: server.Client()}
	brokerage := newRobinhoodBrokerage(t, server.URL)

	order, err := entity.NewOrderRequest("sell", "all", []string{"AAPL"}, false)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}

	notifier := &recordingNotifier{}
	if err := b.Transaction(context.Background(), brokerage, order, notifier); err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	payloads := orders.all()
	if len(payloads) != 1 {
		t.Fatalf("order payloads = %d, want 1", len(payloads))
	}
	if got := payloads[0]["quantity"]; got != "5" {
		t.Errorf("order quantity = %v, want the held position quantity 5", got)
	}
	if got := payloads[0]["side"]; got != "sell" {
		t.Errorf("order side = %v, want sell", got)
	}

	if len(notifier.outcomes) != 1 || notifier.outcomes[0].Status != entity.OutcomeStatusSubmitted {
		t.Fatalf("outcomes = %+v, want one SUBMITTED", notifier.outcomes)
	}
}

func TestRobinhoodTransactionBuyAllRejected(t *testing.T) {
	orders := &capturedOrders{}
	server := newRobinhoodServer(t, orders)

	b := &RobinhoodBroker{baseURL: server.URL, httpClient: server.Client()}
	brokerage := newRobinhoodBrokerage(t, server.URL)

	order, err := entity.NewOrderRequest("buy", "all", []string{"AAPL"}, false)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}

	notifier := &recordingNotifier{}
	if err := b.Transaction(context.Background(), brokerage, order, notifier); err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	if len(orders.all()) != 0 {
		t.Fatal("buy-all reached the order endpoint")
	}
	if len(notifier.outcomes) != 1 || notifier.outcomes[0].Status != entity.OutcomeStatusFailed {
		t.Fatalf("outcomes = %+v, want one FAILED", notifier.outcomes)
	}

	report := strings.Join(notifier.messages, "\n")
	if !strings.Contains(report, "sell-only") {
		t.Errorf("rejection line missing:\n%s", report)
	}
}

func TestRobinhoodTransactionSellAllWithoutPosition(t *testing.T) {
	orders := &capturedOrders{}
	server := newRobinhoodServer(t, orders)

	b := &RobinhoodBroker{baseURL: server.URL, httpClient: server.Client()}
	brokerage := newRobinhoodBrokerage(t, server.URL)

	// The faked account holds AAPL only.
	order, err := entity.NewOrderRequest("sell", "all", []string{"MSFT"}, false)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}

	notifier := &recordingNotifier{}
	if err := b.Transaction(context.Background(), brokerage, order, notifier); err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	if len(orders.all()) != 0 {
		t.Fatal("sell-all without a position reached the order endpoint")
	}
	if len(notifier.outcomes) != 1 || notifier.outcomes[0].Status != entity.OutcomeStatusFailed {
		t.Fatalf("outcomes = %+v, want one FAILED", notifier.outcomes)
	}
}
