package broker

import (
	"errors"
	"testing"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/shopspring/decimal"
)

var errExample = errors.New("order rejected")

func TestRepriceLimit(t *testing.T) {
	ask := decimal.NewFromFloat(10.20)
	bid := decimal.NewFromFloat(10.10)

	buy := repriceLimit(entity.OrderActionBuy, ask, bid)
	if !buy.Equal(decimal.NewFromFloat(10.21)) {
		t.Errorf("buy reprice = %s, want 10.21", buy)
	}

	sell := repriceLimit(entity.OrderActionSell, ask, bid)
	if !sell.Equal(decimal.NewFromFloat(10.09)) {
		t.Errorf("sell reprice = %s, want 10.09", sell)
	}
}

func TestRepriceLimitCrossedQuote(t *testing.T) {
	// Bid above ask: buys still take the higher side, sells the lower.
	ask := decimal.NewFromFloat(9.90)
	bid := decimal.NewFromFloat(10.00)

	buy := repriceLimit(entity.OrderActionBuy, ask, bid)
	if !buy.Equal(decimal.NewFromFloat(10.01)) {
		t.Errorf("buy reprice = %s, want 10.01", buy)
	}

	sell := repriceLimit(entity.OrderActionSell, ask, bid)
	if !sell.Equal(decimal.NewFromFloat(9.89)) {
		t.Errorf("sell reprice = %s, want 9.89", sell)
	}
}

func TestMintTOTP(t *testing.T) {
	code, err := mintTOTP("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("mintTOTP: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("code = %q, want 6 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Errorf("code %q contains non-digit %q", code, r)
		}
	}
}

func TestSharesWord(t *testing.T) {
	one := &entity.OrderRequest{Amount: 1}
	if got := sharesWord(one); got != "share" {
		t.Errorf("sharesWord(1) = %q", got)
	}

	many := &entity.OrderRequest{Amount: 3}
	if got := sharesWord(many); got != "shares" {
		t.Errorf("sharesWord(3) = %q", got)
	}

	all := &entity.OrderRequest{AmountAll: true, Amount: 1}
	if got := sharesWord(all); got != "shares" {
		t.Errorf("sharesWord(all) = %q", got)
	}
}

func TestRegistryOrder(t *testing.T) {
	ResetRegistry()
	t.Cleanup(ResetRegistry)

	InitTradierBroker()
	InitFidelityBroker()

	names := RegisteredBrokers()
	if len(names) != 2 || names[0] != entity.BrokerTradier || names[1] != entity.BrokerFidelity {
		t.Errorf("RegisteredBrokers() = %v, want registration order", names)
	}
}

func TestFailedOutcome(t *testing.T) {
	order, err := entity.NewOrderRequest("buy", "2", []string{"AAPL"}, false)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}
	outcome := failedOutcome(entity.BrokerTradier, "Tradier 1", "12345678", order, "AAPL", errExample)

	if outcome.Status != entity.OutcomeStatusFailed {
		t.Errorf("status = %q, want FAILED", outcome.Status)
	}
	if !outcome.ErrorMessage.Valid || outcome.ErrorMessage.String != errExample.Error() {
		t.Errorf("error message = %+v", outcome.ErrorMessage)
	}
	if outcome.RequestID != order.RequestID {
		t.Errorf("request id = %q, want the order's %q", outcome.RequestID, order.RequestID)
	}
}

func TestOutcomesShareRequestID(t *testing.T) {
	order, err := entity.NewOrderRequest("buy", "1", []string{"AAPL", "MSFT"}, false)
	if err != nil {
		t.Fatalf("NewOrderRequest: %v", err)
	}

	first := newOutcome(entity.BrokerTradier, "Tradier 1", "11111111", order, "AAPL", entity.OutcomeStatusSubmitted)
	second := newOutcome(entity.BrokerSchwab, "Schwab 1", "22222222", order, "MSFT", entity.OutcomeStatusSubmitted)

	if first.RequestID == "" {
		t.Fatal("expected a request id")
	}
	if first.RequestID != second.RequestID {
		t.Errorf("outcomes of one request have ids %q and %q, want shared", first.RequestID, second.RequestID)
	}
}
