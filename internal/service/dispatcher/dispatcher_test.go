package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/market"
	"github.com/braydio/Override-RSA/internal/service/broker"
)

type fakeBroker struct {
	name         entity.BrokerName
	initErr      error
	noCreds      bool
	transactions []*entity.OrderRequest
	holdings     int
}

func (f *fakeBroker) Name() entity.BrokerName { return f.name }

func (f *fakeBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.noCreds {
		return nil, nil
	}
	b := entity.NewBrokerage(string(f.name))
	b.SetSession(fmt.Sprintf("%s 1", f.name), "session")
	return b, nil
}

func (f *fakeBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
	f.holdings++
	return nil
}

func (f *fakeBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
	f.transactions = append(f.transactions, order)
	return nil
}

type fakeNotifier struct {
	messages []string
	outcomes []entity.OrderOutcome
}

func (f *fakeNotifier) Notify(_ context.Context, message string) {
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) Record(_ context.Context, outcome entity.OrderOutcome) {
	f.outcomes = append(f.outcomes, outcome)
}

func registerFakes(t *testing.T, names ...entity.BrokerName) map[entity.BrokerName]*fakeBroker {
	t.Helper()

	broker.ResetRegistry()
	t.Cleanup(broker.ResetRegistry)

	fakes := make(map[entity.BrokerName]*fakeBroker)
	for _, name := range names {
		fake := &fakeBroker{name: name}
		broker.RegisterBroker(name, fake)
		fakes[name] = fake
	}
	return fakes
}

func openClock() *market.Clock {
	clock := market.NewClock()
	clock.Now = func() time.Time {
		// Wednesday 2026-08-26 12:00 ET.
		return time.Date(2026, 8, 26, 16, 0, 0, 0, time.UTC)
	}
	return clock
}

func closedClock() *market.Clock {
	clock := market.NewClock()
	clock.Now = func() time.Time {
		// Saturday.
		return time.Date(2026, 8, 29, 16, 0, 0, 0, time.UTC)
	}
	return clock
}

func TestParseOrder(t *testing.T) {
	registerFakes(t, entity.BrokerSchwab, entity.BrokerRobinhood)

	order, targets, err := ParseOrder([]string{"buy", "5", "AAPL", "schwab", "dry"})
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}
	if order.Action != entity.OrderActionBuy || order.Amount != 5 {
		t.Errorf("order = %+v", order)
	}
	if !order.DryRun {
		t.Error("trailing dry token should set DryRun")
	}
	if len(targets) != 1 || targets[0] != entity.BrokerSchwab {
		t.Errorf("targets = %v, want [schwab]", targets)
	}
}

func TestParseOrderDryBrokerToken(t *testing.T) {
	registerFakes(t, entity.BrokerSchwab, entity.BrokerRobinhood)

	order, targets, err := ParseOrder([]string{"sell", "1", "AAPL", "dry"})
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}
	if !order.DryRun {
		t.Error("dry in the broker position should set DryRun")
	}
	if len(targets) != 2 {
		t.Errorf("targets = %v, want every registered broker", targets)
	}
}

func TestParseOrderAliases(t *testing.T) {
	registerFakes(t, entity.BrokerRobinhood, entity.BrokerWebull)

	_, targets, err := ParseOrder([]string{"buy", "1", "AAPL", "rh,wb"})
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}
	if targets[0] != entity.BrokerRobinhood || targets[1] != entity.BrokerWebull {
		t.Errorf("targets = %v, want aliases resolved", targets)
	}
}

func TestParseOrderUnknownBroker(t *testing.T) {
	registerFakes(t, entity.BrokerSchwab)

	_, _, err := ParseOrder([]string{"buy", "1", "AAPL", "etrade"})
	if !errors.Is(err, ErrUnknownBroker) {
		t.Errorf("error = %v, want ErrUnknownBroker", err)
	}
}

func TestParseOrderBadAmount(t *testing.T) {
	registerFakes(t, entity.BrokerSchwab)

	_, _, err := ParseOrder([]string{"buy", "lots", "AAPL", "schwab"})
	if !errors.Is(err, entity.ErrInvalidAmount) {
		t.Errorf("error = %v, want ErrInvalidAmount", err)
	}
}

func TestOrderMarketClosed(t *testing.T) {
	fakes := registerFakes(t, entity.BrokerSchwab)
	notifier := &fakeNotifier{}
	d := New(closedClock(), notifier)

	order, targets, err := ParseOrder([]string{"buy", "1", "AAPL", "schwab"})
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}

	err = d.Order(context.Background(), order, targets)
	if !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("error = %v, want ErrMarketClosed", err)
	}
	if len(fakes[entity.BrokerSchwab].transactions) != 0 {
		t.Error("closed market must not dispatch")
	}
	if len(notifier.messages) == 0 {
		t.Error("closed market should be reported")
	}
}

func TestOrderAllContinuesPastFailures(t *testing.T) {
	fakes := registerFakes(t, entity.BrokerAlly, entity.BrokerSchwab, entity.BrokerTradier)
	fakes[entity.BrokerAlly].initErr = errors.New("login blew up")
	fakes[entity.BrokerSchwab].noCreds = true

	notifier := &fakeNotifier{}
	d := New(openClock(), notifier)

	order, targets, err := ParseOrder([]string{"buy", "2", "AAPL", "all"})
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}

	if err := d.Order(context.Background(), order, targets); err != nil {
		t.Fatalf("Order: %v", err)
	}

	if len(fakes[entity.BrokerTradier].transactions) != 1 {
		t.Error("a failing sibling adapter must not stop dispatch")
	}
	if len(fakes[entity.BrokerSchwab].transactions) != 0 {
		t.Error("adapter without credentials must be skipped")
	}
}

func TestHoldings(t *testing.T) {
	fakes := registerFakes(t, entity.BrokerTradier, entity.BrokerRobinhood)
	notifier := &fakeNotifier{}
	d := New(openClock(), notifier)

	targets, err := ResolveBrokers("all")
	if err != nil {
		t.Fatalf("ResolveBrokers: %v", err)
	}

	if err := d.Holdings(context.Background(), targets); err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	for name, fake := range fakes {
		if fake.holdings != 1 {
			t.Errorf("%s holdings calls = %d, want 1", name, fake.holdings)
		}
	}
}

func TestResolveBrokersDeduplicates(t *testing.T) {
	registerFakes(t, entity.BrokerSchwab)

	targets, err := ResolveBrokers("schwab,schwab,all")
	if err != nil {
		t.Fatalf("ResolveBrokers: %v", err)
	}
	if len(targets) != 1 {
		t.Errorf("targets = %v, want deduplicated", targets)
	}
}
