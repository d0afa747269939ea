package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/market"
	"github.com/braydio/Override-RSA/internal/service/broker"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownBroker = errors.New("unknown brokerage token")
	ErrMarketClosed  = errors.New("market is closed")
	ErrBadArguments  = errors.New("invalid order arguments")
)

// brokerAliases maps shorthand tokens onto registered broker names.
var brokerAliases = map[string]entity.BrokerName{
	"rh": entity.BrokerRobinhood,
	"wb": entity.BrokerWebull,
}

// Dispatcher fans a parsed request out to broker adapters one at a time.
// Requests run sequentially: one adapter, one account, one symbol at a
// time, with failures isolated at the narrowest loop scope.
type Dispatcher struct {
	clock    *market.Clock
	notifier entity.Notifier
}

func New(clock *market.Clock, notifier entity.Notifier) *Dispatcher {
	return &Dispatcher{clock: clock, notifier: notifier}
}

// ParseOrder turns `<action> <amount> <symbols> <brokers> [dry]` into an
// order request plus the resolved broker targets. The literal token dry
// in the broker position means every broker, dry run.
func ParseOrder(args []string) (*entity.OrderRequest, []entity.BrokerName, error) {
	if len(args) < 4 {
		return nil, nil, fmt.Errorf("%w: want <action> <amount> <symbols> <brokers> [dry]", ErrBadArguments)
	}

	dryRun := false
	brokersToken := args[3]
	if strings.EqualFold(brokersToken, "dry") {
		brokersToken = "all"
		dryRun = true
	}

	if len(args) > 4 {
		switch strings.ToLower(strings.TrimSpace(args[4])) {
		case "dry", "true":
			dryRun = true
		case "false", "live", "":
		default:
			return nil, nil, fmt.Errorf("%w: unrecognized flag %q, want dry, true, or false", ErrBadArguments, args[4])
		}
	}

	symbols := strings.Split(args[2], ",")
	order, err := entity.NewOrderRequest(args[0], args[1], symbols, dryRun)
	if err != nil {
		return nil, nil, err
	}

	targets, err := ResolveBrokers(brokersToken)
	if err != nil {
		return nil, nil, err
	}

	return order, targets, nil
}

// ResolveBrokers expands a comma-separated broker token list. The token
// all targets every registered broker in registration order.
func ResolveBrokers(raw string) ([]entity.BrokerName, error) {
	var names []entity.BrokerName
	seen := make(map[entity.BrokerName]bool)

	for _, token := range strings.Split(raw, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}

		if token == "all" {
			for _, name := range broker.RegisteredBrokers() {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
			continue
		}

		name := entity.BrokerName(token)
		if alias, ok := brokerAliases[token]; ok {
			name = alias
		}
		if _, ok := broker.GlobalBrokerRegistry[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBroker, token)
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no brokerage specified", ErrUnknownBroker)
	}

	return names, nil
}

// Order runs the full order flow: market-hours check, then dispatch to
// each target adapter. Adapter failures are reported and do not stop
// dispatch to the remaining targets.
func (d *Dispatcher) Order(ctx context.Context, order *entity.OrderRequest, targets []entity.BrokerName) error {
	if !d.clock.IsOpen() {
		d.notifier.Notify(ctx, d.clock.Status())
		d.notifier.Notify(ctx, "Order not dispatched.")
		return ErrMarketClosed
	}

	if order.DryRun {
		d.notifier.Notify(ctx, "Running in DRY mode. No transactions will be made.")
	}

	for _, name := range targets {
		adapter := broker.GlobalBrokerRegistry[name]

		brokerage, err := adapter.Init(ctx, d.notifier)
		if err != nil {
			d.report(ctx, name, fmt.Errorf("login failed: %w", err))
			continue
		}
		if brokerage == nil {
			continue
		}

		if err := adapter.Transaction(ctx, brokerage, order, d.notifier); err != nil {
			d.report(ctx, name, fmt.Errorf("transaction failed: %w", err))
		}
	}

	d.notifier.Notify(ctx, "All commands complete in all brokers")

	return nil
}

// Holdings reports positions for each target adapter.
func (d *Dispatcher) Holdings(ctx context.Context, targets []entity.BrokerName) error {
	for _, name := range targets {
		adapter := broker.GlobalBrokerRegistry[name]

		brokerage, err := adapter.Init(ctx, d.notifier)
		if err != nil {
			d.report(ctx, name, fmt.Errorf("login failed: %w", err))
			continue
		}
		if brokerage == nil {
			continue
		}

		if err := adapter.Holdings(ctx, brokerage, d.notifier); err != nil {
			d.report(ctx, name, fmt.Errorf("holdings failed: %w", err))
		}
	}

	return nil
}

func (d *Dispatcher) report(ctx context.Context, name entity.BrokerName, err error) {
	logrus.WithFields(logrus.Fields{
		"broker": name,
	}).Error(err)
	d.notifier.Notify(ctx, fmt.Sprintf("%s: %v", name, err))
}
