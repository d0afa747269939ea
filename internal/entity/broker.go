package entity

import (
	"context"
	"time"
)

type BrokerName string

const (
	BrokerAlly      BrokerName = "ally"
	BrokerFennel    BrokerName = "fennel"
	BrokerFidelity  BrokerName = "fidelity"
	BrokerRobinhood BrokerName = "robinhood"
	BrokerSchwab    BrokerName = "schwab"
	BrokerTradier   BrokerName = "tradier"
	BrokerWebull    BrokerName = "webull"
)

// Broker is the contract every brokerage adapter implements. Init parses
// the configured credential tuples, restores or performs login per identity,
// and enumerates accounts into a fresh Brokerage aggregate; it returns
// (nil, nil) when no credentials are configured. Holdings and Transaction
// iterate every registered account and isolate per-account failures.
type Broker interface {
	Name() BrokerName
	Init(ctx context.Context, notifier Notifier) (*Brokerage, error)
	Holdings(ctx context.Context, brokerage *Brokerage, notifier Notifier) error
	Transaction(ctx context.Context, brokerage *Brokerage, order *OrderRequest, notifier Notifier) error
}

// Notifier forwards user-visible status lines to the invoking surface
// (console, chat channel) and records structured order outcomes (journal,
// event stream). Implementations must not fail the surrounding operation.
type Notifier interface {
	Notify(ctx context.Context, message string)
	Record(ctx context.Context, outcome OrderOutcome)
}

// OTPProvider supplies an externally sourced one-time code when a login
// needs one and the process is unattended. Implementations block until a
// code arrives or the timeout elapses.
type OTPProvider interface {
	WaitForCode(ctx context.Context, identityName string, timeout time.Duration) (string, error)
}
