package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

const (
	OutcomeStatusSubmitted = "SUBMITTED"
	OutcomeStatusDryRun    = "DRY_RUN"
	OutcomeStatusFailed    = "FAILED"
)

// OrderOutcome is one journaled order result: a live submission, a dry-run
// simulation, or a failure, scoped to a single broker/identity/account/symbol.
type OrderOutcome struct {
	ID           string          `db:"id" json:"id"`
	RequestID    string          `db:"request_id" json:"request_id"`
	Broker       string          `db:"broker" json:"broker"`
	Identity     string          `db:"identity" json:"identity"`
	Account      string          `db:"account" json:"account"`
	Symbol       string          `db:"symbol" json:"symbol"`
	Action       OrderAction     `db:"action" json:"action"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	Price        null.String     `db:"price" json:"price"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage null.String     `db:"error_message" json:"error_message"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

func (o OrderOutcome) TableName() string {
	return "order_outcomes"
}

// OrderOutcomeEvent wraps an outcome for stream publication.
type OrderOutcomeEvent struct {
	RetryCount int          `json:"retry"`
	Data       OrderOutcome `json:"data"`
}
