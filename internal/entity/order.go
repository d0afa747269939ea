package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type OrderAction string
type PriceMode string
type TimeInForce string

const (
	OrderActionBuy  OrderAction = "buy"
	OrderActionSell OrderAction = "sell"

	PriceModeMarket PriceMode = "market"

	TimeInForceDay TimeInForce = "day"
)

var (
	ErrInvalidAction = errors.New("action must be buy or sell")
	ErrInvalidAmount = errors.New("amount must be a positive integer or \"all\"")
	ErrNoSymbols     = errors.New("at least one ticker symbol is required")
)

// OrderRequest describes one requested trade. It is built once per user
// request and never mutated afterwards; adapters receive it read-only.
// RequestID groups every outcome the request produces across brokers and
// accounts.
type OrderRequest struct {
	RequestID string
	Action    OrderAction
	Amount    int64
	AmountAll bool
	Symbols   []string
	Price     PriceMode
	Duration  TimeInForce
	DryRun    bool
}

// NewOrderRequest validates and normalizes the raw action/amount/symbol
// fields of a request. rawAmount accepts a positive integer or the literal
// "all"; whether "all" is actually honored is up to each adapter.
func NewOrderRequest(rawAction, rawAmount string, symbols []string, dryRun bool) (*OrderRequest, error) {
	action := OrderAction(strings.ToLower(strings.TrimSpace(rawAction)))
	if action != OrderActionBuy && action != OrderActionSell {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidAction, rawAction)
	}

	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	normalized := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			return nil, ErrNoSymbols
		}
		normalized = append(normalized, symbol)
	}

	order := &OrderRequest{
		RequestID: uuid.NewString(),
		Action:    action,
		Symbols:   normalized,
		Price:     PriceModeMarket,
		Duration:  TimeInForceDay,
		DryRun:    dryRun,
	}

	rawAmount = strings.ToLower(strings.TrimSpace(rawAmount))
	if rawAmount == "all" {
		order.AmountAll = true
		return order, nil
	}

	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidAmount, rawAmount)
	}
	order.Amount = amount

	return order, nil
}

// AmountLabel is the human form of the requested quantity.
func (o *OrderRequest) AmountLabel() string {
	if o.AmountAll {
		return "all"
	}
	return strconv.FormatInt(o.Amount, 10)
}
