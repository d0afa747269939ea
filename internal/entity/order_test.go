package entity

import (
	"errors"
	"testing"
)

func TestNewOrderRequest(t *testing.T) {
	order, err := NewOrderRequest("buy", "5", []string{"aapl", " msft "}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Action != OrderActionBuy {
		t.Errorf("action = %q, want buy", order.Action)
	}
	if order.Amount != 5 || order.AmountAll {
		t.Errorf("amount = %d (all=%v), want 5", order.Amount, order.AmountAll)
	}
	if order.Symbols[0] != "AAPL" || order.Symbols[1] != "MSFT" {
		t.Errorf("symbols = %v, want normalized upper case", order.Symbols)
	}
	if order.Price != PriceModeMarket || order.Duration != TimeInForceDay {
		t.Errorf("defaults = %q/%q, want market/day", order.Price, order.Duration)
	}
	if order.RequestID == "" {
		t.Error("expected a request id")
	}

	other, err := NewOrderRequest("buy", "5", []string{"AAPL"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.RequestID == order.RequestID {
		t.Error("distinct requests share a request id")
	}
}

func TestNewOrderRequestAll(t *testing.T) {
	order, err := NewOrderRequest("sell", "ALL", []string{"AAPL"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.AmountAll {
		t.Error("expected AmountAll to be set")
	}
	if !order.DryRun {
		t.Error("expected DryRun to be set")
	}
	if order.AmountLabel() != "all" {
		t.Errorf("AmountLabel() = %q, want all", order.AmountLabel())
	}
}

func TestNewOrderRequestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		amount  string
		symbols []string
		wantErr error
	}{
		{"bad action", "hold", "1", []string{"AAPL"}, ErrInvalidAction},
		{"zero amount", "buy", "0", []string{"AAPL"}, ErrInvalidAmount},
		{"negative amount", "buy", "-2", []string{"AAPL"}, ErrInvalidAmount},
		{"non numeric amount", "buy", "five", []string{"AAPL"}, ErrInvalidAmount},
		{"no symbols", "buy", "1", nil, ErrNoSymbols},
		{"blank symbol", "buy", "1", []string{" "}, ErrNoSymbols},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrderRequest(tt.action, tt.amount, tt.symbols, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
