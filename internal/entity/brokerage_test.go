package entity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBrokerageAccountLifecycle(t *testing.T) {
	b := NewBrokerage("Testbroker")

	if err := b.AddAccount("Testbroker 1", "12345678"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("AddAccount before SetSession: error = %v, want ErrIdentityNotFound", err)
	}

	b.SetSession("Testbroker 1", "token")
	if err := b.AddAccount("Testbroker 1", "12345678"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := b.AddAccount("Testbroker 1", "12345678"); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("duplicate AddAccount: error = %v, want ErrDuplicateAccount", err)
	}

	if err := b.SetAccountTotal("Testbroker 1", "12345678", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("SetAccountTotal: %v", err)
	}
	if err := b.SetAccountTotal("Testbroker 1", "99999999", decimal.NewFromInt(1)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("SetAccountTotal unknown account: error = %v, want ErrAccountNotFound", err)
	}

	account, err := b.Account("Testbroker 1", "12345678")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !account.Total.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("total = %s, want 1000", account.Total)
	}
}

func TestBrokerageAddPositionSkipsZeroQuantity(t *testing.T) {
	b := NewBrokerage("Testbroker")
	b.SetSession("Testbroker 1", "token")
	if err := b.AddAccount("Testbroker 1", "12345678"); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	if err := b.AddPosition("Testbroker 1", "12345678", Position{Symbol: "AAPL", Quantity: decimal.Zero}); err != nil {
		t.Fatalf("AddPosition zero quantity: %v", err)
	}
	if err := b.AddPosition("Testbroker 1", "12345678", Position{Symbol: "MSFT", Quantity: decimal.NewFromInt(3), Price: decimal.NewFromFloat(10.50)}); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	account, err := b.Account("Testbroker 1", "12345678")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if len(account.Positions) != 1 {
		t.Fatalf("positions = %d, want 1 (zero quantity skipped)", len(account.Positions))
	}
	if account.Positions[0].Symbol != "MSFT" {
		t.Errorf("kept position = %s, want MSFT", account.Positions[0].Symbol)
	}
}

func TestBrokerageIdentitiesOrder(t *testing.T) {
	b := NewBrokerage("Testbroker")
	b.SetSession("Testbroker 1", "a")
	b.SetSession("Testbroker 2", "b")
	b.SetSession("Testbroker 3", "c")

	identities := b.Identities()
	if len(identities) != 3 {
		t.Fatalf("identities = %d, want 3", len(identities))
	}
	for i, want := range []string{"Testbroker 1", "Testbroker 2", "Testbroker 3"} {
		if identities[i] != want {
			t.Errorf("identities[%d] = %q, want %q", i, identities[i], want)
		}
	}
}

func TestBrokerageSubHandles(t *testing.T) {
	b := NewBrokerage("Testbroker")
	b.SetSession("Testbroker 1", "token")

	if _, err := b.SubHandle("Testbroker 1", "missing"); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("SubHandle missing: error = %v, want ErrHandleNotFound", err)
	}

	if err := b.SetSubHandle("Testbroker 1", "acct-url", "https://example.com/acct"); err != nil {
		t.Fatalf("SetSubHandle: %v", err)
	}
	handle, err := b.SubHandle("Testbroker 1", "acct-url")
	if err != nil {
		t.Fatalf("SubHandle: %v", err)
	}
	if handle.(string) != "https://example.com/acct" {
		t.Errorf("handle = %v", handle)
	}
}
