package entity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrSessionNotSet    = errors.New("identity has no session, log in first")
	ErrDuplicateAccount = errors.New("account already registered")
	ErrHandleNotFound   = errors.New("session handle not found")
)

// Position is a single normalized holding row.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Account holds per-account state registered under an identity.
type Account struct {
	Number    string
	Type      string
	Total     decimal.Decimal
	Positions []Position
}

type identity struct {
	session    any
	subHandles map[string]any
	accounts   map[string]*Account
	order      []string
}

// Brokerage is the in-memory aggregate of a single adapter's logged-in
// identities, their accounts, balances, and positions. Each adapter owns
// exactly one instance per run and no two adapters share one.
type Brokerage struct {
	name          string
	identities    map[string]*identity
	identityOrder []string
}

func NewBrokerage(name string) *Brokerage {
	return &Brokerage{
		name:       name,
		identities: make(map[string]*identity),
	}
}

func (b *Brokerage) Name() string {
	return b.name
}

// SetSession registers the logged-in session handle for an identity,
// creating the identity when it does not exist yet.
func (b *Brokerage) SetSession(identityName string, session any) {
	id, ok := b.identities[identityName]
	if !ok {
		id = &identity{
			subHandles: make(map[string]any),
			accounts:   make(map[string]*Account),
		}
		b.identities[identityName] = id
		b.identityOrder = append(b.identityOrder, identityName)
	}
	id.session = session
}

// SetSubHandle stores a named sub-handle under an identity, e.g. one
// vendor account id per numbered account.
func (b *Brokerage) SetSubHandle(identityName, key string, handle any) error {
	id, ok := b.identities[identityName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIdentityNotFound, identityName)
	}
	id.subHandles[key] = handle
	return nil
}

func (b *Brokerage) Session(identityName string) (any, error) {
	id, ok := b.identities[identityName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identityName)
	}
	if id.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotSet, identityName)
	}
	return id.session, nil
}

func (b *Brokerage) SubHandle(identityName, key string) (any, error) {
	id, ok := b.identities[identityName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identityName)
	}
	handle, ok := id.subHandles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrHandleNotFound, identityName, key)
	}
	return handle, nil
}

// AddAccount registers an account number under an identity. The identity
// must already have a session handle set and account numbers are unique
// within an identity.
func (b *Brokerage) AddAccount(identityName, accountNumber string) error {
	id, ok := b.identities[identityName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIdentityNotFound, identityName)
	}
	if id.session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotSet, identityName)
	}
	if _, exists := id.accounts[accountNumber]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateAccount, identityName, accountNumber)
	}

	id.accounts[accountNumber] = &Account{Number: accountNumber}
	id.order = append(id.order, accountNumber)
	return nil
}

func (b *Brokerage) SetAccountTotal(identityName, accountNumber string, total decimal.Decimal) error {
	account, err := b.account(identityName, accountNumber)
	if err != nil {
		return err
	}
	account.Total = total
	return nil
}

func (b *Brokerage) SetAccountType(identityName, accountNumber, accountType string) error {
	account, err := b.account(identityName, accountNumber)
	if err != nil {
		return err
	}
	account.Type = accountType
	return nil
}

// AddPosition records a holding for an account. Zero-quantity positions
// are never recorded.
func (b *Brokerage) AddPosition(identityName, accountNumber string, position Position) error {
	account, err := b.account(identityName, accountNumber)
	if err != nil {
		return err
	}
	if position.Quantity.IsZero() {
		return nil
	}
	account.Positions = append(account.Positions, position)
	return nil
}

// Identities returns identity names in registration order.
func (b *Brokerage) Identities() []string {
	out := make([]string, len(b.identityOrder))
	copy(out, b.identityOrder)
	return out
}

// AccountNumbers returns an identity's account numbers in registration order.
func (b *Brokerage) AccountNumbers(identityName string) ([]string, error) {
	id, ok := b.identities[identityName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identityName)
	}

	out := make([]string, len(id.order))
	copy(out, id.order)
	return out, nil
}

func (b *Brokerage) Account(identityName, accountNumber string) (Account, error) {
	account, err := b.account(identityName, accountNumber)
	if err != nil {
		return Account{}, err
	}
	return *account, nil
}

func (b *Brokerage) account(identityName, accountNumber string) (*Account, error) {
	id, ok := b.identities[identityName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identityName)
	}
	account, ok := id.accounts[accountNumber]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrAccountNotFound, identityName, accountNumber)
	}
	return account, nil
}
