package model

import (
	"github.com/shopspring/decimal"
)

// AccountType names the accounting model an account follows, per
// spec §3.8.
type AccountType string

const (
	AccountTypeCash     AccountType = "CASH"
	AccountTypeMargin   AccountType = "MARGIN"
	AccountTypeBetting  AccountType = "BETTING"
)

// Balance is the free/locked/total balance for one currency within an
// account.
type Balance struct {
	Currency string
	Total    Money
	Locked   Money // reserved by working orders / margin
	Free     Money // Total - Locked
}

// Account tracks balances and, for MARGIN accounts, leverage/margin
// usage for a single venue connection. New relative to the teacher
// (which kept a single flat USD number in Inventory); grounded on
// spec §3.8 and generalizing
// internal/strategy/inventory.go's TotalExposureUSD bookkeeping into
// proper per-currency balances.
type Account struct {
	ID       AccountID
	Type     AccountType
	Balances map[string]Balance

	// TreatSpotAsPosition records whether a spot balance is to be
	// reported as a LONG Position. Defaults to false. No code in this
	// module reads it: internal/portfolio never synthesizes a Position
	// from a spot balance, whatever its value.
	TreatSpotAsPosition bool

	MarginUsed      Money
	MarginAvailable Money
}

// NewAccount constructs an account with no balances.
func NewAccount(id AccountID, accountType AccountType) *Account {
	return &Account{
		ID:       id,
		Type:     accountType,
		Balances: make(map[string]Balance),
	}
}

// UpdateBalance sets the Total/Locked/Free for a currency, recomputing
// Free as Total-Locked.
func (a *Account) UpdateBalance(currency string, total, locked Money) {
	a.Balances[currency] = Balance{
		Currency: currency,
		Total:    total,
		Locked:   locked,
		Free:     total.Sub(locked),
	}
}

// LockMargin reserves amount against a currency's free balance for a
// working order, returning false if insufficient free balance exists.
func (a *Account) LockMargin(currency string, amount Money) bool {
	bal, ok := a.Balances[currency]
	if !ok || bal.Free.Decimal().LessThan(amount.Decimal()) {
		return false
	}
	bal.Locked = bal.Locked.Add(amount)
	bal.Free = bal.Total.Sub(bal.Locked)
	a.Balances[currency] = bal
	return true
}

// ReleaseMargin frees a previously locked amount (order canceled/filled).
func (a *Account) ReleaseMargin(currency string, amount Money) {
	bal, ok := a.Balances[currency]
	if !ok {
		return
	}
	bal.Locked = bal.Locked.Sub(amount)
	if bal.Locked.IsNegative() {
		bal.Locked = ZeroMoney(currency)
	}
	bal.Free = bal.Total.Sub(bal.Locked)
	a.Balances[currency] = bal
}

// MarginLevel returns MarginAvailable / MarginUsed, or a sentinel of
// decimal.Zero when no margin is used (i.e. unconstrained).
func (a *Account) MarginLevel() decimal.Decimal {
	if a.MarginUsed.IsZero() {
		return decimal.Zero
	}
	return a.MarginAvailable.Decimal().Div(a.MarginUsed.Decimal())
}
