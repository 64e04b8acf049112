// Package model defines the shared data vocabulary of the trading
// platform: identifiers, fixed-point price/quantity/money types, market
// data, instruments, orders, positions, and accounts. Every other
// package in this module builds on these types rather than defining its
// own.
package model

import (
	"fmt"
	"strings"
)

// InstrumentID identifies a tradable instrument on a specific venue,
// formatted as "SYMBOL.VENUE" (e.g. "BTCUSDT.BINANCE").
type InstrumentID struct {
	Symbol string
	Venue  string
}

// NewInstrumentID builds an InstrumentID from a symbol and venue.
func NewInstrumentID(symbol, venue string) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// ParseInstrumentID parses "SYMBOL.VENUE" into an InstrumentID.
func ParseInstrumentID(s string) (InstrumentID, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return InstrumentID{}, fmt.Errorf("model: invalid instrument id %q: want SYMBOL.VENUE", s)
	}
	return InstrumentID{Symbol: s[:idx], Venue: s[idx+1:]}, nil
}

func (i InstrumentID) String() string {
	return i.Symbol + "." + i.Venue
}

// IsEmpty reports whether the InstrumentID is the zero value.
func (i InstrumentID) IsEmpty() bool {
	return i.Symbol == "" && i.Venue == ""
}

// ClientOrderID is the client-assigned identifier for an order, unique
// per trader. Orders generated during reconciliation use a deterministic
// ClientOrderID derived from the venue order id (see internal/execution).
type ClientOrderID string

// VenueOrderID is the identifier a venue assigns to an accepted order.
type VenueOrderID string

// TradeID identifies an individual fill/execution.
type TradeID string

// PositionID identifies a net position in an instrument held under an
// OMS-managed account. It is derived from the account and instrument id
// ("ACCOUNT:SYMBOL.VENUE") whatever the OMS type, and carries no
// position side.
type PositionID string

// AccountID identifies an account, scoped by venue: "VENUE-NNN".
type AccountID string

// StrategyID identifies a running actor/strategy instance, formatted
// "ClassName-Tag" (e.g. "MarketMaker-001").
type StrategyID string

// StrategyIDExternal is the sentinel strategy that parks venue orders
// reconciliation could not attach to a known strategy via
// external_order_claims, per spec §4.4 step 4.
const StrategyIDExternal StrategyID = "EXTERNAL"

// ClientID identifies a logical connection to a venue adapter (a
// strategy may route orders through more than one ClientID for the same
// venue, e.g. REST vs FIX).
type ClientID string

// VenueID identifies a trading venue or exchange.
type VenueID string

func (v VenueID) String() string { return string(v) }
