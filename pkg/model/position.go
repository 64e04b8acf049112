package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide names the direction of a net position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideFlat  PositionSide = "FLAT"
)

// Position is the net holding in an instrument under an account,
// generalizing internal/strategy/inventory.go's Position (which tracked
// separate YesQty/NoQty pairs specific to Polymarket's binary markets)
// into a single signed net quantity, the representation every other
// asset class in spec §3.7 needs.
type Position struct {
	ID            PositionID
	InstrumentID  InstrumentID
	AccountID     AccountID
	NetQty        Quantity // signed: positive = long, negative = short
	AvgEntryPrice Price
	RealizedPnL   Money
	UnrealizedPnL Money
	LastUpdated   time.Time

	// TradeIDs is the set of fills already folded into this position.
	// ApplyFill drops a TradeID it has already seen, per spec's
	// requirement that TradeIds on a position are unique.
	TradeIDs map[TradeID]bool
}

// NewPosition constructs a flat position.
func NewPosition(id PositionID, instrumentID InstrumentID, accountID AccountID, currency string) *Position {
	return &Position{
		ID:           id,
		InstrumentID: instrumentID,
		AccountID:    accountID,
		NetQty:       NewQuantity(decimal.Zero),
		RealizedPnL:  ZeroMoney(currency),
		UnrealizedPnL: ZeroMoney(currency),
		TradeIDs:     make(map[TradeID]bool),
	}
}

// Side reports LONG/SHORT/FLAT from the sign of NetQty.
func (p *Position) Side() PositionSide {
	if p.NetQty.IsZero() {
		return PositionSideFlat
	}
	if p.NetQty.IsPositive() {
		return PositionSideLong
	}
	return PositionSideShort
}

// ApplyFill updates the position for a fill on side at price/qty,
// following the avg-price-on-increase / realize-PnL-on-decrease
// convention from internal/strategy/inventory.go's applyYesFill /
// applyNoFill, generalized to a single signed quantity: a BUY fill adds
// to NetQty, a SELL fill subtracts.
// ApplyFill is idempotent in tradeID: replaying the same TradeID (a
// reconciliation catch-up racing a live fill event, or a redelivered
// venue message) is dropped rather than double-counted.
func (p *Position) ApplyFill(side OrderSide, price Price, qty Quantity, tradeID TradeID, now time.Time) {
	if p.TradeIDs == nil {
		p.TradeIDs = make(map[TradeID]bool)
	}
	if tradeID != "" {
		if p.TradeIDs[tradeID] {
			return
		}
		p.TradeIDs[tradeID] = true
	}

	signedFillQty := qty
	if side == OrderSideSell {
		signedFillQty = qty.Neg()
	}

	sameDirection := p.NetQty.IsZero() ||
		(p.NetQty.IsPositive() && signedFillQty.IsPositive()) ||
		(p.NetQty.IsNegative() && signedFillQty.IsNegative())

	if sameDirection {
		// increasing (or opening) position: roll the average entry price
		oldNotional := p.NetQty.Decimal().Abs().Mul(p.AvgEntryPrice.Decimal())
		fillNotional := qty.Decimal().Mul(price.Decimal())
		newAbsQty := p.NetQty.Decimal().Abs().Add(qty.Decimal())
		if !newAbsQty.IsZero() {
			p.AvgEntryPrice = NewPrice(oldNotional.Add(fillNotional).Div(newAbsQty))
		}
		p.NetQty = p.NetQty.Add(signedFillQty)
	} else {
		// decreasing or flipping: realize PnL on the closed portion
		closingQty := qty
		if qty.Decimal().Abs().GreaterThan(p.NetQty.Decimal().Abs()) {
			closingQty = NewQuantity(p.NetQty.Decimal().Abs())
		}
		var pnlPerUnit decimal.Decimal
		if p.NetQty.IsPositive() {
			pnlPerUnit = price.Decimal().Sub(p.AvgEntryPrice.Decimal())
		} else {
			pnlPerUnit = p.AvgEntryPrice.Decimal().Sub(price.Decimal())
		}
		realized := closingQty.Decimal().Mul(pnlPerUnit)
		p.RealizedPnL = p.RealizedPnL.Add(NewMoney(realized, p.RealizedPnL.Currency))

		p.NetQty = p.NetQty.Add(signedFillQty)
		if p.NetQty.IsZero() {
			p.AvgEntryPrice = Price{}
		} else if qty.Decimal().Abs().GreaterThan(closingQty.Decimal()) {
			// flipped through flat: the remainder opens a new position
			// at the fill price.
			p.AvgEntryPrice = price
		}
	}
	p.LastUpdated = now
}

// UpdateUnrealized recomputes UnrealizedPnL given a mark price.
func (p *Position) UpdateUnrealized(mark Price) {
	if p.NetQty.IsZero() {
		p.UnrealizedPnL = ZeroMoney(p.UnrealizedPnL.Currency)
		return
	}
	var pnlPerUnit decimal.Decimal
	if p.NetQty.IsPositive() {
		pnlPerUnit = mark.Decimal().Sub(p.AvgEntryPrice.Decimal())
	} else {
		pnlPerUnit = p.AvgEntryPrice.Decimal().Sub(mark.Decimal())
	}
	unrealized := p.NetQty.Decimal().Abs().Mul(pnlPerUnit)
	p.UnrealizedPnL = NewMoney(unrealized, p.UnrealizedPnL.Currency)
}

// NotionalUSD returns the position's exposure at the given mark price,
// generalizing internal/strategy/inventory.go's TotalExposureUSD.
func (p *Position) NotionalUSD(mark Price) Money {
	return NewMoney(p.NetQty.Decimal().Abs().Mul(mark.Decimal()), p.UnrealizedPnL.Currency)
}
