package model

import "github.com/shopspring/decimal"

// AssetClass names the broad category of an instrument.
type AssetClass string

const (
	AssetClassCrypto    AssetClass = "CRYPTO"
	AssetClassEquity    AssetClass = "EQUITY"
	AssetClassFX        AssetClass = "FX"
	AssetClassPrediction AssetClass = "PREDICTION_MARKET"
)

// InstrumentDefinition carries the static trading rules for an
// instrument: tick size, lot size, margin rates, and currency
// denomination. Generalizes the teacher's pkg/types.MarketInfo and
// TickSize enum (which only modeled Polymarket's five fixed tick sizes)
// into a venue-agnostic, arbitrary-precision definition.
type InstrumentDefinition struct {
	ID               InstrumentID
	AssetClass       AssetClass
	QuoteCurrency    string
	PriceIncrement   Price    // minimum price movement (tick size)
	SizeIncrement    Quantity // minimum size movement (lot size)
	PricePrecision   int32
	SizePrecision    int32
	Multiplier       decimal.Decimal // contract multiplier, 1 for spot
	MarginInit       decimal.Decimal // initial margin rate, e.g. 0.1
	MarginMaint      decimal.Decimal // maintenance margin rate
	MakerFee         decimal.Decimal
	TakerFee         decimal.Decimal
	MaxPrice         Price
	MinPrice         Price
	Active           bool
}

// RoundPriceDown rounds a price down to the nearest PriceIncrement,
// the same "roundDownToTick" idiom the teacher used in
// internal/strategy/maker.go for quote placement.
func (d InstrumentDefinition) RoundPriceDown(p Price) Price {
	if d.PriceIncrement.IsZero() {
		return p.Round(d.PricePrecision)
	}
	inc := d.PriceIncrement.Decimal()
	steps := p.Decimal().Div(inc).Floor()
	return NewPrice(steps.Mul(inc))
}

// RoundPriceUp rounds a price up to the nearest PriceIncrement.
func (d InstrumentDefinition) RoundPriceUp(p Price) Price {
	if d.PriceIncrement.IsZero() {
		return p.Round(d.PricePrecision)
	}
	inc := d.PriceIncrement.Decimal()
	steps := p.Decimal().Div(inc).Ceil()
	return NewPrice(steps.Mul(inc))
}

// Notional returns quantity*price*multiplier for this instrument.
func (d InstrumentDefinition) Notional(qty Quantity, price Price) Money {
	mult := d.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	val := qty.Decimal().Mul(price.Decimal()).Mul(mult)
	return NewMoney(val, d.QuoteCurrency)
}
