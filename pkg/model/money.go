package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var twoDecimal = decimal.NewFromInt(2)

// Price is a fixed-point price scoped to an instrument's tick precision.
// All arithmetic is performed through shopspring/decimal to avoid the
// float64 rounding drift the teacher's TickSize.Decimals() helper had to
// work around with manual truncation.
type Price struct {
	val decimal.Decimal
}

// NewPrice builds a Price from a decimal.Decimal.
func NewPrice(d decimal.Decimal) Price { return Price{val: d} }

// NewPriceFromFloat builds a Price from a float64, rounded to precision
// decimal places.
func NewPriceFromFloat(f float64, precision int32) Price {
	return Price{val: decimal.NewFromFloat(f).Round(precision)}
}

// ParsePrice parses a decimal string into a Price.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("model: invalid price %q: %w", s, err)
	}
	return Price{val: d}, nil
}

func (p Price) Decimal() decimal.Decimal { return p.val }
func (p Price) Float64() float64         { f, _ := p.val.Float64(); return f }
func (p Price) String() string           { return p.val.String() }
func (p Price) IsZero() bool             { return p.val.IsZero() }

func (p Price) Add(o Price) Price { return Price{val: p.val.Add(o.val)} }
func (p Price) Sub(o Price) Price { return Price{val: p.val.Sub(o.val)} }
func (p Price) Cmp(o Price) int   { return p.val.Cmp(o.val) }
func (p Price) GreaterThan(o Price) bool { return p.val.GreaterThan(o.val) }
func (p Price) LessThan(o Price) bool    { return p.val.LessThan(o.val) }

// Round rounds the price to the given number of decimal places.
func (p Price) Round(precision int32) Price {
	return Price{val: p.val.Round(precision)}
}

// MarshalJSON serializes the underlying decimal, so cache persistence
// (internal/cache) and API responses (internal/observability) see a
// plain decimal string rather than an opaque struct.
func (p Price) MarshalJSON() ([]byte, error) { return p.val.MarshalJSON() }

func (p *Price) UnmarshalJSON(data []byte) error { return p.val.UnmarshalJSON(data) }

// Quantity is a fixed-point size/amount, always non-negative by
// convention at the call sites that construct it (orders carry signed
// direction via Side, not via a negative Quantity).
type Quantity struct {
	val decimal.Decimal
}

func NewQuantity(d decimal.Decimal) Quantity { return Quantity{val: d} }

func NewQuantityFromFloat(f float64, precision int32) Quantity {
	return Quantity{val: decimal.NewFromFloat(f).Round(precision)}
}

func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("model: invalid quantity %q: %w", s, err)
	}
	return Quantity{val: d}, nil
}

func (q Quantity) Decimal() decimal.Decimal { return q.val }
func (q Quantity) Float64() float64         { f, _ := q.val.Float64(); return f }
func (q Quantity) String() string           { return q.val.String() }
func (q Quantity) IsZero() bool             { return q.val.IsZero() }
func (q Quantity) IsPositive() bool         { return q.val.IsPositive() }
func (q Quantity) IsNegative() bool         { return q.val.IsNegative() }

func (q Quantity) Add(o Quantity) Quantity { return Quantity{val: q.val.Add(o.val)} }
func (q Quantity) Sub(o Quantity) Quantity { return Quantity{val: q.val.Sub(o.val)} }
func (q Quantity) Cmp(o Quantity) int      { return q.val.Cmp(o.val) }
func (q Quantity) Neg() Quantity           { return Quantity{val: q.val.Neg()} }

// Mul returns the Money value of this quantity at the given price.
func (q Quantity) Mul(p Price) Money {
	return Money{val: q.val.Mul(p.val)}
}

func (q Quantity) MarshalJSON() ([]byte, error) { return q.val.MarshalJSON() }

func (q *Quantity) UnmarshalJSON(data []byte) error { return q.val.UnmarshalJSON(data) }

// Money is a signed fixed-point cash amount denominated in a currency
// (USD, USDC, etc). Unlike Price/Quantity it carries a currency code so
// Account bookkeeping never silently mixes denominations.
type Money struct {
	val      decimal.Decimal
	Currency string
}

func NewMoney(d decimal.Decimal, currency string) Money {
	return Money{val: d, Currency: currency}
}

func NewMoneyFromFloat(f float64, currency string) Money {
	return Money{val: decimal.NewFromFloat(f), Currency: currency}
}

func ZeroMoney(currency string) Money {
	return Money{val: decimal.Zero, Currency: currency}
}

func (m Money) Decimal() decimal.Decimal { return m.val }
func (m Money) Float64() float64         { f, _ := m.val.Float64(); return f }
func (m Money) IsZero() bool             { return m.val.IsZero() }
func (m Money) IsNegative() bool         { return m.val.IsNegative() }

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.val.StringFixed(2), m.Currency)
}

// Add adds two Money values of the same currency. Adding two non-zero
// values of different currencies is a programmer error and panics (a
// panic, unlike the InvariantError values of pkg/model/errors.go). When
// either value is zero the currencies are not compared, and the result
// keeps the receiver's currency, or o's when the receiver has none.
func (m Money) Add(o Money) Money {
	if m.Currency != o.Currency && !m.val.IsZero() && !o.val.IsZero() {
		panic(fmt.Sprintf("model: currency mismatch in Money.Add: %s vs %s", m.Currency, o.Currency))
	}
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{val: m.val.Add(o.val), Currency: cur}
}

func (m Money) Sub(o Money) Money {
	return m.Add(o.Neg())
}

func (m Money) Neg() Money {
	return Money{val: m.val.Neg(), Currency: m.Currency}
}

type moneyJSON struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Value: m.val, Currency: m.Currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var mj moneyJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	m.val = mj.Value
	m.Currency = mj.Currency
	return nil
}
