package data

import (
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// BarAggregator is satisfied by both TimeBarAggregator and
// CompositeBarAggregator, letting Engine.SubscribeBars hand back
// whichever kind a BarType calls for without the caller needing to
// distinguish leaf from composite series.
type BarAggregator interface {
	Flush() (model.Bar, bool)
}

// TimeBarAggregator builds OHLCV bars from a stream of trades using
// epoch-anchored bucketing: bucket = floor((ts - Unix epoch) /
// interval). The origin is always the Unix epoch; no other origin
// offset can be configured. A bar is only emitted when a trade arrives
// in a later bucket than the one currently open — resolving spec.md's
// partial-bar Open Question by never emitting an incomplete bucket
// early. A trade that arrives for an already-closed bucket (a
// late/out-of-order trade) is silently dropped rather than reopening a
// closed bar, matching
// the teacher's general preference for replacing/discarding stale state
// over attempting to patch around it (see internal/market/book.go's
// full-snapshot-replace behavior).
type TimeBarAggregator struct {
	barType  model.BarType
	interval time.Duration

	mu          sync.Mutex
	bucketStart time.Time
	open        bool
	o, h, l, c  model.Price
	vol         model.Quantity
}

// NewTimeBarAggregator constructs an aggregator for a TIME-aggregation
// BarType. It panics if barType.Spec is not a TIME specification,
// matching BarSpecification.Duration's fail-fast convention.
func NewTimeBarAggregator(barType model.BarType) *TimeBarAggregator {
	return &TimeBarAggregator{
		barType:  barType,
		interval: barType.Spec.Duration(),
	}
}

func (a *TimeBarAggregator) bucketStartFor(ts time.Time) time.Time {
	elapsed := ts.Sub(time.Unix(0, 0))
	bucketIndex := elapsed / a.interval
	return time.Unix(0, 0).Add(bucketIndex * a.interval)
}

// OnTrade folds one trade into the current bucket. It returns the
// closed Bar and true when the trade belongs to a new bucket (closing
// the previous one); otherwise it returns a zero Bar and false.
func (a *TimeBarAggregator) OnTrade(trade model.TradeTick) (model.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket := a.bucketStartFor(trade.Timestamp)

	if a.open && bucket.Before(a.bucketStart) {
		// Late trade for an already-closed bucket: drop it.
		return model.Bar{}, false
	}

	if !a.open {
		a.startBucket(bucket, trade.Price, trade.Size)
		return model.Bar{}, false
	}

	if bucket.Equal(a.bucketStart) {
		a.applyTrade(trade.Price, trade.Size)
		return model.Bar{}, false
	}

	// Trade belongs to a new bucket: close the current bar and open
	// the next one.
	closed := a.buildBar()
	a.startBucket(bucket, trade.Price, trade.Size)
	return closed, true
}

func (a *TimeBarAggregator) startBucket(bucket time.Time, price model.Price, size model.Quantity) {
	a.bucketStart = bucket
	a.open = true
	a.o, a.h, a.l, a.c = price, price, price, price
	a.vol = size
}

func (a *TimeBarAggregator) applyTrade(price model.Price, size model.Quantity) {
	if price.GreaterThan(a.h) {
		a.h = price
	}
	if price.LessThan(a.l) {
		a.l = price
	}
	a.c = price
	a.vol = a.vol.Add(size)
}

func (a *TimeBarAggregator) buildBar() model.Bar {
	closeTime := a.bucketStart.Add(a.interval)
	return model.Bar{
		Type:      a.barType,
		Open:      a.o,
		High:      a.h,
		Low:       a.l,
		Close:     a.c,
		Volume:    a.vol,
		Timestamp: closeTime,
	}
}

// Flush force-closes the current bucket (used at backtest end or
// engine shutdown so the final partial bar isn't silently lost from
// the record, even though it's never emitted mid-interval).
func (a *TimeBarAggregator) Flush() (model.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return model.Bar{}, false
	}
	bar := a.buildBar()
	a.open = false
	return bar, true
}

// priceForQuote selects the side of the spread (or synthetic mid) a
// BID/ASK/MID-price-type bar is built from.
func priceForQuote(pt model.PriceType, q model.QuoteTick) model.Price {
	switch pt {
	case model.PriceTypeBid:
		return q.BidPrice
	case model.PriceTypeAsk:
		return q.AskPrice
	default:
		return q.MidPrice()
	}
}

func sizeForQuote(pt model.PriceType, q model.QuoteTick) model.Quantity {
	switch pt {
	case model.PriceTypeBid:
		return q.BidSize
	case model.PriceTypeAsk:
		return q.AskSize
	default:
		return q.BidSize.Add(q.AskSize)
	}
}

// OnQuote folds one top-of-book quote into the current bucket for
// BID/ASK/MID price-type bars, mirroring OnTrade's bucketing but
// reading the configured side of the spread (or the synthetic mid)
// instead of a trade price. Callers are expected to only route quotes
// to aggregators whose BarType.Spec.Price is BID/ASK/MID; a LAST-price
// aggregator should be fed through OnTrade instead.
func (a *TimeBarAggregator) OnQuote(quote model.QuoteTick) (model.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	price := priceForQuote(a.barType.Spec.Price, quote)
	size := sizeForQuote(a.barType.Spec.Price, quote)
	bucket := a.bucketStartFor(quote.Timestamp)

	if a.open && bucket.Before(a.bucketStart) {
		return model.Bar{}, false
	}
	if !a.open {
		a.startBucket(bucket, price, size)
		return model.Bar{}, false
	}
	if bucket.Equal(a.bucketStart) {
		a.applyTrade(price, size)
		return model.Bar{}, false
	}

	closed := a.buildBar()
	a.startBucket(bucket, price, size)
	return closed, true
}

// CompositeBarAggregator builds a larger bar by folding together a
// fixed ratio of already-closed bars emitted by a lower-timeframe
// source series — the "X@Y" composite bar-chain syntax, e.g. a
// 5-MINUTE-INTERNAL bar built from five emitted 1-MINUTE-EXTERNAL
// bars rather than raw trades or quotes.
type CompositeBarAggregator struct {
	barType model.BarType
	ratio   int

	mu         sync.Mutex
	open       bool
	count      int
	o, h, l, c model.Price
	vol        model.Quantity
	lastTS     time.Time
}

// NewCompositeBarAggregator constructs an aggregator that closes a
// composite bar once ratio source bars have been folded in.
func NewCompositeBarAggregator(barType model.BarType, ratio int) *CompositeBarAggregator {
	return &CompositeBarAggregator{barType: barType, ratio: ratio}
}

// OnSourceBar folds one emitted source bar into the composite bucket.
// It returns the closed composite Bar and true once ratio source bars
// have been folded in; otherwise it returns a zero Bar and false.
func (a *CompositeBarAggregator) OnSourceBar(bar model.Bar) (model.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		a.o, a.h, a.l, a.c = bar.Open, bar.High, bar.Low, bar.Close
		a.vol = bar.Volume
		a.open = true
		a.count = 1
	} else {
		if bar.High.GreaterThan(a.h) {
			a.h = bar.High
		}
		if bar.Low.LessThan(a.l) {
			a.l = bar.Low
		}
		a.c = bar.Close
		a.vol = a.vol.Add(bar.Volume)
		a.count++
	}
	a.lastTS = bar.Timestamp

	if a.count < a.ratio {
		return model.Bar{}, false
	}

	closed := a.buildBar()
	a.open = false
	a.count = 0
	return closed, true
}

func (a *CompositeBarAggregator) buildBar() model.Bar {
	return model.Bar{
		Type:      a.barType,
		Open:      a.o,
		High:      a.h,
		Low:       a.l,
		Close:     a.c,
		Volume:    a.vol,
		Timestamp: a.lastTS,
	}
}

// Flush force-closes a partial composite bucket (fewer than ratio
// source bars folded in), mirroring TimeBarAggregator.Flush.
func (a *CompositeBarAggregator) Flush() (model.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return model.Bar{}, false
	}
	bar := a.buildBar()
	a.open = false
	a.count = 0
	return bar, true
}
