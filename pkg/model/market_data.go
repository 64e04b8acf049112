package model

import (
	"sort"
	"sync"
	"time"
)

// QuoteTick is a top-of-book bid/ask snapshot.
type QuoteTick struct {
	InstrumentID InstrumentID
	BidPrice     Price
	AskPrice     Price
	BidSize      Quantity
	AskSize      Quantity
	Timestamp    time.Time
}

// MidPrice returns (bid+ask)/2.
func (q QuoteTick) MidPrice() Price {
	return NewPrice(q.BidPrice.Decimal().Add(q.AskPrice.Decimal()).Div(twoDecimal))
}

// Spread returns ask-bid.
func (q QuoteTick) Spread() Price {
	return q.AskPrice.Sub(q.BidPrice)
}

// AggressorSide names which side crossed the spread to produce a trade.
type AggressorSide string

const (
	AggressorBuyer  AggressorSide = "BUYER"
	AggressorSeller AggressorSide = "SELLER"
	AggressorNone   AggressorSide = "NONE"
)

// TradeTick is an executed trade observed on a venue (not necessarily
// one of ours).
type TradeTick struct {
	InstrumentID InstrumentID
	Price        Price
	Size         Quantity
	Aggressor    AggressorSide
	TradeID      TradeID
	Timestamp    time.Time
}

// BookAction names the kind of change an OrderBookDelta applies.
type BookAction string

const (
	BookActionAdd    BookAction = "ADD"
	BookActionUpdate BookAction = "UPDATE"
	BookActionDelete BookAction = "DELETE"
	BookActionClear  BookAction = "CLEAR"
)

// BookOrder is a single resting order/price-level entry in an order book.
type BookOrder struct {
	Side     OrderSide
	Price    Price
	Size     Quantity
	OrderID  string // venue-assigned book entry id, empty for L2 levels
	Sequence uint64
}

// OrderBookDelta is one incremental change to an OrderBook.
type OrderBookDelta struct {
	InstrumentID InstrumentID
	Action       BookAction
	Order        BookOrder
	Sequence     uint64
	Timestamp    time.Time
}

// BookLevel describes the market depth, matching the teacher's
// TickSize-driven precision model generalized to arbitrary instruments.
type BookLevel int

const (
	BookLevelL1 BookLevel = 1 // top of book only
	BookLevelL2 BookLevel = 2 // aggregated price levels
	BookLevelL3 BookLevel = 3 // individual orders
)

// OrderBook is a mutable, thread-safe order book aggregate maintained by
// applying sequential OrderBookDelta events, generalizing the teacher's
// Book (internal/market/book.go), which mirrored a single Polymarket
// yes/no pair from WS snapshots, into a general multi-level book keyed
// by price as rishavpaul-system-design/order-matching-engine's
// orderbook package does for its price-level map.
type OrderBook struct {
	mu           sync.RWMutex
	InstrumentID InstrumentID
	Level        BookLevel
	bids         map[string]Quantity // price string -> aggregate size
	asks         map[string]Quantity
	lastSequence uint64
	updatedAt    time.Time
}

// NewOrderBook constructs an empty book for an instrument.
func NewOrderBook(instrumentID InstrumentID, level BookLevel) *OrderBook {
	return &OrderBook{
		InstrumentID: instrumentID,
		Level:        level,
		bids:         make(map[string]Quantity),
		asks:         make(map[string]Quantity),
	}
}

// Apply applies a single delta to the book. Deltas with a non-zero
// sequence number not higher than the book's last applied sequence are
// dropped as stale/out-of-order (sequence 0 is always applied), matching the teacher's tendency to fully replace
// book state on snapshots rather than attempt to patch around gaps.
func (b *OrderBook) Apply(d OrderBookDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.Sequence != 0 && d.Sequence <= b.lastSequence {
		return
	}
	side := b.sideMap(d.Order.Side)
	key := d.Order.Price.String()
	switch d.Action {
	case BookActionClear:
		b.bids = make(map[string]Quantity)
		b.asks = make(map[string]Quantity)
	case BookActionDelete:
		delete(side, key)
	default: // ADD, UPDATE
		if d.Order.Size.IsZero() {
			delete(side, key)
		} else {
			side[key] = d.Order.Size
		}
	}
	if d.Sequence != 0 {
		b.lastSequence = d.Sequence
	}
	b.updatedAt = d.Timestamp
}

func (b *OrderBook) sideMap(side OrderSide) map[string]Quantity {
	if side == OrderSideBuy {
		return b.bids
	}
	return b.asks
}

// ApplyTrade is a no-op: it neither records the trade tick nor mutates
// the book.
func (b *OrderBook) ApplyTrade(TradeTick) {}

// BestBidAsk returns the best bid and ask prices currently in the book.
// ok is false if either side is empty.
func (b *OrderBook) BestBidAsk() (bid, ask Price, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bidP, bidOK := bestPrice(b.bids, true)
	askP, askOK := bestPrice(b.asks, false)
	if !bidOK || !askOK {
		return Price{}, Price{}, false
	}
	return bidP, askP, true
}

func bestPrice(levels map[string]Quantity, highest bool) (Price, bool) {
	if len(levels) == 0 {
		return Price{}, false
	}
	prices := make([]Price, 0, len(levels))
	for k := range levels {
		p, err := ParsePrice(k)
		if err != nil {
			continue
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return Price{}, false
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	if highest {
		return prices[len(prices)-1], true
	}
	return prices[0], true
}

// MidPrice returns the midpoint of best bid/ask, ok is false if the book
// is one-sided or empty.
func (b *OrderBook) MidPrice() (Price, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return Price{}, false
	}
	return NewPrice(bid.Decimal().Add(ask.Decimal()).Div(twoDecimal)), true
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *OrderBook) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updatedAt.IsZero() {
		return true
	}
	return time.Since(b.updatedAt) > maxAge
}

// LastUpdated returns the timestamp of the most recently applied delta.
func (b *OrderBook) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Depth10 snapshots up to 10 levels per side for external consumers
// (observability dashboard, catalog persistence).
type Depth10 struct {
	InstrumentID InstrumentID
	Bids         []BookOrder
	Asks         []BookOrder
	Timestamp    time.Time
}

// Depth10 builds a depth snapshot from the current book state.
func (b *OrderBook) Depth10() Depth10 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Depth10{
		InstrumentID: b.InstrumentID,
		Bids:         levelsSorted(b.bids, OrderSideBuy, true),
		Asks:         levelsSorted(b.asks, OrderSideSell, false),
		Timestamp:    b.updatedAt,
	}
}

func levelsSorted(levels map[string]Quantity, side OrderSide, highestFirst bool) []BookOrder {
	out := make([]BookOrder, 0, len(levels))
	for k, sz := range levels {
		p, err := ParsePrice(k)
		if err != nil {
			continue
		}
		out = append(out, BookOrder{Side: side, Price: p, Size: sz})
	}
	sort.Slice(out, func(i, j int) bool {
		if highestFirst {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
