// Package matching implements a backtest/simulation matching engine:
// a price-time-priority limit order book with contingency order
// support (OTO/OCO/OUO), generalizing
// rishavpaul-system-design/order-matching-engine's internal/orderbook +
// internal/matching packages from int64 fixed-point prices and a
// red-black-tree price index onto this module's decimal.Decimal-backed
// model.Order, and onto a plain sorted price-level slice rather than a
// red-black tree (see DESIGN.md — this module targets backtest/
// simulation order counts, not a production HFT book, and the
// teacher's own internal/market/book.go keeps its levels in plain
// slices for the same reason). That source repo's internal/disruptor
// ring-buffer pipeline is deliberately not adopted: the matching engine
// here runs synchronously inside the calls internal/kernel's
// BacktestClient makes rather than through a dedicated high-throughput
// ingestion pipeline.
package matching

import (
	"container/list"
	"sort"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// restingOrder is one FIFO queue entry at a price level.
type restingOrder struct {
	order *model.Order
}

// priceLevel holds the FIFO queue of resting orders at one price.
type priceLevel struct {
	price model.Price
	queue *list.List // of *restingOrder, front = oldest (first priority)
}

func newPriceLevel(price model.Price) *priceLevel {
	return &priceLevel{price: price, queue: list.New()}
}

func (l *priceLevel) isEmpty() bool { return l.queue.Len() == 0 }

// Book is a price-time-priority limit order book for one instrument. It
// also parks conditional (trigger) orders that have not yet activated
// and indexes every order it knows about — resting, pending, or parked
// awaiting contingency release — so the engine's contingency logic can
// look siblings up by ClientOrderID regardless of where they currently
// live.
type Book struct {
	instrumentID model.InstrumentID
	def          model.InstrumentDefinition
	bids         []*priceLevel // sorted descending by price (best bid first)
	asks         []*priceLevel // sorted ascending by price (best ask first)
	byOrderID    map[model.ClientOrderID]*list.Element
	levelByOrder map[model.ClientOrderID]*priceLevel
	pending      map[model.ClientOrderID]*model.Order // STOP/MIT/LIT/TRAILING_* awaiting trigger
	allOrders    map[model.ClientOrderID]*model.Order
}

// NewBook constructs an empty book for an instrument definition.
func NewBook(def model.InstrumentDefinition) *Book {
	return &Book{
		instrumentID: def.ID,
		def:          def,
		byOrderID:    make(map[model.ClientOrderID]*list.Element),
		levelByOrder: make(map[model.ClientOrderID]*priceLevel),
		pending:      make(map[model.ClientOrderID]*model.Order),
		allOrders:    make(map[model.ClientOrderID]*model.Order),
	}
}

func (b *Book) levelsFor(side model.OrderSide) *[]*priceLevel {
	if side == model.OrderSideBuy {
		return &b.bids
	}
	return &b.asks
}

// AddResting inserts a limit order into the book at its price,
// appending to the FIFO queue for the price level, creating the level
// if necessary in price-sorted position (O(P) insert — acceptable at
// backtest scale, see the package doc).
func (b *Book) AddResting(o *model.Order) {
	levels := b.levelsFor(o.Side)
	_, level := b.findOrInsertLevel(levels, o.Side, o.Price)
	elem := level.queue.PushBack(&restingOrder{order: o})
	b.byOrderID[o.ClientOrderID] = elem
	b.levelByOrder[o.ClientOrderID] = level
	b.allOrders[o.ClientOrderID] = o
}

// AddPending parks a conditional order that has not yet touched its
// trigger price, keeping it out of the matchable book until the
// engine's trigger evaluation activates it.
func (b *Book) AddPending(o *model.Order) {
	b.pending[o.ClientOrderID] = o
	b.allOrders[o.ClientOrderID] = o
}

// RemovePending removes a conditional order from the pending set,
// returning it (or nil if it wasn't pending), used both when a trigger
// activates an order and when an OCO sibling cancels it first.
func (b *Book) RemovePending(id model.ClientOrderID) *model.Order {
	o, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return o
}

// PendingOrders returns a snapshot of conditional orders awaiting
// trigger, safe to range over while the engine mutates b.pending.
func (b *Book) PendingOrders() []*model.Order {
	out := make([]*model.Order, 0, len(b.pending))
	for _, o := range b.pending {
		out = append(out, o)
	}
	return out
}

// Order looks up any order this book knows about, resting, pending, or
// parked awaiting contingency release.
func (b *Book) Order(id model.ClientOrderID) (*model.Order, bool) {
	o, ok := b.allOrders[id]
	return o, ok
}

func (b *Book) findOrInsertLevel(levels *[]*priceLevel, side model.OrderSide, price model.Price) (int, *priceLevel) {
	lvls := *levels
	less := func(i int) bool {
		if side == model.OrderSideBuy {
			return lvls[i].price.LessThan(price) // descending: stop when existing < new
		}
		return lvls[i].price.GreaterThan(price) // ascending: stop when existing > new
	}
	i := sort.Search(len(lvls), less)
	if i < len(lvls) && lvls[i].price.Cmp(price) == 0 {
		return i, lvls[i]
	}
	newLevel := newPriceLevel(price)
	lvls = append(lvls, nil)
	copy(lvls[i+1:], lvls[i:])
	lvls[i] = newLevel
	*levels = lvls
	return i, newLevel
}

// BestBid returns the best (highest) bid level, or nil if there is none.
func (b *Book) BestBid() *priceLevel {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// BestAsk returns the best (lowest) ask level, or nil if there is none.
func (b *Book) BestAsk() *priceLevel {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// CancelOrder removes a resting order from the book, returning it (or
// nil if not found resting — callers needing to cancel a conditional
// order not yet triggered should use RemovePending instead).
func (b *Book) CancelOrder(id model.ClientOrderID) *model.Order {
	elem, ok := b.byOrderID[id]
	if !ok {
		return nil
	}
	level := b.levelByOrder[id]
	order := elem.Value.(*restingOrder).order
	level.queue.Remove(elem)
	delete(b.byOrderID, id)
	delete(b.levelByOrder, id)
	delete(b.allOrders, id)
	if level.isEmpty() {
		b.removeLevel(order.Side, level.price)
	}
	return order
}

func (b *Book) removeLevel(side model.OrderSide, price model.Price) {
	levels := b.levelsFor(side)
	lvls := *levels
	for i, l := range lvls {
		if l.price.Cmp(price) == 0 {
			*levels = append(lvls[:i], lvls[i+1:]...)
			return
		}
	}
}

// removeLevelIfEmpty is called after draining a level's queue during
// matching to keep the price index consistent.
func (b *Book) removeLevelIfEmpty(side model.OrderSide, level *priceLevel) {
	if level.isEmpty() {
		b.removeLevel(side, level.price)
	}
}
