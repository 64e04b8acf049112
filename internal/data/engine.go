// Package data is the venue-agnostic market data layer: it maintains a
// top-of-book mirror per instrument, derives synthetic quote ticks from
// book updates, routes trades into time-bar aggregation, and tracks
// subscriber demand per instrument. It generalizes the teacher's
// internal/market package — Book's ApplyBookEvent/ApplyPriceChange/
// MidPrice/BestBidAsk/IsStale become the book-mirror path here, and
// Scanner's poll loop becomes the historical catalog request path —
// from one hardcoded Polymarket binary-market pair into an arbitrary
// set of subscribed instruments.
package data

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/bus"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Bus topics published by the data engine.
const (
	TopicQuote = "data.quote"
	TopicTrade = "data.trade"
	TopicBar   = "data.bar"
)

// HistoricalProvider is the boundary internal/adapters implements to
// serve request_aggregated_bars-style historical warm-up queries,
// generalizing the teacher's Scanner.fetchMarkets REST polling into a
// pluggable historical data source.
type HistoricalProvider interface {
	RequestBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error)
}

// Engine is the venue-agnostic market data layer for one kernel
// instance.
type Engine struct {
	mu            sync.RWMutex
	books         map[model.InstrumentID]*model.OrderBook
	subscriptions map[model.InstrumentID]int
	aggregators   map[model.BarType]*TimeBarAggregator
	composites    map[model.BarType]*CompositeBarAggregator
	// compositesBySource maps a source bar type to every composite bar
	// type ("X@Y") that folds its emitted bars together, so a single
	// closed bar can fan out to however many composite chains consume
	// it (and, recursively, chains built on top of those).
	compositesBySource map[model.BarType][]model.BarType

	bus      *bus.MessageBus
	historic HistoricalProvider
	logger   *slog.Logger
}

// New constructs a data Engine. msgBus and historic may both be nil
// (e.g. in unit tests exercising only the book mirror).
func New(msgBus *bus.MessageBus, historic HistoricalProvider, logger *slog.Logger) *Engine {
	return &Engine{
		books:              make(map[model.InstrumentID]*model.OrderBook),
		subscriptions:      make(map[model.InstrumentID]int),
		aggregators:        make(map[model.BarType]*TimeBarAggregator),
		composites:         make(map[model.BarType]*CompositeBarAggregator),
		compositesBySource: make(map[model.BarType][]model.BarType),
		bus:                msgBus,
		historic:           historic,
		logger:             logger.With("component", "data"),
	}
}

func (e *Engine) publish(topic string, msg interface{}) {
	if e.bus != nil {
		e.bus.Publish(topic, msg)
	}
}

// Subscribe registers demand for an instrument's book/quote/trade
// stream. Repeated subscriptions are idempotent — they only bump a
// reference count, generalizing the teacher's tokenMap/slots
// reference-counted market tracking in internal/engine/engine.go.
func (e *Engine) Subscribe(instrumentID model.InstrumentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscriptions[instrumentID]++
	if _, ok := e.books[instrumentID]; !ok {
		e.books[instrumentID] = model.NewOrderBook(instrumentID, model.BookLevelL2)
	}
}

// Unsubscribe releases one reference to an instrument's stream. The
// book mirror is torn down only once the last subscriber releases it
// (last-subscriber-wins unsubscribe).
func (e *Engine) Unsubscribe(instrumentID model.InstrumentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subscriptions[instrumentID] <= 1 {
		delete(e.subscriptions, instrumentID)
		delete(e.books, instrumentID)
		return
	}
	e.subscriptions[instrumentID]--
}

// IsSubscribed reports whether any subscriber currently wants this
// instrument's stream.
func (e *Engine) IsSubscribed(instrumentID model.InstrumentID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.subscriptions[instrumentID] > 0
}

// Book returns the book mirror for an instrument, or nil if not
// subscribed.
func (e *Engine) Book(instrumentID model.InstrumentID) *model.OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[instrumentID]
}

// OnBookDelta applies an incremental book update and derives a
// synthetic top-of-book QuoteTick from the result, the generalized
// form of the teacher's ApplyBookEvent/ApplyPriceChange plus the
// Avellaneda-Stoikov quoting loop's reliance on Book.MidPrice/
// BestBidAsk (spec.md §4.3's emit_quotes_from_book).
func (e *Engine) OnBookDelta(delta model.OrderBookDelta) {
	book := e.bookFor(delta.InstrumentID)
	book.Apply(delta)

	bid, ask, ok := book.BestBidAsk()
	if !ok {
		return
	}
	quote := model.QuoteTick{
		InstrumentID: delta.InstrumentID,
		BidPrice:     bid,
		AskPrice:     ask,
		BidSize:      delta.Order.Size,
		AskSize:      delta.Order.Size,
		Timestamp:    delta.Timestamp,
	}
	e.publish(fmt.Sprintf("%s.%s", TopicQuote, delta.InstrumentID.String()), quote)
	e.feedQuoteAggregators(quote)
}

func (e *Engine) feedQuoteAggregators(quote model.QuoteTick) {
	e.mu.RLock()
	aggregators := make([]*TimeBarAggregator, 0)
	for barType, agg := range e.aggregators {
		if barType.InstrumentID == quote.InstrumentID && barType.Spec.Price != model.PriceTypeLast {
			aggregators = append(aggregators, agg)
		}
	}
	e.mu.RUnlock()

	for _, agg := range aggregators {
		if bar, closed := agg.OnQuote(quote); closed {
			e.routeClosedBar(bar)
		}
	}
}

// OnTrade passes a trade to the instrument's book (whose ApplyTrade is
// a no-op), publishes it, and feeds every active
// LAST-price time-bar aggregator for that instrument. BID/ASK/MID bars
// are fed from quotes via OnBookDelta instead.
func (e *Engine) OnTrade(trade model.TradeTick) {
	book := e.bookFor(trade.InstrumentID)
	book.ApplyTrade(trade)
	e.publish(fmt.Sprintf("%s.%s", TopicTrade, trade.InstrumentID.String()), trade)

	e.mu.RLock()
	aggregators := make([]*TimeBarAggregator, 0, len(e.aggregators))
	for barType, agg := range e.aggregators {
		if barType.InstrumentID == trade.InstrumentID && barType.Spec.Price == model.PriceTypeLast {
			aggregators = append(aggregators, agg)
		}
	}
	e.mu.RUnlock()

	for _, agg := range aggregators {
		if bar, closed := agg.OnTrade(trade); closed {
			e.routeClosedBar(bar)
		}
	}
}

// routeClosedBar publishes a newly closed bar and feeds it into every
// composite ("X@Y") bar chain subscribed to that bar type, recursively
// fanning a closed composite bar out to any chain built on top of it.
func (e *Engine) routeClosedBar(bar model.Bar) {
	e.publish(fmt.Sprintf("%s.%s", TopicBar, bar.Type.String()), bar)

	e.mu.RLock()
	dependents := append([]model.BarType(nil), e.compositesBySource[bar.Type]...)
	e.mu.RUnlock()

	for _, compositeType := range dependents {
		e.mu.RLock()
		agg := e.composites[compositeType]
		e.mu.RUnlock()
		if agg == nil {
			continue
		}
		if closed, ok := agg.OnSourceBar(bar); ok {
			e.routeClosedBar(closed)
		}
	}
}

func (e *Engine) bookFor(instrumentID model.InstrumentID) *model.OrderBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[instrumentID]
	if !ok {
		book = model.NewOrderBook(instrumentID, model.BookLevelL2)
		e.books[instrumentID] = book
	}
	return book
}

// SubscribeBars registers an internally-aggregated bar series, creating
// its TimeBarAggregator (or, for a composite "X@Y" bar type, its
// CompositeBarAggregator plus the underlying source subscription) if
// this is the first subscriber.
func (e *Engine) SubscribeBars(barType model.BarType) BarAggregator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribeBarsLocked(barType)
}

func (e *Engine) subscribeBarsLocked(barType model.BarType) BarAggregator {
	if src, ok := barType.Source(); ok {
		if agg, ok := e.composites[barType]; ok {
			return agg
		}
		ratio := int(barType.Spec.Duration() / src.Spec.Duration())
		agg := NewCompositeBarAggregator(barType, ratio)
		e.composites[barType] = agg
		e.compositesBySource[src] = append(e.compositesBySource[src], barType)
		e.subscribeBarsLocked(src)
		return agg
	}
	agg, ok := e.aggregators[barType]
	if !ok {
		agg = NewTimeBarAggregator(barType)
		e.aggregators[barType] = agg
	}
	return agg
}

// RequestBars serves a historical warm-up query through the configured
// HistoricalProvider, generalizing Scanner's resty-based Gamma API
// polling into a provider-agnostic historical data request. It does
// not understand composite bar chains — see RequestAggregatedBars.
func (e *Engine) RequestBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error) {
	if e.historic == nil {
		return nil, fmt.Errorf("data: no historical provider configured")
	}
	return e.historic.RequestBars(ctx, barType, from, to)
}

// RequestAggregatedBars serves a request_aggregated_bars-style warm-up
// query. For a plain bar type it delegates straight to RequestBars.
// For a composite "X@Y" bar type it recursively fetches the component
// series (supporting chains more than one level deep), walks the
// component bars in ts_event (Bar.Timestamp) order through a scratch
// CompositeBarAggregator, and drops the trailing partial bucket —
// fewer than the full ratio of component bars — rather than emitting
// an incomplete composite bar.
func (e *Engine) RequestAggregatedBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error) {
	src, ok := barType.Source()
	if !ok {
		return e.RequestBars(ctx, barType, from, to)
	}

	sourceBars, err := e.RequestAggregatedBars(ctx, src, from, to)
	if err != nil {
		return nil, err
	}
	sort.Slice(sourceBars, func(i, j int) bool {
		return sourceBars[i].Timestamp.Before(sourceBars[j].Timestamp)
	})

	ratio := int(barType.Spec.Duration() / src.Spec.Duration())
	agg := NewCompositeBarAggregator(barType, ratio)
	out := make([]model.Bar, 0, len(sourceBars)/ratio+1)
	for _, bar := range sourceBars {
		if closed, ok := agg.OnSourceBar(bar); ok {
			out = append(out, closed)
		}
	}
	return out, nil
}
