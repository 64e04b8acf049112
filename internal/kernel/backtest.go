package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/execution"
	"github.com/nautilus-trader/nautilus-core-go/internal/matching"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// BacktestFill is one matching-engine execution reported back to the
// Kernel for application through internal/execution.Engine.ApplyFill,
// keeping backtest order flow on the same accepted-then-filled event
// sequence a live venue round trip produces.
type BacktestFill struct {
	ClientOrderID model.ClientOrderID
	Price         model.Price
	Quantity      model.Quantity
	TradeID       model.TradeID
	Timestamp     time.Time
}

// BacktestClient adapts internal/matching.Engine to satisfy
// execution.Client and data.HistoricalProvider, letting the kernel run
// the exact same Maker strategy and execution/risk/portfolio stack
// against a simulated local order book instead of a live venue. It
// generalizes the teacher's reliance on a single live exchange.Client
// (there was no backtest mode) by grounding the matching side on
// internal/matching, itself grounded on
// rishavpaul-system-design/order-matching-engine.
type BacktestClient struct {
	engine *matching.Engine

	mu         sync.Mutex
	fillCh     chan BacktestFill
	venueSeq   uint64
	byVenueID  map[model.VenueOrderID]model.ClientOrderID
}

// NewBacktestClient constructs a BacktestClient with an empty matching
// engine; instruments are registered via AddInstrument as the kernel
// starts trading them.
func NewBacktestClient() *BacktestClient {
	return &BacktestClient{
		engine:    matching.NewEngine(),
		fillCh:    make(chan BacktestFill, 256),
		byVenueID: make(map[model.VenueOrderID]model.ClientOrderID),
	}
}

// AddInstrument registers def's book with the underlying matching
// engine, mirroring internal/matching.Engine.AddInstrument.
func (c *BacktestClient) AddInstrument(def model.InstrumentDefinition) {
	c.engine.AddInstrument(def)
}

// Fills returns the channel of fills produced by SubmitOrder, which the
// kernel drains and replays through execution.Engine.ApplyFill.
func (c *BacktestClient) Fills() <-chan BacktestFill { return c.fillCh }

// SubmitOrder matches o against the simulated book immediately and
// returns a synthetic VenueOrderID. Any fills produced are pushed onto
// fillCh for asynchronous application rather than applied inline, so
// callers observe the same submit-then-fill ordering a real venue
// round trip would produce.
func (c *BacktestClient) SubmitOrder(ctx context.Context, o *model.Order) (model.VenueOrderID, error) {
	c.mu.Lock()
	c.venueSeq++
	seq := c.venueSeq
	c.mu.Unlock()

	venueOrderID := model.VenueOrderID(fmt.Sprintf("backtest-%d", seq))

	result := c.engine.Submit(o, time.Now())
	if !result.Accepted {
		return "", fmt.Errorf("kernel: backtest order rejected: %s", result.RejectReason)
	}

	c.mu.Lock()
	c.byVenueID[venueOrderID] = o.ClientOrderID
	c.mu.Unlock()

	for _, fill := range result.Fills {
		select {
		case c.fillCh <- BacktestFill{
			ClientOrderID: o.ClientOrderID,
			Price:         fill.Price,
			Quantity:      fill.Quantity,
			TradeID:       fill.TradeID,
			Timestamp:     fill.Timestamp,
		}:
		default:
		}
	}
	return venueOrderID, nil
}

// CancelOrder removes a resting order from the simulated book. Without
// this, a maker order the execution engine has already marked CANCELED
// stays queued in the book and can still produce a phantom Fill the
// next time a taker crosses its price level.
func (c *BacktestClient) CancelOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID) error {
	book := c.engine.Book(instrumentID)
	if book == nil {
		return fmt.Errorf("kernel: backtest: unknown instrument %s", instrumentID)
	}
	c.mu.Lock()
	clientOrderID, ok := c.byVenueID[venueOrderID]
	delete(c.byVenueID, venueOrderID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	book.CancelOrder(clientOrderID)
	return nil
}

// ModifyOrder amends a resting order's price/quantity in place,
// re-queuing it at the new price level (losing time priority, matching
// real exchange amend semantics).
func (c *BacktestClient) ModifyOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID, price model.Price, qty model.Quantity) error {
	book := c.engine.Book(instrumentID)
	if book == nil {
		return fmt.Errorf("kernel: backtest: unknown instrument %s", instrumentID)
	}
	c.mu.Lock()
	clientOrderID, ok := c.byVenueID[venueOrderID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("kernel: backtest: unknown venue order %s", venueOrderID)
	}
	o := book.CancelOrder(clientOrderID)
	if o == nil {
		return fmt.Errorf("kernel: backtest: order %s is not resting", clientOrderID)
	}
	o.Price = price
	o.Quantity = qty
	book.AddResting(o)
	return nil
}

// Positions reports the matching engine's own running net position for
// instrumentID, the backtest venue's view used by
// execution.Engine.ReconcileInstrument's position-delta step.
func (c *BacktestClient) Positions(ctx context.Context, instrumentID model.InstrumentID) (execution.VenuePositionSnapshot, error) {
	return execution.VenuePositionSnapshot{
		InstrumentID: instrumentID,
		NetQty:       c.engine.NetPosition(instrumentID),
	}, nil
}

// OpenOrders always returns an empty set: the backtest matching engine
// has no independent venue-side state to reconcile against, and the
// kernel's own cache is the single source of truth in this mode.
func (c *BacktestClient) OpenOrders(ctx context.Context, instrumentID model.InstrumentID) ([]execution.VenueOrderSnapshot, error) {
	return nil, nil
}

// RequestBars satisfies data.HistoricalProvider with no data: backtests
// drive price discovery from the matching engine's own book, not a
// venue's historical bar endpoint. Wiring a recorded-tape source is a
// natural extension once one exists in this pack.
func (c *BacktestClient) RequestBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error) {
	return nil, nil
}
