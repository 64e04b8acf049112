// Package execution is the order-management layer: it submits, cancels
// and modifies orders through a venue Client, gates every new order
// through internal/risk, persists order state to the shared cache, and
// publishes order lifecycle events on the message bus. It generalizes
// the teacher's internal/strategy/maker.go, which folded order
// placement, risk checks and position bookkeeping into one
// market-specific strategy loop, into a standalone, strategy-agnostic
// execution engine any number of strategies can submit orders through.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nautilus-trader/nautilus-core-go/internal/bus"
	"github.com/nautilus-trader/nautilus-core-go/internal/cache"
	"github.com/nautilus-trader/nautilus-core-go/internal/risk"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Topic prefixes published on the shared message bus for order events,
// mirroring the teacher's api.DashboardEvent "type" field but as
// bus-native topics rather than a dashboard-only struct.
const (
	TopicOrderDenied        = "execution.order.denied"
	TopicOrderSubmitted     = "execution.order.submitted"
	TopicOrderAccepted      = "execution.order.accepted"
	TopicOrderRejected      = "execution.order.rejected"
	TopicOrderCanceled      = "execution.order.canceled"
	TopicOrderFilled        = "execution.order.filled"
	TopicOrderPendingUpdate = "execution.order.pending_update"
	TopicOrderPendingCancel = "execution.order.pending_cancel"
	TopicPositionAdjusted   = "execution.position.adjusted"
)

// OMSType records the account's order-management style. NETTING is one
// position per instrument per account (what the teacher's single YES/NO
// Inventory effectively did). The Engine stores the value but does not
// consult it: reconciliation always keys positions one per instrument
// per account, so HEDGING does not produce separate positions.
type OMSType int

const (
	OMSNetting OMSType = iota
	OMSHedging
)

func (t OMSType) String() string {
	if t == OMSHedging {
		return "HEDGING"
	}
	return "NETTING"
}

// VenueOrderSnapshot is a point-in-time view of an order as reported by
// a venue, used for startup/reconnect reconciliation — the generalized
// form of the teacher's types.OpenOrder.
type VenueOrderSnapshot struct {
	VenueOrderID model.VenueOrderID
	InstrumentID model.InstrumentID
	Side         model.OrderSide
	Price        model.Price
	OriginalQty  model.Quantity
	FilledQty    model.Quantity
	Status       model.OrderStatus
}

// VenuePositionSnapshot is a point-in-time view of a position as
// reported by a venue, used by ReconcileInstrument's position-delta
// step (spec §4.4 step 3) to detect drift between the cache's belief
// and the venue's actual holding.
type VenuePositionSnapshot struct {
	InstrumentID  model.InstrumentID
	NetQty        model.Quantity // signed: positive long, negative short
	AvgEntryPrice model.Price
}

// PositionAdjusted reports a reconciliation-driven correction applied
// to a cached position, carrying the delta between what the cache
// believed and what the venue reported.
type PositionAdjusted struct {
	InstrumentID model.InstrumentID
	AccountID    model.AccountID
	PreviousQty  model.Quantity
	AdjustedQty  model.Quantity
	Delta        model.Quantity
	Timestamp    time.Time
}

// Client is the venue-facing boundary internal/execution depends on.
// internal/adapters supplies concrete REST/WS implementations; tests
// supply fakes.
type Client interface {
	SubmitOrder(ctx context.Context, o *model.Order) (model.VenueOrderID, error)
	CancelOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID) error
	ModifyOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID, price model.Price, qty model.Quantity) error
	OpenOrders(ctx context.Context, instrumentID model.InstrumentID) ([]VenueOrderSnapshot, error)
	Positions(ctx context.Context, instrumentID model.InstrumentID) (VenuePositionSnapshot, error)
}

// Engine is the order-management layer for one trading account.
type Engine struct {
	accountID model.AccountID
	oms       OMSType
	cache     *cache.Cache
	risk      *risk.Manager
	bus       *bus.MessageBus
	client    Client
	namespace uuid.UUID
	logger    *slog.Logger

	claimsMu            sync.RWMutex
	externalOrderClaims map[model.InstrumentID]model.StrategyID
}

// New constructs an execution Engine. bus may be nil to skip event
// publication (e.g. in unit tests).
func New(accountID model.AccountID, oms OMSType, c *cache.Cache, riskMgr *risk.Manager, msgBus *bus.MessageBus, client Client, logger *slog.Logger) *Engine {
	return &Engine{
		accountID:           accountID,
		oms:                 oms,
		cache:               c,
		risk:                riskMgr,
		bus:                 msgBus,
		client:              client,
		namespace:           uuid.NewSHA1(uuid.NameSpaceOID, []byte("nautilus-execution:"+string(accountID))),
		logger:              logger.With("component", "execution", "account", accountID),
		externalOrderClaims: make(map[model.InstrumentID]model.StrategyID),
	}
}

func (e *Engine) publish(topic string, msg interface{}) {
	if e.bus != nil {
		e.bus.Publish(topic, msg)
	}
}

// SetExternalOrderClaim attaches any venue order discovered for
// instrumentID during reconciliation to strategyID, rather than parking
// it under the EXTERNAL sentinel, per spec §4.4 step 4.
func (e *Engine) SetExternalOrderClaim(instrumentID model.InstrumentID, strategyID model.StrategyID) {
	e.claimsMu.Lock()
	defer e.claimsMu.Unlock()
	if e.externalOrderClaims == nil {
		e.externalOrderClaims = make(map[model.InstrumentID]model.StrategyID)
	}
	e.externalOrderClaims[instrumentID] = strategyID
}

func (e *Engine) claimedStrategy(instrumentID model.InstrumentID) model.StrategyID {
	e.claimsMu.RLock()
	defer e.claimsMu.RUnlock()
	if sid, ok := e.externalOrderClaims[instrumentID]; ok {
		return sid
	}
	return model.StrategyIDExternal
}

// SubmitOrder runs an order through the pre-trade risk gate, persists
// it, and routes it to the venue client. notionalUSD is the order's
// estimated USD exposure, used by risk.CheckOrder. A risk rejection
// produces OrderDenied rather than OrderRejected: per spec §4.7, denied
// orders never reach the execution client at all.
func (e *Engine) SubmitOrder(ctx context.Context, o *model.Order, notionalUSD float64) error {
	now := time.Now()

	if ok, reason := e.risk.CheckOrder(o.InstrumentID, notionalUSD); !ok {
		if err := o.Apply(model.OrderEvent{Kind: model.EventOrderDenied, Reason: reason, Timestamp: now}); err != nil {
			return err
		}
		_ = e.cache.AddOrder(o)
		e.publish(TopicOrderDenied, o)
		return fmt.Errorf("execution: order %s denied by risk: %s", o.ClientOrderID, reason)
	}

	if err := e.cache.AddOrder(o); err != nil {
		return fmt.Errorf("execution: persist order: %w", err)
	}

	venueOrderID, err := e.client.SubmitOrder(ctx, o)
	if err != nil {
		_ = o.Apply(model.OrderEvent{Kind: model.EventOrderRejected, Reason: err.Error(), Timestamp: now})
		_ = e.cache.AddOrder(o)
		e.publish(TopicOrderRejected, o)
		return fmt.Errorf("execution: submit order %s: %w", o.ClientOrderID, err)
	}

	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderSubmitted, Timestamp: now}); err != nil {
		return err
	}
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderAccepted, VenueOrderID: venueOrderID, Timestamp: now}); err != nil {
		return err
	}
	if err := e.cache.AddOrder(o); err != nil {
		return err
	}
	e.publish(TopicOrderAccepted, o)
	e.logger.Info("order accepted", "client_order_id", o.ClientOrderID, "venue_order_id", venueOrderID)
	return nil
}

// CancelOrder cancels a working order at the venue and records the
// cancellation, generalizing the teacher's cancelAllMyOrders/
// CancelOrders flow to a single-order API any strategy can call. The
// order passes through PENDING_CANCEL while the venue round trip is in
// flight, matching the 14-state lifecycle spec §3 requires.
func (e *Engine) CancelOrder(ctx context.Context, id model.ClientOrderID) error {
	o, ok := e.cache.Order(id)
	if !ok {
		return fmt.Errorf("execution: unknown order %s", id)
	}
	if !o.IsWorking() {
		return fmt.Errorf("execution: order %s is not working (status %s)", id, o.Status)
	}
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderPendingCancel, Timestamp: time.Now()}); err != nil {
		return err
	}
	_ = e.cache.AddOrder(o)
	e.publish(TopicOrderPendingCancel, o)

	if err := e.client.CancelOrder(ctx, o.InstrumentID, o.VenueOrderID); err != nil {
		return fmt.Errorf("execution: cancel order %s: %w", id, err)
	}
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderCanceled, Timestamp: time.Now()}); err != nil {
		return err
	}
	if err := e.cache.AddOrder(o); err != nil {
		return err
	}
	e.publish(TopicOrderCanceled, o)
	return nil
}

// ModifyOrder amends a working order's price/quantity, routing it
// through PENDING_UPDATE and back to ACCEPTED on venue confirmation —
// the one permitted back-transition in the order state machine (spec
// §3/§8).
func (e *Engine) ModifyOrder(ctx context.Context, id model.ClientOrderID, price model.Price, qty model.Quantity) error {
	o, ok := e.cache.Order(id)
	if !ok {
		return fmt.Errorf("execution: unknown order %s", id)
	}
	if !o.IsWorking() {
		return fmt.Errorf("execution: order %s is not working (status %s)", id, o.Status)
	}
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderPendingUpdate, Timestamp: time.Now()}); err != nil {
		return err
	}
	_ = e.cache.AddOrder(o)
	e.publish(TopicOrderPendingUpdate, o)

	if err := e.client.ModifyOrder(ctx, o.InstrumentID, o.VenueOrderID, price, qty); err != nil {
		return fmt.Errorf("execution: modify order %s: %w", id, err)
	}
	o.Price = price
	o.Quantity = qty
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderAccepted, VenueOrderID: o.VenueOrderID, Timestamp: time.Now()}); err != nil {
		return err
	}
	if err := e.cache.AddOrder(o); err != nil {
		return err
	}
	e.publish(TopicOrderAccepted, o)
	return nil
}

// CancelAll cancels every working order for an instrument, the
// generalized form of the teacher's cancelAllMyOrders (called on
// stale book, kill switch, or strategy shutdown).
func (e *Engine) CancelAll(ctx context.Context, instrumentID model.InstrumentID) {
	for _, o := range e.cache.OrdersForInstrument(instrumentID) {
		if !o.IsWorking() {
			continue
		}
		if err := e.CancelOrder(ctx, o.ClientOrderID); err != nil {
			e.logger.Error("cancel all: failed to cancel order", "client_order_id", o.ClientOrderID, "error", err)
		}
	}
}

// ApplyFill folds a venue fill into the given order's event history,
// persists the order to the cache and publishes TopicOrderFilled,
// mirroring the teacher's handleFill, which updated Inventory directly
// off the trade websocket. The caller supplies the order; ApplyFill
// does not look up or create one for a fill the cache has never seen.
func (e *Engine) ApplyFill(o *model.Order, price model.Price, qty model.Quantity, tradeID model.TradeID, now time.Time) error {
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderFilled, FillPrice: price, FillQty: qty, TradeID: tradeID, Timestamp: now}); err != nil {
		return err
	}
	if err := e.cache.AddOrder(o); err != nil {
		return err
	}
	e.publish(TopicOrderFilled, o)
	return nil
}

// NewDeterministicClientOrderID derives a stable ClientOrderID from a
// venue order id using UUIDv5 under this engine's account-scoped
// namespace, so the same venue order always reconciles to the same
// synthetic ClientOrderID across restarts.
func (e *Engine) NewDeterministicClientOrderID(venueOrderID model.VenueOrderID) model.ClientOrderID {
	return model.ClientOrderID(uuid.NewSHA1(e.namespace, []byte(venueOrderID)).String())
}
