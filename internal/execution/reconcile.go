package execution

import (
	"context"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// sizeTolerancePct mirrors the teacher's reconcileOrders size slack
// (10%) for deciding whether a cached order's fill state has drifted
// enough from venue state to catch up, generalized from a single
// desired bid/ask pair to an arbitrary set of venue orders. No price
// tolerance is applied.
const sizeTolerancePct = 0.10

// ReconcileInstrument diffs the cache's view of open orders for an
// instrument against the venue's actual open orders, generalizing the
// teacher's reconcileOrders (diff desired quotes vs. activeOrders,
// cancel what doesn't match, adopt what does) into a general
// startup/reconnect reconciliation pass:
//
//   - A venue order with no corresponding cached order is adopted as a
//     new synthetic Order, keyed by a deterministic ClientOrderID
//     derived from its VenueOrderID, so repeated reconciliation passes
//     converge on the same identity rather than creating duplicates.
//   - A cached working order with no corresponding venue order is
//     marked canceled locally (the venue already dropped it).
//   - A cached working order whose venue-reported fill quantity has
//     advanced by at least sizeTolerancePct of its quantity (or that
//     the venue reports FILLED) is caught up with a fill event for the
//     delta, applied to the order and cached; no TopicOrderFilled
//     event is published for it.
//   - Any drift between the cached position and the venue-reported
//     position is corrected and published as a PositionAdjusted event
//     (spec §4.4 step 3).
//   - Adopted orders are attached to whatever strategy claimed the
//     instrument via SetExternalOrderClaim, or parked under the
//     EXTERNAL sentinel strategy if nothing claimed it (spec §4.4
//     step 4).
func (e *Engine) ReconcileInstrument(ctx context.Context, instrumentID model.InstrumentID) error {
	venueOrders, err := e.client.OpenOrders(ctx, instrumentID)
	if err != nil {
		return err
	}
	now := time.Now()

	venueByVenueID := make(map[model.VenueOrderID]VenueOrderSnapshot, len(venueOrders))
	for _, vo := range venueOrders {
		venueByVenueID[vo.VenueOrderID] = vo
	}

	cached := e.cache.OrdersForInstrument(instrumentID)
	cachedByVenueID := make(map[model.VenueOrderID]*model.Order, len(cached))
	for _, o := range cached {
		if o.VenueOrderID != "" {
			cachedByVenueID[o.VenueOrderID] = o
		}
	}

	// Cached working orders the venue no longer knows about: cancel locally.
	for _, o := range cached {
		if !o.IsWorking() {
			continue
		}
		if _, stillOpen := venueByVenueID[o.VenueOrderID]; !stillOpen {
			if err := o.Apply(model.OrderEvent{Kind: model.EventOrderCanceled, Timestamp: now}); err != nil {
				e.logger.Warn("reconcile: failed to cancel stale cached order", "client_order_id", o.ClientOrderID, "error", err)
				continue
			}
			_ = e.cache.AddOrder(o)
			e.logger.Info("reconcile: canceled cached order missing from venue", "client_order_id", o.ClientOrderID)
		}
	}

	// Venue orders with no cached counterpart: adopt as synthetic orders.
	for _, vo := range venueOrders {
		if _, known := cachedByVenueID[vo.VenueOrderID]; known {
			e.catchUpFills(cachedByVenueID[vo.VenueOrderID], vo, now)
			continue
		}
		synthetic := e.adoptVenueOrder(vo, now)
		if err := e.cache.AddOrder(synthetic); err != nil {
			e.logger.Warn("reconcile: failed to persist adopted order", "venue_order_id", vo.VenueOrderID, "error", err)
			continue
		}
		e.logger.Info("reconcile: adopted venue order with no local record",
			"client_order_id", synthetic.ClientOrderID, "venue_order_id", vo.VenueOrderID)
	}

	if vp, err := e.client.Positions(ctx, instrumentID); err != nil {
		e.logger.Warn("reconcile: failed to fetch venue position", "instrument_id", instrumentID, "error", err)
	} else {
		e.reconcilePosition(instrumentID, vp, now)
	}
	return nil
}

// positionID derives the cache key for instrumentID's position under
// this engine's account, matching internal/portfolio's NETTING
// convention (one position per instrument per account).
func (e *Engine) positionID(instrumentID model.InstrumentID) model.PositionID {
	return model.PositionID(string(e.accountID) + ":" + instrumentID.String())
}

// reconcilePosition compares the cache's position against the venue's
// reported state and, on drift, corrects the cache and publishes
// PositionAdjusted with the difference (spec §4.4 step 3).
func (e *Engine) reconcilePosition(instrumentID model.InstrumentID, vp VenuePositionSnapshot, now time.Time) {
	id := e.positionID(instrumentID)
	pos, ok := e.cache.Position(id)
	previous := model.NewQuantityFromFloat(0, 0)
	if ok {
		previous = pos.NetQty
	}
	delta := vp.NetQty.Sub(previous)
	if delta.IsZero() {
		return
	}

	if !ok {
		currency := "USD"
		if inst, instOK := e.cache.Instrument(instrumentID); instOK {
			currency = inst.QuoteCurrency
		}
		pos = model.NewPosition(id, instrumentID, e.accountID, currency)
	}
	pos.NetQty = vp.NetQty
	if !vp.AvgEntryPrice.IsZero() {
		pos.AvgEntryPrice = vp.AvgEntryPrice
	}
	pos.LastUpdated = now
	if err := e.cache.AddPosition(pos); err != nil {
		e.logger.Warn("reconcile: failed to persist adjusted position", "instrument_id", instrumentID, "error", err)
		return
	}

	e.publish(TopicPositionAdjusted, PositionAdjusted{
		InstrumentID: instrumentID,
		AccountID:    e.accountID,
		PreviousQty:  previous,
		AdjustedQty:  vp.NetQty,
		Delta:        delta,
		Timestamp:    now,
	})
	e.logger.Info("reconcile: adjusted position", "instrument_id", instrumentID, "previous", previous.String(), "adjusted", vp.NetQty.String())
}

// adoptVenueOrder builds a synthetic Order for a venue order the cache
// never placed locally (e.g. restarted after a crash, or an order
// placed through another client id), assigning it a deterministic
// ClientOrderID and fast-forwarding its event history to the venue's
// reported state.
func (e *Engine) adoptVenueOrder(vo VenueOrderSnapshot, now time.Time) *model.Order {
	id := e.NewDeterministicClientOrderID(vo.VenueOrderID)
	strategyID := e.claimedStrategy(vo.InstrumentID)
	o := model.NewOrder(id, vo.InstrumentID, strategyID, vo.Side, model.OrderTypeLimit, vo.OriginalQty, vo.Price, model.TimeInForceGTC, now)
	_ = o.Apply(model.OrderEvent{Kind: model.EventOrderSubmitted, Timestamp: now})
	_ = o.Apply(model.OrderEvent{Kind: model.EventOrderAccepted, VenueOrderID: vo.VenueOrderID, Timestamp: now})
	if vo.FilledQty.IsPositive() {
		_ = o.Apply(model.OrderEvent{Kind: model.EventOrderFilled, FillPrice: vo.Price, FillQty: vo.FilledQty, Timestamp: now})
	}
	return o
}

// catchUpFills applies venue-reported fill quantity the cached order
// hasn't seen yet, skipping drift smaller than sizeTolerancePct of the
// order quantity unless the venue reports the order FILLED (consistent
// with the teacher's reconcileOrders size-tolerance matching, which
// avoided churning orders over negligible size drift).
func (e *Engine) catchUpFills(o *model.Order, vo VenueOrderSnapshot, now time.Time) {
	delta := vo.FilledQty.Sub(o.FilledQty)
	if !delta.IsPositive() {
		return
	}
	drift := delta.Float64() / maxFloat(o.Quantity.Float64(), 1e-9)
	if drift < sizeTolerancePct && vo.Status != model.OrderStatusFilled {
		return
	}
	if err := o.Apply(model.OrderEvent{Kind: model.EventOrderFilled, FillPrice: vo.Price, FillQty: delta, Timestamp: now}); err != nil {
		e.logger.Warn("reconcile: failed to catch up fill", "client_order_id", o.ClientOrderID, "error", err)
		return
	}
	_ = e.cache.AddOrder(o)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
