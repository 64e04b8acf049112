package model

import (
	"time"
)

// OrderSide names the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType names the order's execution style.
type OrderType string

const (
	OrderTypeMarket             OrderType = "MARKET"
	OrderTypeLimit              OrderType = "LIMIT"
	OrderTypeStopMarket         OrderType = "STOP_MARKET"
	OrderTypeStopLimit          OrderType = "STOP_LIMIT"
	OrderTypeMarketIfTouched    OrderType = "MARKET_IF_TOUCHED"
	OrderTypeLimitIfTouched     OrderType = "LIMIT_IF_TOUCHED"
	OrderTypeTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"
	OrderTypeTrailingStopLimit  OrderType = "TRAILING_STOP_LIMIT"
)

// HasTrigger reports whether this order type rests dormant in the book
// until a trigger price is touched, per spec §3/§4.5.
func (t OrderType) HasTrigger() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeMarketIfTouched, OrderTypeLimitIfTouched,
		OrderTypeTrailingStopMarket, OrderTypeTrailingStopLimit:
		return true
	default:
		return false
	}
}

// IsTrailing reports whether the trigger price recomputes off the best
// price on every book update rather than staying fixed.
func (t OrderType) IsTrailing() bool {
	return t == OrderTypeTrailingStopMarket || t == OrderTypeTrailingStopLimit
}

// ActivatesAsMarket reports whether the order becomes a MARKET order
// once triggered (as opposed to resting as a LIMIT at TriggerPrice).
func (t OrderType) ActivatesAsMarket() bool {
	return t == OrderTypeStopMarket || t == OrderTypeTrailingStopMarket || t == OrderTypeMarketIfTouched
}

// TimeInForce names how long an order remains working.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTD TimeInForce = "GTD"
)

// ContingencyType names the relationship between linked orders,
// generalizing the rishavpaul-system-design order types into the
// spec's OTO/OCO/OUO list.
type ContingencyType string

const (
	ContingencyNone ContingencyType = "NONE"
	ContingencyOTO  ContingencyType = "OTO" // one-triggers-other
	ContingencyOCO  ContingencyType = "OCO" // one-cancels-other
	ContingencyOUO  ContingencyType = "OUO" // one-updates-other
)

// OrderStatus is the lifecycle state of an order, derived as a fold
// over its event list rather than stored independently.
type OrderStatus string

const (
	OrderStatusInitialized   OrderStatus = "INITIALIZED"
	OrderStatusDenied        OrderStatus = "DENIED"
	OrderStatusEmulated      OrderStatus = "EMULATED"
	OrderStatusReleased      OrderStatus = "RELEASED"
	OrderStatusSubmitted     OrderStatus = "SUBMITTED"
	OrderStatusAccepted      OrderStatus = "ACCEPTED"
	OrderStatusTriggered     OrderStatus = "TRIGGERED"
	OrderStatusPendingUpdate OrderStatus = "PENDING_UPDATE"
	OrderStatusPendingCancel OrderStatus = "PENDING_CANCEL"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled      OrderStatus = "FILLED"
	OrderStatusCanceled    OrderStatus = "CANCELED"
	OrderStatusRejected    OrderStatus = "REJECTED"
	OrderStatusExpired     OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further events can be applied.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired, OrderStatusDenied:
		return true
	default:
		return false
	}
}

// OrderEventKind names the kind of event applied to an order.
type OrderEventKind string

const (
	EventOrderDenied        OrderEventKind = "DENIED"
	EventOrderEmulated      OrderEventKind = "EMULATED"
	EventOrderReleased      OrderEventKind = "RELEASED"
	EventOrderSubmitted     OrderEventKind = "SUBMITTED"
	EventOrderAccepted      OrderEventKind = "ACCEPTED"
	EventOrderTriggered     OrderEventKind = "TRIGGERED"
	EventOrderPendingUpdate OrderEventKind = "PENDING_UPDATE"
	EventOrderPendingCancel OrderEventKind = "PENDING_CANCEL"
	EventOrderRejected    OrderEventKind = "REJECTED"
	EventOrderCanceled    OrderEventKind = "CANCELED"
	EventOrderExpired     OrderEventKind = "EXPIRED"
	EventOrderFilled      OrderEventKind = "FILLED"
	EventOrderUpdated     OrderEventKind = "UPDATED"
)

// OrderEvent is one fact applied to an Order's history. The Order's
// current state is always the fold over its Events slice, matching the
// spec's event-sourced order model (spec §3.6).
type OrderEvent struct {
	Kind         OrderEventKind
	VenueOrderID VenueOrderID
	TradeID      TradeID
	FillPrice    Price
	FillQty      Quantity
	Reason       string
	Timestamp    time.Time
}

// Order is an event-sourced order: all mutable state is derived by
// applying Events in order via Apply. Generalizes the teacher's
// request/response structs (pkg/types.UserOrder, OrderResponse,
// OpenOrder), which had no notion of event history, into the spec's
// append-only order model.
type Order struct {
	ClientOrderID   ClientOrderID
	VenueOrderID    VenueOrderID
	InstrumentID    InstrumentID
	StrategyID      StrategyID
	Side            OrderSide
	Type            OrderType
	TimeInForce     TimeInForce
	Price           Price    // zero for MARKET orders
	TriggerPrice    Price    // for STOP_*/MIT/LIT/TRAILING_* orders
	TrailingOffset  Price    // distance maintained from the best price for TRAILING_* orders
	Quantity        Quantity
	FilledQty       Quantity
	AvgFillPrice    Price
	Status          OrderStatus
	Contingency     ContingencyType
	LinkedOrderIDs  []ClientOrderID
	ReduceOnly      bool     // clamps rather than rejects when it would flip/increase position, spec §4.5
	PostOnly        bool     // rejected at submission if it would cross the book immediately
	DisplayQty      Quantity // iceberg: visible quantity, zero means fully displayed
	Triggered       bool     // true once a conditional order has activated in the matching book
	DeniedReason    string
	FilledTradeIDs  map[TradeID]bool // fills already folded in, for idempotent replay
	Events          []OrderEvent
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder constructs a fresh order in the INITIALIZED state.
func NewOrder(clientOrderID ClientOrderID, instrumentID InstrumentID, strategyID StrategyID, side OrderSide, orderType OrderType, qty Quantity, price Price, tif TimeInForce, now time.Time) *Order {
	return &Order{
		ClientOrderID: clientOrderID,
		InstrumentID:  instrumentID,
		StrategyID:    strategyID,
		Side:          side,
		Type:          orderType,
		TimeInForce:   tif,
		Price:         price,
		Quantity:      qty,
		Status:        OrderStatusInitialized,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Apply folds an OrderEvent into the order's state. Applying an event
// to an order already in a terminal state is an invariant violation.
// Apart from that terminal check, Apply does not validate the event
// against the current status: any non-terminal status accepts any event
// kind, so back-transitions are not rejected.
func (o *Order) Apply(ev OrderEvent) error {
	if o.Status.IsTerminal() {
		return NewInvariantError("Order", "cannot apply event to order in terminal status "+string(o.Status))
	}
	if ev.Kind == EventOrderFilled && ev.TradeID != "" {
		if o.FilledTradeIDs == nil {
			o.FilledTradeIDs = make(map[TradeID]bool)
		}
		if o.FilledTradeIDs[ev.TradeID] {
			return nil
		}
		o.FilledTradeIDs[ev.TradeID] = true
	}
	o.Events = append(o.Events, ev)
	o.UpdatedAt = ev.Timestamp

	switch ev.Kind {
	case EventOrderDenied:
		o.Status = OrderStatusDenied
		o.DeniedReason = ev.Reason
	case EventOrderEmulated:
		o.Status = OrderStatusEmulated
	case EventOrderReleased:
		o.Status = OrderStatusReleased
	case EventOrderSubmitted:
		o.Status = OrderStatusSubmitted
	case EventOrderAccepted:
		// From PENDING_UPDATE this models the venue confirming a pending
		// amendment.
		o.Status = OrderStatusAccepted
		if ev.VenueOrderID != "" {
			o.VenueOrderID = ev.VenueOrderID
		}
	case EventOrderTriggered:
		o.Status = OrderStatusTriggered
		o.Triggered = true
	case EventOrderPendingUpdate:
		o.Status = OrderStatusPendingUpdate
	case EventOrderPendingCancel:
		o.Status = OrderStatusPendingCancel
	case EventOrderRejected:
		o.Status = OrderStatusRejected
	case EventOrderCanceled:
		o.Status = OrderStatusCanceled
	case EventOrderExpired:
		o.Status = OrderStatusExpired
	case EventOrderFilled:
		newFilled := o.FilledQty.Add(ev.FillQty)
		if o.FilledQty.IsZero() {
			o.AvgFillPrice = ev.FillPrice
		} else {
			// weighted average: (old*oldQty + fill*fillQty) / newQty
			oldNotional := o.FilledQty.Mul(o.AvgFillPrice)
			fillNotional := ev.FillQty.Mul(ev.FillPrice)
			total := oldNotional.Add(fillNotional)
			if !newFilled.IsZero() {
				o.AvgFillPrice = NewPrice(total.Decimal().Div(newFilled.Decimal()))
			}
		}
		o.FilledQty = newFilled
		if o.FilledQty.Cmp(o.Quantity) >= 0 {
			o.Status = OrderStatusFilled
		} else {
			o.Status = OrderStatusPartiallyFilled
		}
	case EventOrderUpdated:
		// price/qty amendment, fields already updated by caller before Apply
	}
	return nil
}

// LeavesQty returns the unfilled remainder.
func (o *Order) LeavesQty() Quantity {
	return o.Quantity.Sub(o.FilledQty)
}

// IsWorking reports whether the order is live at the venue.
func (o *Order) IsWorking() bool {
	switch o.Status {
	case OrderStatusAccepted, OrderStatusPartiallyFilled, OrderStatusPendingUpdate, OrderStatusPendingCancel, OrderStatusTriggered:
		return true
	default:
		return false
	}
}
