package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// Fill is one execution produced by matching a taker order (or a
// trade-tick price override) against a resting maker order, mirroring
// rishavpaul-system-design/order-matching-engine/internal/orders.Fill,
// generalized to decimal Price/Quantity, model identifiers, and
// maker/taker commission per spec §4.5's fees-and-fills rule.
type Fill struct {
	TradeID      model.TradeID
	MakerOrderID model.ClientOrderID
	TakerOrderID model.ClientOrderID
	InstrumentID model.InstrumentID
	Price        model.Price
	Quantity     model.Quantity
	TakerSide    model.OrderSide
	MakerFee     model.Money
	TakerFee     model.Money
	Timestamp    time.Time
}

// ExecutionResult reports what happened when an order was submitted to
// the engine: zero or more fills (including any produced by a
// contingency cascade the submission released), and whether/why
// anything remains resting or was rejected.
type ExecutionResult struct {
	Accepted     bool
	RejectReason string
	Fills        []Fill
	RestingQty   model.Quantity
}

// tradeTickTakerID marks fills produced by OnTradeTick's transient
// price override rather than a real local taker order.
const tradeTickTakerID model.ClientOrderID = "TRADE-TICK"

// Engine is a synchronous, single-instrument-per-book matching engine
// used by backtests to simulate fills against a locally maintained
// order book, per spec §4.5. It is driven directly by synchronous calls
// (Submit, and book cancels/amends from internal/kernel's
// BacktestClient) rather than by a separate ingestion pipeline — see
// the package doc for why the reference repo's disruptor pattern isn't
// used here. internal/data does not feed it book updates or trades.
type Engine struct {
	books          map[model.InstrumentID]*Book
	tradeSeq       uint64
	netPosition    map[model.InstrumentID]model.Quantity
	parkedChildren map[model.ClientOrderID][]*model.Order // OTO parent id -> children awaiting release
}

// NewEngine constructs an empty matching engine.
func NewEngine() *Engine {
	return &Engine{
		books:          make(map[model.InstrumentID]*Book),
		netPosition:    make(map[model.InstrumentID]model.Quantity),
		parkedChildren: make(map[model.ClientOrderID][]*model.Order),
	}
}

// AddInstrument registers a tradable instrument's book, keeping the
// instrument's tick/fee definition alongside it so matching can clamp
// prices and compute maker/taker commission.
func (e *Engine) AddInstrument(def model.InstrumentDefinition) {
	if _, ok := e.books[def.ID]; !ok {
		e.books[def.ID] = NewBook(def)
	}
}

// Book returns the order book for an instrument, or nil if unknown.
func (e *Engine) Book(id model.InstrumentID) *Book {
	return e.books[id]
}

// NetPosition returns the engine's own running signed net position for
// an instrument (positive long, negative short), accumulated from
// every fill it has produced. internal/kernel's BacktestClient reports
// this as the venue's position for execution engine reconciliation.
func (e *Engine) NetPosition(id model.InstrumentID) model.Quantity {
	return e.netPosition[id]
}

// Submit processes an incoming order against the resting book for its
// instrument: clamps reduce-only quantity against the running position,
// rejects post-only orders that would take immediately, parks
// conditional orders until triggered, then matches what it can at
// acceptable prices and rests any remainder (or cancels MARKET/IOC/FOK
// remainders), following rishavpaul-system-design's
// ProcessOrder/matchOrder shape generalized with spec §4.5's trigger,
// contingency, and fee rules.
func (e *Engine) Submit(o *model.Order, now time.Time) *ExecutionResult {
	result := &ExecutionResult{Fills: make([]Fill, 0)}

	book, ok := e.books[o.InstrumentID]
	if !ok {
		result.RejectReason = fmt.Sprintf("matching: unknown instrument %s", o.InstrumentID)
		return result
	}

	e.clampReduceOnly(o, book)
	if o.ReduceOnly && o.Quantity.IsZero() {
		result.Accepted = true
		return result
	}
	if o.Quantity.IsZero() || o.Quantity.IsNegative() {
		result.RejectReason = "matching: quantity must be positive"
		return result
	}
	if o.Type == model.OrderTypeLimit && (o.Price.IsZero() || o.Price.Decimal().IsNegative()) {
		result.RejectReason = "matching: limit order must have a positive price"
		return result
	}
	if o.PostOnly && e.wouldCross(o, book) {
		result.RejectReason = "matching: post-only order would cross the book"
		return result
	}

	if o.Type.HasTrigger() {
		result.Accepted = true
		result.RestingQty = o.Quantity
		book.AddPending(o)
		triggered := e.evaluateTriggers(book, now)
		result.Fills = append(result.Fills, triggered.Fills...)
		return result
	}

	result.Accepted = true
	return e.matchAndRest(o, book, now, result)
}

// matchAndRest runs the core matching algorithm for an order already
// past admission checks (a fresh limit/market submission, or a
// conditional order that just activated), then sweeps any other
// pending conditional orders the resulting book state now triggers.
func (e *Engine) matchAndRest(o *model.Order, book *Book, now time.Time, result *ExecutionResult) *ExecutionResult {
	if o.TimeInForce == model.TimeInForceFOK && !e.canFillEntirely(o, book) {
		result.Accepted = false
		result.RejectReason = "matching: fill-or-kill order cannot be filled entirely"
		return result
	}

	filledBefore := o.FilledQty
	e.match(o, book, now, result)

	remaining := o.LeavesQty()
	activatedAsMarket := o.Triggered && o.Type.ActivatesAsMarket()
	if remaining.IsPositive() {
		switch {
		case o.Type == model.OrderTypeMarket || activatedAsMarket:
			// unfilled remainder is simply not rested
		case o.TimeInForce == model.TimeInForceIOC || o.TimeInForce == model.TimeInForceFOK:
			// cancel remainder rather than resting
		default:
			book.AddResting(o)
			result.RestingQty = remaining
		}
	}

	delta := o.FilledQty.Sub(filledBefore)
	e.afterOrderEvent(o, delta, book, now, result)

	if len(book.pending) > 0 {
		triggered := e.evaluateTriggers(book, now)
		result.Fills = append(result.Fills, triggered.Fills...)
	}
	return result
}

// match walks the opposite side of the book, filling the taker against
// resting makers at the maker's own price (price-time priority, taker
// receives any price improvement), appending each Fill to result and
// running the contingency hook for any maker that completes.
func (e *Engine) match(taker *model.Order, book *Book, now time.Time, result *ExecutionResult) {
	oppositeBest := func() *priceLevel {
		if taker.Side == model.OrderSideBuy {
			return book.BestAsk()
		}
		return book.BestBid()
	}
	priceAcceptable := func(levelPrice model.Price) bool {
		if taker.Type == model.OrderTypeMarket || (taker.Triggered && taker.Type.ActivatesAsMarket()) {
			return true
		}
		if taker.Side == model.OrderSideBuy {
			return levelPrice.LessThan(taker.Price) || levelPrice.Cmp(taker.Price) == 0
		}
		return levelPrice.GreaterThan(taker.Price) || levelPrice.Cmp(taker.Price) == 0
	}

	for taker.LeavesQty().IsPositive() {
		level := oppositeBest()
		if level == nil || !priceAcceptable(level.price) {
			break
		}

		for elem := level.queue.Front(); elem != nil && taker.LeavesQty().IsPositive(); {
			maker := elem.Value.(*restingOrder).order
			next := elem.Next()

			fillQty := minQuantity(taker.LeavesQty(), maker.LeavesQty())
			fillPrice := level.price // maker's price: price improvement for the taker

			e.tradeSeq++
			tradeID := model.TradeID(fmt.Sprintf("T-%d", e.tradeSeq))
			makerFee, takerFee := e.computeFees(book, fillQty, fillPrice)

			result.Fills = append(result.Fills, Fill{
				TradeID: tradeID, MakerOrderID: maker.ClientOrderID, TakerOrderID: taker.ClientOrderID,
				InstrumentID: taker.InstrumentID, Price: fillPrice, Quantity: fillQty,
				TakerSide: taker.Side, MakerFee: makerFee, TakerFee: takerFee, Timestamp: now,
			})

			_ = taker.Apply(model.OrderEvent{Kind: model.EventOrderFilled, FillPrice: fillPrice, FillQty: fillQty, TradeID: tradeID, Timestamp: now})
			_ = maker.Apply(model.OrderEvent{Kind: model.EventOrderFilled, FillPrice: fillPrice, FillQty: fillQty, TradeID: tradeID, Timestamp: now})
			e.updatePosition(taker.InstrumentID, taker.Side, fillQty)
			e.updatePosition(maker.InstrumentID, maker.Side, fillQty)

			if maker.Status.IsTerminal() {
				level.queue.Remove(elem)
				delete(book.byOrderID, maker.ClientOrderID)
				delete(book.levelByOrder, maker.ClientOrderID)
				delete(book.allOrders, maker.ClientOrderID)
			}
			e.afterOrderEvent(maker, fillQty, book, now, result)

			elem = next
		}
		book.removeLevelIfEmpty(taker.Side.Opposite(), level)
	}
}

// OnTradeTick implements spec §4.5's transient price override: a trade
// print with aggressor SELL at price P matches any resting BUY priced
// at or above P (and symmetrically for a BUY aggressor), filling each
// at its own resting price since the tick is evidence that liquidity
// existed there even though it arrives out of band from the local
// order book. Matched quantity is the resting order's full remainder —
// the tick carries no size of its own to cap it by.
func (e *Engine) OnTradeTick(instrumentID model.InstrumentID, price model.Price, aggressor model.OrderSide, now time.Time) *ExecutionResult {
	result := &ExecutionResult{Accepted: true, Fills: make([]Fill, 0)}
	book, ok := e.books[instrumentID]
	if !ok {
		return result
	}

	restingSide := model.OrderSideBuy
	if aggressor == model.OrderSideBuy {
		restingSide = model.OrderSideSell
	}
	levels := *book.levelsFor(restingSide)
	snapshot := append([]*priceLevel(nil), levels...)

	for _, level := range snapshot {
		crosses := level.price.Cmp(price) >= 0
		if restingSide == model.OrderSideSell {
			crosses = level.price.Cmp(price) <= 0
		}
		if !crosses {
			continue
		}

		for elem := level.queue.Front(); elem != nil; {
			maker := elem.Value.(*restingOrder).order
			next := elem.Next()

			fillQty := maker.LeavesQty()
			fillPrice := level.price
			e.tradeSeq++
			tradeID := model.TradeID(fmt.Sprintf("T-%d", e.tradeSeq))
			makerFee, _ := e.computeFees(book, fillQty, fillPrice)

			result.Fills = append(result.Fills, Fill{
				TradeID: tradeID, MakerOrderID: maker.ClientOrderID, TakerOrderID: tradeTickTakerID,
				InstrumentID: instrumentID, Price: fillPrice, Quantity: fillQty,
				TakerSide: aggressor, MakerFee: makerFee, Timestamp: now,
			})

			_ = maker.Apply(model.OrderEvent{Kind: model.EventOrderFilled, FillPrice: fillPrice, FillQty: fillQty, TradeID: tradeID, Timestamp: now})
			e.updatePosition(instrumentID, maker.Side, fillQty)

			if maker.Status.IsTerminal() {
				level.queue.Remove(elem)
				delete(book.byOrderID, maker.ClientOrderID)
				delete(book.levelByOrder, maker.ClientOrderID)
				delete(book.allOrders, maker.ClientOrderID)
			}
			e.afterOrderEvent(maker, fillQty, book, now, result)

			elem = next
		}
		book.removeLevelIfEmpty(restingSide, level)
	}

	triggered := e.evaluateTriggers(book, now)
	result.Fills = append(result.Fills, triggered.Fills...)
	return result
}

// evaluateTriggers recomputes trailing trigger prices off the current
// best bid/ask, then activates any pending conditional order whose
// trigger has now been touched, routing it through matchAndRest as
// either a MARKET (STOP_MARKET/TRAILING_STOP_MARKET/MARKET_IF_TOUCHED)
// or a LIMIT at its resting price (STOP_LIMIT/LIMIT_IF_TOUCHED/
// TRAILING_STOP_LIMIT), per spec §4.5's tick-driven processing.
func (e *Engine) evaluateTriggers(book *Book, now time.Time) *ExecutionResult {
	result := &ExecutionResult{Accepted: true, Fills: make([]Fill, 0)}

	for _, o := range book.PendingOrders() {
		e.recomputeTrailing(o, book)
	}
	for _, o := range book.PendingOrders() {
		if !e.isTriggered(o, book) {
			continue
		}
		book.RemovePending(o.ClientOrderID)
		_ = o.Apply(model.OrderEvent{Kind: model.EventOrderTriggered, Timestamp: now})
		e.matchAndRest(o, book, now, result)
	}
	return result
}

// recomputeTrailing advances a TRAILING_STOP_*'s trigger price to track
// the best opposing price by TrailingOffset, moving only in the
// favorable direction (a SELL trail only rises, a BUY trail only
// falls), per spec §4.5 "trailing orders recompute the trigger on each
// best-price update."
func (e *Engine) recomputeTrailing(o *model.Order, book *Book) {
	if !o.Type.IsTrailing() {
		return
	}
	if o.Side == model.OrderSideSell {
		best := book.BestBid()
		if best == nil {
			return
		}
		candidate := model.NewPrice(best.price.Decimal().Sub(o.TrailingOffset.Decimal()))
		if o.TriggerPrice.IsZero() || candidate.GreaterThan(o.TriggerPrice) {
			o.TriggerPrice = candidate
		}
		return
	}
	best := book.BestAsk()
	if best == nil {
		return
	}
	candidate := model.NewPrice(best.price.Decimal().Add(o.TrailingOffset.Decimal()))
	if o.TriggerPrice.IsZero() || candidate.LessThan(o.TriggerPrice) {
		o.TriggerPrice = candidate
	}
}

// isTriggered reports whether the market has printed at or through a
// conditional order's trigger price: a BUY stop/trailing-stop
// activates as the market rises to meet it, a SELL stop activates as
// it falls; MARKET_IF_TOUCHED/LIMIT_IF_TOUCHED activate on the
// opposite approach (touched from the favorable side).
func (e *Engine) isTriggered(o *model.Order, book *Book) bool {
	switch o.Type {
	case model.OrderTypeStopMarket, model.OrderTypeStopLimit, model.OrderTypeTrailingStopMarket, model.OrderTypeTrailingStopLimit:
		if o.Side == model.OrderSideBuy {
			best := book.BestAsk()
			return best != nil && best.price.Cmp(o.TriggerPrice) >= 0
		}
		best := book.BestBid()
		return best != nil && best.price.Cmp(o.TriggerPrice) <= 0
	case model.OrderTypeMarketIfTouched, model.OrderTypeLimitIfTouched:
		if o.Side == model.OrderSideBuy {
			best := book.BestAsk()
			return best != nil && best.price.Cmp(o.TriggerPrice) <= 0
		}
		best := book.BestBid()
		return best != nil && best.price.Cmp(o.TriggerPrice) >= 0
	default:
		return false
	}
}

// clampReduceOnly reduces a reduce_only order's quantity to the size of
// the opposing side of the engine's running net position, rather than
// rejecting it, per spec §4.5/§8 S4: "quantity auto-reduced... never
// rejected, never exceeds position."
func (e *Engine) clampReduceOnly(o *model.Order, book *Book) {
	if !o.ReduceOnly {
		return
	}
	pos := e.netPosition[o.InstrumentID]
	var available model.Quantity
	switch {
	case o.Side == model.OrderSideSell && pos.IsPositive():
		available = pos
	case o.Side == model.OrderSideBuy && pos.IsNegative():
		available = pos.Neg()
	default:
		available = model.NewQuantityFromFloat(0, 0)
	}
	if o.Quantity.Cmp(available) > 0 {
		o.Quantity = available
	}
}

// wouldCross reports whether a post-only order's limit price would
// immediately take against the opposing book top, per spec §4.5
// "post-only limits that would be takers at submit time are rejected."
func (e *Engine) wouldCross(o *model.Order, book *Book) bool {
	if o.Type != model.OrderTypeLimit {
		return false
	}
	var opposite *priceLevel
	if o.Side == model.OrderSideBuy {
		opposite = book.BestAsk()
	} else {
		opposite = book.BestBid()
	}
	if opposite == nil {
		return false
	}
	if o.Side == model.OrderSideBuy {
		return o.Price.Cmp(opposite.price) >= 0
	}
	return o.Price.Cmp(opposite.price) <= 0
}

// computeFees derives maker/taker commission from the filled notional
// using the instrument's maker_fee/taker_fee rates, per spec §4.5
// "Fees and fills."
func (e *Engine) computeFees(book *Book, qty model.Quantity, price model.Price) (maker model.Money, taker model.Money) {
	notional := book.def.Notional(qty, price)
	maker = model.NewMoney(notional.Decimal().Mul(book.def.MakerFee), notional.Currency)
	taker = model.NewMoney(notional.Decimal().Mul(book.def.TakerFee), notional.Currency)
	return maker, taker
}

func (e *Engine) updatePosition(instrumentID model.InstrumentID, side model.OrderSide, qty model.Quantity) {
	delta := qty
	if side == model.OrderSideSell {
		delta = qty.Neg()
	}
	e.netPosition[instrumentID] = e.netPosition[instrumentID].Add(delta)
}

// SubmitWithContingents submits parent and links children to it as an
// OTO group (released only once parent fills); when more than one
// child is given they are further linked OCO to each other (filling or
// canceling one cancels the rest), per spec §4.5's contingency rules.
// Children are held out of the book entirely until release — the
// teacher's own maker strategy never had linked orders, so this is
// grounded directly on spec §3/§4.5's contingency/linked-order model.
func (e *Engine) SubmitWithContingents(parent *model.Order, children []*model.Order, now time.Time) *ExecutionResult {
	childIDs := make([]model.ClientOrderID, len(children))
	for i, c := range children {
		childIDs[i] = c.ClientOrderID
	}
	parent.Contingency = model.ContingencyOTO
	parent.LinkedOrderIDs = append(parent.LinkedOrderIDs, childIDs...)

	if len(children) > 1 {
		for i, c := range children {
			siblings := make([]model.ClientOrderID, 0, len(children)-1)
			for j, other := range children {
				if j != i {
					siblings = append(siblings, other.ClientOrderID)
				}
			}
			c.Contingency = model.ContingencyOCO
			c.LinkedOrderIDs = append(c.LinkedOrderIDs, siblings...)
		}
	}

	if book, ok := e.books[parent.InstrumentID]; ok {
		for _, c := range children {
			book.allOrders[c.ClientOrderID] = c
		}
	}
	e.parkedChildren[parent.ClientOrderID] = children

	return e.Submit(parent, now)
}

// afterOrderEvent applies OTO/OCO/OUO contingency propagation following
// an order event, per spec §4.5: "on parent fill/cancel/reject, child
// orders follow the contingency rules." delta is the quantity just
// filled by this event (zero for a pure cancel), used to size OUO's
// sibling-quantity reduction.
func (e *Engine) afterOrderEvent(o *model.Order, delta model.Quantity, book *Book, now time.Time, result *ExecutionResult) {
	if o.Contingency == model.ContingencyOUO && delta.IsPositive() {
		e.reduceSiblingQuantities(o, delta, book, now)
	}
	if !o.Status.IsTerminal() {
		return
	}
	switch o.Contingency {
	case model.ContingencyOTO:
		if o.Status == model.OrderStatusFilled {
			e.releaseChildren(o, book, now, result)
		}
	case model.ContingencyOCO:
		e.cancelSiblings(o, book, now)
	}
}

// releaseChildren activates an OTO parent's parked children once the
// parent fills, submitting each into the book (or straight to pending
// trigger storage) and folding any resulting fills into result so a
// single top-level Submit call surfaces the whole cascade.
func (e *Engine) releaseChildren(parent *model.Order, book *Book, now time.Time, result *ExecutionResult) {
	children, ok := e.parkedChildren[parent.ClientOrderID]
	if !ok {
		return
	}
	delete(e.parkedChildren, parent.ClientOrderID)

	for _, child := range children {
		_ = child.Apply(model.OrderEvent{Kind: model.EventOrderReleased, Timestamp: now})
		_ = child.Apply(model.OrderEvent{Kind: model.EventOrderSubmitted, Timestamp: now})
		_ = child.Apply(model.OrderEvent{Kind: model.EventOrderAccepted, Timestamp: now})

		childResult := e.Submit(child, now)
		result.Fills = append(result.Fills, childResult.Fills...)
	}
}

// cancelSiblings cancels every still-working order linked to o under an
// OCO group once o itself reaches a terminal state, whether o was
// resting in the book or still parked awaiting its own trigger.
func (e *Engine) cancelSiblings(o *model.Order, book *Book, now time.Time) {
	for _, id := range o.LinkedOrderIDs {
		sib, ok := book.Order(id)
		if !ok || sib.Status.IsTerminal() {
			continue
		}
		if _, resting := book.byOrderID[id]; resting {
			book.CancelOrder(id)
		} else {
			book.RemovePending(id)
		}
		_ = sib.Apply(model.OrderEvent{Kind: model.EventOrderCanceled, Timestamp: now})
	}
}

// reduceSiblingQuantities shrinks an OUO group's linked orders by the
// quantity o just filled, clamped so a sibling never drops below what
// it has already filled itself.
func (e *Engine) reduceSiblingQuantities(o *model.Order, delta model.Quantity, book *Book, now time.Time) {
	for _, id := range o.LinkedOrderIDs {
		sib, ok := book.Order(id)
		if !ok || sib.Status.IsTerminal() {
			continue
		}
		newQty := sib.Quantity.Sub(delta)
		if newQty.Cmp(sib.FilledQty) < 0 {
			newQty = sib.FilledQty
		}
		if newQty.Cmp(sib.Quantity) == 0 {
			continue
		}
		sib.Quantity = newQty
		_ = sib.Apply(model.OrderEvent{Kind: model.EventOrderUpdated, Timestamp: now})
	}
}

func minQuantity(a, b model.Quantity) model.Quantity {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// canFillEntirely reports whether a FOK order's full quantity could be
// matched against the current book without actually matching it.
func (e *Engine) canFillEntirely(o *model.Order, book *Book) bool {
	remaining := o.Quantity
	var levels []*priceLevel
	if o.Side == model.OrderSideBuy {
		levels = book.asks
	} else {
		levels = book.bids
	}
	for _, level := range levels {
		if o.Type != model.OrderTypeMarket {
			if o.Side == model.OrderSideBuy && level.price.GreaterThan(o.Price) {
				break
			}
			if o.Side == model.OrderSideSell && level.price.LessThan(o.Price) {
				break
			}
		}
		for elem := level.queue.Front(); elem != nil; elem = elem.Next() {
			maker := elem.Value.(*restingOrder).order
			remaining = remaining.Sub(maker.LeavesQty())
			if !remaining.IsPositive() {
				return true
			}
		}
	}
	return !remaining.IsPositive()
}

// NewDeterministicClientOrderID derives a stable ClientOrderID from a
// venue order id using UUIDv5, the same approach
// internal/execution's reconciliation path uses for synthetic orders
// discovered only at the venue (see spec §4.4). Exposed here too since
// matching-engine-originated synthetic maker fills need stable ids for
// replay determinism.
func NewDeterministicClientOrderID(namespace uuid.UUID, venueOrderID model.VenueOrderID) model.ClientOrderID {
	return model.ClientOrderID(uuid.NewSHA1(namespace, []byte(venueOrderID)).String())
}
