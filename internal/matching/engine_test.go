package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

func testInstrument() model.InstrumentID { return model.NewInstrumentID("BTCUSDT", "BINANCE") }

func testInstrumentDefinition() model.InstrumentDefinition {
	return model.InstrumentDefinition{
		ID:             testInstrument(),
		AssetClass:     model.AssetClassCrypto,
		QuoteCurrency:  "USDT",
		PriceIncrement: model.NewPriceFromFloat(0.01, 2),
		SizeIncrement:  model.NewQuantityFromFloat(0.01, 2),
		PricePrecision: 2,
		SizePrecision:  2,
		MakerFee:       decimal.NewFromFloat(0.001),
		TakerFee:       decimal.NewFromFloat(0.002),
		MaxPrice:       model.NewPriceFromFloat(1_000_000, 2),
		MinPrice:       model.NewPriceFromFloat(0, 2),
		Active:         true,
	}
}

func limitOrder(id model.ClientOrderID, side model.OrderSide, price, qty float64, tif model.TimeInForce, now time.Time) *model.Order {
	return model.NewOrder(id, testInstrument(), "STRAT-1", side, model.OrderTypeLimit,
		model.NewQuantityFromFloat(qty, 2), model.NewPriceFromFloat(price, 2), tif, now)
}

func newTestEngine() *Engine {
	e := NewEngine()
	e.AddInstrument(testInstrumentDefinition())
	return e
}

func TestRestingOrderWithNoMatch(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	o := limitOrder("C-1", model.OrderSideBuy, 100, 5, model.TimeInForceGTC, now)
	res := e.Submit(o, now)
	if !res.Accepted {
		t.Fatalf("expected accepted, got reason %q", res.RejectReason)
	}
	if len(res.Fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(res.Fills))
	}
	if e.Book(testInstrument()).BestBid() == nil {
		t.Fatal("expected order to rest in the book")
	}
}

func TestCrossingOrderFillsAtMakerPrice(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	maker := limitOrder("M-1", model.OrderSideSell, 101, 10, model.TimeInForceGTC, now)
	e.Submit(maker, now)

	taker := limitOrder("T-1", model.OrderSideBuy, 102, 4, model.TimeInForceGTC, now)
	res := e.Submit(taker, now)

	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.Fills))
	}
	fill := res.Fills[0]
	if !fill.Price.Decimal().Equal(model.NewPriceFromFloat(101, 2).Decimal()) {
		t.Errorf("expected fill at maker price 101, got %s", fill.Price.String())
	}
	if !fill.Quantity.Decimal().Equal(model.NewQuantityFromFloat(4, 2).Decimal()) {
		t.Errorf("expected fill qty 4, got %s", fill.Quantity.String())
	}
	if taker.Status != model.OrderStatusFilled {
		t.Errorf("expected taker FILLED, got %s", taker.Status)
	}
	if maker.Status != model.OrderStatusPartiallyFilled {
		t.Errorf("expected maker PARTIALLY_FILLED, got %s", maker.Status)
	}
}

func TestFIFOPriorityAtSamePriceLevel(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	first := limitOrder("M-1", model.OrderSideSell, 100, 5, model.TimeInForceGTC, now)
	second := limitOrder("M-2", model.OrderSideSell, 100, 5, model.TimeInForceGTC, now)
	e.Submit(first, now)
	e.Submit(second, now)

	taker := limitOrder("T-1", model.OrderSideBuy, 100, 5, model.TimeInForceGTC, now)
	res := e.Submit(taker, now)

	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.Fills))
	}
	if res.Fills[0].MakerOrderID != "M-1" {
		t.Errorf("expected first-in-queue maker to fill first, got %s", res.Fills[0].MakerOrderID)
	}
	if first.Status != model.OrderStatusFilled {
		t.Errorf("expected first maker FILLED, got %s", first.Status)
	}
	if second.Status != model.OrderStatusInitialized && second.Status != model.OrderStatusAccepted {
		// second maker should remain untouched/resting
		if second.FilledQty.IsPositive() {
			t.Errorf("expected second maker untouched, got filled qty %s", second.FilledQty.String())
		}
	}
}

func TestIOCCancelsUnfilledRemainder(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	maker := limitOrder("M-1", model.OrderSideSell, 100, 2, model.TimeInForceGTC, now)
	e.Submit(maker, now)

	taker := limitOrder("T-1", model.OrderSideBuy, 100, 5, model.TimeInForceIOC, now)
	res := e.Submit(taker, now)

	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.Fills))
	}
	if res.RestingQty.IsPositive() {
		t.Errorf("IOC remainder should not rest, got resting qty %s", res.RestingQty.String())
	}
	if e.Book(testInstrument()).BestBid() != nil {
		t.Error("IOC order should not be added to the book")
	}
}

func TestFOKRejectsWhenNotFullyFillable(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	maker := limitOrder("M-1", model.OrderSideSell, 100, 2, model.TimeInForceGTC, now)
	e.Submit(maker, now)

	taker := limitOrder("T-1", model.OrderSideBuy, 100, 5, model.TimeInForceFOK, now)
	res := e.Submit(taker, now)

	if len(res.Fills) != 0 {
		t.Fatalf("expected no fills for unfillable FOK, got %d", len(res.Fills))
	}
	if maker.FilledQty.IsPositive() {
		t.Error("maker should be untouched when FOK cannot fully fill")
	}
}

func TestCancelOrderRemovesFromBook(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	o := limitOrder("C-1", model.OrderSideBuy, 100, 5, model.TimeInForceGTC, now)
	e.Submit(o, now)

	book := e.Book(testInstrument())
	canceled := book.CancelOrder("C-1")
	if canceled == nil {
		t.Fatal("expected to find and cancel the order")
	}
	if book.BestBid() != nil {
		t.Error("expected book to be empty after cancel")
	}
}

func TestRejectsUnknownInstrument(t *testing.T) {
	e := NewEngine() // no instrument registered
	now := time.Now()
	o := limitOrder("C-1", model.OrderSideBuy, 100, 5, model.TimeInForceGTC, now)
	res := e.Submit(o, now)
	if res.Accepted {
		t.Fatal("expected rejection for unknown instrument")
	}
}

func TestReduceOnlyClampsToAvailablePosition(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	// Build a LONG position of 79: a resting bid filled by a SELL-aggressor
	// trade tick. (A cross between two local orders moves the engine's net
	// position by both sides and leaves it flat.)
	buyer := limitOrder("B-1", model.OrderSideBuy, 50, 79, model.TimeInForceGTC, now)
	e.Submit(buyer, now)
	e.OnTradeTick(testInstrument(), model.NewPriceFromFloat(50, 2), model.OrderSideSell, now)
	if !e.NetPosition(testInstrument()).Decimal().Equal(model.NewQuantityFromFloat(79, 2).Decimal()) {
		t.Fatalf("expected net position 79, got %s", e.NetPosition(testInstrument()).String())
	}

	sell := limitOrder("C-1", model.OrderSideSell, 80, 80, model.TimeInForceGTC, now)
	sell.ReduceOnly = true
	res := e.Submit(sell, now)

	if !res.Accepted {
		t.Fatalf("expected reduce-only order to be accepted, got reason %q", res.RejectReason)
	}
	if !sell.Quantity.Decimal().Equal(model.NewQuantityFromFloat(79, 2).Decimal()) {
		t.Errorf("expected quantity clamped to 79, got %s", sell.Quantity.String())
	}
}

func TestPostOnlyRejectedWhenCrossing(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	maker := limitOrder("M-1", model.OrderSideSell, 100, 5, model.TimeInForceGTC, now)
	e.Submit(maker, now)

	taker := limitOrder("C-1", model.OrderSideBuy, 101, 5, model.TimeInForceGTC, now)
	taker.PostOnly = true
	res := e.Submit(taker, now)

	if res.Accepted {
		t.Fatal("expected post-only crossing order to be rejected")
	}
}

func TestStopMarketActivatesWhenTouched(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	stop := model.NewOrder("C-1", testInstrument(), "STRAT-1", model.OrderSideBuy, model.OrderTypeStopMarket,
		model.NewQuantityFromFloat(5, 2), model.Price{}, model.TimeInForceGTC, now)
	stop.TriggerPrice = model.NewPriceFromFloat(105, 2)
	res := e.Submit(stop, now)
	if !res.Accepted {
		t.Fatalf("expected stop order accepted (parked), got reason %q", res.RejectReason)
	}
	if len(res.Fills) != 0 {
		t.Fatalf("expected no immediate fill before the market ever prints at the trigger, got %d", len(res.Fills))
	}

	// Best ask rises to meet the trigger: the stop should activate as a
	// market order and cross the new resting offer immediately.
	maker := limitOrder("M-1", model.OrderSideSell, 105, 5, model.TimeInForceGTC, now)
	makerRes := e.Submit(maker, now)

	if len(makerRes.Fills) != 1 {
		t.Fatalf("expected the stop's activation to produce 1 fill, got %d", len(makerRes.Fills))
	}
	if stop.Status != model.OrderStatusFilled {
		t.Errorf("expected stop to have triggered and filled against the new ask at 105, got %s", stop.Status)
	}
}

func TestTradeTickPriceOverrideFillsInsideSpread(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	buy := limitOrder("C-1", model.OrderSideBuy, 0.28, 1, model.TimeInForceGTC, now)
	e.Submit(buy, now)
	sell := limitOrder("C-2", model.OrderSideSell, 0.36, 1, model.TimeInForceGTC, now)
	e.Submit(sell, now)

	res := e.OnTradeTick(testInstrument(), model.NewPriceFromFloat(0.27, 2), model.OrderSideSell, now)

	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill from the trade tick override, got %d", len(res.Fills))
	}
	if !res.Fills[0].Price.Decimal().Equal(model.NewPriceFromFloat(0.28, 2).Decimal()) {
		t.Errorf("expected fill at the resting buy's own price 0.28, got %s", res.Fills[0].Price.String())
	}
	if buy.Status != model.OrderStatusFilled {
		t.Errorf("expected resting buy to be FILLED, got %s", buy.Status)
	}
	if sell.Status == model.OrderStatusFilled {
		t.Error("sell-side resting order should be untouched by a sell-aggressor tick")
	}
}

func TestOCOContingencyCancelsSiblingOnFill(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	parent := limitOrder("P-1", model.OrderSideBuy, 50, 100, model.TimeInForceGTC, now)

	ocoLimit := limitOrder("C-1", model.OrderSideSell, 60, 100, model.TimeInForceGTC, now)
	ocoStop := model.NewOrder("C-2", testInstrument(), "STRAT-1", model.OrderSideSell, model.OrderTypeStopMarket,
		model.NewQuantityFromFloat(100, 2), model.Price{}, model.TimeInForceGTC, now)
	ocoStop.TriggerPrice = model.NewPriceFromFloat(45, 2)

	res := e.SubmitWithContingents(parent, []*model.Order{ocoLimit, ocoStop}, now)
	if !res.Accepted {
		t.Fatalf("expected parent accepted, got reason %q", res.RejectReason)
	}

	// Fill the parent by crossing it with a seller at 50.
	filler := limitOrder("F-1", model.OrderSideSell, 50, 100, model.TimeInForceGTC, now)
	fillRes := e.Submit(filler, now)
	if parent.Status != model.OrderStatusFilled {
		t.Fatalf("expected parent FILLED, got %s", parent.Status)
	}

	// Parent's fill should have released both OCO children into the book.
	book := e.Book(testInstrument())
	if _, ok := book.Order("C-1"); !ok {
		t.Fatal("expected OCO limit child to be released into the book")
	}

	// Market trades at 60: the OCO limit child should fill, canceling its sibling stop.
	tickRes := e.OnTradeTick(testInstrument(), model.NewPriceFromFloat(60, 2), model.OrderSideBuy, now)
	_ = fillRes
	_ = tickRes

	if ocoLimit.Status != model.OrderStatusFilled {
		t.Errorf("expected OCO limit sell to fill at 60, got %s", ocoLimit.Status)
	}
	if ocoStop.Status != model.OrderStatusCanceled {
		t.Errorf("expected sibling stop to auto-cancel once the OCO limit filled, got %s", ocoStop.Status)
	}
}
