package execution

import (
	"context"
	"testing"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/bus"
	"github.com/nautilus-trader/nautilus-core-go/internal/cache"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

func TestReconcileAdoptsUnknownVenueOrder(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{
		openOrders: []VenueOrderSnapshot{
			{
				VenueOrderID: "V-999", InstrumentID: testInstrument(), Side: model.OrderSideBuy,
				Price: model.NewPriceFromFloat(100, 2), OriginalQty: model.NewQuantityFromFloat(5, 2),
				FilledQty: model.NewQuantityFromFloat(0, 2), Status: model.OrderStatusAccepted,
			},
		},
	}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	if err := e.ReconcileInstrument(context.Background(), testInstrument()); err != nil {
		t.Fatalf("ReconcileInstrument: %v", err)
	}

	orders := c.OrdersForInstrument(testInstrument())
	if len(orders) != 1 {
		t.Fatalf("expected 1 adopted order, got %d", len(orders))
	}
	if orders[0].VenueOrderID != "V-999" {
		t.Errorf("expected adopted order to carry venue id V-999, got %s", orders[0].VenueOrderID)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{
		openOrders: []VenueOrderSnapshot{
			{
				VenueOrderID: "V-999", InstrumentID: testInstrument(), Side: model.OrderSideBuy,
				Price: model.NewPriceFromFloat(100, 2), OriginalQty: model.NewQuantityFromFloat(5, 2),
				FilledQty: model.NewQuantityFromFloat(0, 2), Status: model.OrderStatusAccepted,
			},
		},
	}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	_ = e.ReconcileInstrument(context.Background(), testInstrument())
	_ = e.ReconcileInstrument(context.Background(), testInstrument())

	orders := c.OrdersForInstrument(testInstrument())
	if len(orders) != 1 {
		t.Fatalf("expected reconciliation to converge on 1 order, got %d", len(orders))
	}
}

func TestReconcileCancelsOrderMissingFromVenue(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	_ = e.SubmitOrder(context.Background(), o, 1000)

	// venue now reports no open orders at all
	client.openOrders = nil

	if err := e.ReconcileInstrument(context.Background(), testInstrument()); err != nil {
		t.Fatalf("ReconcileInstrument: %v", err)
	}
	if o.Status != model.OrderStatusCanceled {
		t.Errorf("expected cached order to be canceled locally, got %s", o.Status)
	}
}

func TestReconcileCatchesUpVenueReportedFill(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	_ = e.SubmitOrder(context.Background(), o, 1000)

	client.openOrders = []VenueOrderSnapshot{
		{
			VenueOrderID: o.VenueOrderID, InstrumentID: testInstrument(), Side: model.OrderSideBuy,
			Price: model.NewPriceFromFloat(100, 2), OriginalQty: model.NewQuantityFromFloat(10, 2),
			FilledQty: model.NewQuantityFromFloat(10, 2), Status: model.OrderStatusFilled,
		},
	}

	if err := e.ReconcileInstrument(context.Background(), testInstrument()); err != nil {
		t.Fatalf("ReconcileInstrument: %v", err)
	}
	if o.Status != model.OrderStatusFilled {
		t.Errorf("expected order to catch up to FILLED, got %s", o.Status)
	}
}

func TestReconcileEmitsPositionAdjustedOnDrift(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{
		position: VenuePositionSnapshot{
			InstrumentID: testInstrument(), NetQty: model.NewQuantityFromFloat(5, 2),
			AvgEntryPrice: model.NewPriceFromFloat(100, 2),
		},
	}
	var got []PositionAdjusted
	b := bus.New(testLogger(), nil)
	b.Subscribe(TopicPositionAdjusted, func(_ string, msg interface{}) {
		if pa, ok := msg.(PositionAdjusted); ok {
			got = append(got, pa)
		}
	})
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), b, client, testLogger())

	if err := e.ReconcileInstrument(context.Background(), testInstrument()); err != nil {
		t.Fatalf("ReconcileInstrument: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 PositionAdjusted event, got %d", len(got))
	}
	if !got[0].Delta.Decimal().Equal(model.NewQuantityFromFloat(5, 2).Decimal()) {
		t.Errorf("expected delta 5, got %s", got[0].Delta.String())
	}

	pos, ok := c.Position(e.positionID(testInstrument()))
	if !ok || !pos.NetQty.Decimal().Equal(model.NewQuantityFromFloat(5, 2).Decimal()) {
		t.Error("expected cached position to adopt the venue-reported net qty")
	}
}

func TestReconcileAttachesClaimedInstrumentToStrategy(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{
		openOrders: []VenueOrderSnapshot{
			{
				VenueOrderID: "V-1", InstrumentID: testInstrument(), Side: model.OrderSideBuy,
				Price: model.NewPriceFromFloat(100, 2), OriginalQty: model.NewQuantityFromFloat(5, 2),
			},
		},
	}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())
	e.SetExternalOrderClaim(testInstrument(), "maker-BTCUSDT.BINANCE")

	if err := e.ReconcileInstrument(context.Background(), testInstrument()); err != nil {
		t.Fatalf("ReconcileInstrument: %v", err)
	}
	orders := c.OrdersForInstrument(testInstrument())
	if len(orders) != 1 || orders[0].StrategyID != "maker-BTCUSDT.BINANCE" {
		t.Fatalf("expected adopted order claimed by maker strategy, got %+v", orders)
	}
}

func TestReconcileParksUnclaimedOrdersUnderExternalSentinel(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{
		openOrders: []VenueOrderSnapshot{
			{
				VenueOrderID: "V-2", InstrumentID: testInstrument(), Side: model.OrderSideBuy,
				Price: model.NewPriceFromFloat(100, 2), OriginalQty: model.NewQuantityFromFloat(5, 2),
			},
		},
	}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	if err := e.ReconcileInstrument(context.Background(), testInstrument()); err != nil {
		t.Fatalf("ReconcileInstrument: %v", err)
	}
	orders := c.OrdersForInstrument(testInstrument())
	if len(orders) != 1 || orders[0].StrategyID != model.StrategyIDExternal {
		t.Fatalf("expected adopted order parked under EXTERNAL sentinel, got %+v", orders)
	}
}

func TestAdoptVenueOrderSetsDeterministicID(t *testing.T) {
	e := New("ACC-1", OMSNetting, cache.New(nil), permissiveRiskManager(), nil, &fakeClient{}, testLogger())
	vo := VenueOrderSnapshot{
		VenueOrderID: "V-1", InstrumentID: testInstrument(), Side: model.OrderSideSell,
		Price: model.NewPriceFromFloat(50, 2), OriginalQty: model.NewQuantityFromFloat(1, 2),
	}
	a := e.adoptVenueOrder(vo, time.Now())
	b := e.adoptVenueOrder(vo, time.Now())
	if a.ClientOrderID != b.ClientOrderID {
		t.Error("expected adopting the same venue order twice to produce the same client order id")
	}
}
