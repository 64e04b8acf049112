package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/cache"
	"github.com/nautilus-trader/nautilus-core-go/internal/risk"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

type fakeClient struct {
	submitErr   error
	nextVenueID model.VenueOrderID
	submitted   []*model.Order
	canceled    []model.VenueOrderID
	modified    []model.VenueOrderID
	openOrders  []VenueOrderSnapshot
	position    VenuePositionSnapshot
}

func (f *fakeClient) SubmitOrder(ctx context.Context, o *model.Order) (model.VenueOrderID, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, o)
	if f.nextVenueID == "" {
		return "V-1", nil
	}
	return f.nextVenueID, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID) error {
	f.canceled = append(f.canceled, venueOrderID)
	return nil
}

func (f *fakeClient) ModifyOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID, price model.Price, qty model.Quantity) error {
	f.modified = append(f.modified, venueOrderID)
	return nil
}

func (f *fakeClient) OpenOrders(ctx context.Context, instrumentID model.InstrumentID) ([]VenueOrderSnapshot, error) {
	return f.openOrders, nil
}

func (f *fakeClient) Positions(ctx context.Context, instrumentID model.InstrumentID) (VenuePositionSnapshot, error) {
	return f.position, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrument() model.InstrumentID { return model.NewInstrumentID("BTCUSDT", "BINANCE") }

func permissiveRiskManager() *risk.Manager {
	return risk.NewManager(risk.Config{
		MaxPositionPerInstrument: 1_000_000,
		MaxGlobalExposure:        1_000_000,
		MaxInstrumentsActive:     100,
		KillSwitchDropPct:        0.5,
		KillSwitchWindowSec:      60,
		MaxDailyLoss:             1_000_000,
		CooldownAfterKill:        time.Minute,
	}, testLogger(), nil)
}

func newTestOrder(id model.ClientOrderID) *model.Order {
	return model.NewOrder(id, testInstrument(), "STRAT-1", model.OrderSideBuy, model.OrderTypeLimit,
		model.NewQuantityFromFloat(10, 2), model.NewPriceFromFloat(100, 2), model.TimeInForceGTC, time.Now())
}

func TestSubmitOrderAccepted(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	if err := e.SubmitOrder(context.Background(), o, 1000); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.Status != model.OrderStatusAccepted {
		t.Errorf("expected ACCEPTED, got %s", o.Status)
	}
	if o.VenueOrderID != "V-1" {
		t.Errorf("expected venue order id V-1, got %s", o.VenueOrderID)
	}
	if len(client.submitted) != 1 {
		t.Fatalf("expected 1 order submitted to client, got %d", len(client.submitted))
	}
}

func TestSubmitOrderDeniedByRisk(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	rm := risk.NewManager(risk.Config{
		MaxPositionPerInstrument: 10,
		MaxGlobalExposure:        10,
		MaxInstrumentsActive:     5,
		CooldownAfterKill:        time.Minute,
	}, testLogger(), nil)
	e := New("ACC-1", OMSNetting, c, rm, nil, client, testLogger())

	o := newTestOrder("C-1")
	err := e.SubmitOrder(context.Background(), o, 100_000)
	if err == nil {
		t.Fatal("expected denial error")
	}
	if o.Status != model.OrderStatusDenied {
		t.Errorf("expected DENIED, got %s", o.Status)
	}
	if len(client.submitted) != 0 {
		t.Error("order should never have reached the venue client")
	}
}

func TestSubmitOrderVenueError(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{submitErr: errors.New("venue down")}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	if err := e.SubmitOrder(context.Background(), o, 1000); err == nil {
		t.Fatal("expected error from venue client")
	}
	if o.Status != model.OrderStatusRejected {
		t.Errorf("expected REJECTED on venue error, got %s", o.Status)
	}
}

func TestCancelOrder(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	if err := e.SubmitOrder(context.Background(), o, 1000); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if err := e.CancelOrder(context.Background(), "C-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if o.Status != model.OrderStatusCanceled {
		t.Errorf("expected CANCELED, got %s", o.Status)
	}
	if len(client.canceled) != 1 {
		t.Error("expected venue CancelOrder to be called")
	}
}

func TestCancelAllCancelsOnlyWorkingOrders(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o1 := newTestOrder("C-1")
	o2 := newTestOrder("C-2")
	_ = e.SubmitOrder(context.Background(), o1, 1000)
	_ = e.SubmitOrder(context.Background(), o2, 1000)

	e.CancelAll(context.Background(), testInstrument())

	if o1.Status != model.OrderStatusCanceled || o2.Status != model.OrderStatusCanceled {
		t.Errorf("expected both orders canceled, got %s and %s", o1.Status, o2.Status)
	}
}

func TestModifyOrderRoundTripsThroughPendingUpdate(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	if err := e.SubmitOrder(context.Background(), o, 1000); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	newPrice := model.NewPriceFromFloat(101, 2)
	newQty := model.NewQuantityFromFloat(5, 2)
	if err := e.ModifyOrder(context.Background(), "C-1", newPrice, newQty); err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	if o.Status != model.OrderStatusAccepted {
		t.Errorf("expected modify to settle back to ACCEPTED, got %s", o.Status)
	}
	if !o.Price.Decimal().Equal(newPrice.Decimal()) || !o.Quantity.Decimal().Equal(newQty.Decimal()) {
		t.Error("expected order price/quantity to reflect the modification")
	}
	if len(client.modified) != 1 {
		t.Error("expected venue ModifyOrder to be called")
	}
}

func TestApplyFillUpdatesOrderAndCache(t *testing.T) {
	c := cache.New(nil)
	client := &fakeClient{}
	e := New("ACC-1", OMSNetting, c, permissiveRiskManager(), nil, client, testLogger())

	o := newTestOrder("C-1")
	_ = e.SubmitOrder(context.Background(), o, 1000)

	if err := e.ApplyFill(o, model.NewPriceFromFloat(100, 2), model.NewQuantityFromFloat(10, 2), "T-1", time.Now()); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if o.Status != model.OrderStatusFilled {
		t.Errorf("expected FILLED, got %s", o.Status)
	}
	cached, ok := c.Order("C-1")
	if !ok || cached.Status != model.OrderStatusFilled {
		t.Error("expected cache to reflect the fill")
	}
}

func TestDeterministicClientOrderIDIsStable(t *testing.T) {
	e := New("ACC-1", OMSNetting, cache.New(nil), permissiveRiskManager(), nil, &fakeClient{}, testLogger())
	a := e.NewDeterministicClientOrderID("V-123")
	b := e.NewDeterministicClientOrderID("V-123")
	if a != b {
		t.Errorf("expected stable id, got %s != %s", a, b)
	}
	c := e.NewDeterministicClientOrderID("V-456")
	if a == c {
		t.Error("expected different venue ids to produce different client order ids")
	}
}
