package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/cache"
	"github.com/nautilus-trader/nautilus-core-go/internal/data"
	"github.com/nautilus-trader/nautilus-core-go/internal/execution"
	"github.com/nautilus-trader/nautilus-core-go/internal/portfolio"
	"github.com/nautilus-trader/nautilus-core-go/internal/risk"
	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

type fakeVenueClient struct {
	submitted []*model.Order
	canceled  []model.VenueOrderID
}

func (f *fakeVenueClient) SubmitOrder(ctx context.Context, o *model.Order) (model.VenueOrderID, error) {
	f.submitted = append(f.submitted, o)
	return model.VenueOrderID("V-" + string(o.ClientOrderID)), nil
}

func (f *fakeVenueClient) CancelOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID) error {
	f.canceled = append(f.canceled, venueOrderID)
	return nil
}

func (f *fakeVenueClient) ModifyOrder(ctx context.Context, instrumentID model.InstrumentID, venueOrderID model.VenueOrderID, price model.Price, qty model.Quantity) error {
	return nil
}

func (f *fakeVenueClient) Positions(ctx context.Context, instrumentID model.InstrumentID) (execution.VenuePositionSnapshot, error) {
	return execution.VenuePositionSnapshot{}, nil
}

func (f *fakeVenueClient) OpenOrders(ctx context.Context, instrumentID model.InstrumentID) ([]execution.VenueOrderSnapshot, error) {
	return nil, nil
}

func testInstrumentDefinition() model.InstrumentDefinition {
	id := model.NewInstrumentID("BTCUSDT", "BINANCE")
	return model.InstrumentDefinition{
		ID:             id,
		AssetClass:     model.AssetClassCrypto,
		QuoteCurrency:  "USDT",
		PriceIncrement: model.NewPriceFromFloat(0.01, 2),
		SizeIncrement:  model.NewQuantityFromFloat(0.0001, 4),
		PricePrecision: 2,
		SizePrecision:  4,
		MinPrice:       model.NewPriceFromFloat(0, 2),
		MaxPrice:       model.NewPriceFromFloat(1_000_000, 2),
		Active:         true,
	}
}

func permissiveRiskManagerForMaker() *risk.Manager {
	return risk.NewManager(risk.Config{
		MaxPositionPerInstrument: 1_000_000,
		MaxGlobalExposure:        1_000_000,
		MaxInstrumentsActive:     100,
		KillSwitchDropPct:        0.5,
		KillSwitchWindowSec:      60,
		MaxDailyLoss:             1_000_000,
		CooldownAfterKill:        time.Minute,
	}, silentLogger(), nil)
}

func newTestMaker(t *testing.T) (*Maker, *data.Engine, *fakeVenueClient) {
	t.Helper()
	inst := testInstrumentDefinition()
	c := cache.New(nil)
	client := &fakeVenueClient{}
	riskMgr := permissiveRiskManagerForMaker()
	execEngine := execution.New("ACC-1", execution.OMSNetting, c, riskMgr, nil, client, silentLogger())
	dataEngine := data.New(nil, nil, silentLogger())
	pf := portfolio.New(c)

	cfg := MakerConfig{
		Gamma: 0.1, Sigma: 0.02, K: 1.5, T: 1.0,
		DefaultSpreadBps: 10, OrderSizeUSD: 100,
		RefreshInterval:  time.Second,
		StaleBookTimeout: time.Minute,
		FlowWindow:       time.Minute, FlowToxicityThreshold: 0.6,
		FlowCooldownPeriod: 2 * time.Minute, FlowMaxSpreadMultiplier: 3.0,
	}

	m := NewMaker("STRAT-1", inst, "ACC-1", cfg, execEngine, dataEngine, pf, riskMgr, silentLogger())
	return m, dataEngine, client
}

func seedBook(t *testing.T, de *data.Engine, inst model.InstrumentDefinition, bid, ask float64) {
	t.Helper()
	de.Subscribe(inst.ID)
	now := time.Now()
	de.OnBookDelta(model.OrderBookDelta{
		InstrumentID: inst.ID,
		Action:       model.BookActionAdd,
		Order:        model.BookOrder{Side: model.OrderSideBuy, Price: model.NewPriceFromFloat(bid, 2), Size: model.NewQuantityFromFloat(10, 2)},
		Timestamp:    now,
	})
	de.OnBookDelta(model.OrderBookDelta{
		InstrumentID: inst.ID,
		Action:       model.BookActionAdd,
		Order:        model.BookOrder{Side: model.OrderSideSell, Price: model.NewPriceFromFloat(ask, 2), Size: model.NewQuantityFromFloat(10, 2)},
		Timestamp:    now,
	})
}

func TestComputeQuotesProducesBidBelowAsk(t *testing.T) {
	m, de, _ := newTestMaker(t)
	seedBook(t, de, m.instrument, 99.9, 100.1)

	quotes := m.computeQuotes(100.0, 10_000)
	if quotes.Bid == nil || quotes.Ask == nil {
		t.Fatalf("expected both bid and ask quotes, got %+v", quotes)
	}
	if quotes.Bid.Price.Cmp(quotes.Ask.Price) >= 0 {
		t.Errorf("expected bid < ask, got bid=%s ask=%s", quotes.Bid.Price, quotes.Ask.Price)
	}
}

func TestQuoteUpdateSubmitsOrdersOnFreshBook(t *testing.T) {
	m, de, client := newTestMaker(t)
	seedBook(t, de, m.instrument, 99.9, 100.1)

	m.quoteUpdate(context.Background())

	if len(client.submitted) != 2 {
		t.Fatalf("expected 2 orders submitted (bid+ask), got %d", len(client.submitted))
	}
}

func TestQuoteUpdateCancelsAllOnStaleBook(t *testing.T) {
	m, de, client := newTestMaker(t)
	m.cfg.StaleBookTimeout = time.Nanosecond
	seedBook(t, de, m.instrument, 99.9, 100.1)
	time.Sleep(time.Millisecond)

	m.quoteUpdate(context.Background())

	if len(client.submitted) != 0 {
		t.Errorf("expected no new orders submitted for stale book, got %d", len(client.submitted))
	}
}

func TestReconcileOrdersKeepsMatchingQuote(t *testing.T) {
	m, de, client := newTestMaker(t)
	seedBook(t, de, m.instrument, 99.9, 100.1)

	first := m.computeQuotes(100.0, 10_000)
	if err := m.reconcileOrders(context.Background(), first); err != nil {
		t.Fatalf("reconcileOrders: %v", err)
	}
	if len(client.submitted) != 2 {
		t.Fatalf("expected 2 orders submitted on first reconcile, got %d", len(client.submitted))
	}

	second := m.computeQuotes(100.0, 10_000)
	if err := m.reconcileOrders(context.Background(), second); err != nil {
		t.Fatalf("reconcileOrders: %v", err)
	}
	if len(client.submitted) != 2 {
		t.Errorf("expected no new orders for an unchanged quote, got %d total submitted", len(client.submitted))
	}
}
