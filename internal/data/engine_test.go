package data

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testInstrument() model.InstrumentID { return model.NewInstrumentID("BTCUSDT", "BINANCE") }

func bookDelta(side model.OrderSide, price, size float64, seq uint64, ts time.Time) model.OrderBookDelta {
	return model.OrderBookDelta{
		InstrumentID: testInstrument(),
		Action:       model.BookActionUpdate,
		Order: model.BookOrder{
			Side: side, Price: model.NewPriceFromFloat(price, 2), Size: model.NewQuantityFromFloat(size, 2),
		},
		Sequence:  seq,
		Timestamp: ts,
	}
}

func TestSubscribeIsIdempotentAndRefCounted(t *testing.T) {
	e := New(nil, nil, testLogger())
	e.Subscribe(testInstrument())
	e.Subscribe(testInstrument())
	if !e.IsSubscribed(testInstrument()) {
		t.Fatal("expected instrument to be subscribed")
	}
	e.Unsubscribe(testInstrument())
	if !e.IsSubscribed(testInstrument()) {
		t.Fatal("expected instrument to remain subscribed after releasing one of two references")
	}
	e.Unsubscribe(testInstrument())
	if e.IsSubscribed(testInstrument()) {
		t.Fatal("expected instrument to be unsubscribed after releasing the last reference")
	}
}

func TestOnBookDeltaUpdatesBookMirror(t *testing.T) {
	e := New(nil, nil, testLogger())
	e.Subscribe(testInstrument())
	now := time.Now()

	e.OnBookDelta(bookDelta(model.OrderSideBuy, 100, 5, 1, now))
	e.OnBookDelta(bookDelta(model.OrderSideSell, 101, 5, 2, now))

	book := e.Book(testInstrument())
	if book == nil {
		t.Fatal("expected a book mirror to exist")
	}
	bid, ask, ok := book.BestBidAsk()
	if !ok {
		t.Fatal("expected best bid/ask to be available")
	}
	if !bid.Decimal().Equal(model.NewPriceFromFloat(100, 2).Decimal()) {
		t.Errorf("expected bid 100, got %s", bid.String())
	}
	if !ask.Decimal().Equal(model.NewPriceFromFloat(101, 2).Decimal()) {
		t.Errorf("expected ask 101, got %s", ask.String())
	}
}

func TestOnTradeFeedsSubscribedBarAggregators(t *testing.T) {
	e := New(nil, nil, testLogger())
	barType := model.BarType{
		InstrumentID: testInstrument(),
		Spec:         model.BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast},
		Internal:     true,
	}
	e.SubscribeBars(barType)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.OnTrade(model.TradeTick{InstrumentID: testInstrument(), Price: model.NewPriceFromFloat(100, 2), Size: model.NewQuantityFromFloat(1, 2), Timestamp: base})
	e.OnTrade(model.TradeTick{InstrumentID: testInstrument(), Price: model.NewPriceFromFloat(105, 2), Size: model.NewQuantityFromFloat(1, 2), Timestamp: base.Add(70 * time.Second)})

	agg := e.SubscribeBars(barType)
	bar, ok := agg.Flush()
	if !ok {
		t.Fatal("expected an open partial bar from the second bucket")
	}
	if !bar.Open.Decimal().Equal(model.NewPriceFromFloat(105, 2).Decimal()) {
		t.Errorf("expected second bucket open 105, got %s", bar.Open.String())
	}
}

func TestOnBookDeltaFeedsMidPriceBarAggregator(t *testing.T) {
	e := New(nil, nil, testLogger())
	barType := model.BarType{
		InstrumentID: testInstrument(),
		Spec:         model.BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeMid},
		Internal:     true,
	}
	e.SubscribeBars(barType)
	e.Subscribe(testInstrument())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.OnBookDelta(bookDelta(model.OrderSideBuy, 99, 5, 1, base))
	e.OnBookDelta(bookDelta(model.OrderSideSell, 101, 5, 2, base))
	// New bucket: moves the mid from 100 to 100.5.
	e.OnBookDelta(bookDelta(model.OrderSideBuy, 100, 5, 3, base.Add(70*time.Second)))

	agg := e.SubscribeBars(barType)
	bar, ok := agg.Flush()
	if !ok {
		t.Fatal("expected an open partial bar for the second bucket")
	}
	if !bar.Open.Decimal().Equal(model.NewPriceFromFloat(100.5, 2).Decimal()) {
		t.Errorf("expected second bucket mid-price open 100.5, got %s", bar.Open.String())
	}
}

func TestCompositeBarAggregatorFoldsEmittedSourceBars(t *testing.T) {
	e := New(nil, nil, testLogger())
	source := model.BarType{
		InstrumentID: testInstrument(),
		Spec:         model.BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast},
		Internal:     false,
	}
	composite := model.BarType{
		InstrumentID:   testInstrument(),
		Spec:           model.BarSpecification{Step: 5, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast},
		Internal:       true,
		Composite:      true,
		SourceSpec:     source.Spec,
		SourceInternal: source.Internal,
	}
	e.SubscribeBars(composite)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []float64{100, 102, 98, 101, 103}
	for i, p := range prices {
		e.OnTrade(model.TradeTick{
			InstrumentID: testInstrument(),
			Price:        model.NewPriceFromFloat(p, 2),
			Size:         model.NewQuantityFromFloat(1, 2),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	// A trade in the 6th minute closes the 5th 1-minute bar, which in
	// turn closes the composite 5-minute bucket built from bars 0-4.
	e.OnTrade(model.TradeTick{
		InstrumentID: testInstrument(),
		Price:        model.NewPriceFromFloat(110, 2),
		Size:         model.NewQuantityFromFloat(1, 2),
		Timestamp:    base.Add(6 * time.Minute),
	})

	agg := e.SubscribeBars(composite)
	bar, ok := agg.(*CompositeBarAggregator).Flush()
	if ok {
		t.Fatalf("expected the composite bucket to have already closed, got open partial bar %+v", bar)
	}
}

type fakeHistoricalProvider struct {
	bars []model.Bar
	err  error
}

func (f *fakeHistoricalProvider) RequestBars(ctx context.Context, barType model.BarType, from, to time.Time) ([]model.Bar, error) {
	return f.bars, f.err
}

func TestRequestBarsDelegatesToProvider(t *testing.T) {
	barType := model.BarType{InstrumentID: testInstrument(), Spec: model.BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast}}
	provider := &fakeHistoricalProvider{bars: []model.Bar{{Type: barType}}}
	e := New(nil, provider, testLogger())

	bars, err := e.RequestBars(context.Background(), barType, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("RequestBars: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar from provider, got %d", len(bars))
	}
}

func TestRequestAggregatedBarsFoldsCompositeChainAndDropsTrailingPartial(t *testing.T) {
	source := model.BarType{
		InstrumentID: testInstrument(),
		Spec:         model.BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast},
	}
	composite := model.BarType{
		InstrumentID:   testInstrument(),
		Spec:           model.BarSpecification{Step: 5, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast},
		Internal:       true,
		Composite:      true,
		SourceSpec:     source.Spec,
		SourceInternal: source.Internal,
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const totalMinutes = 12 // 2 full 5-minute buckets plus a trailing 2-bar partial
	bars := make([]model.Bar, 0, totalMinutes)
	for i := 0; i < totalMinutes; i++ {
		p := model.NewPriceFromFloat(float64(100+i), 2)
		bars = append(bars, model.Bar{
			Type:      source,
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    model.NewQuantityFromFloat(1, 2),
			Timestamp: base.Add(time.Duration(i+1) * time.Minute),
		})
	}
	provider := &fakeHistoricalProvider{bars: bars}
	e := New(nil, provider, testLogger())

	got, err := e.RequestAggregatedBars(context.Background(), composite, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("RequestAggregatedBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 complete 5-minute bars from 12 1-minute bars (trailing partial dropped), got %d", len(got))
	}
	if !got[0].Open.Decimal().Equal(bars[0].Open.Decimal()) {
		t.Errorf("expected first composite bar's open to match the first component bar's open, got %s want %s", got[0].Open, bars[0].Open)
	}
	if !got[0].Close.Decimal().Equal(bars[4].Close.Decimal()) {
		t.Errorf("expected first composite bar's close to match the 5th component bar's close, got %s want %s", got[0].Close, bars[4].Close)
	}
	if !got[0].Timestamp.Equal(bars[4].Timestamp) {
		t.Errorf("expected first composite bar's ts_event to be the bucket close, got %v want %v", got[0].Timestamp, bars[4].Timestamp)
	}
	wantVolume := model.NewQuantityFromFloat(5, 2)
	if !got[0].Volume.Decimal().Equal(wantVolume.Decimal()) {
		t.Errorf("expected first composite bar's volume to sum the 5 component volumes, got %s want %s", got[0].Volume, wantVolume)
	}
}

func TestRequestBarsErrorsWithoutProvider(t *testing.T) {
	e := New(nil, nil, testLogger())
	_, err := e.RequestBars(context.Background(), model.BarType{}, time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected error when no historical provider is configured")
	}
}
