package data

import (
	"testing"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

func testBarType() model.BarType {
	return model.BarType{
		InstrumentID: model.NewInstrumentID("BTCUSDT", "BINANCE"),
		Spec:         model.BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: model.AggregationTime, Price: model.PriceTypeLast},
		Internal:     true,
	}
}

func trade(price float64, size float64, ts time.Time) model.TradeTick {
	return model.TradeTick{
		InstrumentID: testBarType().InstrumentID,
		Price:        model.NewPriceFromFloat(price, 2),
		Size:         model.NewQuantityFromFloat(size, 2),
		Timestamp:    ts,
	}
}

func TestTimeBarAggregatorNoEmitWithinSameBucket(t *testing.T) {
	agg := NewTimeBarAggregator(testBarType())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, closed := agg.OnTrade(trade(100, 1, base))
	if closed {
		t.Fatal("first trade should never close a bar")
	}
	_, closed = agg.OnTrade(trade(101, 1, base.Add(10*time.Second)))
	if closed {
		t.Fatal("trade within the same minute bucket should not close a bar")
	}
}

func TestTimeBarAggregatorClosesOnNewBucket(t *testing.T) {
	agg := NewTimeBarAggregator(testBarType())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	agg.OnTrade(trade(100, 1, base))
	agg.OnTrade(trade(105, 2, base.Add(30*time.Second)))
	bar, closed := agg.OnTrade(trade(99, 1, base.Add(61*time.Second)))
	if !closed {
		t.Fatal("expected bar to close once a trade lands in the next bucket")
	}
	if !bar.Open.Decimal().Equal(model.NewPriceFromFloat(100, 2).Decimal()) {
		t.Errorf("expected open 100, got %s", bar.Open.String())
	}
	if !bar.High.Decimal().Equal(model.NewPriceFromFloat(105, 2).Decimal()) {
		t.Errorf("expected high 105, got %s", bar.High.String())
	}
	if !bar.Low.Decimal().Equal(model.NewPriceFromFloat(100, 2).Decimal()) {
		t.Errorf("expected low 100, got %s", bar.Low.String())
	}
	if !bar.Close.Decimal().Equal(model.NewPriceFromFloat(105, 2).Decimal()) {
		t.Errorf("expected close 105, got %s", bar.Close.String())
	}
	if !bar.Volume.Decimal().Equal(model.NewQuantityFromFloat(3, 2).Decimal()) {
		t.Errorf("expected volume 3, got %s", bar.Volume.String())
	}
	if err := bar.Validate(); err != nil {
		t.Errorf("closed bar should satisfy OHLC invariants: %v", err)
	}
}

func TestTimeBarAggregatorDropsLateTrade(t *testing.T) {
	agg := NewTimeBarAggregator(testBarType())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	agg.OnTrade(trade(100, 1, base))
	agg.OnTrade(trade(105, 1, base.Add(70*time.Second))) // closes bucket 0, opens bucket 1

	// A trade timestamped back in bucket 0 arrives late.
	_, closed := agg.OnTrade(trade(50, 1, base.Add(5*time.Second)))
	if closed {
		t.Fatal("a late trade for an already-closed bucket must never close/reopen a bar")
	}
}

func TestTimeBarAggregatorFlushClosesPartialBar(t *testing.T) {
	agg := NewTimeBarAggregator(testBarType())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	agg.OnTrade(trade(100, 1, base))
	bar, ok := agg.Flush()
	if !ok {
		t.Fatal("expected Flush to close the open partial bar")
	}
	if bar.Open.IsZero() {
		t.Error("expected flushed bar to carry the partial bucket's data")
	}

	_, ok = agg.Flush()
	if ok {
		t.Error("expected a second Flush on an already-flushed aggregator to report nothing open")
	}
}
