package model

import (
	"testing"
	"time"
)

func TestBarTypeRoundTrip(t *testing.T) {
	bt := BarType{
		InstrumentID: NewInstrumentID("BTCUSDT", "BINANCE"),
		Spec: BarSpecification{
			Step:        1,
			Unit:        "MINUTE",
			Aggregation: AggregationTime,
			Price:       PriceTypeLast,
		},
		Internal: true,
	}
	s := bt.String()
	parsed, err := ParseBarType(s)
	if err != nil {
		t.Fatalf("ParseBarType(%q) error: %v", s, err)
	}
	if parsed.String() != s {
		t.Errorf("round trip mismatch: got %q want %q", parsed.String(), s)
	}
	if parsed.InstrumentID != bt.InstrumentID {
		t.Errorf("instrument id mismatch: got %+v want %+v", parsed.InstrumentID, bt.InstrumentID)
	}
	if !parsed.Internal {
		t.Error("expected Internal=true to survive round trip")
	}
}

func TestCompositeBarTypeRoundTrip(t *testing.T) {
	bt := BarType{
		InstrumentID: NewInstrumentID("6E.0", "XCME"),
		Spec: BarSpecification{
			Step:        5,
			Unit:        "MINUTE",
			Aggregation: AggregationTime,
			Price:       PriceTypeLast,
		},
		Internal:       true,
		Composite:      true,
		SourceSpec:     BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: AggregationTime, Price: PriceTypeLast},
		SourceInternal: false,
	}
	s := bt.String()
	want := "6E.0.XCME-5-MINUTE-LAST-INTERNAL@1-MINUTE-EXTERNAL"
	if s != want {
		t.Fatalf("String() = %q, want %q", s, want)
	}

	parsed, err := ParseBarType(s)
	if err != nil {
		t.Fatalf("ParseBarType(%q) error: %v", s, err)
	}
	if parsed.String() != s {
		t.Errorf("round trip mismatch: got %q want %q", parsed.String(), s)
	}
	src, ok := parsed.Source()
	if !ok {
		t.Fatal("expected Source() to report a composite source")
	}
	if src.Spec.Step != 1 || src.Spec.Unit != "MINUTE" || src.Internal {
		t.Errorf("unexpected source bar type: %+v", src)
	}
	if src.InstrumentID != parsed.InstrumentID {
		t.Error("expected source bar type to inherit the composite's instrument")
	}
}

func TestPlainBarTypeHasNoSource(t *testing.T) {
	bt := BarType{InstrumentID: NewInstrumentID("BTCUSDT", "BINANCE"), Spec: BarSpecification{Step: 1, Unit: "MINUTE", Aggregation: AggregationTime, Price: PriceTypeLast}}
	if _, ok := bt.Source(); ok {
		t.Error("expected a non-composite bar type to report no source")
	}
}

func TestBarSpecificationDuration(t *testing.T) {
	spec := BarSpecification{Step: 5, Unit: "MINUTE", Aggregation: AggregationTime}
	if got := spec.Duration(); got != 5*time.Minute {
		t.Errorf("expected 5m, got %v", got)
	}
}

func TestBarValidate(t *testing.T) {
	now := time.Now()
	instID := NewInstrumentID("BTCUSDT", "BINANCE")
	bt := BarType{InstrumentID: instID, Spec: BarSpecification{Step: 1, Unit: "MINUTE"}}

	valid := Bar{
		Type:      bt,
		Open:      NewPriceFromFloat(100, 2),
		High:      NewPriceFromFloat(105, 2),
		Low:       NewPriceFromFloat(99, 2),
		Close:     NewPriceFromFloat(102, 2),
		Volume:    NewQuantityFromFloat(10, 2),
		Timestamp: now,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid bar, got error: %v", err)
	}

	invalid := valid
	invalid.High = NewPriceFromFloat(90, 2) // lower than Open/Close
	if err := invalid.Validate(); err == nil {
		t.Error("expected invariant error for bad high")
	}
}
