package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BarAggregation names the method used to close a bar.
type BarAggregation string

const (
	AggregationTime   BarAggregation = "TIME"
	AggregationTick   BarAggregation = "TICK"
	AggregationVolume BarAggregation = "VOLUME"
)

// PriceType names which side of the market a bar is built from.
type PriceType string

const (
	PriceTypeBid  PriceType = "BID"
	PriceTypeAsk  PriceType = "ASK"
	PriceTypeMid  PriceType = "MID"
	PriceTypeLast PriceType = "LAST"
)

// BarSpecification describes the step size, aggregation method, and
// price type of a bar series, e.g. "1-MINUTE-LAST".
type BarSpecification struct {
	Step        int
	Unit        string // SECOND, MINUTE, HOUR, DAY
	Aggregation BarAggregation
	Price       PriceType
}

func (s BarSpecification) String() string {
	return fmt.Sprintf("%d-%s-%s", s.Step, s.Unit, s.Price)
}

// Duration returns the wall-clock span of one bar for TIME aggregation.
// It panics if called on a non-TIME specification, matching the
// teacher's fail-fast style for caller misuse (internal/config.Validate
// rejects bad config the same way, by returning early with a clear
// error — here the analogous "bad call site" is a programmer error, so
// panic is appropriate rather than threading an error return through
// every bar-math call).
func (s BarSpecification) Duration() time.Duration {
	if s.Aggregation != AggregationTime && s.Aggregation != "" {
		panic("model: Duration() called on non-TIME bar specification")
	}
	unit := time.Minute
	switch strings.ToUpper(s.Unit) {
	case "SECOND":
		unit = time.Second
	case "MINUTE":
		unit = time.Minute
	case "HOUR":
		unit = time.Hour
	case "DAY":
		unit = 24 * time.Hour
	}
	return time.Duration(s.Step) * unit
}

// BarType binds a BarSpecification to an instrument and an "internal"
// vs "external" source flag (internal bars are aggregated locally from
// quotes/trades; external bars are delivered already-formed by a venue).
//
// A BarType can also name a composite ("X@Y") bar chain, e.g. a
// 5-MINUTE-INTERNAL bar built by folding together five emitted
// 1-MINUTE-EXTERNAL bars rather than raw trades/quotes. Composite is
// the toggle and SourceSpec/SourceInternal describe the component bar
// type; these are plain value fields (not a *BarType) so BarType stays
// comparable and usable as a map key.
type BarType struct {
	InstrumentID   InstrumentID
	Spec           BarSpecification
	Internal       bool
	Composite      bool
	SourceSpec     BarSpecification
	SourceInternal bool
}

func (bt BarType) String() string {
	kind := "EXTERNAL"
	if bt.Internal {
		kind = "INTERNAL"
	}
	s := fmt.Sprintf("%s-%s-%s", bt.InstrumentID.String(), bt.Spec.String(), kind)
	if bt.Composite {
		srcKind := "EXTERNAL"
		if bt.SourceInternal {
			srcKind = "INTERNAL"
		}
		s += fmt.Sprintf("@%d-%s-%s", bt.SourceSpec.Step, bt.SourceSpec.Unit, srcKind)
	}
	return s
}

// Source returns the component BarType a composite bar type is built
// from, and false if bt names a plain (non-composite) bar type.
func (bt BarType) Source() (BarType, bool) {
	if !bt.Composite {
		return BarType{}, false
	}
	return BarType{
		InstrumentID: bt.InstrumentID,
		Spec:         bt.SourceSpec,
		Internal:     bt.SourceInternal,
	}, true
}

// ParseBarType parses the String() representation back into a BarType,
// round-tripping with String(). Format:
// "SYMBOL.VENUE-STEP-UNIT-PRICE-INTERNAL|EXTERNAL", optionally suffixed
// with "@STEP-UNIT-INTERNAL|EXTERNAL" to name a composite bar chain.
func ParseBarType(s string) (BarType, error) {
	mainPart := s
	var sourceSpec BarSpecification
	var sourceInternal, composite bool

	if idx := strings.Index(s, "@"); idx >= 0 {
		mainPart = s[:idx]
		sourcePart := s[idx+1:]
		srcParts := strings.Split(sourcePart, "-")
		if len(srcParts) != 3 {
			return BarType{}, fmt.Errorf("model: invalid composite bar source %q: want STEP-UNIT-KIND", sourcePart)
		}
		step, err := strconv.Atoi(srcParts[0])
		if err != nil {
			return BarType{}, fmt.Errorf("model: invalid composite bar source %q: bad step: %w", sourcePart, err)
		}
		kind := srcParts[2]
		if kind != "INTERNAL" && kind != "EXTERNAL" {
			return BarType{}, fmt.Errorf("model: invalid composite bar source %q: bad kind %q", sourcePart, kind)
		}
		sourceSpec = BarSpecification{Step: step, Unit: srcParts[1], Aggregation: AggregationTime, Price: PriceTypeLast}
		sourceInternal = kind == "INTERNAL"
		composite = true
	}

	parts := strings.Split(mainPart, "-")
	if len(parts) != 5 {
		return BarType{}, fmt.Errorf("model: invalid bar type %q: want SYMBOL.VENUE-STEP-UNIT-PRICE-KIND", mainPart)
	}
	instID, err := ParseInstrumentID(parts[0])
	if err != nil {
		return BarType{}, fmt.Errorf("model: invalid bar type %q: %w", mainPart, err)
	}
	step, err := strconv.Atoi(parts[1])
	if err != nil {
		return BarType{}, fmt.Errorf("model: invalid bar type %q: bad step: %w", mainPart, err)
	}
	kind := parts[4]
	if kind != "INTERNAL" && kind != "EXTERNAL" {
		return BarType{}, fmt.Errorf("model: invalid bar type %q: bad kind %q", mainPart, kind)
	}
	return BarType{
		InstrumentID: instID,
		Spec: BarSpecification{
			Step:        step,
			Unit:        parts[2],
			Aggregation: AggregationTime,
			Price:       PriceType(parts[3]),
		},
		Internal:       kind == "INTERNAL",
		Composite:      composite,
		SourceSpec:     sourceSpec,
		SourceInternal: sourceInternal,
	}, nil
}

// Bar is a single OHLCV candle for a BarType, closed at Timestamp.
type Bar struct {
	Type      BarType
	Open      Price
	High      Price
	Low       Price
	Close     Price
	Volume    Quantity
	Timestamp time.Time
}

// Validate checks the OHLC invariants (High >= Open,Close,Low and
// Low <= Open,Close,High).
func (b Bar) Validate() error {
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) || b.High.LessThan(b.Low) {
		return NewInvariantError("Bar", "high is not the maximum of OHLC")
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) || b.Low.GreaterThan(b.High) {
		return NewInvariantError("Bar", "low is not the minimum of OHLC")
	}
	return nil
}
