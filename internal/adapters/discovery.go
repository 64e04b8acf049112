package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// DiscoveryConfig tunes the instrument-discovery poller, the
// generalized form of the teacher's config.ScannerConfig: filter
// thresholds plus an include/exclude allowlist keyed by symbol instead
// of Polymarket slug/conditionId.
type DiscoveryConfig struct {
	BaseURL        string
	PollInterval   time.Duration
	MinSpread      decimal.Decimal
	MinVolume24h   float64
	MinLiquidity   float64
	MaxResults     int
	IncludeSymbols []string
	ExcludeSymbols []string
}

// venueInstrument is the JSON shape returned by a venue's public
// instrument-listing endpoint, the generalized form of the teacher's
// GammaMarket.
type venueInstrument struct {
	Symbol     string  `json:"symbol"`
	Venue      string  `json:"venue"`
	Active     bool    `json:"active"`
	Tradeable  bool    `json:"tradeable"`
	Liquidity  float64 `json:"liquidity"`
	Volume24h  float64 `json:"volume_24h"`
	BestBid    float64 `json:"best_bid"`
	BestAsk    float64 `json:"best_ask"`
	TickSize   float64 `json:"tick_size"`
	LotSize    float64 `json:"lot_size"`
	QuoteAsset string  `json:"quote_asset"`
}

// DiscoveryResult is one poll cycle's ranked candidate set.
type DiscoveryResult struct {
	Instruments []RankedInstrument
	ScannedAt   time.Time
}

// RankedInstrument pairs an instrument definition with its discovery
// score, the generalized form of the teacher's types.MarketAllocation.
type RankedInstrument struct {
	Definition model.InstrumentDefinition
	Score      float64
}

// Discovery periodically polls a venue's public instrument listing to
// find tradeable candidates, generalizing the teacher's market.Scanner
// (internal/market/scanner.go) from Polymarket's Gamma API and its
// fixed five-tick-size enum into an arbitrary REST listing endpoint and
// continuous tick/lot sizes. The ranking formula is kept unchanged:
//
//	score = spread * sqrt(volume24h) * min(liquidity/10000, 1)
type Discovery struct {
	http     *resty.Client
	cfg      DiscoveryConfig
	logger   *slog.Logger
	resultCh chan DiscoveryResult
}

// NewDiscovery constructs a Discovery poller.
func NewDiscovery(cfg DiscoveryConfig, logger *slog.Logger) *Discovery {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Discovery{
		http:     client,
		cfg:      cfg,
		logger:   logger.With("component", "adapters.discovery"),
		resultCh: make(chan DiscoveryResult, 1),
	}
}

// Results returns the channel the kernel reads ranked instruments from.
func (d *Discovery) Results() <-chan DiscoveryResult { return d.resultCh }

// Run starts the polling loop, blocking until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	d.scan(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scan(ctx)
		}
	}
}

func (d *Discovery) scan(ctx context.Context) {
	instruments, err := d.fetchInstruments(ctx)
	if err != nil {
		d.logger.Error("discovery scan failed", "error", err)
		return
	}

	filtered := d.filter(instruments)
	ranked := d.rank(filtered)
	if len(ranked) > d.cfg.MaxResults && d.cfg.MaxResults > 0 {
		d.logger.Info("discovery: truncating ranked results", "dropped", len(ranked)-d.cfg.MaxResults)
		ranked = ranked[:d.cfg.MaxResults]
	}

	result := DiscoveryResult{Instruments: ranked, ScannedAt: time.Now()}
	d.logger.Info("discovery scan complete", "total", len(instruments), "filtered", len(filtered), "selected", len(ranked))

	select {
	case d.resultCh <- result:
	default:
		select {
		case <-d.resultCh:
		default:
		}
		d.resultCh <- result
	}
}

func (d *Discovery) fetchInstruments(ctx context.Context) ([]venueInstrument, error) {
	var all []venueInstrument
	offset := 0
	const limit = 100

	for {
		var page []venueInstrument
		resp, err := d.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  fmt.Sprintf("%d", limit),
				"offset": fmt.Sprintf("%d", offset),
				"active": "true",
			}).
			SetResult(&page).
			Get("/instruments")
		if err != nil {
			return nil, fmt.Errorf("fetch instruments page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch instruments: status %d", resp.StatusCode())
		}
		all = append(all, page...)
		if len(page) < limit {
			break
		}
		offset += limit
	}
	return all, nil
}

func (d *Discovery) filter(instruments []venueInstrument) []venueInstrument {
	include := toSet(d.cfg.IncludeSymbols)
	exclude := toSet(d.cfg.ExcludeSymbols)
	hasInclude := len(include) > 0

	var out []venueInstrument
	for _, inst := range instruments {
		if !inst.Active || !inst.Tradeable {
			continue
		}
		symbol := strings.ToLower(inst.Symbol)
		if hasInclude && !include[symbol] {
			continue
		}
		if exclude[symbol] {
			continue
		}
		if inst.Liquidity < d.cfg.MinLiquidity {
			continue
		}
		if inst.Volume24h < d.cfg.MinVolume24h {
			continue
		}
		spread := decimal.NewFromFloat(inst.BestAsk - inst.BestBid)
		if spread.LessThan(d.cfg.MinSpread) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			m[s] = true
		}
	}
	return m
}

func (d *Discovery) rank(instruments []venueInstrument) []RankedInstrument {
	type scored struct {
		inst  venueInstrument
		score float64
	}
	scoredList := make([]scored, 0, len(instruments))
	for _, inst := range instruments {
		liquidityFactor := math.Min(inst.Liquidity/10000.0, 1.0)
		spread := inst.BestAsk - inst.BestBid
		score := spread * math.Sqrt(inst.Volume24h) * liquidityFactor
		scoredList = append(scoredList, scored{inst: inst, score: score})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]RankedInstrument, len(scoredList))
	for i, s := range scoredList {
		out[i] = RankedInstrument{
			Definition: toInstrumentDefinition(s.inst),
			Score:      s.score,
		}
	}
	return out
}

func toInstrumentDefinition(inst venueInstrument) model.InstrumentDefinition {
	precision := int32(decimalPlaces(inst.TickSize))
	return model.InstrumentDefinition{
		ID:             model.NewInstrumentID(inst.Symbol, inst.Venue),
		AssetClass:     model.AssetClassCrypto,
		QuoteCurrency:  inst.QuoteAsset,
		PriceIncrement: model.NewPriceFromFloat(inst.TickSize, precision),
		SizeIncrement:  model.NewQuantityFromFloat(inst.LotSize, 8),
		PricePrecision: precision,
		SizePrecision:  8,
		Multiplier:     decimal.NewFromInt(1),
		Active:         inst.Active,
	}
}

func decimalPlaces(f float64) int {
	s := decimal.NewFromFloat(f).String()
	idx := strings.Index(s, ".")
	if idx < 0 {
		return 0
	}
	return len(s) - idx - 1
}
