// Package risk enforces portfolio-level risk limits across all active
// instruments.
//
// The risk manager runs as a standalone goroutine that receives
// PositionReports from strategies (the runtime Maker sends one on every
// quote update) and checks them against configured limits:
//
//   - Per-instrument exposure: caps USD exposure in any single instrument
//   - Global exposure:         caps total USD exposure across all instruments
//   - Daily loss:               triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid price movement:     triggers kill switch if mid-price moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//
// When a limit is breached, the manager emits a KillSignal on KillCh();
// no package in this module reads that channel. Working orders are
// cancelled by the runtime Maker, which cancels its instrument's orders
// whenever IsKillSwitchActive reports true. After a kill, the kill switch stays
// active for CooldownAfterKill, during which CheckOrder rejects new
// orders outright.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

// PositionReport is sent by runtime Maker strategies on every quote
// update for risk evaluation, generalizing the teacher's
// PositionReport from a fixed YES/NO market pair to an arbitrary
// instrument.
type PositionReport struct {
	InstrumentID  model.InstrumentID
	MidPrice      float64
	ExposureUSD   float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Timestamp     time.Time
}

// KillSignal tells execution to cancel working orders. A zero-value
// InstrumentID means cancel across every instrument (a global kill),
// matching the teacher's empty-MarketID convention.
type KillSignal struct {
	InstrumentID model.InstrumentID
	Reason       string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Config mirrors the teacher's config.RiskConfig, generalized from a
// per-market to a per-instrument vocabulary.
type Config struct {
	MaxPositionPerInstrument float64
	MaxGlobalExposure        float64
	MaxInstrumentsActive     int
	KillSwitchDropPct        float64
	KillSwitchWindowSec      int
	MaxDailyLoss             float64
	CooldownAfterKill        time.Duration
}

// Manager enforces risk limits across all active instruments. It
// aggregates position reports, checks limits, gates new orders
// pre-trade, and emits kill signals when limits are breached.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[model.InstrumentID]PositionReport
	totalExposure    float64
	totalRealizedPnL float64
	killSwitchActive bool
	killSwitchUntil  time.Time
	priceAnchors     map[model.InstrumentID]priceAnchor

	reportCh chan PositionReport
	killCh   chan KillSignal

	killSwitchGauge     prometheus.Gauge
	globalExposureGauge prometheus.Gauge
}

// NewManager creates a risk manager. registerer may be nil to skip
// metrics registration (e.g. in tests).
func NewManager(cfg Config, logger *slog.Logger, registerer prometheus.Registerer) *Manager {
	m := &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[model.InstrumentID]PositionReport),
		priceAnchors: make(map[model.InstrumentID]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
		killSwitchGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nautilus_risk_kill_switch_active",
			Help: "1 if the kill switch is currently engaged, else 0.",
		}),
		globalExposureGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nautilus_risk_global_exposure_usd",
			Help: "Current aggregate exposure across all instruments.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.killSwitchGauge, m.globalExposureGauge)
	}
	return m
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears kill switch even when no reports arrive.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report",
			"instrument", report.InstrumentID)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveInstrument cleans up state for a no-longer-active instrument
// and recomputes the exposure and realized-PnL totals without it.
func (rm *Manager) RemoveInstrument(id model.InstrumentID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, id)
	delete(rm.priceAnchors, id)

	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	for _, pos := range rm.positions {
		rm.totalExposure += pos.ExposureUSD
		rm.totalRealizedPnL += pos.RealizedPnL
	}
	rm.globalExposureGauge.Set(rm.totalExposure)
}

// IsKillSwitchActive returns whether the kill switch is engaged,
// lazily clearing an expired cooldown.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.killSwitchGauge.Set(0)
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed
// for the given instrument. It takes the minimum of:
//   - per-instrument headroom: MaxPositionPerInstrument − current exposure
//   - global headroom:         MaxGlobalExposure − total exposure
//
// Returns 0 if either limit is already exceeded (strategies should skip
// quoting/sizing in that case).
func (rm *Manager) RemainingBudget(id model.InstrumentID) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var currentExposure float64
	if pos, ok := rm.positions[id]; ok {
		currentExposure = pos.ExposureUSD
	}

	perInstrument := rm.cfg.MaxPositionPerInstrument - currentExposure
	global := rm.cfg.MaxGlobalExposure - rm.totalExposure

	remaining := perInstrument
	if global < remaining {
		remaining = global
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckOrder is the pre-trade risk gate: internal/execution calls this
// before routing any new order to a venue adapter or the backtest
// matching engine. It rejects while the kill switch is engaged, when
// the order's notional would breach the per-instrument or global
// exposure limit, or when it would open a new instrument beyond
// MaxInstrumentsActive.
func (rm *Manager) CheckOrder(instrumentID model.InstrumentID, notionalUSD float64) (bool, string) {
	if rm.IsKillSwitchActive() {
		return false, "kill switch active"
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if notionalUSD > rm.cfg.MaxPositionPerInstrument {
		return false, fmt.Sprintf("order notional %.2f exceeds per-instrument limit %.2f", notionalUSD, rm.cfg.MaxPositionPerInstrument)
	}
	if rm.totalExposure+notionalUSD > rm.cfg.MaxGlobalExposure {
		return false, fmt.Sprintf("order would breach global exposure limit %.2f", rm.cfg.MaxGlobalExposure)
	}
	_, tracked := rm.positions[instrumentID]
	if !tracked && rm.cfg.MaxInstrumentsActive > 0 && len(rm.positions) >= rm.cfg.MaxInstrumentsActive {
		return false, fmt.Sprintf("max active instruments (%d) reached", rm.cfg.MaxInstrumentsActive)
	}
	return true, ""
}

// Snapshot represents aggregate risk metrics for the dashboard.
type Snapshot struct {
	GlobalExposure           float64
	MaxGlobalExposure        float64
	ExposurePct              float64
	KillSwitchActive         bool
	KillSwitchUntil          time.Time
	KillSwitchReason         string
	TotalRealizedPnL         float64
	TotalUnrealizedPnL       float64
	MaxPositionPerInstrument float64
	MaxDailyLoss             float64
	MaxInstrumentsActive     int
	CurrentInstrumentsActive int
}

// GetRiskSnapshot returns current aggregate risk metrics for the dashboard.
func (rm *Manager) GetRiskSnapshot() Snapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var totalUnrealizedPnL float64
	for _, pos := range rm.positions {
		totalUnrealizedPnL += pos.UnrealizedPnL
	}

	var exposurePct float64
	if rm.cfg.MaxGlobalExposure > 0 {
		exposurePct = (rm.totalExposure / rm.cfg.MaxGlobalExposure) * 100
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return Snapshot{
		GlobalExposure:           rm.totalExposure,
		MaxGlobalExposure:        rm.cfg.MaxGlobalExposure,
		ExposurePct:              exposurePct,
		KillSwitchActive:         rm.killSwitchActive,
		KillSwitchUntil:          rm.killSwitchUntil,
		KillSwitchReason:         killReason,
		TotalRealizedPnL:         rm.totalRealizedPnL,
		TotalUnrealizedPnL:       totalUnrealizedPnL,
		MaxPositionPerInstrument: rm.cfg.MaxPositionPerInstrument,
		MaxDailyLoss:             rm.cfg.MaxDailyLoss,
		MaxInstrumentsActive:     rm.cfg.MaxInstrumentsActive,
		CurrentInstrumentsActive: len(rm.positions),
	}
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.InstrumentID] = report

	// Recalculate totals.
	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	totalUnrealizedPnL := 0.0
	for _, pos := range rm.positions {
		rm.totalExposure += pos.ExposureUSD
		rm.totalRealizedPnL += pos.RealizedPnL
		totalUnrealizedPnL += pos.UnrealizedPnL
	}
	rm.globalExposureGauge.Set(rm.totalExposure)

	// Check per-instrument limit.
	if report.ExposureUSD > rm.cfg.MaxPositionPerInstrument {
		rm.emitKill(report.InstrumentID, "per-instrument position limit breached")
	}

	// Check global limit.
	if rm.totalExposure > rm.cfg.MaxGlobalExposure {
		rm.emitKill(model.InstrumentID{}, "global exposure limit breached")
	}

	// Check daily loss.
	totalPnL := rm.totalRealizedPnL + totalUnrealizedPnL
	if totalPnL < -rm.cfg.MaxDailyLoss {
		rm.emitKill(model.InstrumentID{}, "max daily loss breached")
	}

	// Check rapid price movement.
	rm.checkPriceMovement(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor.
// On each report, it compares mid-price to the anchor set at the start
// of the window. If the anchor is older than KillSwitchWindowSec, it
// resets. If price moved more than KillSwitchDropPct from anchor, the
// kill switch fires.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.InstrumentID]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		rm.priceAnchors[report.InstrumentID] = priceAnchor{
			price:     report.MidPrice,
			timestamp: report.Timestamp,
		}
		return
	}

	if anchor.price == 0 {
		return
	}

	pctChange := (report.MidPrice - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > rm.cfg.KillSwitchDropPct {
		rm.emitKill(report.InstrumentID, fmt.Sprintf(
			"rapid price movement: %.1f%% in %ds",
			pctChange*100, rm.cfg.KillSwitchWindowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.killSwitchGauge.Set(0)
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and
// sends a KillSignal to execution. If the kill channel is full, it
// drains the stale signal first so the latest kill reason is always
// delivered. Callers must hold rm.mu.
func (rm *Manager) emitKill(instrumentID model.InstrumentID, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)
	rm.killSwitchGauge.Set(1)

	rm.logger.Error("KILL SWITCH",
		"instrument", instrumentID,
		"reason", reason,
		"cooldown_until", rm.killSwitchUntil,
	)

	sig := KillSignal{InstrumentID: instrumentID, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		select {
		case rm.killCh <- sig:
		default:
		}
	}
}
