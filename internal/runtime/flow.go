package runtime

import (
	"math"
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// FlowFill is the minimal fill record FlowTracker needs: side and when
// it happened. Strategies feed these from the OnFill capability hook.
type FlowFill struct {
	Side      model.OrderSide
	Quantity  model.Quantity
	Timestamp time.Time
}

// ToxicityMetrics holds the adverse-selection indicators computed from
// a rolling window of recent fills.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // [0, 1]: fraction of fills in the dominant direction
	FillVelocity         float64 // fills per minute
	ToxicityScore        float64 // [0, 1]: composite toxicity score
	IsAdverse            bool    // true if flow looks adversely selective
}

// FlowTracker watches recent fills in a rolling time window to flag
// toxic flow: a run of fills consistently on one side suggests an
// informed counterparty is picking off stale quotes ahead of a price
// move, and spreads should widen in response. Generalized near
// verbatim from strategy.FlowTracker, which this logic is agnostic of
// venue or instrument already.
type FlowTracker struct {
	mu sync.RWMutex

	windowDuration time.Duration
	fills          []FlowFill

	toxicityThreshold float64
	cooldownPeriod    time.Duration
	maxSpreadMultiple float64

	lastToxicTime time.Time
}

// NewFlowTracker builds a tracker over the given rolling window, with
// spreads widening up to maxSpreadMultiple once toxicityThreshold is
// crossed, holding wide for cooldownPeriod after the last toxic read.
func NewFlowTracker(windowDuration time.Duration, toxicityThreshold float64, cooldownPeriod time.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		windowDuration:    windowDuration,
		fills:             make([]FlowFill, 0, 100),
		toxicityThreshold: toxicityThreshold,
		cooldownPeriod:    cooldownPeriod,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill records a fill and evicts anything that has aged out of the window.
func (ft *FlowTracker) AddFill(fill FlowFill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.fills = append(ft.fills, fill)
	ft.evictStaleLocked()
}

func (ft *FlowTracker) evictStaleLocked() {
	if len(ft.fills) == 0 {
		return
	}
	cutoff := time.Now().Add(-ft.windowDuration)
	validIdx := -1
	for i, fill := range ft.fills {
		if fill.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx == -1 {
		ft.fills = ft.fills[:0]
		return
	}
	if validIdx > 0 {
		ft.fills = ft.fills[validIdx:]
	}
}

// CalculateToxicity derives the current ToxicityMetrics from the window.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictStaleLocked()
	ft.mu.Unlock()

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if len(ft.fills) == 0 {
		return ToxicityMetrics{}
	}

	var buyCount, sellCount int
	for _, fill := range ft.fills {
		if fill.Side == model.OrderSideBuy {
			buyCount++
		} else {
			sellCount++
		}
	}

	totalFills := len(ft.fills)
	dominant := math.Max(float64(buyCount), float64(sellCount))
	directionalImbalance := dominant / float64(totalFills)

	if len(ft.fills) < 2 {
		return ToxicityMetrics{
			DirectionalImbalance: directionalImbalance,
			FillVelocity:         0,
			ToxicityScore:        directionalImbalance * 0.6,
			IsAdverse:            directionalImbalance > ft.toxicityThreshold,
		}
	}

	windowDurationMinutes := ft.windowDuration.Minutes()
	fillVelocity := float64(totalFills) / windowDurationMinutes
	velocityFactor := math.Min(fillVelocity/3.0, 1.0)

	toxicityScore := 0.6*directionalImbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: directionalImbalance,
		FillVelocity:         fillVelocity,
		ToxicityScore:        toxicityScore,
		IsAdverse:            toxicityScore > ft.toxicityThreshold,
	}
}

// GetSpreadMultiplier returns the multiplier a strategy should apply to
// its quoted spread: 1.0 under normal flow, ramping toward
// maxSpreadMultiple while toxic and decaying back to 1.0 over
// cooldownPeriod once flow normalizes.
func (ft *FlowTracker) GetSpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	if metrics.IsAdverse {
		ft.mu.Lock()
		ft.lastToxicTime = time.Now()
		ft.mu.Unlock()
	}

	ft.mu.RLock()
	inCooldown := time.Since(ft.lastToxicTime) < ft.cooldownPeriod
	ft.mu.RUnlock()

	if !metrics.IsAdverse && !inCooldown {
		return 1.0
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		timeSinceToxic := time.Since(ft.lastToxicTime).Seconds()
		cooldownSeconds := ft.cooldownPeriod.Seconds()
		cooldownProgress := math.Min(timeSinceToxic/cooldownSeconds, 1.0)
		return 1.0 + (ft.maxSpreadMultiple-1.0)*(1.0-cooldownProgress)
	}

	normalizedScore := (metrics.ToxicityScore - ft.toxicityThreshold) / (1.0 - ft.toxicityThreshold)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalizedScore*2.0, 1.0)
}

// IsFlowToxic reports whether current flow looks adversely selected.
func (ft *FlowTracker) IsFlowToxic() bool {
	return ft.CalculateToxicity().IsAdverse
}

// FillCount returns the number of fills currently in the window.
func (ft *FlowTracker) FillCount() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.fills)
}
