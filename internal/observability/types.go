// Package observability serves the operator-facing dashboard: a
// read-only REST+WebSocket view of every instrument a Kernel is
// trading plus a Prometheus /metrics endpoint. It generalizes the
// teacher's internal/api package (server.go, handlers.go, stream.go,
// snapshot.go, types.go, events.go) from one hardcoded
// MarketSnapshotProvider/DashboardSnapshot pair describing Polymarket
// YES/NO markets into a venue-agnostic Snapshot of arbitrary
// instruments, per spec §8 (external interfaces).
package observability

import (
	"time"

	"github.com/nautilus-trader/nautilus-core-go/internal/risk"
)

// SnapshotProvider is the boundary internal/kernel implements so this
// package never imports internal/kernel directly, avoiding an import
// cycle — the generalized form of the teacher's MarketSnapshotProvider
// interface (internal/api/snapshot.go).
type SnapshotProvider interface {
	Snapshot() Snapshot
}

// Snapshot is the full point-in-time dashboard payload, the
// generalized form of the teacher's DashboardSnapshot (which carried
// Polymarket-specific MarketStatus/QuoteInfo/PositionSnapshot fields
// keyed by market slug).
type Snapshot struct {
	TraderID    string                `json:"trader_id"`
	Environment string                `json:"environment"`
	Instruments []InstrumentSnapshot  `json:"instruments"`
	Risk        risk.Snapshot         `json:"risk"`
	Timestamp   time.Time             `json:"timestamp"`
}

// InstrumentSnapshot is one instrument's live quoting/position state,
// the generalized form of the teacher's MarketStatus+PositionSnapshot
// pair.
type InstrumentSnapshot struct {
	InstrumentID  string  `json:"instrument_id"`
	Symbol        string  `json:"symbol"`
	State         string  `json:"state"`
	NetQty        float64 `json:"net_qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// DashboardEvent is a single WebSocket broadcast frame, unchanged in
// shape from the teacher's api.DashboardEvent.
type DashboardEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewSnapshotEvent wraps a Snapshot as a "snapshot"-typed
// DashboardEvent, the generalized form of the teacher's handlers
// constructing this literal inline in two places.
func NewSnapshotEvent(snap Snapshot) DashboardEvent {
	return DashboardEvent{Type: "snapshot", Timestamp: snap.Timestamp, Data: snap}
}
