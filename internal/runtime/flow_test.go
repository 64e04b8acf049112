package runtime

import (
	"testing"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

func TestFlowTracker_NoFills(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	metrics := ft.CalculateToxicity()
	if metrics.ToxicityScore != 0 {
		t.Errorf("expected toxicity score 0 with no fills, got %f", metrics.ToxicityScore)
	}
	if metrics.IsAdverse {
		t.Error("expected IsAdverse to be false with no fills")
	}
	if m := ft.GetSpreadMultiplier(); m != 1.0 {
		t.Errorf("expected spread multiplier 1.0 with no fills, got %f", m)
	}
}

func TestFlowTracker_DirectionalImbalance(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(FlowFill{
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Side:      model.OrderSideBuy,
			Quantity:  model.NewQuantityFromFloat(10, 2),
		})
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 1.0 {
		t.Errorf("expected directional imbalance 1.0, got %f", metrics.DirectionalImbalance)
	}
	if metrics.ToxicityScore <= 0.6 {
		t.Errorf("expected toxicity score >0.6 with 100%% imbalance, got %f", metrics.ToxicityScore)
	}
	if !metrics.IsAdverse {
		t.Error("expected IsAdverse to be true with 100% directional imbalance")
	}
}

func TestFlowTracker_BalancedFills(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 10; i++ {
		side := model.OrderSideBuy
		if i%2 == 1 {
			side = model.OrderSideSell
		}
		ft.AddFill(FlowFill{
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Side:      side,
			Quantity:  model.NewQuantityFromFloat(10, 2),
		})
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 0.5 {
		t.Errorf("expected directional imbalance 0.5, got %f", metrics.DirectionalImbalance)
	}
	expectedAdverse := metrics.ToxicityScore > 0.6
	if metrics.IsAdverse != expectedAdverse {
		t.Errorf("IsAdverse mismatch: score=%f, IsAdverse=%v", metrics.ToxicityScore, metrics.IsAdverse)
	}
}

func TestFlowTracker_FillVelocity(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 10; i++ {
		ft.AddFill(FlowFill{
			Timestamp: now.Add(time.Duration(i) * 500 * time.Millisecond),
			Side:      model.OrderSideBuy,
			Quantity:  model.NewQuantityFromFloat(10, 2),
		})
	}

	metrics := ft.CalculateToxicity()
	if metrics.FillVelocity <= 0 {
		t.Errorf("expected positive fill velocity, got %f", metrics.FillVelocity)
	}
	if metrics.ToxicityScore <= 0.6 {
		t.Errorf("expected high toxicity score with rapid directional fills, got %f", metrics.ToxicityScore)
	}
}

func TestFlowTracker_SpreadMultiplier(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)

	if m := ft.GetSpreadMultiplier(); m != 1.0 {
		t.Errorf("expected initial multiplier 1.0, got %f", m)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.AddFill(FlowFill{
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Side:      model.OrderSideSell,
			Quantity:  model.NewQuantityFromFloat(10, 2),
		})
	}

	multiplier := ft.GetSpreadMultiplier()
	if multiplier <= 1.0 {
		t.Errorf("expected multiplier >1.0 after toxic fills, got %f", multiplier)
	}
	if multiplier > 3.0 {
		t.Errorf("expected multiplier <=3.0 (max), got %f", multiplier)
	}
}

func TestFlowTracker_WindowEviction(t *testing.T) {
	ft := NewFlowTracker(2*time.Second, 0.6, 5*time.Second, 3.0)

	oldTime := time.Now().Add(-10 * time.Second)
	for i := 0; i < 3; i++ {
		ft.AddFill(FlowFill{
			Timestamp: oldTime.Add(time.Duration(i) * 100 * time.Millisecond),
			Side:      model.OrderSideBuy,
			Quantity:  model.NewQuantityFromFloat(10, 2),
		})
	}

	ft.CalculateToxicity()

	if count := ft.FillCount(); count != 0 {
		t.Errorf("expected 0 fills after eviction, got %d", count)
	}

	ft.AddFill(FlowFill{Timestamp: time.Now(), Side: model.OrderSideSell, Quantity: model.NewQuantityFromFloat(10, 2)})
	if count := ft.FillCount(); count != 1 {
		t.Errorf("expected 1 fill after adding fresh fill, got %d", count)
	}
}

func TestFlowTracker_Threshold(t *testing.T) {
	ft := NewFlowTracker(60*time.Second, 0.99, 120*time.Second, 3.0)

	now := time.Now()
	for i := 0; i < 4; i++ {
		ft.AddFill(FlowFill{
			Timestamp: now.Add(time.Duration(i) * 2 * time.Second),
			Side:      model.OrderSideBuy,
			Quantity:  model.NewQuantityFromFloat(10, 2),
		})
	}
	ft.AddFill(FlowFill{Timestamp: now.Add(10 * time.Second), Side: model.OrderSideSell, Quantity: model.NewQuantityFromFloat(10, 2)})

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 0.8 {
		t.Errorf("expected directional imbalance 0.8 (4/5), got %f", metrics.DirectionalImbalance)
	}
	if metrics.IsAdverse {
		t.Errorf("expected not adverse with high threshold (0.99), got toxicity score %f", metrics.ToxicityScore)
	}
	if multiplier := ft.GetSpreadMultiplier(); multiplier != 1.0 {
		t.Errorf("expected no widening when not adverse, got multiplier %f", multiplier)
	}
}
