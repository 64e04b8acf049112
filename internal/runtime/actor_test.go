package runtime

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

type stubActor struct {
	*BaseActor
	started, stopped int
	lastBar          model.Bar
}

func newStubActor() *stubActor {
	a := &stubActor{BaseActor: NewBaseActor(model.StrategyID("stub-1"), silentLogger())}
	a.Bind(a)
	return a
}

func (a *stubActor) OnStart()        { a.started++ }
func (a *stubActor) OnStop()         { a.stopped++ }
func (a *stubActor) OnBar(b model.Bar) { a.lastBar = b }

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fillStub struct {
	*BaseActor
	fills int
}

func newFillStub() *fillStub {
	f := &fillStub{BaseActor: NewBaseActor(model.StrategyID("fill-stub"), silentLogger())}
	f.Bind(f)
	return f
}

func (f *fillStub) OnFill(*model.Order, model.OrderEvent) { f.fills++ }

func TestActorLifecycleHappyPath(t *testing.T) {
	a := newStubActor()

	if got := a.State(); got != StatePreInitialized {
		t.Fatalf("initial state = %v, want PRE_INITIALIZED", got)
	}
	if err := a.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := a.State(); got != StateReady {
		t.Fatalf("state after Initialize = %v, want READY", got)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.started != 1 {
		t.Errorf("expected OnStart called once, got %d", a.started)
	}
	if got := a.State(); got != StateRunning {
		t.Fatalf("state after Start = %v, want RUNNING", got)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if a.stopped != 1 {
		t.Errorf("expected OnStop called once, got %d", a.stopped)
	}
	if err := a.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := a.State(); got != StateReady {
		t.Fatalf("state after Reset = %v, want READY", got)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if got := a.State(); got != StateDisposed {
		t.Fatalf("state after Dispose = %v, want DISPOSED", got)
	}
}

func TestActorIllegalTransitionsRejected(t *testing.T) {
	a := newStubActor()

	if err := a.Start(); err == nil {
		t.Error("expected Start() from PRE_INITIALIZED to fail")
	}
	if err := a.Stop(); err == nil {
		t.Error("expected Stop() from PRE_INITIALIZED to fail")
	}

	if err := a.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("Dispose() from READY should succeed, got %v", err)
	}
	if err := a.Start(); err == nil {
		t.Error("expected Start() from DISPOSED to fail")
	}
	if err := a.Initialize(); err == nil {
		t.Error("expected re-Initialize() from DISPOSED to fail")
	}
}

func TestActorDisposeRejectedWhileRunning(t *testing.T) {
	a := newStubActor()
	if err := a.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if err := a.Dispose(); err == nil {
		t.Error("expected Dispose() to be rejected while RUNNING")
	}
}

func TestDispatchBarOnlyWhenRunningAndImplemented(t *testing.T) {
	a := newStubActor()
	bar := model.Bar{}

	a.DispatchBar(bar)
	if a.lastBar != (model.Bar{}) {
		t.Error("expected no dispatch before actor is running")
	}

	if err := a.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	bar2 := model.Bar{Volume: model.NewQuantityFromFloat(5, 2)}
	a.DispatchBar(bar2)
	if a.lastBar.Volume.Float64() != 5 {
		t.Errorf("expected OnBar dispatched while running, got volume %v", a.lastBar.Volume)
	}
}

func TestDispatchOrderEventCallsOnFillForFillKind(t *testing.T) {
	f := newFillStub()
	if err := f.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := f.Start(); err != nil {
		t.Fatal(err)
	}

	order := &model.Order{ClientOrderID: model.ClientOrderID("co-1")}
	f.DispatchOrderEvent(order, model.OrderEvent{Kind: model.EventOrderAccepted})
	if f.fills != 0 {
		t.Errorf("expected no OnFill for non-fill event, got %d calls", f.fills)
	}

	f.DispatchOrderEvent(order, model.OrderEvent{Kind: model.EventOrderFilled})
	if f.fills != 1 {
		t.Errorf("expected OnFill called once for fill event, got %d calls", f.fills)
	}
}
