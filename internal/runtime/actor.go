// Package runtime hosts the actor/strategy lifecycle state machine and
// the optional-capability dispatch model that every strategy in this
// platform runs under, plus a reference Avellaneda-Stoikov market maker
// exercising it end to end. It generalizes the teacher's
// strategy.Maker.Run(ctx, tradeCh, orderCh) — a single hardcoded
// per-market event loop — into a lifecycle any number of concurrently
// running strategies share.
package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nautilus-trader/nautilus-core-go/pkg/model"
)

// State is a lifecycle stage in an actor's state machine.
type State string

const (
	StatePreInitialized State = "PRE_INITIALIZED"
	StateReady          State = "READY"
	StateRunning        State = "RUNNING"
	StateStopped        State = "STOPPED"
	StateDisposed       State = "DISPOSED"
)

// validTransitions enumerates the lifecycle graph: PRE_INITIALIZED →
// READY → RUNNING → STOPPED → DISPOSED, with RESET looping STOPPED back
// to READY for a clean restart without re-registering the actor.
var validTransitions = map[State][]State{
	StatePreInitialized: {StateReady},
	StateReady:          {StateRunning, StateDisposed},
	StateRunning:        {StateStopped},
	StateStopped:        {StateReady, StateDisposed}, // READY via Reset
	StateDisposed:       {},
}

// Actor is the lifecycle every strategy embeds BaseActor to satisfy.
// Optional per-event hooks (OnBar, OnQuoteTick, OnTradeTick, OnOrderEvent,
// OnFill) are dispatched only when the concrete strategy implements the
// matching capability interface below — the teacher's Run() method had
// no such distinction because it hardcoded exactly one strategy's event
// set.
type Actor interface {
	ID() model.StrategyID
	State() State
	Start() error
	Stop() error
	Reset() error
	Dispose() error
}

// Capability interfaces a concrete strategy may optionally implement.
// A base Actor alone receives no data; a strategy opts into exactly the
// events it cares about, mirroring the optional on_bar/on_trade/
// on_order_event/on_quote_tick dispatch model actors run under.
type OnQuoteTickHandler interface {
	OnQuoteTick(model.QuoteTick)
}

type OnTradeTickHandler interface {
	OnTradeTick(model.TradeTick)
}

type OnBarHandler interface {
	OnBar(model.Bar)
}

type OnOrderEventHandler interface {
	OnOrderEvent(*model.Order, model.OrderEvent)
}

type OnFillHandler interface {
	OnFill(*model.Order, model.OrderEvent)
}

type OnStartHandler interface {
	OnStart()
}

type OnStopHandler interface {
	OnStop()
}

// BaseActor implements the Actor state machine. Concrete strategies
// embed it and implement whichever capability interfaces they need;
// Dispatch* methods below are how the runtime hands events to a
// strategy through those interfaces.
type BaseActor struct {
	mu     sync.Mutex
	id     model.StrategyID
	state  State
	self   Actor // the concrete strategy, bound once at construction for capability dispatch
	logger *slog.Logger
}

// NewBaseActor constructs a BaseActor in PRE_INITIALIZED state. The
// embedding strategy must call Bind once its own literal exists, since
// a struct can't reference its own address while it's still being
// constructed.
func NewBaseActor(id model.StrategyID, logger *slog.Logger) *BaseActor {
	return &BaseActor{
		id:     id,
		state:  StatePreInitialized,
		logger: logger.With("component", "runtime", "strategy_id", id),
	}
}

// Bind records the concrete strategy embedding this BaseActor, which
// Start/Stop type-assert against to find OnStart/OnStop
// implementations — the classic Go "self" problem an embedded base
// type otherwise can't solve.
func (a *BaseActor) Bind(self Actor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.self = self
}

func (a *BaseActor) ID() model.StrategyID { return a.id }

func (a *BaseActor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// transition moves the actor to target, returning an error if the move
// isn't legal from the current state.
func (a *BaseActor) transition(target State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, allowed := range validTransitions[a.state] {
		if allowed == target {
			a.logger.Debug("actor state transition", "from", a.state, "to", target)
			a.state = target
			return nil
		}
	}
	return fmt.Errorf("runtime: illegal transition %s -> %s for actor %s", a.state, target, a.id)
}

// Initialize moves PRE_INITIALIZED -> READY. Called once after
// construction, before the first Start.
func (a *BaseActor) Initialize() error {
	return a.transition(StateReady)
}

// Start moves READY -> RUNNING, invoking OnStart if implemented.
func (a *BaseActor) Start() error {
	if err := a.transition(StateRunning); err != nil {
		return err
	}
	if h, ok := a.self.(OnStartHandler); ok {
		h.OnStart()
	}
	return nil
}

// Stop moves RUNNING -> STOPPED, invoking OnStop if implemented.
func (a *BaseActor) Stop() error {
	if err := a.transition(StateStopped); err != nil {
		return err
	}
	if h, ok := a.self.(OnStopHandler); ok {
		h.OnStop()
	}
	return nil
}

// Reset moves STOPPED -> READY, allowing the actor to be started again
// without re-registering with the kernel.
func (a *BaseActor) Reset() error {
	return a.transition(StateReady)
}

// Dispose moves READY or STOPPED -> DISPOSED, a terminal state.
func (a *BaseActor) Dispose() error {
	a.mu.Lock()
	from := a.state
	a.mu.Unlock()
	if from != StateReady && from != StateStopped {
		return fmt.Errorf("runtime: cannot dispose actor %s from state %s", a.id, from)
	}
	return a.transition(StateDisposed)
}

// IsRunning reports whether the actor is currently in RUNNING state,
// the gate every strategy method should check before acting on an
// event delivered after Stop was requested.
func (a *BaseActor) IsRunning() bool {
	return a.State() == StateRunning
}

// DispatchQuoteTick calls the bound strategy's OnQuoteTick if
// implemented and the actor is running.
func (a *BaseActor) DispatchQuoteTick(tick model.QuoteTick) {
	if !a.IsRunning() {
		return
	}
	if h, ok := a.self.(OnQuoteTickHandler); ok {
		h.OnQuoteTick(tick)
	}
}

// DispatchTradeTick calls OnTradeTick if implemented and running.
func (a *BaseActor) DispatchTradeTick(trade model.TradeTick) {
	if !a.IsRunning() {
		return
	}
	if h, ok := a.self.(OnTradeTickHandler); ok {
		h.OnTradeTick(trade)
	}
}

// DispatchBar calls OnBar if implemented and running.
func (a *BaseActor) DispatchBar(bar model.Bar) {
	if !a.IsRunning() {
		return
	}
	if h, ok := a.self.(OnBarHandler); ok {
		h.OnBar(bar)
	}
}

// DispatchOrderEvent calls OnOrderEvent if implemented and running,
// and additionally OnFill for fill events.
func (a *BaseActor) DispatchOrderEvent(o *model.Order, ev model.OrderEvent) {
	if !a.IsRunning() {
		return
	}
	if h, ok := a.self.(OnOrderEventHandler); ok {
		h.OnOrderEvent(o, ev)
	}
	if ev.Kind == model.EventOrderFilled {
		if h, ok := a.self.(OnFillHandler); ok {
			h.OnFill(o, ev)
		}
	}
}

// RefreshTicker returns a time.Ticker at the given interval, the
// generalized form of the teacher's time.NewTicker(cfg.RefreshInterval)
// in strategy.Maker.Run — strategies that quote on a fixed cadence use
// this rather than hand-rolling their own ticker.
func RefreshTicker(interval time.Duration) *time.Ticker {
	return time.NewTicker(interval)
}
