// Package bus implements the platform's in-process message bus: topic
// pub/sub with wildcard matching and correlation-id based
// request/response, generalizing the channel-routing idioms the teacher
// used ad-hoc in internal/engine/engine.go (dispatchMarketEvents,
// dispatchUserEvents routing WS events to the right marketSlot by
// tokenMap lookup) into a single reusable component every other
// package depends on, per spec §4.1.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Handler receives a published message. Handlers must not block for
// long; the bus delivers synchronously within Publish to preserve
// ordering per subscriber, the same way the teacher dispatched WS
// events synchronously into marketSlot channels rather than spawning a
// goroutine per message.
type Handler func(topic string, msg interface{})

// Endpoint answers a Request with a reply, analogous to the teacher's
// REST round-trips (exchange/client.go) but addressed by name over the
// bus instead of an HTTP URL.
type Endpoint func(ctx context.Context, req interface{}) (interface{}, error)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
	queue   chan queuedMsg // non-nil for async subscriptions
}

type queuedMsg struct {
	topic string
	msg   interface{}
}

// MessageBus is the single process-wide pub/sub and request/response
// hub. All components should be handed the same *MessageBus instance by
// internal/kernel, matching the teacher's single-Engine-instance model.
type MessageBus struct {
	mu            sync.RWMutex
	subs          []subscription
	nextSubID     uint64
	endpoints     map[string]Endpoint
	logger        *slog.Logger

	publishedTotal  prometheus.Counter
	droppedTotal    prometheus.Counter
	requestsTotal   *prometheus.CounterVec
}

// Config tunes bus behavior.
type Config struct {
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RequestTimeout: 5 * time.Second}
}

// New constructs a MessageBus. registerer may be nil to skip metrics
// registration (e.g. in unit tests that construct multiple buses).
func New(logger *slog.Logger, registerer prometheus.Registerer) *MessageBus {
	b := &MessageBus{
		endpoints: make(map[string]Endpoint),
		logger:    logger,
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nautilus_bus_published_total",
			Help: "Total messages published to the message bus.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nautilus_bus_dropped_total",
			Help: "Total messages dropped due to a full subscriber queue.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nautilus_bus_requests_total",
			Help: "Total request/response calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
	}
	if registerer != nil {
		registerer.MustRegister(b.publishedTotal, b.droppedTotal, b.requestsTotal)
	}
	return b
}

// Subscribe registers handler to receive every Publish whose topic
// matches pattern (supporting "*" and "#" wildcards). Returns a
// subscription id usable with Unsubscribe.
func (b *MessageBus) Subscribe(pattern string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	return id
}

// SubscribeAsync registers handler on a dedicated bounded queue of the
// given depth, consumed by a background goroutine, so a slow subscriber
// can never stall the publisher. When the queue is full the message is
// dropped and logged at WARN — the same non-blocking
// select{...default:} backpressure idiom the teacher used for
// dashboard events (internal/engine/engine.go's emitDashboardEvent) and
// risk reports (internal/risk/manager.go's Report). The returned stop
// function drains the goroutine and must be called to release it.
func (b *MessageBus) SubscribeAsync(pattern string, depth int, handler Handler) (id uint64, stop func()) {
	b.mu.Lock()
	b.nextSubID++
	id = b.nextSubID
	queue := make(chan queuedMsg, depth)
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler, queue: queue})
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for qm := range queue {
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("bus: async subscriber panicked", "pattern", pattern, "topic", qm.topic, "panic", r)
					}
				}()
				handler(qm.topic, qm.msg)
			}()
		}
	}()

	stop = func() {
		b.Unsubscribe(id)
		close(queue)
		<-done
	}
	return id, stop
}

// Unsubscribe removes a previously registered subscription.
func (b *MessageBus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers msg to every subscription whose pattern matches
// topic. Handler panics are recovered and logged so one misbehaving
// subscriber can't take down the publisher, matching the teacher's
// practice of never letting one goroutine's failure cascade
// (internal/engine/engine.go's per-feed goroutines).
func (b *MessageBus) Publish(topic string, msg interface{}) {
	b.publishedTotal.Inc()
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchTopic(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.deliver(s, topic, msg)
	}
}

func (b *MessageBus) deliver(s subscription, topic string, msg interface{}) {
	if s.queue != nil {
		select {
		case s.queue <- queuedMsg{topic: topic, msg: msg}:
		default:
			b.droppedTotal.Inc()
			b.logger.Warn("bus: subscriber queue full, dropping message", "pattern", s.pattern, "topic", topic)
		}
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: subscriber panicked", "pattern", s.pattern, "topic", topic, "panic", r)
		}
	}()
	s.handler(topic, msg)
}

// RegisterEndpoint binds name to fn for use with Request. Registering
// the same name twice replaces the prior handler, matching the
// teacher's lenient re-registration posture in config reload paths.
func (b *MessageBus) RegisterEndpoint(name string, fn Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[name] = fn
}

// Request calls the endpoint registered under name and returns its
// response, failing with an error if no endpoint is registered or ctx
// expires first. Each call is tagged with a fresh correlation id (for
// tracing/log correlation) even though the call itself is a direct
// synchronous invocation rather than round-tripping over a channel.
func (b *MessageBus) Request(ctx context.Context, name string, req interface{}) (interface{}, error) {
	correlationID := uuid.NewString()
	b.mu.RLock()
	fn, ok := b.endpoints[name]
	b.mu.RUnlock()
	if !ok {
		b.requestsTotal.WithLabelValues(name, "no_endpoint").Inc()
		return nil, fmt.Errorf("bus: no endpoint registered for %q", name)
	}

	type result struct {
		resp interface{}
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("bus: endpoint %q panicked: %v", name, r)}
			}
		}()
		resp, err := fn(ctx, req)
		resultCh <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		b.requestsTotal.WithLabelValues(name, "timeout").Inc()
		b.logger.Warn("bus: request timed out", "endpoint", name, "correlation_id", correlationID)
		return nil, ctx.Err()
	case r := <-resultCh:
		outcome := "ok"
		if r.err != nil {
			outcome = "error"
		}
		b.requestsTotal.WithLabelValues(name, outcome).Inc()
		return r.resp, r.err
	}
}
