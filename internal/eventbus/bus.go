// Package eventbus provides the in-process publish/subscribe bus the runtime
// components communicate over. It supports synchronous ordered dispatch,
// asynchronous delivery, one-shot subscriptions and bounded per-event history
// so late subscribers can replay recently published events.
package eventbus

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// BUS INTERFACE
// ============================================================================

// Event is a single published event as seen by handlers and history readers.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives a published event.
type Handler func(Event)

// Bus is the event bus capability contract required by the runtime.
// Controllers validate their injected bus against this interface at
// construction time.
type Bus interface {
	// Subscribe registers a handler and returns its unsubscribe function.
	Subscribe(event string, handler Handler) (unsubscribe func())

	// Once registers a handler that unsubscribes itself after one delivery.
	Once(event string, handler Handler) (unsubscribe func())

	// Unsubscribe removes the first subscription matching the handler.
	// Returns false if no subscription matched.
	Unsubscribe(event string, handler Handler) bool

	// Emit publishes an event synchronously to all current subscribers,
	// in registration order.
	Emit(event string, data any) error

	// EmitAsync publishes an event on a separate goroutine.
	EmitAsync(event string, data any)

	// HasHandlers reports whether any handler is registered for the event.
	HasHandlers(event string) bool

	// History returns the retained events for the given name, oldest first.
	History(event string) []Event

	// Ready reports whether the bus has completed initialization and is
	// accepting live deliveries.
	Ready() bool
}

// MetricsClient counts emitted events for monitoring. The bus works without
// one; assembly wires a collector in where one exists.
type MetricsClient interface {
	IncrementCounter(name string, tags map[string]string)
}

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config controls history retention and async error reporting.
type Config struct {
	HistoryLimit         int           // Max retained events per event name
	HistoryWindow        time.Duration // Events older than this are pruned
	AsyncErrorsPerSecond float64       // Rate limit on async dispatch error logs
}

// DefaultConfig returns the retention settings used in production.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:         200,
		HistoryWindow:        5 * time.Minute,
		AsyncErrorsPerSecond: 1,
	}
}

// ============================================================================
// IN-MEMORY IMPLEMENTATION
// ============================================================================

// subscription tracks a registered handler. origin is the code pointer of the
// handler the caller passed in, used for Unsubscribe(event, handler) matching.
type subscription struct {
	id     uint64
	event  string
	fn     Handler
	origin uintptr
	once   bool
}

// InMemoryBus is the single-process Bus implementation.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
	history  map[string][]Event
	nextID   uint64
	ready    atomic.Bool

	cfg      Config
	logger   *zap.Logger
	metrics  MetricsClient
	errLimit *rate.Limiter
}

// NewInMemoryBus creates a bus with the given retention configuration.
// The bus starts not-ready; the container flips readiness once the core
// bootstrap phase completes.
func NewInMemoryBus(cfg Config, logger *zap.Logger) *InMemoryBus {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	if cfg.AsyncErrorsPerSecond <= 0 {
		cfg.AsyncErrorsPerSecond = DefaultConfig().AsyncErrorsPerSecond
	}
	return &InMemoryBus{
		handlers: make(map[string][]*subscription),
		history:  make(map[string][]Event),
		cfg:      cfg,
		logger:   logger,
		errLimit: rate.NewLimiter(rate.Limit(cfg.AsyncErrorsPerSecond), 1),
	}
}

// SetReady marks the bus as ready (or not). Controllers polling readiness
// observe this flag through Ready.
func (b *InMemoryBus) SetReady(ready bool) {
	b.ready.Store(ready)
}

// SetMetrics installs the emission counter. Call before the bus is shared;
// the field is not synchronized.
func (b *InMemoryBus) SetMetrics(metrics MetricsClient) {
	b.metrics = metrics
}

// Ready implements Bus.
func (b *InMemoryBus) Ready() bool {
	return b.ready.Load()
}

// Subscribe implements Bus.
func (b *InMemoryBus) Subscribe(event string, handler Handler) func() {
	return b.add(event, handler, false)
}

// Once implements Bus.
func (b *InMemoryBus) Once(event string, handler Handler) func() {
	return b.add(event, handler, true)
}

func (b *InMemoryBus) add(event string, handler Handler, once bool) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:     b.nextID,
		event:  event,
		fn:     handler,
		origin: handlerPointer(handler),
		once:   once,
	}
	b.handlers[event] = append(b.handlers[event], sub)
	b.mu.Unlock()

	return func() { b.removeByID(event, sub.id) }
}

// Unsubscribe implements Bus. Matching is by handler identity: the first
// subscription registered with the same function is removed.
func (b *InMemoryBus) Unsubscribe(event string, handler Handler) bool {
	if handler == nil {
		return false
	}
	target := handlerPointer(handler)

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, sub := range subs {
		if sub.origin == target {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *InMemoryBus) removeByID(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit implements Bus. Handlers run synchronously in registration order.
// A panicking handler is recovered and logged; remaining handlers still run.
func (b *InMemoryBus) Emit(event string, data any) error {
	if event == "" {
		return fmt.Errorf("eventbus: emit with empty event name")
	}

	evt := Event{
		ID:        uuid.NewString(),
		Name:      event,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	b.record(evt)
	// Snapshot so handlers may subscribe/unsubscribe during dispatch.
	subs := make([]*subscription, len(b.handlers[event]))
	copy(subs, b.handlers[event])
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.IncrementCounter("events_emitted_total", map[string]string{
			"event": event,
		})
	}

	for _, sub := range subs {
		if sub.once {
			b.removeByID(event, sub.id)
		}
		b.dispatch(sub, evt)
	}
	return nil
}

// EmitAsync implements Bus. Delivery happens on its own goroutine; failures
// are logged (rate limited) rather than returned.
func (b *InMemoryBus) EmitAsync(event string, data any) {
	go func() {
		if err := b.Emit(event, data); err != nil {
			if b.logger != nil && b.errLimit.Allow() {
				b.logger.Warn("async event emission failed",
					zap.String("event", event),
					zap.Error(err),
				)
			}
		}
	}()
}

func (b *InMemoryBus) dispatch(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", evt.Name),
				zap.String("event_id", evt.ID),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(evt)
}

// HasHandlers implements Bus.
func (b *InMemoryBus) HasHandlers(event string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event]) > 0
}

// History implements Bus. Returned events are ordered oldest first and
// pruned to the configured window.
func (b *InMemoryBus) History(event string) []Event {
	cutoff := time.Now().Add(-b.cfg.HistoryWindow)

	b.mu.RLock()
	defer b.mu.RUnlock()

	retained := b.history[event]
	out := make([]Event, 0, len(retained))
	for _, evt := range retained {
		if evt.Timestamp.After(cutoff) {
			out = append(out, evt)
		}
	}
	return out
}

// handlerPointer returns the code pointer identifying a handler function.
// Two references to the same function compare equal; distinct functions
// do not.
func handlerPointer(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// record appends to history under b.mu, evicting oldest entries past the
// per-event limit.
func (b *InMemoryBus) record(evt Event) {
	events := append(b.history[evt.Name], evt)
	if len(events) > b.cfg.HistoryLimit {
		events = events[len(events)-b.cfg.HistoryLimit:]
	}
	b.history[evt.Name] = events
}
