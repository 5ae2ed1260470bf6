// Package controller provides the base behavior for event-driven consumers:
// subscription lifecycle management, readiness gating with queued and
// replayed delivery, and teardown that guarantees no leaked listeners.
//
// A controller moves through three states: Constructed (subscriptions are
// queued), Ready (subscriptions go live), Destroyed (everything is a warning
// no-op). No state is re-enterable after Destroyed.
package controller

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/eventbus"
)

// ============================================================================
// SUBSCRIPTION MODEL
// ============================================================================

// Handler receives events delivered to a controller subscription.
type Handler func(evt eventbus.Event)

// Options controls delivery behavior for one subscription.
type Options struct {
	// Once unsubscribes the handler after its first invocation.
	Once bool

	// Immediate bypasses readiness gating and registers with the bus now.
	Immediate bool

	// ReplayMissed asynchronously replays matching events from the recent
	// history window after registration, so a late subscriber does not
	// permanently miss events published just before it attached.
	ReplayMissed bool

	// ThrowErrors re-raises handler panics instead of isolating them.
	ThrowErrors bool
}

// Subscription is a live registration owned exclusively by the controller
// that created it.
type Subscription struct {
	Event        string
	Options      Options
	SubscribedAt time.Time

	origin  uintptr
	wrapped eventbus.Handler
	unsub   func()
}

// pendingSubscription holds a request made before the controller was ready.
// Every pending subscription is eventually either promoted to a live
// Subscription or discarded at teardown; none silently vanish while the
// controller is alive.
type pendingSubscription struct {
	id      uint64
	event   string
	handler Handler
	opts    Options
}

// ============================================================================
// CONTROLLER BASE
// ============================================================================

// ReplayWindow is how far back missed events are replayed to late
// subscribers.
const ReplayWindow = 60 * time.Second

// readyPollInterval is the fixed interval WaitForEventBusReady polls at.
const readyPollInterval = 50 * time.Millisecond

// Base implements the subscription state machine. Embed it in concrete
// controllers.
type Base struct {
	mu sync.Mutex

	name   string
	bus    eventbus.Bus
	logger *zap.Logger

	subscriptionReady bool
	destroyed         bool

	active    []*Subscription
	pending   []*pendingSubscription
	pendingID uint64
}

// NewBase constructs a controller base. The bus and logger are hard
// requirements: a controller cannot function at all without them, so a
// missing capability fails construction immediately rather than degrading.
func NewBase(name string, bus eventbus.Bus, logger *zap.Logger) (*Base, error) {
	if bus == nil {
		return nil, apperrors.ContractViolation(name, "controller requires an event bus")
	}
	if logger == nil {
		return nil, apperrors.ContractViolation(name, "controller requires a logger")
	}
	return &Base{name: name, bus: bus, logger: logger}, nil
}

// Name returns the controller's diagnostic name.
func (b *Base) Name() string {
	return b.name
}

// Ready reports whether subscriptions go live immediately.
func (b *Base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscriptionReady
}

// Destroyed reports whether the controller has been torn down.
func (b *Base) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// ============================================================================
// SUBSCRIBE / UNSUBSCRIBE
// ============================================================================

// Subscribe registers a handler for an event. In the Destroyed state it
// warns and returns a no-op unsubscribe; before readiness (and without
// Immediate) the request is queued for promotion; otherwise the handler is
// wrapped and registered with the bus. The returned function unsubscribes,
// whether the subscription is pending or live.
func (b *Base) Subscribe(event string, handler Handler, opts Options) func() {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		b.logger.Warn("subscribe on destroyed controller ignored",
			zap.String("controller", b.name),
			zap.String("event", event),
		)
		return func() {}
	}

	if !b.subscriptionReady && !opts.Immediate {
		b.pendingID++
		entry := &pendingSubscription{
			id:      b.pendingID,
			event:   event,
			handler: handler,
			opts:    opts,
		}
		b.pending = append(b.pending, entry)
		b.mu.Unlock()

		b.logger.Debug("subscription queued until event bus is ready",
			zap.String("controller", b.name),
			zap.String("event", event),
		)
		return func() { b.removePending(entry.id) }
	}
	b.mu.Unlock()

	sub := b.subscribeLive(event, handler, opts)
	return func() { b.removeActive(sub) }
}

// Once registers a handler delivered at most once.
func (b *Base) Once(event string, handler Handler, opts Options) func() {
	opts.Once = true
	return b.Subscribe(event, handler, opts)
}

// subscribeLive wraps the handler and registers it with the bus.
func (b *Base) subscribeLive(event string, handler Handler, opts Options) *Subscription {
	sub := &Subscription{
		Event:        event,
		Options:      opts,
		SubscribedAt: time.Now(),
		origin:       handlerPointer(handler),
	}

	sub.wrapped = func(evt eventbus.Event) {
		if opts.Once {
			b.removeActive(sub)
		}
		if !opts.ThrowErrors {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("subscription handler failed",
						zap.String("controller", b.name),
						zap.String("event", evt.Name),
						zap.Any("panic", r),
					)
				}
			}()
		}
		b.logger.Debug("delivering event",
			zap.String("controller", b.name),
			zap.String("event", evt.Name),
			zap.String("event_id", evt.ID),
		)
		handler(evt)
	}

	sub.unsub = b.bus.Subscribe(event, sub.wrapped)

	b.mu.Lock()
	b.active = append(b.active, sub)
	b.mu.Unlock()

	if opts.ReplayMissed {
		b.replayMissed(event, sub)
	}
	return sub
}

// replayMissed delivers matching history events from the replay window to
// the new subscription, once, on a later tick. Replay is never interleaved
// with live dispatch.
func (b *Base) replayMissed(event string, sub *Subscription) {
	cutoff := time.Now().Add(-ReplayWindow)
	missed := make([]eventbus.Event, 0)
	for _, evt := range b.bus.History(event) {
		if evt.Timestamp.After(cutoff) {
			missed = append(missed, evt)
		}
	}
	if len(missed) == 0 {
		return
	}

	go func() {
		for _, evt := range missed {
			b.mu.Lock()
			gone := b.destroyed || !b.isActive(sub)
			b.mu.Unlock()
			if gone {
				return
			}
			sub.wrapped(evt)
		}
	}()
}

// Unsubscribe removes the subscription matching the (event, handler) pair.
// A miss is a recoverable condition: it returns false with a warning, not an
// error.
func (b *Base) Unsubscribe(event string, handler Handler) bool {
	target := handlerPointer(handler)

	b.mu.Lock()
	for _, sub := range b.active {
		if sub.Event == event && sub.origin == target {
			b.mu.Unlock()
			b.removeActive(sub)
			return true
		}
	}
	for _, entry := range b.pending {
		if entry.event == event && handlerPointer(entry.handler) == target {
			id := entry.id
			b.mu.Unlock()
			b.removePending(id)
			return true
		}
	}
	b.mu.Unlock()

	b.logger.Warn("unsubscribe found no matching subscription",
		zap.String("controller", b.name),
		zap.String("event", event),
	)
	return false
}

// ============================================================================
// READINESS
// ============================================================================

// WaitForEventBusReady polls bus readiness at a fixed interval until ready
// or the timeout elapses, then transitions the controller to Ready and
// promotes every pending subscription. A single promotion failure re-queues
// that entry for the next promotion pass rather than aborting the batch.
func (b *Base) WaitForEventBusReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if b.bus.Ready() {
			b.promotePending()
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.EventBusTimeout(b.name, timeout.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// promotePending transitions to Ready and promotes queued subscriptions in
// the order they were made.
func (b *Base) promotePending() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.subscriptionReady = true
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, entry := range batch {
		if err := b.promoteOne(entry); err != nil {
			b.logger.Warn("failed to promote pending subscription, re-queueing",
				zap.String("controller", b.name),
				zap.String("event", entry.event),
				zap.Error(err),
			)
			b.mu.Lock()
			b.pending = append(b.pending, entry)
			b.mu.Unlock()
		}
	}

	b.logger.Debug("pending subscriptions promoted",
		zap.String("controller", b.name),
		zap.Int("count", len(batch)),
	)
}

// promoteOne registers a single pending entry, converting panics from a
// misbehaving bus into an error so the batch continues.
func (b *Base) promoteOne(entry *pendingSubscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("promotion panicked: %v", r)
		}
	}()
	opts := entry.opts
	opts.Immediate = true
	b.subscribeLive(entry.event, entry.handler, opts)
	return nil
}

// ============================================================================
// EMIT / TEARDOWN
// ============================================================================

// Emit delegates to the bus. Emission failures propagate: they indicate a
// caller programming error, unlike subscription races which are expected
// during startup. After Destroy it is a warning no-op.
func (b *Base) Emit(event string, data any) error {
	if b.Destroyed() {
		b.logger.Warn("emit on destroyed controller ignored",
			zap.String("controller", b.name),
			zap.String("event", event),
		)
		return nil
	}
	return b.bus.Emit(event, data)
}

// EmitAsync delegates to the bus asynchronously, guarded by the Destroyed
// check.
func (b *Base) EmitAsync(event string, data any) {
	if b.Destroyed() {
		b.logger.Warn("async emit on destroyed controller ignored",
			zap.String("controller", b.name),
			zap.String("event", event),
		)
		return
	}
	b.bus.EmitAsync(event, data)
}

// Destroy tears the controller down: every active subscription is
// unsubscribed (continuing past individual failures), pending subscriptions
// are discarded, and the controller transitions to Destroyed. Idempotent.
func (b *Base) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	active := b.active
	b.active = nil
	dropped := len(b.pending)
	b.pending = nil
	b.mu.Unlock()

	for _, sub := range active {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("unsubscribe failed during teardown",
						zap.String("controller", b.name),
						zap.String("event", sub.Event),
						zap.Any("panic", r),
					)
				}
			}()
			sub.unsub()
		}()
	}

	b.logger.Debug("controller destroyed",
		zap.String("controller", b.name),
		zap.Int("unsubscribed", len(active)),
		zap.Int("pending_dropped", dropped),
	)
}

// ============================================================================
// INTERNAL BOOKKEEPING
// ============================================================================

func (b *Base) removePending(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.pending {
		if entry.id == id {
			b.pending = append(b.pending[:i:i], b.pending[i+1:]...)
			return
		}
	}
}

func (b *Base) removeActive(sub *Subscription) {
	b.mu.Lock()
	found := false
	for i, s := range b.active {
		if s == sub {
			b.active = append(b.active[:i:i], b.active[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	if found && sub.unsub != nil {
		sub.unsub()
	}
}

// isActive reports membership under b.mu (caller holds the lock).
func (b *Base) isActive(sub *Subscription) bool {
	for _, s := range b.active {
		if s == sub {
			return true
		}
	}
	return false
}

// Subscriptions returns a snapshot of live subscriptions, for diagnostics.
func (b *Base) Subscriptions() []Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Subscription, 0, len(b.active))
	for _, sub := range b.active {
		out = append(out, *sub)
	}
	return out
}

// PendingCount returns the number of queued subscriptions.
func (b *Base) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func handlerPointer(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}
