package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/eventbus"
)

func newReadyBus(t *testing.T) *eventbus.InMemoryBus {
	t.Helper()
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	bus.SetReady(true)
	return bus
}

func newTestBase(t *testing.T, bus eventbus.Bus) *Base {
	t.Helper()
	base, err := NewBase("test", bus, zap.NewNop())
	require.NoError(t, err)
	return base
}

// newLiveBase returns a base that has already transitioned to Ready, so
// subscriptions register with the bus immediately.
func newLiveBase(t *testing.T, bus eventbus.Bus) *Base {
	t.Helper()
	base := newTestBase(t, bus)
	require.NoError(t, base.WaitForEventBusReady(context.Background(), time.Second))
	return base
}

func TestNewBaseRequiresCollaborators(t *testing.T) {
	_, err := NewBase("test", nil, zap.NewNop())
	assert.True(t, apperrors.IsKind(err, apperrors.KindDependencyContractViolation))

	_, err = NewBase("test", newReadyBus(t), nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindDependencyContractViolation))
}

func TestSubscribeQueuesUntilReady(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	delivered := 0
	base.Subscribe("evt", func(eventbus.Event) { delivered++ }, Options{})

	assert.Equal(t, 1, base.PendingCount())
	assert.Empty(t, base.Subscriptions())

	// Queued subscriptions receive nothing.
	require.NoError(t, bus.Emit("evt", nil))
	assert.Zero(t, delivered)
}

func TestPendingPromotedInOrderExactlyOnce(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	var order []int
	base.Subscribe("evt", func(eventbus.Event) { order = append(order, 1) }, Options{})
	base.Subscribe("evt", func(eventbus.Event) { order = append(order, 2) }, Options{})
	base.Subscribe("evt", func(eventbus.Event) { order = append(order, 3) }, Options{})

	bus.SetReady(true)
	require.NoError(t, base.WaitForEventBusReady(context.Background(), time.Second))

	assert.Zero(t, base.PendingCount())
	require.Len(t, base.Subscriptions(), 3)

	require.NoError(t, bus.Emit("evt", nil))
	assert.Equal(t, []int{1, 2, 3}, order)

	// Promotion happened exactly once per subscription.
	require.NoError(t, bus.Emit("evt", nil))
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, order)
}

// flakyBus rejects the first n Subscribe calls the way a misbehaving bus
// would, then behaves normally.
type flakyBus struct {
	*eventbus.InMemoryBus
	failures int
}

func (b *flakyBus) Subscribe(event string, handler eventbus.Handler) func() {
	if b.failures > 0 {
		b.failures--
		panic("subscription refused")
	}
	return b.InMemoryBus.Subscribe(event, handler)
}

func TestFailedPromotionReQueuesForNextPass(t *testing.T) {
	bus := &flakyBus{InMemoryBus: newReadyBus(t), failures: 1}
	base := newTestBase(t, bus)

	var delivered []string
	base.Subscribe("evt", func(eventbus.Event) { delivered = append(delivered, "first") }, Options{})
	base.Subscribe("evt", func(eventbus.Event) { delivered = append(delivered, "second") }, Options{})

	// The first promotion pass fails on the first entry and re-queues it;
	// the second entry goes live.
	require.NoError(t, base.WaitForEventBusReady(context.Background(), time.Second))
	assert.Equal(t, 1, base.PendingCount())
	require.Len(t, base.Subscriptions(), 1)

	require.NoError(t, bus.Emit("evt", nil))
	assert.Equal(t, []string{"second"}, delivered)

	// The next pass drains the re-queued entry.
	require.NoError(t, base.WaitForEventBusReady(context.Background(), time.Second))
	assert.Zero(t, base.PendingCount())
	require.Len(t, base.Subscriptions(), 2)

	delivered = nil
	require.NoError(t, bus.Emit("evt", nil))
	assert.ElementsMatch(t, []string{"first", "second"}, delivered)
}

func TestImmediateBypassesReadinessGate(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	delivered := 0
	base.Subscribe("evt", func(eventbus.Event) { delivered++ }, Options{Immediate: true})

	require.NoError(t, bus.Emit("evt", nil))
	assert.Equal(t, 1, delivered)
}

func TestOnceUnsubscribesAfterFirstDelivery(t *testing.T) {
	bus := newReadyBus(t)
	base := newLiveBase(t, bus)

	calls := 0
	base.Once("evt", func(eventbus.Event) { calls++ }, Options{})

	require.NoError(t, bus.Emit("evt", nil))
	require.NoError(t, bus.Emit("evt", nil))
	assert.Equal(t, 1, calls)
	assert.Empty(t, base.Subscriptions())
}

func TestUnsubscribeCancelsPendingEntry(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	delivered := 0
	unsub := base.Subscribe("evt", func(eventbus.Event) { delivered++ }, Options{})
	unsub()
	assert.Zero(t, base.PendingCount())

	bus.SetReady(true)
	require.NoError(t, base.WaitForEventBusReady(context.Background(), time.Second))
	require.NoError(t, bus.Emit("evt", nil))
	assert.Zero(t, delivered)
}

func TestUnsubscribeByHandlerPair(t *testing.T) {
	bus := newReadyBus(t)
	base := newTestBase(t, bus)

	handler := func(eventbus.Event) {}
	base.Subscribe("evt", handler, Options{})

	assert.True(t, base.Unsubscribe("evt", handler))
	assert.False(t, base.Unsubscribe("evt", handler), "miss warns and returns false")
}

func TestHandlerPanicIsolatedByDefault(t *testing.T) {
	bus := newReadyBus(t)
	base := newLiveBase(t, bus)

	delivered := false
	base.Subscribe("evt", func(eventbus.Event) { panic("handler bug") }, Options{})
	base.Subscribe("evt", func(eventbus.Event) { delivered = true }, Options{})

	require.NoError(t, bus.Emit("evt", nil))
	assert.True(t, delivered)
}

func TestReplayMissedDeliversRecentHistory(t *testing.T) {
	bus := newReadyBus(t)
	require.NoError(t, bus.Emit("evt", "before-subscribe"))

	base := newLiveBase(t, bus)

	got := make(chan any, 1)
	base.Subscribe("evt", func(evt eventbus.Event) { got <- evt.Data }, Options{ReplayMissed: true})

	select {
	case data := <-got:
		assert.Equal(t, "before-subscribe", data)
	case <-time.After(time.Second):
		t.Fatal("missed event was not replayed")
	}
}

func TestWaitForEventBusReadyTimesOut(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	err := base.WaitForEventBusReady(context.Background(), 120*time.Millisecond)
	assert.True(t, apperrors.IsKind(err, apperrors.KindEventBusTimeout))
}

func TestWaitForEventBusReadyHonorsContext(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := base.WaitForEventBusReady(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDestroyUnsubscribesEverything(t *testing.T) {
	bus := newReadyBus(t)
	base := newLiveBase(t, bus)

	delivered := 0
	base.Subscribe("evt", func(eventbus.Event) { delivered++ }, Options{})
	base.Destroy()

	require.NoError(t, bus.Emit("evt", nil))
	assert.Zero(t, delivered)
	assert.True(t, base.Destroyed())
	assert.False(t, bus.HasHandlers("evt"))
}

func TestDestroyedControllerIsInertNotBroken(t *testing.T) {
	bus := newReadyBus(t)
	base := newTestBase(t, bus)
	base.Destroy()

	// Every operation is a warning no-op, never a panic or error.
	unsub := base.Subscribe("evt", func(eventbus.Event) {}, Options{})
	unsub()
	assert.NoError(t, base.Emit("evt", nil))
	base.EmitAsync("evt", nil)
	base.Destroy()

	assert.Empty(t, base.Subscriptions())
	assert.Zero(t, base.PendingCount())
}

func TestDestroyDropsPendingSubscriptions(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	base := newTestBase(t, bus)

	base.Subscribe("evt", func(eventbus.Event) {}, Options{})
	base.Destroy()

	bus.SetReady(true)
	assert.Zero(t, base.PendingCount())
	assert.False(t, bus.HasHandlers("evt"))
}

func TestEmitDelegatesToBus(t *testing.T) {
	bus := newReadyBus(t)
	base := newTestBase(t, bus)

	var got any
	bus.Subscribe("out", func(evt eventbus.Event) { got = evt.Data })

	require.NoError(t, base.Emit("out", "payload"))
	assert.Equal(t, "payload", got)
}
