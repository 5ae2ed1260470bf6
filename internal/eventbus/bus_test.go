package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *InMemoryBus {
	t.Helper()
	return NewInMemoryBus(DefaultConfig(), zap.NewNop())
}

func TestEmitDeliversInRegistrationOrder(t *testing.T) {
	bus := newTestBus(t)

	var order []int
	bus.Subscribe("order", func(Event) { order = append(order, 1) })
	bus.Subscribe("order", func(Event) { order = append(order, 2) })
	bus.Subscribe("order", func(Event) { order = append(order, 3) })

	require.NoError(t, bus.Emit("order", nil))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitPopulatesEventMetadata(t *testing.T) {
	bus := newTestBus(t)

	var got Event
	bus.Subscribe("meta", func(evt Event) { got = evt })

	require.NoError(t, bus.Emit("meta", "payload"))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "meta", got.Name)
	assert.Equal(t, "payload", got.Data)
	assert.WithinDuration(t, time.Now(), got.Timestamp, time.Second)
}

func TestEmitRejectsEmptyEventName(t *testing.T) {
	bus := newTestBus(t)
	assert.Error(t, bus.Emit("", nil))
}

func TestOnceDeliversExactlyOnce(t *testing.T) {
	bus := newTestBus(t)

	calls := 0
	bus.Once("once", func(Event) { calls++ })

	require.NoError(t, bus.Emit("once", nil))
	require.NoError(t, bus.Emit("once", nil))
	assert.Equal(t, 1, calls)
	assert.False(t, bus.HasHandlers("once"))
}

func TestUnsubscribeByReturnedFunc(t *testing.T) {
	bus := newTestBus(t)

	calls := 0
	unsub := bus.Subscribe("evt", func(Event) { calls++ })
	unsub()

	require.NoError(t, bus.Emit("evt", nil))
	assert.Zero(t, calls)
}

func TestUnsubscribeByHandlerIdentity(t *testing.T) {
	bus := newTestBus(t)

	calls := 0
	handler := func(Event) { calls++ }
	bus.Subscribe("evt", handler)

	assert.True(t, bus.Unsubscribe("evt", handler))
	assert.False(t, bus.Unsubscribe("evt", handler), "second removal finds nothing")

	require.NoError(t, bus.Emit("evt", nil))
	assert.Zero(t, calls)
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	bus := newTestBus(t)

	delivered := false
	bus.Subscribe("evt", func(Event) { panic("boom") })
	bus.Subscribe("evt", func(Event) { delivered = true })

	require.NoError(t, bus.Emit("evt", nil))
	assert.True(t, delivered)
}

func TestHandlerMaySubscribeDuringDispatch(t *testing.T) {
	bus := newTestBus(t)

	lateCalls := 0
	bus.Subscribe("evt", func(Event) {
		bus.Subscribe("evt", func(Event) { lateCalls++ })
	})

	require.NoError(t, bus.Emit("evt", nil))
	// The handler added during dispatch sees only subsequent emissions.
	assert.Zero(t, lateCalls)

	require.NoError(t, bus.Emit("evt", nil))
	assert.Equal(t, 1, lateCalls)
}

func TestHistoryReturnsOldestFirst(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Emit("hist", 1))
	require.NoError(t, bus.Emit("hist", 2))
	require.NoError(t, bus.Emit("hist", 3))

	history := bus.History("hist")
	require.Len(t, history, 3)
	assert.Equal(t, 1, history[0].Data)
	assert.Equal(t, 3, history[2].Data)
}

func TestHistoryEvictsPastLimit(t *testing.T) {
	bus := NewInMemoryBus(Config{HistoryLimit: 3, HistoryWindow: time.Minute}, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Emit("hist", i))
	}

	history := bus.History("hist")
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].Data)
	assert.Equal(t, 4, history[2].Data)
}

func TestHistoryPrunesOutsideWindow(t *testing.T) {
	bus := NewInMemoryBus(Config{HistoryLimit: 10, HistoryWindow: 10 * time.Millisecond}, zap.NewNop())

	require.NoError(t, bus.Emit("hist", "old"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bus.Emit("hist", "fresh"))

	history := bus.History("hist")
	require.Len(t, history, 1)
	assert.Equal(t, "fresh", history[0].Data)
}

type countingMetrics struct {
	counts map[string]int
}

func (m *countingMetrics) IncrementCounter(name string, tags map[string]string) {
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[name+"/"+tags["event"]]++
}

func TestEmitCountsEmittedEvents(t *testing.T) {
	bus := newTestBus(t)
	metrics := &countingMetrics{}
	bus.SetMetrics(metrics)

	require.NoError(t, bus.Emit("gift:created", nil))
	require.NoError(t, bus.Emit("gift:created", nil))
	require.NoError(t, bus.Emit("gift:purchased", nil))
	assert.Error(t, bus.Emit("", nil))

	assert.Equal(t, 2, metrics.counts["events_emitted_total/gift:created"])
	assert.Equal(t, 1, metrics.counts["events_emitted_total/gift:purchased"])
	// Rejected emissions are not counted.
	assert.Len(t, metrics.counts, 2)
}

func TestReadinessFlag(t *testing.T) {
	bus := newTestBus(t)
	assert.False(t, bus.Ready())

	bus.SetReady(true)
	assert.True(t, bus.Ready())
}

func TestEmitAsyncDelivers(t *testing.T) {
	bus := newTestBus(t)

	done := make(chan struct{})
	bus.Subscribe("async", func(Event) { close(done) })
	bus.EmitAsync("async", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async emission never delivered")
	}
}
