package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/config"
	"giftboard-runtime/internal/eventbus"
	"giftboard-runtime/internal/storage"
)

func newTestRepo(t *testing.T) *storage.LocalStore {
	t.Helper()
	store := storage.NewLocalStore(config.Storage{Path: t.TempDir(), Namespace: "svc"}, zap.NewNop())
	require.NoError(t, store.Initialize(context.Background()))
	return store
}

func newReadyBus(t *testing.T) *eventbus.InMemoryBus {
	t.Helper()
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	bus.SetReady(true)
	return bus
}

func TestGiftServiceCreateAnnouncesEvent(t *testing.T) {
	repo := newTestRepo(t)
	bus := newReadyBus(t)
	svc := NewGiftService(repo, bus, zap.NewNop())
	require.NoError(t, svc.Initialize(context.Background()))
	assert.True(t, svc.IsInitialized())

	announced := make(chan eventbus.Event, 1)
	bus.Subscribe(EventGiftCreated, func(evt eventbus.Event) { announced <- evt })

	created, err := svc.Create(context.Background(), storage.Record{"name": "bear", "collection": "plush"})
	require.NoError(t, err)
	assert.NotEmpty(t, created["id"])

	select {
	case evt := <-announced:
		record, ok := evt.Data.(storage.Record)
		require.True(t, ok)
		assert.Equal(t, "bear", record["name"])
	case <-time.After(time.Second):
		t.Fatal("gift creation was never announced")
	}
}

func TestGiftServiceListFiltersByCollection(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewGiftService(repo, newReadyBus(t), zap.NewNop())
	ctx := context.Background()

	for _, r := range []storage.Record{
		{"name": "bear", "collection": "plush"},
		{"name": "cat", "collection": "pixel"},
		{"name": "fox", "collection": "plush"},
	} {
		_, err := svc.Create(ctx, r)
		require.NoError(t, err)
	}

	plush, err := svc.List(ctx, "plush", 0)
	require.NoError(t, err)
	assert.Len(t, plush, 2)

	all, err := svc.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGiftServicePurchaseOfflineDegradesToNil(t *testing.T) {
	repo := newTestRepo(t)
	bus := newReadyBus(t)
	svc := NewGiftService(repo, bus, zap.NewNop())

	announced := make(chan eventbus.Event, 1)
	bus.Subscribe(EventGiftPurchased, func(evt eventbus.Event) { announced <- evt })

	result, err := svc.Purchase(context.Background(), "g1", 99)
	require.NoError(t, err)
	assert.Nil(t, result, "offline procedure answers nil, not an error")

	select {
	case <-announced:
	case <-time.After(time.Second):
		t.Fatal("purchase was never announced")
	}
}

func TestCatalogControllerTracksGiftEvents(t *testing.T) {
	bus := eventbus.NewInMemoryBus(eventbus.DefaultConfig(), zap.NewNop())
	ctrl, err := NewCatalogController(bus, zap.NewNop())
	require.NoError(t, err)

	// Subscriptions queue until the bus is ready.
	assert.Equal(t, 3, ctrl.PendingCount())

	bus.SetReady(true)
	require.NoError(t, ctrl.Start(context.Background(), time.Second))
	assert.Zero(t, ctrl.PendingCount())

	require.NoError(t, bus.Emit(EventGiftCreated, storage.Record{"id": "g1"}))
	require.NoError(t, bus.Emit(EventGiftPurchased, map[string]any{"gift_id": "g2"}))

	assert.Eventually(t, func() bool {
		ids := ctrl.RecentGiftIDs()
		return len(ids) == 2 && ids[0] == "g1" && ids[1] == "g2"
	}, time.Second, 10*time.Millisecond)
}

func TestCatalogControllerShowsDegradedNotice(t *testing.T) {
	bus := newReadyBus(t)
	ctrl, err := NewCatalogController(bus, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background(), time.Second))

	assert.Empty(t, ctrl.DegradedNotice())

	handler := apperrors.NewHandler(apperrors.Config{Logger: zap.NewNop(), Emitter: bus})
	handler.Handle(assertDatabaseError{}, "repository.query")

	assert.Eventually(t, func() bool {
		return ctrl.DegradedNotice() != ""
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, ctrl.DegradedNotice(), "offline")
}

// assertDatabaseError classifies as a database failure.
type assertDatabaseError struct{}

func (assertDatabaseError) Error() string { return "database timeout" }
