package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/controller"
	"giftboard-runtime/internal/eventbus"
	"giftboard-runtime/internal/storage"
)

// CatalogController is the event-driven consumer maintaining the catalog
// view state: which gifts changed recently and whether the runtime is
// serving degraded data. It subscribes before the bus is ready, so its
// registrations exercise the queued-then-promoted path, and it replays the
// recent history window so events announced during bootstrap are not lost.
type CatalogController struct {
	*controller.Base

	mu             sync.Mutex
	recentGiftIDs  []string
	degradedNotice string
}

// NewCatalogController builds the controller and queues its subscriptions.
func NewCatalogController(bus eventbus.Bus, logger *zap.Logger) (*CatalogController, error) {
	base, err := controller.NewBase("catalog", bus, logger)
	if err != nil {
		return nil, err
	}
	c := &CatalogController{Base: base}

	c.Subscribe(EventGiftCreated, c.onGiftChanged, controller.Options{ReplayMissed: true})
	c.Subscribe(EventGiftPurchased, c.onGiftChanged, controller.Options{ReplayMissed: true})
	c.Subscribe(apperrors.EventErrorLogged, c.onErrorLogged, controller.Options{})
	return c, nil
}

// Start waits for the bus and promotes the queued subscriptions.
func (c *CatalogController) Start(ctx context.Context, timeout time.Duration) error {
	return c.WaitForEventBusReady(ctx, timeout)
}

func (c *CatalogController) onGiftChanged(evt eventbus.Event) {
	id := giftID(evt.Data)
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentGiftIDs = append(c.recentGiftIDs, id)
	if len(c.recentGiftIDs) > 20 {
		c.recentGiftIDs = c.recentGiftIDs[len(c.recentGiftIDs)-20:]
	}
}

func (c *CatalogController) onErrorLogged(evt eventbus.Event) {
	entry, ok := evt.Data.(apperrors.LogEntry)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch entry.Info.RecoveryAction {
	case apperrors.RecoveryOfflineMode:
		c.degradedNotice = "Working offline. Changes will sync when the connection returns."
	case apperrors.RecoveryFallbackMode:
		c.degradedNotice = "Some features are temporarily limited."
	}
}

// giftID extracts the gift id from a catalog event payload, which is either
// a created record or a purchase announcement.
func giftID(data any) string {
	var payload map[string]any
	switch v := data.(type) {
	case storage.Record:
		payload = v
	case map[string]any:
		payload = v
	default:
		return ""
	}
	if id, ok := payload["gift_id"].(string); ok && id != "" {
		return id
	}
	id, _ := payload["id"].(string)
	return id
}

// RecentGiftIDs returns the ids touched by recent catalog events.
func (c *CatalogController) RecentGiftIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.recentGiftIDs...)
}

// DegradedNotice returns the user-facing degradation banner, empty when
// healthy.
func (c *CatalogController) DegradedNotice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degradedNotice
}
