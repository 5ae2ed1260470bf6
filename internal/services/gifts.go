// Package services holds the application's consumer-facing services. They
// are deliberately thin: data access goes through the repository capability,
// announcements through the event bus, and failures through the shared error
// handler, so each service is mostly orchestration.
package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"giftboard-runtime/internal/eventbus"
	"giftboard-runtime/internal/storage"
)

// Events announced by the gift service.
const (
	EventGiftCreated   = "gift:created"
	EventGiftPurchased = "gift:purchased"
)

const giftsTable = "gifts"

// GiftService manages the gift catalog.
type GiftService struct {
	repo   storage.Repository
	bus    eventbus.Bus
	logger *zap.Logger

	initialized atomic.Bool
}

// NewGiftService wires the service. Dependencies arrive through the
// container; the service never resolves them itself.
func NewGiftService(repo storage.Repository, bus eventbus.Bus, logger *zap.Logger) *GiftService {
	return &GiftService{repo: repo, bus: bus, logger: logger}
}

// Initialize marks the service ready. The repository is initialized by the
// bootstrap before services are.
func (s *GiftService) Initialize(_ context.Context) error {
	s.initialized.Store(true)
	return nil
}

// IsInitialized reports readiness.
func (s *GiftService) IsInitialized() bool {
	return s.initialized.Load()
}

// List returns catalog gifts, optionally filtered by collection.
func (s *GiftService) List(ctx context.Context, collection string, limit int) ([]storage.Record, error) {
	filters := map[string]string{}
	if collection != "" {
		filters["collection"] = collection
	}
	return s.repo.Query(ctx, giftsTable, filters, storage.QueryOptions{
		Limit:   limit,
		OrderBy: "created_at",
	})
}

// Get returns a single gift by id.
func (s *GiftService) Get(ctx context.Context, id string) (storage.Record, error) {
	return s.repo.Read(ctx, giftsTable, id)
}

// Create adds a gift to the catalog and announces it.
func (s *GiftService) Create(ctx context.Context, gift storage.Record) (storage.Record, error) {
	created, err := s.repo.Create(ctx, giftsTable, gift)
	if err != nil {
		return nil, fmt.Errorf("failed to create gift: %w", err)
	}
	s.bus.EmitAsync(EventGiftCreated, created)
	return created, nil
}

// Purchase runs the purchase procedure on the data service and announces the
// result. Offline the procedure degrades to a nil result; the caller treats
// that as "queued".
func (s *GiftService) Purchase(ctx context.Context, giftID string, userID int64) (any, error) {
	result, err := s.repo.Execute(ctx, "purchase_gift", map[string]any{
		"gift_id": giftID,
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("purchase failed: %w", err)
	}

	s.bus.EmitAsync(EventGiftPurchased, map[string]any{
		"gift_id": giftID,
		"user_id": userID,
		"result":  result,
	})
	s.logger.Info("gift purchased",
		zap.String("gift_id", giftID),
		zap.Int64("user_id", userID),
	)
	return result, nil
}
