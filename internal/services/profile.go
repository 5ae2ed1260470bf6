package services

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"giftboard-runtime/internal/eventbus"
	"giftboard-runtime/internal/platform"
	"giftboard-runtime/internal/storage"
)

// EventProfileUpdated is announced after a profile write.
const EventProfileUpdated = "profile:updated"

const profilesTable = "profiles"

// ProfileService manages the authenticated user's profile record.
type ProfileService struct {
	repo     storage.Repository
	identity *platform.TelegramAdapter
	bus      eventbus.Bus
	logger   *zap.Logger

	initialized atomic.Bool
}

// NewProfileService wires the service.
func NewProfileService(repo storage.Repository, identity *platform.TelegramAdapter, bus eventbus.Bus, logger *zap.Logger) *ProfileService {
	return &ProfileService{repo: repo, identity: identity, bus: bus, logger: logger}
}

// Initialize marks the service ready.
func (s *ProfileService) Initialize(_ context.Context) error {
	s.initialized.Store(true)
	return nil
}

// IsInitialized reports readiness.
func (s *ProfileService) IsInitialized() bool {
	return s.initialized.Load()
}

// Current returns the authenticated user's profile, creating it on first
// access from the platform identity.
func (s *ProfileService) Current(ctx context.Context) (storage.Record, error) {
	user := s.identity.CurrentUser()
	if user == nil {
		return nil, fmt.Errorf("no authenticated user")
	}

	id := strconv.FormatInt(user.ID, 10)
	profile, err := s.repo.Read(ctx, profilesTable, id)
	if err == nil {
		return profile, nil
	}

	profile, err = s.repo.Create(ctx, profilesTable, storage.Record{
		"id":         id,
		"username":   user.Username,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"photo_url":  user.PhotoURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	s.logger.Info("profile created", zap.String("profile_id", id))
	return profile, nil
}

// Update applies changes to the authenticated user's profile and announces
// the update.
func (s *ProfileService) Update(ctx context.Context, changes storage.Record) (storage.Record, error) {
	user := s.identity.CurrentUser()
	if user == nil {
		return nil, fmt.Errorf("no authenticated user")
	}

	id := strconv.FormatInt(user.ID, 10)
	updated, err := s.repo.Update(ctx, profilesTable, id, changes)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	s.bus.EmitAsync(EventProfileUpdated, updated)
	return updated, nil
}
