// Package storage provides the data capability the runtime's consumers
// depend on: a remote Supabase-backed repository guarded by a circuit
// breaker, a local file-backed store used offline and for degraded-mode
// state, and a failover selector that keeps the application usable when the
// backing data service cannot be reached.
package storage

import (
	"context"

	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
)

// Record is a single row exchanged with the data service.
type Record map[string]any

// QueryOptions shapes a Query call.
type QueryOptions struct {
	Limit      int
	OrderBy    string
	Descending bool
}

// Repository is the data capability contract consumers resolve from the
// container. Both the remote and the local store satisfy it.
type Repository interface {
	Initialize(ctx context.Context) error
	Create(ctx context.Context, table string, record Record) (Record, error)
	Read(ctx context.Context, table, id string) (Record, error)
	Update(ctx context.Context, table, id string, changes Record) (Record, error)
	Delete(ctx context.Context, table, id string) error
	Query(ctx context.Context, table string, filters map[string]string, opts QueryOptions) ([]Record, error)
	Execute(ctx context.Context, rpc string, params map[string]any) (any, error)
}

// ============================================================================
// FAILOVER REPOSITORY
// ============================================================================

// FailoverRepository prefers the remote repository and falls back to the
// local store when the offline-mode flag is set, the remote is
// uninitialized, or its circuit breaker is open. A failing remote call falls
// back to the local store for that call, so consumers see degraded data
// instead of errors.
type FailoverRepository struct {
	remote *SupabaseRepository
	local  *LocalStore
	logger *zap.Logger
}

// NewFailoverRepository wires the selector.
func NewFailoverRepository(remote *SupabaseRepository, local *LocalStore, logger *zap.Logger) *FailoverRepository {
	return &FailoverRepository{remote: remote, local: local, logger: logger}
}

// remoteAvailable decides whether the remote side should serve the next
// call.
func (r *FailoverRepository) remoteAvailable() bool {
	if r.remote == nil || !r.remote.IsInitialized() {
		return false
	}
	if r.local.Flag(apperrors.FlagOfflineMode) {
		return false
	}
	return !r.remote.BreakerOpen()
}

// Initialize initializes the local store; the remote is driven separately by
// the bootstrap so its failure can be classified as non-fatal.
func (r *FailoverRepository) Initialize(ctx context.Context) error {
	return r.local.Initialize(ctx)
}

// IsInitialized reports readiness of the always-available local side.
func (r *FailoverRepository) IsInitialized() bool {
	return r.local.IsInitialized()
}

func (r *FailoverRepository) Create(ctx context.Context, table string, record Record) (Record, error) {
	if r.remoteAvailable() {
		created, err := r.remote.Create(ctx, table, record)
		if err == nil {
			return created, nil
		}
		r.fellBack("create", table, err)
	}
	return r.local.Create(ctx, table, record)
}

func (r *FailoverRepository) Read(ctx context.Context, table, id string) (Record, error) {
	if r.remoteAvailable() {
		record, err := r.remote.Read(ctx, table, id)
		if err == nil {
			return record, nil
		}
		r.fellBack("read", table, err)
	}
	return r.local.Read(ctx, table, id)
}

func (r *FailoverRepository) Update(ctx context.Context, table, id string, changes Record) (Record, error) {
	if r.remoteAvailable() {
		updated, err := r.remote.Update(ctx, table, id, changes)
		if err == nil {
			return updated, nil
		}
		r.fellBack("update", table, err)
	}
	return r.local.Update(ctx, table, id, changes)
}

func (r *FailoverRepository) Delete(ctx context.Context, table, id string) error {
	if r.remoteAvailable() {
		err := r.remote.Delete(ctx, table, id)
		if err == nil {
			return nil
		}
		r.fellBack("delete", table, err)
	}
	return r.local.Delete(ctx, table, id)
}

func (r *FailoverRepository) Query(ctx context.Context, table string, filters map[string]string, opts QueryOptions) ([]Record, error) {
	if r.remoteAvailable() {
		records, err := r.remote.Query(ctx, table, filters, opts)
		if err == nil {
			return records, nil
		}
		r.fellBack("query", table, err)
	}
	return r.local.Query(ctx, table, filters, opts)
}

func (r *FailoverRepository) Execute(ctx context.Context, rpc string, params map[string]any) (any, error) {
	if r.remoteAvailable() {
		result, err := r.remote.Execute(ctx, rpc, params)
		if err == nil {
			return result, nil
		}
		r.fellBack("execute", rpc, err)
	}
	return r.local.Execute(ctx, rpc, params)
}

func (r *FailoverRepository) fellBack(op, target string, err error) {
	if r.logger != nil {
		r.logger.Warn("remote repository call failed, serving from local store",
			zap.String("operation", op),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}
