package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/sony/gobreaker"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"giftboard-runtime/internal/config"
)

// ============================================================================
// REMOTE REPOSITORY
// ============================================================================

// SupabaseRepository is the remote data capability, backed by the Supabase
// PostgREST API. Every call goes through a circuit breaker so a flapping
// data service trips into fast failure instead of hanging consumers; the
// failover repository then serves from the local store.
type SupabaseRepository struct {
	cfg         config.Supabase
	logger      *zap.Logger
	client      *supabase.Client
	breaker     *gobreaker.CircuitBreaker
	initialized atomic.Bool
}

// NewSupabaseRepository creates the repository. The client is not built
// until Initialize so bootstrap can classify connection failures.
func NewSupabaseRepository(cfg config.Supabase, logger *zap.Logger) *SupabaseRepository {
	r := &SupabaseRepository{cfg: cfg, logger: logger}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return r
}

// Initialize builds the Supabase client and verifies connectivity with a
// lightweight query. The bootstrap treats a failure here as non-fatal; the
// application continues against the local store.
func (r *SupabaseRepository) Initialize(_ context.Context) error {
	if r.cfg.URL == "" || r.cfg.Key == "" {
		return fmt.Errorf("supabase repository not configured: url and key are required")
	}

	client, err := supabase.NewClient(r.cfg.URL, r.cfg.Key, &supabase.ClientOptions{
		Schema: r.cfg.Schema,
	})
	if err != nil {
		return fmt.Errorf("failed to create supabase client: %w", err)
	}
	r.client = client

	if _, _, err := client.From("gifts").Select("id", "exact", true).Limit(1, "").Execute(); err != nil {
		return fmt.Errorf("supabase connectivity check failed: %w", err)
	}

	r.initialized.Store(true)
	r.logger.Info("supabase repository initialized",
		zap.String("schema", r.cfg.Schema),
	)
	return nil
}

// IsInitialized reports whether the client is ready.
func (r *SupabaseRepository) IsInitialized() bool {
	return r.initialized.Load()
}

// BreakerOpen reports whether the circuit breaker is rejecting calls.
func (r *SupabaseRepository) BreakerOpen() bool {
	return r.breaker.State() == gobreaker.StateOpen
}

// execute runs a remote call through the breaker.
func (r *SupabaseRepository) execute(op string, call func() (any, error)) (any, error) {
	if !r.initialized.Load() {
		return nil, fmt.Errorf("supabase repository not initialized")
	}
	result, err := r.breaker.Execute(call)
	if err != nil {
		return nil, fmt.Errorf("supabase %s failed: %w", op, err)
	}
	return result, nil
}

// Create implements Repository.
func (r *SupabaseRepository) Create(_ context.Context, table string, record Record) (Record, error) {
	result, err := r.execute("insert", func() (any, error) {
		raw, _, err := r.client.From(table).
			Insert(record, false, "", "representation", "").
			Execute()
		if err != nil {
			return nil, err
		}
		return firstRecord(raw)
	})
	if err != nil {
		return nil, err
	}
	return result.(Record), nil
}

// Read implements Repository.
func (r *SupabaseRepository) Read(_ context.Context, table, id string) (Record, error) {
	result, err := r.execute("select", func() (any, error) {
		raw, _, err := r.client.From(table).
			Select("*", "", false).
			Eq("id", id).
			Single().
			Execute()
		if err != nil {
			return nil, err
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(Record), nil
}

// Update implements Repository.
func (r *SupabaseRepository) Update(_ context.Context, table, id string, changes Record) (Record, error) {
	result, err := r.execute("update", func() (any, error) {
		raw, _, err := r.client.From(table).
			Update(changes, "representation", "").
			Eq("id", id).
			Execute()
		if err != nil {
			return nil, err
		}
		return firstRecord(raw)
	})
	if err != nil {
		return nil, err
	}
	return result.(Record), nil
}

// Delete implements Repository.
func (r *SupabaseRepository) Delete(_ context.Context, table, id string) error {
	_, err := r.execute("delete", func() (any, error) {
		_, _, err := r.client.From(table).
			Delete("", "").
			Eq("id", id).
			Execute()
		return nil, err
	})
	return err
}

// Query implements Repository with equality filters, ordering and a limit.
func (r *SupabaseRepository) Query(_ context.Context, table string, filters map[string]string, opts QueryOptions) ([]Record, error) {
	result, err := r.execute("query", func() (any, error) {
		builder := r.client.From(table).Select("*", "", false)
		for column, value := range filters {
			builder = builder.Eq(column, value)
		}
		if opts.OrderBy != "" {
			builder = builder.Order(opts.OrderBy, &postgrest.OrderOpts{
				Ascending: !opts.Descending,
			})
		}
		if opts.Limit > 0 {
			builder = builder.Limit(opts.Limit, "")
		}

		raw, _, err := builder.Execute()
		if err != nil {
			return nil, err
		}
		var records []Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("failed to decode records: %w", err)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Record), nil
}

// Execute implements Repository by invoking a remote procedure. The raw
// PostgREST response is decoded when it is JSON and returned as-is
// otherwise.
func (r *SupabaseRepository) Execute(_ context.Context, rpc string, params map[string]any) (any, error) {
	return r.execute("rpc", func() (any, error) {
		raw := r.client.Rpc(rpc, "", params)
		if raw == "" {
			return nil, nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return raw, nil
		}
		return decoded, nil
	})
}

// firstRecord decodes a PostgREST "representation" response, which is an
// array even for single-row writes.
func firstRecord(raw []byte) (Record, error) {
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode write response: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("write returned no representation")
	}
	return records[0], nil
}
