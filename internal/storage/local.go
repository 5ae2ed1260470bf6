package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"giftboard-runtime/internal/config"
)

// ============================================================================
// LOCAL STORE
// ============================================================================

// LocalStore is the file-backed key/value store serving three roles: the
// offline-mode data repository, the degraded-state flag store recovery
// routines write, and the credential cache the platform adapter restores
// sessions from. One JSON document per namespace, written atomically.
type LocalStore struct {
	mu          sync.Mutex
	path        string
	namespace   string
	logger      *zap.Logger
	data        map[string]json.RawMessage
	initialized atomic.Bool
}

// Keys under which non-table state lives.
const (
	keyCredentials = "credentials"
	flagPrefix     = "flag:"
	tablePrefix    = "table:"
)

// NewLocalStore creates a store rooted at the configured path.
func NewLocalStore(cfg config.Storage, logger *zap.Logger) *LocalStore {
	return &LocalStore{
		path:      cfg.Path,
		namespace: cfg.Namespace,
		logger:    logger,
		data:      make(map[string]json.RawMessage),
	}
}

// Initialize loads the namespace document from disk. A missing file is a
// fresh store, not an error.
func (s *LocalStore) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return fmt.Errorf("failed to create local store directory: %w", err)
	}

	raw, err := os.ReadFile(s.file())
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read local store: %w", err)
		}
	} else if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			// A corrupt store is recreated rather than blocking startup.
			s.logger.Warn("local store corrupt, starting fresh", zap.Error(err))
			s.data = make(map[string]json.RawMessage)
		}
	}

	s.initialized.Store(true)
	return nil
}

// IsInitialized reports whether the store has been loaded.
func (s *LocalStore) IsInitialized() bool {
	return s.initialized.Load()
}

func (s *LocalStore) file() string {
	return filepath.Join(s.path, s.namespace+".json")
}

// persist writes the document atomically. Caller holds s.mu.
func (s *LocalStore) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode local store: %w", err)
	}

	tmp := s.file() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write local store: %w", err)
	}
	return os.Rename(tmp, s.file())
}

// ============================================================================
// KEY/VALUE ACCESS
// ============================================================================

// Set stores a value under a key.
func (s *LocalStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return s.persist()
}

// Get reads a value into target. Returns false when the key is absent.
func (s *LocalStore) Get(key string, target any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("failed to decode value for %q: %w", key, err)
	}
	return true, nil
}

// Remove deletes a key.
func (s *LocalStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.persist()
}

// ============================================================================
// DEGRADED-STATE FLAGS AND CREDENTIALS
// ============================================================================

// SetFlag persists a degraded-state flag for the next bootstrap to observe.
// Implements the error handler's RecoveryStore contract.
func (s *LocalStore) SetFlag(name string, value bool) error {
	return s.Set(flagPrefix+name, value)
}

// Flag reads a degraded-state flag. Absent flags are false.
func (s *LocalStore) Flag(name string) bool {
	var value bool
	ok, err := s.Get(flagPrefix+name, &value)
	if err != nil || !ok {
		return false
	}
	return value
}

// SetCredentials caches the authenticated session.
func (s *LocalStore) SetCredentials(credentials any) error {
	return s.Set(keyCredentials, credentials)
}

// Credentials restores the cached session. Returns false if none is stored.
func (s *LocalStore) Credentials(target any) (bool, error) {
	return s.Get(keyCredentials, target)
}

// ClearCredentials drops the cached session. Implements RecoveryStore.
func (s *LocalStore) ClearCredentials() error {
	return s.Remove(keyCredentials)
}

// ============================================================================
// OFFLINE REPOSITORY
// ============================================================================

// Create implements Repository against the local tables. Records without an
// id are assigned one.
func (s *LocalStore) Create(_ context.Context, table string, record Record) (Record, error) {
	if record == nil {
		record = Record{}
	}
	if _, ok := record["id"]; !ok {
		record["id"] = uuid.NewString()
	}

	records, err := s.tableRecords(table)
	if err != nil {
		return nil, err
	}
	records = append(records, record)
	if err := s.Set(tablePrefix+table, records); err != nil {
		return nil, err
	}
	return record, nil
}

// Read implements Repository.
func (s *LocalStore) Read(_ context.Context, table, id string) (Record, error) {
	records, err := s.tableRecords(table)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if fmt.Sprint(record["id"]) == id {
			return record, nil
		}
	}
	return nil, fmt.Errorf("record %q not found in local table %q", id, table)
}

// Update implements Repository.
func (s *LocalStore) Update(_ context.Context, table, id string, changes Record) (Record, error) {
	records, err := s.tableRecords(table)
	if err != nil {
		return nil, err
	}
	for i, record := range records {
		if fmt.Sprint(record["id"]) == id {
			for key, value := range changes {
				record[key] = value
			}
			records[i] = record
			if err := s.Set(tablePrefix+table, records); err != nil {
				return nil, err
			}
			return record, nil
		}
	}
	return nil, fmt.Errorf("record %q not found in local table %q", id, table)
}

// Delete implements Repository. Deleting an absent record is a no-op.
func (s *LocalStore) Delete(_ context.Context, table, id string) error {
	records, err := s.tableRecords(table)
	if err != nil {
		return err
	}
	for i, record := range records {
		if fmt.Sprint(record["id"]) == id {
			records = append(records[:i:i], records[i+1:]...)
			return s.Set(tablePrefix+table, records)
		}
	}
	return nil
}

// Query implements Repository with equality filters and a limit. Ordering is
// insertion order; the local store does not sort.
func (s *LocalStore) Query(_ context.Context, table string, filters map[string]string, opts QueryOptions) ([]Record, error) {
	records, err := s.tableRecords(table)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(records))
	for _, record := range records {
		if matches(record, filters) {
			out = append(out, record)
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
	}
	return out, nil
}

// Execute implements Repository. Remote procedures have no local
// counterpart; the call degrades to a logged nil result rather than an
// error, matching the fallback contract consumers rely on.
func (s *LocalStore) Execute(_ context.Context, rpc string, _ map[string]any) (any, error) {
	s.logger.Warn("remote procedure unavailable offline",
		zap.String("rpc", rpc),
	)
	return nil, nil
}

func (s *LocalStore) tableRecords(table string) ([]Record, error) {
	var records []Record
	if _, err := s.Get(tablePrefix+table, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func matches(record Record, filters map[string]string) bool {
	for key, want := range filters {
		if fmt.Sprint(record[key]) != want {
			return false
		}
	}
	return true
}
