package apperrors

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// COLLABORATOR CONTRACTS
// ============================================================================

// EventEmitter is the slice of the event bus the handler needs to announce
// logged errors.
type EventEmitter interface {
	Emit(event string, data any) error
}

// Notifier renders a user-facing message through whatever presentation
// channel is available.
type Notifier interface {
	Notify(info ErrorInfo)
}

// RecoveryStore persists degraded-mode state for the next bootstrap to
// observe. Recovery routines set state only; they never re-initialize
// services themselves.
type RecoveryStore interface {
	SetFlag(name string, value bool) error
	ClearCredentials() error
}

// MetricsClient counts handled errors for monitoring.
type MetricsClient interface {
	IncrementCounter(name string, tags map[string]string)
}

// Degraded-state flag names recovery routines write.
const (
	FlagFallbackMode  = "fallback_mode"
	FlagOfflineMode   = "offline_mode"
	FlagReauthPending = "reauth_pending"
)

// EventErrorLogged is emitted on the bus for every handled error.
const EventErrorLogged = "error:logged"

// ============================================================================
// ERROR HANDLER
// ============================================================================

// LogEntry is one record in the bounded error log.
type LogEntry struct {
	Info    ErrorInfo `json:"info"`
	Context string    `json:"context"`
	Error   string    `json:"error"`
}

// Config configures the process-wide error handler.
type Config struct {
	Logger     *zap.Logger
	Emitter    EventEmitter              // Optional: error:logged events
	Notifier   Notifier                  // Optional: user-facing presentation
	Recovery   RecoveryStore             // Optional: degraded-state persistence
	Metrics    MetricsClient             // Optional: error counters
	Restart    func(delay time.Duration) // Optional: scheduled reload for retry recovery
	Capacity   int                       // Error log capacity; defaults to 100
	RetryDelay time.Duration             // Fixed delay before a scheduled retry; defaults to 3s
}

// Handler is the process-wide error classifier, recovery dispatcher and
// bounded error log. It lives for the process session.
type Handler struct {
	mu      sync.Mutex
	entries []LogEntry

	logger     *zap.Logger
	emitter    EventEmitter
	notifier   Notifier
	recovery   RecoveryStore
	metrics    MetricsClient
	restart    func(delay time.Duration)
	capacity   int
	retryDelay time.Duration
}

// NewHandler creates an error handler with the given collaborators.
func NewHandler(cfg Config) *Handler {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	return &Handler{
		logger:     cfg.Logger,
		emitter:    cfg.Emitter,
		notifier:   cfg.Notifier,
		recovery:   cfg.Recovery,
		metrics:    cfg.Metrics,
		restart:    cfg.Restart,
		capacity:   cfg.Capacity,
		retryDelay: cfg.RetryDelay,
	}
}

// Handle classifies the error, appends it to the bounded log, announces it on
// the bus, notifies the user and runs the automatic recovery routine at most
// once. The returned ErrorInfo is the classification result.
func (h *Handler) Handle(err error, context string) ErrorInfo {
	info := Classify(err)

	entry := LogEntry{Info: info, Context: context}
	if err != nil {
		entry.Error = err.Error()
	}
	h.append(entry)

	if h.logger != nil {
		h.logger.Error("error handled",
			zap.String("category", string(info.Category)),
			zap.String("context", context),
			zap.String("details", info.TechnicalDetails),
			zap.Bool("recovery_possible", info.RecoveryPossible),
			zap.String("recovery_action", string(info.RecoveryAction)),
		)
	}

	if h.metrics != nil {
		h.metrics.IncrementCounter("errors_total", map[string]string{
			"category": string(info.Category),
		})
	}

	if h.emitter != nil {
		if emitErr := h.emitter.Emit(EventErrorLogged, entry); emitErr != nil && h.logger != nil {
			h.logger.Warn("failed to announce handled error", zap.Error(emitErr))
		}
	}

	if h.notifier != nil {
		h.notifier.Notify(info)
	}

	if info.RecoveryPossible {
		h.recover(info)
	}

	return info
}

// recover dispatches the recovery routine for the classified action. All
// routines are idempotent state-setting actions; the next bootstrap observes
// the state they leave behind.
func (h *Handler) recover(info ErrorInfo) {
	switch info.RecoveryAction {
	case RecoveryFallbackMode:
		h.setFlag(FlagFallbackMode)
	case RecoveryOfflineMode:
		h.setFlag(FlagOfflineMode)
	case RecoveryRetry:
		if h.restart != nil {
			h.restart(h.retryDelay)
		}
	case RecoveryReauth:
		if h.recovery != nil {
			if err := h.recovery.ClearCredentials(); err != nil && h.logger != nil {
				h.logger.Warn("failed to clear stored credentials", zap.Error(err))
			}
		}
		h.setFlag(FlagReauthPending)
	}
}

func (h *Handler) setFlag(name string) {
	if h.recovery == nil {
		return
	}
	if err := h.recovery.SetFlag(name, true); err != nil && h.logger != nil {
		h.logger.Warn("failed to persist degraded-state flag",
			zap.String("flag", name),
			zap.Error(err),
		)
	}
}

// append adds an entry to the bounded log, evicting the oldest past capacity.
func (h *Handler) append(entry LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
}

// Log returns a copy of the error log in insertion order.
func (h *Handler) Log() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]LogEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// ClearLog resets the error log.
func (h *Handler) ClearLog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// ExportLog serializes the error log, preserving insertion order and full
// entry fidelity.
func (h *Handler) ExportLog() ([]byte, error) {
	return json.MarshalIndent(h.Log(), "", "  ")
}
