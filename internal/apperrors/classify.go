package apperrors

import (
	"strings"
	"time"
)

// ============================================================================
// CATEGORIES AND RECOVERY ACTIONS
// ============================================================================

// Category is the user-facing error family a failure is classified into.
type Category string

const (
	CategoryTelegram       Category = "telegram"
	CategoryDatabase       Category = "database"
	CategoryService        Category = "service"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategoryLoading        Category = "loading"
	CategoryUnknown        Category = "unknown"
)

// RecoveryAction names the automatic recovery routine for a category.
// The empty string means no automatic recovery is possible.
type RecoveryAction string

const (
	RecoveryFallbackMode RecoveryAction = "fallback_mode"
	RecoveryOfflineMode  RecoveryAction = "offline_mode"
	RecoveryRetry        RecoveryAction = "retry"
	RecoveryReauth       RecoveryAction = "reauth"
	RecoveryNone         RecoveryAction = ""
)

// ErrorInfo is the immutable classification result. It is produced once and
// consumed by logging, user notification and automatic recovery.
type ErrorInfo struct {
	Category         Category       `json:"category"`
	UserMessage      string         `json:"userMessage"`
	TechnicalDetails string         `json:"technicalDetails"`
	Timestamp        time.Time      `json:"timestamp"`
	RecoveryPossible bool           `json:"recoveryPossible"`
	RecoveryAction   RecoveryAction `json:"recoveryAction,omitempty"`
}

// ============================================================================
// CLASSIFICATION RULES
// ============================================================================

// categoryProfile carries the fixed user message and recovery decision for a
// category.
type categoryProfile struct {
	userMessage string
	action      RecoveryAction
}

var profiles = map[Category]categoryProfile{
	CategoryTelegram: {
		userMessage: "Telegram features are unavailable. The app will run in basic mode.",
		action:      RecoveryFallbackMode,
	},
	CategoryDatabase: {
		userMessage: "Could not reach the data service. Your data will be stored locally for now.",
		action:      RecoveryOfflineMode,
	},
	CategoryService: {
		userMessage: "A background service failed to start. Some features may be limited.",
		action:      RecoveryFallbackMode,
	},
	CategoryNetwork: {
		userMessage: "Network problem detected. Retrying shortly.",
		action:      RecoveryRetry,
	},
	CategoryAuthentication: {
		userMessage: "Your session has expired. Please sign in again.",
		action:      RecoveryReauth,
	},
	CategoryLoading: {
		userMessage: "Part of the app failed to load. Please reload the page.",
		action:      RecoveryRetry,
	},
	CategoryUnknown: {
		userMessage: "Something went wrong. Please try again.",
		action:      RecoveryNone,
	},
}

// textRule matches free-text error messages for failures that cross an
// untyped boundary. Rules are evaluated in order; the first match wins, so
// e.g. "database auth error" classifies as database, not authentication.
type textRule struct {
	category Category
	keywords []string
}

var textRules = []textRule{
	{CategoryTelegram, []string{"telegram", "webapp", "initdata", "platform"}},
	{CategoryDatabase, []string{"database", "supabase", "postgrest", "repository", "sql", "relation"}},
	{CategoryService, []string{"service", "container", "dependency", "factory"}},
	{CategoryNetwork, []string{"network", "fetch", "timeout", "connection", "unreachable", "deadline exceeded"}},
	{CategoryAuthentication, []string{"auth", "login", "user", "credential", "token", "unauthorized"}},
	{CategoryLoading, []string{"loading", "script", "404", "not found", "chunk"}},
}

// kindCategories maps typed kinds to categories, taking precedence over the
// textual rules.
var kindCategories = map[Kind]Category{
	KindServiceNotRegistered:          CategoryService,
	KindInvalidFactory:                CategoryService,
	KindCyclicDependency:              CategoryService,
	KindDependencyContractViolation:   CategoryService,
	KindServiceMissing:                CategoryService,
	KindServiceInvalidType:            CategoryService,
	KindServiceNotInitialized:         CategoryService,
	KindServiceInitializationRequired: CategoryService,
	KindMethodMissing:                 CategoryService,
	KindMethodNotCallable:             CategoryService,
	KindBootstrapFailed:               CategoryService,
	KindAuthenticationBootstrapFailed: CategoryAuthentication,
	KindEventBusTimeout:               CategoryService,
}

// ============================================================================
// CLASSIFIER
// ============================================================================

// Classify turns any error into an ErrorInfo. It never fails: an error that
// matches no rule is labeled unknown with a generic message and no recovery.
// Typed RuntimeError kinds classify directly; everything else falls back to
// ordered substring matching over the message text.
func Classify(err error) ErrorInfo {
	category := CategoryUnknown
	details := ""

	if err != nil {
		details = err.Error()
		if kind, ok := KindOf(err); ok {
			if mapped, ok := kindCategories[kind]; ok {
				category = mapped
			}
		} else {
			category = classifyText(details)
		}
	}

	profile := profiles[category]
	return ErrorInfo{
		Category:         category,
		UserMessage:      profile.userMessage,
		TechnicalDetails: details,
		Timestamp:        time.Now(),
		RecoveryPossible: profile.action != RecoveryNone,
		RecoveryAction:   profile.action,
	}
}

// classifyText applies the ordered textual rules to a lowercased message.
func classifyText(message string) Category {
	lower := strings.ToLower(message)
	for _, rule := range textRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}
