// Package platform adapts the runtime to its host platform: Telegram
// Mini App authentication, session persistence and user identity.
package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"giftboard-runtime/internal/config"
)

// User is the authenticated Telegram identity.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// Session is the persisted authentication result, restored across restarts
// through the credential store.
type Session struct {
	User     User      `json:"user"`
	AuthDate time.Time `json:"auth_date"`
	QueryID  string    `json:"query_id,omitempty"`
}

// CredentialStore is the slice of the local store the adapter needs to cache
// and restore sessions.
type CredentialStore interface {
	SetCredentials(credentials any) error
	Credentials(target any) (bool, error)
	ClearCredentials() error
	Flag(name string) bool
}

// TelegramAdapter validates Mini App launch data and maintains the current
// session. Authentication failure during bootstrap is fatal: a consumer
// running without identity would silently operate on nobody's data.
type TelegramAdapter struct {
	cfg    config.Telegram
	store  CredentialStore
	logger *zap.Logger

	mu      sync.RWMutex
	session *Session
	alerts  []string
}

// NewTelegramAdapter creates the adapter.
func NewTelegramAdapter(cfg config.Telegram, store CredentialStore, logger *zap.Logger) *TelegramAdapter {
	return &TelegramAdapter{cfg: cfg, store: store, logger: logger}
}

// Initialize restores a cached session if one exists. Absence is not an
// error; Authenticate decides whether the process can proceed.
func (a *TelegramAdapter) Initialize(_ context.Context) error {
	var session Session
	ok, err := a.store.Credentials(&session)
	if err != nil {
		return fmt.Errorf("failed to restore cached session: %w", err)
	}
	if ok {
		a.mu.Lock()
		a.session = &session
		a.mu.Unlock()
		a.logger.Info("restored cached session",
			zap.Int64("user_id", session.User.ID),
		)
	}
	return nil
}

// IsInitialized reports whether a session is held.
func (a *TelegramAdapter) IsInitialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil
}

// Authenticate establishes the session: fresh launch data from
// TELEGRAM_INIT_DATA wins, a cached session is accepted otherwise. With
// neither, the bootstrap must fail.
func (a *TelegramAdapter) Authenticate(_ context.Context) error {
	if initData := os.Getenv("TELEGRAM_INIT_DATA"); initData != "" {
		session, err := a.ValidateInitData(initData)
		if err != nil {
			return fmt.Errorf("launch data rejected: %w", err)
		}
		a.setSession(session)
		if err := a.store.SetCredentials(session); err != nil {
			a.logger.Warn("failed to cache session", zap.Error(err))
		}
		a.logger.Info("authenticated from launch data",
			zap.Int64("user_id", session.User.ID),
		)
		return nil
	}

	a.mu.RLock()
	restored := a.session
	a.mu.RUnlock()
	if restored != nil {
		a.logger.Info("authenticated from cached session",
			zap.Int64("user_id", restored.User.ID),
		)
		return nil
	}

	return fmt.Errorf("authentication failed: no launch data and no cached session")
}

// ValidateInitData verifies the Mini App launch payload. The signature is
// HMAC-SHA256 over the sorted key=value pairs using a secret derived from
// the bot token, per the Telegram Web Apps contract. Stale payloads beyond
// the configured max age are rejected even when correctly signed.
func (a *TelegramAdapter) ValidateInitData(initData string) (*Session, error) {
	if a.cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("malformed launch data: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("launch data missing signature")
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(a.cfg.BotToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return nil, fmt.Errorf("launch data signature mismatch")
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("launch data has invalid auth_date")
	}
	authDate := time.Unix(authUnix, 0)
	if a.cfg.AuthMaxAge > 0 && time.Since(authDate) > a.cfg.AuthMaxAge {
		return nil, fmt.Errorf("launch data expired")
	}

	var user User
	if raw := values.Get("user"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("launch data has invalid user payload: %w", err)
		}
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("launch data carries no user identity")
	}

	return &Session{
		User:     user,
		AuthDate: authDate,
		QueryID:  values.Get("query_id"),
	}, nil
}

// CurrentUser returns the authenticated identity, or nil before
// authentication.
func (a *TelegramAdapter) CurrentUser() *User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	user := a.session.User
	return &user
}

// CurrentSession returns a copy of the held session, or nil.
func (a *TelegramAdapter) CurrentSession() *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	session := *a.session
	return &session
}

// ShowAlert surfaces a user-facing message through the Mini App alert
// channel. The runtime records and logs it; the widget picks pending alerts
// up over the session transport.
func (a *TelegramAdapter) ShowAlert(message string) {
	a.mu.Lock()
	a.alerts = append(a.alerts, message)
	if len(a.alerts) > 20 {
		a.alerts = a.alerts[len(a.alerts)-20:]
	}
	a.mu.Unlock()

	a.logger.Info("user alert", zap.String("message", message))
}

// Alerts returns the recent user-facing alerts, oldest first.
func (a *TelegramAdapter) Alerts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.alerts...)
}

// Logout drops the session and the cached credentials.
func (a *TelegramAdapter) Logout() error {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	return a.store.ClearCredentials()
}

func (a *TelegramAdapter) setSession(session *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = session
}
