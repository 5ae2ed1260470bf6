package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftboard-runtime/internal/config"
	"giftboard-runtime/internal/storage"
)

const testBotToken = "123456:test-bot-token"

// signInitData builds a launch payload signed the way Telegram signs it.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	pairs := make([]string, 0, len(fields))
	for key, value := range fields {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	hash := hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for key, value := range fields {
		values.Set(key, value)
	}
	values.Set("hash", hash)
	return values.Encode()
}

func freshFields() map[string]string {
	return map[string]string{
		"auth_date": fmt.Sprint(time.Now().Unix()),
		"query_id":  "AAH9mQ",
		"user":      `{"id":99,"username":"tester","first_name":"Test"}`,
	}
}

func newTestAdapter(t *testing.T) (*TelegramAdapter, *storage.LocalStore) {
	t.Helper()
	store := storage.NewLocalStore(config.Storage{Path: t.TempDir(), Namespace: "auth"}, zap.NewNop())
	require.NoError(t, store.Initialize(context.Background()))

	adapter := NewTelegramAdapter(config.Telegram{
		BotToken:   testBotToken,
		AuthMaxAge: time.Hour,
	}, store, zap.NewNop())
	return adapter, store
}

func TestValidateInitDataAcceptsSignedPayload(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	session, err := adapter.ValidateInitData(signInitData(t, testBotToken, freshFields()))
	require.NoError(t, err)
	assert.EqualValues(t, 99, session.User.ID)
	assert.Equal(t, "tester", session.User.Username)
	assert.Equal(t, "AAH9mQ", session.QueryID)
	assert.WithinDuration(t, time.Now(), session.AuthDate, time.Minute)
}

func TestValidateInitDataRejectsTamperedPayload(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	signed := signInitData(t, testBotToken, freshFields())
	tampered := strings.Replace(signed, "tester", "mallory", 1)

	_, err := adapter.ValidateInitData(tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestValidateInitDataRejectsWrongToken(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.ValidateInitData(signInitData(t, "other:token", freshFields()))
	assert.Error(t, err)
}

func TestValidateInitDataRejectsMissingHash(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.ValidateInitData("user=%7B%22id%22%3A99%7D&auth_date=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestValidateInitDataRejectsExpiredPayload(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	fields := freshFields()
	fields["auth_date"] = fmt.Sprint(time.Now().Add(-2 * time.Hour).Unix())

	_, err := adapter.ValidateInitData(signInitData(t, testBotToken, fields))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateInitDataRejectsMissingUser(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	fields := freshFields()
	delete(fields, "user")

	_, err := adapter.ValidateInitData(signInitData(t, testBotToken, fields))
	assert.Error(t, err)
}

func TestAuthenticateFromLaunchData(t *testing.T) {
	adapter, store := newTestAdapter(t)
	t.Setenv("TELEGRAM_INIT_DATA", signInitData(t, testBotToken, freshFields()))

	require.NoError(t, adapter.Authenticate(context.Background()))
	require.NotNil(t, adapter.CurrentUser())
	assert.EqualValues(t, 99, adapter.CurrentUser().ID)
	assert.True(t, adapter.IsInitialized())

	// The session was cached for the next start.
	var cached Session
	ok, err := store.Credentials(&cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 99, cached.User.ID)
}

func TestAuthenticateFromCachedSession(t *testing.T) {
	adapter, store := newTestAdapter(t)
	t.Setenv("TELEGRAM_INIT_DATA", "")

	require.NoError(t, store.SetCredentials(Session{
		User:     User{ID: 7, Username: "cached"},
		AuthDate: time.Now(),
	}))

	require.NoError(t, adapter.Initialize(context.Background()))
	require.NoError(t, adapter.Authenticate(context.Background()))
	assert.EqualValues(t, 7, adapter.CurrentUser().ID)
}

func TestAuthenticateFailsWithNothing(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	t.Setenv("TELEGRAM_INIT_DATA", "")

	require.NoError(t, adapter.Initialize(context.Background()))
	err := adapter.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no launch data")
}

func TestLogoutClearsSessionAndCache(t *testing.T) {
	adapter, store := newTestAdapter(t)
	t.Setenv("TELEGRAM_INIT_DATA", signInitData(t, testBotToken, freshFields()))
	require.NoError(t, adapter.Authenticate(context.Background()))

	require.NoError(t, adapter.Logout())
	assert.Nil(t, adapter.CurrentUser())
	assert.Nil(t, adapter.CurrentSession())

	var cached Session
	ok, _ := store.Credentials(&cached)
	assert.False(t, ok)
}
