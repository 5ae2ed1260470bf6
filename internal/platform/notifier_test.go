package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/validator"
)

func TestNotifierDeliversAlertThroughAdapter(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	t.Setenv("TELEGRAM_INIT_DATA", signInitData(t, testBotToken, freshFields()))
	require.NoError(t, adapter.Authenticate(context.Background()))

	notifier := NewAlertNotifier(validator.New(zap.NewNop(), nil), adapter, "telegramAdapter")
	notifier.Notify(apperrors.Classify(errors.New("supabase connection refused")))

	alerts := adapter.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "data service")
}

func TestNotifierDowngradesWhenAdapterNotReady(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	// No session: per-call validation refuses delivery instead of failing.
	notifier := NewAlertNotifier(validator.New(zap.NewNop(), nil), adapter, "telegramAdapter")
	notifier.Notify(apperrors.Classify(errors.New("supabase connection refused")))

	assert.Empty(t, adapter.Alerts())
}

func TestNotifierIgnoresSilentClassifications(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	t.Setenv("TELEGRAM_INIT_DATA", signInitData(t, testBotToken, freshFields()))
	require.NoError(t, adapter.Authenticate(context.Background()))

	notifier := NewAlertNotifier(validator.New(zap.NewNop(), nil), adapter, "telegramAdapter")
	notifier.Notify(apperrors.ErrorInfo{})

	assert.Empty(t, adapter.Alerts())
}

func TestShowAlertKeepsRecentAlertsBounded(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	for i := 0; i < 25; i++ {
		adapter.ShowAlert("alert")
	}
	assert.Len(t, adapter.Alerts(), 20)
}
