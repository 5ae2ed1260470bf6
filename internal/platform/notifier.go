package platform

import (
	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/validator"
)

// AlertNotifier delivers user-facing error messages through the platform
// adapter. Delivery goes through a validated proxy, so a missing or
// not-yet-authenticated adapter downgrades the notification to a log line
// instead of failing inside the error handler.
type AlertNotifier struct {
	proxy *validator.ValidatedProxy
}

// NewAlertNotifier wraps the adapter in a per-call validated proxy.
func NewAlertNotifier(v *validator.Validator, adapter *TelegramAdapter, name string) *AlertNotifier {
	return &AlertNotifier{proxy: v.NewValidatedProxy(adapter, name)}
}

// Notify implements the error handler's notifier contract.
func (n *AlertNotifier) Notify(info apperrors.ErrorInfo) {
	if info.UserMessage == "" {
		return
	}
	_, _ = n.proxy.Call("ShowAlert", info.UserMessage)
}
