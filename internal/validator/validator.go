// Package validator provides runtime contract enforcement and graceful
// degradation wrapping. Services are checked against small capability
// interfaces rather than inspected dynamically; degraded services are
// substituted by typed decorators that prefer the real implementation and
// fall back to caller-supplied defaults.
package validator

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
)

// ============================================================================
// CAPABILITY INTERFACES
// ============================================================================

// Initializable marks a service with an asynchronous initialization step the
// bootstrap must drive.
type Initializable interface {
	Initialize(ctx context.Context) error
}

// StatusReporter marks a service that can report whether initialization has
// completed. Services implementing Initializable should implement this too;
// an Initializable without it is treated as never-initialized.
type StatusReporter interface {
	IsInitialized() bool
}

// ErrorSink receives validation failures surfaced by the validated proxy.
type ErrorSink interface {
	Handle(err error, context string) apperrors.ErrorInfo
}

// ============================================================================
// VALIDATOR
// ============================================================================

// Validator validates service health and produces fallback-wrapping
// decorators. It is stateless; one instance serves the whole process.
type Validator struct {
	logger *zap.Logger
	errors ErrorSink
}

// New creates a validator. The error sink may be nil; validation failures are
// then only logged.
func New(logger *zap.Logger, errors ErrorSink) *Validator {
	return &Validator{logger: logger, errors: errors}
}

// ValidateService checks that a service is present, is an object, and has
// completed any initialization it declares. A service with no initialization
// markers is assumed ready.
func (v *Validator) ValidateService(svc any, name string) error {
	if isNil(svc) {
		return apperrors.NewError(apperrors.KindServiceMissing,
			fmt.Sprintf("service %q is missing", name)).
			WithService(name).
			Build()
	}

	if !isObject(svc) {
		return apperrors.NewError(apperrors.KindServiceInvalidType,
			fmt.Sprintf("service %q is not an object (got %T)", name, svc)).
			WithService(name).
			Build()
	}

	if reporter, ok := svc.(StatusReporter); ok {
		if !reporter.IsInitialized() {
			return apperrors.NewError(apperrors.KindServiceNotInitialized,
				fmt.Sprintf("service %q is not initialized", name)).
				WithService(name).
				Build()
		}
		return nil
	}

	if _, ok := svc.(Initializable); ok {
		return apperrors.NewError(apperrors.KindServiceInitializationRequired,
			fmt.Sprintf("service %q requires initialization before use", name)).
			WithService(name).
			Build()
	}

	return nil
}

// ValidateMethod validates the service itself, then checks that the named
// capability exists and is invocable.
func (v *Validator) ValidateMethod(svc any, method, name string) error {
	if err := v.ValidateService(svc, name); err != nil {
		return err
	}

	val := reflect.ValueOf(svc)
	if m := val.MethodByName(method); m.IsValid() {
		return nil
	}

	// A struct field with the right name but a non-func type is a capability
	// that exists but cannot be invoked.
	if field := fieldByName(val, method); field.IsValid() {
		if field.Kind() == reflect.Func {
			return nil
		}
		return apperrors.NewError(apperrors.KindMethodNotCallable,
			fmt.Sprintf("capability %q of service %q is not callable", method, name)).
			WithService(name).
			WithMethod(method).
			Build()
	}

	return apperrors.NewError(apperrors.KindMethodMissing,
		fmt.Sprintf("service %q has no capability %q", name, method)).
		WithService(name).
		WithMethod(method).
		Build()
}

// ============================================================================
// HEALTH SNAPSHOT
// ============================================================================

// Health is a side-effect-free diagnostic snapshot of a service.
type Health struct {
	Available   bool     `json:"available"`
	Initialized bool     `json:"initialized"`
	Healthy     bool     `json:"healthy"`
	Issues      []string `json:"issues,omitempty"`
}

// ServiceHealth inspects a service without mutating it.
func (v *Validator) ServiceHealth(svc any, name string) Health {
	health := Health{}

	if isNil(svc) {
		health.Issues = append(health.Issues, fmt.Sprintf("service %q is missing", name))
		return health
	}
	health.Available = true

	if !isObject(svc) {
		health.Issues = append(health.Issues, fmt.Sprintf("service %q is not an object", name))
		return health
	}

	switch s := svc.(type) {
	case StatusReporter:
		health.Initialized = s.IsInitialized()
		if !health.Initialized {
			health.Issues = append(health.Issues, fmt.Sprintf("service %q is not initialized", name))
		}
	default:
		if _, ok := svc.(Initializable); ok {
			health.Issues = append(health.Issues, fmt.Sprintf("service %q requires initialization", name))
		} else {
			// No initialization markers: assumed ready.
			health.Initialized = true
		}
	}

	health.Healthy = health.Available && health.Initialized && len(health.Issues) == 0
	return health
}

// ============================================================================
// HELPERS
// ============================================================================

// isNil handles both untyped nil and typed-nil pointers/interfaces.
func isNil(svc any) bool {
	if svc == nil {
		return true
	}
	val := reflect.ValueOf(svc)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return val.IsNil()
	}
	return false
}

// isObject reports whether the value can plausibly carry capabilities.
func isObject(svc any) bool {
	val := reflect.ValueOf(svc)
	switch val.Kind() {
	case reflect.Ptr, reflect.Struct, reflect.Map, reflect.Func, reflect.Interface:
		return true
	}
	return false
}

// fieldByName resolves a struct field through at most one pointer level.
func fieldByName(val reflect.Value, name string) reflect.Value {
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return reflect.Value{}
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return val.FieldByName(name)
}
