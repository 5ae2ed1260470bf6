// Package apperrors provides the runtime's unified error handling: typed
// error kinds attached at the throw site, a classifier that turns any failure
// into an actionable user-facing decision, and a bounded process-wide error
// log with automatic recovery dispatch.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// ERROR KINDS
// ============================================================================

// Kind identifies the runtime error class. Kinds are attached where the error
// is raised so classification does not have to guess from message text.
type Kind string

const (
	// Container errors
	KindServiceNotRegistered Kind = "SERVICE_NOT_REGISTERED"
	KindInvalidFactory       Kind = "INVALID_FACTORY"
	KindCyclicDependency     Kind = "CYCLIC_DEPENDENCY"

	// Construction-time contract errors (fatal, fail-fast)
	KindDependencyContractViolation Kind = "DEPENDENCY_CONTRACT_VIOLATION"

	// Validation errors (recoverable via fallback wrapping)
	KindServiceMissing                Kind = "SERVICE_MISSING"
	KindServiceInvalidType            Kind = "SERVICE_INVALID_TYPE"
	KindServiceNotInitialized         Kind = "SERVICE_NOT_INITIALIZED"
	KindServiceInitializationRequired Kind = "SERVICE_INITIALIZATION_REQUIRED"
	KindMethodMissing                 Kind = "METHOD_MISSING"
	KindMethodNotCallable             Kind = "METHOD_NOT_CALLABLE"

	// Bootstrap errors
	KindBootstrapFailed               Kind = "BOOTSTRAP_FAILED"
	KindAuthenticationBootstrapFailed Kind = "AUTHENTICATION_BOOTSTRAP_FAILED"

	// Controller errors
	KindEventBusTimeout Kind = "EVENT_BUS_TIMEOUT"
)

// ============================================================================
// RUNTIME ERROR
// ============================================================================

// RuntimeError is the typed error carried across the runtime's boundaries.
// Service, Method and Step are optional context set by the raiser.
type RuntimeError struct {
	Kind    Kind
	Message string
	Service string
	Method  string
	Step    string
	Cause   error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	if e.Service != "" {
		b.WriteString(fmt.Sprintf(" (service=%s", e.Service))
		if e.Method != "" {
			b.WriteString(fmt.Sprintf(", method=%s", e.Method))
		}
		b.WriteString(")")
	}
	if e.Step != "" {
		b.WriteString(fmt.Sprintf(" (step=%s)", e.Step))
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// ============================================================================
// ERROR BUILDER
// ============================================================================

// Builder provides fluent construction of RuntimeError instances.
type Builder struct {
	err *RuntimeError
}

// NewError creates a builder for the given kind and message.
func NewError(kind Kind, message string) *Builder {
	return &Builder{err: &RuntimeError{Kind: kind, Message: message}}
}

// WithService records the service name the error relates to.
func (b *Builder) WithService(name string) *Builder {
	b.err.Service = name
	return b
}

// WithMethod records the capability method the error relates to.
func (b *Builder) WithMethod(method string) *Builder {
	b.err.Method = method
	return b
}

// WithStep records the bootstrap phase that failed.
func (b *Builder) WithStep(step string) *Builder {
	b.err.Step = step
	return b
}

// WithCause records the underlying error.
func (b *Builder) WithCause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *RuntimeError {
	return b.err
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// ServiceNotRegistered reports a container lookup miss.
func ServiceNotRegistered(name string) *RuntimeError {
	return NewError(KindServiceNotRegistered, fmt.Sprintf("service %q is not registered", name)).
		WithService(name).
		Build()
}

// InvalidFactory reports a registration with a non-callable factory.
func InvalidFactory(name string, detail string) *RuntimeError {
	return NewError(KindInvalidFactory, fmt.Sprintf("invalid factory for service %q: %s", name, detail)).
		WithService(name).
		Build()
}

// CyclicDependency reports a dependency cycle discovered during resolution.
// The chain lists the resolution path, ending at the repeated name.
func CyclicDependency(chain []string) *RuntimeError {
	return NewError(KindCyclicDependency, "cyclic dependency: "+strings.Join(chain, " -> ")).
		WithService(chain[len(chain)-1]).
		Build()
}

// ContractViolation reports a missing capability discovered at construction.
func ContractViolation(component, detail string) *RuntimeError {
	return NewError(KindDependencyContractViolation, detail).
		WithService(component).
		Build()
}

// EventBusTimeout reports that a controller's bus never became ready.
func EventBusTimeout(component string, waited string) *RuntimeError {
	return NewError(KindEventBusTimeout, fmt.Sprintf("event bus not ready after %s", waited)).
		WithService(component).
		Build()
}

// AuthenticationBootstrapFailed reports the fatal bootstrap path: no stored
// credential could be restored and fresh authentication failed.
func AuthenticationBootstrapFailed(cause error) *RuntimeError {
	return NewError(KindAuthenticationBootstrapFailed, "authentication bootstrap failed").
		WithStep("authentication").
		WithCause(cause).
		Build()
}

// ============================================================================
// KIND CHECKING
// ============================================================================

// KindOf returns the kind of a RuntimeError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var rt *RuntimeError
	if errors.As(err, &rt) {
		return rt.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
