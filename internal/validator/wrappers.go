package validator

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// ============================================================================
// VALIDATED PROXY
// ============================================================================

// ValidatedProxy forwards each call through a validate-then-delegate path.
// It catches services that become unhealthy after construction: every
// invocation re-validates the target method before delegating. Validation
// failures are logged, forwarded to the error sink, and returned to the
// caller.
type ValidatedProxy struct {
	real      any
	name      string
	validator *Validator
}

// NewValidatedProxy wraps a service so each method invocation is re-validated.
func (v *Validator) NewValidatedProxy(svc any, name string) *ValidatedProxy {
	return &ValidatedProxy{real: svc, name: name, validator: v}
}

// Call validates the named capability and delegates to it. Invocation errors
// from the real service propagate unchanged.
func (p *ValidatedProxy) Call(method string, args ...any) (any, error) {
	if err := p.validator.ValidateMethod(p.real, method, p.name); err != nil {
		if p.validator.logger != nil {
			p.validator.logger.Error("service validation failed on call",
				zap.String("service", p.name),
				zap.String("method", method),
				zap.Error(err),
			)
		}
		if p.validator.errors != nil {
			p.validator.errors.Handle(err, p.name+"."+method)
		}
		return nil, err
	}
	return invoke(p.real, method, args...)
}

// Unwrap returns the real service behind the proxy.
func (p *ValidatedProxy) Unwrap() any {
	return p.real
}

// ============================================================================
// FALLBACK WRAPPER
// ============================================================================

// Fallback is a caller-supplied default implementation for a named
// capability of a degraded service.
type Fallback func(args ...any) any

// FallbackWrapper is the degradation primitive: a typed decorator holding a
// reference to a possibly broken real service plus a table of named default
// closures. Each call first tries the real service; on failure it falls back
// to the default keyed by the same capability name; if neither exists the
// call is a harmless no-op that logs and answers nil.
//
// Callers of a fallback wrapper never receive an error for missing or broken
// capabilities, only degraded, explicitly defaulted behavior.
type FallbackWrapper struct {
	real      any
	name      string
	fallbacks map[string]Fallback
	logger    *zap.Logger
}

// NewFallbackWrapper wraps a degraded service. If the service passes
// ValidateService it is returned unchanged; callers keep talking to the real
// implementation. Otherwise a *FallbackWrapper is returned.
func (v *Validator) NewFallbackWrapper(svc any, name string, fallbacks map[string]Fallback) any {
	if err := v.ValidateService(svc, name); err == nil {
		return svc
	}

	if v.logger != nil {
		v.logger.Warn("substituting fallback wrapper for degraded service",
			zap.String("service", name),
			zap.Int("fallbacks", len(fallbacks)),
		)
	}

	return &FallbackWrapper{
		real:      svc,
		name:      name,
		fallbacks: fallbacks,
		logger:    v.logger,
	}
}

// Call invokes the named capability with the real-then-default-then-no-op
// path. It never returns an error.
func (w *FallbackWrapper) Call(method string, args ...any) any {
	if !isNil(w.real) {
		if result, err := invoke(w.real, method, args...); err == nil {
			return result
		}
	}

	if fb, ok := w.fallbacks[method]; ok && fb != nil {
		return fb(args...)
	}

	if w.logger != nil {
		w.logger.Warn("capability unavailable, answering nil",
			zap.String("service", w.name),
			zap.String("method", method),
		)
	}
	return nil
}

// ============================================================================
// REFLECTIVE INVOCATION
// ============================================================================

// invoke calls the named method on svc. Panics from argument mismatches or
// the method body are converted to errors so wrappers can treat a broken
// capability as a fallback trigger rather than a crash.
func invoke(svc any, method string, args ...any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("invoking %s: %v", method, r)
		}
	}()

	m := reflect.ValueOf(svc).MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("no method %s", method)
	}

	in := make([]reflect.Value, len(args))
	mt := m.Type()
	for i, arg := range args {
		if arg == nil {
			if i < mt.NumIn() {
				in[i] = reflect.Zero(mt.In(i))
			} else {
				in[i] = reflect.Zero(reflect.TypeOf((*any)(nil)).Elem())
			}
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}

	outs := m.Call(in)

	// A trailing error return is surfaced; the first non-error value is the
	// result.
	errType := reflect.TypeOf((*error)(nil)).Elem()
	for _, out := range outs {
		if out.Type().Implements(errType) {
			if !out.IsNil() {
				return nil, out.Interface().(error)
			}
			continue
		}
		if result == nil {
			result = out.Interface()
		}
	}
	return result, nil
}
