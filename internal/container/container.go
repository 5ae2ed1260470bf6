// Package container provides the dependency injection container at the heart
// of the runtime: a declarative registry of factories, singletons and values,
// a lazy memoizing resolver with cycle detection, and the staged application
// bootstrap orchestrator.
//
// Registration is pure data with no side effects; resolution is lazy and
// memoized. That separation lets services be declared before their
// dependencies exist and lets fallback substitution happen inside a factory
// without callers knowing whether they received the real or the degraded
// implementation.
package container

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
)

// ============================================================================
// REGISTRATION MODEL
// ============================================================================

// Factory produces a service instance given its resolved dependencies, in
// the order listed at registration. Factories must not call back into the
// container; everything they need is injected.
type Factory func(deps ...any) (any, error)

// Options controls how a registration resolves.
type Options struct {
	// Singleton caches the materialized instance for the container's
	// lifetime. Defaults to true; set Transient to opt out.
	Transient bool

	// Dependencies lists registered names resolved and passed to the
	// factory as positional arguments.
	Dependencies []string

	// Eager materializes the instance at registration time. Only valid for
	// singletons.
	Eager bool

	// Aliases installs additional lookup names resolving to this
	// registration.
	Aliases []string
}

// registration is the stored form of a declared service.
type registration struct {
	name         string
	factory      Factory
	singleton    bool
	dependencies []string
	eager        bool
	aliases      []string
}

// MetricsClient counts container activity for monitoring.
type MetricsClient interface {
	IncrementCounter(name string, tags map[string]string)
}

// ============================================================================
// CONTAINER
// ============================================================================

// Container is the registry and resolver. All access is serialized by a
// single mutex; resolution of a dependency graph happens entirely under it,
// so singleton materialization is at most once per name even for re-entrant
// graphs.
type Container struct {
	mu         sync.Mutex
	values     map[string]any
	singletons map[string]any
	factories  map[string]*registration
	aliases    map[string]string

	logger  *zap.Logger
	metrics MetricsClient

	bootstrapped bool
	degraded     []string
}

// New creates an empty container.
func New(logger *zap.Logger, metrics MetricsClient) *Container {
	return &Container{
		values:     make(map[string]any),
		singletons: make(map[string]any),
		factories:  make(map[string]*registration),
		aliases:    make(map[string]string),
		logger:     logger,
		metrics:    metrics,
	}
}

// Register stores a service registration. The factory is invoked lazily with
// the resolved dependency instances as positional arguments. Fails with
// InvalidFactory if the factory is nil or the options are inconsistent.
func (c *Container) Register(name string, factory Factory, opts Options) error {
	if factory == nil {
		return apperrors.InvalidFactory(name, "factory is nil")
	}
	if opts.Eager && opts.Transient {
		return apperrors.InvalidFactory(name, "eager registration requires a singleton")
	}

	reg := &registration{
		name:         name,
		factory:      factory,
		singleton:    !opts.Transient,
		dependencies: append([]string(nil), opts.Dependencies...),
		eager:        opts.Eager,
		aliases:      append([]string(nil), opts.Aliases...),
	}

	c.mu.Lock()
	c.factories[name] = reg
	for _, alias := range reg.aliases {
		c.aliases[alias] = name
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("service registered",
			zap.String("service", name),
			zap.Bool("singleton", reg.singleton),
			zap.Strings("dependencies", reg.dependencies),
		)
	}

	if reg.eager {
		if _, err := c.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// RegisterValue stores an already-constructed instance under a name,
// bypassing factory resolution entirely.
func (c *Container) RegisterValue(name string, value any) {
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
}

// RegisterSingleton stores an externally supplied instance as a materialized
// singleton.
func (c *Container) RegisterSingleton(name string, instance any) {
	c.mu.Lock()
	c.singletons[name] = instance
	c.mu.Unlock()
}

// Alias installs an additional lookup name for an existing registration.
func (c *Container) Alias(alias, canonical string) {
	c.mu.Lock()
	c.aliases[alias] = canonical
	c.mu.Unlock()
}

// Get resolves a service by name: aliases first, then values, materialized
// singletons, and finally the registered factory with its dependency graph.
// Fails with ServiceNotRegistered if no entry exists at any tier, and with
// CyclicDependency if the dependency graph loops.
func (c *Container) Get(name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	instance, err := c.resolve(name, nil)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.IncrementCounter("container_resolutions_total", map[string]string{
			"service": name,
			"status":  status,
		})
	}
	return instance, err
}

// MustGet resolves a service or panics. Use only in assembly code where a
// miss is a programming error.
func (c *Container) MustGet(name string) any {
	instance, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return instance
}

// resolve walks the dependency graph under c.mu. stack carries the current
// resolution path for cycle detection.
func (c *Container) resolve(name string, stack []string) (any, error) {
	canonical := c.canonical(name)

	if value, ok := c.values[canonical]; ok {
		return value, nil
	}
	if instance, ok := c.singletons[canonical]; ok {
		return instance, nil
	}

	reg, ok := c.factories[canonical]
	if !ok {
		return nil, apperrors.ServiceNotRegistered(name)
	}

	for _, seen := range stack {
		if seen == canonical {
			return nil, apperrors.CyclicDependency(append(stack, canonical))
		}
	}
	stack = append(stack, canonical)

	deps := make([]any, len(reg.dependencies))
	for i, dep := range reg.dependencies {
		resolved, err := c.resolve(dep, stack)
		if err != nil {
			return nil, err
		}
		deps[i] = resolved
	}

	instance, err := reg.factory(deps...)
	if err != nil {
		return nil, fmt.Errorf("factory for service %q failed: %w", canonical, err)
	}

	if reg.singleton {
		c.singletons[canonical] = instance
	}
	return instance, nil
}

// canonical resolves an alias to its registered name. Unaliased names map to
// themselves.
func (c *Container) canonical(name string) string {
	if target, ok := c.aliases[name]; ok {
		return target
	}
	return name
}

// Has reports whether a name resolves at any tier. It never fails.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	canonical := c.canonical(name)
	if _, ok := c.values[canonical]; ok {
		return true
	}
	if _, ok := c.singletons[canonical]; ok {
		return true
	}
	_, ok := c.factories[canonical]
	return ok
}

// CreateScope returns a new container sharing this one's factories, aliases
// and values, with an empty singleton map: scoped singletons are independent
// per scope while registrations are shared.
func (c *Container) CreateScope() *Container {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope := New(c.logger, c.metrics)
	for name, value := range c.values {
		scope.values[name] = value
	}
	for name, reg := range c.factories {
		scope.factories[name] = reg
	}
	for alias, target := range c.aliases {
		scope.aliases[alias] = target
	}
	return scope
}

// Clear drops every registration and materialized instance.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = make(map[string]any)
	c.singletons = make(map[string]any)
	c.factories = make(map[string]*registration)
	c.aliases = make(map[string]string)
	c.bootstrapped = false
	c.degraded = nil
}

// Degraded returns the names of services whose initialization failed
// non-fatally during bootstrap. Empty means full health.
func (c *Container) Degraded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.degraded...)
}

// Names returns every resolvable canonical name, for diagnostics.
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	for name := range c.values {
		seen[name] = struct{}{}
	}
	for name := range c.singletons {
		seen[name] = struct{}{}
	}
	for name := range c.factories {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}
