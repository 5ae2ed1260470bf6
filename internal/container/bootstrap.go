package container

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/validator"
)

// ============================================================================
// BOOTSTRAP ORCHESTRATION
// ============================================================================

// Phase registers one tier of services. Registration is declarative: phases
// must not construct anything beyond calling Register/RegisterValue.
type Phase func(c *Container) error

// Bootstrap describes the staged application start. Registration phases run
// in order; then initialization drives the async Initialize of resolved
// services in two criticality tiers. Adapter and repository failures are
// classified and downgraded to degraded mode; authentication failure aborts
// the bootstrap.
type Bootstrap struct {
	RegisterCore         Phase
	RegisterAdapters     Phase
	RegisterRepositories Phase
	RegisterServices     Phase

	// AdapterServices and RepositoryServices are initialized after
	// registration; their failures are non-fatal (degraded mode).
	AdapterServices    []string
	RepositoryServices []string

	// CriticalServices are initialized sequentially; any failure aborts the
	// bootstrap with the failing step attached.
	CriticalServices []string

	// Authenticate restores a stored credential or performs a fresh
	// authentication. Its failure is the one fatal initialization path.
	Authenticate func(ctx context.Context) error

	// Substitute, when set, produces the degraded stand-in for a service
	// whose initialization failed. The container installs the returned
	// instance as the singleton, so later resolutions receive the
	// substituted (typically fallback-wrapped) service instead of the
	// broken one. Returning the instance unchanged keeps it as-is.
	Substitute func(name string, instance any) any

	// Errors classifies and records non-fatal initialization failures.
	Errors *apperrors.Handler

	// Tracer, when set, wraps each phase in a span. Tracing is optional and
	// never fails the bootstrap.
	Tracer trace.Tracer
}

// Bootstrap step tags carried by failures.
const (
	StepRegisterCore         = "register_core"
	StepRegisterAdapters     = "register_adapters"
	StepRegisterRepositories = "register_repositories"
	StepRegisterServices     = "register_services"
	StepInitializeServices   = "initialize_services"
	StepAuthentication       = "authentication"
)

// InitializeApp runs the multi-phase bootstrap. It is idempotent: a second
// call warns and returns nil. On failure the returned error carries the step
// tag of the phase that failed.
func (c *Container) InitializeApp(ctx context.Context, boot Bootstrap) error {
	c.mu.Lock()
	if c.bootstrapped {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Warn("application already initialized, ignoring repeated bootstrap")
		}
		return nil
	}
	c.bootstrapped = true
	c.mu.Unlock()

	started := time.Now()

	phases := []struct {
		step string
		run  Phase
	}{
		{StepRegisterCore, boot.RegisterCore},
		{StepRegisterAdapters, boot.RegisterAdapters},
		{StepRegisterRepositories, boot.RegisterRepositories},
		{StepRegisterServices, boot.RegisterServices},
	}

	for _, phase := range phases {
		if phase.run == nil {
			continue
		}
		if err := c.runPhase(ctx, boot.Tracer, phase.step, func(context.Context) error {
			return phase.run(c)
		}); err != nil {
			wrapped := apperrors.NewError(apperrors.KindBootstrapFailed,
				"bootstrap phase failed").
				WithStep(phase.step).
				WithCause(err).
				Build()
			if c.logger != nil {
				c.logger.Error("bootstrap phase failed",
					zap.String("step", phase.step),
					zap.Error(err),
				)
			}
			return wrapped
		}
	}

	if err := c.runPhase(ctx, boot.Tracer, StepInitializeServices, func(ctx context.Context) error {
		return c.initializeServices(ctx, boot)
	}); err != nil {
		return err
	}

	if c.logger != nil {
		c.logger.Info("application bootstrap complete",
			zap.Duration("elapsed", time.Since(started)),
			zap.Strings("degraded", c.Degraded()),
		)
	}
	return nil
}

// runPhase executes one bootstrap step, optionally under a span.
func (c *Container) runPhase(ctx context.Context, tracer trace.Tracer, step string, fn func(context.Context) error) error {
	if tracer != nil {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "bootstrap."+step)
		defer span.End()
	}
	return fn(ctx)
}

// initializeServices drives async initialization in criticality order:
// adapters and repositories first (non-fatal), then authentication (fatal),
// then the remaining critical tier (fatal). Phase order is significant and
// must not be parallelized; later services assume earlier ones are ready.
func (c *Container) initializeServices(ctx context.Context, boot Bootstrap) error {
	for _, name := range boot.AdapterServices {
		if instance, err := c.initializeOne(ctx, name); err != nil {
			c.markDegraded(name, instance, "bootstrap.adapter", err, boot)
		}
	}

	for _, name := range boot.RepositoryServices {
		if instance, err := c.initializeOne(ctx, name); err != nil {
			c.markDegraded(name, instance, "bootstrap.repository", err, boot)
		}
	}

	if boot.Authenticate != nil {
		if err := boot.Authenticate(ctx); err != nil {
			return apperrors.AuthenticationBootstrapFailed(err)
		}
	}

	for _, name := range boot.CriticalServices {
		if _, err := c.initializeOne(ctx, name); err != nil {
			return apperrors.NewError(apperrors.KindBootstrapFailed,
				"critical service initialization failed").
				WithStep(StepInitializeServices).
				WithService(name).
				WithCause(err).
				Build()
		}
	}
	return nil
}

// initializeOne resolves a service and invokes its Initialize method if it
// declares one. Services without the capability are already ready. The
// resolved instance is returned even on initialization failure so degraded
// handling can substitute for it.
func (c *Container) initializeOne(ctx context.Context, name string) (any, error) {
	instance, err := c.Get(name)
	if err != nil {
		return nil, err
	}

	init, ok := instance.(validator.Initializable)
	if !ok {
		return instance, nil
	}

	started := time.Now()
	if err := init.Initialize(ctx); err != nil {
		return instance, err
	}
	if c.logger != nil {
		c.logger.Debug("service initialized",
			zap.String("service", name),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
	return instance, nil
}

// markDegraded records a non-fatal initialization failure, installs the
// configured degraded stand-in as the service's singleton, and routes the
// failure through the error handler so recovery state gets set.
func (c *Container) markDegraded(name string, instance any, context string, err error, boot Bootstrap) {
	c.mu.Lock()
	c.degraded = append(c.degraded, name)
	c.mu.Unlock()

	if boot.Substitute != nil && instance != nil {
		if substituted := boot.Substitute(name, instance); substituted != nil {
			c.RegisterSingleton(name, substituted)
		}
	}

	if c.logger != nil {
		c.logger.Warn("service initialization failed, continuing in degraded mode",
			zap.String("service", name),
			zap.Error(err),
		)
	}
	if boot.Errors != nil {
		boot.Errors.Handle(err, context+"."+name)
	}
}
