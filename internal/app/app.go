// Package app assembles the runtime: configuration, logging, metrics,
// tracing, the event bus, the error handler and the dependency injection
// container with every service registration, then drives the staged
// bootstrap and the diagnostics endpoint.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"giftboard-runtime/internal/apperrors"
	"giftboard-runtime/internal/config"
	"giftboard-runtime/internal/container"
	"giftboard-runtime/internal/eventbus"
	"giftboard-runtime/internal/observability"
	"giftboard-runtime/internal/platform"
	"giftboard-runtime/internal/services"
	"giftboard-runtime/internal/storage"
	"giftboard-runtime/internal/validator"
)

// Service names registered in the container. Aliases keep call sites stable
// if an implementation is swapped.
const (
	SvcConfig            = "config"
	SvcLogger            = "logger"
	SvcEventBus          = "eventBus"
	SvcErrorHandler      = "errorHandler"
	SvcLocalStore        = "localStore"
	SvcRemoteRepository  = "supabaseRepository"
	SvcRepository        = "repository"
	SvcTelegramAdapter   = "telegramAdapter"
	SvcGiftService       = "giftService"
	SvcProfileService    = "profileService"
	SvcCatalogController = "catalogController"

	AliasDataService = "dataService"
	AliasPlatform    = "platform"
)

// ErrRestartRequested is returned by Run when a recovery routine scheduled a
// process restart; the caller re-runs the application.
var ErrRestartRequested = fmt.Errorf("restart requested by recovery routine")

// App is the assembled runtime.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Container *container.Container
	Bus       *eventbus.InMemoryBus
	Errors    *apperrors.Handler
	Metrics   *observability.Metrics

	bootstrap     container.Bootstrap
	validator     *validator.Validator
	diagnostics   *http.Server
	traceShutdown func(context.Context) error

	restartMu sync.Mutex
	restartCh chan struct{}
}

// New loads configuration and assembles the runtime without starting it.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return NewWithConfig(cfg, logger)
}

// NewWithConfig assembles the runtime from an already-loaded configuration.
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	tracer, traceShutdown, err := observability.SetupTracing(cfg.Tracing)
	if err != nil {
		// Tracing is never worth failing startup over.
		logger.Warn("tracing setup failed, continuing without spans", zap.Error(err))
	}

	bus := eventbus.NewInMemoryBus(eventbus.Config{
		HistoryLimit:  cfg.EventBus.HistoryLimit,
		HistoryWindow: cfg.EventBus.HistoryWindow,
	}, logger)

	localStore := storage.NewLocalStore(cfg.Storage, logger)
	adapter := platform.NewTelegramAdapter(cfg.Telegram, localStore, logger)

	app := &App{
		Config:        cfg,
		Logger:        logger,
		Bus:           bus,
		Metrics:       metrics,
		traceShutdown: traceShutdown,
		restartCh:     make(chan struct{}, 1),
	}

	// The notifier's validator carries no error sink: a failed delivery must
	// not re-enter Handle.
	notifier := platform.NewAlertNotifier(validator.New(logger, nil), adapter, SvcTelegramAdapter)

	app.Errors = apperrors.NewHandler(apperrors.Config{
		Logger:     logger,
		Emitter:    bus,
		Notifier:   notifier,
		Recovery:   localStore,
		Metrics:    metrics,
		Restart:    app.scheduleRestart,
		Capacity:   cfg.ErrorLog.Capacity,
		RetryDelay: cfg.Bootstrap.RetryDelay,
	})

	app.validator = validator.New(logger, app.Errors)
	bus.SetMetrics(metrics)

	c := container.New(logger, metrics)
	app.Container = c

	boot := container.Bootstrap{
		RegisterCore: func(c *container.Container) error {
			c.RegisterValue(SvcConfig, cfg)
			c.RegisterValue(SvcLogger, logger)
			c.RegisterSingleton(SvcEventBus, bus)
			c.RegisterSingleton(SvcErrorHandler, app.Errors)
			return nil
		},
		RegisterAdapters: func(c *container.Container) error {
			c.RegisterSingleton(SvcLocalStore, localStore)
			c.RegisterSingleton(SvcTelegramAdapter, adapter)
			c.Alias(AliasPlatform, SvcTelegramAdapter)
			return nil
		},
		RegisterRepositories: func(c *container.Container) error {
			if err := c.Register(SvcRemoteRepository, func(deps ...any) (any, error) {
				return storage.NewSupabaseRepository(cfg.Supabase, logger), nil
			}, container.Options{}); err != nil {
				return err
			}
			return c.Register(SvcRepository, func(deps ...any) (any, error) {
				// A degraded remote arrives here as its fallback-wrapped
				// stand-in; the failover then serves everything locally.
				remote, _ := deps[0].(*storage.SupabaseRepository)
				return storage.NewFailoverRepository(remote, localStore, logger), nil
			}, container.Options{
				Dependencies: []string{SvcRemoteRepository},
				Aliases:      []string{AliasDataService},
			})
		},
		RegisterServices: func(c *container.Container) error {
			if err := c.Register(SvcGiftService, func(deps ...any) (any, error) {
				repo := deps[0].(storage.Repository)
				return services.NewGiftService(repo, bus, logger), nil
			}, container.Options{
				Dependencies: []string{SvcRepository},
			}); err != nil {
				return err
			}
			if err := c.Register(SvcProfileService, func(deps ...any) (any, error) {
				repo := deps[0].(storage.Repository)
				identity := deps[1].(*platform.TelegramAdapter)
				return services.NewProfileService(repo, identity, bus, logger), nil
			}, container.Options{
				Dependencies: []string{SvcRepository, SvcTelegramAdapter},
			}); err != nil {
				return err
			}
			return c.Register(SvcCatalogController, func(deps ...any) (any, error) {
				return services.NewCatalogController(bus, logger)
			}, container.Options{})
		},

		AdapterServices:    []string{SvcLocalStore, SvcTelegramAdapter},
		RepositoryServices: []string{SvcRemoteRepository, SvcRepository},
		CriticalServices:   []string{SvcGiftService, SvcProfileService},
		Authenticate: func(ctx context.Context) error {
			return adapter.Authenticate(ctx)
		},
		Substitute: func(name string, instance any) any {
			if name != SvcRemoteRepository {
				return instance
			}
			return app.validator.NewFallbackWrapper(instance, name, map[string]validator.Fallback{
				"Query": func(...any) any { return []storage.Record{} },
			})
		},
		Errors: app.Errors,
		Tracer: tracer,
	}
	app.bootstrap = boot

	return app, nil
}

// Start runs the staged bootstrap, flips bus readiness, starts the catalog
// controller and the diagnostics endpoint.
func (a *App) Start(ctx context.Context) error {
	if err := a.Container.InitializeApp(ctx, a.bootstrap); err != nil {
		return err
	}

	a.Bus.SetReady(true)

	ctrl := a.Container.MustGet(SvcCatalogController).(*services.CatalogController)
	if err := ctrl.Start(ctx, a.Config.Bootstrap.ReadyTimeout); err != nil {
		return err
	}

	a.diagnostics = observability.NewDiagnosticsServer(a.Config.Server, a.Metrics, a.healthSnapshot, a.Errors)
	go func() {
		if err := a.diagnostics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("diagnostics server failed", zap.Error(err))
		}
	}()

	a.Logger.Info("runtime started",
		zap.String("app", a.Config.App.Name),
		zap.String("environment", string(a.Config.Environment)),
		zap.String("diagnostics", a.Config.Server.DiagnosticsAddr),
	)
	return nil
}

// Run starts the runtime and blocks until the context is cancelled or a
// recovery routine requests a restart.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	select {
	case <-ctx.Done():
		return nil
	case <-a.restartCh:
		return ErrRestartRequested
	}
}

// Shutdown stops the diagnostics endpoint and flushes telemetry.
func (a *App) Shutdown(ctx context.Context) {
	if a.diagnostics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.diagnostics.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("diagnostics shutdown failed", zap.Error(err))
		}
	}
	if a.traceShutdown != nil {
		if err := a.traceShutdown(ctx); err != nil {
			a.Logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

// scheduleRestart is the error handler's retry recovery hook.
func (a *App) scheduleRestart(delay time.Duration) {
	a.Logger.Warn("restart scheduled by recovery routine", zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		a.restartMu.Lock()
		defer a.restartMu.Unlock()
		select {
		case a.restartCh <- struct{}{}:
		default:
		}
	})
}

// healthSnapshot aggregates service health for the diagnostics endpoint.
func (a *App) healthSnapshot() map[string]any {
	degraded := a.Container.Degraded()
	a.Metrics.SetDegradedServices(len(degraded))

	servicesHealth := map[string]any{}
	for _, name := range []string{SvcGiftService, SvcProfileService, SvcRepository, SvcTelegramAdapter} {
		instance, err := a.Container.Get(name)
		if err != nil {
			servicesHealth[name] = map[string]any{"available": false}
			continue
		}
		servicesHealth[name] = a.validator.ServiceHealth(instance, name)
	}

	return map[string]any{
		"healthy":  len(degraded) == 0,
		"degraded": degraded,
		"services": servicesHealth,
		"eventbus": map[string]any{"ready": a.Bus.Ready()},
		"errors":   len(a.Errors.Log()),
	}
}
