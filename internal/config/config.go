// Package config provides configuration management for the runtime:
// layered file/environment loading, struct-tag validation, and hot reload in
// development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment identifies the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration for the runtime.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" validate:"required,oneof=development staging production"`

	App       App       `yaml:"app" json:"app"`
	Server    Server    `yaml:"server" json:"server"`
	Supabase  Supabase  `yaml:"supabase" json:"supabase"`
	Telegram  Telegram  `yaml:"telegram" json:"telegram"`
	Storage   Storage   `yaml:"storage" json:"storage"`
	EventBus  EventBus  `yaml:"event_bus" json:"eventBus"`
	Bootstrap Bootstrap `yaml:"bootstrap" json:"bootstrap"`
	ErrorLog  ErrorLog  `yaml:"error_log" json:"errorLog"`
	Logging   Logging   `yaml:"logging" json:"logging"`
	Metrics   Metrics   `yaml:"metrics" json:"metrics"`
	Tracing   Tracing   `yaml:"tracing" json:"tracing"`

	// LoadedFrom tracks which sources contributed, for diagnostics.
	LoadedFrom []string `yaml:"-" json:"-"`
}

// App identifies the application.
type App struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Version string `yaml:"version" json:"version"`
}

// Server configures the diagnostics HTTP endpoint.
type Server struct {
	DiagnosticsAddr string        `yaml:"diagnostics_addr" json:"diagnosticsAddr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdownTimeout"`
}

// Supabase configures the remote data service.
type Supabase struct {
	URL    string `yaml:"url" json:"url" validate:"omitempty,url"`
	Key    string `yaml:"key" json:"-"`
	Schema string `yaml:"schema" json:"schema"`

	// Circuit breaker settings for remote calls.
	BreakerMaxRequests      uint32        `yaml:"breaker_max_requests" json:"breakerMaxRequests"`
	BreakerInterval         time.Duration `yaml:"breaker_interval" json:"breakerInterval"`
	BreakerTimeout          time.Duration `yaml:"breaker_timeout" json:"breakerTimeout"`
	BreakerFailureThreshold float64       `yaml:"breaker_failure_threshold" json:"breakerFailureThreshold" validate:"gte=0,lte=1"`
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests" json:"breakerMinRequests"`
}

// Telegram configures platform integration and authentication.
type Telegram struct {
	BotToken   string        `yaml:"bot_token" json:"-"`
	AuthMaxAge time.Duration `yaml:"auth_max_age" json:"authMaxAge"`
}

// Storage configures the local (offline/degraded) store.
type Storage struct {
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// EventBus configures history retention.
type EventBus struct {
	HistoryLimit  int           `yaml:"history_limit" json:"historyLimit" validate:"gte=0"`
	HistoryWindow time.Duration `yaml:"history_window" json:"historyWindow"`
}

// Bootstrap configures startup timing.
type Bootstrap struct {
	ReadyTimeout time.Duration `yaml:"ready_timeout" json:"readyTimeout"`
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retryDelay"`
}

// ErrorLog configures the bounded error history.
type ErrorLog struct {
	Capacity int `yaml:"capacity" json:"capacity" validate:"gte=1"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

// Metrics configures prometheus exposition.
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Tracing configures otel spans around bootstrap and dispatch.
type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"serviceName"`
	SampleRate  float64 `yaml:"sample_rate" json:"sampleRate" validate:"gte=0,lte=1"`
}

// Validate checks the configuration against its struct tags plus a few
// cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Environment == Production && c.Supabase.URL == "" {
		return fmt.Errorf("configuration validation failed: supabase.url is required in production")
	}
	return nil
}

// IsDevelopment reports whether hot reload and console logging apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// getEnvironment resolves the current environment from ENVIRONMENT,
// defaulting to development.
func getEnvironment() Environment {
	switch strings.ToLower(os.Getenv("ENVIRONMENT")) {
	case "production", "prod":
		return Production
	case "staging":
		return Staging
	default:
		return Development
	}
}
