// Package observability provides the runtime's cross-cutting concerns:
// structured logging, prometheus metrics, optional tracing, and the
// diagnostics HTTP endpoint.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"giftboard-runtime/internal/config"
)

// NewLogger builds the process logger from configuration: JSON in
// production, console in development, with the configured level.
func NewLogger(cfg config.Logging, env config.Environment) (*zap.Logger, error) {
	var zapCfg zap.Config
	if env == config.Development || cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// MustLogger builds the logger or falls back to a development logger rather
// than failing startup over logging configuration.
func MustLogger(cfg config.Logging, env config.Environment) *zap.Logger {
	logger, err := NewLogger(cfg, env)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Warn("falling back to development logger", zap.Error(err))
		return fallback
	}
	return logger
}
