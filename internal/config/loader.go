package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader loads configuration from multiple sources. The loading order, from
// lowest to highest priority:
//  1. Default values (in code)
//  2. Base configuration file (base.yaml)
//  3. Environment-specific file (e.g. production.yaml)
//  4. Local overrides (local.yaml, development only)
//  5. Environment variables
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	fileLoaders map[string]FileLoader
}

// FileLoader parses one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target any) error
	Extension() string
}

// NewLoader creates a loader rooted at basePath for the given environment.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	loader := &Loader{
		basePath:    basePath,
		environment: env,
		fileLoaders: make(map[string]FileLoader),
	}
	loader.RegisterLoader(&YAMLLoader{})
	loader.RegisterLoader(&JSONLoader{})
	return loader
}

// RegisterLoader registers a file loader for its extension.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders[loader.Extension()] = loader
}

// Load assembles the layered configuration and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := l.defaultConfig()
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	if l.environment == Development {
		if err := l.loadFile("local", cfg); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load local config: %v\n", err)
		}
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")

	cfg.LoadedFrom = l.sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile loads a named file, trying each supported extension.
func (l *Loader) loadFile(name string, cfg *Config) error {
	for ext, loader := range l.fileLoaders {
		filename := filepath.Join(l.basePath, fmt.Sprintf("%s.%s", name, ext))

		file, err := os.Open(filename)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		defer file.Close()

		if err := loader.Load(file, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		l.sources = append(l.sources, filename)
		return nil
	}
	return os.ErrNotExist
}

// loadEnvironmentVariables overlays the highest-priority source.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	if val := os.Getenv("SUPABASE_URL"); val != "" {
		cfg.Supabase.URL = val
	}
	if val := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); val != "" {
		cfg.Supabase.Key = val
	}
	if val := os.Getenv("TELEGRAM_BOT_TOKEN"); val != "" {
		cfg.Telegram.BotToken = val
	}
	if val := os.Getenv("DIAGNOSTICS_ADDR"); val != "" {
		cfg.Server.DiagnosticsAddr = val
	}
	if val := os.Getenv("STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ENABLE_METRICS"); val != "" {
		cfg.Metrics.Enabled = parseBool(val)
	}
	if val := os.Getenv("ENABLE_TRACING"); val != "" {
		cfg.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("ERROR_LOG_CAPACITY"); val != "" {
		if capacity := parseInt(val); capacity > 0 {
			cfg.ErrorLog.Capacity = capacity
		}
	}
}

// defaultConfig ensures the runtime can start without configuration files.
func (l *Loader) defaultConfig() *Config {
	return &Config{
		Environment: l.environment,
		App: App{
			Name:    "giftboard",
			Version: "1.0.0",
		},
		Server: Server{
			DiagnosticsAddr: ":9180",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Supabase: Supabase{
			Schema:                  "public",
			BreakerMaxRequests:      5,
			BreakerInterval:         30 * time.Second,
			BreakerTimeout:          60 * time.Second,
			BreakerFailureThreshold: 0.8,
			BreakerMinRequests:      5,
		},
		Telegram: Telegram{
			AuthMaxAge: 24 * time.Hour,
		},
		Storage: Storage{
			Path:      filepath.Join(os.TempDir(), "giftboard-local"),
			Namespace: "giftboard",
		},
		EventBus: EventBus{
			HistoryLimit:  200,
			HistoryWindow: 5 * time.Minute,
		},
		Bootstrap: Bootstrap{
			ReadyTimeout: 10 * time.Second,
			RetryDelay:   3 * time.Second,
		},
		ErrorLog: ErrorLog{
			Capacity: 100,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "giftboard",
		},
		Tracing: Tracing{
			Enabled:     false,
			ServiceName: "giftboard-runtime",
			SampleRate:  0.1,
		},
	}
}

// ============================================================================
// FILE LOADERS
// ============================================================================

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target any) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(target)
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	return decoder.Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

// ============================================================================
// ENTRY POINTS
// ============================================================================

// Load loads configuration for the environment resolved from ENVIRONMENT.
func Load() (*Config, error) {
	env := getEnvironment()
	basePath := os.Getenv("CONFIG_DIR")
	return NewLoader(basePath, env).Load()
}

// MustLoad loads configuration and panics on error. Use only in main.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func parseInt(s string) int {
	val, _ := strconv.Atoi(s)
	return val
}

func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}
