package observability

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"giftboard-runtime/internal/config"
)

// HealthFunc produces the current health snapshot for /health.
type HealthFunc func() map[string]any

// ErrorLogExporter serializes the bounded error log for /errors.
type ErrorLogExporter interface {
	ExportLog() ([]byte, error)
}

// NewDiagnosticsServer builds the diagnostics HTTP server: health snapshot,
// prometheus metrics and the exported error log. It carries no application
// API; the runtime's consumers talk to it in-process.
func NewDiagnosticsServer(cfg config.Server, metrics *Metrics, health HealthFunc, errors ErrorLogExporter) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := health()
		w.Header().Set("Content-Type", "application/json")
		if healthy, ok := snapshot["healthy"].(bool); ok && !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.Registry(),
			promhttp.HandlerOpts{},
		))
	}

	if errors != nil {
		r.Get("/errors", func(w http.ResponseWriter, _ *http.Request) {
			data, err := errors.ExportLog()
			if err != nil {
				http.Error(w, "failed to export error log", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
		})
	}

	return &http.Server{
		Addr:         cfg.DiagnosticsAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
