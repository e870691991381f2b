// Package httpapi assembles the service's HTTP surface: the versioned API,
// health probes and the Prometheus endpoint.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"balregistry/internal/baselocale/handler"
	"balregistry/internal/transport/http/shared"
)

// HealthChecker reports the health of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the router's inputs. Checkers may be empty; readyz then always
// reports ready.
type Deps struct {
	BaseLocales *handler.Handler
	Checkers    map[string]HealthChecker
}

// NewRouter wires all endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		failures := map[string]string{}
		for name, checker := range deps.Checkers {
			if err := checker.Health(req.Context()); err != nil {
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			shared.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "degraded",
				"failures": failures,
			})
			return
		}
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())

	deps.BaseLocales.Register(r)
	return r
}
