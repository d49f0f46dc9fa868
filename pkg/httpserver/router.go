package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewOpsRouter returns the operational endpoints of a worker process:
// /healthz, /readyz and /metrics served from gatherer.
func NewOpsRouter(log *slog.Logger, gatherer prometheus.Gatherer, checks ...Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", LivenessHandler())
	r.Get("/readyz", ReadinessHandler(log, checks...))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
