// Package opsserver exposes only the ops surface, /healthz and
// /metrics, never the business API. The /metrics handler serves the
// default prometheus registry; this process has no other HTTP surface
// to keep separate from it.
package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a dependency the ops surface should
// reflect (ledger chain verification, DB connectivity) is currently
// healthy.
type HealthChecker interface {
	Healthy(ctx context.Context) (bool, string)
}

// Server is the ops-only HTTP surface.
type Server struct {
	router  chi.Router
	checks  map[string]HealthChecker
}

// New builds the ops server. checks is a name -> HealthChecker map;
// every entry is reported under its name in the /healthz body.
func New(checks map[string]HealthChecker) *Server {
	s := &Server{checks: checks}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	for name, check := range s.checks {
		ok, detail := check.Healthy(ctx)
		if detail == "" {
			if ok {
				detail = "ok"
			} else {
				detail = "unhealthy"
			}
		}
		resp.Checks[name] = detail
		if !ok {
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
