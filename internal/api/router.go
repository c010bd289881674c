package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxBodyBytes))

	// Prometheus exposition
	if s.metricsCfg.Enabled && s.metricsHandler != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.metricsHandler)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// System metrics (JSON)
		r.Get("/metrics", s.handleMetrics)

		// Shared connections
		r.Get("/connections", s.handleListConnections)

		// Endpoints
		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handleListEndpoints)
			r.Post("/{id}/events", s.handleSendEvent)
		})

		// WebSocket activity stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
//
// Telemetry problems are reported but do not make the relay unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.telemetry != nil {
		if err := s.telemetry.HealthCheck(r.Context()); err != nil {
			resp["telemetry"] = err.Error()
		} else {
			resp["telemetry"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
