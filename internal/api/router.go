package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-patchbay/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, echoRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermGraphRead)).Get("/graph", s.handleGetGraph)
			r.With(s.requirePermission(auth.PermGraphRead)).Get("/graph/stats", s.handleGraphStats)
			r.With(s.requirePermission(auth.PermHistoryRead)).Get("/history", s.handleListHistory)

			r.Route("/connections", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermGraphPatch))
				r.Post("/", s.handleConnect)
				r.Delete("/", s.handleDisconnect)
			})

			r.With(s.requirePermission(auth.PermGraphResync)).Post("/resync", s.handleResync)
			r.With(s.requirePermission(auth.PermSystemAdmin)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status. A relay or broker that is
// down degrades the status but the endpoint still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	resp := map[string]any{
		"version": s.version,
	}

	if s.relay != nil {
		online := s.relay.RelayOnline()
		resp["relay_online"] = online
		if !online {
			status = "degraded"
		}
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp["mqtt_connected"] = connected
		if !connected {
			status = "degraded"
		}
	}

	resp["status"] = status
	writeJSON(w, http.StatusOK, resp)
}
