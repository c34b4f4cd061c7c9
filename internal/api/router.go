package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/pulse-core/internal/auth"
	"github.com/nerrad567/pulse-core/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Operator console
	if s.cfg.Panel.Enabled {
		console := http.StripPrefix("/panel", panel.Handler(s.cfg.Panel.Dir))
		r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))
		r.Handle("/panel/*", console)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/panel/", http.StatusFound)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermCommandSubmit)).Post("/commands", s.handleSubmitCommand)
			r.With(s.requirePermission(auth.PermStatusRead)).Get("/status", s.handleStatus)
			r.With(s.requirePermission(auth.PermDeviceRead)).Get("/devices", s.handleListDevices)

			// Operator controls
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSchedulerControl))
				r.Post("/stop", s.handleStopAll)
				r.Post("/lock", s.handleLock)
				r.Post("/unlock", s.handleUnlock)
			})

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"devices_reachable": s.sched.Connected(),
	})
}
