package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device identity endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleRegisterDevice)
				r.Put("/{appDeviceID}/key", s.handleRotateKey)
				r.Delete("/{id}", s.handleRevokeOwnDevice)
			})
			r.Delete("/admin/devices/{id}", s.handleRevokeAnyDevice)

			// Route pass endpoints
			r.Route("/passes", func(r chi.Router) {
				r.Post("/", s.handleRequestPass)
				r.Get("/history", s.handlePassHistory)
			})

			// Key sharing endpoints
			r.Route("/shares", func(r chi.Router) {
				r.Get("/", s.handleListShares)
				r.Post("/", s.handleCreateShare)
				r.Post("/invite", s.handleInviteShare)
				r.Get("/expired", s.handleExpiredShares)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetShare)
					r.Patch("/", s.handleUpdateShare)
					r.Delete("/", s.handleRevokeShare)
				})
			})

			r.Get("/units/{id}/roster", s.handleUnitRoster)
		})
	})

	return r
}

// handleHealth returns the server health status plus the state of the
// optional backends.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "down"
		} else {
			status["database"] = "ok"
		}
	}
	if s.bus != nil {
		if err := s.bus.HealthCheck(); err != nil {
			status["event_bus"] = "down"
		} else {
			status["event_bus"] = "ok"
		}
	}
	if s.metrics != nil {
		if err := s.metrics.HealthCheck(r.Context()); err != nil {
			status["metrics"] = "down"
		} else {
			status["metrics"] = "ok"
		}
	}

	code := http.StatusOK
	if status["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
