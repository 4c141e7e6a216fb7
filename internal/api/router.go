package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/outputs/{pin}", s.handleSubmitOutput)
				r.Get("/history", s.handleGetPinHistory)
				r.Get("/commands", s.handleGetCommandLog)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns bridge health: ok when every device is connected.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.bridge.Status()
	connected := 0
	for _, st := range stats {
		if st.Connected {
			connected++
		}
	}

	status := "ok"
	if connected < len(stats) {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           s.version,
		"devices":           len(stats),
		"devices_connected": connected,
	})
}
