package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// The /api/sensor and /api/register-device routes keep the exact request
// and response shapes the deployed firmware expects; changing them breaks
// devices that cannot be re-flashed remotely.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Device-facing endpoints (legacy wire format)
		r.Post("/sensor", s.handleSensor)
		r.Post("/register-device", s.handleRegisterDevice)

		// Dashboard read endpoints
		r.Get("/devices", s.handleListDevices)
		r.Get("/led", s.handleGetLED)
		r.Get("/sensor/latest", s.handleLatestReadings)
		r.Get("/health", s.handleHealth)
	})

	// WebSocket push channel
	r.Get(s.wsPath(), s.handleWebSocket)

	return r
}

// wsPath returns the configured WebSocket path, defaulting to /ws.
func (s *Server) wsPath() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return "/ws"
}
