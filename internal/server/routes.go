package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Conversation
	r.Get("/stream-sse", s.streamQuery)
	r.Post("/tool-permission", s.toolPermission)
	r.Get("/clear-session", s.clearSession)
	r.Post("/clear-session", s.clearSession)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tool-permission", s.toolPermission)
		r.Get("/clear-session", s.clearSession)
		r.Post("/clear-session", s.clearSession)
		r.Post("/inject-message", s.injectMessage)

		r.Get("/tools", s.listTools)
		r.Get("/providers", s.listProviders)
		r.Get("/sessions", s.listSessions)
		r.Get("/sessions/{sessionID}", s.getSession)
		r.Get("/events", s.streamEvents)
	})

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method("GET", "/metrics", s.metrics)
	}
}
