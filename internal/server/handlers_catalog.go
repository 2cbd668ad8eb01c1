package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/toolgate/internal/mcp"
)

// listTools handles GET /api/tools.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools := []mcp.Tool{}
	if s.catalog != nil {
		tools = append(tools, s.catalog.Tools()...)
	}
	writeJSON(w, http.StatusOK, tools)
}

// listProviders handles GET /api/providers.
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	providers := []mcp.ProviderStatus{}
	if s.catalog != nil {
		providers = append(providers, s.catalog.Providers()...)
	}
	writeJSON(w, http.StatusOK, providers)
}

type sessionSummary struct {
	ID                   string    `json:"id"`
	Messages             int       `json:"messages"`
	WaitingForPermission bool      `json:"waitingForPermission"`
	Streaming            bool      `json:"streaming"`
	LastActivity         time.Time `json:"lastActivity"`
}

// listSessions handles GET /api/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	store := s.processor.Store()
	out := []sessionSummary{}
	for _, key := range store.Keys() {
		snap, ok := store.Snapshot(key)
		if !ok {
			continue
		}
		out = append(out, sessionSummary{
			ID:                   snap.ID,
			Messages:             len(snap.Messages),
			WaitingForPermission: snap.WaitingForPermission,
			Streaming:            snap.Streaming,
			LastActivity:         snap.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// getSession handles GET /api/sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	snap, ok := s.processor.Store().Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"sessions": s.processor.Store().Len(),
	}
	if s.catalog != nil {
		resp["tools"] = len(s.catalog.Tools())
	}
	writeJSON(w, http.StatusOK, resp)
}
