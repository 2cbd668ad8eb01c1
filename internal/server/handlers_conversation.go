package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/session"
	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/types"
)

const (
	headerSessionID = "X-Session-ID"
	cookieSessionID = "session_id"
)

// sessionKey derives the session key from the query, then the cookie. A new
// key is generated when neither is present.
func sessionKey(r *http.Request) (key string, generated bool) {
	if key = strings.TrimSpace(r.URL.Query().Get("session_id")); key != "" {
		return key, false
	}
	if c, err := r.Cookie(cookieSessionID); err == nil && c.Value != "" {
		return c.Value, false
	}
	return "session_" + ulid.Make().String(), true
}

// lookupKey is sessionKey without generation.
func lookupKey(r *http.Request) string {
	key, generated := sessionKey(r)
	if generated {
		return ""
	}
	return key
}

// streamQuery handles GET /stream-sse?q=...
//
// The response is an SSE stream of {role, content} events. It stays open
// while the session waits for a permission decision and ends after the
// done event or when the client goes away.
func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "query parameter q is required")
		return
	}

	key, _ := sessionKey(r)
	w.Header().Set(headerSessionID, key)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieSessionID,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	sink, err := stream.NewSSE(w, s.config.KeepAlive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// The turn outlives the request: backend and tool results are recorded
	// even if the client disconnects.
	ctx := context.WithoutCancel(r.Context())
	if err := s.processor.HandleQuery(ctx, key, query, sink); err != nil {
		log := logging.ForSession(key)
		log.Error().Err(err).Msg("query failed")
		_ = sink.Emit(types.EventError, "Error: "+err.Error())
		s.processor.Store().Detach(key, sink)
		return
	}

	select {
	case <-sink.Done():
	case <-r.Context().Done():
		log := logging.ForSession(key)
		log.Debug().Msg("client disconnected")
	}
	// A sink closed by a failed write is still bound until detached here.
	s.processor.Store().Detach(key, sink)
}

type permissionRequest struct {
	SessionID string `json:"sessionId"`
	Granted   bool   `json:"granted"`
}

// toolPermission handles POST /tool-permission. The decision is applied in
// the background against the session's attached stream.
func (s *Server) toolPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Session ID is required")
		return
	}

	// The decision answers the prompt pending now, not one a later query
	// may raise before it runs.
	prompt, resumed := s.processor.PendingPrompt(req.SessionID)
	if resumed {
		go func(key string, granted bool) {
			err := s.processor.ResolvePrompt(context.Background(), key, prompt, granted)
			switch {
			case err == nil:
			case errors.Is(err, session.ErrNoActiveStream),
				errors.Is(err, session.ErrNoPendingPermission),
				errors.Is(err, session.ErrStalePermission):
				log := logging.ForSession(key)
				log.Debug().Err(err).Msg("permission decision ignored")
			default:
				log := logging.ForSession(key)
				log.Error().Err(err).Msg("permission resolution failed")
			}
		}(req.SessionID, req.Granted)
	} else {
		log := logging.ForSession(req.SessionID)
		log.Debug().Bool("granted", req.Granted).Msg("permission decision with nothing to resume")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"resumed": resumed,
	})
}

type injectRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// injectMessage handles POST /api/inject-message.
func (s *Server) injectMessage(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Missing session_id or message")
		return
	}

	injected, pushed := s.processor.InjectMessage(req.SessionID, req.Message)
	if !injected {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	message := "Message injected, but no active stream found."
	if pushed {
		message = "Message injected and pushed to the client."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"injected": injected,
		"pushed":   pushed,
		"message":  message,
	})
}

// clearSession handles GET|POST /clear-session?session_id=...
func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	key := lookupKey(r)
	existed := key != "" && s.processor.ClearSession(key)

	message := "Session not found"
	if existed {
		message = "Session cleared"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"existed": existed,
		"message": message,
	})
}
