package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/opencode-ai/toolgate/internal/stream"
)

// streamEvents handles GET /api/events?session_id=...
//
// It relays the lifecycle event journal as SSE frames, one JSON event per
// frame. With session_id only that session's events are sent.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "event feed is not enabled")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.closing, cancel)
	defer stop()

	msgs, err := s.events.Journal(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	sink, err := stream.NewSSE(w, s.config.KeepAlive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	defer sink.Close()

	filter := r.URL.Query().Get("session_id")
	for {
		select {
		case <-sink.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
			if filter != "" && journalSession(msg.Payload) != filter {
				continue
			}
			if err := sink.Send(msg.Payload); err != nil {
				return
			}
		}
	}
}

// journalSession returns the session an event payload belongs to.
func journalSession(payload []byte) string {
	var e struct {
		Data struct {
			SessionID string `json:"sessionID"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return ""
	}
	return e.Data.SessionID
}
