package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// DefaultKeepAlive is the interval between keep-alive comments.
const DefaultKeepAlive = 15 * time.Second

// SSESink writes events to an HTTP response as server-sent events:
//
//	data: {"role":"assistant","content":"..."}
//
// A ": ping" comment is written on every keep-alive tick. The handler that
// created the sink must not return before the sink is closed.
type SSESink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ Sink = (*SSESink)(nil)

// NewSSE writes the event-stream headers and starts keep-alives. A
// keepAlive of zero uses DefaultKeepAlive.
func NewSSE(w http.ResponseWriter, keepAlive time.Duration) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &SSESink{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		done:    make(chan struct{}),
	}
	go s.keepAlive(keepAlive)
	return s, nil
}

// Emit implements Sink. A failed write closes the sink.
func (s *SSESink) Emit(role types.EventRole, content string) error {
	data, err := json.Marshal(types.StreamEvent{Role: role, Content: content})
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Send writes one pre-encoded data frame. A failed write closes the sink.
func (s *SSESink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.write("data: " + string(data) + "\n\n"); err != nil {
		s.closeLocked()
		return err
	}
	return nil
}

// Close implements Sink.
func (s *SSESink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Done implements Sink.
func (s *SSESink) Done() <-chan struct{} {
	return s.done
}

func (s *SSESink) closeLocked() {
	s.closed = true
	s.closeOnce.Do(func() { close(s.done) })
}

// write sends one frame and flushes it. Callers hold mu.
func (s *SSESink) write(frame string) error {
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	// ResponseController sees through middleware wrappers.
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *SSESink) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.closed {
				if err := s.write(": ping\n\n"); err != nil {
					s.closeLocked()
				}
			}
			s.mu.Unlock()
		}
	}
}
