package stream

import (
	"errors"
	"sync"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// ErrDisconnected is returned by a Recorder configured to fail writes.
var ErrDisconnected = errors.New("client disconnected")

// Recorder is an in-memory Sink. It backs headless callers and tests.
type Recorder struct {
	mu        sync.Mutex
	events    []types.StreamEvent
	closed    bool
	failing   bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ Sink = (*Recorder)(nil)

// NewRecorder returns an open recorder.
func NewRecorder() *Recorder {
	return &Recorder{done: make(chan struct{})}
}

// Emit implements Sink.
func (r *Recorder) Emit(role types.EventRole, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.failing {
		return ErrDisconnected
	}
	r.events = append(r.events, types.StreamEvent{Role: role, Content: content})
	return nil
}

// Close implements Sink.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closeOnce.Do(func() { close(r.done) })
}

// Done implements Sink.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Fail makes every later Emit return ErrDisconnected.
func (r *Recorder) Fail() {
	r.mu.Lock()
	r.failing = true
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []types.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.StreamEvent(nil), r.events...)
}

// Roles returns the role of every emitted event in order.
func (r *Recorder) Roles() []types.EventRole {
	r.mu.Lock()
	defer r.mu.Unlock()
	roles := make([]types.EventRole, len(r.events))
	for i, e := range r.events {
		roles[i] = e.Role
	}
	return roles
}

// Count returns how many events with role were emitted.
func (r *Recorder) Count(role types.EventRole) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Role == role {
			n++
		}
	}
	return n
}
