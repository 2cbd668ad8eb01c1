package session

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// Store owns every live session and the stream bound to each one.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	streams  map[string]stream.Sink

	systemPrompt string
	bus          *event.Bus
	now          func() time.Time
	log          zerolog.Logger
}

// NewStore creates an empty store. systemPrompt overrides the default
// instructions; "{session}" in it is replaced with the session key.
func NewStore(systemPrompt string, bus *event.Bus) *Store {
	return &Store{
		sessions:     make(map[string]*Session),
		streams:      make(map[string]stream.Sink),
		systemPrompt: systemPrompt,
		bus:          bus,
		now:          time.Now,
		log:          logging.Component("session"),
	}
}

// GetOrCreate returns the session for key, creating it with a fresh system
// message if needed. It always refreshes the last-activity time.
func (s *Store) GetOrCreate(key string) *Session {
	now := s.now()

	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		sess.touch(now)
		return sess
	}

	s.mu.Lock()
	if sess, ok = s.sessions[key]; ok {
		s.mu.Unlock()
		sess.touch(now)
		return sess
	}
	sess = newSession(key, RenderSystemPrompt(s.systemPrompt, key), now)
	s.sessions[key] = sess
	s.mu.Unlock()

	s.log.Info().Str("session", key).Msg("session created")
	s.bus.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionData{SessionID: key}})
	return sess
}

// Get returns the session for key without creating it.
func (s *Store) Get(key string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// acquire returns the live session for key with its turn lock held. A
// session removed while we waited for the lock is replaced by a new one.
func (s *Store) acquire(key string) *Session {
	for {
		sess := s.GetOrCreate(key)
		sess.turn.Lock()
		if !sess.removed.Load() {
			sess.touch(s.now())
			return sess
		}
		sess.turn.Unlock()
	}
}

// acquireExisting is acquire without creation.
func (s *Store) acquireExisting(key string) (*Session, bool) {
	sess, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	sess.turn.Lock()
	if sess.removed.Load() {
		sess.turn.Unlock()
		return nil, false
	}
	sess.touch(s.now())
	return sess, true
}

// AddUserMessage appends a user message unless it repeats the immediately
// preceding user message. It reports whether a message was appended.
func (s *Store) AddUserMessage(key, text string) bool {
	return s.GetOrCreate(key).appendUser(text)
}

// AddAssistantMessage appends an out-of-band assistant message to an
// existing session. It returns false if the session does not exist.
func (s *Store) AddAssistantMessage(key, text string) (types.Message, bool) {
	sess, ok := s.Get(key)
	if !ok {
		return types.Message{}, false
	}
	msg := types.Message{Role: types.RoleAssistant, Content: text}
	sess.append(msg)
	sess.touch(s.now())
	return msg, true
}

// Clear removes the session and closes its stream. It reports whether the
// session existed.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if ok {
		sess.removed.Store(true)
		delete(s.sessions, key)
	}
	sink := s.streams[key]
	delete(s.streams, key)
	s.mu.Unlock()

	if sink != nil {
		sink.Close()
		s.bus.Publish(event.Event{Type: event.StreamDetached, Data: event.StreamData{SessionID: key}})
	}
	if ok {
		s.log.Info().Str("session", key).Msg("session cleared")
		s.bus.Publish(event.Event{Type: event.SessionCleared, Data: event.SessionData{SessionID: key}})
	}
	return ok
}

// Sweep evicts sessions idle for longer than maxAge and closes their
// streams. Sessions with a turn in progress are skipped. It returns the
// number of sessions evicted.
func (s *Store) Sweep(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	var expired []string
	var sinks []stream.Sink

	s.mu.Lock()
	for key, sess := range s.sessions {
		if !sess.LastActivity().Before(cutoff) {
			continue
		}
		if !sess.turn.TryLock() {
			continue
		}
		sess.removed.Store(true)
		delete(s.sessions, key)
		sess.turn.Unlock()

		expired = append(expired, key)
		if sink, ok := s.streams[key]; ok {
			sinks = append(sinks, sink)
			delete(s.streams, key)
		}
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
	}
	for _, key := range expired {
		s.log.Info().Str("session", key).Dur("maxAge", maxAge).Msg("session expired")
		s.bus.Publish(event.Event{Type: event.SessionExpired, Data: event.SessionData{SessionID: key}})
	}
	return len(expired)
}

// Attach binds sink to key. A sink already bound to key is closed first.
func (s *Store) Attach(key string, sink stream.Sink) {
	s.mu.Lock()
	old := s.streams[key]
	s.streams[key] = sink
	s.mu.Unlock()

	if old != nil && old != sink {
		old.Close()
		s.bus.Publish(event.Event{Type: event.StreamDetached, Data: event.StreamData{SessionID: key, Replaced: true}})
	}
	s.bus.Publish(event.Event{Type: event.StreamAttached, Data: event.StreamData{SessionID: key}})
}

// Detach closes sink and unbinds it if it is still the stream bound to key.
// It reports whether sink was bound.
func (s *Store) Detach(key string, sink stream.Sink) bool {
	s.mu.Lock()
	current, ok := s.streams[key]
	bound := ok && current == sink
	if bound {
		delete(s.streams, key)
	}
	s.mu.Unlock()

	sink.Close()
	if bound {
		s.bus.Publish(event.Event{Type: event.StreamDetached, Data: event.StreamData{SessionID: key}})
	}
	return bound
}

// Stream returns the sink bound to key. A bound sink that has already shut
// down, for example after a failed write, is not reported.
func (s *Store) Stream(key string) (stream.Sink, bool) {
	s.mu.RLock()
	sink, ok := s.streams[key]
	s.mu.RUnlock()
	if !ok || isClosed(sink) {
		return nil, false
	}
	return sink, true
}

// CloseStreams closes and unbinds every attached stream. Sessions are kept,
// including those waiting for permission. It returns the number of streams
// closed.
func (s *Store) CloseStreams() int {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]stream.Sink)
	s.mu.Unlock()

	for key, sink := range streams {
		sink.Close()
		s.bus.Publish(event.Event{Type: event.StreamDetached, Data: event.StreamData{SessionID: key}})
	}
	if len(streams) > 0 {
		s.log.Info().Int("streams", len(streams)).Msg("closed attached streams")
	}
	return len(streams)
}

func isClosed(sink stream.Sink) bool {
	select {
	case <-sink.Done():
		return true
	default:
		return false
	}
}

// Snapshot returns a copy of the session state for key.
func (s *Store) Snapshot(key string) (Snapshot, bool) {
	sess, ok := s.Get(key)
	if !ok {
		return Snapshot{}, false
	}
	snap := sess.snapshot()
	_, snap.Streaming = s.Stream(key)
	return snap, true
}

// Keys returns the keys of all live sessions, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
