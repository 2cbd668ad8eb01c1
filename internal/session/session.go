package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencode-ai/toolgate/internal/permission"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// Session is the conversation state for one key.
//
// turn serializes the reasoning loop and permission resolution for the
// session and is held for a whole turn, including backend and tool calls.
// mu guards the fields below and is only held for short reads and writes, so
// snapshots and injections do not wait for a turn to finish.
type Session struct {
	Key     string
	Created time.Time

	turn sync.Mutex

	mu       sync.RWMutex
	messages []types.Message
	pending  *permission.Queue
	waiting  bool
	prompt   uint64 // sequence of the last permission prompt

	lastActivity atomic.Int64 // unix nanoseconds
	removed      atomic.Bool
}

func newSession(key, systemPrompt string, now time.Time) *Session {
	s := &Session{
		Key:      key,
		Created:  now,
		messages: []types.Message{{Role: types.RoleSystem, Content: systemPrompt}},
		pending:  permission.NewQueue(),
	}
	s.touch(now)
	return s
}

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns when the session was last used.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// History returns a copy of the message history.
func (s *Session) History() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Message(nil), s.messages...)
}

// Waiting reports whether the session awaits a permission decision.
func (s *Session) Waiting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting
}

// PendingTools returns the names of the calls awaiting permission.
func (s *Session) PendingTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.Tools()
}

func (s *Session) append(msgs ...types.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

// appendUser appends a user message unless the last message is an identical
// user message.
func (s *Session) appendUser(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.messages); n > 0 {
		last := s.messages[n-1]
		if last.Role == types.RoleUser && last.Content == text {
			return false
		}
	}
	s.messages = append(s.messages, types.Message{Role: types.RoleUser, Content: text})
	return true
}

// appendToolResult places a tool message directly after the assistant
// message that requested it and any results already recorded for it, so
// messages injected while permission was pending cannot split a call from
// its results.
func (s *Session) appendToolResult(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := -1
	for i := len(s.messages) - 1; i >= 0 && at < 0; i-- {
		if s.messages[i].Role != types.RoleAssistant {
			continue
		}
		for _, call := range s.messages[i].ToolCalls {
			if call.ID == msg.ToolCallID {
				at = i + 1
				break
			}
		}
	}
	if at < 0 {
		s.messages = append(s.messages, msg)
		return
	}

	for at < len(s.messages) && s.messages[at].Role == types.RoleTool {
		at++
	}
	s.messages = append(s.messages, types.Message{})
	copy(s.messages[at+1:], s.messages[at:])
	s.messages[at] = msg
}

// await queues calls for a permission decision. waiting is set if and only
// if the queue is non-empty.
func (s *Session) await(calls []permission.Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range calls {
		s.pending.Add(p)
	}
	s.waiting = s.pending.Len() > 0
	if s.waiting {
		s.prompt++
	}
}

// awaiting returns the sequence of the prompt the session is waiting on.
func (s *Session) awaiting() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt, s.waiting
}

// takePending empties the queue and clears waiting.
func (s *Session) takePending() []permission.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = false
	return s.pending.Drain()
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID                   string          `json:"id"`
	Messages             []types.Message `json:"messages"`
	WaitingForPermission bool            `json:"waitingForPermission"`
	PendingTools         []string        `json:"pendingTools,omitempty"`
	Created              time.Time       `json:"created"`
	LastActivity         time.Time       `json:"lastActivity"`
	Streaming            bool            `json:"streaming"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:                   s.Key,
		Messages:             append([]types.Message(nil), s.messages...),
		WaitingForPermission: s.waiting,
		PendingTools:         s.pending.Tools(),
		Created:              s.Created,
		LastActivity:         s.LastActivity(),
	}
}
