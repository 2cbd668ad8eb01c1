package permission

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// DeniedAcknowledgement is the assistant reply recorded when the user
// declines the pending tool calls.
const DeniedAcknowledgement = "I'll respect your decision not to use that tool."

// Pending is a tool call waiting for the user's decision.
type Pending struct {
	Call       types.ToolCallRequest
	ProviderID string
	Args       map[string]any
}

// Queue holds pending tool calls keyed by call id, in the order the backend
// requested them. It is not safe for concurrent use; the owning session's
// lock guards it.
type Queue struct {
	order []string
	items map[string]Pending
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[string]Pending)}
}

// Add queues p. A second call with an id already queued replaces the entry
// but keeps its original position.
func (q *Queue) Add(p Pending) {
	if q.items == nil {
		q.items = make(map[string]Pending)
	}
	if _, exists := q.items[p.Call.ID]; !exists {
		q.order = append(q.order, p.Call.ID)
	}
	q.items[p.Call.ID] = p
}

// Len returns the number of queued calls.
func (q *Queue) Len() int {
	return len(q.order)
}

// Items returns the queued calls in insertion order.
func (q *Queue) Items() []Pending {
	out := make([]Pending, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id])
	}
	return out
}

// Tools returns the tool names of the queued calls in insertion order.
func (q *Queue) Tools() []string {
	names := make([]string, 0, len(q.order))
	for _, id := range q.order {
		names = append(names, q.items[id].Call.Name)
	}
	return names
}

// Drain empties the queue and returns what it held, in insertion order.
func (q *Queue) Drain() []Pending {
	items := q.Items()
	q.Reset()
	return items
}

// Reset discards every queued call.
func (q *Queue) Reset() {
	q.order = nil
	q.items = make(map[string]Pending)
}

// Prompt is the permission event text naming the tools awaiting approval.
func Prompt(tools []string) string {
	if len(tools) == 1 {
		return fmt.Sprintf("Do you want to allow execution of tool: %s?", tools[0])
	}
	return fmt.Sprintf("Do you want to allow execution of these tools: %s?", strings.Join(tools, ", "))
}

// DeniedResult is the tool result recorded for a call the user declined.
func DeniedResult(tool string) string {
	return fmt.Sprintf("Permission to run tool '%s' was denied by the user.", tool)
}

// SupersededResult is the tool result recorded for a pending call dropped
// because the user sent a new query instead of answering the prompt.
func SupersededResult(tool string) string {
	return fmt.Sprintf("Tool '%s' was not executed: the user sent a new message instead of answering.", tool)
}

// SkippedResult is the tool result recorded for a call from a repeated turn.
func SkippedResult(tool string) string {
	return fmt.Sprintf("Tool '%s' was not executed: the same request was already made in this turn.", tool)
}
