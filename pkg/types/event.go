package types

// EventRole tags a frame delivered on a session stream.
type EventRole string

const (
	EventAssistant      EventRole = "assistant"
	EventAssistantChunk EventRole = "assistant-chunk"
	EventInfo           EventRole = "info"
	EventError          EventRole = "error"
	EventTool           EventRole = "tool"
	EventToolExecuting  EventRole = "tool-executing"
	EventPermission     EventRole = "permission"
	EventDone           EventRole = "done"
)

// StreamEvent is the {role, content} pair written to an attached client.
type StreamEvent struct {
	Role    EventRole `json:"role"`
	Content string    `json:"content"`
}
