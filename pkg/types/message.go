package types

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCallRequest `json:"toolCalls,omitempty"`

	// ToolCallID and ToolName are set on tool messages and reference the
	// assistant request they answer.
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCallRequest is a single tool invocation requested by the reasoning backend.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object as produced by the backend
}

// ParsedArguments decodes the argument payload. Empty or malformed payloads
// yield an empty map so a bad argument string never blocks dispatch.
func (c ToolCallRequest) ParsedArguments() map[string]any {
	args := map[string]any{}
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// ToolDefinition describes one tool to the reasoning backend.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}
