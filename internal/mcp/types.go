package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when no provider exposes the named tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrProviderNotFound is returned for an unknown provider id.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrUnsupported is returned by connections that cannot send raw requests.
	ErrUnsupported = errors.New("operation not supported by transport")
)

// Tool is one catalog entry: a tool exposed by a provider.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	ProviderID  string          `json:"providerId"`
}

// CallResult is the raw result of a tool invocation.
type CallResult struct {
	// Content is the provider's content payload, usually a list of typed parts.
	Content json.RawMessage
	IsError bool
}

// ToolError is a failure reported by the tool itself rather than by the
// transport. Alternate call methods are not tried for it.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s reported an error", e.Tool)
	}
	return e.Message
}

// ProviderStatus describes one registered provider.
type ProviderStatus struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Strategy  string  `json:"discovery,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Status represents the connection status.
type Status string

const (
	StatusConnected Status = "connected"
	StatusDisabled  Status = "disabled"
	StatusFailed    Status = "failed"
)

// legacyTool is a tool description as returned by the legacy listTools and
// getTools methods.
type legacyTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Parameters  json.RawMessage `json:"parameters"`
}

// legacyListResponse is the reply to listTools and getTools. Tools is a
// pointer so an explicit empty list can be told apart from a missing one.
type legacyListResponse struct {
	Status string        `json:"status"`
	Tools  *[]legacyTool `json:"tools"`
	Error  string        `json:"error,omitempty"`
}

// legacyCallResponse is the reply to executeTool and runTool.
type legacyCallResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}
