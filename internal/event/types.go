package event

// SessionData is the data for session.created, session.cleared and
// session.expired events.
type SessionData struct {
	SessionID string `json:"sessionID"`
}

// StreamData is the data for stream.attached and stream.detached events.
type StreamData struct {
	SessionID string `json:"sessionID"`
	// Replaced is set when a newer stream superseded this one.
	Replaced bool `json:"replaced,omitempty"`
}

// PermissionRequestedData is the data for permission.requested events.
type PermissionRequestedData struct {
	SessionID string   `json:"sessionID"`
	Tools     []string `json:"tools"`
}

// PermissionResolvedData is the data for permission.resolved events.
// Superseded is set when a new query dropped the calls unanswered.
type PermissionResolvedData struct {
	SessionID  string   `json:"sessionID"`
	Granted    bool     `json:"granted"`
	Superseded bool     `json:"superseded,omitempty"`
	Tools      []string `json:"tools"`
}

// ToolExecutedData is the data for tool.executed events.
type ToolExecutedData struct {
	SessionID  string `json:"sessionID"`
	ProviderID string `json:"providerID"`
	Tool       string `json:"tool"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Turn outcomes reported in TurnCompletedData.
const (
	OutcomeAnswered  = "answered"
	OutcomeAwaiting  = "awaiting_permission"
	OutcomeRepeated  = "repeated"
	OutcomeExhausted = "step_limit"
	OutcomeFailed    = "error"
)

// TurnCompletedData is the data for turn.completed events. One is published
// per loop invocation.
type TurnCompletedData struct {
	SessionID string `json:"sessionID"`
	Outcome   string `json:"outcome"`
	Steps     int    `json:"steps"`
}

// BackendCallData is the data for backend.call events.
type BackendCallData struct {
	SessionID  string `json:"sessionID"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
}

// StreamDropData is the data for stream.dropped events, published when a
// frame could not be delivered to the client.
type StreamDropData struct {
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
}
