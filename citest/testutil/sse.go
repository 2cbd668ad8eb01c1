package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/opencode-ai/toolgate/internal/session"
	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// PermissionFunc answers a permission event. Returning a nil decision leaves
// the request unanswered and ends the read.
type PermissionFunc func(e types.StreamEvent) *bool

// Grant and Deny are ready-made permission answers.
var (
	Grant PermissionFunc = func(types.StreamEvent) *bool { v := true; return &v }
	Deny  PermissionFunc = func(types.StreamEvent) *bool { v := false; return &v }
	Hold  PermissionFunc = func(types.StreamEvent) *bool { return nil }
)

// SSEClient drives conversations against a toolgate server.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu     sync.Mutex
	events []types.StreamEvent
}

// NewSSEClient creates a new client.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
	}
}

// Result is the outcome of one streamed query.
type Result struct {
	SessionID string
	Events    []types.StreamEvent
}

// Roles returns the role of every received event in order.
func (r *Result) Roles() []types.EventRole {
	roles := make([]types.EventRole, len(r.Events))
	for i, e := range r.Events {
		roles[i] = e.Role
	}
	return roles
}

// Contents returns the content of every event with the given role.
func (r *Result) Contents(role types.EventRole) []string {
	var out []string
	for _, e := range r.Events {
		if e.Role == role {
			out = append(out, e.Content)
		}
	}
	return out
}

// Query opens /stream-sse and reads events until done. Permission events
// are answered with decide; a nil answer stops reading and leaves the
// request pending.
func (c *SSEClient) Query(ctx context.Context, sessionID, query string, decide PermissionFunc) (*Result, error) {
	params := url.Values{"q": {query}}
	if sessionID != "" {
		params.Set("session_id", sessionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/stream-sse?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	result := &Result{SessionID: resp.Header.Get("X-Session-ID")}
	err = stream.Decode(resp.Body, func(e types.StreamEvent) error {
		result.Events = append(result.Events, e)
		c.record(e)

		switch e.Role {
		case types.EventPermission:
			if decide == nil {
				return stream.ErrStop
			}
			granted := decide(e)
			if granted == nil {
				return stream.ErrStop
			}
			return c.Decide(ctx, result.SessionID, *granted)
		case types.EventDone:
			return stream.ErrStop
		}
		return nil
	})
	return result, err
}

// Decide posts a permission decision.
func (c *SSEClient) Decide(ctx context.Context, sessionID string, granted bool) error {
	var out struct {
		Success bool `json:"success"`
	}
	return c.postJSON(ctx, "/tool-permission", map[string]any{"sessionId": sessionID, "granted": granted}, &out)
}

// InjectResult is the response of /api/inject-message.
type InjectResult struct {
	Success  bool   `json:"success"`
	Injected bool   `json:"injected"`
	Pushed   bool   `json:"pushed"`
	Message  string `json:"message"`
}

// Inject adds an assistant message to a session.
func (c *SSEClient) Inject(ctx context.Context, sessionID, message string) (*InjectResult, error) {
	var out InjectResult
	err := c.postJSON(ctx, "/api/inject-message", map[string]any{"session_id": sessionID, "message": message}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Clear resets a session and reports whether it existed.
func (c *SSEClient) Clear(ctx context.Context, sessionID string) (bool, error) {
	var out struct {
		Existed bool `json:"existed"`
	}
	err := c.getJSON(ctx, "/clear-session?"+url.Values{"session_id": {sessionID}}.Encode(), &out)
	return out.Existed, err
}

// Session fetches the session snapshot.
func (c *SSEClient) Session(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	var out session.Snapshot
	if err := c.getJSON(ctx, "/api/sessions/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns every event received by this client so far.
func (c *SSEClient) Events() []types.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.StreamEvent(nil), c.events...)
}

func (c *SSEClient) record(e types.StreamEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *SSEClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *SSEClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *SSEClient) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
