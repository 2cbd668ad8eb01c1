package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var errMethodNotFound = errors.New("method not found")

// fakeConn is a scripted provider connection. Unset hooks fail with
// errMethodNotFound.
type fakeConn struct {
	mu      sync.Mutex
	methods []string
	closed  bool

	listTools func() ([]Tool, error)
	callTool  func(name string, args map[string]any) (*CallResult, error)
	requests  map[string]func(params any) (json.RawMessage, error)
}

func (f *fakeConn) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, method)
}

func (f *fakeConn) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeConn) ListTools(context.Context) ([]Tool, error) {
	f.record("tools/list")
	if f.listTools == nil {
		return nil, errMethodNotFound
	}
	return f.listTools()
}

func (f *fakeConn) CallTool(_ context.Context, name string, args map[string]any) (*CallResult, error) {
	f.record("tools/call")
	if f.callTool == nil {
		return nil, errMethodNotFound
	}
	return f.callTool(name, args)
}

func (f *fakeConn) Request(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.record(method)
	handler, ok := f.requests[method]
	if !ok {
		return nil, errMethodNotFound
	}
	return handler(params)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func textResult(text string) (*CallResult, error) {
	content, _ := json.Marshal([]map[string]string{{"type": "text", "text": text}})
	return &CallResult{Content: content}, nil
}

func rawReply(s string) func(any) (json.RawMessage, error) {
	return func(any) (json.RawMessage, error) { return json.RawMessage(s), nil }
}
