package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/toolgate/pkg/types"
)

const (
	clientName    = "toolgate"
	clientVersion = "1.0.0"

	defaultConnectTimeout = 10 * time.Second
)

// Conn is a live connection to one tool provider.
type Conn interface {
	// ListTools runs standard tools/list discovery.
	ListTools(ctx context.Context) ([]Tool, error)
	// CallTool runs a standard tools/call invocation.
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	// Request sends a raw JSON-RPC request and returns its result.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// Dialer opens provider connections.
type Dialer interface {
	Dial(ctx context.Context, cfg types.ProviderConfig) (Conn, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, cfg types.ProviderConfig) (Conn, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context, cfg types.ProviderConfig) (Conn, error) {
	return f(ctx, cfg)
}

// BuiltinFactory creates an in-process MCP server.
type BuiltinFactory func() *server.MCPServer

// TransportDialer dials stdio, remote and builtin providers.
type TransportDialer struct {
	// Builtins maps a builtin provider's command (or name when no command is
	// set) to its server factory.
	Builtins map[string]BuiltinFactory
}

// Dial opens a connection according to cfg.Transport().
func (d *TransportDialer) Dial(ctx context.Context, cfg types.ProviderConfig) (Conn, error) {
	switch cfg.Transport() {
	case types.ProviderStdio:
		return DialStdio(ctx, cfg)
	case types.ProviderRemote:
		return DialRemote(ctx, cfg)
	case types.ProviderBuiltin:
		key := cfg.Command
		if key == "" {
			key = cfg.Name
		}
		factory, ok := d.Builtins[key]
		if !ok {
			return nil, fmt.Errorf("unknown builtin provider: %s", key)
		}
		return DialInProcess(ctx, factory())
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}

// ClientConn is a connection backed by an mcp-go client, used for stdio and
// in-process providers. It supports raw requests, so every discovery and
// call strategy is available.
type ClientConn struct {
	client *mcpclient.Client
	nextID atomic.Int64
}

// DialStdio spawns cfg.Command with cfg.Args in cfg.Cwd and performs the MCP
// handshake over its stdin and stdout.
func DialStdio(ctx context.Context, cfg types.ProviderConfig) (*ClientConn, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("empty command")
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	// exec.Command rather than CommandContext: the process must outlive the
	// connect timeout.
	spawn := func(_ context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.Command(command, args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Dir = cfg.Cwd
		return cmd, nil
	}

	tr := transport.NewStdioWithOptions(cfg.Command, env, cfg.Args, transport.WithCommandFunc(spawn))
	return startClient(ctx, mcpclient.NewClient(tr))
}

// DialInProcess connects to an MCP server running in this process.
func DialInProcess(ctx context.Context, srv *server.MCPServer) (*ClientConn, error) {
	client, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		return nil, err
	}
	return startClient(ctx, client)
}

func startClient(ctx context.Context, client *mcpclient.Client) (*ClientConn, error) {
	// The transport keeps the start context for its lifetime.
	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: clientName, Version: clientVersion}
	if _, err := client.Initialize(ctx, req); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	return &ClientConn{client: client}, nil
}

// ListTools implements Conn.
func (c *ClientConn) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := t.RawInputSchema
		if schema == nil {
			schema, _ = json.Marshal(t.InputSchema)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools, nil
}

// CallTool implements Conn.
func (c *ClientConn) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	content, err := json.Marshal(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool content: %w", err)
	}
	return &CallResult{Content: content, IsError: result.IsError}, nil
}

// Request implements Conn. Ids are strings so they never collide with the
// numeric ids the client assigns to its own requests.
func (c *ClientConn) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	resp, err := c.client.GetTransport().SendRequest(ctx, transport.JSONRPCRequest{
		JSONRPC: mcpgo.JSONRPC_VERSION,
		ID:      mcpgo.NewRequestId(fmt.Sprintf("toolgate-%d", id)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.AsError()
	}
	return resp.Result, nil
}

// Close implements Conn.
func (c *ClientConn) Close() error {
	return c.client.Close()
}

// RemoteConn is a connection to a remote provider over the official MCP SDK.
// The SDK exposes no raw request API, so only the standard strategies apply.
type RemoteConn struct {
	session *sdkmcp.ClientSession
}

// DialRemote connects to cfg.URL, trying streamable HTTP first and SSE second.
func DialRemote(ctx context.Context, cfg types.ProviderConfig) (*RemoteConn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url required")
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	httpClient := httpClientWithHeaders(nil, cfg.Headers)
	transports := []struct {
		name      string
		transport sdkmcp.Transport
	}{
		{name: "streamable", transport: &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
		{name: "sse", transport: &sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}},
	}

	var lastErr error
	for _, candidate := range transports {
		session, err := client.Connect(ctx, candidate.transport, nil)
		if err != nil {
			lastErr = fmt.Errorf("%s transport: %w", candidate.name, err)
			continue
		}
		return &RemoteConn{session: session}, nil
	}
	return nil, lastErr
}

// ListTools implements Conn.
func (c *RemoteConn) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		var schema json.RawMessage
		if t.InputSchema != nil {
			schema, _ = json.Marshal(t.InputSchema)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools, nil
}

// CallTool implements Conn.
func (c *RemoteConn) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	content, err := json.Marshal(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool content: %w", err)
	}
	return &CallResult{Content: content, IsError: result.IsError}, nil
}

// Request implements Conn.
func (c *RemoteConn) Request(context.Context, string, any) (json.RawMessage, error) {
	return nil, ErrUnsupported
}

// Close implements Conn.
func (c *RemoteConn) Close() error {
	return c.session.Close()
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	client := *base
	client.Timeout = 0 // per-request contexts bound every call

	if len(headers) == 0 {
		return &client
	}

	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: next}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
