package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/mcp"
	"github.com/opencode-ai/toolgate/internal/metrics"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/internal/server"
	"github.com/opencode-ai/toolgate/internal/session"
	"github.com/opencode-ai/toolgate/pkg/mcpserver/calculator"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// TestServer is a full toolgate stack listening on a local port, backed by
// a MockLLMServer and the builtin calculator provider.
type TestServer struct {
	Server    *server.Server
	BaseURL   string
	MockLLM   *MockLLMServer
	Processor *session.Processor
	Tools     *mcp.Registry
	Bus       *event.Bus

	detach func()
}

// TestServerOption configures TestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	mock         *MockLLMConfig
	streamChunks bool
	maxSteps     int
}

// WithMockConfig sets the scenarios the mock backend serves.
func WithMockConfig(c *MockLLMConfig) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.mock = c
	}
}

// WithStreamChunks makes the server forward partial assistant text.
func WithStreamChunks() TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.streamChunks = true
	}
}

// WithMaxSteps bounds the backend calls per turn.
func WithMaxSteps(n int) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.maxSteps = n
	}
}

// StartTestServer creates and starts a test server.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	mock := NewMockLLMServer(cfg.mock)

	tools := mcp.NewRegistry(mcp.WithBuiltins(map[string]mcp.BuiltinFactory{
		calculator.Name: calculator.NewServer,
	}))
	if err := tools.ConnectAll(ctx, []types.ProviderConfig{
		{Name: calculator.Name, Type: types.ProviderBuiltin},
	}); err != nil {
		mock.Close()
		return nil, fmt.Errorf("failed to connect tools: %w", err)
	}

	backend, err := provider.New(ctx, types.BackendConfig{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  mock.URL(),
		Model:    "mock-gpt-4",
	})
	if err != nil {
		tools.Close()
		mock.Close()
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		tools.Close()
		mock.Close()
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	bus := event.NewBus()
	m := metrics.New(prometheus.NewRegistry())
	detach := m.Attach(bus)

	proc := session.NewProcessor(session.NewStore("", bus), backend, tools, bus, session.Config{
		MaxSteps:     cfg.maxSteps,
		StreamChunks: cfg.streamChunks,
	})

	serverConfig := server.DefaultConfig()
	serverConfig.Host = "127.0.0.1"
	serverConfig.Port = port
	srv := server.New(serverConfig, proc, tools, bus, m.Handler())

	go func() {
		_ = srv.Start()
	}()

	ts := &TestServer{
		Server:    srv,
		BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", port),
		MockLLM:   mock,
		Processor: proc,
		Tools:     tools,
		Bus:       bus,
		detach:    detach,
	}

	if err := waitForServer(ts.BaseURL, 10*time.Second); err != nil {
		ts.Stop()
		return nil, fmt.Errorf("server failed to start: %w", err)
	}
	return ts, nil
}

// Stop shuts down the server and everything it started.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := ts.Server.Shutdown(ctx)
	ts.detach()
	ts.Bus.Close()
	ts.Tools.Close()
	ts.MockLLM.Close()
	return err
}

// Client returns a conversation client for this server.
func (ts *TestServer) Client() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer polls /health until the server answers.
func waitForServer(baseURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
