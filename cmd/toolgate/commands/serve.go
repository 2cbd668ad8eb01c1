package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolgate/internal/config"
	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/mcp"
	"github.com/opencode-ai/toolgate/internal/metrics"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/internal/server"
	"github.com/opencode-ai/toolgate/internal/session"
	"github.com/opencode-ai/toolgate/pkg/mcpserver/calculator"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolgate HTTP server",
	Long: `Start toolgate as an HTTP server.

Queries arrive on /stream-sse and are answered as a server-sent event
stream. Tool calls pause the stream until a decision is posted to
/tool-permission.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 3000)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, 0.0.0.0)")
}

// newRegistry returns a tool registry that knows the builtin providers.
func newRegistry() *mcp.Registry {
	return mcp.NewRegistry(mcp.WithBuiltins(map[string]mcp.BuiltinFactory{
		calculator.Name: calculator.NewServer,
	}))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHostname != "" {
		cfg.Server.Host = serveHostname
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("backend", cfg.Backend.Provider).Str("model", cfg.Backend.Model).Msg("starting toolgate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	defer bus.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	defer m.Attach(bus)()

	tools := newRegistry()
	defer tools.Close()
	if err := tools.ConnectAll(ctx, cfg.MCPServers); err != nil {
		log.Warn().Err(err).Msg("some tool providers are unavailable")
	}
	log.Info().Int("providers", len(tools.Providers())).Int("tools", len(tools.Tools())).Msg("tool catalog ready")

	backend, err := provider.New(ctx, cfg.Backend)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Session.SystemPrompt, bus)
	sweeper, err := session.NewSweeper(store, cfg.Session.Timeout, cfg.Session.SweepInterval)
	if err != nil {
		return err
	}
	sweeper.Start()

	proc := session.NewProcessor(store, backend, tools, bus, session.Config{
		MaxSteps:     cfg.Session.MaxSteps,
		ResultLines:  cfg.Session.ResultLines,
		StreamChunks: cfg.Session.StreamChunks,
	})

	srv := server.New(&server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		EnableCORS:  cfg.Server.EnableCORS,
		KeepAlive:   cfg.Session.KeepAlive,
		ReadTimeout: 30 * time.Second,
	}, proc, tools, bus, m.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("sweeper shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
