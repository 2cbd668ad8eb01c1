package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/mcp"
	"github.com/opencode-ai/toolgate/internal/session"
	"github.com/opencode-ai/toolgate/internal/stream"
)

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	EnableCORS  bool
	KeepAlive   time.Duration
	ReadTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:        "0.0.0.0",
		Port:        3000,
		EnableCORS:  true,
		KeepAlive:   stream.DefaultKeepAlive,
		ReadTimeout: 30 * time.Second,
	}
}

// Catalog is the read-only view of the tool registry served by the API.
type Catalog interface {
	Tools() []mcp.Tool
	Providers() []mcp.ProviderStatus
}

// Server is the HTTP server.
type Server struct {
	config    *Config
	router    *chi.Mux
	httpSrv   *http.Server
	processor *session.Processor
	catalog   Catalog
	events    *event.Bus
	metrics   http.Handler
	log       zerolog.Logger

	// closing is cancelled by Shutdown to end long-lived feeds.
	closing context.Context
	close   context.CancelFunc
}

// New creates a server around a conversation processor. catalog, events and
// metrics may be nil.
func New(cfg *Config, processor *session.Processor, catalog Catalog, events *event.Bus, metrics http.Handler) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = stream.DefaultKeepAlive
	}

	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		processor: processor,
		catalog:   catalog,
		events:    events,
		metrics:   metrics,
		log:       logging.Component("http"),
	}
	s.closing, s.close = context.WithCancel(context.Background())

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", headerSessionID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs one line per request once the handler returns. For
// streams that is when the stream ends.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        s.Addr(),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
		// No write timeout: streams stay open while waiting for permission.
	}

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server. Attached conversation streams
// and event feeds are closed first so waiting clients do not hold it up;
// sessions, including those waiting for permission, are kept.
func (s *Server) Shutdown(ctx context.Context) error {
	s.close()
	if n := s.processor.Store().CloseStreams(); n > 0 {
		s.log.Info().Int("streams", n).Msg("closed conversation streams")
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
