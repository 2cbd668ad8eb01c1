package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// suggestDistance is the largest edit distance offered as a did-you-mean.
const suggestDistance = 2

// provider is one registered tool provider.
type provider struct {
	cfg      types.ProviderConfig
	conn     Conn
	tools    []Tool
	status   Status
	strategy string
	err      string
}

// Registry indexes the tools of every configured provider and dispatches
// calls to their owners. After ConnectAll it is shared read-only by all
// sessions.
type Registry struct {
	mu        sync.RWMutex
	providers []*provider
	byName    map[string]*provider
	owners    map[string]string // tool name -> first registered provider

	dialer Dialer
	log    zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDialer replaces the dialer used by ConnectAll.
func WithDialer(d Dialer) Option {
	return func(r *Registry) { r.dialer = d }
}

// WithBuiltins registers in-process servers available to builtin providers.
// It is ignored when WithDialer supplies a custom dialer.
func WithBuiltins(builtins map[string]BuiltinFactory) Option {
	return func(r *Registry) {
		if td, ok := r.dialer.(*TransportDialer); ok {
			td.Builtins = builtins
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byName: make(map[string]*provider),
		owners: make(map[string]string),
		dialer: &TransportDialer{},
		log:    logging.Component("mcp"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConnectAll connects to every provider concurrently and registers them in
// configuration order. A provider that fails to connect is registered with
// no tools and status failed. The returned error summarizes the failures and
// is informational only.
func (r *Registry) ConnectAll(ctx context.Context, cfgs []types.ProviderConfig) error {
	results := make([]*provider, len(cfgs))

	var wg sync.WaitGroup
	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg types.ProviderConfig) {
			defer wg.Done()
			results[i] = r.connect(ctx, cfg)
		}(i, cfg)
	}
	wg.Wait()

	var errs *multierror.Error
	for _, p := range results {
		if p.status == StatusFailed {
			errs = multierror.Append(errs, fmt.Errorf("provider %s: %s", p.cfg.Name, p.err))
		}
		r.register(p)
	}
	if errs != nil {
		errs.ErrorFormat = inlineFormat
	}
	return errs.ErrorOrNil()
}

// connect dials one provider and discovers its tools.
func (r *Registry) connect(ctx context.Context, cfg types.ProviderConfig) *provider {
	p := &provider{cfg: cfg}
	log := r.log.With().Str("provider", cfg.Name).Str("type", cfg.Transport()).Logger()

	if cfg.Disabled {
		p.status = StatusDisabled
		log.Info().Msg("provider disabled")
		return p
	}

	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := r.dialer.Dial(dialCtx, cfg)
	if err != nil {
		p.status = StatusFailed
		p.err = err.Error()
		log.Warn().Err(err).Msg("failed to connect to provider")
		return p
	}
	p.conn = conn
	p.status = StatusConnected

	tools, strategy, err := Discover(dialCtx, conn)
	if err != nil {
		log.Warn().Err(err).Msg("tool discovery failed, registering provider without tools")
		tools = []Tool{}
	}
	tools = filterTools(tools, cfg.Include, cfg.Exclude)
	for i := range tools {
		tools[i].ProviderID = cfg.Name
	}
	p.tools = tools
	p.strategy = strategy

	log.Info().Str("strategy", strategy).Int("tools", len(tools)).Msg("provider connected")
	return p
}

// register adds p after every provider registered before it. Tools whose
// name is already owned keep their first owner.
func (r *Registry) register(p *provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	r.byName[p.cfg.Name] = p

	for _, t := range p.tools {
		if owner, exists := r.owners[t.Name]; exists {
			r.log.Warn().
				Str("tool", t.Name).
				Str("owner", owner).
				Str("provider", p.cfg.Name).
				Msg("tool name registered by more than one provider, keeping first")
			continue
		}
		r.owners[t.Name] = p.cfg.Name
	}
}

// FindOwner returns the provider that owns tool. With several providers
// exposing the same name it is always the first registered.
func (r *Registry) FindOwner(tool string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[tool]
	return owner, ok
}

// Execute runs tool on providerID and returns the result as text.
func (r *Registry) Execute(ctx context.Context, providerID, tool string, args map[string]any) (string, error) {
	r.mu.RLock()
	p, ok := r.byName[providerID]
	var conn Conn
	if ok {
		conn = p.conn
	}
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	if conn == nil {
		return "", fmt.Errorf("provider %s is not connected", providerID)
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.Timeout)*time.Millisecond)
		defer cancel()
	}

	log := r.log.With().Str("provider", providerID).Str("tool", tool).Logger()
	raw, strategy, err := Invoke(ctx, conn, tool, args)
	if err != nil {
		log.Warn().Err(err).Str("strategy", strategy).Msg("tool execution failed")
		return "", err
	}
	log.Debug().Str("strategy", strategy).Msg("tool executed")
	return ExtractText(raw), nil
}

// Call resolves the owner of tool and executes it there.
func (r *Registry) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	owner, ok := r.FindOwner(tool)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	return r.Execute(ctx, owner, tool, args)
}

// Tools returns the catalog in registration order, one entry per tool name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tools []Tool
	for _, p := range r.providers {
		for _, t := range p.tools {
			if r.owners[t.Name] == p.cfg.Name {
				tools = append(tools, t)
			}
		}
	}
	return tools
}

// Definitions returns the catalog in the form handed to the reasoning backend.
func (r *Registry) Definitions() []types.ToolDefinition {
	tools := r.Tools()
	defs := make([]types.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

// Suggest returns the catalog name closest to tool when it is within a
// small edit distance.
func (r *Registry) Suggest(tool string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, bestDist := "", suggestDistance+1
	for _, p := range r.providers {
		for _, t := range p.tools {
			if d := levenshtein.ComputeDistance(tool, t.Name); d < bestDist {
				best, bestDist = t.Name, d
			}
		}
	}
	return best, best != ""
}

// Providers returns the status of every registered provider in registration
// order.
func (r *Registry) Providers() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		s := ProviderStatus{
			Name:      p.cfg.Name,
			Type:      p.cfg.Transport(),
			Status:    p.status,
			ToolCount: len(p.tools),
			Strategy:  p.strategy,
		}
		if p.err != "" {
			msg := p.err
			s.Error = &msg
		}
		out = append(out, s)
	}
	return out
}

// Close disconnects every provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for _, p := range r.providers {
		if p.conn == nil {
			continue
		}
		if err := p.conn.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("provider %s: %w", p.cfg.Name, err))
		}
		p.conn = nil
	}
	return errs.ErrorOrNil()
}
