package session

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/permission"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/types"
)

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrNoActiveStream is returned when a permission decision arrives for a
	// session with no attached client.
	ErrNoActiveStream = errors.New("no active stream for session")
	// ErrNoPendingPermission is returned when the session is not waiting for
	// a permission decision.
	ErrNoPendingPermission = errors.New("session is not waiting for permission")
	// ErrStalePermission is returned when a decision answers a prompt that
	// a newer query has already replaced.
	ErrStalePermission = errors.New("permission prompt was superseded")
)

const (
	// DefaultMaxSteps bounds backend turns per loop invocation.
	DefaultMaxSteps = 5
)

// Config holds the conversation engine settings.
type Config struct {
	MaxSteps     int
	ResultLines  int
	StreamChunks bool
}

// Processor drives the conversation loop for every session in a Store.
type Processor struct {
	store   *Store
	backend provider.Backend
	tools   ToolCatalog
	bus     *event.Bus

	maxSteps     int
	resultLines  int
	streamChunks bool

	log zerolog.Logger
}

// NewProcessor creates a processor. tools may be nil when no provider is
// configured.
func NewProcessor(store *Store, backend provider.Backend, tools ToolCatalog, bus *event.Bus, cfg Config) *Processor {
	if tools == nil {
		tools = emptyCatalog{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ResultLines <= 0 {
		cfg.ResultLines = provider.DefaultResultLines
	}
	return &Processor{
		store:        store,
		backend:      backend,
		tools:        tools,
		bus:          bus,
		maxSteps:     cfg.MaxSteps,
		resultLines:  cfg.ResultLines,
		streamChunks: cfg.StreamChunks,
		log:          logging.Component("processor"),
	}
}

// Store returns the session store.
func (p *Processor) Store() *Store { return p.store }

// HandleQuery binds sink to the session, records the query and runs the
// loop. It returns once the loop finishes or suspends for permission; the
// sink is closed in the first case and left open in the second.
//
// A query arriving while the session awaits permission supersedes the
// pending calls.
func (p *Processor) HandleQuery(ctx context.Context, key, query string, sink stream.Sink) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}

	p.store.Attach(key, sink)

	sess := p.store.acquire(key)
	defer sess.turn.Unlock()

	if sess.Waiting() {
		dropped := sess.takePending()
		for _, pend := range dropped {
			sess.appendToolResult(provider.FormatToolResult(pend.Call.ID, pend.Call.Name,
				permission.SupersededResult(pend.Call.Name), p.resultLines))
		}
		log := logging.ForSession(key)
		log.Info().Int("calls", len(dropped)).Msg("pending tool calls superseded by new query")
		p.bus.Publish(event.Event{Type: event.PermissionResolved, Data: event.PermissionResolvedData{
			SessionID:  key,
			Superseded: true,
			Tools:      toolNames(dropped),
		}})
	}

	if !sess.appendUser(query) {
		log := logging.ForSession(key)
		log.Debug().Msg("duplicate query ignored")
	}

	p.runLoop(ctx, sess, sink)
	return nil
}

// CanResume reports whether a permission decision for key would resume a
// visible loop.
func (p *Processor) CanResume(key string) bool {
	_, ok := p.PendingPrompt(key)
	return ok
}

// PendingPrompt returns the sequence of the permission prompt key is waiting
// on. It reports false when nothing is pending or no client is attached.
func (p *Processor) PendingPrompt(key string) (uint64, bool) {
	sess, ok := p.store.Get(key)
	if !ok {
		return 0, false
	}
	prompt, waiting := sess.awaiting()
	if !waiting {
		return 0, false
	}
	if _, ok := p.store.Stream(key); !ok {
		return 0, false
	}
	return prompt, true
}

// ResolvePermission applies the user's decision on whatever calls are
// pending and re-enters the loop with a fresh step budget. Without an
// attached stream it does nothing and returns ErrNoActiveStream.
func (p *Processor) ResolvePermission(ctx context.Context, key string, granted bool) error {
	return p.resolve(ctx, key, 0, granted)
}

// ResolvePrompt is ResolvePermission for the prompt numbered by
// PendingPrompt. If a newer query replaced that prompt while the decision
// waited for the session, it returns ErrStalePermission and runs nothing.
func (p *Processor) ResolvePrompt(ctx context.Context, key string, prompt uint64, granted bool) error {
	return p.resolve(ctx, key, prompt, granted)
}

func (p *Processor) resolve(ctx context.Context, key string, prompt uint64, granted bool) error {
	if _, ok := p.store.Stream(key); !ok {
		return ErrNoActiveStream
	}

	sess, ok := p.store.acquireExisting(key)
	if !ok {
		return ErrNoPendingPermission
	}
	defer sess.turn.Unlock()

	current, waiting := sess.awaiting()
	if !waiting {
		return ErrNoPendingPermission
	}
	if prompt != 0 && prompt != current {
		return ErrStalePermission
	}
	// Another query may have rebound the session while we waited.
	sink, ok := p.store.Stream(key)
	if !ok {
		return ErrNoActiveStream
	}
	pending := sess.takePending()

	log := logging.ForSession(key)
	log.Info().Bool("granted", granted).Strs("tools", toolNames(pending)).Msg("permission resolved")
	p.bus.Publish(event.Event{Type: event.PermissionResolved, Data: event.PermissionResolvedData{
		SessionID: key,
		Granted:   granted,
		Tools:     toolNames(pending),
	}})

	out := p.emitter(key, sink)
	if granted {
		p.executePending(ctx, sess, out, pending)
	} else {
		for _, pend := range pending {
			sess.appendToolResult(provider.FormatToolResult(pend.Call.ID, pend.Call.Name,
				permission.DeniedResult(pend.Call.Name), p.resultLines))
		}
		sess.append(types.Message{Role: types.RoleAssistant, Content: permission.DeniedAcknowledgement})
		out.emit(types.EventAssistant, permission.DeniedAcknowledgement)
	}

	p.runLoop(ctx, sess, sink)
	return nil
}

// InjectMessage appends an assistant message to an existing session and
// pushes it to the attached client, if any.
func (p *Processor) InjectMessage(key, text string) (injected, pushed bool) {
	if _, ok := p.store.AddAssistantMessage(key, text); !ok {
		return false, false
	}
	sink, ok := p.store.Stream(key)
	if !ok {
		return true, false
	}
	if err := sink.Emit(types.EventAssistant, text); err != nil {
		log := logging.ForSession(key)
		log.Debug().Err(err).Msg("injected message not delivered")
		return true, false
	}
	return true, true
}

// ClearSession removes the session. It reports whether it existed.
func (p *Processor) ClearSession(key string) bool {
	return p.store.Clear(key)
}

// emitter writes events for one session to a fixed sink. Delivery failures
// are logged and otherwise ignored.
type emitter struct {
	key  string
	sink stream.Sink
	bus  *event.Bus
	log  zerolog.Logger
}

func (p *Processor) emitter(key string, sink stream.Sink) *emitter {
	return &emitter{key: key, sink: sink, bus: p.bus, log: logging.ForSession(key)}
}

func (e *emitter) emit(role types.EventRole, content string) {
	if err := e.sink.Emit(role, content); err != nil {
		e.log.Debug().Err(err).Str("role", string(role)).Msg("stream write dropped")
		e.bus.Publish(event.Event{Type: event.StreamDropped, Data: event.StreamDropData{
			SessionID: e.key,
			Role:      string(role),
		}})
	}
}

func toolNames(pending []permission.Pending) []string {
	names := make([]string, len(pending))
	for i, p := range pending {
		names[i] = p.Call.Name
	}
	return names
}
