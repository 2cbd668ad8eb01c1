package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// reply is one scripted backend turn.
type reply struct {
	text  string
	calls []types.ToolCallRequest
	err   error
}

func say(text string) reply { return reply{text: text} }

func call(id, name, args string) types.ToolCallRequest {
	return types.ToolCallRequest{ID: id, Name: name, Arguments: args}
}

func ask(text string, calls ...types.ToolCallRequest) reply {
	return reply{text: text, calls: calls}
}

func fail(msg string) reply { return reply{err: errors.New(msg)} }

// scriptedBackend replays replies in order and records what it was asked.
type scriptedBackend struct {
	mu        sync.Mutex
	replies   []reply
	histories [][]types.Message
	tools     [][]types.ToolDefinition
	streamed  int
}

func newBackend(replies ...reply) *scriptedBackend {
	return &scriptedBackend{replies: replies}
}

func (b *scriptedBackend) next(history []types.Message, tools []types.ToolDefinition) (*provider.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.histories = append(b.histories, history)
	b.tools = append(b.tools, tools)
	if len(b.replies) == 0 {
		return &provider.Response{Text: "no more replies"}, nil
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &provider.Response{Text: r.text, ToolCalls: r.calls}, nil
}

func (b *scriptedBackend) Generate(_ context.Context, history []types.Message, tools []types.ToolDefinition) (*provider.Response, error) {
	return b.next(history, tools)
}

func (b *scriptedBackend) Stream(_ context.Context, history []types.Message, tools []types.ToolDefinition, onChunk func(string)) (*provider.Response, error) {
	resp, err := b.next(history, tools)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.streamed++
	b.mu.Unlock()
	for _, word := range strings.SplitAfter(resp.Text, " ") {
		if word != "" {
			onChunk(word)
		}
	}
	return resp, nil
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.histories)
}

func (b *scriptedBackend) lastHistory() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.histories) == 0 {
		return nil
	}
	return b.histories[len(b.histories)-1]
}

// gatedBackend holds back every turn whose history matches hold until the
// gate is opened. entered receives one value per held turn.
type gatedBackend struct {
	*scriptedBackend
	hold    func(history []types.Message) bool
	gate    chan struct{}
	entered chan struct{}
}

func newGatedBackend(inner *scriptedBackend, hold func([]types.Message) bool) *gatedBackend {
	return &gatedBackend{
		scriptedBackend: inner,
		hold:            hold,
		gate:            make(chan struct{}),
		entered:         make(chan struct{}, 8),
	}
}

func (b *gatedBackend) Generate(ctx context.Context, history []types.Message, tools []types.ToolDefinition) (*provider.Response, error) {
	if b.hold(history) {
		b.entered <- struct{}{}
		<-b.gate
	}
	return b.scriptedBackend.Generate(ctx, history, tools)
}

func (b *gatedBackend) open() { close(b.gate) }

func lastMessage(history []types.Message) types.Message {
	if len(history) == 0 {
		return types.Message{}
	}
	return history[len(history)-1]
}

// fakeCatalog is an in-memory ToolCatalog.
type fakeCatalog struct {
	mu       sync.Mutex
	owners   map[string]string
	results  map[string]string
	failures map[string]error
	executed []string
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{
		owners:   map[string]string{},
		results:  map[string]string{},
		failures: map[string]error{},
	}
}

func (c *fakeCatalog) add(owner, tool, result string) *fakeCatalog {
	c.owners[tool] = owner
	c.results[tool] = result
	return c
}

func (c *fakeCatalog) failing(owner, tool string, err error) *fakeCatalog {
	c.owners[tool] = owner
	c.failures[tool] = err
	return c
}

func (c *fakeCatalog) Definitions() []types.ToolDefinition {
	var defs []types.ToolDefinition
	for name := range c.owners {
		defs = append(defs, types.ToolDefinition{Name: name, Description: name})
	}
	return defs
}

func (c *fakeCatalog) FindOwner(tool string) (string, bool) {
	owner, ok := c.owners[tool]
	return owner, ok
}

func (c *fakeCatalog) Suggest(tool string) (string, bool) {
	for name := range c.owners {
		if strings.HasPrefix(tool, name) || strings.HasPrefix(name, tool) {
			return name, true
		}
	}
	return "", false
}

func (c *fakeCatalog) Execute(_ context.Context, providerID, tool string, args map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, fmt.Sprintf("%s/%s", providerID, tool))
	if err := c.failures[tool]; err != nil {
		return "", err
	}
	return c.results[tool], nil
}

func (c *fakeCatalog) executions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}
