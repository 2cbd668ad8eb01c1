package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// Backend is one stateless reasoning call over an ordered history.
type Backend interface {
	// Generate returns the whole response in one piece.
	Generate(ctx context.Context, history []types.Message, tools []types.ToolDefinition) (*Response, error)

	// Stream delivers partial text to onChunk as it arrives and returns the
	// accumulated response.
	Stream(ctx context.Context, history []types.Message, tools []types.ToolDefinition, onChunk func(string)) (*Response, error)
}

// Response is a normalized backend turn.
type Response struct {
	Text      string
	ToolCalls []types.ToolCallRequest
}

// Message returns the assistant history entry for the response.
func (r *Response) Message() types.Message {
	if r == nil {
		return types.Message{Role: types.RoleAssistant}
	}
	return types.Message{
		Role:      types.RoleAssistant,
		Content:   r.Text,
		ToolCalls: r.ToolCalls,
	}
}

// Options are per-call settings applied to every request.
type Options struct {
	// Name identifies the backend in logs.
	Name        string
	MaxTokens   int
	Temperature float64

	// Extra is appended after the generic options.
	Extra []model.Option
}

// ChatBackend adapts an eino ToolCallingChatModel to Backend.
type ChatBackend struct {
	chatModel model.ToolCallingChatModel
	opts      []model.Option
	name      string
	log       zerolog.Logger
}

var _ Backend = (*ChatBackend)(nil)

// NewChatBackend wraps chatModel.
func NewChatBackend(chatModel model.ToolCallingChatModel, o Options) *ChatBackend {
	var opts []model.Option
	if o.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(o.MaxTokens))
	}
	if o.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(o.Temperature)))
	}
	opts = append(opts, o.Extra...)

	name := o.Name
	if name == "" {
		name = "custom"
	}

	return &ChatBackend{
		chatModel: chatModel,
		opts:      opts,
		name:      name,
		log:       logging.Component("provider").With().Str("backend", name).Logger(),
	}
}

// Name returns the backend name.
func (b *ChatBackend) Name() string { return b.name }

// ChatModel returns the underlying eino model.
func (b *ChatBackend) ChatModel() model.ToolCallingChatModel { return b.chatModel }

// bind returns the model to call. Tools are only bound when the catalog is
// non-empty; some APIs reject an empty tool list.
func (b *ChatBackend) bind(tools []types.ToolDefinition) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return b.chatModel, nil
	}
	bound, err := b.chatModel.WithTools(ToEinoTools(tools))
	if err != nil {
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}
	return bound, nil
}

// Generate implements Backend.
func (b *ChatBackend) Generate(ctx context.Context, history []types.Message, tools []types.ToolDefinition) (*Response, error) {
	chatModel, err := b.bind(tools)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := chatModel.Generate(ctx, ToEinoMessages(history), b.opts...)
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", b.name, err)
	}
	b.log.Debug().
		Int("messages", len(history)).
		Int("tools", len(tools)).
		Dur("took", time.Since(start)).
		Msg("generate completed")

	return FromEinoMessage(msg), nil
}

// Stream implements Backend. Any failure while opening or reading the stream
// discards the partial result and retries once with Generate.
func (b *ChatBackend) Stream(ctx context.Context, history []types.Message, tools []types.ToolDefinition, onChunk func(string)) (*Response, error) {
	msg, err := b.stream(ctx, history, tools, onChunk)
	if err == nil {
		return FromEinoMessage(msg), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	b.log.Warn().Err(err).Msg("streaming failed, falling back to generate")
	return b.Generate(ctx, history, tools)
}

func (b *ChatBackend) stream(ctx context.Context, history []types.Message, tools []types.ToolDefinition, onChunk func(string)) (*schema.Message, error) {
	chatModel, err := b.bind(tools)
	if err != nil {
		return nil, err
	}

	reader, err := chatModel.Stream(ctx, ToEinoMessages(history), b.opts...)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("receive chunk: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" && onChunk != nil {
			onChunk(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return nil, errors.New("stream ended without output")
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat chunks: %w", err)
	}
	return msg, nil
}
