package session

import (
	"context"
	"fmt"
	"time"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/permission"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// ToolCatalog resolves and executes tools. *mcp.Registry implements it.
type ToolCatalog interface {
	Definitions() []types.ToolDefinition
	FindOwner(tool string) (string, bool)
	Execute(ctx context.Context, providerID, tool string, args map[string]any) (string, error)
	Suggest(tool string) (string, bool)
}

type emptyCatalog struct{}

func (emptyCatalog) Definitions() []types.ToolDefinition { return nil }
func (emptyCatalog) FindOwner(string) (string, bool)     { return "", false }
func (emptyCatalog) Suggest(string) (string, bool)       { return "", false }
func (emptyCatalog) Execute(_ context.Context, _, tool string, _ map[string]any) (string, error) {
	return "", fmt.Errorf("tool %s is not available", tool)
}

// dispatch resolves the owner of every requested call. Calls to unknown
// tools are answered immediately with a failure result; the rest are
// returned for the permission gate.
func (p *Processor) dispatch(sess *Session, out *emitter, calls []types.ToolCallRequest) []permission.Pending {
	var pending []permission.Pending
	for _, call := range calls {
		owner, ok := p.tools.FindOwner(call.Name)
		if !ok {
			text := p.unavailable(call.Name)
			log := logging.ForSession(sess.Key)
			log.Warn().Str("tool", call.Name).Msg("unknown tool requested")
			sess.appendToolResult(provider.FormatToolResult(call.ID, call.Name, text, p.resultLines))
			out.emit(types.EventTool, fmt.Sprintf("Tool '%s' failed: %s", call.Name, text))
			continue
		}
		pending = append(pending, permission.Pending{
			Call:       call,
			ProviderID: owner,
			Args:       call.ParsedArguments(),
		})
	}
	return pending
}

func (p *Processor) unavailable(tool string) string {
	text := fmt.Sprintf("Tool '%s' is not available.", tool)
	if suggestion, ok := p.tools.Suggest(tool); ok {
		text += fmt.Sprintf(" Did you mean '%s'?", suggestion)
	}
	return text
}

// executePending runs granted calls in request order. A failing call does
// not stop the others; its error becomes the result the backend sees.
func (p *Processor) executePending(ctx context.Context, sess *Session, out *emitter, pending []permission.Pending) {
	log := logging.ForSession(sess.Key)

	for _, pend := range pending {
		name := pend.Call.Name
		out.emit(types.EventToolExecuting, "Executing tool: "+name)

		start := time.Now()
		result, err := p.tools.Execute(ctx, pend.ProviderID, name, pend.Args)
		elapsed := time.Since(start)

		data := event.ToolExecutedData{
			SessionID:  sess.Key,
			ProviderID: pend.ProviderID,
			Tool:       name,
			Success:    err == nil,
			DurationMs: elapsed.Milliseconds(),
		}

		var content string
		if err != nil {
			log.Warn().Err(err).Str("tool", name).Str("provider", pend.ProviderID).Msg("tool execution failed")
			data.Error = err.Error()
			content = "Error: " + err.Error()
			out.emit(types.EventTool, fmt.Sprintf("Tool '%s' failed: %s", name, err.Error()))
		} else {
			log.Info().Str("tool", name).Str("provider", pend.ProviderID).Dur("took", elapsed).Msg("tool executed")
			content = result
			out.emit(types.EventTool, fmt.Sprintf("Tool '%s' result: %s", name, provider.TruncateResult(result, p.resultLines)))
		}

		p.bus.Publish(event.Event{Type: event.ToolExecuted, Data: data})
		sess.appendToolResult(provider.FormatToolResult(pend.Call.ID, name, content, p.resultLines))
	}
}
