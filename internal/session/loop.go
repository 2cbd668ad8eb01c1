package session

import (
	"context"
	"fmt"
	"time"

	"github.com/opencode-ai/toolgate/internal/event"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/internal/permission"
	"github.com/opencode-ai/toolgate/internal/provider"
	"github.com/opencode-ai/toolgate/internal/stream"
	"github.com/opencode-ai/toolgate/pkg/types"
)

// runLoop runs up to maxSteps backend turns. The caller holds sess.turn.
//
// The loop ends when the backend answers without tool calls, repeats a turn
// it already produced, fails, or runs out of steps; the client then gets a
// done event and the sink is closed. It suspends, leaving the sink open,
// when any requested tool needs permission.
func (p *Processor) runLoop(ctx context.Context, sess *Session, sink stream.Sink) {
	log := logging.ForSession(sess.Key)
	out := p.emitter(sess.Key, sink)
	guard := permission.NewRepeatGuard()

	outcome := event.OutcomeExhausted
	steps := 0

	for step := 0; step < p.maxSteps; step++ {
		if sess.Waiting() {
			outcome = event.OutcomeAwaiting
			break
		}
		steps++

		resp, err := p.generate(ctx, sess, out)
		if err != nil {
			log.Error().Err(err).Int("step", step).Msg("backend call failed")
			out.emit(types.EventError, "Error: "+err.Error())
			sess.append(provider.FormatError(err))
			outcome = event.OutcomeFailed
			break
		}

		sess.append(resp.Message())
		if text := provider.ExtractText(resp); text != "" {
			out.emit(types.EventAssistant, text)
		}

		calls := provider.ExtractToolCalls(resp)
		if guard.Repeated(resp.Text, calls) {
			log.Warn().Int("step", step).Msg("backend repeated a turn, stopping")
			for _, call := range calls {
				sess.appendToolResult(provider.FormatToolResult(call.ID, call.Name,
					permission.SkippedResult(call.Name), p.resultLines))
			}
			outcome = event.OutcomeRepeated
			break
		}

		if !provider.HasToolCalls(resp) {
			outcome = event.OutcomeAnswered
			break
		}

		if pending := p.dispatch(sess, out, calls); len(pending) > 0 {
			sess.await(pending)
			tools := sess.PendingTools()
			out.emit(types.EventPermission, permission.Prompt(tools))
			p.bus.Publish(event.Event{Type: event.PermissionRequested, Data: event.PermissionRequestedData{
				SessionID: sess.Key,
				Tools:     tools,
			}})
			log.Info().Strs("tools", tools).Msg("awaiting permission")
			outcome = event.OutcomeAwaiting
			break
		}
	}

	log.Debug().Str("outcome", outcome).Int("steps", steps).Msg("loop finished")
	p.bus.Publish(event.Event{Type: event.TurnCompleted, Data: event.TurnCompletedData{
		SessionID: sess.Key,
		Outcome:   outcome,
		Steps:     steps,
	}})

	if outcome != event.OutcomeAwaiting {
		out.emit(types.EventDone, "")
		p.store.Detach(sess.Key, sink)
	}
}

// generate runs one backend turn over the current history.
func (p *Processor) generate(ctx context.Context, sess *Session, out *emitter) (*provider.Response, error) {
	history := sess.History()
	tools := p.tools.Definitions()

	start := time.Now()
	var (
		resp *provider.Response
		err  error
	)
	if p.streamChunks {
		resp, err = p.backend.Stream(ctx, history, tools, func(chunk string) {
			out.emit(types.EventAssistantChunk, chunk)
		})
	} else {
		resp, err = p.backend.Generate(ctx, history, tools)
	}

	p.bus.Publish(event.Event{Type: event.BackendCall, Data: event.BackendCallData{
		SessionID:  sess.Key,
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("backend returned no response")
	}
	return resp, nil
}
