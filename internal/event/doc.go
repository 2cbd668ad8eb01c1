/*
Package event provides the in-process lifecycle event bus for toolgate.

Components publish lifecycle events (sessions created and expired, streams
attached and replaced, permission prompts, tool executions, backend calls,
completed turns) without knowing who consumes them. The metrics collector and
the debug journal are the two consumers wired by the serve command.

# Architecture

Subscribers registered with Subscribe or SubscribeAll are invoked directly so
the concrete Data type survives. Every published event is additionally
marshalled to JSON and published on the watermill gochannel topic
JournalTopic, with the event type in the "type" metadata key. Journal
returns a subscription to that topic.

# Event Types

Session Events:
  - session.created: first query for a new key
  - session.cleared: explicit clear request
  - session.expired: removed by the inactivity sweep

Stream Events:
  - stream.attached: a client stream bound to a session
  - stream.detached: binding released (Replaced set when a newer stream took over)
  - stream.dropped: a frame could not be written to the client

Turn Events:
  - permission.requested: the loop paused on resolvable tool calls
  - permission.resolved: the client granted or denied the pending calls
  - tool.executed: one provider invocation finished
  - backend.call: one reasoning backend request finished
  - turn.completed: one loop invocation ended, with its outcome

# Usage

	bus := event.NewBus()
	defer bus.Close()

	unsub := bus.Subscribe(event.ToolExecuted, func(e event.Event) {
		data := e.Data.(event.ToolExecutedData)
		log.Printf("%s took %dms", data.Tool, data.DurationMs)
	})
	defer unsub()

	bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionData{SessionID: "session_01H..."},
	})

A nil *Bus accepts every call and does nothing, so components can be
constructed without one in tests.
*/
package event
