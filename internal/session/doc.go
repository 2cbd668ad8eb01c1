// Package session holds conversation state and runs the permission-gated
// reasoning loop.
//
// # Store
//
// Store maps session keys to Sessions and binds at most one stream.Sink to
// each key. A session starts with a system message ("Session ID: <key>"
// followed by the assistant instructions) and is removed by Clear or by
// Sweep once idle for longer than the configured timeout. Sweeper runs
// Sweep on a robfig/cron schedule.
//
// # Processor
//
// Processor is the conversation engine. For every query it:
//
//  1. binds the client's sink to the session, closing any previous one
//  2. appends the user message (an identical repeat of the last user
//     message is ignored)
//  3. asks the backend for a turn over the whole history and the tool
//     catalog, and appends and streams the assistant reply
//  4. stops if the reply has no tool calls or repeats an earlier turn of
//     the same invocation
//  5. answers calls to unknown tools with a failure result, and queues the
//     rest for the user's permission
//  6. suspends with a permission event when anything was queued, otherwise
//     goes back to 3, at most MaxSteps times
//
// ResolvePermission resumes a suspended session: a grant executes the
// queued calls in order, a denial records that the user declined. Either
// way the loop is re-entered with a fresh step budget. ResolvePrompt does
// the same for a numbered prompt and refuses once a newer query replaced it.
//
// # Concurrency
//
// Sessions are independent. Within a session the loop and the permission
// path are serialized by a per-session lock held for the whole turn; Sweep
// never waits for it and skips busy sessions instead. Backend and tool calls
// are not cancelled when the client disconnects; their results still land in
// history.
//
// # Events
//
// Lifecycle changes are published on an event.Bus: session created, cleared
// and expired, stream attached, detached and dropped writes, permission
// requested and resolved, tool executed, backend call, and turn completed
// with its outcome.
package session
