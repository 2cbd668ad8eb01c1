// Package permission implements the approval gate that sits between a tool
// call requested by the reasoning backend and its execution.
//
// # Pending Calls
//
// Queue keeps the resolvable tool calls of a turn in the order the backend
// requested them, keyed by call id. A session awaits permission exactly when
// its queue is non-empty. On grant the calls are executed in queue order; on
// deny each one is answered with DeniedResult and the assistant records
// DeniedAcknowledgement.
//
// # Repeated Turns
//
// RepeatGuard hashes each backend turn (its text plus the set of tool names
// and decoded arguments) and reports when the same turn comes back within a
// single loop invocation. The conversation loop stops on the repeat instead
// of waiting for the step limit.
//
// # Wording
//
// Prompt, DeniedResult, SupersededResult and SkippedResult produce the text
// that reaches the client stream and the session history.
package permission
