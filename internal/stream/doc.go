// Package stream delivers session events to an attached client.
//
// A Sink accepts {role, content} events in order. SSESink writes them to an
// HTTP response as server-sent events with periodic keep-alive comments;
// Recorder keeps them in memory. Decode is the client side of the SSE
// framing and is used by the CLI.
//
// Writes to a sink never block the conversation on a dead client: a failed
// write closes the sink and reports the error, and later writes return
// ErrClosed.
package stream
