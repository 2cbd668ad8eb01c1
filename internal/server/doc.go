// Package server exposes the conversation engine over HTTP.
//
// Endpoints:
//
//	GET      /stream-sse?q=&session_id=   query stream (SSE)
//	POST     /tool-permission             {"sessionId","granted"}
//	GET|POST /clear-session?session_id=
//	POST     /api/inject-message          {"session_id","message"}
//	GET      /api/tools
//	GET      /api/providers
//	GET      /api/sessions[/{sessionID}]
//	GET      /api/events?session_id=      lifecycle event feed (SSE)
//	GET      /health
//	GET      /metrics
//
// /tool-permission and /clear-session are also mounted under /api.
//
// The session key comes from the session_id query parameter, then the
// session_id cookie. /stream-sse generates one when neither is set and
// returns it in the X-Session-ID header and the cookie.
//
// Errors use the envelope {"error":{"code","message"}}.
package server
