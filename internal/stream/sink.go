package stream

import (
	"errors"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// ErrClosed is returned by Emit once the sink has been closed.
var ErrClosed = errors.New("stream closed")

// Sink pushes events to the client attached to one session.
type Sink interface {
	// Emit delivers one {role, content} event. Events are written in call
	// order.
	Emit(role types.EventRole, content string) error

	// Close stops keep-alives and releases the client. It is idempotent
	// and waits for an in-flight Emit to finish.
	Close()

	// Done is closed once the sink is closed or the client went away.
	Done() <-chan struct{}
}
