// Package interfaces defines the core types and contracts shared between the
// broker, the worker pool, and the client. It provides the contract between
// different components without implementation details.
package interfaces

import (
	"context"
)

// Identity names the calling principal bound to a single request. It is
// derived from a credential lookup and is never persisted between calls.
type Identity string

// Anonymous is the identity bound to public (no-auth) calls.
const Anonymous Identity = ""

// Call carries the decoded arguments of a single function invocation,
// together with the identity resolved for it. Identity is threaded through
// dispatch explicitly so that worker goroutines stay free of ambient state.
type Call struct {
	// Identity of the authenticated caller, or Anonymous for public calls.
	Identity Identity

	// Args are the positional arguments, in call order.
	Args []any

	// Kwargs are the keyword arguments. Keys are unique.
	Kwargs map[string]any
}

// Function is a remotely callable registry entry. Any error returned (or
// panic raised) by the body is converted to an error reply by the worker;
// it never terminates the worker.
type Function func(ctx context.Context, call *Call) (any, error)

// CallerToken identifies the connection a frame arrived on. The broker uses
// it to route each reply back to the originating caller; workers treat it as
// opaque. Request/reply correlation relies on this token alone, there is no
// application-level request id.
type CallerToken string

// Frame is one opaque payload tagged with its caller token.
type Frame struct {
	Caller  CallerToken
	Payload []byte
}

// BrokerTransport moves opaque frames between remote callers and the worker
// pool. Implementations must guarantee in-order delivery per connection and
// must never interpret payload contents.
type BrokerTransport interface {
	// Listen binds the public-facing listener and starts relaying frames.
	Listen() error

	// Frames returns the back-channel the worker pool pulls requests from.
	Frames() <-chan Frame

	// Reply routes a reply frame back to the connection identified by the
	// frame's caller token. Replies to connections that have since closed
	// are dropped.
	Reply(frame Frame) error

	// Close stops the listener and tears down all caller connections.
	Close() error
}
