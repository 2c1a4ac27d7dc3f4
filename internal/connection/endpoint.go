package connection

import "context"

// ReadyState mirrors the WHATWG WebSocket readyState values closely enough
// for the Connection to decide when a flush is safe.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateEndpointOpen
	StateClosing
	StateEndpointClosed
)

// EventKind discriminates the values delivered on Endpoint.Events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

// Event is a single occurrence from the underlying transport.
type Event struct {
	Kind    EventKind
	Message []byte
	Err     error
}

// Endpoint is the transport seam the Connection depends on: a duplex
// text-frame channel with open/message/error/close notifications, a
// send(text) method, and a readyState flag. The core never imports a
// concrete transport; internal/transport provides the default one.
type Endpoint interface {
	Open(ctx context.Context) error
	Send(frame []byte) error
	Close() error
	ReadyState() ReadyState
	Events() <-chan Event
}

// EndpointFactory builds a fresh Endpoint bound to url. The Connection
// calls this on every (re)connect attempt so a prior closed endpoint is
// never reused.
type EndpointFactory func(url string) (Endpoint, error)
