// Package natsbridge is an alternate connection.Endpoint for deployments
// that front the record service with NATS instead of a raw socket: frames
// published on <prefix>.in are delivered to the bridge; the bridge
// publishes server frames on <prefix>.out.
package natsbridge

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/recsync-io/recsync-go/internal/connection"
)

// Endpoint carries the duplex text-frame contract over a pair of NATS
// subjects built from Prefix.
type Endpoint struct {
	conn   *nats.Conn
	prefix string
	sub    *nats.Subscription
	events chan connection.Event

	state connection.ReadyState
}

// NewFactory returns a connection.EndpointFactory that connects to natsURL
// and bridges frames through "<prefix>.in"/"<prefix>.out". The url argument
// passed to the factory at dial time is used as the subject prefix, not a
// websocket URL.
func NewFactory(natsURL string, opts ...nats.Option) connection.EndpointFactory {
	return func(prefix string) (connection.Endpoint, error) {
		conn, err := nats.Connect(natsURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("natsbridge: connect: %w", err)
		}
		return &Endpoint{
			conn:   conn,
			prefix: prefix,
			events: make(chan connection.Event, 64),
			state:  connection.StateConnecting,
		}, nil
	}
}

func (e *Endpoint) outSubject() string { return e.prefix + ".out" }
func (e *Endpoint) inSubject() string  { return e.prefix + ".in" }

// Open subscribes to <prefix>.out (server-to-client frames) and emits
// EventOpen once the subscription is live.
func (e *Endpoint) Open(ctx context.Context) error {
	sub, err := e.conn.Subscribe(e.outSubject(), func(msg *nats.Msg) {
		e.events <- connection.Event{Kind: connection.EventMessage, Message: msg.Data}
	})
	if err != nil {
		return fmt.Errorf("natsbridge: subscribe %s: %w", e.outSubject(), err)
	}
	e.sub = sub
	e.state = connection.StateEndpointOpen

	e.conn.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			e.events <- connection.Event{Kind: connection.EventError, Err: err}
		}
	})
	e.conn.SetClosedHandler(func(_ *nats.Conn) {
		e.state = connection.StateEndpointClosed
		e.events <- connection.Event{Kind: connection.EventClose}
	})

	e.events <- connection.Event{Kind: connection.EventOpen}
	return nil
}

// Send publishes frame on <prefix>.in (client-to-server frames).
func (e *Endpoint) Send(frame []byte) error {
	return e.conn.Publish(e.inSubject(), frame)
}

// Close unsubscribes and closes the NATS connection.
func (e *Endpoint) Close() error {
	if e.sub != nil {
		_ = e.sub.Unsubscribe()
	}
	e.state = connection.StateEndpointClosed
	e.conn.Close()
	return nil
}

// ReadyState reports the WHATWG-style readiness flag.
func (e *Endpoint) ReadyState() connection.ReadyState { return e.state }

// Events exposes the endpoint's event stream.
func (e *Endpoint) Events() <-chan connection.Event { return e.events }
