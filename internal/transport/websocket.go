package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/recsync-io/recsync-go/internal/connection"
)

// WebSocketEndpoint is the default connection.Endpoint: a client-side
// WebSocket connection dialed with ws.Dialer, framed with wsutil.
type WebSocketEndpoint struct {
	url string

	mu     sync.Mutex
	conn   net.Conn
	reader io.Reader // wraps conn, retains any bytes buffered during the handshake
	state  connection.ReadyState

	events chan connection.Event

	closeOnce sync.Once
}

// NewWebSocketEndpointFactory returns a connection.EndpointFactory that
// dials url (normalized against defaultPath) with github.com/gobwas/ws on
// every call.
func NewWebSocketEndpointFactory(defaultPath string) connection.EndpointFactory {
	return func(url string) (connection.Endpoint, error) {
		normalized, err := NormalizeURL(url, defaultPath)
		if err != nil {
			return nil, err
		}
		return &WebSocketEndpoint{
			url:    normalized,
			events: make(chan connection.Event, 64),
			state:  connection.StateConnecting,
		}, nil
	}
}

// Open dials the endpoint and starts the read pump. It returns once the
// handshake completes; subsequent events arrive on Events.
func (e *WebSocketEndpoint) Open(ctx context.Context) error {
	conn, br, _, err := ws.Dial(ctx, e.url)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.conn = conn
	if br != nil {
		e.reader = br
	} else {
		e.reader = conn
	}
	e.state = connection.StateEndpointOpen
	e.mu.Unlock()

	e.events <- connection.Event{Kind: connection.EventOpen}
	go e.readPump()
	return nil
}

// readPump mirrors the server-side readPump shape in this codebase's
// teacher repo: a loop of wsutil.ReadServerData (client side reads server
// frames), dispatching by op and terminating the endpoint on any read
// error or an explicit close frame.
func (e *WebSocketEndpoint) readPump() {
	for {
		e.mu.Lock()
		conn := e.conn
		reader := e.reader
		e.mu.Unlock()
		if conn == nil || reader == nil {
			return
		}

		msg, op, err := wsutil.ReadServerData(reader)
		if err != nil {
			e.emitClose(err)
			return
		}

		switch op {
		case ws.OpText, ws.OpBinary:
			e.events <- connection.Event{Kind: connection.EventMessage, Message: msg}
		case ws.OpClose:
			e.emitClose(nil)
			return
		case ws.OpPing:
			_ = wsutil.WriteClientMessage(conn, ws.OpPong, nil)
		}
	}
}

func (e *WebSocketEndpoint) emitClose(err error) {
	e.mu.Lock()
	e.state = connection.StateEndpointClosed
	e.mu.Unlock()
	if err != nil {
		e.events <- connection.Event{Kind: connection.EventError, Err: err}
	}
	e.closeOnce.Do(func() { e.events <- connection.Event{Kind: connection.EventClose} })
}

// Send writes frame as a single text message.
func (e *WebSocketEndpoint) Send(frame []byte) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wsutil.WriteClientMessage(conn, ws.OpText, frame)
}

// Close shuts down the underlying socket. Idempotent.
func (e *WebSocketEndpoint) Close() error {
	e.mu.Lock()
	conn := e.conn
	e.state = connection.StateEndpointClosed
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// ReadyState reports the WHATWG-style readiness flag.
func (e *WebSocketEndpoint) ReadyState() connection.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Events exposes the endpoint's event stream.
func (e *WebSocketEndpoint) Events() <-chan connection.Event {
	return e.events
}
