package connection

import (
	"context"
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

func (c *Connection) currentURL() string {
	if c.redirecting && c.redirectURL != "" {
		return c.redirectURL
	}
	return c.originalURL
}

// openEndpoint builds a fresh Endpoint via the factory and opens it. On
// success the run loop will observe an EventOpen and transition to
// AWAITING_CONNECTION.
func (c *Connection) openEndpoint() {
	ep, err := c.factory(c.currentURL())
	if err != nil {
		c.reportError(wire.TopicConnection, "ENDPOINT_CREATE_FAILED", err.Error())
		c.setState(wire.StateError)
		c.scheduleReconnect()
		return
	}
	c.epEventsMu.Lock()
	c.ep = ep
	c.epEventsMu.Unlock()

	go func() {
		if err := ep.Open(context.Background()); err != nil {
			c.post(func() {
				c.reportError(wire.TopicConnection, "ENDPOINT_OPEN_FAILED", err.Error())
				c.setState(wire.StateError)
				c.scheduleReconnect()
			})
		}
	}()
}

func (c *Connection) handleEvent(ev Event) {
	switch ev.Kind {
	case EventOpen:
		c.onEndpointOpen()
	case EventMessage:
		c.onInboundPayload(ev.Message)
	case EventError:
		c.onEndpointError(ev.Err)
	case EventClose:
		c.onEndpointClose()
	}
}

func (c *Connection) onEndpointOpen() {
	c.reconnectAttempts = 0
	c.lastHeartbeat = time.Now()
	c.startHeartbeat()

	if c.redirecting {
		c.redirecting = false
	}

	c.setState(wire.StateAwaitingConnection)
}

// onEndpointError stops the heartbeat ticker and moves to ERROR state; the
// send-flush and reconnect timers are left as they are. Reporting is
// deferred one tick so a synchronous error never reaches user code before
// the reconnect path has a chance to take over.
func (c *Connection) onEndpointError(err error) {
	c.stopHeartbeat()
	c.setState(wire.StateError)
	go func() {
		c.post(func() {
			c.reportError(wire.TopicConnection, "TRANSPORT_ERROR", err.Error())
		})
	}()
}

func (c *Connection) onEndpointClose() {
	c.stopHeartbeat()

	switch {
	case c.redirecting:
		c.openEndpoint()
	case c.deliberateClose:
		c.setState(wire.StateClosed)
	default:
		c.scheduleReconnect()
	}
}

func (c *Connection) reportError(topic wire.Topic, code, msg string) {
	c.opts.Logger.Warn("connection error", map[string]any{
		"topic": string(topic),
		"code":  code,
		"msg":   msg,
	})
	if c.onError != nil {
		c.onError(topic, code, msg)
	}
}
