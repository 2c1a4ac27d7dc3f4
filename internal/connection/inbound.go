package connection

import "github.com/recsync-io/recsync-go/internal/wire"

// onInboundPayload parses one transport payload (which may contain multiple
// framed messages) and dispatches each by topic. A rate limiter, if
// configured, paces how many of the parsed messages are dispatched per
// drain tick so a burst of buffered frames after a reconnect cannot
// monopolize the executor goroutine; unprocessed messages stay queued for
// the next tick via a re-post.
func (c *Connection) onInboundPayload(payload []byte) {
	msgs, err := wire.ParseMessages(payload)
	if err != nil {
		c.reportError(wire.TopicError, "MALFORMED_FRAME", err.Error())
		return
	}
	c.inboundBuf = append(c.inboundBuf, msgs...)
	c.drainInbound()
}

func (c *Connection) drainInbound() {
	for len(c.inboundBuf) > 0 {
		if c.opts.InboundRateLimiter != nil && !c.opts.InboundRateLimiter.Allow() {
			// Budget exhausted for this tick; re-post a continuation so the
			// executor loop gets a chance to service other channels before
			// resuming the drain.
			c.post(c.drainInbound)
			return
		}
		m := c.inboundBuf[0]
		c.inboundBuf = c.inboundBuf[1:]
		c.handleInboundMessage(m)
	}
}

func (c *Connection) handleInboundMessage(m wire.Message) {
	c.opts.Recorder.IncMessageReceived(string(m.Topic))
	switch m.Topic {
	case wire.TopicConnection:
		c.handleConnectionMessage(m)
	case wire.TopicAuth:
		c.handleAuthMessage(m)
	default:
		if c.dispatch != nil {
			c.dispatch(m)
		}
	}
}
