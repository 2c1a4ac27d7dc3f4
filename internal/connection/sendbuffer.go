package connection

import (
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

// enqueueFrame appends frame to the outbound queue. If the queue exceeds
// MaxMessagesPerPacket it flushes immediately (cancelling any pending
// timer); otherwise a flush is scheduled after SendDelay unless one is
// already pending.
func (c *Connection) enqueueFrame(frame []byte) {
	c.sendQueue = append(c.sendQueue, frame)
	if len(c.sendQueue) > c.opts.MaxMessagesPerPacket {
		if c.sendTimer != nil {
			c.sendTimer.Stop()
			c.sendTimer = nil
		}
		c.flush()
		return
	}
	if c.sendTimer == nil {
		c.sendTimer = time.NewTimer(c.opts.SendDelay)
	}
}

// sendFrameNow bypasses conflation for handshake/heartbeat control frames,
// which must not wait behind SendDelay.
func (c *Connection) sendFrameNow(frame []byte) {
	if c.State() != wire.StateOpen && !isHandshakeFrame(frame) {
		return
	}
	if c.ep == nil || c.ep.ReadyState() != StateEndpointOpen {
		return
	}
	c.ep.Send(frame)
}

func isHandshakeFrame(frame []byte) bool {
	// Handshake/heartbeat frames are always CONNECTION/AUTH topic frames and
	// must be allowed through before the connection reaches OPEN.
	return len(frame) > 0 && (frame[0] == byte(wire.TopicConnection[0]) || frame[0] == byte(wire.TopicAuth[0]))
}

// flush writes up to MaxMessagesPerPacket frames per transport write,
// repeating until the queue drains. It is a no-op unless OPEN and the
// endpoint is writable.
func (c *Connection) flush() {
	if c.sendTimer != nil {
		c.sendTimer.Stop()
		c.sendTimer = nil
	}
	if len(c.sendQueue) == 0 {
		return
	}
	if c.State() != wire.StateOpen || c.ep == nil || c.ep.ReadyState() != StateEndpointOpen {
		return
	}

	for len(c.sendQueue) > 0 {
		batch := c.sendQueue
		if len(batch) > c.opts.MaxMessagesPerPacket {
			batch = batch[:c.opts.MaxMessagesPerPacket]
		}
		var packet []byte
		for _, f := range batch {
			packet = append(packet, f...)
		}
		if err := c.ep.Send(packet); err != nil {
			c.reportError(wire.TopicConnection, "SEND_FAILED", err.Error())
			return
		}
		c.sendQueue = c.sendQueue[len(batch):]
	}
}
