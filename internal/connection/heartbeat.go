package connection

import (
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

func (c *Connection) startHeartbeat() {
	c.stopHeartbeat()
	c.heartbeatTick = time.NewTicker(c.opts.HeartbeatInterval)
}

func (c *Connection) stopHeartbeat() {
	if c.heartbeatTick != nil {
		c.heartbeatTick.Stop()
		c.heartbeatTick = nil
	}
}

// onHeartbeatTick closes the endpoint if no PING/PONG has been seen within
// tolerance, which drives reconnect; otherwise it submits a PING.
func (c *Connection) onHeartbeatTick() {
	tolerance := time.Duration(float64(c.opts.HeartbeatInterval) * c.opts.HeartbeatToleranceFactor)
	if !c.lastHeartbeat.IsZero() && time.Since(c.lastHeartbeat) > tolerance {
		c.reportError(wire.TopicConnection, "HEARTBEAT_TIMEOUT", "heartbeat not received")
		if c.ep != nil {
			c.ep.Close()
		}
		return
	}
	c.sendFrameNow(wire.BuildMessage(wire.TopicConnection, wire.ActionPing, nil))
}
