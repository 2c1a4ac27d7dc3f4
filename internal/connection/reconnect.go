package connection

import (
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

// scheduleReconnect schedules the next attempt after
// min(maxReconnectInterval, reconnectIntervalIncrement*attempt) and moves to
// RECONNECTING. After maxReconnectAttempts failures it gives up and closes.
func (c *Connection) scheduleReconnect() {
	c.reconnectAttempts++
	if c.reconnectAttempts > c.opts.MaxReconnectAttempts {
		c.emitMaxReconnectAttemptsReached()
		c.deliberateClose = true
		c.setState(wire.StateClosed)
		return
	}

	c.opts.Recorder.IncReconnectAttempt()
	c.setState(wire.StateReconnecting)

	delay := time.Duration(c.reconnectAttempts) * c.opts.ReconnectIntervalIncrement
	if delay > c.opts.MaxReconnectInterval {
		delay = c.opts.MaxReconnectInterval
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.NewTimer(delay)
}

func (c *Connection) attemptReconnect() {
	c.reconnectTimer = nil
	c.openEndpoint()
}
