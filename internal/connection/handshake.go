package connection

import (
	"encoding/json"
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

// handleConnectionMessage implements the CONNECTION-topic handshake:
// CHALLENGE, ACK, REDIRECT, REJECTION, and the authentication-timeout
// error.
func (c *Connection) handleConnectionMessage(m wire.Message) {
	switch m.Action {
	case wire.ActionChallenge:
		c.sendFrameNow(wire.BuildMessage(wire.TopicConnection, wire.ActionChallengeResponse, []string{c.originalURL}))
		c.setState(wire.StateChallenging)

	case wire.ActionAck:
		c.setState(wire.StateAwaitingAuthentication)
		if c.pendingAuth != nil {
			c.submitAuth()
		}

	case wire.ActionRedirect:
		if len(m.Data) == 0 {
			return
		}
		c.redirecting = true
		c.redirectURL = m.Data[0]
		if c.ep != nil {
			c.ep.Close()
		}

	case wire.ActionRejection:
		c.challengeDenied = true
		c.deliberateClose = true
		if c.ep != nil {
			c.ep.Close()
		}

	case wire.ActionError:
		if len(m.Data) > 0 && m.Data[0] == wire.ErrConnectionAuthenticationTimeout {
			c.authTimeoutTerminal = true
			c.deliberateClose = true
			c.reportError(wire.TopicConnection, wire.ErrConnectionAuthenticationTimeout, "authentication timed out")
			if c.ep != nil {
				c.ep.Close()
			}
			return
		}
		if len(m.Data) > 0 {
			c.reportError(wire.TopicConnection, m.Data[0], "connection error")
		}

	case wire.ActionPing:
		c.lastHeartbeat = time.Now()
		c.sendFrameNow(wire.BuildMessage(wire.TopicConnection, wire.ActionPong, nil))

	case wire.ActionPong:
		c.lastHeartbeat = time.Now()
	}
}

// handleAuthMessage implements AUTH/ACK and AUTH/ERROR.
func (c *Connection) handleAuthMessage(m wire.Message) {
	switch m.Action {
	case wire.ActionAck:
		c.setState(wire.StateOpen)
		c.flush()
		if c.authInFlight != nil {
			attempt := c.authInFlight
			c.authInFlight = nil
			if attempt.cb != nil {
				attempt.cb(true, decodeAuthData(m.Data))
			}
		}

	case wire.ActionError:
		code := ""
		if len(m.Data) > 0 {
			code = m.Data[0]
		}
		if code == wire.ErrTooManyAuthAttempts {
			c.tooManyAuthAttempts = true
			c.deliberateClose = true
			if c.ep != nil {
				c.ep.Close()
			}
		} else {
			c.setState(wire.StateAwaitingAuthentication)
		}
		if c.authInFlight != nil {
			attempt := c.authInFlight
			c.authInFlight = nil
			if attempt.cb != nil {
				attempt.cb(false, decodeAuthData(m.Data))
			}
		}
	}
}

func encodeAuthParams(params map[string]any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}

func decodeAuthData(data []string) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(data[0]), &out); err != nil {
		return nil
	}
	return out
}
