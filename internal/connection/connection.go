// Package connection implements the connection state machine described in
// the core: authentication handshake, challenge/redirect, heartbeat
// liveness, deliberate close vs. transport loss, linear-backoff reconnect
// (capped at MaxReconnectInterval), and a conflating outbound send buffer.
//
// The state-machine fields are owned by a single executor goroutine (run);
// the exported methods that change them post a closure onto an internal
// command channel rather than touching fields directly. The current state
// is held in an atomic value, and only the listener lists and the endpoint
// pointer carry their own mutexes.
package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

// Dispatch receives every inbound message whose topic is not CONNECTION or
// AUTH; the Client wires this to RecordHandler routing.
type Dispatch func(wire.Message)

// ErrorSink receives non-fatal protocol/transport errors for the client's
// error channel (topic, code, message).
type ErrorSink func(topic wire.Topic, code, message string)

type authAttempt struct {
	params map[string]any
	cb     func(ok bool, data map[string]any)
}

// Connection owns one Endpoint and runs the state machine over it.
type Connection struct {
	opts        Options
	originalURL string
	factory     EndpointFactory
	dispatch    Dispatch
	onError     ErrorSink

	cmd chan func()

	ep         Endpoint
	epEventsMu sync.Mutex

	state                 atomic.Value // wire.ConnectionState
	deliberateClose       bool
	redirecting           bool
	redirectURL           string
	challengeDenied       bool
	tooManyAuthAttempts   bool
	authTimeoutTerminal   bool
	pendingAuth           *authAttempt
	authInFlight          *authAttempt

	reconnectAttempts int
	reconnectTimer    *time.Timer

	lastHeartbeat time.Time
	heartbeatTick *time.Ticker

	sendQueue   [][]byte
	sendTimer   *time.Timer
	inboundBuf  []wire.Message

	stateListenersMu sync.Mutex
	stateListeners   []func(wire.ConnectionState)

	maxReconnectListenersMu sync.Mutex
	maxReconnectListeners   []func()

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Connection bound to url. factory builds a fresh Endpoint
// on every (re)connect attempt; dispatch receives every non-CONNECTION/AUTH
// inbound message.
func New(url string, factory EndpointFactory, opts Options, dispatch Dispatch, onError ErrorSink) *Connection {
	c := &Connection{
		opts:        opts.withDefaults(),
		originalURL: url,
		factory:     factory,
		dispatch:    dispatch,
		onError:     onError,
		cmd:         make(chan func(), 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.setState(wire.StateClosed)
	return c
}

// Start launches the executor loop, which opens the endpoint and runs until
// Close or ctx is done. It returns immediately without waiting for the
// initial Open attempt; the state machine runs in the background.
func (c *Connection) Start(ctx context.Context) error {
	go c.run(ctx)
	return nil
}

// Done closes when the executor loop has fully exited.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

func (c *Connection) setState(s wire.ConnectionState) {
	prev, _ := c.state.Load().(wire.ConnectionState)
	c.state.Store(s)
	if prev == s {
		return
	}
	c.opts.Recorder.ObserveState(string(s))
	c.opts.Logger.Info("connection state changed", map[string]any{"from": string(prev), "to": string(s)})
	c.stateListenersMu.Lock()
	listeners := append([]func(wire.ConnectionState){}, c.stateListeners...)
	c.stateListenersMu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// State returns the current connection state. Safe to call from any
// goroutine.
func (c *Connection) State() wire.ConnectionState {
	s, _ := c.state.Load().(wire.ConnectionState)
	return s
}

// OnStateChange registers a listener invoked on every state transition.
func (c *Connection) OnStateChange(fn func(wire.ConnectionState)) {
	c.stateListenersMu.Lock()
	c.stateListeners = append(c.stateListeners, fn)
	c.stateListenersMu.Unlock()
}

// OnMaxReconnectAttemptsReached registers a listener fired once the
// reconnect budget is exhausted.
func (c *Connection) OnMaxReconnectAttemptsReached(fn func()) {
	c.maxReconnectListenersMu.Lock()
	c.maxReconnectListeners = append(c.maxReconnectListeners, fn)
	c.maxReconnectListenersMu.Unlock()
}

func (c *Connection) emitMaxReconnectAttemptsReached() {
	c.maxReconnectListenersMu.Lock()
	listeners := append([]func(){}, c.maxReconnectListeners...)
	c.maxReconnectListenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// post enqueues fn to run on the executor goroutine. It blocks only on
// channel capacity, never on fn's execution.
func (c *Connection) post(fn func()) {
	select {
	case c.cmd <- fn:
	case <-c.stopCh:
	}
}

// Authenticate stores credentials and, once AWAITING_AUTHENTICATION, submits
// AUTH/REQUEST. If the connection was closed deliberately it is reopened
// first; if a terminal failure flag is set it reports a closed-connection
// error instead.
func (c *Connection) Authenticate(params map[string]any, cb func(ok bool, data map[string]any)) {
	c.post(func() {
		if c.challengeDenied || c.tooManyAuthAttempts || c.authTimeoutTerminal {
			if cb != nil {
				cb(false, map[string]any{"reason": "connection is closed"})
			}
			return
		}
		c.pendingAuth = &authAttempt{params: params, cb: cb}
		if c.deliberateClose {
			c.deliberateClose = false
			c.openEndpoint()
			return
		}
		if c.State() == wire.StateAwaitingAuthentication {
			c.submitAuth()
		}
	})
}

func (c *Connection) submitAuth() {
	if c.pendingAuth == nil {
		return
	}
	attempt := c.pendingAuth
	c.pendingAuth = nil
	c.authInFlight = attempt
	payload, _ := encodeAuthParams(attempt.params)
	c.sendFrameNow(wire.BuildMessage(wire.TopicAuth, wire.ActionRequest, []string{payload}))
	c.setState(wire.StateAuthenticating)
}

// closeLocked runs the deliberate-close sequence on the executor goroutine.
// Callers on the executor itself (run's ctx.Done branch) must call this
// directly rather than through post/Close, which would deadlock waiting on
// the very goroutine that's blocked submitting the closure.
func (c *Connection) closeLocked() {
	c.deliberateClose = true
	c.flush()
	c.stopTimers()
	if c.ep != nil {
		c.ep.Close()
	}
	c.setState(wire.StateClosed)
}

// Close performs a deliberate close: flush, stop timers, close the
// endpoint. The resulting close event transitions to CLOSED rather than
// triggering reconnect.
func (c *Connection) Close() error {
	done := make(chan struct{})
	c.post(func() {
		c.closeLocked()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Connection) stopTimers() {
	if c.heartbeatTick != nil {
		c.heartbeatTick.Stop()
	}
	if c.sendTimer != nil {
		c.sendTimer.Stop()
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
}

// Send enqueues a pre-built frame for conflated delivery.
func (c *Connection) Send(frame []byte) {
	c.post(func() { c.enqueueFrame(frame) })
}

// SendMessage is sugar over wire.BuildMessage + Send.
func (c *Connection) SendMessage(topic wire.Topic, action wire.Action, data []string) {
	c.Send(wire.BuildMessage(topic, action, data))
	c.opts.Recorder.IncMessageSent(string(topic))
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.doneCh)
	c.openEndpoint()

	for {
		select {
		case <-ctx.Done():
			c.closeLocked()
			c.stopOnce.Do(func() { close(c.stopCh) })
			return
		case <-c.stopCh:
			return
		case fn := <-c.cmd:
			fn()
		case ev, ok := <-c.currentEvents():
			if !ok {
				continue
			}
			c.handleEvent(ev)
		case <-c.heartbeatChan():
			c.onHeartbeatTick()
		case <-c.sendTimerChan():
			c.flush()
		case <-c.reconnectChan():
			c.attemptReconnect()
		}
	}
}

// currentEvents/heartbeatChan/sendTimerChan/reconnectChan return nil
// channels when the corresponding resource is absent, which blocks forever
// in a select and is exactly the behavior wanted before the endpoint/timers
// exist.
func (c *Connection) currentEvents() <-chan Event {
	c.epEventsMu.Lock()
	defer c.epEventsMu.Unlock()
	if c.ep == nil {
		return nil
	}
	return c.ep.Events()
}

func (c *Connection) heartbeatChan() <-chan time.Time {
	if c.heartbeatTick == nil {
		return nil
	}
	return c.heartbeatTick.C
}

func (c *Connection) sendTimerChan() <-chan time.Time {
	if c.sendTimer == nil {
		return nil
	}
	return c.sendTimer.C
}

func (c *Connection) reconnectChan() <-chan time.Time {
	if c.reconnectTimer == nil {
		return nil
	}
	return c.reconnectTimer.C
}
