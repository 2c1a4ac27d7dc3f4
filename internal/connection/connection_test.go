package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

// fakeEndpoint is an in-memory connection.Endpoint test double: Send
// records every frame, and the test controls Events directly.
type fakeEndpoint struct {
	mu      sync.Mutex
	sent    [][]byte
	state   ReadyState
	events  chan Event
	closed  bool
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{events: make(chan Event, 64), state: StateEndpointOpen}
}

func (f *fakeEndpoint) Open(ctx context.Context) error { return nil }

func (f *fakeEndpoint) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.state = StateEndpointClosed
	f.events <- Event{Kind: EventClose}
	return nil
}

func (f *fakeEndpoint) ReadyState() ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEndpoint) Events() <-chan Event { return f.events }

func (f *fakeEndpoint) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitForState(t *testing.T, c *Connection, want wire.ConnectionState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, c.State())
}

type errorCollector struct {
	mu    sync.Mutex
	codes []string
}

func (e *errorCollector) add(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *errorCollector) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.codes...)
}

func newTestConnection(eps []*fakeEndpoint) (*Connection, *errorCollector) {
	idx := 0
	var mu sync.Mutex
	factory := func(url string) (Endpoint, error) {
		mu.Lock()
		defer mu.Unlock()
		ep := eps[idx]
		if idx < len(eps)-1 {
			idx++
		}
		return ep, nil
	}

	errs := &errorCollector{}
	onError := func(topic wire.Topic, code, message string) {
		errs.add(code)
	}

	c := New("ws://example.invalid/recsync", factory, Options{
		HeartbeatInterval:          20 * time.Millisecond,
		HeartbeatToleranceFactor:   2,
		ReconnectIntervalIncrement: 5 * time.Millisecond,
		MaxReconnectInterval:       20 * time.Millisecond,
		MaxReconnectAttempts:       3,
		MaxMessagesPerPacket:       10,
		SendDelay:                  time.Millisecond,
	}, nil, onError)
	return c, errs
}

func TestConnectionOpenHandshakeReachesOpen(t *testing.T) {
	ep := newFakeEndpoint()
	c, _ := newTestConnection([]*fakeEndpoint{ep})
	c.Start(context.Background())
	defer c.Close()

	ep.events <- Event{Kind: EventOpen}
	waitForState(t, c, wire.StateAwaitingConnection, time.Second)

	ep.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicConnection, wire.ActionAck, nil)}
	waitForState(t, c, wire.StateAwaitingAuthentication, time.Second)

	ep.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicAuth, wire.ActionAck, []string{"{}"})}
	waitForState(t, c, wire.StateOpen, time.Second)
}

func TestAuthenticateSubmitsRequestOnceAwaitingAuth(t *testing.T) {
	ep := newFakeEndpoint()
	c, _ := newTestConnection([]*fakeEndpoint{ep})
	c.Start(context.Background())
	defer c.Close()

	ep.events <- Event{Kind: EventOpen}
	waitForState(t, c, wire.StateAwaitingConnection, time.Second)
	ep.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicConnection, wire.ActionAck, nil)}
	waitForState(t, c, wire.StateAwaitingAuthentication, time.Second)

	var called bool
	c.Authenticate(map[string]any{"user": "ada"}, func(ok bool, data map[string]any) { called = ok })

	waitForState(t, c, wire.StateAuthenticating, time.Second)
	ep.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicAuth, wire.ActionAck, []string{"{}"})}
	waitForState(t, c, wire.StateOpen, time.Second)

	deadline := time.Now().Add(time.Second)
	for !called && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !called {
		t.Fatal("expected auth callback to be invoked with ok=true")
	}
}

func TestHeartbeatTimeoutTriggersReconnect(t *testing.T) {
	ep1 := newFakeEndpoint()
	ep2 := newFakeEndpoint()
	c, errs := newTestConnection([]*fakeEndpoint{ep1, ep2})
	c.Start(context.Background())
	defer c.Close()

	ep1.events <- Event{Kind: EventOpen}
	waitForState(t, c, wire.StateAwaitingConnection, time.Second)
	ep1.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicConnection, wire.ActionAck, nil)}
	waitForState(t, c, wire.StateAwaitingAuthentication, time.Second)
	ep1.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicAuth, wire.ActionAck, []string{"{}"})}
	waitForState(t, c, wire.StateOpen, time.Second)

	// No PING/PONG activity at all; wait past tolerance (40ms) for the
	// heartbeat tick to detect staleness and close the endpoint.
	waitForState(t, c, wire.StateReconnecting, time.Second)

	found := false
	codes := errs.snapshot()
	for _, code := range codes {
		if code == "HEARTBEAT_TIMEOUT" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a HEARTBEAT_TIMEOUT error, got %#v", codes)
	}
}

func TestSendBufferConflatesUnderMaxMessagesPerPacket(t *testing.T) {
	ep := newFakeEndpoint()
	c, _ := newTestConnection([]*fakeEndpoint{ep})
	c.Start(context.Background())
	defer c.Close()

	ep.events <- Event{Kind: EventOpen}
	waitForState(t, c, wire.StateAwaitingConnection, time.Second)
	ep.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicConnection, wire.ActionAck, nil)}
	waitForState(t, c, wire.StateAwaitingAuthentication, time.Second)
	ep.events <- Event{Kind: EventMessage, Message: wire.BuildMessage(wire.TopicAuth, wire.ActionAck, []string{"{}"})}
	waitForState(t, c, wire.StateOpen, time.Second)

	for i := 0; i < 5; i++ {
		c.SendMessage(wire.TopicRecord, wire.ActionRead, []string{"rec/1"})
	}

	deadline := time.Now().Add(time.Second)
	for ep.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ep.sentCount() != 1 {
		t.Fatalf("expected the 5 frames conflated into a single transport write, got %d writes", ep.sentCount())
	}
}

func TestDeliberateCloseDoesNotReconnect(t *testing.T) {
	ep := newFakeEndpoint()
	c, _ := newTestConnection([]*fakeEndpoint{ep})
	c.Start(context.Background())

	ep.events <- Event{Kind: EventOpen}
	waitForState(t, c, wire.StateAwaitingConnection, time.Second)

	c.Close()
	waitForState(t, c, wire.StateClosed, time.Second)

	time.Sleep(30 * time.Millisecond)
	if c.State() != wire.StateClosed {
		t.Fatalf("expected connection to remain CLOSED after deliberate close, got %s", c.State())
	}
}
