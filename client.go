// Package recsync is a client library for a realtime record-synchronization
// service: many clients connect over a persistent full-duplex message
// channel, subscribe to JSON documents ("records") by name, receive the
// current value plus subsequent updates, and may propose new versions that
// the server fans out to every other subscriber.
package recsync

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/recsync-io/recsync-go/internal/connection"
	"github.com/recsync-io/recsync-go/internal/credentials"
	"github.com/recsync-io/recsync-go/internal/record"
	"github.com/recsync-io/recsync-go/internal/recordhandler"
	"github.com/recsync-io/recsync-go/internal/telemetry"
	"github.com/recsync-io/recsync-go/internal/transport"
	"github.com/recsync-io/recsync-go/internal/wire"
	"github.com/recsync-io/recsync-go/internal/zlog"
)

// Cache is an opaque key-value store a caller may plug in to persist record
// snapshots across process restarts. The default is a no-op: every record
// starts cold and is populated from the server's initial snapshot.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

type noopCache struct{}

func (noopCache) Get(string) ([]byte, bool) { return nil, false }
func (noopCache) Set(string, []byte)        {}

// Options configures a Client. The zero value is usable; every field has a
// sensible default applied in New.
type Options struct {
	HeartbeatInterval          time.Duration
	HeartbeatToleranceFactor   float64
	ReconnectIntervalIncrement time.Duration
	MaxReconnectInterval       time.Duration
	MaxReconnectAttempts       int
	MaxMessagesPerPacket       int
	SendDelay                  time.Duration
	Path                       string

	Logger          zerolog.Logger
	MetricsRegistry *prometheus.Registry

	// InboundBudget paces the cooperative inbound drain (events/sec, burst).
	// Zero means unlimited.
	InboundBudget rate.Limit
	InboundBurst  int

	// Endpoint overrides the default transport.WebSocketEndpoint factory,
	// e.g. with natsbridge.NewFactory for NATS-fronted deployments.
	Endpoint connection.EndpointFactory

	Cache Cache
}

// Client is the public entry point: it owns the connection state machine
// and the record registry, and re-emits ConnectionStateChanged alongside
// the error channel and MAX_RECONNECTION_ATTEMPTS_REACHED.
type Client struct {
	opts     Options
	conn     *connection.Connection
	records  *recordhandler.Handler
	recorder *telemetry.Recorder
	cache    Cache

	mu        sync.Mutex
	listeners map[wire.Event][]func(args ...any)

	pendingAuthParams map[string]any
	authTimer         *time.Timer
}

// New constructs a Client bound to url and starts its executor goroutine.
// The connection begins dialing immediately; callers should follow with
// Authenticate once they want to complete the handshake, or rely on the
// server accepting an unauthenticated read-only session if it supports one.
func New(url string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	recorder := telemetry.NewRecorder(opts.MetricsRegistry)

	c := &Client{
		opts:      opts,
		cache:     opts.Cache,
		recorder:  recorder,
		listeners: make(map[wire.Event][]func(args ...any)),
	}

	factory := opts.Endpoint
	if factory == nil {
		factory = transport.NewWebSocketEndpointFactory(opts.Path)
	}

	var limiter connection.InboundLimiter
	if opts.InboundBudget > 0 {
		limiter = rate.NewLimiter(opts.InboundBudget, opts.InboundBurst)
	}

	connOpts := connection.Options{
		HeartbeatInterval:          opts.HeartbeatInterval,
		HeartbeatToleranceFactor:   opts.HeartbeatToleranceFactor,
		ReconnectIntervalIncrement: opts.ReconnectIntervalIncrement,
		MaxReconnectInterval:       opts.MaxReconnectInterval,
		MaxReconnectAttempts:       opts.MaxReconnectAttempts,
		MaxMessagesPerPacket:       opts.MaxMessagesPerPacket,
		SendDelay:                  opts.SendDelay,
		Path:                       opts.Path,
		Logger:                     zlog.New(opts.Logger),
		Recorder:                   recorder,
		InboundRateLimiter:         limiter,
	}

	conn := connection.New(url, factory, connOpts, c.dispatchRecordMessage, c.reportError)
	c.conn = conn
	c.records = recordhandler.New(conn, c.reportError, recorder)

	conn.OnStateChange(c.onConnectionStateChanged)
	conn.OnMaxReconnectAttemptsReached(func() { c.emit(wire.EventMaxReconnectionAttempts) })

	if err := conn.Start(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dispatchRecordMessage(m wire.Message) {
	if m.Topic == wire.TopicRecord {
		c.records.Dispatch(m)
	}
}

func (c *Client) reportError(topic wire.Topic, code, message string) {
	c.emit(wire.Event("error"), string(topic), code, message)
}

func (c *Client) onConnectionStateChanged(state wire.ConnectionState) {
	c.records.OnConnectionStateChanged(state)
	c.emit(wire.EventConnectionStateChanged, state)
}

// Authenticate submits credentials and arms a proactive re-auth timer if the
// params carry a JWT with a readable expiry.
func (c *Client) Authenticate(params map[string]any, cb func(ok bool, data map[string]any)) {
	c.mu.Lock()
	c.pendingAuthParams = params
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	if exp, ok := credentials.ExpiryOf(params); ok {
		if d := time.Until(exp) - 30*time.Second; d > 0 {
			c.authTimer = time.AfterFunc(d, func() { c.Authenticate(params, nil) })
		}
	}
	c.mu.Unlock()

	c.conn.Authenticate(params, cb)
}

// Record acquires a reference-counted handle to the named record. Callers
// must call Discard when done with it.
func (c *Client) Record(name string) *record.Handle {
	return c.records.GetRecord(name)
}

// Get performs a one-shot read: acquire, await ready, read path, discard.
func (c *Client) Get(ctx context.Context, name, path string) (any, error) {
	return c.records.Get(ctx, name, path)
}

// Set performs a one-shot write: acquire, write path, discard.
func (c *Client) Set(ctx context.Context, name, path string, value any) error {
	return c.records.Set(ctx, name, path, value)
}

// Update performs a one-shot read-modify-write.
func (c *Client) Update(ctx context.Context, name, path string, fn func(any) (any, error)) error {
	return c.records.Update(ctx, name, path, fn)
}

// Observe returns a lazy stream over a record's root value.
func (c *Client) Observe(name string) *recordhandler.Observable {
	return c.records.Observe(name)
}

// Listen registers a listener for a record name pattern.
func (c *Client) Listen(pattern string) { c.records.Listen(pattern) }

// Unlisten removes a previously registered listener.
func (c *Client) Unlisten(pattern string) { c.records.Unlisten(pattern) }

// On registers fn to be invoked on every occurrence of event. Recognized
// events: wire.EventConnectionStateChanged (arg: wire.ConnectionState),
// wire.EventMaxReconnectionAttempts (no args), and "error" (args: topic,
// code, message, all strings).
func (c *Client) On(event wire.Event, fn func(args ...any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

// OnError registers fn for every protocol/transport error reported on the
// error channel: connection errors and record-level ERROR messages from the
// server. MESSAGE_DENIED record errors are not forwarded.
func (c *Client) OnError(fn func(topic wire.Topic, code string, msg string)) {
	c.On(wire.Event("error"), func(args ...any) {
		if len(args) != 3 {
			return
		}
		topic, _ := args[0].(string)
		code, _ := args[1].(string)
		msg, _ := args[2].(string)
		fn(wire.Topic(topic), code, msg)
	})
}

func (c *Client) emit(event wire.Event, args ...any) {
	c.mu.Lock()
	fns := append([]func(args ...any){}, c.listeners[event]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(args...)
	}
}

// Close performs a deliberate shutdown of the connection and stops the
// record registry's idle pruner. The resulting CLOSED transition destroys
// every record in the registry, including ones callers still hold.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.mu.Unlock()
	c.records.Close()
	return c.conn.Close()
}

func (o Options) withDefaults() Options {
	if o.Cache == nil {
		o.Cache = noopCache{}
	}
	if o.Path == "" {
		o.Path = "/recsync"
	}
	if reflect.DeepEqual(o.Logger, zerolog.Logger{}) {
		o.Logger = zerolog.Nop()
	}
	return o
}
