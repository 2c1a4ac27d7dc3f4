package connection

import "time"

// Recorder receives connection telemetry. internal/telemetry implements this
// against Prometheus; a nil Recorder (the default) makes every call a no-op.
type Recorder interface {
	ObserveState(state string)
	IncReconnectAttempt()
	IncMessageSent(topic string)
	IncMessageReceived(topic string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveState(string)        {}
func (noopRecorder) IncReconnectAttempt()        {}
func (noopRecorder) IncMessageSent(string)       {}
func (noopRecorder) IncMessageReceived(string)   {}

// Logger is the minimal structured-logging surface the connection needs;
// internal/zlog.Adapter implements it over a zerolog.Logger.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// Options configures heartbeat timing, reconnect backoff, and the outbound
// conflation buffer, per the "Configuration (core-relevant options)" table.
type Options struct {
	HeartbeatInterval          time.Duration
	HeartbeatToleranceFactor   float64 // must be >= 2; tolerance = interval * factor
	ReconnectIntervalIncrement time.Duration
	MaxReconnectInterval       time.Duration
	MaxReconnectAttempts       int
	MaxMessagesPerPacket       int
	SendDelay                  time.Duration
	Path                       string
	Logger                     Logger
	Recorder                   Recorder
	// InboundRateLimiter paces the cooperative inbound drain; nil means
	// unlimited (drain everything buffered each tick).
	InboundRateLimiter InboundLimiter
}

// InboundLimiter caps how many frames may be parsed per drain tick.
// *golang.org/x/time/rate.Limiter satisfies this directly.
type InboundLimiter interface {
	Allow() bool
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatToleranceFactor < 2 {
		o.HeartbeatToleranceFactor = 2
	}
	if o.ReconnectIntervalIncrement <= 0 {
		o.ReconnectIntervalIncrement = 4 * time.Second
	}
	if o.MaxReconnectInterval <= 0 {
		o.MaxReconnectInterval = 2 * time.Minute
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.MaxMessagesPerPacket <= 0 {
		o.MaxMessagesPerPacket = 100
	}
	if o.SendDelay <= 0 {
		o.SendDelay = 10 * time.Millisecond
	}
	if o.Path == "" {
		o.Path = "/recsync"
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}
	return o
}

type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any)          {}
func (noopLogger) Info(string, map[string]any)           {}
func (noopLogger) Warn(string, map[string]any)           {}
func (noopLogger) Error(string, error, map[string]any)   {}
