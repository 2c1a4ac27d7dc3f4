// Package recordhandler implements the record registry: reference
// counting, idle pruning, the one-shot get/set/update convenience API, and
// the observable stream, plus inbound dispatch of RECORD-topic messages.
package recordhandler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/recsync-io/recsync-go/internal/record"
	"github.com/recsync-io/recsync-go/internal/wire"
)

// ErrListenerExists is reported when Listen is called twice for one pattern.
const ErrListenerExists = "LISTENER_EXISTS"

// ErrNotListening is reported when Unlisten is called without a prior Listen.
const ErrNotListening = "NOT_LISTENING"

// Sender submits frames; *connection.Connection satisfies this.
type Sender interface {
	SendMessage(topic wire.Topic, action wire.Action, data []string)
}

// ErrorSink receives non-fatal protocol errors, e.g. RECORD/ERROR other than
// MESSAGE_DENIED.
type ErrorSink func(topic wire.Topic, code, message string)

// Recorder receives registry telemetry. internal/telemetry implements this
// against Prometheus; a nil Recorder makes every call a no-op.
type Recorder interface {
	SetRecordsActive(n int)
	IncRecordsPruned()
}

type noopRecorder struct{}

func (noopRecorder) SetRecordsActive(int) {}
func (noopRecorder) IncRecordsPruned()    {}

// Handler owns the name -> Record registry, the idle pruner, and the
// one-shot convenience API.
type Handler struct {
	conn     Sender
	onError  ErrorSink
	recorder Recorder

	mu       sync.Mutex
	byName   map[string]*record.Record
	order    []*record.Record // parallel ordered slice, compacted in place by the pruner
	listeners map[string]struct{}

	pruneInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// New constructs a Handler and starts its idle pruner. recorder may be nil.
func New(conn Sender, onError ErrorSink, recorder Recorder) *Handler {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	h := &Handler{
		conn:          conn,
		onError:       onError,
		recorder:      recorder,
		byName:        make(map[string]*record.Record),
		listeners:     make(map[string]struct{}),
		pruneInterval: 10 * time.Second,
		stopCh:        make(chan struct{}),
	}
	go h.pruneLoop()
	return h
}

// Close stops the idle pruner. It does not destroy live records.
func (h *Handler) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// GetRecord returns the existing Record for name or creates one, and
// increments its reference count. Callers must Discard the returned handle
// when done.
func (h *Handler) GetRecord(name string) *record.Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.byName[name]; ok {
		r.Acquire()
		return r
	}

	r := record.New(name, h.conn)
	r.Acquire()
	h.byName[name] = r
	h.order = append(h.order, r)
	h.recorder.SetRecordsActive(len(h.order))
	return r
}

func (h *Handler) pruneLoop() {
	ticker := time.NewTicker(h.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.pruneOnce()
		}
	}
}

// pruneOnce scans the registry and destroys every record with usages == 0
// && IsReady, compacting the ordered slice in place in a single O(n) pass.
func (h *Handler) pruneOnce() {
	h.mu.Lock()
	var toDestroy []*record.Record
	out := h.order[:0]
	for _, r := range h.order {
		if r.Usages() == 0 && r.IsReady() {
			delete(h.byName, r.Name)
			toDestroy = append(toDestroy, r)
			continue
		}
		out = append(out, r)
	}
	h.order = out
	h.recorder.SetRecordsActive(len(h.order))
	h.mu.Unlock()

	for _, r := range toDestroy {
		r.Destroy()
		h.recorder.IncRecordsPruned()
	}
}

// Get acquires a handle, awaits ready, reads path, and always discards the
// handle, even on failure.
func (h *Handler) Get(ctx context.Context, name, path string) (any, error) {
	r := h.GetRecord(name)
	defer r.Discard()
	if err := r.WhenReady(ctx); err != nil {
		return nil, err
	}
	return r.Get(path)
}

// Set acquires a handle, applies the write, and discards. It resolves once
// the local apply completes; the outbound send is asynchronous.
func (h *Handler) Set(ctx context.Context, name, path string, value any) error {
	r := h.GetRecord(name)
	defer r.Discard()
	if path != "" {
		if err := r.WhenReady(ctx); err != nil {
			return err
		}
	}
	return r.Set(path, value)
}

// Update awaits ready, computes fn(current), writes the result, and
// discards. fn must be pure with respect to the record.
func (h *Handler) Update(ctx context.Context, name, path string, fn func(any) (any, error)) error {
	r := h.GetRecord(name)
	defer r.Discard()
	if err := r.WhenReady(ctx); err != nil {
		return err
	}
	cur, err := r.Get(path)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	return r.Set(path, next)
}

// Observable is a lazy root-value stream: Subscribe acquires a handle and
// subscribes with triggerNow; the returned unsubscribe func releases both.
type Observable struct {
	h    *Handler
	name string
}

// Observe returns a lazy stream over name's root value.
func (h *Handler) Observe(name string) *Observable {
	return &Observable{h: h, name: name}
}

// Subscribe attaches fn to the observable, invoking it immediately with the
// current value if present. It returns an unsubscribe function.
func (o *Observable) Subscribe(fn func(value any)) func() {
	r := o.h.GetRecord(o.name)
	r.Subscribe("", fn, true)
	return func() {
		r.Unsubscribe("", fn)
		r.Discard()
	}
}

// Listen registers a single listener for pattern. Duplicate listen reports
// LISTENER_EXISTS on the error sink.
func (h *Handler) Listen(pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[pattern]; ok {
		if h.onError != nil {
			h.onError(wire.TopicRecord, ErrListenerExists, pattern)
		}
		return
	}
	h.listeners[pattern] = struct{}{}
	h.conn.SendMessage(wire.TopicRecord, "L", []string{pattern})
}

// Unlisten removes the listener for pattern. Unlisten without a prior
// Listen reports NOT_LISTENING.
func (h *Handler) Unlisten(pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[pattern]; !ok {
		if h.onError != nil {
			h.onError(wire.TopicRecord, ErrNotListening, pattern)
		}
		return
	}
	delete(h.listeners, pattern)
	h.conn.SendMessage(wire.TopicRecord, "UL", []string{pattern})
}

// Dispatch routes one inbound RECORD-topic message to the matching Record.
func (h *Handler) Dispatch(m wire.Message) {
	name, ok := wire.RecordName(m)
	if !ok {
		return
	}

	h.mu.Lock()
	r, exists := h.byName[name]
	h.mu.Unlock()
	if !exists {
		return
	}

	switch m.Action {
	case wire.ActionUpdate:
		if len(m.Data) < 3 {
			return
		}
		r.HandleUpdate(wire.Version(m.Data[1]), m.Data[2])
	case wire.ActionSubscriptionHasProvider:
		if len(m.Data) < 2 {
			return
		}
		flag, _ := strconv.ParseBool(m.Data[1])
		r.HandleHasProvider(flag)
	case wire.ActionError:
		if len(m.Data) > 0 && m.Data[0] == wire.ErrMessageDenied {
			return
		}
		if h.onError != nil {
			code := ""
			if len(m.Data) > 0 {
				code = m.Data[0]
			}
			h.onError(wire.TopicRecord, code, name)
		}
	}
}

// OnConnectionStateChanged re-subscribes every record marked unsubscribed
// (ready or not) on OPEN, marks
// records unsubscribed on RECONNECTING, and destroys everything on CLOSED.
func (h *Handler) OnConnectionStateChanged(state wire.ConnectionState) {
	h.mu.Lock()
	records := append([]*record.Record{}, h.order...)
	h.mu.Unlock()

	switch state {
	case wire.StateOpen:
		for _, r := range records {
			r.OnConnectionOpen()
		}
	case wire.StateReconnecting:
		for _, r := range records {
			r.OnConnectionReconnecting()
		}
	case wire.StateClosed:
		h.mu.Lock()
		h.byName = make(map[string]*record.Record)
		h.order = nil
		h.mu.Unlock()
		for _, r := range records {
			r.OnConnectionClosed()
		}
	}
}
