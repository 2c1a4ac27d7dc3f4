// Package record implements the per-record state machine: initial
// read/subscribe, the ready gate, the offline patch queue, optimistic
// local writes with monotonically increasing version tokens, and
// reconciliation of concurrent remote updates.
package record

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/recsync-io/recsync-go/internal/jsonpath"
	"github.com/recsync-io/recsync-go/internal/wire"
)

// ErrDestroyed is returned by any public operation on a destroyed record.
var ErrDestroyed = errors.New("record: destroyed")

// ErrInvalidState is returned when an operation is not valid for the
// record's current state (e.g. root Set with a non-object value).
var ErrInvalidState = errors.New("record: invalid state")

// Sender submits frames on behalf of the record; *connection.Connection
// satisfies this.
type Sender interface {
	SendMessage(topic wire.Topic, action wire.Action, data []string)
}

type patchEntry struct {
	path string
	data any
}

type subscription struct {
	path string
	fn   func(value any)
}

// Handle is a reference-counted acquisition of a Record from the registry,
// released via Discard. It is the same type as Record: acquiring a handle
// is just incrementing Record.usages, so no separate wrapper is needed.
type Handle = Record

// Record is the per-name state machine described in the core.
type Record struct {
	Name string

	mu sync.Mutex

	conn Sender

	data    any
	version wire.Version

	hasProvider bool
	isReady     bool
	isSubscribed bool
	isDestroyed bool
	usages      int

	patchQueue []patchEntry
	subs       []subscription

	readyWaiters   []chan error
	destroyWaiters []func()
}

// New creates a record and immediately sends READ(name).
func New(name string, conn Sender) *Record {
	r := &Record{Name: name, conn: conn}
	conn.SendMessage(wire.TopicRecord, wire.ActionRead, []string{name})
	r.isSubscribed = true
	return r
}

// Acquire increments the reference count. Called by the registry on every
// lookup/creation.
func (r *Record) Acquire() {
	r.mu.Lock()
	r.usages++
	r.mu.Unlock()
}

// Discard decrements the reference count. It does not destroy the record;
// destruction is the registry's job (the idle pruner).
func (r *Record) Discard() {
	r.mu.Lock()
	if r.usages > 0 {
		r.usages--
	}
	r.mu.Unlock()
}

// Usages returns the current reference count.
func (r *Record) Usages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usages
}

// IsReady reports whether the record has received its first snapshot.
func (r *Record) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isReady
}

// IsDestroyed reports whether Destroy has run.
func (r *Record) IsDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDestroyed
}

// Get reads the local snapshot via the path utility.
func (r *Record) Get(path string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDestroyed {
		return nil, ErrDestroyed
	}
	return jsonpath.Get(r.data, path)
}

// Set has two call shapes distinguished by whether path is empty:
// Set("", value) replaces the root (value must be a map or nil); Set(path,
// value) writes at path. Before ready, path writes are queued; a
// root-replace clears the queue and becomes its first entry.
func (r *Record) Set(path string, value any) error {
	r.mu.Lock()
	if r.isDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}

	if path == "" {
		if _, ok := value.(map[string]any); !ok && value != nil {
			r.mu.Unlock()
			return ErrInvalidState
		}
		if !r.isReady {
			r.patchQueue = []patchEntry{{path: "", data: value}}
		}
		notify := r.applyLocked(value)
		r.mu.Unlock()
		runNotifications(notify)
		return nil
	}

	if !r.isReady {
		r.patchQueue = append(r.patchQueue, patchEntry{path: path, data: value})
		r.mu.Unlock()
		return nil
	}

	newData, err := jsonpath.Set(r.data, path, value)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	notify := r.applyLocked(newData)
	r.mu.Unlock()
	runNotifications(notify)
	return nil
}

// applyLocked adopts newData if it differs by reference from the current
// data, and — if ready — dispatches an outbound UPDATE. It returns the
// pending subscriber notifications for the caller to run after unlocking.
// Caller holds r.mu.
func (r *Record) applyLocked(newData any) []func() {
	old := r.data
	if refEqual(old, newData) {
		return nil
	}
	r.data = newData
	notify := r.pendingNotifications(old, newData)
	if r.isReady {
		r.dispatchUpdateLocked()
	}
	return notify
}

// pendingNotifications computes, for every subscription whose observed
// value changed, a closure that invokes its callback. Caller holds r.mu;
// the returned closures must be run only after unlocking.
func (r *Record) pendingNotifications(old, new any) []func() {
	var out []func()
	for _, s := range r.subs {
		oldVal, _ := jsonpath.Get(old, s.path)
		newVal, _ := jsonpath.Get(new, s.path)
		if !refEqual(oldVal, newVal) {
			fn := s.fn
			v := newVal
			out = append(out, func() { fn(v) })
		}
	}
	return out
}

func runNotifications(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func refEqual(a, b any) bool { return jsonpath.RefEqual(a, b) }

// dispatchUpdateLocked increments the version counter, sends UPDATE, and
// adopts the new version. Caller holds r.mu.
func (r *Record) dispatchUpdateLocked() {
	prev := r.version
	r.version = wire.NextVersion(prev)
	payload, _ := encodeJSON(r.data)
	data := []string{r.Name, string(r.version), payload}
	if prev != "" {
		data = append(data, string(prev))
	}
	r.conn.SendMessage(wire.TopicRecord, wire.ActionUpdate, data)
}

// Subscribe registers fn under path (empty path == root). If triggerNow and
// data is present, fn is invoked synchronously with the current value.
func (r *Record) Subscribe(path string, fn func(value any), triggerNow bool) error {
	r.mu.Lock()
	if r.isDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	r.subs = append(r.subs, subscription{path: path, fn: fn})
	var cur any
	haveData := r.data != nil
	if triggerNow && haveData {
		cur, _ = jsonpath.Get(r.data, path)
	}
	r.mu.Unlock()

	if triggerNow && haveData {
		fn(cur)
	}
	return nil
}

// Unsubscribe removes registrations matching path; if fn is nil, every
// registration at path is removed.
func (r *Record) Unsubscribe(path string, fn func(value any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.subs[:0]
	for _, s := range r.subs {
		if s.path == path && (fn == nil || sameFunc(s.fn, fn)) {
			continue
		}
		out = append(out, s)
	}
	r.subs = out
}

func sameFunc(a, b func(value any)) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// WhenReady resolves on first ready, rejects on destroy. Already-ready
// resolves immediately.
func (r *Record) WhenReady(ctx context.Context) error {
	r.mu.Lock()
	if r.isDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if r.isReady {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	r.readyWaiters = append(r.readyWaiters, ch)
	r.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleUpdate processes an inbound UPDATE frame: the initial snapshot if
// not yet ready, else a reconciled remote update per version comparison.
func (r *Record) HandleUpdate(version wire.Version, rawData string) {
	newData, err := decodeJSON(rawData)
	if err != nil {
		return
	}

	r.mu.Lock()
	if !r.isReady {
		old := r.data
		r.data = r.applyPatchQueueLocked(newData)
		r.version = version
		r.isReady = true
		waiters := r.readyWaiters
		r.readyWaiters = nil
		resend := !refEqual(r.data, newData)
		notify := r.pendingNotifications(old, r.data)
		r.mu.Unlock()

		for _, ch := range waiters {
			ch <- nil
		}
		runNotifications(notify)
		if resend {
			r.mu.Lock()
			r.dispatchUpdateLocked()
			r.mu.Unlock()
		}
		return
	}

	if wire.CompareVersions(version, r.version) <= 0 {
		r.mu.Unlock()
		return
	}

	old := r.data
	merged := jsonpath.Patch(old, newData)
	r.data = merged
	r.version = version
	notify := r.pendingNotifications(old, merged)
	r.mu.Unlock()
	runNotifications(notify)
}

func (r *Record) applyPatchQueueLocked(snapshot any) any {
	cur := snapshot
	for _, p := range r.patchQueue {
		if p.path == "" {
			cur = p.data
			continue
		}
		merged, err := jsonpath.Set(cur, p.path, p.data)
		if err == nil {
			cur = merged
		}
	}
	r.patchQueue = nil
	return cur
}

// HandleHasProvider processes SUBSCRIPTION_HAS_PROVIDER(name, flag).
func (r *Record) HandleHasProvider(flag bool) {
	r.mu.Lock()
	r.hasProvider = flag
	r.mu.Unlock()
}

// HasProvider reports the last known provider flag.
func (r *Record) HasProvider() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasProvider
}

// OnConnectionOpen resends READ if the record was marked unsubscribed by a
// prior RECONNECTING transition.
func (r *Record) OnConnectionOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDestroyed || r.isSubscribed {
		return
	}
	r.conn.SendMessage(wire.TopicRecord, wire.ActionRead, []string{r.Name})
	r.isSubscribed = true
}

// OnConnectionReconnecting marks the record unsubscribed; no sends are
// allowed while reconnecting.
func (r *Record) OnConnectionReconnecting() {
	r.mu.Lock()
	r.isSubscribed = false
	r.mu.Unlock()
}

// OnConnectionClosed destroys the record silently.
func (r *Record) OnConnectionClosed() {
	r.Destroy()
}

// Destroy sends UNSUBSCRIBE if still subscribed, clears state, and wakes
// every ready/destroy waiter. Idempotent.
func (r *Record) Destroy() {
	r.mu.Lock()
	if r.isDestroyed {
		r.mu.Unlock()
		return
	}
	r.isDestroyed = true
	if r.isSubscribed {
		r.conn.SendMessage(wire.TopicRecord, wire.ActionUnsubscribe, []string{r.Name})
	}
	r.isSubscribed = false
	waiters := r.readyWaiters
	r.readyWaiters = nil
	onDestroy := r.destroyWaiters
	r.destroyWaiters = nil
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- ErrDestroyed
	}
	for _, fn := range onDestroy {
		fn()
	}
}

// OnDestroy registers fn to be invoked when the record is destroyed.
func (r *Record) OnDestroy(fn func()) {
	r.mu.Lock()
	if r.isDestroyed {
		r.mu.Unlock()
		fn()
		return
	}
	r.destroyWaiters = append(r.destroyWaiters, fn)
	r.mu.Unlock()
}
