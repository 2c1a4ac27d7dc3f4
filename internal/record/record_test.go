package record

import (
	"context"
	"testing"
	"time"

	"github.com/recsync-io/recsync-go/internal/wire"
)

type fakeSender struct {
	sent []wire.Message
}

func (f *fakeSender) SendMessage(topic wire.Topic, action wire.Action, data []string) {
	f.sent = append(f.sent, wire.Message{Topic: topic, Action: action, Data: append([]string{}, data...)})
}

func (f *fakeSender) last() wire.Message {
	if len(f.sent) == 0 {
		return wire.Message{}
	}
	return f.sent[len(f.sent)-1]
}

func TestNewSendsRead(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)
	if len(s.sent) != 1 || s.sent[0].Action != wire.ActionRead {
		t.Fatalf("expected a READ to be sent on New, got %#v", s.sent)
	}
	if r.IsReady() {
		t.Fatal("record should not be ready before an UPDATE arrives")
	}
}

func TestHandleUpdateBecomesReadyAndNotifies(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)

	var got any
	notified := false
	r.Subscribe("name", func(v any) { got = v; notified = true }, false)

	r.HandleUpdate("1-aaa", `{"name":"ada"}`)

	if !r.IsReady() {
		t.Fatal("expected record to be ready after first UPDATE")
	}
	if !notified || got != "ada" {
		t.Fatalf("expected subscriber notified with ada, got notified=%v got=%#v", notified, got)
	}
}

func TestSetBeforeReadyQueuesAndReplaysOnTopOfSnapshot(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)

	if err := r.Set("count", 5); err != nil {
		t.Fatalf("unexpected error queuing write: %v", err)
	}

	r.HandleUpdate("1-aaa", `{"count":1,"other":true}`)

	v, err := r.Get("count")
	if err != nil || v != 5 {
		t.Fatalf("expected queued write replayed atop snapshot, got %#v, %v", v, err)
	}
	other, _ := r.Get("other")
	if other != true {
		t.Fatalf("expected untouched snapshot fields preserved, got %#v", other)
	}
}

func TestSetAfterReadyDispatchesUpdate(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)
	r.HandleUpdate("1-aaa", `{"count":1}`)

	if err := r.Set("count", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := s.last()
	if last.Action != wire.ActionUpdate {
		t.Fatalf("expected an outbound UPDATE, got %#v", last)
	}
	v, _ := r.Get("count")
	if v != 2 {
		t.Fatalf("expected local apply to take effect, got %#v", v)
	}
}

func TestHandleUpdateIgnoresStaleVersion(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)
	r.HandleUpdate("5-zzz", `{"count":10}`)
	r.HandleUpdate("1-aaa", `{"count":1}`)

	v, _ := r.Get("count")
	if v != float64(10) {
		t.Fatalf("expected stale update to be ignored, got %#v", v)
	}
}

func TestWhenReadyResolvesOnFirstUpdate(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- r.WhenReady(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	r.HandleUpdate("1-aaa", `{}`)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWhenReadyRejectsOnDestroy(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)
	r.Destroy()

	if err := r.WhenReady(context.Background()); err != ErrDestroyed {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

func TestAcquireDiscardUsages(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)
	r.Acquire()
	r.Acquire()
	if r.Usages() != 2 {
		t.Fatalf("expected usages=2, got %d", r.Usages())
	}
	r.Discard()
	if r.Usages() != 1 {
		t.Fatalf("expected usages=1, got %d", r.Usages())
	}
}

func TestDestroySendsUnsubscribeOnceAndWakesWaiters(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)

	waitErr := make(chan error, 1)
	go func() { waitErr <- r.WhenReady(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	r.Destroy()
	r.Destroy() // idempotent

	select {
	case err := <-waitErr:
		if err != ErrDestroyed {
			t.Fatalf("expected pending WhenReady to be woken with ErrDestroyed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending WhenReady to be woken by Destroy")
	}

	var unsubCount int
	for _, m := range s.sent {
		if m.Action == wire.ActionUnsubscribe {
			unsubCount++
		}
	}
	if unsubCount != 1 {
		t.Fatalf("expected exactly one UNSUBSCRIBE, got %d", unsubCount)
	}
	if !r.IsDestroyed() {
		t.Fatal("expected record to report destroyed")
	}
}

func TestOnConnectionReconnectingThenOpenResubscribes(t *testing.T) {
	s := &fakeSender{}
	r := New("rec/1", s)
	r.OnConnectionReconnecting()
	r.OnConnectionOpen()

	var reads int
	for _, m := range s.sent {
		if m.Action == wire.ActionRead {
			reads++
		}
	}
	if reads != 2 {
		t.Fatalf("expected a resend of READ on reconnect-open, got %d reads total", reads)
	}
}
