package recordhandler

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

func TestGetRecordReusesSameRecordByName(t *testing.T) {
	h := New(&fakeSender{}, nil, nil)
	defer h.Close()

	r1 := h.GetRecord("a")
	r2 := h.GetRecord("a")
	if r1 != r2 {
		t.Fatal("expected the same record instance for the same name")
	}
	if r1.Usages() != 2 {
		t.Fatalf("expected usages=2 after two acquisitions, got %d", r1.Usages())
	}
}

func TestDispatchRoutesUpdateByName(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, nil)
	defer h.Close()

	r := h.GetRecord("a")
	h.Dispatch(wire.Message{Topic: wire.TopicRecord, Action: wire.ActionUpdate, Data: []string{"a", "1-x", `{"v":1}`}})

	if !r.IsReady() {
		t.Fatal("expected record to become ready after dispatched UPDATE")
	}
	v, _ := r.Get("v")
	if v != float64(1) {
		t.Fatalf("unexpected value: %#v", v)
	}
}

func TestDispatchIgnoresUnknownRecord(t *testing.T) {
	h := New(&fakeSender{}, nil, nil)
	defer h.Close()

	h.Dispatch(wire.Message{Topic: wire.TopicRecord, Action: wire.ActionUpdate, Data: []string{"missing", "1-x", "{}"}})
}

func TestListenTwiceReportsListenerExists(t *testing.T) {
	var errs []string
	h := New(&fakeSender{}, func(topic wire.Topic, code, message string) {
		errs = append(errs, code)
	}, nil)
	defer h.Close()

	h.Listen("pattern/.*")
	h.Listen("pattern/.*")

	if len(errs) != 1 || errs[0] != ErrListenerExists {
		t.Fatalf("expected one LISTENER_EXISTS error, got %#v", errs)
	}
}

func TestUnlistenWithoutListenReportsNotListening(t *testing.T) {
	var errs []string
	h := New(&fakeSender{}, func(topic wire.Topic, code, message string) {
		errs = append(errs, code)
	}, nil)
	defer h.Close()

	h.Unlisten("pattern/.*")

	if len(errs) != 1 || errs[0] != ErrNotListening {
		t.Fatalf("expected one NOT_LISTENING error, got %#v", errs)
	}
}

func TestGetOneShotAwaitsReadyThenReads(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, nil)
	defer h.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Dispatch(wire.Message{Topic: wire.TopicRecord, Action: wire.ActionUpdate, Data: []string{"a", "1-x", `{"v":42}`}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := h.Get(ctx, "a", "v")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != float64(42) {
		t.Fatalf("unexpected value: %#v", v)
	}
}

func TestOnConnectionStateChangedClosedClearsRegistry(t *testing.T) {
	s := &fakeSender{}
	h := New(s, nil, nil)
	defer h.Close()

	r := h.GetRecord("a")
	h.OnConnectionStateChanged(wire.StateClosed)

	if !r.IsDestroyed() {
		t.Fatal("expected record to be destroyed on CLOSED")
	}
	r2 := h.GetRecord("a")
	if r2 == r {
		t.Fatal("expected a fresh record after registry was cleared")
	}
}
