package wire

import "testing"

func TestBuildAndParseMessageRoundTrip(t *testing.T) {
	frame := BuildMessage(TopicRecord, ActionUpdate, []string{"record/1", "1-abc", `{"x":1}`})
	msgs, err := ParseMessages(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Topic != TopicRecord || m.Action != ActionUpdate {
		t.Fatalf("unexpected topic/action: %v/%v", m.Topic, m.Action)
	}
	if len(m.Data) != 3 || m.Data[0] != "record/1" {
		t.Fatalf("unexpected data: %#v", m.Data)
	}
}

func TestParseMessagesMultipleFrames(t *testing.T) {
	var raw []byte
	raw = append(raw, BuildMessage(TopicConnection, ActionChallenge, nil)...)
	raw = append(raw, BuildMessage(TopicAuth, ActionAck, []string{"{}"})...)

	msgs, err := ParseMessages(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != TopicConnection || msgs[1].Topic != TopicAuth {
		t.Fatalf("unexpected topics: %v, %v", msgs[0].Topic, msgs[1].Topic)
	}
}

func TestParseMessagesMalformed(t *testing.T) {
	_, err := ParseMessages([]byte("R"))
	if err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestRecordNameNormalAction(t *testing.T) {
	m := Message{Action: ActionUpdate, Data: []string{"my/record", "1-abc", "{}"}}
	name, ok := RecordName(m)
	if !ok || name != "my/record" {
		t.Fatalf("got %q, %v", name, ok)
	}
}

func TestRecordNameAckAction(t *testing.T) {
	m := Message{Action: ActionAck, Data: []string{"US", "my/record"}}
	name, ok := RecordName(m)
	if !ok || name != "my/record" {
		t.Fatalf("got %q, %v", name, ok)
	}
}

func TestRecordNameMissingData(t *testing.T) {
	m := Message{Action: ActionAck, Data: []string{"US"}}
	if _, ok := RecordName(m); ok {
		t.Fatal("expected ok=false with insufficient data")
	}
}
