package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type captureSink struct{ events []Event }

func (c *captureSink) Record(_ context.Context, ev Event) { c.events = append(c.events, ev) }

func TestMultiStampsAndFansOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	Multi{a, nil, b}.Record(context.Background(), Event{Type: EventLogout, UserID: 3})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected one event per sink, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].Timestamp.IsZero() {
		t.Fatal("expected timestamp to be stamped")
	}
}

func TestLogSinkWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	sink.Record(context.Background(), Event{Type: EventLoginFailed, Email: "x@icc.example", IP: "10.0.0.9"})

	out := buf.String()
	for _, want := range []string{`"event":"login_failed"`, `"email":"x@icc.example"`, `"ip":"10.0.0.9"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	msg, err := encodeEvent(Event{Type: EventLoginVerified, UserID: 12, SessionID: "s", Timestamp: ts})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if string(msg.Key) != "12" {
		t.Fatalf("expected user id key, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != EventLoginVerified {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.SessionID != "s" || !decoded.Timestamp.Equal(ts) {
		t.Fatalf("unexpected payload %+v", decoded)
	}

	anon, _ := encodeEvent(Event{Type: EventLoginFailed})
	if anon.Key != nil {
		t.Fatal("anonymous events must not carry a key")
	}
}

func TestNewKafkaSinkRequiresBrokersAndTopic(t *testing.T) {
	if NewKafkaSink(nil, "t", slog.Default()) != nil {
		t.Fatal("expected nil sink without brokers")
	}
	if NewKafkaSink([]string{"localhost:9092"}, "", slog.Default()) != nil {
		t.Fatal("expected nil sink without topic")
	}
	var s *KafkaSink
	s.Record(context.Background(), Event{Type: EventLogout})
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
