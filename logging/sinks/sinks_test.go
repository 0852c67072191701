package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"avatar-sync/server/logging"
)

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func sampleEvent() logging.Event {
	return logging.Event{
		Type:     "network.command_rejected",
		Tick:     12,
		Time:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Actor:    logging.EntityRef{ID: "player-3", Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  map[string]any{"reason": "stale"},
		TraceID:  "abc",
	}
}

func TestJSONWritesOneLinePerEvent(t *testing.T) {
	out := &closeRecorder{}
	sink := NewJSON(out, 0)
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !out.closed {
		t.Fatalf("expected underlying writer closed")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", out.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["severity"] != "warn" || decoded["traceId"] != "abc" || decoded["category"] != "network" {
		t.Fatalf("unexpected encoding %v", decoded)
	}
}

func TestConsoleFormatsEvent(t *testing.T) {
	var out bytes.Buffer
	sink := NewConsoleSink(&out, logging.ConsoleConfig{})
	sink.Write(sampleEvent())
	line := out.String()
	for _, want := range []string{"[network.command_rejected]", "tick=12", "actor=player:player-3", "severity=warn", "trace=abc", `payload={"reason":"stale"}`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestMemorySinkFiltersByType(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(sampleEvent())
	sink.Write(logging.Event{Type: "player.joined"})
	if got := sink.OfType("player.joined"); len(got) != 1 {
		t.Fatalf("expected one joined event, got %d", len(got))
	}
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatalf("expected reset to clear events")
	}
}
