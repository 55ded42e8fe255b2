package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterTagsComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "info")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	ForComponent(logger, "dedup").Info().Int("events", 3).Msg("clustered")
	logger.Debug().Msg("suppressed")

	var event map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event); err != nil {
		t.Fatalf("expected exactly one JSON event, got %q: %v", buf.String(), err)
	}
	if event["service"] != serviceName || event["component"] != "dedup" || event["events"] != float64(3) {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("production", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewWithWriter(&bytes.Buffer{}, "local", ""); err != nil {
		t.Fatalf("empty level should default to info, got %v", err)
	}
}
