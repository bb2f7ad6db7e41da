package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "device_id", "d1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["msg"] != "kept" || entry["device_id"] != "d1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestForDeviceAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := ForDevice(newWithWriter(&buf, "bogus", "text"), "device-9")
	logger.Info("hello")
	if !strings.Contains(buf.String(), "device_id=device-9") {
		t.Fatalf("expected device attribute, got %q", buf.String())
	}
}
