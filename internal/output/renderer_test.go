package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/maxiberta/talisker/internal/model"
)

func TestJSONRenderer(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewJSONRenderer(&buf)

	ts := time.Date(2021, 5, 4, 10, 0, 0, 123_000_000, time.UTC)
	entry := model.LogEntry{
		Timestamp: &ts,
		Level:     "ERROR",
		Module:    "myapp.worker",
		Message:   "job failed",
		Fields:    map[string]string{"job": "42"},
		Traceback: "Traceback (most recent call last):",
		Source:    "/var/log/app.log",
	}

	if err := renderer.Render(entry); err != nil {
		t.Fatal(err)
	}

	var got model.LogEntry
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, buf.String())
	}

	if got.Level != "ERROR" {
		t.Errorf("expected level ERROR, got %s", got.Level)
	}
	if got.Module != "myapp.worker" {
		t.Errorf("expected module myapp.worker, got %q", got.Module)
	}
	if got.Fields["job"] != "42" {
		t.Errorf("expected field job=42, got %v", got.Fields)
	}
	if got.Timestamp == nil || !got.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, got.Timestamp)
	}
}

func TestJSONRendererNullTimestamp(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewJSONRenderer(&buf)

	entry := model.LogEntry{Level: "INFO", Module: "myapp.x", Malformed: true}
	if err := renderer.Render(entry); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), `"timestamp":null`) {
		t.Errorf("expected null timestamp in output, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"fields":{}`) {
		t.Errorf("expected empty fields object in output, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"malformed":true`) {
		t.Errorf("expected malformed flag in output, got %s", buf.String())
	}
}

func TestTextRendererTraceback(t *testing.T) {
	var buf bytes.Buffer
	renderer := &TextRenderer{w: &buf}

	ts := time.Date(2021, 5, 4, 10, 0, 0, 0, time.UTC)
	entry := model.LogEntry{
		Timestamp: &ts,
		Level:     "ERROR",
		Module:    "myapp.worker",
		Message:   "boom",
		Traceback: "line one\nline two",
	}

	if err := renderer.Render(entry); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "boom") {
		t.Errorf("expected message in output, got %q", out)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 output lines (header + 2 traceback), got %d: %q", len(lines), out)
	}
}

func TestFormatFieldsSorted(t *testing.T) {
	got := formatFields(map[string]string{"b": "2", "a": "1", "c": "two words"})
	want := `a=1 b=2 c="two words"`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
