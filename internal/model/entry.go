package model

import "time"

// RawLine is a single physical line read from a watched file.
type RawLine struct {
	Text   string // line content without trailing newline
	Source string // originating file path
}

// LogEntry is one logical log record, possibly folded from several
// physical lines. Timestamp is nil when the timestamp substring could
// not be parsed; such entries carry Malformed=true instead of being
// dropped.
type LogEntry struct {
	Timestamp *time.Time        `json:"timestamp"`
	Level     string            `json:"level"`   // severity token (INFO, WARNING, ERROR, ...)
	Module    string            `json:"module"`  // originating component, e.g. myapp.worker
	Message   string            `json:"message"` // quoted message with escapes resolved
	Fields    map[string]string `json:"fields"`  // trailing key=value tokens
	Traceback string            `json:"traceback"`
	Source    string            `json:"source,omitempty"` // originating file path
	Raw       string            `json:"raw,omitempty"`    // folded original text
	Malformed bool              `json:"malformed,omitempty"`
}
