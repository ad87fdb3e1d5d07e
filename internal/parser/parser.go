package parser

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/maxiberta/talisker/internal/model"
)

// timestampLayout is the only accepted timestamp format. Lines whose
// prefix has the right shape but fails this layout are still treated
// as entry starts and emitted malformed.
const timestampLayout = "2006-01-02 15:04:05.000-0700"

// entryStartRe matches the timestamp shape that marks the beginning of
// a new log entry. Validation is deliberately looser than
// timestampLayout; strictness is applied by time.Parse afterwards.
var entryStartRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{4})`)

// Stats is a point-in-time snapshot of parse diagnostics.
type Stats struct {
	Entries                 int64 `json:"entries"`
	Malformed               int64 `json:"malformed"`
	UnattachedContinuations int64 `json:"unattached_continuations"`
	StructuralMismatches    int64 `json:"structural_mismatches"`
	TimestampFailures       int64 `json:"timestamp_failures"`
	MalformedFieldTokens    int64 `json:"malformed_field_tokens"`
}

// Parser folds physical lines into talisker-format log entries.
//
// A line starting with a timestamp opens a new entry; every other line
// is appended to the entry currently being accumulated. The entry is
// extracted and emitted when the next entry-start line arrives or the
// input ends. A Parser is not safe for concurrent Feed calls; Snapshot
// may be called from other goroutines.
type Parser struct {
	active bool
	start  model.RawLine
	tail   []string

	mu    sync.Mutex
	stats Stats
}

func New() *Parser { return &Parser{} }

// IsEntryStart reports whether line begins a new log entry.
func IsEntryStart(line string) bool {
	return entryStartRe.MatchString(line)
}

// Feed consumes one line. When the line closes a previously
// accumulated entry, that entry is returned with ok=true.
func (p *Parser) Feed(line model.RawLine) (entry model.LogEntry, ok bool) {
	if IsEntryStart(line.Text) {
		if p.active {
			entry, ok = p.build(), true
		}
		p.active = true
		p.start = line
		p.tail = p.tail[:0]
		return entry, ok
	}

	if !p.active {
		// Continuation with no entry to attach to.
		p.mu.Lock()
		p.stats.UnattachedContinuations++
		p.mu.Unlock()
		return model.LogEntry{}, false
	}

	p.tail = append(p.tail, line.Text)
	return model.LogEntry{}, false
}

// Flush closes and returns the in-progress entry, if any. Called at
// end of input.
func (p *Parser) Flush() (model.LogEntry, bool) {
	if !p.active {
		return model.LogEntry{}, false
	}
	entry := p.build()
	p.active = false
	p.tail = nil
	return entry, true
}

// Discard drops the in-progress entry without emitting it.
func (p *Parser) Discard() {
	p.active = false
	p.tail = nil
}

// Snapshot returns the current diagnostic counters.
func (p *Parser) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run reads lines from in and emits completed entries, preserving
// input order. The output channel is closed when in closes (after
// flushing the trailing entry) or when ctx is cancelled (the partial
// entry is discarded).
func (p *Parser) Run(ctx context.Context, in <-chan model.RawLine) <-chan model.LogEntry {
	out := make(chan model.LogEntry, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				p.Discard()
				return
			case line, ok := <-in:
				if !ok {
					if entry, ok := p.Flush(); ok {
						select {
						case out <- entry:
						case <-ctx.Done():
						}
					}
					return
				}
				if entry, done := p.Feed(line); done {
					select {
					case out <- entry:
					case <-ctx.Done():
						p.Discard()
						return
					}
				}
			}
		}
	}()
	return out
}

// ParseLines parses a finite slice of lines, returning all completed
// entries in input order.
func (p *Parser) ParseLines(lines []string, source string) []model.LogEntry {
	var entries []model.LogEntry
	for _, line := range lines {
		if entry, ok := p.Feed(model.RawLine{Text: line, Source: source}); ok {
			entries = append(entries, entry)
		}
	}
	if entry, ok := p.Flush(); ok {
		entries = append(entries, entry)
	}
	return entries
}

// build extracts a LogEntry from the accumulated start line and tail.
// Grammar: <timestamp> <level> <module> "<message>"[ <logfmt>], with
// any continuation lines forming the traceback. Extraction failures
// mark the entry malformed instead of dropping it.
func (p *Parser) build() model.LogEntry {
	raw := p.start.Text
	if len(p.tail) > 0 {
		raw += "\n" + strings.Join(p.tail, "\n")
	}

	entry := model.LogEntry{
		Fields:    map[string]string{},
		Traceback: strings.Join(p.tail, "\n"),
		Source:    p.start.Source,
		Raw:       raw,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Entries++

	tsText := entryStartRe.FindString(p.start.Text)
	if t, err := time.Parse(timestampLayout, tsText); err == nil {
		entry.Timestamp = &t
	} else {
		p.stats.TimestampFailures++
		entry.Malformed = true
	}

	rest := strings.TrimPrefix(p.start.Text[len(tsText):], " ")
	if !p.extractHeader(rest, &entry) {
		p.stats.StructuralMismatches++
		entry.Malformed = true
	}

	if entry.Malformed {
		p.stats.Malformed++
	}
	return entry
}

// extractHeader parses `<level> <module> "<message>"[ <logfmt>]` from
// the portion of the start line following the timestamp. Returns false
// on a structural mismatch; whatever was recoverable is still set.
func (p *Parser) extractHeader(rest string, entry *model.LogEntry) bool {
	quote := strings.IndexByte(rest, '"')
	if quote < 0 {
		// No quoted message at all. Recover level/module if present.
		tokens := strings.Fields(rest)
		if len(tokens) > 0 {
			entry.Level = tokens[0]
		}
		if len(tokens) > 1 {
			entry.Module = tokens[1]
		}
		return false
	}

	pre := strings.Fields(rest[:quote])
	ok := len(pre) == 2
	if len(pre) > 0 {
		entry.Level = pre[0]
	}
	if len(pre) > 1 {
		entry.Module = pre[1]
	}

	msg, after, terminated := scanQuoted(rest[quote:])
	if !terminated {
		// Unterminated message: leave it unset, keep the raw text.
		return false
	}
	entry.Message = msg

	// At most one whitespace separates the closing quote from the
	// logfmt segment.
	after = strings.TrimPrefix(after, " ")
	for _, token := range splitOutsideQuotes(after) {
		key, value, found := strings.Cut(token, "=")
		if !found || key == "" {
			p.stats.MalformedFieldTokens++
			continue
		}
		entry.Fields[key] = unquote(value)
	}
	return ok
}

// scanQuoted reads a double-quoted string starting at s[0] == '"',
// resolving \" and \\ escapes. Returns the unescaped content, the
// remainder after the closing quote, and whether the quote was
// terminated.
func scanQuoted(s string) (content, remainder string, terminated bool) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
				b.WriteByte(s[i+1])
				i++
				continue
			}
			b.WriteByte(c)
		case '"':
			return b.String(), s[i+1:], true
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), "", false
}

// splitOutsideQuotes splits s on whitespace, keeping double-quoted
// runs (which may contain spaces) inside a single token.
func splitOutsideQuotes(s string) []string {
	var tokens []string
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(s):
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
		case c == '"':
			inQuote = !inQuote
			b.WriteByte(c)
		case (c == ' ' || c == '\t') && !inQuote:
			if b.Len() > 0 {
				tokens = append(tokens, b.String())
				b.Reset()
			}
		default:
			b.WriteByte(c)
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// unquote strips surrounding double quotes from a logfmt value and
// resolves \" and \\ escapes. Unquoted values pass through unchanged.
func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	inner := s[1 : len(s)-1]
	if !strings.ContainsRune(inner, '\\') {
		return inner
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) && (inner[i+1] == '"' || inner[i+1] == '\\') {
			b.WriteByte(inner[i+1])
			i++
			continue
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}
