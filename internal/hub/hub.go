package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/maxiberta/talisker/internal/model"
	"github.com/maxiberta/talisker/internal/parser"
)

const subscriberBuffer = 1024

// Hub folds raw lines into log entries and broadcasts each completed
// entry to all subscribers. The parser is owned by the Hub so that
// multi-line assembly happens exactly once, upstream of every consumer.
type Hub struct {
	parser      *parser.Parser
	input       <-chan model.RawLine
	mu          sync.RWMutex
	subscribers []chan model.LogEntry
	dropped     atomic.Int64
}

// New creates a Hub reading raw lines from input.
func New(input <-chan model.RawLine, p *parser.Parser) *Hub {
	return &Hub{
		parser: p,
		input:  input,
	}
}

// Subscribe returns a buffered channel that will receive every
// completed entry. Multiple consumers can subscribe; each gets a copy.
func (h *Hub) Subscribe() <-chan model.LogEntry {
	ch := make(chan model.LogEntry, subscriberBuffer)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()
	return ch
}

// Dropped returns the total number of entries dropped due to slow consumers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Stats returns the parser's diagnostic counters.
func (h *Hub) Stats() parser.Stats {
	return h.parser.Snapshot()
}

// Start consumes raw lines, assembles entries, and broadcasts them.
// Blocks until the context is cancelled or the input channel closes;
// a trailing entry at input close is still flushed to subscribers.
func (h *Hub) Start(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.parser.Discard()
			return
		case raw, ok := <-h.input:
			if !ok {
				if entry, ok := h.parser.Flush(); ok {
					h.broadcast(entry)
				}
				return
			}
			if entry, done := h.parser.Feed(raw); done {
				h.broadcast(entry)
			}
		}
	}
}

// broadcast sends an entry to all subscribers. A subscriber with a
// full channel misses the entry; the drop is counted.
func (h *Hub) broadcast(entry model.LogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- entry:
		default:
			n := h.dropped.Add(1)
			log.Printf("hub: dropped entry for slow consumer (total dropped: %d)", n)
		}
	}
}

// closeAll closes all subscriber channels.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
