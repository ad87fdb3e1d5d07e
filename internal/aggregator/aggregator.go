package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/maxiberta/talisker/internal/model"
	"github.com/maxiberta/talisker/internal/parser"
)

const epsWindow = 5 * time.Second

// Stats holds a point-in-time snapshot of aggregated metrics.
type Stats struct {
	Uptime       string           `json:"uptime"`
	TotalEntries int64            `json:"total_entries"`
	EPS          float64          `json:"eps"`
	LevelCounts  map[string]int64 `json:"level_counts"`
	ModuleCounts map[string]int64 `json:"module_counts"`
	Malformed    int64            `json:"malformed"`
	Parse        parser.Stats     `json:"parse"`
	DroppedLogs  int64            `json:"dropped_logs"`
	FilesWatched int              `json:"files_watched"`
}

// Aggregator subscribes to the Hub and computes time-windowed metrics.
type Aggregator struct {
	mu           sync.RWMutex
	startTime    time.Time
	totalEntries int64
	malformed    int64
	levelCounts  map[string]int64
	moduleCounts map[string]int64
	window       []time.Time // completion times for EPS calculation
	dropped      func() int64
	fileCount    func() int
	parseStats   func() parser.Stats
	entries      <-chan model.LogEntry
}

// New creates an Aggregator reading from a Hub subscriber channel.
// droppedFn, fileCountFn and parseStatsFn provide live values from the
// Hub, Watcher and parser respectively.
func New(entries <-chan model.LogEntry, droppedFn func() int64, fileCountFn func() int, parseStatsFn func() parser.Stats) *Aggregator {
	return &Aggregator{
		startTime:    time.Now(),
		levelCounts:  make(map[string]int64),
		moduleCounts: make(map[string]int64),
		dropped:      droppedFn,
		fileCount:    fileCountFn,
		parseStats:   parseStatsFn,
		entries:      entries,
	}
}

// Snapshot returns the current metrics.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	levels := make(map[string]int64, len(a.levelCounts))
	for k, v := range a.levelCounts {
		levels[k] = v
	}
	modules := make(map[string]int64, len(a.moduleCounts))
	for k, v := range a.moduleCounts {
		modules[k] = v
	}

	cutoff := time.Now().Add(-epsWindow)
	var recent int
	for _, t := range a.window {
		if t.After(cutoff) {
			recent++
		}
	}

	return Stats{
		Uptime:       time.Since(a.startTime).Truncate(time.Second).String(),
		TotalEntries: a.totalEntries,
		EPS:          float64(recent) / epsWindow.Seconds(),
		LevelCounts:  levels,
		ModuleCounts: modules,
		Malformed:    a.malformed,
		Parse:        a.parseStats(),
		DroppedLogs:  a.dropped(),
		FilesWatched: a.fileCount(),
	}
}

// Start consumes entries and updates metrics. Blocks until the context
// is cancelled or the entry channel closes.
func (a *Aggregator) Start(ctx context.Context) {
	// Periodically prune the sliding window.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-a.entries:
			if !ok {
				return
			}
			a.record(entry)
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Aggregator) record(entry model.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalEntries++
	if entry.Level != "" {
		a.levelCounts[entry.Level]++
	}
	if entry.Module != "" {
		a.moduleCounts[entry.Module]++
	}
	if entry.Malformed {
		a.malformed++
	}
	a.window = append(a.window, time.Now())
}

// prune removes window samples older than the EPS window.
func (a *Aggregator) prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-epsWindow)
	i := 0
	for _, t := range a.window {
		if t.After(cutoff) {
			a.window[i] = t
			i++
		}
	}
	a.window = a.window[:i]
}
