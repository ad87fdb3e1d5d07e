package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/maxiberta/talisker/internal/model"
	"github.com/maxiberta/talisker/internal/parser"
)

func newTestAggregator(ch chan model.LogEntry, files int) *Aggregator {
	return New(ch,
		func() int64 { return 0 },
		func() int { return files },
		func() parser.Stats { return parser.Stats{} },
	)
}

func TestEPSCalculation(t *testing.T) {
	ch := make(chan model.LogEntry, 100)
	agg := newTestAggregator(ch, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agg.Start(ctx)

	// Send 10 entries quickly.
	for i := 0; i < 10; i++ {
		ch <- model.LogEntry{Level: "INFO", Message: "test"}
	}

	// Wait for processing.
	time.Sleep(200 * time.Millisecond)

	stats := agg.Snapshot()
	if stats.TotalEntries != 10 {
		t.Errorf("expected 10 total entries, got %d", stats.TotalEntries)
	}
	if stats.EPS <= 0 {
		t.Errorf("expected positive EPS, got %f", stats.EPS)
	}
	if stats.FilesWatched != 2 {
		t.Errorf("expected 2 files watched, got %d", stats.FilesWatched)
	}

	cancel()
}

func TestLevelAndModuleCounts(t *testing.T) {
	ch := make(chan model.LogEntry, 100)
	agg := newTestAggregator(ch, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agg.Start(ctx)

	ch <- model.LogEntry{Level: "INFO", Module: "myapp.api"}
	ch <- model.LogEntry{Level: "INFO", Module: "myapp.api"}
	ch <- model.LogEntry{Level: "ERROR", Module: "myapp.worker"}
	ch <- model.LogEntry{Level: "WARNING", Module: "myapp.worker"}
	ch <- model.LogEntry{Level: "ERROR", Module: "myapp.api", Malformed: true}

	time.Sleep(200 * time.Millisecond)

	stats := agg.Snapshot()
	if stats.LevelCounts["INFO"] != 2 {
		t.Errorf("expected 2 INFO, got %d", stats.LevelCounts["INFO"])
	}
	if stats.LevelCounts["ERROR"] != 2 {
		t.Errorf("expected 2 ERROR, got %d", stats.LevelCounts["ERROR"])
	}
	if stats.LevelCounts["WARNING"] != 1 {
		t.Errorf("expected 1 WARNING, got %d", stats.LevelCounts["WARNING"])
	}
	if stats.ModuleCounts["myapp.api"] != 3 {
		t.Errorf("expected 3 myapp.api, got %d", stats.ModuleCounts["myapp.api"])
	}
	if stats.Malformed != 1 {
		t.Errorf("expected 1 malformed, got %d", stats.Malformed)
	}

	cancel()
}

func TestParseStatsPassthrough(t *testing.T) {
	ch := make(chan model.LogEntry, 1)
	agg := New(ch,
		func() int64 { return 7 },
		func() int { return 0 },
		func() parser.Stats { return parser.Stats{UnattachedContinuations: 3} },
	)

	stats := agg.Snapshot()
	if stats.DroppedLogs != 7 {
		t.Errorf("expected 7 dropped, got %d", stats.DroppedLogs)
	}
	if stats.Parse.UnattachedContinuations != 3 {
		t.Errorf("expected 3 unattached continuations, got %d", stats.Parse.UnattachedContinuations)
	}
}
