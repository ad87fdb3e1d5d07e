package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxiberta/talisker/internal/watcher"
)

func TestTailNewLines(t *testing.T) {
	// Create a temp log file with some pre-existing content.
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, []byte("2021-05-04 09:00:00.000+0000 INFO myapp.boot \"started\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := watcher.New([]string{logPath})
	if err != nil {
		t.Fatal(err)
	}

	ckpt, err := NewCheckpoint(filepath.Join(dir, ".talisker-state.json"))
	if err != nil {
		t.Fatal(err)
	}

	tail := New(w, ckpt)

	ctx, cancel := context.WithCancel(context.Background())

	go w.Start(ctx)
	go tail.Start(ctx)

	// Give the tailer a moment to initialize and seek to end.
	time.Sleep(300 * time.Millisecond)

	// Append a new line — this should be picked up.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	appended := `2021-05-04 10:00:00.123+0000 ERROR myapp.worker "job failed"`
	_, _ = f.WriteString(appended + "\n")
	f.Close()

	select {
	case raw := <-tail.Lines():
		if raw.Text != appended {
			t.Errorf("expected %q, got %q", appended, raw.Text)
		}
		if raw.Source != logPath {
			t.Errorf("expected source %q, got %q", logPath, raw.Source)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for appended line")
	}

	// Cancel and allow goroutines to stop before TempDir cleanup.
	cancel()
	time.Sleep(200 * time.Millisecond)
}

func TestTailerSavesCheckpointOnCancel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	content := []byte("2021-05-04 09:00:00.000+0000 INFO myapp.boot \"started\"\n")
	if err := os.WriteFile(logPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	w, err := watcher.New([]string{logPath})
	if err != nil {
		t.Fatal(err)
	}

	ckptPath := filepath.Join(dir, ".talisker-state.json")
	ckpt, err := NewCheckpoint(ckptPath)
	if err != nil {
		t.Fatal(err)
	}

	tail := New(w, ckpt)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)

	tailDone := make(chan struct{})
	go func() {
		tail.Start(ctx)
		close(tailDone)
	}()

	// Let the tailer open the file and seek to end.
	time.Sleep(300 * time.Millisecond)

	// Cancellation must persist offsets before returning, without
	// waiting for the periodic save ticker.
	cancel()
	select {
	case <-tailDone:
	case <-time.After(3 * time.Second):
		t.Fatal("tailer did not stop after context cancellation")
	}

	reloaded, err := NewCheckpoint(ckptPath)
	if err != nil {
		t.Fatal(err)
	}
	// Initial open seeks to end of file, so that offset must be saved.
	abs := w.Paths()[0]
	if off, ok := reloaded.Get(abs); !ok || off != int64(len(content)) {
		t.Errorf("expected saved offset %d for %s, got %d (found=%v)", len(content), abs, off, ok)
	}
}

func TestCheckpointSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ckpt.json")

	c1, err := NewCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	c1.Set("/var/log/app.log", 42)
	c1.Set("/var/log/err.log", 1024)
	if err := c1.Save(); err != nil {
		t.Fatal(err)
	}

	c2, err := NewCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}

	v1, ok := c2.Get("/var/log/app.log")
	if !ok || v1 != 42 {
		t.Errorf("expected 42, got %d (found=%v)", v1, ok)
	}

	v2, ok := c2.Get("/var/log/err.log")
	if !ok || v2 != 1024 {
		t.Errorf("expected 1024, got %d (found=%v)", v2, ok)
	}

	if _, ok := c2.Get("/nonexistent"); ok {
		t.Error("expected missing key to return false")
	}
}

func TestCheckpointCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ckpt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCheckpoint(path); err == nil {
		t.Error("expected error for corrupt checkpoint file")
	}
}
