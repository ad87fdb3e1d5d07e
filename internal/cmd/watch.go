package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/maxiberta/talisker/internal/hub"
	"github.com/maxiberta/talisker/internal/model"
	"github.com/maxiberta/talisker/internal/output"
	"github.com/maxiberta/talisker/internal/parser"
	"github.com/maxiberta/talisker/internal/tailer"
	"github.com/maxiberta/talisker/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var malformedOnly bool

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Watch log files and stream structured entries",
	Long: `Watch one or more log files (or glob patterns), fold multi-line
entries, and stream structured records to the terminal in real time.

Examples:
  talisker watch /var/log/app.log
  talisker watch "/var/log/**/*.log"
  talisker watch app.log worker.log --output json
  talisker watch app.log --malformed-only`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&malformedOnly, "malformed-only", false, "show only entries that failed extraction")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ntalisker shutting down...")
		cancel()
	}()

	w, err := watcher.New(args)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watchedPaths := w.Paths()
	if len(watchedPaths) == 0 {
		return fmt.Errorf("no files matched the given patterns: %v", args)
	}

	fmt.Fprintf(os.Stderr, "talisker watching %d file(s):\n", len(watchedPaths))
	for _, p := range watchedPaths {
		fmt.Fprintf(os.Stderr, "   %s\n", p)
	}
	fmt.Fprintln(os.Stderr)

	ckpt, err := tailer.NewCheckpoint(filepath.Join(".", ".talisker-state.json"))
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	t := tailer.New(w, ckpt)
	h := hub.New(t.Lines(), parser.New())
	entries := h.Subscribe()

	renderer := pickRenderer()
	levelSet := activeLevelFilter()

	go w.Start(ctx)
	go t.Start(ctx)
	go h.Start(ctx)

	for entry := range entries {
		if shouldShow(entry, levelSet) {
			if err := renderer.Render(entry); err != nil {
				log.Printf("render error: %v", err)
			}
		}
	}

	return nil
}

// pickRenderer selects the renderer from the bound output setting
// (flag, config file, or environment).
func pickRenderer() output.Renderer {
	switch strings.ToLower(viper.GetString("output")) {
	case "json":
		return output.NewJSONRenderer(os.Stdout)
	default:
		return output.NewTextRenderer()
	}
}

// activeLevelFilter builds the severity filter set from the bound
// level setting, a comma-separated list.
func activeLevelFilter() map[string]bool {
	levelSet := make(map[string]bool)
	if filter := viper.GetString("level"); filter != "" {
		for _, l := range strings.Split(filter, ",") {
			levelSet[strings.ToUpper(strings.TrimSpace(l))] = true
		}
	}
	return levelSet
}

// shouldShow returns true if the entry passes the active filters.
func shouldShow(entry model.LogEntry, levelSet map[string]bool) bool {
	if malformedOnly && !entry.Malformed {
		return false
	}
	if len(levelSet) == 0 {
		return true // no filter = show all
	}
	return levelSet[entry.Level]
}
