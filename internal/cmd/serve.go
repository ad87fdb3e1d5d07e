package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/maxiberta/talisker/internal/aggregator"
	"github.com/maxiberta/talisker/internal/hub"
	"github.com/maxiberta/talisker/internal/parser"
	"github.com/maxiberta/talisker/internal/server"
	"github.com/maxiberta/talisker/internal/tailer"
	"github.com/maxiberta/talisker/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve [paths...]",
	Short: "Watch log files and serve the live web dashboard",
	Long: `Watch one or more log files (or glob patterns) and serve a live
web dashboard with a streaming entry view and parse statistics.

Examples:
  talisker serve /var/log/app.log
  talisker serve "/var/log/**/*.log" --port 9000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "8080", "dashboard listen port")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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
	if len(w.Paths()) == 0 {
		return fmt.Errorf("no files matched the given patterns: %v", args)
	}

	ckpt, err := tailer.NewCheckpoint(filepath.Join(".", ".talisker-state.json"))
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	t := tailer.New(w, ckpt)
	p := parser.New()
	h := hub.New(t.Lines(), p)
	agg := aggregator.New(h.Subscribe(), h.Dropped, w.FileCount, p.Snapshot)

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){w.Start, t.Start, h.Start, agg.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}

	port := viper.GetString("port")
	fmt.Fprintf(os.Stderr, "talisker dashboard on http://localhost:%s (watching %d files)\n", port, w.FileCount())

	srv := server.New(h, agg, port)
	err = srv.Start(ctx)

	// Let the pipeline drain: the tailer saves its checkpoint and
	// closes file handles on cancellation.
	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}
