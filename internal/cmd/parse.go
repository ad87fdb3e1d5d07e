package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/maxiberta/talisker/internal/model"
	"github.com/maxiberta/talisker/internal/parser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var strictParse bool

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a log file (or stdin) into structured entries",
	Long: `Parse a finite talisker-format log file into structured entries,
one JSON object per line by default. Reads stdin when no file is given.

Examples:
  talisker parse app.log
  cat app.log | talisker parse --output text
  talisker parse app.log --strict`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&strictParse, "strict", false, "exit with an error when any entry is malformed")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	source := "stdin"
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
		source = args[0]
	}

	// JSON lines is the natural default for a finite parse.
	if !cmd.Flags().Changed("output") && viper.GetString("output") == "text" {
		viper.Set("output", "json")
	}
	renderer := pickRenderer()
	levelSet := activeLevelFilter()

	p := parser.New()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	emit := func(entry model.LogEntry) {
		if !shouldShow(entry, levelSet) {
			return
		}
		if err := renderer.Render(entry); err != nil {
			log.Printf("render error: %v", err)
		}
	}

	for scanner.Scan() {
		if entry, ok := p.Feed(model.RawLine{Text: scanner.Text(), Source: source}); ok {
			emit(entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}
	if entry, ok := p.Flush(); ok {
		emit(entry)
	}

	stats := p.Snapshot()
	fmt.Fprintf(os.Stderr, "parsed %d entries (%d malformed, %d unattached continuations)\n",
		stats.Entries, stats.Malformed, stats.UnattachedContinuations)

	if strictParse && (stats.Malformed > 0 || stats.UnattachedContinuations > 0) {
		return fmt.Errorf("input contained %d malformed entries and %d unattached continuations",
			stats.Malformed, stats.UnattachedContinuations)
	}
	return nil
}
