package hub

import (
	"context"
	"testing"

	"github.com/maxiberta/talisker/internal/model"
	"github.com/maxiberta/talisker/internal/parser"
)

// BenchmarkHubBroadcast measures fold-and-broadcast throughput with a
// draining subscriber.
func BenchmarkHubBroadcast(b *testing.B) {
	input := make(chan model.RawLine, 1024)
	h := New(input, parser.New())

	sub := h.Subscribe()
	go func() {
		for range sub {
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Start(ctx)

	line := model.RawLine{Text: `2021-05-04 10:00:00.123+0000 INFO myapp.api "request done" dur=5`, Source: "bench.log"}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		input <- line
	}
}
