package benchmarks

import (
	"context"
	"testing"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/pipeline"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/stages"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/checkpoint"
)

// BenchmarkRun_DryEpisode runs a whole dry episode, with a checkpoint after
// every node, against the in-memory store.
func BenchmarkRun_DryEpisode(b *testing.B) {
	store := checkpoint.NewStore(checkpoint.NewMemoryBackend(), checkpoint.WithLogger(discard()))
	defer store.Close()
	engine, err := pipeline.New(stages.Services{}, store, pipeline.WithLogger(discard()))
	if err != nil {
		b.Fatal(err)
	}
	cfg := episode.DefaultConfig()
	cfg.DryRun = true
	cfg.OutputDir = b.TempDir()
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Run(ctx, "Benchmark Topic", cfg); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkNew measures building an engine: stage registry, handlers, and
// graph compilation.
func BenchmarkNew(b *testing.B) {
	store := checkpoint.NewStore(checkpoint.NewMemoryBackend())
	defer store.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pipeline.New(stages.Services{}, store, pipeline.WithLogger(discard())); err != nil {
			b.Fatal(err)
		}
	}
}
