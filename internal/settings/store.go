package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/checkpoint"
)

// OpenStore opens the configured checkpoint store. The sqlite and badger
// backends get a file backend under CheckpointDir/fallback to fall back on.
func (s Settings) OpenStore(logger *slog.Logger) (*checkpoint.Store, error) {
	opts := []checkpoint.Option{
		checkpoint.WithRetention(s.CheckpointRetention),
		checkpoint.WithMaxRecoveryAttempts(s.MaxRecoveryAttempts),
		checkpoint.WithLogger(logger),
	}

	var primary checkpoint.Backend
	switch s.CheckpointBackend {
	case BackendMemory:
		primary = checkpoint.NewMemoryBackend()
	case BackendFile:
		fb, err := checkpoint.NewFileBackend(s.CheckpointDir)
		if err != nil {
			return nil, fmt.Errorf("open file checkpoints: %w", err)
		}
		primary = fb
	case BackendSQLite, BackendBadger:
		if err := os.MkdirAll(s.CheckpointDir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
		fallback, err := checkpoint.NewFileBackend(filepath.Join(s.CheckpointDir, "fallback"))
		if err != nil {
			return nil, fmt.Errorf("open fallback checkpoints: %w", err)
		}
		if s.CheckpointBackend == BackendSQLite {
			primary, err = checkpoint.NewSQLiteBackend(s.CheckpointPath())
		} else {
			primary, err = checkpoint.NewBadgerBackend(s.CheckpointPath())
		}
		if err != nil {
			_ = fallback.Close()
			return nil, fmt.Errorf("open %s checkpoints: %w", s.CheckpointBackend, err)
		}
		opts = append(opts, checkpoint.WithFallback(fallback))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", s.CheckpointBackend)
	}

	return checkpoint.NewStore(primary, opts...), nil
}
