package stages

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/sanitize"
)

// ArtifactPath returns where an episode artifact with the given suffix is
// written, e.g. ArtifactPath("output", "ep_1", "script.md").
func ArtifactPath(dir, episodeID, suffix string) string {
	return filepath.Join(dir, sanitize.Filename(episodeID+"_"+suffix))
}

// WriteArtifact replaces path with data through a temp file in the same
// directory, creating the directory if needed.
func WriteArtifact(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
