package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	fileExt = ".json"
	lockExt = ".lock"
)

// FileBackend stores one <key>.json file per record in a directory.
// Writes go through a temp file and rename; each key is guarded by an
// advisory file lock so separate processes never interleave writes.
type FileBackend struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the backing directory.
func (f *FileBackend) Dir() string { return f.dir }

// Path returns the file that holds key.
func (f *FileBackend) Path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

func (f *FileBackend) lock(key string) *flock.Flock {
	return flock.New(filepath.Join(f.dir, key+fileExt+lockExt))
}

// Put implements Backend.
func (f *FileBackend) Put(key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStoreClosed
	}

	lk := f.lock(key)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("lock checkpoint: %w", err)
	}
	defer lk.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path(key)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Get implements Backend.
func (f *FileBackend) Get(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	lk := f.lock(key)
	if err := lk.RLock(); err != nil {
		return nil, fmt.Errorf("lock checkpoint: %w", err)
	}
	defer lk.Unlock()

	data, err := os.ReadFile(f.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// Keys implements Backend.
func (f *FileBackend) Keys() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	return keys, nil
}

// Delete implements Backend.
func (f *FileBackend) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStoreClosed
	}

	lk := f.lock(key)
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("lock checkpoint: %w", err)
	}
	err := os.Remove(f.Path(key))
	_ = lk.Unlock()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	_ = os.Remove(lk.Path())
	return nil
}

// Close implements Backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
