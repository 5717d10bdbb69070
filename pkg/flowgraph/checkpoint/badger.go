package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "checkpoints/"

// BadgerBackend persists records in an embedded BadgerDB.
type BadgerBackend struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
	stopCh chan struct{}
	doneCh chan struct{}
}

var _ Backend = (*BadgerBackend)(nil)

// NewBadgerBackend opens a database in dir.
func NewBadgerBackend(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.ValueLogFileSize = 16 << 20
	return OpenBadgerBackend(opts)
}

// NewInMemoryBadgerBackend opens a database that is never written to disk.
func NewInMemoryBadgerBackend() (*BadgerBackend, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return OpenBadgerBackend(opts)
}

// OpenBadgerBackend opens a database with caller-supplied options.
func OpenBadgerBackend(opts badger.Options) (*BadgerBackend, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b := &BadgerBackend{
		db:     db,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if opts.InMemory {
		close(b.doneCh)
	} else {
		go b.runGC(5 * time.Minute)
	}
	return b, nil
}

// runGC reclaims value-log space until stopped.
func (b *BadgerBackend) runGC(every time.Duration) {
	defer close(b.doneCh)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			for b.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func badgerKey(key string) []byte {
	return []byte(badgerPrefix + key)
}

// Put implements Backend.
func (b *BadgerBackend) Put(key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Get implements Backend.
func (b *BadgerBackend) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// Keys implements Backend.
func (b *BadgerBackend) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrStoreClosed
	}

	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			keys = append(keys, k[len(badgerPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return keys, nil
}

// Delete implements Backend.
func (b *BadgerBackend) Delete(key string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close stops garbage collection and closes the database.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.stopCh)
	<-b.doneCh
	return b.db.Close()
}
