package registry

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"sync"
)

// Registry is a concurrency-safe map from names to values. The engine keeps
// its nodes, retry handlers, and prompt texts in one each.
type Registry[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty registry.
func New[K cmp.Ordered, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]V)}
}

// Register sets the value for key, replacing any previous one.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// RegisterMany sets every entry of entries.
func (r *Registry[K, V]) RegisterMany(entries map[K]V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.entries, entries)
}

// Get returns the value for key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Has reports whether key is registered.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns the registered keys in ascending order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	keys := slices.Collect(maps.Keys(r.entries))
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All yields the entries in key order. It iterates over a snapshot, so the
// loop body may register new entries.
func (r *Registry[K, V]) All() iter.Seq2[K, V] {
	r.mu.RLock()
	snapshot := maps.Clone(r.entries)
	r.mu.RUnlock()

	return func(yield func(K, V) bool) {
		for _, k := range slices.Sorted(maps.Keys(snapshot)) {
			if !yield(k, snapshot[k]) {
				return
			}
		}
	}
}

// GetOrCreate returns the value for key, storing create() first if the key
// is missing. create runs at most once per key.
func (r *Registry[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := r.Get(key); ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries[key]; ok {
		return v
	}
	v := create()
	r.entries[key] = v
	return v
}
