// Package checkpoint persists workflow state for crash recovery.
//
// A Store writes each episode's latest Record through a primary Backend and
// falls back to a second backend (normally a FileBackend) when the primary
// fails. Loads consult both and return the more recent record.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Backend is a key-value medium for serialized records.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Put stores data under key, replacing any previous value.
	// The write must be visible to Get before Put returns.
	Put(key string, data []byte) error

	// Get returns the value for key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Keys lists all stored keys in no particular order.
	Keys() ([]string, error)

	// Delete removes key. Returns nil if the key doesn't exist.
	Delete(key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the backend has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidKey indicates a key that cannot be stored safely.
	ErrInvalidKey = errors.New("invalid checkpoint key")

	// ErrCorrupt indicates a record that cannot be decoded.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrRecoveryExhausted indicates a workflow used all its recovery attempts.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")

	// ErrNotRecoverable indicates a workflow in a terminal status.
	ErrNotRecoverable = errors.New("checkpoint not recoverable")
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// Store manages episode checkpoints on top of one or two backends.
type Store struct {
	primary     Backend
	fallback    Backend
	retention   time.Duration
	maxRecovery int
	now         func() time.Time
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithFallback sets the backend used when the primary fails.
func WithFallback(b Backend) Option {
	return func(s *Store) {
		s.fallback = b
	}
}

// WithRetention bounds how old a record may be and still be listed as
// recoverable. Default: 24h.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithMaxRecoveryAttempts sets the default resume limit for records that
// don't carry their own. Default: 3.
func WithMaxRecoveryAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecovery = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for fallback and corruption warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store writing through primary.
func NewStore(primary Backend, opts ...Option) *Store {
	s := &Store{
		primary:     primary,
		retention:   24 * time.Hour,
		maxRecovery: 3,
		now:         time.Now,
		logger:      slog.Default(),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the recoverable window.
func (s *Store) Retention() time.Duration { return s.retention }

// keyLock serializes writers of one episode within the process.
func (s *Store) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Save persists state and metadata for id. The write is complete when Save
// returns. If the primary backend fails the record goes to the fallback.
func (s *Store) Save(id string, state json.RawMessage, md Metadata) error {
	if err := checkKey(id); err != nil {
		return fmt.Errorf("%w: %q", err, id)
	}
	l := s.keyLock(id)
	l.Lock()
	defer l.Unlock()

	_, err := s.put(id, state, md)
	return err
}

func (s *Store) put(id string, state json.RawMessage, md Metadata) (*Record, error) {
	now := s.now().UTC()
	md.EpisodeID = id
	md.SavedAt = now
	md.Progress = clampProgress(md.Progress)
	if md.Status == "" {
		md.Status = StatusActive
	}
	if md.MaxRecoveryAttempts == 0 {
		md.MaxRecoveryAttempts = s.maxRecovery
	}

	rec := &Record{Version: Version, SavedAt: now, Metadata: md, State: state}
	data, err := rec.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	perr := s.primary.Put(id, data)
	if perr == nil {
		return rec, nil
	}
	if s.fallback == nil {
		return nil, perr
	}

	s.logger.Warn("primary checkpoint store failed, using fallback",
		slog.String("episode_id", id),
		slog.String("error", perr.Error()),
	)
	if ferr := s.fallback.Put(id, data); ferr != nil {
		return nil, errors.Join(perr, ferr)
	}
	return rec, nil
}

// Load returns the most recent record for id across both backends.
func (s *Store) Load(id string) (*Record, error) {
	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (s *Store) load(id string) (*Record, error) {
	var (
		best *Record
		errs []error
	)
	for _, b := range s.backends() {
		data, err := b.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rec, err := Unmarshal(data)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint",
				slog.String("episode_id", id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		if best == nil || rec.SavedAt.After(best.SavedAt) {
			best = rec
		}
	}
	if best == nil && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return best, nil
}

func (s *Store) backends() []Backend {
	if s.fallback == nil {
		return []Backend{s.primary}
	}
	return []Backend{s.primary, s.fallback}
}

// update applies fn to the newest record for id and saves the result.
func (s *Store) update(id string, fn func(*Record) error) (*Record, error) {
	l := s.keyLock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		if errors.Is(err, ErrRecoveryExhausted) {
			if _, perr := s.put(id, rec.State, rec.Metadata); perr != nil {
				return nil, errors.Join(err, perr)
			}
		}
		return nil, err
	}
	return s.put(id, rec.State, rec.Metadata)
}

// MarkInterrupted records that the workflow stopped before finishing.
func (s *Store) MarkInterrupted(id, reason string) error {
	_, err := s.update(id, func(r *Record) error {
		r.Metadata.Status = StatusInterrupted
		r.Metadata.Reason = reason
		r.Metadata.InterruptedAt = s.now().UTC()
		return nil
	})
	return err
}

// MarkPaused records a deliberate pause.
func (s *Store) MarkPaused(id, reason string) error {
	_, err := s.update(id, func(r *Record) error {
		r.Metadata.Status = StatusPaused
		r.Metadata.Reason = reason
		return nil
	})
	return err
}

// MarkResumed counts a recovery attempt and returns the updated record.
// A workflow that has already been resumed MaxRecoveryAttempts times is
// moved to abandoned and ErrRecoveryExhausted is returned.
func (s *Store) MarkResumed(id string) (*Record, error) {
	return s.update(id, func(r *Record) error {
		if !r.Metadata.Status.Recoverable() {
			return fmt.Errorf("%w: %s is %s", ErrNotRecoverable, id, r.Metadata.Status)
		}
		limit := r.Metadata.MaxRecoveryAttempts
		if limit <= 0 {
			limit = s.maxRecovery
		}
		if r.Metadata.RecoveryAttempts >= limit {
			r.Metadata.Status = StatusAbandoned
			r.Metadata.Reason = "recovery attempts exhausted"
			return fmt.Errorf("%w: %s after %d attempts", ErrRecoveryExhausted, id, r.Metadata.RecoveryAttempts)
		}
		r.Metadata.RecoveryAttempts++
		r.Metadata.Status = StatusActive
		r.Metadata.Reason = ""
		return nil
	})
}

// MarkCompleted records successful completion.
func (s *Store) MarkCompleted(id string) error {
	_, err := s.update(id, func(r *Record) error {
		r.Metadata.Status = StatusCompleted
		r.Metadata.Progress = 1
		return nil
	})
	return err
}

// MarkAbandoned records that the workflow will not be resumed.
func (s *Store) MarkAbandoned(id, reason string) error {
	_, err := s.update(id, func(r *Record) error {
		r.Metadata.Status = StatusAbandoned
		r.Metadata.Reason = reason
		return nil
	})
	return err
}

// ListRecoverable returns metadata for resumable workflows saved within the
// retention window, newest first.
func (s *Store) ListRecoverable() ([]Metadata, error) {
	cutoff := s.now().Add(-s.retention)
	var out []Metadata
	err := s.each(func(rec *Record) {
		md := rec.Metadata
		if !md.Status.Recoverable() {
			return
		}
		ref := rec.SavedAt
		if !md.InterruptedAt.IsZero() && md.Status == StatusInterrupted {
			ref = md.InterruptedAt
		}
		if ref.Before(cutoff) {
			return
		}
		md.SavedAt = rec.SavedAt
		out = append(out, md)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, nil
}

// List returns metadata for every stored record, newest first.
func (s *Store) List() ([]Metadata, error) {
	var out []Metadata
	err := s.each(func(rec *Record) {
		md := rec.Metadata
		md.SavedAt = rec.SavedAt
		out = append(out, md)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, err
}

// Cleanup deletes records last saved before now-olderThan from every backend
// and returns how many episodes were removed.
func (s *Store) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	var stale []string
	if err := s.each(func(rec *Record) {
		if rec.SavedAt.Before(cutoff) {
			stale = append(stale, rec.Metadata.EpisodeID)
		}
	}); err != nil {
		return 0, err
	}

	var errs []error
	for _, id := range stale {
		if err := s.Delete(id); err != nil {
			errs = append(errs, err)
		}
	}
	return len(stale) - len(errs), errors.Join(errs...)
}

// Delete removes id from every backend.
func (s *Store) Delete(id string) error {
	l := s.keyLock(id)
	l.Lock()
	defer l.Unlock()

	var errs []error
	for _, b := range s.backends() {
		if err := b.Delete(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// each visits the newest record of every episode known to any backend.
func (s *Store) each(fn func(*Record)) error {
	seen := make(map[string]bool)
	var errs []error
	for _, b := range s.backends() {
		keys, err := b.Keys()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}
	}
	if len(seen) == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}

	ids := make([]string, 0, len(seen))
	for k := range seen {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec, err := s.load(id)
		if err != nil || rec == nil {
			continue
		}
		if rec.Metadata.EpisodeID == "" {
			rec.Metadata.EpisodeID = id
		}
		fn(rec)
	}
	return nil
}

// Close closes both backends.
func (s *Store) Close() error {
	var errs []error
	for _, b := range s.backends() {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
