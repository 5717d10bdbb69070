package checkpoint

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances by one second on every call.
type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

// flakyBackend fails writes while failPut is set.
type flakyBackend struct {
	*MemoryBackend
	failPut bool
}

func (f *flakyBackend) Put(key string, data []byte) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Put(key, data)
}

var testState = json.RawMessage(`{"episode_id":"ep_1","topic":"Ocean Currents"}`)

func newTestStore(t *testing.T, opts ...Option) (*Store, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewStore(NewMemoryBackend(), opts...), clock
}

func TestStore_SaveLoad(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Save("ep_1", testState, Metadata{CurrentStage: "planning", Progress: 1.7, CostSoFar: 1.25})
	require.NoError(t, err)

	rec, err := s.Load("ep_1")
	require.NoError(t, err)
	assert.Equal(t, Version, rec.Version)
	assert.Equal(t, "ep_1", rec.Metadata.EpisodeID)
	assert.Equal(t, StatusActive, rec.Metadata.Status)
	assert.Equal(t, 1.0, rec.Metadata.Progress, "progress is clamped to [0,1]")
	assert.Equal(t, 3, rec.Metadata.MaxRecoveryAttempts)
	assert.JSONEq(t, string(testState), string(rec.State))

	_, err = s.Load("ep_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordFormat(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := NewStore(fb)

	require.NoError(t, s.Save("ep_1", testState, Metadata{CurrentStage: "writing"}))

	rec, err := fb.Get("ep_1")
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec, &raw))
	assert.Contains(t, raw, "saved_at")
	assert.Contains(t, raw, "metadata")
	assert.Contains(t, raw, "state")

	var md map[string]any
	require.NoError(t, json.Unmarshal(raw["metadata"], &md))
	assert.Equal(t, "active", md["state"])
	assert.Equal(t, "writing", md["current_stage"])
	assert.FileExists(t, filepath.Join(dir, "ep_1.json"))
}

func TestStore_FallbackOnPrimaryFailure(t *testing.T) {
	primary := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	fallback := NewMemoryBackend()
	s, _ := newTestStore(t)
	s.primary = primary
	s.fallback = fallback

	require.NoError(t, s.Save("ep_1", testState, Metadata{CurrentStage: "research_discovery"}))

	primary.failPut = true
	require.NoError(t, s.Save("ep_1", testState, Metadata{CurrentStage: "planning"}))

	_, err := fallback.Get("ep_1")
	require.NoError(t, err, "fallback must receive the write")

	rec, err := s.Load("ep_1")
	require.NoError(t, err)
	assert.Equal(t, "planning", rec.Metadata.CurrentStage, "load returns the newer record")

	primary.failPut = false
	require.NoError(t, s.Save("ep_1", testState, Metadata{CurrentStage: "writing"}))
	rec, err = s.Load("ep_1")
	require.NoError(t, err)
	assert.Equal(t, "writing", rec.Metadata.CurrentStage)
}

func TestStore_BothBackendsFail(t *testing.T) {
	primary := &flakyBackend{MemoryBackend: NewMemoryBackend(), failPut: true}
	fallback := &flakyBackend{MemoryBackend: NewMemoryBackend(), failPut: true}
	s := NewStore(primary, WithFallback(fallback))

	err := s.Save("ep_1", testState, Metadata{})
	assert.Error(t, err)
}

func TestStore_CorruptRecordIsSkipped(t *testing.T) {
	primary := NewMemoryBackend()
	fallback := NewMemoryBackend()
	s, _ := newTestStore(t, WithFallback(fallback))
	s.primary = primary

	require.NoError(t, fallback.Put("ep_1", []byte(`{"version":1,"saved_at":"2025-01-01T00:00:00Z","metadata":{},"state":{"x":1}}`)))
	require.NoError(t, primary.Put("ep_1", []byte(`{not json`)))

	rec, err := s.Load("ep_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(rec.State))

	require.NoError(t, primary.Put("ep_2", []byte(`garbage`)))
	_, err = s.Load("ep_2")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_MarkTransitions(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Save("ep_1", testState, Metadata{CurrentStage: "writing"}))

	require.NoError(t, s.MarkInterrupted("ep_1", "node writing failed"))
	rec, err := s.Load("ep_1")
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, rec.Metadata.Status)
	assert.Equal(t, "node writing failed", rec.Metadata.Reason)
	assert.False(t, rec.Metadata.InterruptedAt.IsZero())
	assert.JSONEq(t, string(testState), string(rec.State), "state survives status updates")

	require.NoError(t, s.MarkPaused("ep_1", "operator"))
	rec, _ = s.Load("ep_1")
	assert.Equal(t, StatusPaused, rec.Metadata.Status)

	require.NoError(t, s.MarkCompleted("ep_1"))
	rec, _ = s.Load("ep_1")
	assert.Equal(t, StatusCompleted, rec.Metadata.Status)
	assert.Equal(t, 1.0, rec.Metadata.Progress)

	_, err = s.MarkResumed("ep_1")
	assert.ErrorIs(t, err, ErrNotRecoverable)

	require.NoError(t, s.MarkAbandoned("ep_1", "operator"))
	rec, _ = s.Load("ep_1")
	assert.Equal(t, StatusAbandoned, rec.Metadata.Status)

	assert.ErrorIs(t, s.MarkInterrupted("ep_missing", "x"), ErrNotFound)
}

func TestStore_MarkResumed_Exhaustion(t *testing.T) {
	s, _ := newTestStore(t, WithMaxRecoveryAttempts(2))
	require.NoError(t, s.Save("ep_1", testState, Metadata{}))

	for i := 1; i <= 2; i++ {
		require.NoError(t, s.MarkInterrupted("ep_1", "crash"))
		rec, err := s.MarkResumed("ep_1")
		require.NoError(t, err)
		assert.Equal(t, i, rec.Metadata.RecoveryAttempts)
		assert.Equal(t, StatusActive, rec.Metadata.Status)
	}

	require.NoError(t, s.MarkInterrupted("ep_1", "crash"))
	_, err := s.MarkResumed("ep_1")
	assert.ErrorIs(t, err, ErrRecoveryExhausted)

	rec, err := s.Load("ep_1")
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, rec.Metadata.Status)

	list, err := s.ListRecoverable()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ListRecoverable(t *testing.T) {
	s, clock := newTestStore(t, WithRetention(time.Hour))

	require.NoError(t, s.Save("ep_old", testState, Metadata{}))
	require.NoError(t, s.MarkInterrupted("ep_old", "crash"))

	clock.t = clock.t.Add(2 * time.Hour)

	require.NoError(t, s.Save("ep_active", testState, Metadata{CurrentStage: "research_synthesis"}))
	require.NoError(t, s.Save("ep_done", testState, Metadata{}))
	require.NoError(t, s.MarkCompleted("ep_done"))
	require.NoError(t, s.Save("ep_interrupted", testState, Metadata{}))
	require.NoError(t, s.MarkInterrupted("ep_interrupted", "crash"))

	list, err := s.ListRecoverable()
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, md := range list {
		ids = append(ids, md.EpisodeID)
	}
	assert.Equal(t, []string{"ep_interrupted", "ep_active"}, ids, "newest first, outside retention excluded")

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_Cleanup(t *testing.T) {
	fallback := NewMemoryBackend()
	s, clock := newTestStore(t, WithFallback(fallback))

	require.NoError(t, s.Save("ep_old", testState, Metadata{}))
	require.NoError(t, fallback.Put("ep_old", mustRecord(t, clock.t)))

	clock.t = clock.t.Add(48 * time.Hour)
	require.NoError(t, s.Save("ep_new", testState, Metadata{}))

	n, err := s.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Load("ep_old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fallback.Get("ep_old")
	assert.ErrorIs(t, err, ErrNotFound, "cleanup reaches every backend")

	_, err = s.Load("ep_new")
	assert.NoError(t, err)
}

func TestStore_RejectsUnsafeID(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	assert.ErrorIs(t, s.Save("../etc/passwd", testState, Metadata{}), ErrInvalidKey)
}

func mustRecord(t *testing.T, at time.Time) []byte {
	t.Helper()
	rec := &Record{Version: Version, SavedAt: at, Metadata: Metadata{EpisodeID: "ep_old"}, State: testState}
	data, err := rec.Marshal()
	require.NoError(t, err)
	return data
}

func TestUnmarshal_RejectsNewerVersion(t *testing.T) {
	_, err := Unmarshal([]byte(`{"version":99,"state":{}}`))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Unmarshal([]byte(`{"version":1}`))
	assert.ErrorIs(t, err, ErrCorrupt)
}
