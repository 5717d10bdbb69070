package cost

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Units names what a ledger entry's quantity counts.
type Units string

const (
	UnitsTokens     Units = "tokens"
	UnitsCharacters Units = "characters"
	UnitsRequests   Units = "requests"
)

// Ledger errors.
var (
	ErrNegativeCost = errors.New("cost must not be negative")
	ErrNoEpisode    = errors.New("entry has no episode id")
)

// Entry is one recorded charge.
type Entry struct {
	EpisodeID string    `json:"episode_id"`
	Stage     string    `json:"stage"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Units     Units     `json:"units"`
	Quantity  int64     `json:"quantity"`
	CostUSD   float64   `json:"cost_usd"`
	Estimated bool      `json:"estimated"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the persisted form of one episode's ledger.
type Snapshot struct {
	EpisodeID string             `json:"episode_id"`
	Entries   []Entry            `json:"entries"`
	TotalUSD  float64            `json:"total_usd"`
	ByStage   map[string]float64 `json:"by_stage"`
}

// Total sums the snapshot's entries, rounded to cents.
func (s Snapshot) Total() float64 {
	var total Amount
	for _, e := range s.Entries {
		total += FromUSD(e.CostUSD)
	}
	return total.Rounded()
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		EpisodeID: s.EpisodeID,
		Entries:   slices.Clone(s.Entries),
		TotalUSD:  s.TotalUSD,
	}
	if s.ByStage != nil {
		out.ByStage = make(map[string]float64, len(s.ByStage))
		for k, v := range s.ByStage {
			out.ByStage[k] = v
		}
	}
	return out
}

// Ledger is an append-only record of charges, kept per episode. It is safe
// for concurrent use so a stage can fan out calls.
type Ledger struct {
	mu       sync.RWMutex
	episodes map[string][]Entry
	now      func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		episodes: make(map[string][]Entry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry. CostUSD is stored at 1/10000 dollar precision.
func (l *Ledger) Record(e Entry) (Entry, error) {
	if e.EpisodeID == "" {
		return Entry{}, ErrNoEpisode
	}
	if e.CostUSD < 0 {
		return Entry{}, fmt.Errorf("%w: %v", ErrNegativeCost, e.CostUSD)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	e.CostUSD = FromUSD(e.CostUSD).USD()

	l.mu.Lock()
	l.episodes[e.EpisodeID] = append(l.episodes[e.EpisodeID], e)
	l.mu.Unlock()
	return e, nil
}

// TotalAmount returns the exact total for an episode.
func (l *Ledger) TotalAmount(episodeID string) Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total Amount
	for _, e := range l.episodes[episodeID] {
		total += FromUSD(e.CostUSD)
	}
	return total
}

// Total returns an episode's spend rounded to cents.
func (l *Ledger) Total(episodeID string) float64 {
	return l.TotalAmount(episodeID).Rounded()
}

// ByStage returns an episode's spend per stage, each rounded to cents.
func (l *Ledger) ByStage(episodeID string) map[string]float64 {
	l.mu.RLock()
	sums := make(map[string]Amount)
	for _, e := range l.episodes[episodeID] {
		sums[e.Stage] += FromUSD(e.CostUSD)
	}
	l.mu.RUnlock()

	out := make(map[string]float64, len(sums))
	for stage, a := range sums {
		out[stage] = a.Rounded()
	}
	return out
}

// Entries returns a copy of an episode's entries in record order.
func (l *Ledger) Entries(episodeID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.episodes[episodeID])
}

// CanAfford reports whether spending projectedUSD more keeps the episode at
// or under budgetUSD. The comparison is made in cents, starting from the
// spend rounded to cents.
func (l *Ledger) CanAfford(episodeID string, projectedUSD, budgetUSD float64) bool {
	spent := Amount(l.TotalAmount(episodeID).Cents() * 100)
	return (spent + FromUSD(projectedUSD)).Cents() <= FromUSD(budgetUSD).Cents()
}

// Remaining returns budgetUSD minus the episode's spend, never below zero.
func (l *Ledger) Remaining(episodeID string, budgetUSD float64) float64 {
	left := FromUSD(budgetUSD) - l.TotalAmount(episodeID)
	if left < 0 {
		return 0
	}
	return left.Rounded()
}

// Snapshot captures an episode's ledger for persistence.
func (l *Ledger) Snapshot(episodeID string) Snapshot {
	entries := l.Entries(episodeID)
	if entries == nil {
		entries = []Entry{}
	}
	return Snapshot{
		EpisodeID: episodeID,
		Entries:   entries,
		TotalUSD:  l.Total(episodeID),
		ByStage:   l.ByStage(episodeID),
	}
}

// Restore replaces an episode's entries with those in s.
func (l *Ledger) Restore(s Snapshot) error {
	if s.EpisodeID == "" {
		return ErrNoEpisode
	}
	for _, e := range s.Entries {
		if e.CostUSD < 0 {
			return fmt.Errorf("%w: %v", ErrNegativeCost, e.CostUSD)
		}
	}
	l.mu.Lock()
	l.episodes[s.EpisodeID] = slices.Clone(s.Entries)
	l.mu.Unlock()
	return nil
}

// Forget drops an episode's entries.
func (l *Ledger) Forget(episodeID string) {
	l.mu.Lock()
	delete(l.episodes, episodeID)
	l.mu.Unlock()
}

// Report is the cost report written at the end of an episode.
type Report struct {
	EpisodeID string             `json:"episode_id"`
	TotalUSD  float64            `json:"total"`
	BudgetUSD float64            `json:"budget_usd"`
	ByStage   map[string]float64 `json:"by_stage"`
	Entries   []Entry            `json:"entries"`
}

// Report builds the cost report for an episode.
func (l *Ledger) Report(episodeID string, budgetUSD float64) Report {
	s := l.Snapshot(episodeID)
	return Report{
		EpisodeID: episodeID,
		TotalUSD:  s.TotalUSD,
		BudgetUSD: budgetUSD,
		ByStage:   s.ByStage,
		Entries:   s.Entries,
	}
}
