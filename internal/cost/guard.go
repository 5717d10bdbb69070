package cost

import (
	"errors"
	"fmt"
	"log/slog"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
)

// Mode selects how the budget is enforced.
type Mode string

const (
	// ModeStrict rejects any call that would cross the budget.
	ModeStrict Mode = "strict"

	// ModeWarn logs and allows calls that cross the budget.
	ModeWarn Mode = "warn"

	// ModeOff disables enforcement.
	ModeOff Mode = "off"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown enforcement mode")

// ErrBudgetExceeded is matched by every BudgetExceededError.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ParseMode parses an enforcement mode. The empty string means strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeStrict, nil
	case ModeStrict, ModeWarn, ModeOff:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// BudgetExceededError is returned in strict mode before a call that would
// push the episode past its budget.
type BudgetExceededError struct {
	EpisodeID    string
	Stage        string
	TotalUSD     float64
	ProjectedUSD float64
	BudgetUSD    float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("episode %s stage %s: spent $%.2f + projected $%.4f exceeds budget $%.2f",
		e.EpisodeID, e.Stage, e.TotalUSD, e.ProjectedUSD, e.BudgetUSD)
}

// Is allows errors.Is(err, ErrBudgetExceeded).
func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// ErrorKind implements errors.Kinded.
func (e *BudgetExceededError) ErrorKind() fgerrors.Kind {
	return fgerrors.KindBudgetExceeded
}

// Warning describes a call allowed past the budget in warn mode.
type Warning struct {
	EpisodeID    string
	Stage        string
	TotalUSD     float64
	ProjectedUSD float64
	BudgetUSD    float64
}

// Guard enforces one episode's budget against a ledger.
type Guard struct {
	ledger    *Ledger
	episodeID string
	budgetUSD float64
	mode      Mode
	logger    *slog.Logger
	onWarn    func(Warning)
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger used for warn mode.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// OnWarn registers a callback for warn mode overruns.
func OnWarn(fn func(Warning)) GuardOption {
	return func(g *Guard) {
		g.onWarn = fn
	}
}

// NewGuard creates a guard for one episode.
func NewGuard(ledger *Ledger, episodeID string, budgetUSD float64, mode Mode, opts ...GuardOption) *Guard {
	g := &Guard{
		ledger:    ledger,
		episodeID: episodeID,
		budgetUSD: budgetUSD,
		mode:      mode,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check is called before an external call projected to cost projectedUSD.
// In strict mode it returns a *BudgetExceededError if the call would cross
// the budget; in warn mode it logs and returns nil.
func (g *Guard) Check(stage string, projectedUSD float64) error {
	if g.mode == ModeOff {
		return nil
	}
	if g.ledger.CanAfford(g.episodeID, projectedUSD, g.budgetUSD) {
		return nil
	}

	total := g.ledger.Total(g.episodeID)
	if g.mode == ModeWarn {
		observability.LogBudgetWarning(g.logger, g.episodeID, stage, projectedUSD, g.budgetUSD)
		if g.onWarn != nil {
			g.onWarn(Warning{
				EpisodeID:    g.episodeID,
				Stage:        stage,
				TotalUSD:     total,
				ProjectedUSD: projectedUSD,
				BudgetUSD:    g.budgetUSD,
			})
		}
		return nil
	}

	return &BudgetExceededError{
		EpisodeID:    g.episodeID,
		Stage:        stage,
		TotalUSD:     total,
		ProjectedUSD: projectedUSD,
		BudgetUSD:    g.budgetUSD,
	}
}

