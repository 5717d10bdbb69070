package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint record format version.
// Increment when making breaking changes to the record layout.
const Version = 1

// Status is the lifecycle state of a checkpointed workflow.
type Status string

const (
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusAbandoned   Status = "abandoned"
)

// Recoverable reports whether a workflow in this status may be resumed.
func (s Status) Recoverable() bool {
	switch s {
	case StatusActive, StatusPaused, StatusInterrupted:
		return true
	}
	return false
}

// Metadata describes a checkpoint without its state payload.
type Metadata struct {
	EpisodeID           string    `json:"episode_id"`
	Status              Status    `json:"state"`
	CurrentStage        string    `json:"current_stage"`
	NextNode            string    `json:"next_node,omitempty"`
	Label               string    `json:"label,omitempty"`
	Progress            float64   `json:"progress"`
	CostSoFar           float64   `json:"cost_so_far"`
	Errors              int       `json:"errors"`
	RecoveryAttempts    int       `json:"recovery_attempts"`
	MaxRecoveryAttempts int       `json:"max_recovery_attempts"`
	Topic               string    `json:"topic,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	InterruptedAt       time.Time `json:"interrupted_at,omitzero"`
	SavedAt             time.Time `json:"saved_at,omitzero"`
}

// Record is the persisted unit: metadata plus the full serialized state.
type Record struct {
	Version  int             `json:"version"`
	SavedAt  time.Time       `json:"saved_at"`
	Metadata Metadata        `json:"metadata"`
	State    json.RawMessage `json:"state"`
}

// Marshal serializes a record to indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Unmarshal deserializes a record.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.Version > Version {
		return nil, fmt.Errorf("%w: record version %d is newer than %d", ErrCorrupt, r.Version, Version)
	}
	if len(r.State) == 0 {
		return nil, fmt.Errorf("%w: record has no state", ErrCorrupt)
	}
	return &r, nil
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
