// Package storage buffers delayed-environment transitions for off-policy
// consumers.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned when no stored transition matches a sample request.
var ErrEmpty = errors.New("no transitions available for sampling")

// Transition is one tick of experience. Observations are flattened
// augmented observations, so the delays and the action history travel with
// the sample.
type Transition struct {
	ID               string    `json:"id"`
	EnvID            string    `json:"env_id"`
	EpisodeID        string    `json:"episode_id"`
	Tick             int       `json:"tick"`
	Observation      []float64 `json:"observation"`
	Action           []float64 `json:"action"`
	NextObservation  []float64 `json:"next_observation"`
	Reward           float64   `json:"reward"`
	Done             bool      `json:"done"`
	Truncated        bool      `json:"truncated"`
	ObservationDelay int       `json:"observation_delay"`
	ActionDelay      int       `json:"action_delay"`
	Priority         float64   `json:"priority"`
	Timestamp        time.Time `json:"timestamp"`
}

// SampleConfig defines parameters for sampling transitions.
type SampleConfig struct {
	BatchSize     int
	EnvID         string
	Prioritized   bool
	PriorityAlpha float64
	MinTimestamp  *time.Time
	MaxTimestamp  *time.Time
}

// Stats summarises the buffer contents.
type Stats struct {
	TotalTransitions uint64            `json:"total_transitions"`
	TotalEpisodes    uint64            `json:"total_episodes"`
	TransitionsByEnv map[string]uint64 `json:"transitions_by_env"`
	OldestTimestamp  *time.Time        `json:"oldest_timestamp,omitempty"`
	NewestTimestamp  *time.Time        `json:"newest_timestamp,omitempty"`
}

// Backend is implemented by transition stores.
type Backend interface {
	Store(ctx context.Context, transition *Transition) error
	StoreBatch(ctx context.Context, transitions []*Transition) ([]string, error)
	// Sample returns up to BatchSize distinct transitions and their
	// importance weights.
	Sample(ctx context.Context, config SampleConfig) ([]*Transition, []float64, error)
	GetStats(ctx context.Context, envID string) (*Stats, error)
	UpdatePriorities(ctx context.Context, ids []string, priorities []float64) error
	// Clear drops transitions older than before (when set) and everything
	// but the newest keepLastN (when positive). It returns how many were
	// removed.
	Clear(ctx context.Context, envID string, before *time.Time, keepLastN int) (uint64, error)
	Close() error
}
