package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpisode(ctx context.Context, payload EpisodeEvent) error
	PublishSession(ctx context.Context, payload SessionEvent) error
}

// EpisodeEvent is emitted whenever an episode finishes.
type EpisodeEvent struct {
	EpisodeID      string  `json:"episode_id"`
	ActorID        string  `json:"actor_id,omitempty"`
	SessionID      string  `json:"session_id,omitempty"`
	EnvID          string  `json:"env_id"`
	DelayMode      string  `json:"delay_mode"`
	Steps          int     `json:"steps"`
	TotalReward    float64 `json:"total_reward"`
	Truncated      bool    `json:"truncated"`
	DroppedActions int     `json:"dropped_actions"`
	Error          string  `json:"error,omitempty"`
}

// SessionEvent tracks session lifecycle transitions.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// NoopPublisher publishes nothing; useful for tests.
type NoopPublisher struct{}

// PublishEpisode satisfies Publisher.
func (NoopPublisher) PublishEpisode(context.Context, EpisodeEvent) error { return nil }

// PublishSession satisfies Publisher.
func (NoopPublisher) PublishSession(context.Context, SessionEvent) error { return nil }
