package events

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	Episodes []EpisodeEvent
	Sessions []SessionEvent
}

func (r *Recorder) PublishEpisode(_ context.Context, e EpisodeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Episodes = append(r.Episodes, e)
	return nil
}

func (r *Recorder) PublishSession(_ context.Context, e SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sessions = append(r.Sessions, e)
	return nil
}

// Snapshot returns copies of the recorded events.
func (r *Recorder) Snapshot() ([]EpisodeEvent, []SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EpisodeEvent(nil), r.Episodes...), append([]SessionEvent(nil), r.Sessions...)
}
