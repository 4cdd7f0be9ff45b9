package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_Store(t *testing.T) {
	backend := NewMemoryBackend(1000, 1)
	defer backend.Close()

	ctx := context.Background()
	transition := &Transition{
		EnvID:            "pendulum",
		EpisodeID:        "episode-1",
		Observation:      []float64{1, 0, 0.5},
		Action:           []float64{0.2},
		Reward:           -1.5,
		ObservationDelay: 3,
		ActionDelay:      1,
	}

	require.NoError(t, backend.Store(ctx, transition))
	assert.NotEmpty(t, transition.ID)
	assert.False(t, transition.Timestamp.IsZero())
	assert.Equal(t, 1.0, transition.Priority)

	stats, err := backend.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalTransitions)
	assert.Equal(t, uint64(1), stats.TotalEpisodes)
	assert.Equal(t, uint64(1), stats.TransitionsByEnv["pendulum"])

	assert.Error(t, backend.Store(ctx, &Transition{ID: transition.ID}))
}

func TestMemoryBackend_StoreBatch(t *testing.T) {
	backend := NewMemoryBackend(1000, 1)
	defer backend.Close()

	ctx := context.Background()
	ids, err := backend.StoreBatch(ctx, []*Transition{
		{EnvID: "pendulum", EpisodeID: "episode-1", Tick: 0},
		{EnvID: "pendulum", EpisodeID: "episode-1", Tick: 1},
		{EnvID: "recorder", EpisodeID: "episode-2", Tick: 0},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	stats, err := backend.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.TotalTransitions)
	assert.Equal(t, uint64(2), stats.TotalEpisodes)
	assert.Equal(t, uint64(2), stats.TransitionsByEnv["pendulum"])
	assert.Equal(t, uint64(1), stats.TransitionsByEnv["recorder"])
}

func TestMemoryBackend_Sample(t *testing.T) {
	backend := NewMemoryBackend(1000, 42)
	defer backend.Close()
	ctx := context.Background()

	_, _, err := backend.Sample(ctx, SampleConfig{BatchSize: 1})
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = backend.StoreBatch(ctx, []*Transition{
		{EnvID: "pendulum", Reward: 1, Priority: 1},
		{EnvID: "pendulum", Reward: 2, Priority: 2},
		{EnvID: "recorder", Reward: 3, Priority: 1},
	})
	require.NoError(t, err)

	sampled, weights, err := backend.Sample(ctx, SampleConfig{BatchSize: 2})
	require.NoError(t, err)
	assert.Len(t, sampled, 2)
	assert.Equal(t, []float64{1, 1}, weights)
	assert.NotEqual(t, sampled[0].ID, sampled[1].ID)

	sampled, _, err = backend.Sample(ctx, SampleConfig{BatchSize: 5, EnvID: "pendulum"})
	require.NoError(t, err)
	assert.Len(t, sampled, 2)
	for _, tr := range sampled {
		assert.Equal(t, "pendulum", tr.EnvID)
	}

	sampled, weights, err = backend.Sample(ctx, SampleConfig{BatchSize: 2, Prioritized: true, PriorityAlpha: 1})
	require.NoError(t, err)
	assert.Len(t, sampled, 2)
	require.Len(t, weights, 2)
	for _, w := range weights {
		assert.Greater(t, w, 0.0)
		assert.LessOrEqual(t, w, 1.0)
	}
}

func TestMemoryBackend_PrioritizedSampleDistribution(t *testing.T) {
	backend := NewMemoryBackend(1000, 123)
	defer backend.Close()
	ctx := context.Background()

	priorities := map[string]float64{"low": 0.1, "medium": 1.0, "high": 2.4}
	base := time.Now()
	i := 0
	for id, p := range priorities {
		require.NoError(t, backend.Store(ctx, &Transition{ID: id, Priority: p, Timestamp: base.Add(time.Duration(i) * time.Second)}))
		i++
	}

	const iterations = 3000
	const alpha = 0.6
	counts := map[string]int{}
	for i := 0; i < iterations; i++ {
		sampled, _, err := backend.Sample(ctx, SampleConfig{BatchSize: 1, Prioritized: true, PriorityAlpha: alpha})
		require.NoError(t, err)
		require.Len(t, sampled, 1)
		counts[sampled[0].ID]++
	}

	total := 0.0
	for _, p := range priorities {
		total += math.Pow(p, alpha)
	}
	for id, p := range priorities {
		expected := iterations * math.Pow(p, alpha) / total
		assert.InDeltaf(t, expected, float64(counts[id]), iterations*0.05, "sampling frequency for %s", id)
	}
}

func TestMemoryBackend_UpdatePriorities(t *testing.T) {
	backend := NewMemoryBackend(1000, 1)
	defer backend.Close()
	ctx := context.Background()

	transition := &Transition{EnvID: "pendulum"}
	require.NoError(t, backend.Store(ctx, transition))
	require.NoError(t, backend.UpdatePriorities(ctx, []string{transition.ID}, []float64{5}))

	backend.mu.RLock()
	stored := backend.transitions[transition.ID]
	backend.mu.RUnlock()
	assert.Equal(t, 5.0, stored.Priority)

	assert.Error(t, backend.UpdatePriorities(ctx, []string{transition.ID}, nil))
}

func TestMemoryBackend_Clear(t *testing.T) {
	backend := NewMemoryBackend(1000, 1)
	defer backend.Close()
	ctx := context.Background()

	now := time.Now()
	_, err := backend.StoreBatch(ctx, []*Transition{
		{EnvID: "pendulum", Timestamp: now.Add(-time.Hour)},
		{EnvID: "pendulum", Timestamp: now.Add(-30 * time.Minute)},
		{EnvID: "recorder", Timestamp: now.Add(-10 * time.Minute)},
	})
	require.NoError(t, err)

	cutoff := now.Add(-45 * time.Minute)
	cleared, err := backend.Clear(ctx, "", &cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cleared)

	cleared, err = backend.Clear(ctx, "", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cleared)

	stats, err := backend.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalTransitions)
	assert.Equal(t, uint64(1), stats.TransitionsByEnv["recorder"])
}

func TestMemoryBackend_MaxSize(t *testing.T) {
	backend := NewMemoryBackend(2, 1)
	defer backend.Close()
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, backend.Store(ctx, &Transition{Tick: i, Timestamp: now.Add(time.Duration(i) * time.Minute)}))
	}

	stats, err := backend.GetStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalTransitions)
	assert.Equal(t, now.Add(time.Minute), *stats.OldestTimestamp)
}

func TestMemoryBackend_TimeFiltering(t *testing.T) {
	backend := NewMemoryBackend(1000, 1)
	defer backend.Close()
	ctx := context.Background()

	now := time.Now()
	_, err := backend.StoreBatch(ctx, []*Transition{
		{Tick: 1, Timestamp: now.Add(-2 * time.Hour)},
		{Tick: 2, Timestamp: now.Add(-time.Hour)},
		{Tick: 3, Timestamp: now},
	})
	require.NoError(t, err)

	minTime := now.Add(-90 * time.Minute)
	maxTime := now.Add(-30 * time.Minute)
	sampled, _, err := backend.Sample(ctx, SampleConfig{BatchSize: 10, MinTimestamp: &minTime, MaxTimestamp: &maxTime})
	require.NoError(t, err)
	require.Len(t, sampled, 1)
	assert.Equal(t, 2, sampled[0].Tick)
}
