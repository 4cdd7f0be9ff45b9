package translog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
)

func TestTickLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	logger := NewTickLogger(dir)

	for i := 0; i < 5; i++ {
		ep := "a"
		if i%2 == 1 {
			ep = "b"
		}
		require.NoError(t, logger.WriteTick(Entry{
			EpisodeID: ep,
			Tick:      i,
			Action:    env.Action{float64(i)},
			Trace:     delayenv.Trace{Tick: i, AppliedSentTick: i - 1, ObservationDelay: 2},
			Digest:    "d",
		}))
	}
	require.NoError(t, logger.Close())

	got, err := ReadEpisode(dir, "a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{got[0].Tick, got[1].Tick, got[2].Tick})
	assert.Equal(t, env.Action{2}, got[1].Action)
	assert.Equal(t, 2, got[1].Trace.ObservationDelay)
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	logger := NewTickLogger(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	logger.w.now = func() time.Time { return clock }

	require.NoError(t, logger.WriteTick(Entry{EpisodeID: "x", Tick: 0}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, logger.WriteTick(Entry{EpisodeID: "x", Tick: 1}))
	require.NoError(t, logger.Close())

	got, err := ReadEpisode(dir, "x")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Tick)
	assert.Equal(t, 1, got[1].Tick)
}
