package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/env"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env_id: pendulum
max_episode_steps: 50
episode_timeout: 5s
delay:
  delay_mode: network_jitter_1
  min_observation_delay: 0
  sup_observation_delay: 8
  min_action_delay: 0
  sup_action_delay: 2
  seed: 99
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxEpisodeSteps)
	assert.Equal(t, 5*time.Second, cfg.EpisodeTimeout)
	assert.Equal(t, delay.ModeNetworkJitter1, cfg.Delay.Mode)
	assert.Equal(t, int64(99), cfg.Delay.Seed)
	assert.Equal(t, 32, cfg.BatchSize)
}

func TestLoad_RejectsInvalidDelays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delay:\n  min_action_delay: 3\n  sup_action_delay: 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, env.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.IndexDriver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}
