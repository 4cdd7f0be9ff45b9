package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env_seed: 5
max_episode_steps: 50
batch_size: 8
data_dir: /tmp/delayenv-test
delay:
  delay_mode: network_jitter_1
  sup_observation_delay: 8
  sup_action_delay: 2
`), 0o644))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })
	t.Setenv("DELAYENV_MAX_EPISODE_STEPS", "70")
	require.NoError(t, rootCmd.PersistentFlags().Set("batch-size", "16"))
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("batch-size", "32") })

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.EnvSeed)
	assert.Equal(t, 70, cfg.MaxEpisodeSteps)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, "network_jitter_1", string(cfg.Delay.Mode))
	assert.Equal(t, filepath.Join("/tmp/delayenv-test", "index.db"), cfg.IndexDSN)
}

func TestLoadConfig_RejectsInvalidEnv(t *testing.T) {
	t.Setenv("DELAYENV_SUP_ACTION_DELAY", "0")

	_, err := loadConfig()
	assert.Error(t, err)
}
