package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cartridge/delayenv/internal/delay"
)

// Config holds all delayenv configuration
type Config struct {
	// Environment
	EnvID           string       `mapstructure:"env_id" yaml:"env_id"`
	EnvSeed         int64        `mapstructure:"env_seed" yaml:"env_seed"`
	MaxEpisodeSteps int          `mapstructure:"max_episode_steps" yaml:"max_episode_steps"`
	Delay           delay.Config `mapstructure:"delay" yaml:"delay"`
	StrictActions   bool         `mapstructure:"strict_actions" yaml:"strict_actions"`

	// Actor settings
	ActorID        string        `mapstructure:"actor_id" yaml:"actor_id"`
	PolicySeed     int64         `mapstructure:"policy_seed" yaml:"policy_seed"`
	MaxEpisodes    int           `mapstructure:"max_episodes" yaml:"max_episodes"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout" yaml:"episode_timeout"`

	// Batch settings
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	ReplayCapacity int           `mapstructure:"replay_capacity" yaml:"replay_capacity"`

	// Persistence
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	IndexDriver string `mapstructure:"index_driver" yaml:"index_driver"`
	IndexDSN    string `mapstructure:"index_dsn" yaml:"index_dsn"`

	// Events
	NATSURL     string `mapstructure:"nats_url" yaml:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject" yaml:"nats_subject"`

	// Session server
	HTTPAddr           string        `mapstructure:"http_addr" yaml:"http_addr"`
	MaxSessions        int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" yaml:"session_idle_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		EnvID:              "pendulum",
		MaxEpisodeSteps:    200,
		Delay:              delay.DefaultConfig(),
		ActorID:            "actor-1",
		MaxEpisodes:        -1, // unlimited
		EpisodeTimeout:     30 * time.Second,
		BatchSize:          32,
		FlushInterval:      5 * time.Second,
		ReplayCapacity:     100000,
		IndexDriver:        "sqlite",
		NATSSubject:        "delayenv.episodes",
		HTTPAddr:           ":8080",
		MaxSessions:        64,
		SessionIdleTimeout: 10 * time.Minute,
		SweepInterval:      time.Minute,
		LogLevel:           "info",
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.EnvID == "" {
		return fmt.Errorf("env_id is required")
	}
	if c.MaxEpisodeSteps < 0 {
		return fmt.Errorf("max_episode_steps must not be negative")
	}
	if err := c.Delay.Validate(); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.EpisodeTimeout <= 0 {
		return fmt.Errorf("episode_timeout must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if c.ReplayCapacity < 0 {
		return fmt.Errorf("replay_capacity must not be negative")
	}
	switch c.IndexDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("index_driver must be sqlite or postgres, got %q", c.IndexDriver)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}
	if c.SessionIdleTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("session_idle_timeout and sweep_interval must be positive")
	}
	return nil
}
