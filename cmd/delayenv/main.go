package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/delayenv/internal/config"
	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/events"
	"github.com/cartridge/delayenv/internal/indexdb"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "delayenv",
	Short: "Random-delay environment wrapper",
	Long: `delayenv wraps reset/step environments with random action and
observation delays and exposes an augmented, Markovian observation.

Settings are read from defaults, then --config, then DELAYENV_* environment
variables (a .env file is honoured), then flags.`,
	SilenceUsage: true,
}

// binding copies one flag or environment value onto the config when it
// was explicitly set.
type binding struct {
	key   string
	apply func(c *config.Config)
}

var bindings = []binding{
	{"env-id", func(c *config.Config) { c.EnvID = v.GetString("env-id") }},
	{"env-seed", func(c *config.Config) { c.EnvSeed = v.GetInt64("env-seed") }},
	{"max-episode-steps", func(c *config.Config) { c.MaxEpisodeSteps = v.GetInt("max-episode-steps") }},
	{"strict-actions", func(c *config.Config) { c.StrictActions = v.GetBool("strict-actions") }},
	{"delay-mode", func(c *config.Config) { c.Delay.Mode = delay.Mode(v.GetString("delay-mode")) }},
	{"min-observation-delay", func(c *config.Config) { c.Delay.MinObservationDelay = v.GetInt("min-observation-delay") }},
	{"sup-observation-delay", func(c *config.Config) { c.Delay.SupObservationDelay = v.GetInt("sup-observation-delay") }},
	{"min-action-delay", func(c *config.Config) { c.Delay.MinActionDelay = v.GetInt("min-action-delay") }},
	{"sup-action-delay", func(c *config.Config) { c.Delay.SupActionDelay = v.GetInt("sup-action-delay") }},
	{"delay-seed", func(c *config.Config) { c.Delay.Seed = v.GetInt64("delay-seed") }},
	{"actor-id", func(c *config.Config) { c.ActorID = v.GetString("actor-id") }},
	{"policy-seed", func(c *config.Config) { c.PolicySeed = v.GetInt64("policy-seed") }},
	{"max-episodes", func(c *config.Config) { c.MaxEpisodes = v.GetInt("max-episodes") }},
	{"episode-timeout", func(c *config.Config) { c.EpisodeTimeout = v.GetDuration("episode-timeout") }},
	{"batch-size", func(c *config.Config) { c.BatchSize = v.GetInt("batch-size") }},
	{"flush-interval", func(c *config.Config) { c.FlushInterval = v.GetDuration("flush-interval") }},
	{"replay-capacity", func(c *config.Config) { c.ReplayCapacity = v.GetInt("replay-capacity") }},
	{"data-dir", func(c *config.Config) { c.DataDir = v.GetString("data-dir") }},
	{"index-driver", func(c *config.Config) { c.IndexDriver = v.GetString("index-driver") }},
	{"index-dsn", func(c *config.Config) { c.IndexDSN = v.GetString("index-dsn") }},
	{"nats-url", func(c *config.Config) { c.NATSURL = v.GetString("nats-url") }},
	{"nats-subject", func(c *config.Config) { c.NATSSubject = v.GetString("nats-subject") }},
	{"http-addr", func(c *config.Config) { c.HTTPAddr = v.GetString("http-addr") }},
	{"max-sessions", func(c *config.Config) { c.MaxSessions = v.GetInt("max-sessions") }},
	{"session-idle-timeout", func(c *config.Config) { c.SessionIdleTimeout = v.GetDuration("session-idle-timeout") }},
	{"sweep-interval", func(c *config.Config) { c.SweepInterval = v.GetDuration("sweep-interval") }},
	{"log-level", func(c *config.Config) { c.LogLevel = v.GetString("log-level") }},
}

func init() {
	d := config.Default()
	f := rootCmd.PersistentFlags()

	f.StringVar(&cfgFile, "config", "", "YAML config file")

	// Environment settings
	f.String("env-id", d.EnvID, "Environment ID to wrap (e.g., pendulum)")
	f.Int64("env-seed", d.EnvSeed, "Seed of the underlying environment")
	f.Int("max-episode-steps", d.MaxEpisodeSteps, "Step limit per episode (0 for none)")
	f.Bool("strict-actions", d.StrictActions, "Reject actions outside [-1, 1]")

	// Delay settings
	f.String("delay-mode", string(d.Delay.Mode), "Delay distribution (uniform, network_jitter_1, network_jitter_2)")
	f.Int("min-observation-delay", d.Delay.MinObservationDelay, "Minimum observation delay in ticks")
	f.Int("sup-observation-delay", d.Delay.SupObservationDelay, "Exclusive upper bound of the observation delay")
	f.Int("min-action-delay", d.Delay.MinActionDelay, "Minimum action delay in ticks")
	f.Int("sup-action-delay", d.Delay.SupActionDelay, "Exclusive upper bound of the action delay")
	f.Int64("delay-seed", d.Delay.Seed, "Seed of the delay sampler")

	// Actor settings
	f.String("actor-id", d.ActorID, "Unique actor identifier")
	f.Int64("policy-seed", d.PolicySeed, "Seed of the random policy")
	f.Int("max-episodes", d.MaxEpisodes, "Maximum episodes to run (-1 for unlimited)")
	f.Duration("episode-timeout", d.EpisodeTimeout, "Timeout per episode")
	f.Int("batch-size", d.BatchSize, "Transitions per store batch")
	f.Duration("flush-interval", d.FlushInterval, "Interval to flush partial batches")
	f.Int("replay-capacity", d.ReplayCapacity, "Transitions kept in memory (0 for unbounded)")

	// Persistence and events
	f.String("data-dir", d.DataDir, "Directory for tick logs, snapshots and the sqlite index")
	f.String("index-driver", d.IndexDriver, "Episode index driver (sqlite, postgres)")
	f.String("index-dsn", d.IndexDSN, "Episode index DSN (defaults to <data-dir>/index.db for sqlite)")
	f.String("nats-url", d.NATSURL, "NATS server URL; empty disables event publishing")
	f.String("nats-subject", d.NATSSubject, "NATS subject prefix")

	// Session server
	f.String("http-addr", d.HTTPAddr, "HTTP listen address")
	f.Int("max-sessions", d.MaxSessions, "Maximum concurrent sessions")
	f.Duration("session-idle-timeout", d.SessionIdleTimeout, "Close sessions idle for longer than this")
	f.Duration("sweep-interval", d.SweepInterval, "Idle session check interval")

	// Logging
	f.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")

	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("DELAYENV")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(runCmd, serveCmd, replayCmd, episodesCmd)
}

// loadConfig layers the config file, environment and flags over the
// defaults and validates the result.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	for _, b := range bindings {
		if v.IsSet(b.key) {
			b.apply(cfg)
		}
	}
	if cfg.IndexDriver == "sqlite" && cfg.IndexDSN == "" && cfg.DataDir != "" {
		cfg.IndexDSN = filepath.Join(cfg.DataDir, "index.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger(), nil
}

// newPublisher returns a NATS publisher when configured. The returned
// close func is never nil.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func(), error) {
	if cfg.NATSURL == "" {
		return events.NoopPublisher{}, func() {}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

// openIndex opens the episode index when a DSN is configured.
func openIndex(cfg *config.Config) (*indexdb.Index, error) {
	if cfg.IndexDSN == "" {
		return nil, nil
	}
	return indexdb.Open(cfg.IndexDriver, cfg.IndexDSN)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
