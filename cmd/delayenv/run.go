package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cartridge/delayenv/internal/actor"
	"github.com/cartridge/delayenv/internal/metrics"
	"github.com/cartridge/delayenv/internal/storage"
	"github.com/cartridge/delayenv/internal/translog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a random policy against the delayed environment",
	Long: `Runs episodes of a seeded random policy through the delay wrapper,
buffering transitions in memory, logging every tick and indexing finished
episodes under --data-dir.`,
	RunE: runActor,
}

func runActor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger.Info().
		Str("actor_id", cfg.ActorID).
		Str("env_id", cfg.EnvID).
		Str("delay_mode", string(cfg.Delay.Mode)).
		Str("data_dir", cfg.DataDir).
		Msg("Starting actor")

	store := storage.NewMemoryBackend(cfg.ReplayCapacity, cfg.PolicySeed)
	defer store.Close()

	deps := actor.Dependencies{
		Store:   store,
		Metrics: metrics.NewCollector(logger),
	}
	if cfg.DataDir != "" {
		ticks := translog.NewTickLogger(cfg.DataDir)
		defer ticks.Close()
		deps.Ticks = ticks
	}
	index, err := openIndex(cfg)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
		deps.Index = index
	}
	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()
	deps.Publisher = publisher

	actorInstance, err := actor.New(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer actorInstance.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = actorInstance.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return err
	}

	stats, err := store.GetStats(context.Background(), cfg.EnvID)
	if err != nil {
		return err
	}
	logger.Info().
		Int("episodes", actorInstance.Episodes()).
		Uint64("transitions", stats.TotalTransitions).
		Msg("Actor stopped gracefully")
	return nil
}
