package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartridge/delayenv/internal/replay"
	"github.com/cartridge/delayenv/internal/snapshot"
	"github.com/cartridge/delayenv/internal/translog"
)

var (
	replaySnapshot string
	replayLogDir   string
)

var replayCmd = &cobra.Command{
	Use:   "replay [episode-id]",
	Short: "Verify a logged episode reproduces from its snapshot",
	Long: `Rebuilds the wrapper from an episode's start snapshot and re-steps the
logged actions, comparing sampled delays and observation digests tick by
tick. Exits non-zero on the first mismatch.

The snapshot defaults to <data-dir>/snapshots/<episode-id>.state.zst.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replaySnapshot, "snapshot", "", "Snapshot file to start from")
	replayCmd.Flags().StringVar(&replayLogDir, "log-dir", "", "Directory holding ticks/ (defaults to --data-dir)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	path := replaySnapshot
	if path == "" {
		if len(args) == 0 || cfg.DataDir == "" {
			return fmt.Errorf("need --snapshot or an episode id with --data-dir")
		}
		path = snapshot.PathFor(cfg.DataDir, args[0])
	}
	rec, err := snapshot.ReadFile(path)
	if err != nil {
		return err
	}
	if len(args) == 1 && rec.Header.EpisodeID != args[0] {
		return fmt.Errorf("snapshot %s belongs to episode %s, not %s", path, rec.Header.EpisodeID, args[0])
	}

	logDir := replayLogDir
	if logDir == "" {
		logDir = cfg.DataDir
	}
	entries, err := translog.ReadEpisode(logDir, rec.Header.EpisodeID)
	if err != nil {
		return err
	}

	report, err := replay.Verify(cmd.Context(), rec, entries)
	if err != nil {
		logger.Error().Err(err).Str("episode_id", rec.Header.EpisodeID).Msg("replay diverged")
		return err
	}
	logger.Info().
		Str("episode_id", report.EpisodeID).
		Int("ticks", report.Ticks).
		Float64("total_reward", report.TotalReward).
		Msg("replay matches")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
