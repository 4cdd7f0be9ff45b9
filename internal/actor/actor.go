package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartridge/delayenv/internal/config"
	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/events"
	"github.com/cartridge/delayenv/internal/indexdb"
	"github.com/cartridge/delayenv/internal/metrics"
	"github.com/cartridge/delayenv/internal/policy"
	"github.com/cartridge/delayenv/internal/snapshot"
	"github.com/cartridge/delayenv/internal/storage"
	"github.com/cartridge/delayenv/internal/translog"
)

// TickWriter receives one entry per wrapper step.
type TickWriter interface {
	WriteTick(e translog.Entry) error
}

// EpisodeIndex records finished episode summaries.
type EpisodeIndex interface {
	RecordEpisode(ctx context.Context, e indexdb.Episode) error
}

// Dependencies are the sinks an actor reports to. Only Store is required.
type Dependencies struct {
	Store     storage.Backend
	Ticks     TickWriter
	Index     EpisodeIndex
	Publisher events.Publisher
	Metrics   *metrics.Collector
}

// Actor runs a policy against a delayed environment and collects
// experience.
type Actor struct {
	cfg    *config.Config
	deps   Dependencies
	logger zerolog.Logger
	mode   string

	wrapper *delayenv.Wrapper
	policy  policy.Policy

	// Episode tracking
	episodeCount     int
	transitionBuffer []*storage.Transition

	// current is the observation the next episode starts from. It is only
	// valid while needsReset is false.
	current    delayenv.AugmentedObservation
	needsReset bool

	now   func() time.Time
	newID func() string
}

// New creates a new actor instance
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*Actor, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("actor requires a transition store")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	mode, err := delay.ParseMode(string(cfg.Delay.Mode))
	if err != nil {
		return nil, err
	}

	inner, err := env.Make(cfg.EnvID, cfg.EnvSeed, cfg.MaxEpisodeSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment %s: %w", cfg.EnvID, err)
	}
	opts := []delayenv.Option{delayenv.WithLogger(logger)}
	if cfg.StrictActions {
		opts = append(opts, delayenv.WithStrictActionBounds())
	}
	wrapper, err := delayenv.FromConfig(inner, cfg.Delay, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap environment: %w", err)
	}

	randomPolicy, err := policy.NewRandom(wrapper.ActionSpace(), cfg.PolicySeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	shape := wrapper.Shape()
	logger.Info().
		Str("actor_id", cfg.ActorID).
		Str("env_id", cfg.EnvID).
		Str("delay_mode", string(mode)).
		Int("buffer_len", shape.BufferLen).
		Int("action_dim", shape.ActionDim).
		Int("observation_dim", shape.ObservationDim).
		Msg("Actor initialized")

	return &Actor{
		cfg:              cfg,
		deps:             deps,
		logger:           logger,
		mode:             string(mode),
		wrapper:          wrapper,
		policy:           randomPolicy,
		transitionBuffer: make([]*storage.Transition, 0, cfg.BatchSize),
		needsReset:       true,
		now:              time.Now,
		newID:            uuid.NewString,
	}, nil
}

// Episodes returns the number of completed episodes.
func (a *Actor) Episodes() int { return a.episodeCount }

// Close flushes any remaining transitions.
func (a *Actor) Close() error {
	if len(a.transitionBuffer) == 0 {
		return nil
	}
	if err := a.flushBuffer(context.Background()); err != nil {
		a.logger.Error().Err(err).Msg("Failed to flush buffer on close")
		return err
	}
	return nil
}

// Run starts the actor main loop
func (a *Actor) Run(ctx context.Context) error {
	a.logger.Info().Str("actor_id", a.cfg.ActorID).Msg("Actor starting main loop")

	// Setup flush timer for partial batches
	flushTicker := time.NewTicker(a.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Context cancelled, stopping actor")
			return ctx.Err()

		case <-flushTicker.C:
			if len(a.transitionBuffer) > 0 {
				if err := a.flushBuffer(ctx); err != nil {
					a.logger.Error().Err(err).Msg("Failed to flush buffer")
				}
			}

		default:
			if a.cfg.MaxEpisodes > 0 && a.episodeCount >= a.cfg.MaxEpisodes {
				a.logger.Info().Int("episodes", a.cfg.MaxEpisodes).Msg("Reached maximum episodes, stopping")
				return a.flushBuffer(ctx)
			}

			if err := a.runEpisode(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error().Err(err).Int("episode", a.episodeCount+1).Msg("Episode failed")
				// The wrapper may be mid-episode; start clean.
				a.needsReset = true
				continue
			}

			a.episodeCount++
			if a.episodeCount%10 == 0 {
				a.logger.Info().Int("episodes", a.episodeCount).Msg("Episode progress")
			}
		}
	}
}

type episodeStats struct {
	steps     int
	reward    float64
	truncated bool
	obsDelay  int
	actDelay  int
	dropped   int
	held      int
}

// runEpisode runs a single episode and collects transitions
func (a *Actor) runEpisode(ctx context.Context) error {
	episodeCtx, cancel := context.WithTimeout(ctx, a.cfg.EpisodeTimeout)
	defer cancel()

	if a.needsReset {
		obs, err := a.wrapper.Reset(episodeCtx)
		if err != nil {
			return fmt.Errorf("failed to reset environment: %w", err)
		}
		a.current = obs
		a.needsReset = false
	}

	episodeID := a.newID()
	started := a.now()
	snapshotPath, err := a.writeSnapshot(episodeID)
	if err != nil {
		return err
	}

	var stats episodeStats
	obs := a.current
	for {
		select {
		case <-episodeCtx.Done():
			err := fmt.Errorf("episode %s timed out after %d steps: %w", episodeID, stats.steps, episodeCtx.Err())
			a.publish(ctx, episodeID, stats, err)
			return err
		default:
		}

		action, err := a.policy.SelectAction(obs)
		if err != nil {
			return fmt.Errorf("failed to select action: %w", err)
		}

		res, err := a.wrapper.Step(episodeCtx, action)
		if err != nil {
			a.publish(ctx, episodeID, stats, err)
			return fmt.Errorf("failed to step environment: %w", err)
		}

		next := res.Observation
		if res.Done {
			if terminal, ok := res.Info[delayenv.TerminalObservationKey].(delayenv.AugmentedObservation); ok {
				next = terminal
			}
			stats.truncated, _ = res.Info[env.TruncatedKey].(bool)
		}

		stats.steps++
		stats.reward += res.Reward
		stats.obsDelay += res.Trace.ObservationDelay
		stats.actDelay += res.Trace.ActionDelay
		stats.dropped += res.Trace.DroppedActions
		if res.Trace.Held {
			stats.held++
		}
		if a.deps.Metrics != nil {
			a.deps.Metrics.Tick(a.mode, res.Trace)
		}

		if a.deps.Ticks != nil {
			entry := translog.Entry{
				EpisodeID: episodeID,
				Tick:      res.Trace.Tick,
				Action:    action,
				Trace:     res.Trace,
				Digest:    res.Observation.Digest(),
				Reward:    res.Reward,
				Done:      res.Done,
			}
			if err := a.deps.Ticks.WriteTick(entry); err != nil {
				return fmt.Errorf("failed to log tick: %w", err)
			}
		}

		a.transitionBuffer = append(a.transitionBuffer, &storage.Transition{
			ID:               fmt.Sprintf("%s-step-%d", episodeID, res.Trace.Tick),
			EnvID:            a.cfg.EnvID,
			EpisodeID:        episodeID,
			Tick:             res.Trace.Tick,
			Observation:      obs.Flatten(),
			Action:           env.Clone(action),
			NextObservation:  next.Flatten(),
			Reward:           res.Reward,
			Done:             res.Done,
			Truncated:        stats.truncated,
			ObservationDelay: res.Trace.ObservationDelay,
			ActionDelay:      res.Trace.ActionDelay,
			Priority:         1.0,
			Timestamp:        a.now(),
		})

		if len(a.transitionBuffer) >= a.cfg.BatchSize {
			if err := a.flushBuffer(episodeCtx); err != nil {
				return fmt.Errorf("failed to flush buffer: %w", err)
			}
		}

		// The wrapper has already folded the reset into res.
		obs = res.Observation
		if res.Done {
			break
		}
	}
	a.current = obs

	a.logger.Info().
		Str("episode_id", episodeID).
		Int("steps", stats.steps).
		Float64("reward", stats.reward).
		Bool("truncated", stats.truncated).
		Int("dropped_actions", stats.dropped).
		Msg("Episode completed")

	if a.deps.Metrics != nil {
		a.deps.Metrics.EpisodeFinished(episodeID, a.cfg.EnvID, a.mode, stats.steps, stats.reward, stats.truncated)
	}
	if a.deps.Index != nil {
		rec := indexdb.Episode{
			EpisodeID:        episodeID,
			ActorID:          a.cfg.ActorID,
			EnvID:            a.cfg.EnvID,
			DelayMode:        a.mode,
			Seed:             a.cfg.Delay.Seed,
			Steps:            stats.steps,
			TotalReward:      stats.reward,
			Truncated:        stats.truncated,
			MeanObsDelay:     float64(stats.obsDelay) / float64(stats.steps),
			MeanActDelay:     float64(stats.actDelay) / float64(stats.steps),
			DroppedActions:   stats.dropped,
			HeldObservations: stats.held,
			SnapshotPath:     snapshotPath,
			StartedAt:        started,
			EndedAt:          a.now(),
		}
		if err := a.deps.Index.RecordEpisode(ctx, rec); err != nil {
			a.logger.Error().Err(err).Str("episode_id", episodeID).Msg("Failed to index episode")
		}
	}
	a.publish(ctx, episodeID, stats, nil)
	return nil
}

// writeSnapshot stores the wrapper state at the start of an episode so the
// episode can be replayed from its tick log.
func (a *Actor) writeSnapshot(episodeID string) (string, error) {
	if a.cfg.DataDir == "" {
		return "", nil
	}
	st, err := a.wrapper.ExportState()
	if err != nil {
		return "", fmt.Errorf("failed to export state: %w", err)
	}
	path := snapshot.PathFor(a.cfg.DataDir, episodeID)
	rec := snapshot.NewRecord(a.cfg.EnvID, a.cfg.MaxEpisodeSteps, a.cfg.Delay, episodeID, st)
	if err := snapshot.WriteFile(path, rec); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

func (a *Actor) publish(ctx context.Context, episodeID string, stats episodeStats, cause error) {
	event := events.EpisodeEvent{
		EpisodeID:      episodeID,
		ActorID:        a.cfg.ActorID,
		EnvID:          a.cfg.EnvID,
		DelayMode:      a.mode,
		Steps:          stats.steps,
		TotalReward:    stats.reward,
		Truncated:      stats.truncated,
		DroppedActions: stats.dropped,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := a.deps.Publisher.PublishEpisode(ctx, event); err != nil {
		a.logger.Warn().Err(err).Str("episode_id", episodeID).Msg("Failed to publish episode event")
	}
}

// flushBuffer sends accumulated transitions to the store
func (a *Actor) flushBuffer(ctx context.Context) error {
	if len(a.transitionBuffer) == 0 {
		return nil
	}

	a.logger.Debug().Int("transitions", len(a.transitionBuffer)).Msg("Flushing transitions")

	if _, err := a.deps.Store.StoreBatch(ctx, a.transitionBuffer); err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}

	a.transitionBuffer = a.transitionBuffer[:0]
	return nil
}
