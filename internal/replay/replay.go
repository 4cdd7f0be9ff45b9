// Package replay rebuilds a wrapper from a state record and re-steps the
// actions of a tick log to check the run is reproducible.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/snapshot"
	"github.com/cartridge/delayenv/internal/translog"
)

// ErrNoTicks is returned when the log holds nothing for the episode.
var ErrNoTicks = errors.New("no logged ticks for episode")

// MismatchError reports the first tick whose replay diverged.
type MismatchError struct {
	EpisodeID string
	Tick      int
	Field     string
	Want      string
	Got       string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("episode %s tick %d: %s mismatch: logged %s, replayed %s", e.EpisodeID, e.Tick, e.Field, e.Want, e.Got)
}

// Report summarises a successful verification.
type Report struct {
	EpisodeID   string  `json:"episode_id"`
	Ticks       int     `json:"ticks"`
	TotalReward float64 `json:"total_reward"`
	Done        bool    `json:"done"`
}

// Rebuild constructs a wrapper matching rec and restores its state.
func Rebuild(rec snapshot.Record, opts ...delayenv.Option) (*delayenv.Wrapper, error) {
	inner, err := env.Make(rec.EnvID, 0, rec.MaxEpisodeSteps)
	if err != nil {
		return nil, err
	}
	w, err := delayenv.FromConfig(inner, rec.Delay, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.ImportState(rec.State); err != nil {
		return nil, fmt.Errorf("import state: %w", err)
	}
	return w, nil
}

// Verify re-steps every logged action of the record's episode and compares
// the sampled delays, the applied action and the observation digest tick
// by tick.
func Verify(ctx context.Context, rec snapshot.Record, entries []translog.Entry, opts ...delayenv.Option) (Report, error) {
	w, err := Rebuild(rec, opts...)
	if err != nil {
		return Report{}, err
	}
	id := rec.Header.EpisodeID
	report := Report{EpisodeID: id}

	for _, e := range entries {
		if e.EpisodeID != id {
			continue
		}
		if e.Tick != w.Tick() {
			return report, &MismatchError{EpisodeID: id, Tick: e.Tick, Field: "tick", Want: fmt.Sprint(e.Tick), Got: fmt.Sprint(w.Tick())}
		}
		res, err := w.Step(ctx, e.Action)
		if err != nil {
			return report, fmt.Errorf("replay tick %d: %w", e.Tick, err)
		}
		if err := compare(id, e, res); err != nil {
			return report, err
		}
		report.Ticks++
		report.TotalReward += res.Reward
		if res.Done {
			report.Done = true
			break
		}
	}
	if report.Ticks == 0 {
		return report, fmt.Errorf("%w %s", ErrNoTicks, id)
	}
	return report, nil
}

func compare(id string, e translog.Entry, res delayenv.StepResult) error {
	mismatch := func(field string, want, got any) error {
		return &MismatchError{EpisodeID: id, Tick: e.Tick, Field: field, Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
	}
	switch {
	case e.Trace.ObservationDelay != res.Trace.ObservationDelay:
		return mismatch("observation_delay", e.Trace.ObservationDelay, res.Trace.ObservationDelay)
	case e.Trace.ActionDelay != res.Trace.ActionDelay:
		return mismatch("action_delay", e.Trace.ActionDelay, res.Trace.ActionDelay)
	case e.Trace.AppliedSentTick != res.Trace.AppliedSentTick:
		return mismatch("applied_sent_tick", e.Trace.AppliedSentTick, res.Trace.AppliedSentTick)
	case e.Trace.DeliveredTick != res.Trace.DeliveredTick:
		return mismatch("delivered_tick", e.Trace.DeliveredTick, res.Trace.DeliveredTick)
	case e.Done != res.Done:
		return mismatch("done", e.Done, res.Done)
	}
	if got := res.Observation.Digest(); got != e.Digest {
		return mismatch("digest", e.Digest, got)
	}
	return nil
}
