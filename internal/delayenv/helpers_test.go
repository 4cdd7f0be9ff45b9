package delayenv

import (
	"context"
	"errors"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/rng"
)

// scriptedDist replays fixed delay sequences; the last value repeats once a
// sequence is exhausted.
type scriptedDist struct {
	obs      []int
	act      []int
	obsRange delay.Range
	actRange delay.Range
	src      *rng.Source
}

func newScripted(obsRange, actRange delay.Range, obs, act []int) *scriptedDist {
	return &scriptedDist{obs: obs, act: act, obsRange: obsRange, actRange: actRange, src: rng.New(0)}
}

func next(seq *[]int) int {
	d := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return d
}

func (s *scriptedDist) SampleObservationDelay() int {
	s.src.Float64()
	return next(&s.obs)
}

func (s *scriptedDist) SampleActionDelay() int {
	s.src.Float64()
	return next(&s.act)
}

func (s *scriptedDist) ObservationRange() delay.Range { return s.obsRange }
func (s *scriptedDist) ActionRange() delay.Range      { return s.actRange }
func (s *scriptedDist) Source() *rng.Source           { return s.src }

// recordingEnv returns its step counter as the observation and remembers
// every action it was asked to execute.
type recordingEnv struct {
	steps   int
	resets  int
	applied []env.Action
	doneAt  int
	failAt  int
	// failResetAt makes the n-th reset fail.
	failResetAt int
}

func (r *recordingEnv) ObservationSpace() env.Space { return env.Box(1, -1e9, 1e9) }
func (r *recordingEnv) ActionSpace() env.Space      { return env.Box(1, -1, 1) }

func (r *recordingEnv) Reset(context.Context) (env.Observation, error) {
	r.resets++
	if r.failResetAt > 0 && r.resets == r.failResetAt {
		return nil, errSensor
	}
	r.steps = 0
	return env.Observation{0}, nil
}

func (r *recordingEnv) Step(_ context.Context, a env.Action) (env.Step, error) {
	if r.failAt > 0 && len(r.applied)+1 == r.failAt {
		return env.Step{}, errSensor
	}
	r.applied = append(r.applied, env.Clone(a))
	r.steps++
	return env.Step{
		Observation: env.Observation{float64(r.steps)},
		Reward:      1,
		Done:        r.doneAt > 0 && r.steps >= r.doneAt,
		Info:        env.Info{},
	}, nil
}

var errSensor = errors.New("sensor offline")
