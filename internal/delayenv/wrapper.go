// Package delayenv wraps a reset/step environment with random
// communication delays on both the action and the observation channel and
// exposes the result as an augmented, Markovian observation.
package delayenv

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cartridge/delayenv/internal/buffer"
	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/env"
)

// Status is the lifecycle state of a Wrapper.
type Status int

const (
	StatusUninitialized Status = iota
	StatusReady
	StatusTerminal
)

var statusNames = map[Status]string{
	StatusUninitialized: "uninitialized",
	StatusReady:         "ready",
	StatusTerminal:      "terminal",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for k, v := range statusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// PendingAction is an action in flight towards the environment.
type PendingAction struct {
	Action    env.Action `json:"action"`
	SentTick  int        `json:"sent_tick"`
	ApplyTick int        `json:"scheduled_apply_tick"`
}

// PendingObservation is an observation in flight towards the consumer.
type PendingObservation struct {
	Observation  env.Observation `json:"observation"`
	ProducedTick int             `json:"produced_tick"`
	DeliveryTick int             `json:"scheduled_delivery_tick"`
}

// Shape is the static layout of the augmented observation.
type Shape struct {
	BufferLen        int         `json:"buffer_len"`
	ActionDim        int         `json:"action_dim"`
	ObservationDim   int         `json:"observation_dim"`
	ObservationDelay delay.Range `json:"observation_delay"`
	ActionDelay      delay.Range `json:"action_delay"`
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithLogger routes per-tick debug logs to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Wrapper) { w.logger = logger }
}

// WithStrictActionBounds rejects actions outside [-1, 1]^d instead of
// passing them through.
func WithStrictActionBounds() Option {
	return func(w *Wrapper) { w.strict = true }
}

// Wrapper is the delay state machine bound to one inner environment. It is
// not safe for concurrent use.
type Wrapper struct {
	inner env.Env
	dist  delay.Distribution

	k      int
	actDim int
	obsDim int

	buf            *buffer.Ring
	pendingActions []PendingAction
	pendingObs     []PendingObservation

	lastDelivered     env.Observation
	lastDeliveredTick int

	tick   int
	status Status

	strict bool
	logger zerolog.Logger
}

// New binds dist to inner. The action buffer holds K = sup observation
// delay + sup action delay actions.
func New(inner env.Env, dist delay.Distribution, opts ...Option) (*Wrapper, error) {
	if inner == nil {
		return nil, &env.ConfigurationError{Field: "env", Reason: "inner environment is nil"}
	}
	if dist == nil {
		return nil, &env.ConfigurationError{Field: "delay", Reason: "distribution is nil"}
	}
	if err := dist.ObservationRange().Validate("observation_delay"); err != nil {
		return nil, err
	}
	if err := dist.ActionRange().Validate("action_delay"); err != nil {
		return nil, err
	}
	if err := inner.ActionSpace().Validate(); err != nil {
		return nil, fmt.Errorf("action space: %w", err)
	}
	if err := inner.ObservationSpace().Validate(); err != nil {
		return nil, fmt.Errorf("observation space: %w", err)
	}

	k := dist.ObservationRange().Sup + dist.ActionRange().Sup
	actDim := inner.ActionSpace().Dim()
	buf, err := buffer.New(k, actDim)
	if err != nil {
		return nil, err
	}

	w := &Wrapper{
		inner:             inner,
		dist:              dist,
		k:                 k,
		actDim:            actDim,
		obsDim:            inner.ObservationSpace().Dim(),
		buf:               buf,
		lastDeliveredTick: -1,
		logger:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// FromConfig builds the distribution described by cfg and wraps inner.
func FromConfig(inner env.Env, cfg delay.Config, opts ...Option) (*Wrapper, error) {
	dist, err := delay.New(cfg)
	if err != nil {
		return nil, err
	}
	w, err := New(inner, dist, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.ObservationRange() != dist.ObservationRange() || cfg.ActionRange() != dist.ActionRange() {
		w.logger.Warn().
			Str("delay_mode", string(cfg.Mode)).
			Interface("configured_observation_delay", cfg.ObservationRange()).
			Interface("configured_action_delay", cfg.ActionRange()).
			Interface("observation_delay", dist.ObservationRange()).
			Interface("action_delay", dist.ActionRange()).
			Msg("delay mode carries its own ranges, configured ranges ignored")
	}
	return w, nil
}

// BufferLen returns K, the fixed length of every action buffer snapshot.
func (w *Wrapper) BufferLen() int { return w.k }

// Shape describes the augmented observation layout.
func (w *Wrapper) Shape() Shape {
	return Shape{
		BufferLen:        w.k,
		ActionDim:        w.actDim,
		ObservationDim:   w.obsDim,
		ObservationDelay: w.dist.ObservationRange(),
		ActionDelay:      w.dist.ActionRange(),
	}
}

// Status returns the current lifecycle state.
func (w *Wrapper) Status() Status { return w.status }

// Tick returns the number of steps taken in the current episode.
func (w *Wrapper) Tick() int { return w.tick }

// ActionSpace is the inner environment's action space.
func (w *Wrapper) ActionSpace() env.Space { return w.inner.ActionSpace() }

// ObservationSpace is the inner environment's observation space.
func (w *Wrapper) ObservationSpace() env.Space { return w.inner.ObservationSpace() }

// Reset starts a new episode. The initial observation carries a neutral
// action buffer and the minimum delay of each range.
func (w *Wrapper) Reset(ctx context.Context) (AugmentedObservation, error) {
	obs, err := w.inner.Reset(ctx)
	if err != nil {
		w.status = StatusUninitialized
		return AugmentedObservation{}, &env.EnvironmentError{Op: "reset", Tick: 0, Err: err}
	}
	if len(obs) != w.obsDim {
		w.status = StatusUninitialized
		return AugmentedObservation{}, env.DimensionMismatch("reset observation", w.obsDim, len(obs))
	}

	w.tick = 0
	w.buf.Reset(env.Zero(w.actDim))
	w.pendingActions = w.pendingActions[:0]
	w.pendingObs = w.pendingObs[:0]
	w.lastDelivered = env.Clone(obs)
	w.lastDeliveredTick = -1
	w.status = StatusReady

	return w.augment(obs, w.dist.ObservationRange().Min, w.dist.ActionRange().Min), nil
}

// Step sends action, advances the tick clock by one and returns the
// observation delivered on this tick. When the inner environment reports
// done the wrapper resets itself: the returned observation belongs to the
// new episode and the terminal one is stored in Info.
func (w *Wrapper) Step(ctx context.Context, action env.Action) (StepResult, error) {
	if w.status != StatusReady {
		return StepResult{}, &env.ContractViolation{What: "step", Detail: fmt.Sprintf("wrapper is %s, call Reset first", w.status)}
	}
	if len(action) != w.actDim {
		return StepResult{}, env.DimensionMismatch("action", w.actDim, len(action))
	}
	if w.strict && !env.Box(w.actDim, -1, 1).Contains(action) {
		return StepResult{}, &env.ContractViolation{What: "action", Detail: fmt.Sprintf("%v lies outside [-1, 1]", action)}
	}

	t := w.tick
	actDelay := w.dist.SampleActionDelay()
	sent := env.Clone(action)
	w.pendingActions = append(w.pendingActions, PendingAction{Action: sent, SentTick: t, ApplyTick: t + actDelay})
	if err := w.buf.Push(sent); err != nil {
		return StepResult{}, err
	}

	applied, sentTick, dropped := w.resolveAction(t)

	st, err := w.inner.Step(ctx, applied)
	if err != nil {
		w.status = StatusUninitialized
		return StepResult{}, &env.EnvironmentError{Op: "step", Tick: t, Err: err}
	}
	if len(st.Observation) != w.obsDim {
		w.status = StatusUninitialized
		return StepResult{}, env.DimensionMismatch("step observation", w.obsDim, len(st.Observation))
	}

	obsDelay := w.dist.SampleObservationDelay()
	w.pendingObs = append(w.pendingObs, PendingObservation{
		Observation:  env.Clone(st.Observation),
		ProducedTick: t,
		DeliveryTick: t + obsDelay,
	})
	delivered, producedTick, held := w.resolveObservation(t)

	aug := w.augment(delivered, obsDelay, actDelay)
	w.tick++

	info := make(env.Info, len(st.Info)+3)
	for k, v := range st.Info {
		info[k] = v
	}
	info[ObservationAgeKey] = t - producedTick
	if sentTick >= 0 {
		info[ActionAgeKey] = t - sentTick
	} else {
		info[ActionAgeKey] = -1
	}

	res := StepResult{
		Observation: aug,
		Reward:      st.Reward,
		Done:        st.Done,
		Info:        info,
		Trace: Trace{
			Tick:             t,
			AppliedAction:    applied,
			AppliedSentTick:  sentTick,
			DroppedActions:   dropped,
			DeliveredTick:    producedTick,
			Held:             held,
			ObservationDelay: obsDelay,
			ActionDelay:      actDelay,
		},
	}

	w.logger.Debug().
		Int("tick", t).
		Int("action_delay", actDelay).
		Int("observation_delay", obsDelay).
		Int("applied_sent_tick", sentTick).
		Int("dropped", dropped).
		Int("delivered_tick", producedTick).
		Bool("held", held).
		Bool("done", st.Done).
		Msg("tick resolved")

	if !st.Done {
		return res, nil
	}

	w.status = StatusTerminal
	info[TerminalObservationKey] = aug
	initial, err := w.Reset(ctx)
	if err != nil {
		return StepResult{}, err
	}
	res.Observation = initial
	return res, nil
}

// resolveAction picks the freshest eligible pending action, removes it and
// discards every pending action sent no later than it. The neutral action
// is returned with sent tick -1 when nothing is eligible.
func (w *Wrapper) resolveAction(t int) (env.Action, int, int) {
	best := -1
	for i, p := range w.pendingActions {
		if p.ApplyTick > t {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := w.pendingActions[best]
		if p.SentTick > b.SentTick || (p.SentTick == b.SentTick && p.ApplyTick > b.ApplyTick) {
			best = i
		}
	}
	if best < 0 {
		return env.Zero(w.actDim), -1, 0
	}

	chosen := w.pendingActions[best]
	kept := w.pendingActions[:0]
	dropped := 0
	for i, p := range w.pendingActions {
		if i == best {
			continue
		}
		if p.SentTick <= chosen.SentTick {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	w.pendingActions = kept
	return chosen.Action, chosen.SentTick, dropped
}

// resolveObservation delivers the freshest eligible observation, or holds
// the previous one when nothing has arrived yet.
func (w *Wrapper) resolveObservation(t int) (env.Observation, int, bool) {
	best := -1
	for i, p := range w.pendingObs {
		if p.DeliveryTick > t {
			continue
		}
		if best < 0 || p.ProducedTick > w.pendingObs[best].ProducedTick {
			best = i
		}
	}
	if best < 0 {
		return w.lastDelivered, w.lastDeliveredTick, true
	}

	chosen := w.pendingObs[best]
	kept := w.pendingObs[:0]
	for _, p := range w.pendingObs {
		if p.ProducedTick <= chosen.ProducedTick {
			continue
		}
		kept = append(kept, p)
	}
	w.pendingObs = kept
	w.lastDelivered = chosen.Observation
	w.lastDeliveredTick = chosen.ProducedTick
	return chosen.Observation, chosen.ProducedTick, false
}

func (w *Wrapper) augment(obs env.Observation, obsDelay, actDelay int) AugmentedObservation {
	return AugmentedObservation{
		Observation:      env.Clone(obs),
		ActionBuffer:     w.buf.Snapshot(),
		ObservationDelay: obsDelay,
		ActionDelay:      actDelay,
	}
}
