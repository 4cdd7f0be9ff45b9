package delayenv

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cartridge/delayenv/internal/env"
)

// Info keys set by the wrapper on every step.
const (
	TerminalObservationKey = "terminal_observation"
	ObservationAgeKey      = "observation_age"
	ActionAgeKey           = "action_age"
)

// AugmentedObservation is what the consumer sees each tick: the delivered
// observation, the last K sent actions (oldest first) and the delays
// sampled on that tick.
type AugmentedObservation struct {
	Observation      env.Observation `json:"observation"`
	ActionBuffer     []env.Action    `json:"action_buffer"`
	ObservationDelay int             `json:"observation_delay"`
	ActionDelay      int             `json:"action_delay"`
}

// Digest is a stable hash of the observation used to verify replays.
func (a AugmentedObservation) Digest() string {
	b, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Flatten concatenates the observation, the action buffer and both delays
// into one vector, in that order.
func (a AugmentedObservation) Flatten() []float64 {
	n := len(a.Observation) + 2
	for _, act := range a.ActionBuffer {
		n += len(act)
	}
	out := make([]float64, 0, n)
	out = append(out, a.Observation...)
	for _, act := range a.ActionBuffer {
		out = append(out, act...)
	}
	return append(out, float64(a.ObservationDelay), float64(a.ActionDelay))
}

// Trace records what the state machine did on a single tick.
type Trace struct {
	Tick int `json:"tick"`
	// AppliedAction is the action executed on the inner environment.
	AppliedAction env.Action `json:"applied_action"`
	// AppliedSentTick is the tick the applied action was sent on, or -1
	// when the neutral action was applied.
	AppliedSentTick int `json:"applied_sent_tick"`
	DroppedActions  int `json:"dropped_actions"`
	// DeliveredTick is the tick the delivered observation was produced on;
	// -1 is the episode's initial observation.
	DeliveredTick    int  `json:"delivered_tick"`
	Held             bool `json:"held"`
	ObservationDelay int  `json:"observation_delay"`
	ActionDelay      int  `json:"action_delay"`
}

// StepResult is returned by Wrapper.Step.
type StepResult struct {
	Observation AugmentedObservation
	Reward      float64
	Done        bool
	Info        env.Info
	Trace       Trace
}
