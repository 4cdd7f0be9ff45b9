package env

import (
	"context"
	"encoding/json"
	"fmt"
)

// TruncatedKey is set in Info when an episode ends because of the step
// limit rather than a terminal state.
const TruncatedKey = "TimeLimit.truncated"

// TimeLimit ends episodes after a fixed number of steps.
type TimeLimit struct {
	inner    Env
	maxSteps int
	elapsed  int
}

// WithTimeLimit wraps inner so that every episode lasts at most maxSteps.
func WithTimeLimit(inner Env, maxSteps int) (*TimeLimit, error) {
	if maxSteps <= 0 {
		return nil, &ConfigurationError{Field: "max_episode_steps", Reason: "must be positive"}
	}
	return &TimeLimit{inner: inner, maxSteps: maxSteps}, nil
}

func (t *TimeLimit) ObservationSpace() Space { return t.inner.ObservationSpace() }
func (t *TimeLimit) ActionSpace() Space      { return t.inner.ActionSpace() }

func (t *TimeLimit) Reset(ctx context.Context) (Observation, error) {
	t.elapsed = 0
	return t.inner.Reset(ctx)
}

func (t *TimeLimit) Step(ctx context.Context, action Action) (Step, error) {
	st, err := t.inner.Step(ctx, action)
	if err != nil {
		return st, err
	}
	t.elapsed++
	if t.elapsed >= t.maxSteps {
		if st.Info == nil {
			st.Info = Info{}
		}
		st.Info[TruncatedKey] = !st.Done
		st.Done = true
	}
	return st, nil
}

type timeLimitState struct {
	Elapsed int             `json:"elapsed"`
	Inner   json.RawMessage `json:"inner,omitempty"`
}

func (t *TimeLimit) MarshalState() ([]byte, error) {
	st := timeLimitState{Elapsed: t.elapsed}
	if s, ok := t.inner.(Stateful); ok {
		raw, err := s.MarshalState()
		if err != nil {
			return nil, err
		}
		st.Inner = raw
	}
	return json.Marshal(st)
}

func (t *TimeLimit) RestoreState(data []byte) error {
	var st timeLimitState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode time limit state: %w", err)
	}
	if s, ok := t.inner.(Stateful); ok && len(st.Inner) > 0 {
		if err := s.RestoreState(st.Inner); err != nil {
			return err
		}
	}
	t.elapsed = st.Elapsed
	return nil
}
