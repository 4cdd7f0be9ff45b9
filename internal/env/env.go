// Package env defines the reset/step environment contract shared by the
// delay wrapper and its collaborators, along with the error taxonomy used
// across the module.
package env

import (
	"context"
	"fmt"
)

// Action is a normalised action vector in [-1, 1]^d.
type Action []float64

// Observation is the raw observation vector produced by an environment.
type Observation []float64

// Info carries auxiliary step information.
type Info map[string]any

// Step is the outcome of a single environment step.
type Step struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        Info
}

// Space describes a bounded box of vectors.
type Space struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// Box returns a space of dim dimensions with identical bounds.
func Box(dim int, low, high float64) Space {
	s := Space{Low: make([]float64, dim), High: make([]float64, dim)}
	for i := 0; i < dim; i++ {
		s.Low[i] = low
		s.High[i] = high
	}
	return s
}

// Dim returns the dimensionality of the space.
func (s Space) Dim() int { return len(s.Low) }

// Contains reports whether v lies inside the space.
func (s Space) Contains(v []float64) bool {
	if len(v) != s.Dim() {
		return false
	}
	for i, x := range v {
		if x < s.Low[i] || x > s.High[i] {
			return false
		}
	}
	return true
}

// Validate checks that the bounds are consistent.
func (s Space) Validate() error {
	if len(s.Low) != len(s.High) {
		return &ConfigurationError{Field: "space", Reason: fmt.Sprintf("low has %d dims, high has %d", len(s.Low), len(s.High))}
	}
	if len(s.Low) == 0 {
		return &ConfigurationError{Field: "space", Reason: "zero-dimensional space"}
	}
	for i := range s.Low {
		if s.Low[i] > s.High[i] {
			return &ConfigurationError{Field: "space", Reason: fmt.Sprintf("low[%d] > high[%d]", i, i)}
		}
	}
	return nil
}

// Env is any standard reset/step simulator.
type Env interface {
	Reset(ctx context.Context) (Observation, error)
	Step(ctx context.Context, action Action) (Step, error)
	ObservationSpace() Space
	ActionSpace() Space
}

// Stateful is implemented by environments whose internal state can be
// captured and restored for deterministic replay.
type Stateful interface {
	MarshalState() ([]byte, error)
	RestoreState(data []byte) error
}

// Clone returns a copy of v.
func Clone[T ~[]float64](v T) T {
	if v == nil {
		return nil
	}
	out := make(T, len(v))
	copy(out, v)
	return out
}

// Zero returns the neutral action of dimension dim.
func Zero(dim int) Action {
	return make(Action, dim)
}
