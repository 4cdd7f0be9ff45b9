package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
)

// CreateSessionRequest is the payload accepted by the create endpoint.
type CreateSessionRequest struct {
	ID              string       `json:"id,omitempty"`
	EnvID           string       `json:"env_id"`
	EnvSeed         int64        `json:"env_seed"`
	MaxEpisodeSteps int          `json:"max_episode_steps"`
	Delay           delay.Config `json:"delay"`
	StrictActions   bool         `json:"strict_actions,omitempty"`
}

// Validate ensures the payload respects schema invariants.
func (c CreateSessionRequest) Validate() error {
	if c.EnvID == "" {
		return errors.New("env_id is required")
	}
	if c.MaxEpisodeSteps < 0 {
		return errors.New("max_episode_steps must be non-negative")
	}
	return c.Delay.Validate()
}

// Session captures session metadata.
type Session struct {
	ID              string         `json:"id"`
	EnvID           string         `json:"env_id"`
	MaxEpisodeSteps int            `json:"max_episode_steps"`
	Delay           delay.Config   `json:"delay"`
	Shape           delayenv.Shape `json:"shape"`
	Status          string         `json:"status"`
	Tick            int            `json:"tick"`
	Episodes        int            `json:"episodes"`
	CreatedAt       time.Time      `json:"created_at"`
	LastUsedAt      time.Time      `json:"last_used_at"`
}

// StepRequest carries the action sent on one tick.
type StepRequest struct {
	Action []float64 `json:"action"`
}

// Validate checks the action against the session's action dimension.
func (s StepRequest) Validate(actionDim int) error {
	if len(s.Action) == 0 {
		return errors.New("action is required")
	}
	if len(s.Action) != actionDim {
		return fmt.Errorf("action must have %d components, got %d", actionDim, len(s.Action))
	}
	return nil
}

// ResetResponse is returned by the reset endpoint.
type ResetResponse struct {
	Observation delayenv.AugmentedObservation `json:"observation"`
	Flat        []float64                     `json:"flat"`
}

// StepResponse is returned by the step endpoint.
type StepResponse struct {
	Observation delayenv.AugmentedObservation `json:"observation"`
	Flat        []float64                     `json:"flat"`
	Reward      float64                       `json:"reward"`
	Done        bool                          `json:"done"`
	Info        env.Info                      `json:"info"`
	Trace       delayenv.Trace                `json:"trace"`
}

// NewStepResponse converts a wrapper result to its wire form.
func NewStepResponse(res delayenv.StepResult) StepResponse {
	return StepResponse{
		Observation: res.Observation,
		Flat:        res.Observation.Flatten(),
		Reward:      res.Reward,
		Done:        res.Done,
		Info:        res.Info,
		Trace:       res.Trace,
	}
}

// FrameType enumerates websocket request frames.
type FrameType string

const (
	FrameTypeReset FrameType = "reset"
	FrameTypeStep  FrameType = "step"
	FrameTypeState FrameType = "state"
)

// Frame is a client request sent over the session stream.
type Frame struct {
	Type   FrameType `json:"type"`
	Action []float64 `json:"action,omitempty"`
}

// Validate performs type-specific checks for frames.
func (f Frame) Validate() error {
	switch f.Type {
	case FrameTypeReset, FrameTypeState:
		if len(f.Action) > 0 {
			return fmt.Errorf("%s frame takes no action", f.Type)
		}
	case FrameTypeStep:
		if len(f.Action) == 0 {
			return errors.New("step frame requires action")
		}
	default:
		return fmt.Errorf("unsupported frame type %q", f.Type)
	}
	return nil
}

// FrameReply answers one Frame. Exactly one of the payload fields or Error
// is set.
type FrameReply struct {
	Type  FrameType      `json:"type"`
	Reset *ResetResponse `json:"reset,omitempty"`
	Step  *StepResponse  `json:"step,omitempty"`
	State any            `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}
