package delayenv

import (
	"encoding/json"
	"fmt"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/rng"
)

// StateVersion is the current version of the State record layout.
const StateVersion = 1

// State is the complete, versioned state of a Wrapper. Importing it into a
// wrapper built with the same configuration resumes the run bit-for-bit.
type State struct {
	Version             int                  `json:"version"`
	Tick                int                  `json:"tick"`
	Status              Status               `json:"status"`
	ObservationDelay    delay.Range          `json:"observation_delay"`
	ActionDelay         delay.Range          `json:"action_delay"`
	ActionBuffer        []env.Action         `json:"action_buffer"`
	PendingActions      []PendingAction      `json:"pending_actions"`
	PendingObservations []PendingObservation `json:"pending_observations"`
	LastDelivered       env.Observation      `json:"last_delivered"`
	LastDeliveredTick   int                  `json:"last_delivered_tick"`
	RNG                 rng.Position         `json:"rng"`
	UnderlyingEnvState  json.RawMessage      `json:"underlying_env_state,omitempty"`
}

// ExportState captures the wrapper and, when it supports it, the inner
// environment.
func (w *Wrapper) ExportState() (State, error) {
	st := State{
		Version:             StateVersion,
		Tick:                w.tick,
		Status:              w.status,
		ObservationDelay:    w.dist.ObservationRange(),
		ActionDelay:         w.dist.ActionRange(),
		ActionBuffer:        w.buf.Snapshot(),
		PendingActions:      make([]PendingAction, len(w.pendingActions)),
		PendingObservations: make([]PendingObservation, len(w.pendingObs)),
		LastDelivered:       env.Clone(w.lastDelivered),
		LastDeliveredTick:   w.lastDeliveredTick,
		RNG:                 w.dist.Source().Position(),
	}
	for i, p := range w.pendingActions {
		st.PendingActions[i] = PendingAction{Action: env.Clone(p.Action), SentTick: p.SentTick, ApplyTick: p.ApplyTick}
	}
	for i, p := range w.pendingObs {
		st.PendingObservations[i] = PendingObservation{Observation: env.Clone(p.Observation), ProducedTick: p.ProducedTick, DeliveryTick: p.DeliveryTick}
	}
	if s, ok := w.inner.(env.Stateful); ok {
		raw, err := s.MarshalState()
		if err != nil {
			return State{}, fmt.Errorf("marshal underlying env state: %w", err)
		}
		st.UnderlyingEnvState = raw
	}
	return st, nil
}

// ImportState restores a record produced by ExportState. The record must
// match this wrapper's version, delay ranges and dimensions.
func (w *Wrapper) ImportState(st State) error {
	if st.Version != StateVersion {
		return &env.ContractViolation{What: "state version", Detail: fmt.Sprintf("expected %d, got %d", StateVersion, st.Version)}
	}
	if st.ObservationDelay != w.dist.ObservationRange() || st.ActionDelay != w.dist.ActionRange() {
		return &env.ContractViolation{What: "state delay ranges", Detail: "record was produced with a different delay configuration"}
	}
	for _, p := range st.PendingActions {
		if len(p.Action) != w.actDim {
			return env.DimensionMismatch("pending action", w.actDim, len(p.Action))
		}
	}
	for _, p := range st.PendingObservations {
		if len(p.Observation) != w.obsDim {
			return env.DimensionMismatch("pending observation", w.obsDim, len(p.Observation))
		}
	}
	if st.Status == StatusReady && len(st.LastDelivered) != w.obsDim {
		return env.DimensionMismatch("last delivered observation", w.obsDim, len(st.LastDelivered))
	}
	s, stateful := w.inner.(env.Stateful)
	if len(st.UnderlyingEnvState) > 0 && !stateful {
		return &env.ContractViolation{What: "underlying env state", Detail: "inner environment cannot restore state"}
	}

	// Nothing below may leave the wrapper partially restored.
	prevBuf := w.buf.Snapshot()
	if err := w.buf.Load(st.ActionBuffer); err != nil {
		return err
	}
	if len(st.UnderlyingEnvState) > 0 {
		prevInner, err := s.MarshalState()
		if err != nil {
			_ = w.buf.Load(prevBuf)
			return fmt.Errorf("marshal underlying env state: %w", err)
		}
		if err := s.RestoreState(st.UnderlyingEnvState); err != nil {
			_ = w.buf.Load(prevBuf)
			_ = s.RestoreState(prevInner)
			return fmt.Errorf("restore underlying env state: %w", err)
		}
	}

	w.tick = st.Tick
	w.status = st.Status
	w.pendingActions = w.pendingActions[:0]
	for _, p := range st.PendingActions {
		w.pendingActions = append(w.pendingActions, PendingAction{Action: env.Clone(p.Action), SentTick: p.SentTick, ApplyTick: p.ApplyTick})
	}
	w.pendingObs = w.pendingObs[:0]
	for _, p := range st.PendingObservations {
		w.pendingObs = append(w.pendingObs, PendingObservation{Observation: env.Clone(p.Observation), ProducedTick: p.ProducedTick, DeliveryTick: p.DeliveryTick})
	}
	w.lastDelivered = env.Clone(st.LastDelivered)
	w.lastDeliveredTick = st.LastDeliveredTick
	w.dist.Source().Restore(st.RNG.Seed, st.RNG.Draws)
	return nil
}
