// Package buffer implements the fixed-capacity action history carried in
// every augmented observation.
package buffer

import (
	"fmt"

	"github.com/cartridge/delayenv/internal/env"
)

// Ring holds the last Cap() actions, oldest first. Its length never changes
// after construction.
type Ring struct {
	slots []env.Action
	head  int
	dim   int
}

// New returns a ring of capacity actions of dimension dim, all neutral.
func New(capacity, dim int) (*Ring, error) {
	if capacity <= 0 {
		return nil, &env.ConfigurationError{Field: "buffer_capacity", Reason: fmt.Sprintf("capacity %d must be positive", capacity)}
	}
	if dim <= 0 {
		return nil, &env.ConfigurationError{Field: "action_dim", Reason: fmt.Sprintf("dimension %d must be positive", dim)}
	}
	r := &Ring{slots: make([]env.Action, capacity), dim: dim}
	r.Reset(env.Zero(dim))
	return r, nil
}

// Push appends a copy of a at the tail and evicts the oldest entry.
func (r *Ring) Push(a env.Action) error {
	if len(a) != r.dim {
		return env.DimensionMismatch("buffered action", r.dim, len(a))
	}
	r.slots[r.head] = env.Clone(a)
	r.head = (r.head + 1) % len(r.slots)
	return nil
}

// Snapshot returns a deep copy of the buffer, oldest first.
func (r *Ring) Snapshot() []env.Action {
	out := make([]env.Action, len(r.slots))
	for i := range out {
		out[i] = env.Clone(r.slots[(r.head+i)%len(r.slots)])
	}
	return out
}

// Reset refills every slot with a copy of neutral.
func (r *Ring) Reset(neutral env.Action) {
	for i := range r.slots {
		r.slots[i] = env.Clone(neutral)
	}
	r.head = 0
}

// Load replaces the contents with actions, oldest first. The number of
// actions must match the capacity.
func (r *Ring) Load(actions []env.Action) error {
	if len(actions) != len(r.slots) {
		return env.DimensionMismatch("action buffer length", len(r.slots), len(actions))
	}
	for _, a := range actions {
		if len(a) != r.dim {
			return env.DimensionMismatch("buffered action", r.dim, len(a))
		}
	}
	for i, a := range actions {
		r.slots[i] = env.Clone(a)
	}
	r.head = 0
	return nil
}

// Len is always equal to Cap.
func (r *Ring) Len() int { return len(r.slots) }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.slots) }

// Dim returns the action dimension.
func (r *Ring) Dim() int { return r.dim }
