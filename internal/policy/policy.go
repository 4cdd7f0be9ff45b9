// Package policy provides action selection strategies for the actor
package policy

import (
	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
)

// Policy interface for action selection
type Policy interface {
	// SelectAction chooses the action to send given the augmented
	// observation delivered on the current tick.
	SelectAction(obs delayenv.AugmentedObservation) (env.Action, error)
}
