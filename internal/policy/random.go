package policy

import (
	"fmt"

	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/rng"
)

// RandomPolicy selects uniform random actions inside an action box
type RandomPolicy struct {
	src   *rng.Source
	space env.Space
}

// NewRandom creates a new random policy for the given action space
func NewRandom(space env.Space, seed int64) (*RandomPolicy, error) {
	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("random policy: %w", err)
	}
	return &RandomPolicy{src: rng.New(seed), space: space}, nil
}

// SelectAction implements Policy interface
func (p *RandomPolicy) SelectAction(obs delayenv.AugmentedObservation) (env.Action, error) {
	if len(obs.ActionBuffer) > 0 && len(obs.ActionBuffer[0]) != p.space.Dim() {
		return nil, env.DimensionMismatch("action buffer entry", p.space.Dim(), len(obs.ActionBuffer[0]))
	}
	action := make(env.Action, p.space.Dim())
	for i := range action {
		low, high := p.space.Low[i], p.space.High[i]
		action[i] = low + p.src.Float64()*(high-low)
	}
	return action, nil
}
