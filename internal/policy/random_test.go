package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/delayenv/internal/delayenv"
	"github.com/cartridge/delayenv/internal/env"
)

func TestRandomPolicy_StaysInBox(t *testing.T) {
	space := env.Space{Low: []float64{-1, 0}, High: []float64{1, 0.5}}
	p, err := NewRandom(space, 7)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		a, err := p.SelectAction(delayenv.AugmentedObservation{})
		require.NoError(t, err)
		require.True(t, space.Contains(a), "action %v outside box", a)
	}
}

func TestRandomPolicy_Deterministic(t *testing.T) {
	a, _ := NewRandom(env.Box(3, -1, 1), 42)
	b, _ := NewRandom(env.Box(3, -1, 1), 42)

	for i := 0; i < 20; i++ {
		x, err := a.SelectAction(delayenv.AugmentedObservation{})
		require.NoError(t, err)
		y, err := b.SelectAction(delayenv.AugmentedObservation{})
		require.NoError(t, err)
		assert.Equal(t, x, y)
	}
}

func TestRandomPolicy_Errors(t *testing.T) {
	_, err := NewRandom(env.Space{Low: []float64{1}, High: []float64{0}}, 1)
	assert.True(t, errors.Is(err, env.ErrConfiguration))

	p, err := NewRandom(env.Box(1, -1, 1), 1)
	require.NoError(t, err)
	_, err = p.SelectAction(delayenv.AugmentedObservation{ActionBuffer: []env.Action{{0, 0}}})
	assert.True(t, errors.Is(err, env.ErrContract))
}
