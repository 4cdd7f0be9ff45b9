package env

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpace_Contains(t *testing.T) {
	s := Box(2, -1, 1)
	assert.Equal(t, 2, s.Dim())
	assert.True(t, s.Contains([]float64{0.5, -1}))
	assert.False(t, s.Contains([]float64{1.5, 0}))
	assert.False(t, s.Contains([]float64{0}))
	require.NoError(t, s.Validate())
	assert.ErrorIs(t, Space{Low: []float64{1}, High: []float64{0}}.Validate(), ErrConfiguration)
}

func TestErrors_Taxonomy(t *testing.T) {
	cause := errors.New("sensor offline")
	envErr := &EnvironmentError{Op: "step", Tick: 4, Err: cause}
	wrapped := fmt.Errorf("run episode: %w", envErr)

	assert.ErrorIs(t, wrapped, ErrEnvironment)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrContract)

	var target *EnvironmentError
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, 4, target.Tick)

	assert.ErrorIs(t, DimensionMismatch("action", 2, 3), ErrContract)
	assert.ErrorIs(t, &ConfigurationError{Field: "x", Reason: "y"}, ErrConfiguration)
}

func TestPendulum_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := NewPendulum(3)
	b := NewPendulum(3)

	obsA, err := a.Reset(ctx)
	require.NoError(t, err)
	obsB, err := b.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, obsA, obsB)
	assert.True(t, a.ObservationSpace().Contains(obsA))

	for i := 0; i < 20; i++ {
		act := Action{float64(i%3) - 1}
		sa, err := a.Step(ctx, act)
		require.NoError(t, err)
		sb, err := b.Step(ctx, act)
		require.NoError(t, err)
		assert.Equal(t, sa.Observation, sb.Observation)
		assert.Equal(t, sa.Reward, sb.Reward)
		assert.LessOrEqual(t, sa.Reward, 0.0)
		assert.False(t, sa.Done)
	}
}

func TestPendulum_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPendulum(11)
	_, err := p.Reset(ctx)
	require.NoError(t, err)
	_, err = p.Step(ctx, Action{0.3})
	require.NoError(t, err)

	raw, err := p.MarshalState()
	require.NoError(t, err)

	q := NewPendulum(0)
	require.NoError(t, q.RestoreState(raw))

	sp, err := p.Step(ctx, Action{-0.7})
	require.NoError(t, err)
	sq, err := q.Step(ctx, Action{-0.7})
	require.NoError(t, err)
	assert.Equal(t, sp, sq)

	op, _ := p.Reset(ctx)
	oq, _ := q.Reset(ctx)
	assert.Equal(t, op, oq)
}

func TestPendulum_RejectsWrongDimension(t *testing.T) {
	p := NewPendulum(1)
	_, err := p.Reset(context.Background())
	require.NoError(t, err)
	_, err = p.Step(context.Background(), Action{0, 0})
	assert.ErrorIs(t, err, ErrContract)
}

func TestTimeLimit(t *testing.T) {
	ctx := context.Background()
	e, err := Make("pendulum", 5, 3)
	require.NoError(t, err)

	_, err = e.Reset(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		st, err := e.Step(ctx, Action{0})
		require.NoError(t, err)
		assert.False(t, st.Done)
	}
	st, err := e.Step(ctx, Action{0})
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Equal(t, true, st.Info[TruncatedKey])

	_, err = e.Reset(ctx)
	require.NoError(t, err)
	st, err = e.Step(ctx, Action{0})
	require.NoError(t, err)
	assert.False(t, st.Done)
}

func TestTimeLimit_RestoreStateKeepsElapsedOnFailure(t *testing.T) {
	ctx := context.Background()
	tl, err := WithTimeLimit(NewPendulum(5), 10)
	require.NoError(t, err)
	_, err = tl.Reset(ctx)
	require.NoError(t, err)
	_, err = tl.Step(ctx, Action{0})
	require.NoError(t, err)

	before, err := tl.MarshalState()
	require.NoError(t, err)
	assert.Error(t, tl.RestoreState([]byte(`{"elapsed":7,"inner":"garbage"}`)))
	after, err := tl.MarshalState()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Equal(t, 1, tl.elapsed)
}

func TestMake_Unknown(t *testing.T) {
	_, err := Make("cartpole-9000", 1, 0)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Make("pendulum", 1, -1)
	require.NoError(t, err)
}
