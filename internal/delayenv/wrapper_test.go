package delayenv

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/delayenv/internal/delay"
	"github.com/cartridge/delayenv/internal/env"
)

func pendulumWrapper(t *testing.T, cfg delay.Config, envSeed int64, limit int) *Wrapper {
	t.Helper()
	inner, err := env.Make("pendulum", envSeed, limit)
	require.NoError(t, err)
	w, err := FromConfig(inner, cfg)
	require.NoError(t, err)
	return w
}

func actionAt(i int) env.Action {
	return env.Action{float64(i%7)/3.5 - 1}
}

func TestWrapper_BufferLengthAndDelayRanges(t *testing.T) {
	for _, mode := range delay.Modes() {
		t.Run(string(mode), func(t *testing.T) {
			cfg := delay.DefaultConfig()
			cfg.Mode = mode
			cfg.MinObservationDelay, cfg.SupObservationDelay = 1, 4
			cfg.MinActionDelay, cfg.SupActionDelay = 0, 3
			cfg.Seed = 21
			w := pendulumWrapper(t, cfg, 4, 25)

			k := w.BufferLen()
			obsRange := w.Shape().ObservationDelay
			actRange := w.Shape().ActionDelay
			assert.Equal(t, obsRange.Sup+actRange.Sup, k)

			aug, err := w.Reset(context.Background())
			require.NoError(t, err)
			require.Len(t, aug.ActionBuffer, k)

			episodes := 0
			for i := 0; i < 200; i++ {
				res, err := w.Step(context.Background(), actionAt(i))
				require.NoError(t, err)
				require.Len(t, res.Observation.ActionBuffer, k)
				require.True(t, obsRange.Contains(res.Trace.ObservationDelay))
				require.True(t, actRange.Contains(res.Trace.ActionDelay))
				if res.Done {
					episodes++
					term := res.Info[TerminalObservationKey].(AugmentedObservation)
					require.Len(t, term.ActionBuffer, k)
					require.True(t, obsRange.Contains(term.ObservationDelay))
					require.True(t, actRange.Contains(term.ActionDelay))
				} else {
					require.True(t, obsRange.Contains(res.Observation.ObservationDelay))
					require.True(t, actRange.Contains(res.Observation.ActionDelay))
				}
			}
			assert.Equal(t, 8, episodes)
		})
	}
}

func TestWrapper_PassThroughWithZeroDelays(t *testing.T) {
	cfg := delay.Config{Mode: delay.ModeUniform, SupObservationDelay: 1, SupActionDelay: 1, Seed: 8}
	w := pendulumWrapper(t, cfg, 3, 0)
	raw := env.NewPendulum(3)
	ctx := context.Background()

	aug, err := w.Reset(ctx)
	require.NoError(t, err)
	rawObs, err := raw.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, rawObs, aug.Observation)
	assert.Equal(t, 2, w.BufferLen())

	for i := 0; i < 50; i++ {
		a := actionAt(i)
		res, err := w.Step(ctx, a)
		require.NoError(t, err)
		want, err := raw.Step(ctx, a)
		require.NoError(t, err)

		assert.Equal(t, a, res.Trace.AppliedAction)
		assert.Equal(t, i, res.Trace.AppliedSentTick)
		assert.Equal(t, want.Observation, res.Observation.Observation)
		assert.Equal(t, want.Reward, res.Reward)
		assert.False(t, res.Trace.Held)
		assert.Equal(t, 0, res.Info[ObservationAgeKey])
		assert.Equal(t, 0, res.Info[ActionAgeKey])
	}
}

func TestWrapper_Deterministic(t *testing.T) {
	cfg := delay.DefaultConfig()
	cfg.Mode = delay.ModeNetworkJitter2
	cfg.Seed = 77

	run := func() ([]Trace, []AugmentedObservation) {
		w := pendulumWrapper(t, cfg, 9, 40)
		_, err := w.Reset(context.Background())
		require.NoError(t, err)
		var traces []Trace
		var obs []AugmentedObservation
		for i := 0; i < 120; i++ {
			res, err := w.Step(context.Background(), actionAt(i*3))
			require.NoError(t, err)
			traces = append(traces, res.Trace)
			obs = append(obs, res.Observation)
		}
		return traces, obs
	}

	t1, o1 := run()
	t2, o2 := run()
	assert.Equal(t, t1, t2)
	require.Len(t, o2, len(o1))
	for i := range o1 {
		assert.Equal(t, o1[i].Digest(), o2[i].Digest(), "tick %d", i)
	}
}

func TestWrapper_ResetContract(t *testing.T) {
	rec := &recordingEnv{}
	dist := newScripted(delay.Range{Min: 1, Sup: 3}, delay.Range{Min: 0, Sup: 2}, []int{2}, []int{1})
	w, err := New(rec, dist)
	require.NoError(t, err)
	assert.Equal(t, StatusUninitialized, w.Status())

	aug, err := w.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusReady, w.Status())
	assert.Equal(t, []env.Action{{0}, {0}, {0}, {0}, {0}}, aug.ActionBuffer)
	assert.Equal(t, 1, aug.ObservationDelay)
	assert.Equal(t, 0, aug.ActionDelay)

	for i := 0; i < 4; i++ {
		_, err := w.Step(context.Background(), env.Action{0.5})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, w.Tick())

	aug, err = w.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, w.Tick())
	assert.Equal(t, []env.Action{{0}, {0}, {0}, {0}, {0}}, aug.ActionBuffer)

	st, err := w.ExportState()
	require.NoError(t, err)
	assert.Empty(t, st.PendingActions)
	assert.Empty(t, st.PendingObservations)
}

func TestWrapper_NoDoubleApply(t *testing.T) {
	rec := &recordingEnv{}
	cfg := delay.Config{Mode: delay.ModeUniform, SupObservationDelay: 3, SupActionDelay: 4, Seed: 5}
	w, err := FromConfig(rec, cfg)
	require.NoError(t, err)
	_, err = w.Reset(context.Background())
	require.NoError(t, err)

	const ticks = 300
	seen := map[int]bool{}
	for i := 1; i <= ticks; i++ {
		res, err := w.Step(context.Background(), env.Action{float64(i) / ticks})
		require.NoError(t, err)
		if res.Trace.AppliedSentTick >= 0 {
			require.False(t, seen[res.Trace.AppliedSentTick], "action sent at tick %d applied twice", res.Trace.AppliedSentTick)
			seen[res.Trace.AppliedSentTick] = true
		}
	}
	require.Len(t, rec.applied, ticks)

	counts := map[float64]int{}
	for _, a := range rec.applied {
		if a[0] != 0 {
			counts[a[0]]++
		}
	}
	for v, n := range counts {
		assert.Equal(t, 1, n, "action %v applied %d times", v, n)
	}
}

func TestWrapper_FresherActionSupersedesOlder(t *testing.T) {
	rec := &recordingEnv{}
	dist := newScripted(delay.Range{Min: 0, Sup: 1}, delay.Range{Min: 0, Sup: 2}, []int{0}, []int{1, 0, 0})
	w, err := New(rec, dist)
	require.NoError(t, err)
	require.Equal(t, 3, w.BufferLen())
	_, err = w.Reset(context.Background())
	require.NoError(t, err)

	a := env.Action{0.1}
	b := env.Action{0.2}
	c := env.Action{0.3}

	res, err := w.Step(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, env.Action{0}, res.Trace.AppliedAction)
	assert.Equal(t, -1, res.Trace.AppliedSentTick)

	res, err = w.Step(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, b, res.Trace.AppliedAction)
	assert.Equal(t, 1, res.Trace.AppliedSentTick)
	assert.Equal(t, 1, res.Trace.DroppedActions)
	assert.Equal(t, []env.Action{{0}, a, b}, res.Observation.ActionBuffer)

	res, err = w.Step(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, c, res.Trace.AppliedAction)

	assert.Equal(t, []env.Action{{0}, b, c}, rec.applied)
}

func TestWrapper_ObservationHeldUntilDelivered(t *testing.T) {
	rec := &recordingEnv{}
	dist := newScripted(delay.Range{Min: 0, Sup: 11}, delay.Range{Min: 0, Sup: 1}, []int{3, 10}, []int{0})
	w, err := New(rec, dist)
	require.NoError(t, err)

	initial, err := w.Reset(context.Background())
	require.NoError(t, err)

	for tick := 0; tick < 3; tick++ {
		res, err := w.Step(context.Background(), env.Action{0})
		require.NoError(t, err)
		assert.Equal(t, initial.Observation, res.Observation.Observation, "tick %d", tick)
		assert.True(t, res.Trace.Held)
		assert.Equal(t, -1, res.Trace.DeliveredTick)
		assert.Equal(t, tick+1, res.Info[ObservationAgeKey])
	}

	res, err := w.Step(context.Background(), env.Action{0})
	require.NoError(t, err)
	assert.False(t, res.Trace.Held)
	assert.Equal(t, 0, res.Trace.DeliveredTick)
	assert.Equal(t, env.Observation{1}, res.Observation.Observation)
	assert.Equal(t, 3, res.Info[ObservationAgeKey])
	assert.Equal(t, 10, res.Observation.ObservationDelay)
}

func TestWrapper_FreshestObservationWins(t *testing.T) {
	rec := &recordingEnv{}
	dist := newScripted(delay.Range{Min: 0, Sup: 4}, delay.Range{Min: 0, Sup: 1}, []int{3, 1, 0}, []int{0})
	w, err := New(rec, dist)
	require.NoError(t, err)
	_, err = w.Reset(context.Background())
	require.NoError(t, err)

	// produced 0 due at 3, produced 1 due at 2, produced 2 due at 2
	for i := 0; i < 2; i++ {
		_, err = w.Step(context.Background(), env.Action{0})
		require.NoError(t, err)
	}
	res, err := w.Step(context.Background(), env.Action{0})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Trace.DeliveredTick)

	// the tick-0 observation was superseded at tick 2 and never surfaces
	res, err = w.Step(context.Background(), env.Action{0})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Trace.DeliveredTick)
	st, err := w.ExportState()
	require.NoError(t, err)
	assert.Empty(t, st.PendingObservations)
}

func TestWrapper_AutoResetOnDone(t *testing.T) {
	rec := &recordingEnv{doneAt: 3}
	dist := newScripted(delay.Range{Min: 0, Sup: 1}, delay.Range{Min: 0, Sup: 1}, []int{0}, []int{0})
	w, err := New(rec, dist)
	require.NoError(t, err)
	_, err = w.Reset(context.Background())
	require.NoError(t, err)

	var res StepResult
	for i := 0; i < 3; i++ {
		res, err = w.Step(context.Background(), env.Action{0.5})
		require.NoError(t, err)
	}
	assert.True(t, res.Done)
	assert.Equal(t, StatusReady, w.Status())
	assert.Equal(t, 0, w.Tick())
	assert.Equal(t, 2, rec.resets)

	assert.Equal(t, env.Observation{0}, res.Observation.Observation)
	assert.Equal(t, []env.Action{{0}, {0}}, res.Observation.ActionBuffer)

	term, ok := res.Info[TerminalObservationKey].(AugmentedObservation)
	require.True(t, ok)
	assert.Equal(t, env.Observation{3}, term.Observation)
	assert.Equal(t, []env.Action{{0.5}, {0.5}}, term.ActionBuffer)

	res, err = w.Step(context.Background(), env.Action{0.5})
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, 0, res.Trace.Tick)
}

func TestWrapper_ContractViolations(t *testing.T) {
	rec := &recordingEnv{}
	dist := newScripted(delay.Range{Min: 0, Sup: 1}, delay.Range{Min: 0, Sup: 1}, []int{0}, []int{0})
	w, err := New(rec, dist, WithStrictActionBounds())
	require.NoError(t, err)

	_, err = w.Step(context.Background(), env.Action{0})
	assert.ErrorIs(t, err, env.ErrContract)

	_, err = w.Reset(context.Background())
	require.NoError(t, err)

	_, err = w.Step(context.Background(), env.Action{0, 0})
	assert.ErrorIs(t, err, env.ErrContract)

	_, err = w.Step(context.Background(), env.Action{1.5})
	assert.ErrorIs(t, err, env.ErrContract)
	assert.Equal(t, 0, w.Tick())
	assert.Empty(t, rec.applied)
}

func TestWrapper_EnvironmentFailure(t *testing.T) {
	rec := &recordingEnv{failAt: 2}
	dist := newScripted(delay.Range{Min: 0, Sup: 1}, delay.Range{Min: 0, Sup: 1}, []int{0}, []int{0})
	w, err := New(rec, dist)
	require.NoError(t, err)
	_, err = w.Reset(context.Background())
	require.NoError(t, err)

	_, err = w.Step(context.Background(), env.Action{0})
	require.NoError(t, err)

	_, err = w.Step(context.Background(), env.Action{0})
	require.Error(t, err)
	assert.ErrorIs(t, err, env.ErrEnvironment)
	assert.ErrorIs(t, err, errSensor)
	var envErr *env.EnvironmentError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "step", envErr.Op)
	assert.Equal(t, 1, envErr.Tick)
	assert.Equal(t, StatusUninitialized, w.Status())

	_, err = w.Step(context.Background(), env.Action{0})
	assert.ErrorIs(t, err, env.ErrContract)
}

func TestWrapper_AutoResetFailure(t *testing.T) {
	rec := &recordingEnv{doneAt: 3, failResetAt: 2}
	dist := newScripted(delay.Range{Min: 0, Sup: 1}, delay.Range{Min: 0, Sup: 1}, []int{0}, []int{0})
	w, err := New(rec, dist)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = w.Reset(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = w.Step(ctx, env.Action{0})
		require.NoError(t, err)
	}
	res, err := w.Step(ctx, env.Action{0})
	require.Error(t, err)
	assert.ErrorIs(t, err, errSensor)
	assert.Equal(t, StepResult{}, res)

	var envErr *env.EnvironmentError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "reset", envErr.Op)
	assert.Equal(t, 0, envErr.Tick)
	assert.Equal(t, StatusUninitialized, w.Status())
}

func TestFromConfig_WarnsWhenJitterOverridesRanges(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	cfg := delay.DefaultConfig()
	cfg.Mode = delay.ModeNetworkJitter2
	cfg.SupObservationDelay, cfg.SupActionDelay = 3, 1
	w, err := FromConfig(env.NewPendulum(1), cfg, WithLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, delay.Range{Min: 0, Sup: 4}, w.Shape().ActionDelay)
	assert.Contains(t, logs.String(), "configured ranges ignored")
	assert.Contains(t, logs.String(), `"level":"warn"`)

	logs.Reset()
	_, err = FromConfig(env.NewPendulum(1), delay.DefaultConfig(), WithLogger(logger))
	require.NoError(t, err)
	assert.Empty(t, logs.String())
}

func TestWrapper_ConfigurationErrors(t *testing.T) {
	cfg := delay.DefaultConfig()
	cfg.MinActionDelay, cfg.SupActionDelay = 2, 2
	_, err := FromConfig(env.NewPendulum(1), cfg)
	assert.ErrorIs(t, err, env.ErrConfiguration)

	_, err = New(nil, newScripted(delay.Range{Sup: 1}, delay.Range{Sup: 1}, []int{0}, []int{0}))
	assert.ErrorIs(t, err, env.ErrConfiguration)
}

func TestWrapper_StateRoundTrip(t *testing.T) {
	cfg := delay.DefaultConfig()
	cfg.Seed = 3
	a := pendulumWrapper(t, cfg, 12, 30)
	ctx := context.Background()

	_, err := a.Reset(ctx)
	require.NoError(t, err)
	for i := 0; i < 17; i++ {
		_, err := a.Step(ctx, actionAt(i))
		require.NoError(t, err)
	}

	st, err := a.ExportState()
	require.NoError(t, err)
	raw, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, StatusReady, decoded.Status)

	other := delay.DefaultConfig()
	other.Seed = 999
	b := pendulumWrapper(t, other, 0, 30)
	require.NoError(t, b.ImportState(decoded))
	assert.Equal(t, a.Tick(), b.Tick())

	for i := 17; i < 60; i++ {
		ra, err := a.Step(ctx, actionAt(i))
		require.NoError(t, err)
		rb, err := b.Step(ctx, actionAt(i))
		require.NoError(t, err)
		require.Equal(t, ra.Trace, rb.Trace, "tick %d", i)
		require.Equal(t, ra.Observation.Digest(), rb.Observation.Digest())
		require.Equal(t, ra.Done, rb.Done)
	}
}

func TestWrapper_ImportStateRejectsMismatch(t *testing.T) {
	w := pendulumWrapper(t, delay.DefaultConfig(), 1, 0)
	_, err := w.Reset(context.Background())
	require.NoError(t, err)
	st, err := w.ExportState()
	require.NoError(t, err)

	bad := st
	bad.Version = 99
	assert.ErrorIs(t, w.ImportState(bad), env.ErrContract)

	bad = st
	bad.ActionDelay = delay.Range{Min: 0, Sup: 5}
	assert.ErrorIs(t, w.ImportState(bad), env.ErrContract)

	bad = st
	bad.ActionBuffer = bad.ActionBuffer[1:]
	assert.ErrorIs(t, w.ImportState(bad), env.ErrContract)
}

func TestWrapper_FailedImportLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	w := pendulumWrapper(t, delay.DefaultConfig(), 1, 50)
	_, err := w.Reset(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = w.Step(ctx, actionAt(i))
		require.NoError(t, err)
	}
	before, err := w.ExportState()
	require.NoError(t, err)

	bad := before
	bad.ActionBuffer = make([]env.Action, len(before.ActionBuffer))
	for i := range bad.ActionBuffer {
		bad.ActionBuffer[i] = env.Action{0.9}
	}
	bad.UnderlyingEnvState = json.RawMessage(`{"elapsed":7,"inner":"garbage"}`)
	require.Error(t, w.ImportState(bad))

	after, err := w.ExportState()
	require.NoError(t, err)
	assert.Equal(t, before.ActionBuffer, after.ActionBuffer)
	assert.JSONEq(t, string(before.UnderlyingEnvState), string(after.UnderlyingEnvState))
	assert.Equal(t, before, after)
}

func TestAugmentedObservation_Flatten(t *testing.T) {
	aug := AugmentedObservation{
		Observation:      env.Observation{1, 2},
		ActionBuffer:     []env.Action{{3}, {4}},
		ObservationDelay: 5,
		ActionDelay:      6,
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, aug.Flatten())
	assert.NotEmpty(t, aug.Digest())
}
