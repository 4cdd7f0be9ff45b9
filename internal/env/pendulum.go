package env

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cartridge/delayenv/internal/rng"
)

const (
	pendulumMaxSpeed  = 8.0
	pendulumMaxTorque = 2.0
	pendulumDt        = 0.05
	pendulumGravity   = 10.0
	pendulumMass      = 1.0
	pendulumLength    = 1.0
)

// Pendulum is the classic swing-up task. Actions are normalised torques in
// [-1, 1] scaled to the physical torque limit. The task never terminates on
// its own; wrap it in a TimeLimit.
type Pendulum struct {
	src      *rng.Source
	theta    float64
	thetaDot float64
}

// NewPendulum returns a pendulum seeded with seed.
func NewPendulum(seed int64) *Pendulum {
	return &Pendulum{src: rng.New(seed)}
}

func (p *Pendulum) ObservationSpace() Space {
	return Space{
		Low:  []float64{-1, -1, -pendulumMaxSpeed},
		High: []float64{1, 1, pendulumMaxSpeed},
	}
}

func (p *Pendulum) ActionSpace() Space { return Box(1, -1, 1) }

func (p *Pendulum) Reset(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.theta = -math.Pi + 2*math.Pi*p.src.Float64()
	p.thetaDot = -1 + 2*p.src.Float64()
	return p.observe(), nil
}

func (p *Pendulum) Step(ctx context.Context, action Action) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	if len(action) != 1 {
		return Step{}, DimensionMismatch("pendulum action", 1, len(action))
	}
	u := clip(action[0]*pendulumMaxTorque, -pendulumMaxTorque, pendulumMaxTorque)

	th := angleNormalize(p.theta)
	cost := th*th + 0.1*p.thetaDot*p.thetaDot + 0.001*u*u

	newThetaDot := p.thetaDot + (3*pendulumGravity/(2*pendulumLength)*math.Sin(p.theta)+
		3/(pendulumMass*pendulumLength*pendulumLength)*u)*pendulumDt
	newThetaDot = clip(newThetaDot, -pendulumMaxSpeed, pendulumMaxSpeed)
	p.theta += newThetaDot * pendulumDt
	p.thetaDot = newThetaDot

	return Step{Observation: p.observe(), Reward: -cost, Info: Info{}}, nil
}

func (p *Pendulum) observe() Observation {
	return Observation{math.Cos(p.theta), math.Sin(p.theta), p.thetaDot}
}

type pendulumState struct {
	Theta    float64      `json:"theta"`
	ThetaDot float64      `json:"theta_dot"`
	RNG      rng.Position `json:"rng"`
}

func (p *Pendulum) MarshalState() ([]byte, error) {
	return json.Marshal(pendulumState{Theta: p.theta, ThetaDot: p.thetaDot, RNG: p.src.Position()})
}

func (p *Pendulum) RestoreState(data []byte) error {
	var st pendulumState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode pendulum state: %w", err)
	}
	p.theta = st.Theta
	p.thetaDot = st.ThetaDot
	p.src.Restore(st.RNG.Seed, st.RNG.Draws)
	return nil
}

func angleNormalize(x float64) float64 {
	return math.Mod(math.Mod(x+math.Pi, 2*math.Pi)+2*math.Pi, 2*math.Pi) - math.Pi
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
