package delay

import "github.com/cartridge/delayenv/internal/rng"

// Uniform draws each delay independently and uniformly from its range.
type Uniform struct {
	obs Range
	act Range
	src *rng.Source
}

// NewUniform validates both ranges and returns a seeded sampler.
func NewUniform(obs, act Range, seed int64) (*Uniform, error) {
	if err := obs.Validate("observation_delay"); err != nil {
		return nil, err
	}
	if err := act.Validate("action_delay"); err != nil {
		return nil, err
	}
	return &Uniform{obs: obs, act: act, src: rng.New(seed)}, nil
}

func (u *Uniform) SampleObservationDelay() int { return u.draw(u.obs) }
func (u *Uniform) SampleActionDelay() int      { return u.draw(u.act) }
func (u *Uniform) ObservationRange() Range     { return u.obs }
func (u *Uniform) ActionRange() Range          { return u.act }
func (u *Uniform) Source() *rng.Source         { return u.src }

func (u *Uniform) draw(r Range) int {
	d := r.Min + int(u.src.Float64()*float64(r.Width()))
	if d >= r.Sup {
		d = r.Sup - 1
	}
	return d
}
