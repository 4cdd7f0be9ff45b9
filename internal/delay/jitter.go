package delay

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/cartridge/delayenv/internal/rng"
)

// JitterProfile is a fixed categorical latency model. Weights[i] is the
// relative frequency of a delay of Min+i ticks.
type JitterProfile struct {
	Name               string
	ObservationMin     int
	ObservationWeights []float64
	ActionMin          int
	ActionWeights      []float64
}

// Jitter1 models a mostly-clean link with occasional multi-tick stalls.
var Jitter1 = JitterProfile{
	Name:               string(ModeNetworkJitter1),
	ObservationWeights: []float64{0.50, 0.25, 0.10, 0.05, 0.04, 0.03, 0.02, 0.01},
	ActionWeights:      []float64{0.8, 0.2},
}

// Jitter2 models a congested link with a heavier tail on both channels.
var Jitter2 = JitterProfile{
	Name:               string(ModeNetworkJitter2),
	ObservationWeights: []float64{0.30, 0.30, 0.15, 0.08, 0.06, 0.05, 0.03, 0.03},
	ActionWeights:      []float64{0.60, 0.25, 0.10, 0.05},
}

type categorical struct {
	r   Range
	cum []float64
}

func newCategorical(min int, weights []float64) categorical {
	cum := floats.CumSum(make([]float64, len(weights)), weights)
	floats.Scale(1/cum[len(cum)-1], cum)
	return categorical{r: Range{Min: min, Sup: min + len(weights)}, cum: cum}
}

func (c categorical) sample(u float64) int {
	i := sort.Search(len(c.cum), func(i int) bool { return c.cum[i] > u })
	if i == len(c.cum) {
		i = len(c.cum) - 1
	}
	return c.r.Min + i
}

// NetworkJitter draws delays from a baked JitterProfile.
type NetworkJitter struct {
	name string
	obs  categorical
	act  categorical
	src  *rng.Source
}

// NewNetworkJitter returns a sampler for profile seeded with seed.
func NewNetworkJitter(profile JitterProfile, seed int64) *NetworkJitter {
	return &NetworkJitter{
		name: profile.Name,
		obs:  newCategorical(profile.ObservationMin, profile.ObservationWeights),
		act:  newCategorical(profile.ActionMin, profile.ActionWeights),
		src:  rng.New(seed),
	}
}

// Name returns the profile name.
func (n *NetworkJitter) Name() string { return n.name }

func (n *NetworkJitter) SampleObservationDelay() int { return n.obs.sample(n.src.Float64()) }
func (n *NetworkJitter) SampleActionDelay() int      { return n.act.sample(n.src.Float64()) }
func (n *NetworkJitter) ObservationRange() Range     { return n.obs.r }
func (n *NetworkJitter) ActionRange() Range          { return n.act.r }
func (n *NetworkJitter) Source() *rng.Source         { return n.src }
