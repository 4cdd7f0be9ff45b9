// Package rng provides the seeded random source owned by samplers and
// reference environments. The source counts its draws so that its exact
// position can be recorded and replayed.
package rng

import "math/rand"

// Source is a deterministic random source that remembers its seed and how
// many values have been drawn from it.
type Source struct {
	seed  int64
	draws uint64
	rng   *rand.Rand
}

// New returns a source seeded with seed.
func New(seed int64) *Source {
	return &Source{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Float64 returns a value in [0, 1) and consumes one draw.
func (s *Source) Float64() float64 {
	s.draws++
	return s.rng.Float64()
}

// Seed returns the seed the source was created with.
func (s *Source) Seed() int64 { return s.seed }

// Draws returns the number of values drawn so far.
func (s *Source) Draws() uint64 { return s.draws }

// Restore reseeds the source and fast-forwards it by draws values.
func (s *Source) Restore(seed int64, draws uint64) {
	s.seed = seed
	s.draws = 0
	s.rng = rand.New(rand.NewSource(seed))
	for s.draws < draws {
		s.Float64()
	}
}

// Position is the serialisable form of a source's state.
type Position struct {
	Seed  int64  `json:"seed"`
	Draws uint64 `json:"draws"`
}

// Position reports the current position of the source.
func (s *Source) Position() Position {
	return Position{Seed: s.seed, Draws: s.draws}
}
