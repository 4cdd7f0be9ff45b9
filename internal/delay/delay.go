// Package delay samples the integer observation and action delays applied
// by the delay wrapper on every tick.
package delay

import (
	"fmt"
	"strings"

	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/rng"
)

// Range is a half-open integer interval [Min, Sup).
type Range struct {
	Min int `json:"min"`
	Sup int `json:"sup"`
}

// Validate rejects negative minimums and empty ranges.
func (r Range) Validate(field string) error {
	if r.Min < 0 {
		return &env.ConfigurationError{Field: field, Reason: fmt.Sprintf("min %d is negative", r.Min)}
	}
	if r.Min >= r.Sup {
		return &env.ConfigurationError{Field: field, Reason: fmt.Sprintf("min %d must be below sup %d", r.Min, r.Sup)}
	}
	return nil
}

// Contains reports whether d lies in the range.
func (r Range) Contains(d int) bool { return d >= r.Min && d < r.Sup }

// Width is the number of admissible values.
func (r Range) Width() int { return r.Sup - r.Min }

// Distribution draws one observation delay and one action delay per tick.
// Every sample consumes exactly one draw from the owned source.
type Distribution interface {
	SampleObservationDelay() int
	SampleActionDelay() int
	ObservationRange() Range
	ActionRange() Range
	Source() *rng.Source
}

// Mode selects a Distribution variant.
type Mode string

const (
	ModeUniform        Mode = "uniform"
	ModeNetworkJitter1 Mode = "network_jitter_1"
	ModeNetworkJitter2 Mode = "network_jitter_2"
)

// Modes lists the supported variants.
func Modes() []Mode {
	return []Mode{ModeUniform, ModeNetworkJitter1, ModeNetworkJitter2}
}

// ParseMode accepts a mode name case-insensitively. The legacy numeric
// sampler ids 0, 1 and 2 are accepted as well.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform", "0", "":
		return ModeUniform, nil
	case "network_jitter_1", "wifi1", "1":
		return ModeNetworkJitter1, nil
	case "network_jitter_2", "wifi2", "2":
		return ModeNetworkJitter2, nil
	default:
		return "", &env.ConfigurationError{Field: "delay_mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
}

// Config is the construction configuration of a Distribution.
type Config struct {
	Mode                Mode  `mapstructure:"delay_mode" yaml:"delay_mode" json:"delay_mode"`
	MinObservationDelay int   `mapstructure:"min_observation_delay" yaml:"min_observation_delay" json:"min_observation_delay"`
	SupObservationDelay int   `mapstructure:"sup_observation_delay" yaml:"sup_observation_delay" json:"sup_observation_delay"`
	MinActionDelay      int   `mapstructure:"min_action_delay" yaml:"min_action_delay" json:"min_action_delay"`
	SupActionDelay      int   `mapstructure:"sup_action_delay" yaml:"sup_action_delay" json:"sup_action_delay"`
	Seed                int64 `mapstructure:"seed" yaml:"seed" json:"seed"`
}

// DefaultConfig mirrors the reference random-delay setup: observation
// delays in [0, 8) and action delays in [0, 2), uniformly sampled.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeUniform,
		MinObservationDelay: 0,
		SupObservationDelay: 8,
		MinActionDelay:      0,
		SupActionDelay:      2,
	}
}

// ObservationRange returns the configured observation delay range.
func (c Config) ObservationRange() Range {
	return Range{Min: c.MinObservationDelay, Sup: c.SupObservationDelay}
}

// ActionRange returns the configured action delay range.
func (c Config) ActionRange() Range {
	return Range{Min: c.MinActionDelay, Sup: c.SupActionDelay}
}

// Validate checks both delay ranges and the mode.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if err := c.ObservationRange().Validate("observation_delay"); err != nil {
		return err
	}
	return c.ActionRange().Validate("action_delay")
}

// New builds the Distribution selected by cfg. The network jitter variants
// carry their own ranges; the configured ranges must still be valid.
func New(cfg Config) (Distribution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := ParseMode(string(cfg.Mode))
	switch mode {
	case ModeNetworkJitter1:
		return NewNetworkJitter(Jitter1, cfg.Seed), nil
	case ModeNetworkJitter2:
		return NewNetworkJitter(Jitter2, cfg.Seed), nil
	default:
		return NewUniform(cfg.ObservationRange(), cfg.ActionRange(), cfg.Seed)
	}
}
