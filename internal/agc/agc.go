// Package agc implements the world camera's automatic gain control
// feedback loop described in spec §4.3.2: a multiplicative controller
// that adjusts exposure first, and only pushes the remaining correction
// into analogue gain once exposure has saturated at its clamp.
package agc

import "time"

// Params bounds the controller's outputs. MaxIntensity is 255 for
// 8-bit samples or 65535 for 16-bit samples; Target defaults to
// (MaxIntensity+1)/2.
type Params struct {
	Speed         float64 // k in spec §4.3.2, fixed at 0.95
	MaxIntensity  float64
	ExposureMinUS int
	ExposureMaxUS int
	GainMin       float64
	GainMax       float64
}

// DefaultSpeed is the fixed damping coefficient from spec §3.
const DefaultSpeed = 0.95

// Target returns the controller's midpoint setpoint for the configured
// intensity range.
func (p Params) Target() float64 {
	return (p.MaxIntensity + 1) / 2
}

// State is the mutable AGC state carried between world camera frames.
type State struct {
	Gain       float64
	ExposureUS int
	LastUpdate time.Time
}

// NewState returns an initial state with the given starting gain and
// exposure.
func NewState(gain float64, exposureUS int) State {
	return State{Gain: gain, ExposureUS: exposureUS}
}

// Due reports whether at least interval has elapsed since LastUpdate
// (spec §4.3: AGC steps every ≥250ms).
func (s State) Due(now time.Time, interval time.Duration) bool {
	return s.LastUpdate.IsZero() || now.Sub(s.LastUpdate) >= interval
}

// Step computes one AGC update given the mean intensity of the most
// recently captured frame, mutating s in place and setting LastUpdate
// to now.
//
// Exposure is adjusted first, damped by p.Speed toward the ratio needed
// to bring mean to Target. If exposure saturates against its clamp
// before absorbing the full correction, whatever ratio remains is
// applied to gain the same way. Both outputs are clamped to their
// configured ranges.
func (s *State) Step(mean float64, p Params, now time.Time) {
	if mean <= 0 {
		mean = 1
	}
	ratio := p.Target() / mean

	idealExposure := float64(s.ExposureUS) * ratio
	reachableExposure := clampFloat(idealExposure, float64(p.ExposureMinUS), float64(p.ExposureMaxUS))
	dampedExposure := float64(s.ExposureUS) + p.Speed*(reachableExposure-float64(s.ExposureUS))
	newExposure := clampInt(int(dampedExposure), p.ExposureMinUS, p.ExposureMaxUS)

	// Gain only takes the part of the correction the exposure clamp cuts
	// off; while exposure has headroom this ratio is 1.
	remainingRatio := 1.0
	if s.ExposureUS > 0 && reachableExposure > 0 {
		remainingRatio = idealExposure / reachableExposure
	}

	idealGain := s.Gain * remainingRatio
	dampedGain := s.Gain + p.Speed*(idealGain-s.Gain)
	newGain := clampFloat(dampedGain, p.GainMin, p.GainMax)

	s.ExposureUS = newExposure
	s.Gain = newGain
	s.LastUpdate = now
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
