// Package numeric implements the fixed-point temperature representation
// and the handful of numeric operators the plant control core is built
// on: exponentially-weighted moving average, a rolling linear
// derivative, and a threshold-clamped integral (spec §4.1). All
// operators are total — no panics, no unsigned wraparound.
package numeric

import (
	"math"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// Temp is a fixed-point temperature in centidegrees Kelvin (0.01 K per
// unit). Zero is reserved as the "unset" marker so that it can never be
// produced by a real reading (absolute zero is unreachable in a
// hydronic system).
type Temp int32

const (
	// TempUnset marks "no reading yet" — the zero value.
	TempUnset Temp = 0
	// TempShortCircuit marks a sensor backend reporting a short.
	TempShortCircuit Temp = -1
	// TempDisconnected marks a sensor backend reporting an open circuit.
	TempDisconnected Temp = -2
)

const kelvinOffsetCenti = 27315 // 0°C in centi-Kelvin

// hardware-reasonable bounds: -50°C..150°C covers every sensor location
// in a hydronic plant (outdoor, boiler body, DHWT, floor loops) with
// margin; anything outside is a wiring fault, not a real reading.
var (
	hardwareMin = CelsiusToTemp(-50)
	hardwareMax = CelsiusToTemp(150)
)

// CelsiusToTemp converts a Celsius float to fixed-point Temp.
func CelsiusToTemp(c float64) Temp {
	return Temp(math.Round(c*100) + kelvinOffsetCenti)
}

// TempToCelsius converts a fixed-point Temp to Celsius.
func TempToCelsius(t Temp) float64 {
	return (float64(t) - kelvinOffsetCenti) / 100
}

// DeltaKToTemp converts a Kelvin delta (not an absolute temperature) to
// the same fixed-point scale, e.g. for hysteresis bands and shifts.
func DeltaKToTemp(dk float64) Temp {
	return Temp(math.Round(dk * 100))
}

// TempToDeltaK converts a fixed-point delta back to a Kelvin float.
func TempToDeltaK(t Temp) float64 {
	return float64(t) / 100
}

// Ikelvind is an integer Kelvin·duration accumulator, used by the
// threshold integrators (§4.1, §4.9). Expressed in centiKelvin·ticks.
type Ikelvind int64

// ValidateTemp checks that t is neither an unset/short/disconnected
// marker nor outside the hardware-reasonable range, returning a precise
// xerr.Kind on failure.
func ValidateTemp(t Temp) error {
	switch t {
	case TempUnset:
		return xerr.New(xerr.SensorInvalid, "temperature unset")
	case TempShortCircuit:
		return xerr.New(xerr.SensorShort, "sensor short-circuit")
	case TempDisconnected:
		return xerr.New(xerr.SensorDiscon, "sensor disconnected")
	}
	if t < hardwareMin || t > hardwareMax {
		return xerr.New(xerr.SensorInvalid, "temperature out of hardware range")
	}
	return nil
}

// ExpwMavg computes an exponentially-weighted moving average with time
// constant tau, advancing prev toward sample over elapsed dt ticks.
// dt=0 returns prev exactly (no drift on back-to-back calls at the same
// tick); dt>=tau saturates to sample.
func ExpwMavg(prev, sample Temp, tau, dt clock.Tick) Temp {
	if dt <= 0 {
		return prev
	}
	if tau <= 0 || dt >= tau {
		return sample
	}

	const scale = int64(1) << 16
	alpha := int64(dt) * scale / int64(tau)
	if alpha > scale {
		alpha = scale
	}
	delta := int64(sample) - int64(prev)
	return prev + Temp((delta*alpha)/scale)
}

// DerivState carries the rolling linear-derivative estimate between
// calls to LinDeriv.
type DerivState struct {
	have      bool
	lastValue Temp
	lastTime  clock.Tick
	// Deriv is the current estimate in centiKelvin per tick, scaled by
	// DerivScale so that fixed-point callers can keep it as an integer.
	Deriv int64
}

// DerivScale is the compile-time power-of-two denominator for Deriv.
const DerivScale = 1 << 16

// LinDeriv updates state with a new sample at the given time and
// returns the updated derivative estimate (centiKelvin/tick * DerivScale,
// sign-carrying). The estimate itself is EWMA-smoothed over tau so a
// single noisy sample can't swing it violently — this is the "rolling"
// part of the rolling linear derivative.
func LinDeriv(state *DerivState, sample Temp, now, tau clock.Tick) int64 {
	if !state.have {
		state.have = true
		state.lastValue = sample
		state.lastTime = now
		state.Deriv = 0
		return state.Deriv
	}

	dt := now.Sub(state.lastTime)
	if dt <= 0 {
		return state.Deriv
	}

	instant := (int64(sample-state.lastValue) * DerivScale) / int64(dt)

	const scale = int64(1) << 16
	alpha := int64(dt) * scale / int64(tau)
	if tau <= 0 || dt >= tau {
		alpha = scale
	}
	if alpha > scale {
		alpha = scale
	}

	state.Deriv += ((instant - state.Deriv) * alpha) / scale
	state.lastValue = sample
	state.lastTime = now
	return state.Deriv
}

// Reset clears a DerivState so the next LinDeriv call re-bootstraps
// from a fresh baseline (e.g. after a sensor failsafe recovery).
func (s *DerivState) Reset() {
	*s = DerivState{}
}

// IntgState carries a threshold integral's accumulated value between
// calls to ThrsIntg.
type IntgState struct {
	have     bool
	lastTime clock.Tick
	Value    Ikelvind // accumulated (sample-threshold) over time, clamped
}

// ThrsIntg integrates (sample-threshold) over elapsed time, clamping the
// running total to [jacketLo, jacketHi] (both in Ikelvind units, i.e.
// centiKelvin·ticks). Escaping the jacket on either side resets the
// accumulator to the escaped bound rather than letting it run away.
func ThrsIntg(state *IntgState, threshold, sample Temp, now clock.Tick, jacketLo, jacketHi Ikelvind) Ikelvind {
	if !state.have {
		state.have = true
		state.lastTime = now
		return state.Value
	}

	dt := now.Sub(state.lastTime)
	state.lastTime = now
	if dt <= 0 {
		return state.Value
	}

	delta := Ikelvind(int64(sample-threshold) * int64(dt))
	state.Value += delta

	if state.Value < jacketLo {
		state.Value = jacketLo
	}
	if state.Value > jacketHi {
		state.Value = jacketHi
	}
	return state.Value
}

// Reset clears the accumulated integral and re-bootstraps the time
// baseline at the next call, per spec's "resets on jacket escape
// request or explicit reset".
func (s *IntgState) Reset() {
	*s = IntgState{}
}
