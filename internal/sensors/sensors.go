// Package sensors implements the named temperature sensor abstraction
// (spec §4.2): a sensor samples one or more backend sources at most
// every Period ticks, aggregates them under Op, applies a per-source
// ignore-threshold filter, and resolves per-source read failures
// according to Missing.
package sensors

import (
	"sync"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// AggOp selects how multiple source readings combine into one value.
type AggOp int

const (
	OpFirst AggOp = iota
	OpMin
	OpMax
)

// MissingPolicy controls how a Sensor reacts to a single source's read
// failure (including a reading that fails validation or falls outside
// the ignore-threshold window).
type MissingPolicy int

const (
	// MissFail aborts the whole sample with the failing source's error.
	MissFail MissingPolicy = iota
	// MissIgnore drops the failing source and aggregates the rest.
	MissIgnore
	// MissIgnoreDefault substitutes Sensor.Default for the failing source.
	MissIgnoreDefault
)

// Source is a backend temperature source (one-wire bus, modbus
// register, simulator, ...).
type Source interface {
	Read(id string) (numeric.Temp, error)
}

// SourceRef is one backend source a Sensor aggregates over, in order.
type SourceRef struct {
	Source Source
	ID     string
}

// Sensor is a single named temperature point.
type Sensor struct {
	Name    string
	Sources []SourceRef
	Op      AggOp
	Period  clock.Tick
	IgnTemp numeric.Temp // 0 disables the ignore-threshold filter
	Missing MissingPolicy
	Default numeric.Temp

	mu           sync.RWMutex
	cached       numeric.Temp
	haveCached   bool
	lastSampleAt clock.Tick
	haveSample   bool
}

// New constructs a Sensor.
func New(name string, sources []SourceRef, op AggOp, period clock.Tick, ignTemp numeric.Temp, missing MissingPolicy, def numeric.Temp) *Sensor {
	return &Sensor{
		Name:    name,
		Sources: sources,
		Op:      op,
		Period:  period,
		IgnTemp: ignTemp,
		Missing: missing,
		Default: def,
	}
}

// Sample re-reads the backend sources if Period ticks have elapsed
// since the last sample, aggregating into the cached reading.
func (s *Sensor) Sample(now clock.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveSample && now.Sub(s.lastSampleAt) < s.Period {
		return nil
	}
	s.lastSampleAt = now
	s.haveSample = true

	readings := make([]numeric.Temp, 0, len(s.Sources))
	for _, src := range s.Sources {
		v, err := s.readOne(src)
		if err != nil {
			return err
		}
		if v == numeric.TempUnset && s.Missing == MissIgnore {
			continue
		}
		readings = append(readings, v)
	}

	if len(readings) == 0 {
		return xerr.New(xerr.SensorInvalid, "sensor "+s.Name+" has no valid sources")
	}

	s.cached = aggregate(s.Op, readings)
	s.haveCached = true
	return nil
}

// readOne reads and validates a single source, applying Missing on
// failure. It returns (TempUnset, nil) to mean "source dropped, caller
// should skip it" under MissIgnore.
func (s *Sensor) readOne(src SourceRef) (numeric.Temp, error) {
	v, err := src.Source.Read(src.ID)
	if err == nil {
		err = numeric.ValidateTemp(v)
	}
	if err == nil && s.haveCached && s.IgnTemp > 0 {
		if absTemp(v-s.cached) > s.IgnTemp {
			err = xerr.New(xerr.SensorInvalid, "reading outside ignore-threshold window")
		}
	}
	if err == nil {
		return v, nil
	}

	switch s.Missing {
	case MissFail:
		return 0, err
	case MissIgnoreDefault:
		return s.Default, nil
	default: // MissIgnore
		return numeric.TempUnset, nil
	}
}

func aggregate(op AggOp, readings []numeric.Temp) numeric.Temp {
	agg := readings[0]
	for _, v := range readings[1:] {
		switch op {
		case OpMin:
			if v < agg {
				agg = v
			}
		case OpMax:
			if v > agg {
				agg = v
			}
		default: // OpFirst
		}
	}
	return agg
}

func absTemp(t numeric.Temp) numeric.Temp {
	if t < 0 {
		return -t
	}
	return t
}

// Get returns the cached reading (temperature_get).
func (s *Sensor) Get() (numeric.Temp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveCached {
		return numeric.TempUnset, xerr.New(xerr.SensorInvalid, "sensor "+s.Name+" has no reading yet")
	}
	return s.cached, nil
}

// Time returns the tick of the last sample attempt (temperature_time).
func (s *Sensor) Time() (clock.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSampleAt, s.haveSample
}
