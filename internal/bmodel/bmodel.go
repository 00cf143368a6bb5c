// Package bmodel implements the building thermal model (spec §4.6): it
// smooths the outdoor sensor into a fast and a filtered/attenuated
// trend, and latches the summer/frost flags the rest of the plant
// reacts to. Run-side fields are read concurrently by the log thread,
// so they live in atomics rather than behind a mutex.
package bmodel

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// OutdoorAvgUpdateDt is the minimum interval, in ticks, between
// t_out_filt/t_out_att updates (spec: 600 s).
const OutdoorAvgUpdateDt clock.Tick = 600

// OutdoorSource is the temperature sensor collaborator (internal/sensors.Sensor
// satisfies this).
type OutdoorSource interface {
	Get() (numeric.Temp, error)
}

// Persister optionally persists the slow-moving filtered/attenuated
// trend across restarts.
type Persister interface {
	SaveBModel(name string, tOutFilt, tOutAtt numeric.Temp) error
}

// BModel is one named building model instance.
type BModel struct {
	Name    string
	Outdoor OutdoorSource
	Store   Persister // nil disables persistence

	LimitTFrost  numeric.Temp
	LimitTSummer numeric.Temp
	Tau          clock.Tick // filter/attenuation time constant

	tOut     atomic.Int32
	tOutFilt atomic.Int32
	tOutAtt  atomic.Int32
	tOutMix  atomic.Int32
	summer   atomic.Bool
	frost    atomic.Bool

	lastSensorTick clock.Tick
	haveLastSensor bool
	lastFilterTick clock.Tick
	haveLastFilter bool
}

// New constructs a BModel. tOutFilt/tOutAtt may be seeded from a prior
// persisted run via Restore.
func New(name string, outdoor OutdoorSource, limitTFrost, limitTSummer numeric.Temp, tau clock.Tick) *BModel {
	return &BModel{
		Name:         name,
		Outdoor:      outdoor,
		LimitTFrost:  limitTFrost,
		LimitTSummer: limitTSummer,
		Tau:          tau,
	}
}

// Restore seeds the filtered/attenuated trend from a persisted value.
func (b *BModel) Restore(tOutFilt, tOutAtt numeric.Temp) {
	b.tOutFilt.Store(int32(tOutFilt))
	b.tOutAtt.Store(int32(tOutAtt))
	// Skip the first-tick saturation so the restored trend is kept.
	b.haveLastFilter = true
}

// Tick runs one building-model update (§4.6 steps 1-6). A non-nil
// return means the outdoor sensor failed this tick (an alarm
// condition); the model still substitutes LimitTFrost-1K and proceeds
// so frost/summer stay well-defined.
func (b *BModel) Tick(now clock.Tick) error {
	sample, readErr := b.Outdoor.Get()
	if readErr != nil {
		sample = b.LimitTFrost - numeric.DeltaKToTemp(1)
		log.Warn().Str("bmodel", b.Name).Err(readErr).Msg("outdoor sensor failed, substituting frost-guaranteeing value")
	}

	dtSensor := clock.Tick(60) // bootstrap: saturate tOut to the first reading
	if b.haveLastSensor {
		dtSensor = now.Sub(b.lastSensorTick)
	}
	b.lastSensorTick = now
	b.haveLastSensor = true

	tOut := numeric.ExpwMavg(numeric.Temp(b.tOut.Load()), sample, 60, dtSensor)
	b.tOut.Store(int32(tOut))

	if !b.haveLastFilter || now.Sub(b.lastFilterTick) >= OutdoorAvgUpdateDt {
		dtFilter := b.Tau // bootstrap: saturate tOutFilt/tOutAtt to the first reading
		if b.haveLastFilter {
			dtFilter = now.Sub(b.lastFilterTick)
		}
		b.lastFilterTick = now
		b.haveLastFilter = true

		tOutFilt := numeric.ExpwMavg(numeric.Temp(b.tOutFilt.Load()), tOut, b.Tau, dtFilter)
		tOutAtt := numeric.ExpwMavg(numeric.Temp(b.tOutAtt.Load()), tOutFilt, b.Tau, dtFilter)
		b.tOutFilt.Store(int32(tOutFilt))
		b.tOutAtt.Store(int32(tOutAtt))

		if b.Store != nil {
			if err := b.Store.SaveBModel(b.Name, tOutFilt, tOutAtt); err != nil {
				log.Warn().Str("bmodel", b.Name).Err(err).Msg("failed to persist building model trend")
			}
		}
	}

	tOutFilt := numeric.Temp(b.tOutFilt.Load())
	tOutMix := tOut + (tOutFilt-tOut)/2
	b.tOutMix.Store(int32(tOutMix))
	tOutAtt := numeric.Temp(b.tOutAtt.Load())

	b.updateFrost(tOut)
	b.updateSummer(tOut, tOutMix, tOutAtt)

	if readErr != nil {
		return xerr.Wrap(xerr.SensorInvalid, "bmodel "+b.Name+" outdoor sensor failed", readErr)
	}
	return nil
}

func (b *BModel) updateSummer(tOut, tOutMix, tOutAtt numeric.Temp) {
	switch {
	case tOut > b.LimitTSummer && tOutMix > b.LimitTSummer && tOutAtt > b.LimitTSummer:
		b.summer.Store(true)
	case tOut < b.LimitTSummer && tOutMix < b.LimitTSummer && tOutAtt < b.LimitTSummer:
		b.summer.Store(false)
	}
	if b.frost.Load() {
		b.summer.Store(false)
	}
}

func (b *BModel) updateFrost(tOut numeric.Temp) {
	switch {
	case tOut < b.LimitTFrost:
		b.frost.Store(true)
	case tOut > b.LimitTFrost+numeric.DeltaKToTemp(1):
		b.frost.Store(false)
	}
}

// TOut returns the fast-smoothed outdoor temperature.
func (b *BModel) TOut() numeric.Temp { return numeric.Temp(b.tOut.Load()) }

// TOutFilt returns the filtered outdoor trend.
func (b *BModel) TOutFilt() numeric.Temp { return numeric.Temp(b.tOutFilt.Load()) }

// TOutAtt returns the attenuated outdoor trend.
func (b *BModel) TOutAtt() numeric.Temp { return numeric.Temp(b.tOutAtt.Load()) }

// TOutMix returns the average of TOut and TOutFilt.
func (b *BModel) TOutMix() numeric.Temp { return numeric.Temp(b.tOutMix.Load()) }

// Summer reports the latched summer flag.
func (b *BModel) Summer() bool { return b.summer.Load() }

// Frost reports the latched frost flag.
func (b *BModel) Frost() bool { return b.frost.Load() }
