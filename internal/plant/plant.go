// Package plant implements the orchestrator (spec §4.10): it runs
// every building model, DHWT, circuit and heatsource in a fixed order
// each tick, aggregates the backpressure signals heatsources and DHWTs
// feed back to circuits, and performs summer maintenance exercise runs
// when the plant is otherwise idle.
package plant

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/bmodel"
	"github.com/oebus/hvac-plant/internal/circuit"
	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/dhwt"
	"github.com/oebus/hvac-plant/internal/heatsource/boiler"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/valve"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// noncritShift is the partial circuit inhibition applied while a DHWT
// charges under a sliding priority class (spec §4.8 "sliding/parallel
// variants with partial inhibition via consumer_shift" — no formula is
// given, so the magnitudes below are this implementation's choice; see
// DESIGN.md).
const (
	noncritShiftSlidMax = -50
	noncritShiftSlidDHW = -25
)

// CircuitBinding pairs a circuit with the callback that resolves its
// runmode for the current tick (owned by the scheduler/runtime layer).
type CircuitBinding struct {
	*circuit.Circuit
	Runmode func() mode.Runmode
}

// DHWTBinding pairs a DHWT with its per-tick runmode and recirculation
// request callbacks.
type DHWTBinding struct {
	*dhwt.DHWT
	Runmode          func() mode.Runmode
	RecycleRequested func() bool
}

// HeatsourceBinding pairs a boiler heatsource with its per-tick runmode
// callback.
type HeatsourceBinding struct {
	*boiler.Boiler
	Runmode func() mode.Runmode
}

// Plant owns every domain object in the installation and runs them in
// the fixed §4.10 order each tick.
type Plant struct {
	BModels []*bmodel.BModel

	DHWTs       []*DHWTBinding
	Circuits    []*CircuitBinding
	Heatsources []*HeatsourceBinding

	// LegionellaActive reports whether the active schedule entry
	// requests an anti-legionella charge this tick. nil means never.
	LegionellaActive func() bool

	SummerMaintenance bool
	SummerRunInterval clock.Tick
	SummerRunDuration clock.Tick

	mu             sync.Mutex
	sleepSince     clock.Tick
	haveSleepSince bool
	maintStartTick clock.Tick
	haveMaintStart bool

	consumerShift  atomic.Int64 // percent, fixed-point *100
	consumerSDelay atomic.Int64
	couldSleep     atomic.Bool
	dhwcAbsolute   atomic.Bool
	summerMaintOn  atomic.Bool
}

// Tick runs one full plant cycle (§4.10 steps 1-8). The backpressure
// signals (consumer_shift, consumer_sdelay, could_sleep) a circuit or
// DHWT reads this tick are last tick's aggregate, since heatsources —
// which produce them — only run after circuits in the fixed order;
// this one-tick lag is inherent to the pipeline, not a bug.
func (p *Plant) Tick(now clock.Tick, wallNow time.Time) {
	for _, bm := range p.BModels {
		if err := bm.Tick(now); err != nil {
			log.Warn().Str("bmodel", bm.Name).Err(err).Msg("building model tick failed")
		}
	}

	prevShift := p.ConsumerShift()
	prevSDelay := p.ConsumerSDelay()
	prevCouldSleep := p.CouldSleep()

	dhwcAbsolute, noncritShift := p.tickDHWTs(now, wallNow, prevCouldSleep)
	p.dhwcAbsolute.Store(dhwcAbsolute)

	for _, cb := range p.Circuits {
		cb.SetFloorOutput(dhwcAbsolute)
	}
	p.tickCircuits(now, wallNow, prevShift, prevSDelay)

	critShift, maxSDelay, allCouldSleep := p.tickHeatsources(now, wallNow)

	shift := noncritShift
	if critShift != 0 {
		shift = critShift
	}
	p.consumerShift.Store(int64(shift * 100))
	p.consumerSDelay.Store(int64(maxSDelay))
	p.couldSleep.Store(allCouldSleep)

	p.runSummerMaintenance(now, wallNow, allCouldSleep)
}

func (p *Plant) tickDHWTs(now clock.Tick, wallNow time.Time, couldSleep bool) (absolute bool, noncritShift float64) {
	legionella := false
	if p.LegionellaActive != nil {
		legionella = p.LegionellaActive()
	}

	for _, db := range p.DHWTs {
		runmode := mode.RunFrostfree
		if db.Runmode != nil {
			runmode = db.Runmode()
		}
		recycle := false
		if db.RecycleRequested != nil {
			recycle = db.RecycleRequested()
		}

		thisAbsolute, err := db.Tick(now, wallNow, runmode, couldSleep, legionella, recycle)
		if err != nil && !xerr.IsBenign(err) {
			log.Warn().Str("dhwt", db.Name).Err(err).Msg("dhwt tick failed")
		}
		if thisAbsolute {
			absolute = true
			continue
		}

		if !db.ChargeOn() || db.ElectricMode() {
			continue
		}
		switch db.Priority {
		case mode.PrioSlidMax:
			noncritShift = minShift(noncritShift, noncritShiftSlidMax)
		case mode.PrioSlidDHW:
			noncritShift = minShift(noncritShift, noncritShiftSlidDHW)
		}
	}
	return absolute, noncritShift
}

func minShift(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}

func (p *Plant) tickCircuits(now clock.Tick, wallNow time.Time, shiftPercent float64, sDelay clock.Tick) {
	for _, cb := range p.Circuits {
		runmode := mode.RunFrostfree
		if cb.Runmode != nil {
			runmode = cb.Runmode()
		}
		if err := cb.Tick(now, wallNow, runmode, shiftPercent, sDelay); err != nil && !xerr.IsBenign(err) {
			log.Warn().Str("circuit", cb.Name).Err(err).Msg("circuit tick failed")
		}
	}
}

func (p *Plant) tickHeatsources(now clock.Tick, wallNow time.Time) (critShift float64, maxSDelay clock.Tick, allCouldSleep bool) {
	allCouldSleep = true
	tempRequest := p.aggregateHeatRequest()
	frostActive := len(p.BModels) > 0 && p.BModels[0].Frost()

	for _, hb := range p.Heatsources {
		runmode := mode.RunFrostfree
		if hb.Runmode != nil {
			runmode = hb.Runmode()
		}

		if err := hb.Logic(now, wallNow, runmode, tempRequest, frostActive); err != nil && !xerr.IsBenign(err) {
			log.Warn().Str("heatsource", hb.Name).Err(err).Msg("heatsource logic failed")
		}
		if err := hb.Run(now, wallNow, p.ConsumerSDelay()); err != nil && !xerr.IsBenign(err) {
			log.Warn().Str("heatsource", hb.Name).Err(err).Msg("heatsource run failed")
		}

		if c := float64(hb.CshiftCrit()); c != 0 && c < critShift {
			critShift = c
		}
		if d := hb.TargetConsumerSDelay(); d > maxSDelay {
			maxSDelay = d
		}
		if !hb.CouldSleep() {
			allCouldSleep = false
		}
	}
	return critShift, maxSDelay, allCouldSleep
}

// aggregateHeatRequest folds every circuit's and DHWT's heat request
// into the single highest demand the heatsources see this tick (spec
// §4.9.1 step 3's "heat.temp_request").
func (p *Plant) aggregateHeatRequest() numeric.Temp {
	req := numeric.TempUnset
	for _, cb := range p.Circuits {
		if r := cb.HeatRequest(); r != numeric.TempUnset && r > req {
			req = r
		}
	}
	for _, db := range p.DHWTs {
		if r := db.HeatRequest(); r != numeric.TempUnset && r > req {
			req = r
		}
	}
	return req
}

// runSummerMaintenance exercises idle actuators periodically through
// summer so seals and bearings don't seize (spec §4.10 step 8, §8
// worked example 6).
func (p *Plant) runSummerMaintenance(now clock.Tick, wallNow time.Time, couldSleep bool) {
	if !p.SummerMaintenance || len(p.BModels) == 0 {
		p.summerMaintOn.Store(false)
		return
	}

	summer := p.BModels[0].Summer()
	idle := summer && couldSleep

	p.mu.Lock()
	if !idle {
		p.haveSleepSince = false
		p.haveMaintStart = false
		p.mu.Unlock()
		p.summerMaintOn.Store(false)
		return
	}
	if !p.haveSleepSince {
		p.sleepSince = now
		p.haveSleepSince = true
	}

	due := now.Sub(p.sleepSince) > p.SummerRunInterval
	if due && !p.haveMaintStart {
		p.maintStartTick = now
		p.haveMaintStart = true
	}

	active := p.haveMaintStart && now.Sub(p.maintStartTick) < p.SummerRunDuration
	if p.haveMaintStart && !active {
		// Run window elapsed; wait another full interval before re-arming.
		p.haveMaintStart = false
		p.sleepSince = now
	}
	p.mu.Unlock()

	p.summerMaintOn.Store(active)
	if !active {
		return
	}

	for _, cb := range p.Circuits {
		if cb.FeedPump != nil {
			if err := cb.FeedPump.Set(true, wallNow); err != nil {
				log.Warn().Str("circuit", cb.Name).Err(err).Msg("summer maintenance pump drive failed")
			}
		}
		if cb.Valve != nil && cb.Valve.Driver != nil {
			cb.Valve.Driver.RequestMove(valve.Open, 1000)
			if err := cb.Valve.Driver.Run(wallNow); err != nil {
				log.Warn().Str("circuit", cb.Name).Err(err).Msg("summer maintenance valve drive failed")
			}
		}
	}
}

// ConsumerShift returns the last aggregated consumer-shift percent.
func (p *Plant) ConsumerShift() float64 { return float64(p.consumerShift.Load()) / 100 }

// ConsumerSDelay returns the last aggregated consumer stop-delay, in ticks.
func (p *Plant) ConsumerSDelay() clock.Tick { return clock.Tick(p.consumerSDelay.Load()) }

// CouldSleep reports whether every heatsource could fully stop this tick.
func (p *Plant) CouldSleep() bool { return p.couldSleep.Load() }

// DHWCAbsolute reports whether a DHWT is charging under absolute priority.
func (p *Plant) DHWCAbsolute() bool { return p.dhwcAbsolute.Load() }

// SummerMaintenanceActive reports whether a summer exercise run is in progress.
func (p *Plant) SummerMaintenanceActive() bool { return p.summerMaintOn.Load() }
