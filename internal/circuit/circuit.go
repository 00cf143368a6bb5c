// Package circuit implements the heating circuit entity (spec §4.7):
// runmode selection, bilinear water-law evaluation, rate-of-rise
// limiting, and interference from plant-wide floor/shift signals.
package circuit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/valve"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// TempSensor is the collaborator contract circuits read sensors
// through (internal/sensors.Sensor satisfies this).
type TempSensor interface {
	Get() (numeric.Temp, error)
}

// Actuator is the collaborator contract for the circuit's feed pump.
type Actuator interface {
	Set(on bool, now time.Time) error
}

// Outdoor supplies the law's outdoor input (internal/bmodel.BModel satisfies this).
type Outdoor interface {
	TOut() numeric.Temp
}

// Circuit is one named heating circuit.
type Circuit struct {
	Name     string
	Outgoing TempSensor
	Valve    *valve.Valve
	FeedPump Actuator
	Outdoor  Outdoor

	Law   Law
	WtMin numeric.Temp
	WtMax numeric.Temp

	InOffset numeric.Temp

	RorhEnabled      bool
	WtempRorhPerHour float64 // Kelvin/hour

	ComfortAmbient   numeric.Temp
	EcoAmbient       numeric.Temp
	FrostfreeAmbient numeric.Temp

	mu             sync.Mutex
	rorhLastTarget numeric.Temp
	rorhUpdateTick clock.Tick
	haveRorh       bool

	runmode        atomic.Int32
	requestAmbient atomic.Int32
	targetAmbient  atomic.Int32
	actualWtemp    atomic.Int32
	targetWtemp    atomic.Int32
	heatRequest    atomic.Int32
	floorOutput    atomic.Bool
	online         atomic.Bool
}

// SetFloorOutput is called by the plant orchestrator when a DHWT with
// absolute priority is charging (§4.10 step 3).
func (c *Circuit) SetFloorOutput(on bool) { c.floorOutput.Store(on) }

// Tick runs one circuit evaluation (§4.7). runmode is the already-
// resolved runmode for this tick (schedule/systemmode resolution lives
// one layer up, in the runtime/plant). consumerShiftPercent and
// consumerSDelay are the plant-wide backpressure signals aggregated
// from the heatsources.
func (c *Circuit) Tick(now clock.Tick, wallNow time.Time, runmode mode.Runmode, consumerShiftPercent float64, consumerSDelay clock.Tick) error {
	runmode = resolveRunmode(runmode)
	c.runmode.Store(int32(runmode))

	if runmode == mode.RunOff {
		return c.handleOff(consumerSDelay)
	}

	actual, err := c.Outgoing.Get()
	if err != nil {
		return c.failsafe(wallNow, err)
	}
	c.actualWtemp.Store(int32(actual))
	c.online.Store(true)

	targetAmbient := c.resolveTargetAmbient(runmode)
	c.requestAmbient.Store(int32(targetAmbient))
	c.targetAmbient.Store(int32(targetAmbient))

	waterTarget := c.Law.Evaluate(c.Outdoor.TOut(), targetAmbient)
	waterTarget = c.applyRateOfRise(now, actual, waterTarget)
	waterTarget = clampTemp(waterTarget, c.WtMin, c.WtMax)

	preInterference := waterTarget
	interfered := c.applyInterference(waterTarget, consumerShiftPercent)

	// While floor_output is on the stored target is kept, so the floor
	// holds across ticks.
	if !c.floorOutput.Load() {
		c.targetWtemp.Store(int32(preInterference))
	}
	c.heatRequest.Store(int32(preInterference + c.InOffset))

	if c.FeedPump != nil {
		if err := c.FeedPump.Set(true, wallNow); err != nil {
			log.Warn().Str("circuit", c.Name).Err(err).Msg("feed pump drive failed")
		}
	}

	if c.Valve == nil {
		return nil
	}
	err = c.Valve.Tick(now, wallNow, valve.Inputs{Target: interfered, TempOut: actual})
	if err != nil && !xerr.IsBenign(err) {
		return err
	}
	return nil
}

func (c *Circuit) handleOff(consumerSDelay clock.Tick) error {
	if numeric.Temp(c.targetWtemp.Load()) != numeric.TempUnset && consumerSDelay > 0 {
		c.heatRequest.Store(int32(numeric.TempUnset))
		c.online.Store(true)
		return nil
	}
	c.online.Store(false)
	c.heatRequest.Store(int32(numeric.TempUnset))
	c.targetWtemp.Store(int32(numeric.TempUnset))
	if c.FeedPump != nil {
		if err := c.FeedPump.Set(false, time.Now()); err != nil {
			log.Warn().Str("circuit", c.Name).Err(err).Msg("feed pump drive failed while offline")
		}
	}
	return nil
}

// failsafe closes the valve fully and forces the feed pump on, per
// §4.7 step 2 ("prevents frost").
func (c *Circuit) failsafe(wallNow time.Time, cause error) error {
	c.online.Store(false)
	if c.Valve != nil && c.Valve.Driver != nil {
		c.Valve.Driver.RequestMove(valve.Close, 1000)
		if err := c.Valve.Driver.Run(wallNow); err != nil {
			log.Warn().Str("circuit", c.Name).Err(err).Msg("failsafe valve drive failed")
		}
	}
	if c.FeedPump != nil {
		if err := c.FeedPump.Set(true, wallNow); err != nil {
			log.Warn().Str("circuit", c.Name).Err(err).Msg("failsafe pump drive failed")
		}
	}
	return xerr.Wrap(xerr.SensorInvalid, "circuit "+c.Name+" outgoing sensor failed, failsafe engaged", cause)
}

func (c *Circuit) resolveTargetAmbient(runmode mode.Runmode) numeric.Temp {
	switch runmode {
	case mode.RunEco:
		return c.EcoAmbient
	case mode.RunFrostfree:
		return c.FrostfreeAmbient
	default:
		return c.ComfortAmbient
	}
}

// applyRateOfRise limits upward target movement to an hourly Kelvin
// budget, re-evaluated at most once every 60 ticks (§4.7 step 4).
func (c *Circuit) applyRateOfRise(now clock.Tick, actual, waterTarget numeric.Temp) numeric.Temp {
	if !c.RorhEnabled || waterTarget <= actual {
		c.mu.Lock()
		c.rorhLastTarget = waterTarget
		c.rorhUpdateTick = now
		c.haveRorh = true
		c.mu.Unlock()
		return waterTarget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveRorh {
		// Bootstrap: saturate to the first reading rather than ramping
		// up from the zero value, mirroring internal/bmodel's
		// dtFilter-equals-tau bootstrap for tOutFilt/tOutAtt.
		c.rorhLastTarget = waterTarget
		c.rorhUpdateTick = now
		c.haveRorh = true
		return waterTarget
	}

	due := now.Sub(c.rorhUpdateTick) >= 60
	if !due {
		return c.rorhLastTarget
	}

	dt := now.Sub(c.rorhUpdateTick)
	ceiling := numeric.ExpwMavg(c.rorhLastTarget, c.rorhLastTarget+numeric.DeltaKToTemp(c.WtempRorhPerHour), 3600, dt)
	if waterTarget > ceiling {
		waterTarget = ceiling
	}
	c.rorhLastTarget = waterTarget
	c.rorhUpdateTick = now
	return waterTarget
}

// applyInterference applies floor_output and the plant-wide
// consumer_shift, re-clamping to WtMax only (§4.7 step 6).
func (c *Circuit) applyInterference(waterTarget numeric.Temp, consumerShiftPercent float64) numeric.Temp {
	if c.floorOutput.Load() {
		prev := numeric.Temp(c.targetWtemp.Load())
		if prev > waterTarget {
			waterTarget = prev
		}
	}

	if consumerShiftPercent != 0 {
		wc := numeric.TempToCelsius(waterTarget)
		wc += wc * (consumerShiftPercent / 100)
		waterTarget = numeric.CelsiusToTemp(wc)
	}

	if waterTarget > c.WtMax {
		waterTarget = c.WtMax
	}
	return waterTarget
}

func resolveRunmode(r mode.Runmode) mode.Runmode {
	switch r {
	case mode.RunOff, mode.RunAuto, mode.RunComfort, mode.RunEco, mode.RunFrostfree, mode.RunDHWOnly, mode.RunTest, mode.RunSummaint:
		return r
	default:
		return mode.RunFrostfree
	}
}

func clampTemp(t, lo, hi numeric.Temp) numeric.Temp {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}

// Online reports whether the circuit is actively serving heat requests.
func (c *Circuit) Online() bool { return c.online.Load() }

// HeatRequest returns the last computed heat request.
func (c *Circuit) HeatRequest() numeric.Temp { return numeric.Temp(c.heatRequest.Load()) }

// TargetWtemp returns the last non-interfered water-law target; it is
// not updated while floor_output is on.
func (c *Circuit) TargetWtemp() numeric.Temp { return numeric.Temp(c.targetWtemp.Load()) }

// ActualWtemp returns the last outgoing-sensor reading.
func (c *Circuit) ActualWtemp() numeric.Temp { return numeric.Temp(c.actualWtemp.Load()) }

// Runmode returns the last resolved runmode.
func (c *Circuit) Runmode() mode.Runmode { return mode.Runmode(c.runmode.Load()) }
