// Package boiler implements the boiler heatsource variant (spec §4.9):
// checklist failsafe, antifreeze, target selection, adaptive
// hysteresis with turn-on anticipation, cold-start and return-
// temperature protection integrators, and burner min-time gating.
package boiler

import (
	"math"
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

// CshiftMax is the saturating consumer-shift applied when the boiler
// trips its hard safety maximum — push consumers to dump heat as hard
// as possible (spec §4.9.1 step 5, §8 invariant "cshift_crit = MAX").
const CshiftMax = 100

// TempSensor is the collaborator contract for the boiler body and
// return sensors (internal/sensors.Sensor satisfies this).
type TempSensor interface {
	Get() (numeric.Temp, error)
}

// Actuator is the collaborator contract for the burner relays and load
// pump (internal/relay.Relay and internal/pump.Pump both satisfy this).
type Actuator interface {
	Set(on bool, now time.Time) error
}

// BurnerRelay additionally exposes the relay's current energized state,
// needed for the burner_min_time gate (internal/relay.Relay satisfies
// this).
type BurnerRelay interface {
	Actuator
	Get() bool
}

// Boiler is one boiler heatsource instance.
type Boiler struct {
	Name string

	Body   TempSensor
	Return TempSensor // nil if no return sensor fitted

	Burner1 BurnerRelay
	Burner2 Actuator // reserved, always left off (spec §9 Open Questions)

	LoadPump    Actuator
	ReturnValve *valve.Valve // nil if no return-mixing valve fitted

	IdleMode mode.IdleMode
	Hysteresis numeric.Temp

	LimitTMin       numeric.Temp
	LimitTMax       numeric.Temp
	LimitTHardMax   numeric.Temp
	HasTReturnMin   bool
	LimitTReturnMin numeric.Temp
	TFreeze         numeric.Temp

	BurnerMinTime clock.Tick

	mu              sync.Mutex
	deriv           numeric.DerivState
	coldStart       numeric.IntgState
	returnProtect   numeric.IntgState
	lastSwitchTick  clock.Tick
	haveLastSwitch  bool
	negderivStart   clock.Tick
	haveNegderiv    bool
	turnonNegderiv  float64
	turnonCurrAdj   float64
	turnonNextAdj   float64
	haveTurnedOn    bool
	onSinceNoRise   clock.Tick
	haveOnSinceRise bool
	peakSinceOn     numeric.Temp

	runmode              atomic.Int32
	active               atomic.Bool
	antifreeze           atomic.Bool
	overtemp             atomic.Bool
	failed               atomic.Bool
	online               atomic.Bool
	couldSleep           atomic.Bool
	targetTemp           atomic.Int32
	heatRequestRaw       atomic.Int32
	actualTemp           atomic.Int32
	cshiftCrit           atomic.Int32
	targetConsumerSDelay atomic.Int32
	trip                 atomic.Int32
	untrip               atomic.Int32
}

// Logic runs the boiler's logic phase (§4.9.1). tempRequest is the
// aggregated heat request from circuits/DHWTs (numeric.TempUnset means
// no consumer wants heat); frostActive comes from the building model.
func (b *Boiler) Logic(now clock.Tick, wallNow time.Time, runmode mode.Runmode, tempRequest numeric.Temp, frostActive bool) error {
	b.runmode.Store(int32(runmode))
	b.online.Store(true)

	body, bodyErr := b.Body.Get()
	if bodyErr != nil {
		b.failsafe(wallNow)
		b.failed.Store(true)
		return xerr.Wrap(xerr.SensorInvalid, "boiler "+b.Name+" checklist failed, body sensor unavailable", bodyErr)
	}
	b.failed.Store(false)

	if body < b.TFreeze {
		b.antifreeze.Store(true)
	} else if body > b.LimitTMin+b.Hysteresis/2 {
		b.antifreeze.Store(false)
	}

	target := b.selectBaseTarget(runmode, tempRequest)
	b.heatRequestRaw.Store(int32(target))

	couldSleep := target == numeric.TempUnset && b.idleAllowsSleep(frostActive)
	b.couldSleep.Store(couldSleep)

	if b.antifreeze.Load() && target < b.LimitTMin {
		target = b.LimitTMin
	}

	if target == numeric.TempUnset && couldSleep {
		b.active.Store(false)
		b.targetTemp.Store(int32(numeric.TempUnset))
	} else {
		if target < b.LimitTMin {
			target = b.LimitTMin
		}
		if target > b.LimitTMax {
			target = b.LimitTMax
		}
		b.active.Store(true)
		b.targetTemp.Store(int32(target))
	}

	b.actualTemp.Store(int32(body))

	if body > b.LimitTHardMax {
		b.failsafe(wallNow)
		b.overtemp.Store(true)
		b.cshiftCrit.Store(CshiftMax)
		return xerr.New(xerr.SafetyTripped, "boiler "+b.Name+" exceeded hard safety maximum")
	}

	tau := clock.Tick(60)
	if b.Burner1 != nil && b.Burner1.Get() {
		tau = 10
	}
	b.mu.Lock()
	numeric.LinDeriv(&b.deriv, body, now, tau)
	b.mu.Unlock()

	cshiftBoil := b.updateColdStartProtection(now, body)
	cshiftRet, err := b.updateReturnProtection(now, wallNow)
	if err != nil {
		log.Warn().Str("boiler", b.Name).Err(err).Msg("return-mixing valve drive failed")
	}

	cshiftCrit := cshiftBoil
	if cshiftRet < cshiftCrit {
		cshiftCrit = cshiftRet
	}
	b.cshiftCrit.Store(int32(cshiftCrit))

	return nil
}

func (b *Boiler) selectBaseTarget(runmode mode.Runmode, tempRequest numeric.Temp) numeric.Temp {
	switch runmode {
	case mode.RunComfort, mode.RunEco, mode.RunDHWOnly, mode.RunFrostfree:
		return tempRequest
	case mode.RunTest:
		return b.LimitTMax
	default:
		return numeric.TempUnset
	}
}

func (b *Boiler) idleAllowsSleep(frostActive bool) bool {
	switch b.IdleMode {
	case mode.IdleAlways:
		return true
	case mode.IdleFrostOnly:
		return !frostActive
	default:
		return false
	}
}

// updateColdStartProtection integrates (actual-limit_tmin) jacketed to
// [-100 K*s, 0] and returns cshift_boil (§4.9.1 step 7).
func (b *Boiler) updateColdStartProtection(now clock.Tick, actual numeric.Temp) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	value := numeric.ThrsIntg(&b.coldStart, b.LimitTMin, actual, now, -100*100, 0)
	return int64(math.Round(float64(value) / 50))
}

// updateReturnProtection either delegates to the return-mixing valve
// or integrates (return-limit_treturnmin) jacketed to [-500 K*s, 0],
// returning cshift_ret (§4.9.1 step 8). 0 means "no return protection
// configured or the valve is handling it physically".
func (b *Boiler) updateReturnProtection(now clock.Tick, wallNow time.Time) (int64, error) {
	if !b.HasTReturnMin {
		return 0, nil
	}

	if b.ReturnValve != nil {
		returnTemp, err := readReturn(b.Return)
		if err != nil {
			return 0, err
		}
		err = b.ReturnValve.Tick(now, wallNow, valve.Inputs{Target: b.LimitTReturnMin, TempOut: returnTemp})
		if err != nil && !xerr.IsBenign(err) {
			return 0, err
		}
		return 0, nil
	}

	returnTemp, err := readReturn(b.Return)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	value := numeric.ThrsIntg(&b.returnProtect, b.LimitTReturnMin, returnTemp, now, -500*100, 0)
	return int64(math.Round(float64(value) / 1000)), nil
}

func readReturn(s TempSensor) (numeric.Temp, error) {
	if s == nil {
		return numeric.TempUnset, xerr.New(xerr.NotConfigured, "return sensor not configured")
	}
	return s.Get()
}

// Run runs the boiler's run phase (§4.9.2): adaptive hysteresis,
// anticipation, and burner min-time gated switching.
func (b *Boiler) Run(now clock.Tick, wallNow time.Time, consumerSDelay clock.Tick) error {
	if b.failed.Load() {
		return nil
	}

	target := numeric.Temp(b.targetTemp.Load())
	actual := numeric.Temp(b.actualTemp.Load())

	trip := target - b.Hysteresis/2
	if trip < b.LimitTMin {
		trip = b.LimitTMin
	}

	b.mu.Lock()
	deriv := b.deriv.Deriv
	b.mu.Unlock()

	if deriv < 0 {
		derivCps := float64(deriv) / float64(numeric.DerivScale) / 100
		delta := derivCps * derivCps * b.turnonCurrAdj
		deltaTemp := numeric.DeltaKToTemp(delta)
		if deltaTemp > b.Hysteresis {
			deltaTemp = b.Hysteresis
		}
		trip += deltaTemp
	}

	if cap := b.LimitTMax - b.Hysteresis/2; trip > cap {
		trip = cap
	}

	untrip := trip + b.Hysteresis
	heatRequest := numeric.Temp(b.heatRequestRaw.Load())
	if b.active.Load() && heatRequest != numeric.TempUnset && heatRequest < trip {
		untrip -= (trip - heatRequest)
		if floor := trip + b.Hysteresis/2; untrip < floor {
			untrip = floor
		}
	}
	if untrip > b.LimitTMax {
		untrip = b.LimitTMax
	}

	b.trip.Store(int32(trip))
	b.untrip.Store(int32(untrip))

	if b.Burner1 == nil {
		return xerr.New(xerr.NotConfigured, "boiler "+b.Name+" has no burner relay")
	}

	on := b.Burner1.Get()
	elapsed := clock.Tick(math.MaxInt64)
	b.mu.Lock()
	if b.haveLastSwitch {
		elapsed = now.Sub(b.lastSwitchTick)
	}
	b.mu.Unlock()

	switch {
	case actual < trip && !on && elapsed >= b.BurnerMinTime:
		if err := b.Burner1.Set(true, wallNow); err != nil {
			return err
		}
		b.onSwitch(now, true)
	case actual > untrip && on && (elapsed >= b.BurnerMinTime || actual > b.LimitTMax):
		if err := b.Burner1.Set(false, wallNow); err != nil {
			return err
		}
		b.onSwitch(now, false)
	}

	if actual < b.LimitTHardMax-numeric.DeltaKToTemp(2) {
		b.overtemp.Store(false)
	}

	b.learnAnticipation(now, actual, consumerSDelay)

	if b.LoadPump != nil {
		if err := b.LoadPump.Set(b.Burner1.Get() || b.active.Load(), wallNow); err != nil {
			log.Warn().Str("boiler", b.Name).Err(err).Msg("load pump drive failed")
		}
	}

	return nil
}

func (b *Boiler) onSwitch(now clock.Tick, turningOn bool) {
	b.mu.Lock()
	b.lastSwitchTick = now
	b.haveLastSwitch = true
	if turningOn {
		b.haveTurnedOn = true
		b.haveOnSinceRise = false
		b.haveNegderiv = false
	} else if b.haveTurnedOn {
		b.turnonCurrAdj = b.turnonNextAdj
		b.turnonNextAdj = 0
		b.haveNegderiv = false
		b.haveTurnedOn = false
	}
	b.mu.Unlock()
}

// learnAnticipation implements the burner-on anticipation learning
// (§4.9.2 "Anticipation learning"): watches for the derivative's first
// negative excursion after turn-on and, once it recovers positive,
// records how long the overshoot took relative to its depth.
func (b *Boiler) learnAnticipation(now clock.Tick, actual numeric.Temp, consumerSDelay clock.Tick) {
	on := b.Burner1 != nil && b.Burner1.Get()
	if !on {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if actual > b.LimitTMin {
		b.targetConsumerSDelay.Store(int32(consumerSDelay))
	}

	if !b.haveOnSinceRise {
		b.onSinceNoRise = now
		b.peakSinceOn = actual
		b.haveOnSinceRise = true
	} else if actual > b.peakSinceOn {
		b.peakSinceOn = actual
		b.onSinceNoRise = now
	} else if now.Sub(b.onSinceNoRise) >= 6*3600 {
		log.Error().Str("boiler", b.Name).Msg("burner on but actual temperature has not risen in 6 hours")
	}

	derivCps := float64(b.deriv.Deriv) / float64(numeric.DerivScale) / 100

	if !b.haveNegderiv && derivCps < 0 {
		b.negderivStart = now
		b.turnonNegderiv = derivCps
		b.haveNegderiv = true
		return
	}

	if b.haveNegderiv && derivCps > 0 {
		elapsedSeconds := float64(now.Sub(b.negderivStart))
		b.turnonNextAdj = elapsedSeconds / -b.turnonNegderiv
		b.haveNegderiv = false
	}
}

func (b *Boiler) failsafe(wallNow time.Time) {
	if b.Burner1 != nil {
		if err := b.Burner1.Set(false, wallNow); err != nil {
			log.Warn().Str("boiler", b.Name).Err(err).Msg("failsafe burner drive failed")
		}
	}
	if b.ReturnValve != nil && b.ReturnValve.Driver != nil {
		b.ReturnValve.Driver.RequestMove(valve.Open, 1000)
		if err := b.ReturnValve.Driver.Run(wallNow); err != nil {
			log.Warn().Str("boiler", b.Name).Err(err).Msg("failsafe return valve drive failed")
		}
	}
	if b.LoadPump != nil {
		if err := b.LoadPump.Set(true, wallNow); err != nil {
			log.Warn().Str("boiler", b.Name).Err(err).Msg("failsafe load pump drive failed")
		}
	}
	b.active.Store(false)
}

// Online reports whether the boiler's checklist is currently passing.
func (b *Boiler) Online() bool { return b.online.Load() && !b.failed.Load() }

// Failed reports whether the last checklist run failed.
func (b *Boiler) Failed() bool { return b.failed.Load() }

// Active reports whether the boiler is permitted to run the burner this tick.
func (b *Boiler) Active() bool { return b.active.Load() }

// Antifreeze reports the latched antifreeze flag.
func (b *Boiler) Antifreeze() bool { return b.antifreeze.Load() }

// Overtemp reports the latched hard-safety-maximum flag.
func (b *Boiler) Overtemp() bool { return b.overtemp.Load() }

// CouldSleep reports whether the boiler is permitted to fully stop this tick.
func (b *Boiler) CouldSleep() bool { return b.couldSleep.Load() }

// TargetTemp returns the last resolved, clamped target temperature.
func (b *Boiler) TargetTemp() numeric.Temp { return numeric.Temp(b.targetTemp.Load()) }

// ActualTemp returns the last sampled body temperature.
func (b *Boiler) ActualTemp() numeric.Temp { return numeric.Temp(b.actualTemp.Load()) }

// CshiftCrit returns the last computed critical consumer shift percent.
func (b *Boiler) CshiftCrit() int32 { return b.cshiftCrit.Load() }

// TargetConsumerSDelay returns the last computed consumer stop delay, in ticks.
func (b *Boiler) TargetConsumerSDelay() clock.Tick { return clock.Tick(b.targetConsumerSDelay.Load()) }

// Trip returns the last computed burner turn-on trip point.
func (b *Boiler) Trip() numeric.Temp { return numeric.Temp(b.trip.Load()) }

// Untrip returns the last computed burner turn-off point.
func (b *Boiler) Untrip() numeric.Temp { return numeric.Temp(b.untrip.Load()) }
