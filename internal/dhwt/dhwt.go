// Package dhwt implements the domestic hot water tank charge state
// machine (spec §4.8): not-charging/charging trip/untrip, electric
// failover, charge-overtime cooldown, priority classification, feed
// and recycle pump management.
package dhwt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// TempSensor is the collaborator contract a DHWT reads its tank and
// inlet sensors through (internal/sensors.Sensor satisfies this).
type TempSensor interface {
	Get() (numeric.Temp, error)
}

// Actuator is the collaborator contract for pumps and the self-heater
// relay (internal/pump.Pump and internal/relay.Relay both satisfy this).
type Actuator interface {
	Set(on bool, now time.Time) error
}

// DHWT is one named domestic hot water tank.
type DHWT struct {
	Name string

	Top    TempSensor // may be nil
	Bottom TempSensor // may be nil
	Inlet  TempSensor // feed-inlet temperature, for discharge protection

	SelfHeater Actuator // electric failover element, nil if none fitted
	FeedPump   Actuator
	RecyclePump Actuator // nil if no recirculation loop

	ComfortTarget   numeric.Temp
	EcoTarget       numeric.Temp
	FrostfreeTarget numeric.Temp
	LegionellaTarget numeric.Temp

	Hysteresis      numeric.Temp
	WinTMax         numeric.Temp
	InOffset        numeric.Temp
	ChargeTimeLimit clock.Tick

	Priority mode.Priority
	Force    mode.ForceMode

	mu              sync.Mutex
	chargeStartTick clock.Tick
	haveChargeStart bool
	overtimeSince   clock.Tick
	haveOvertime    bool
	modeSinceTick   clock.Tick
	hasChargedOnce  bool

	runmode        atomic.Int32
	targetTemp     atomic.Int32
	actualTemp     atomic.Int32
	heatRequest    atomic.Int32
	chargeOn       atomic.Bool
	electricMode   atomic.Bool
	forceOn        atomic.Bool
	chargeOvertime atomic.Bool
	recycleOn      atomic.Bool
	online         atomic.Bool
}

// Tick runs one DHWT evaluation (§4.8). couldSleep and legionellaActive
// come from the plant orchestrator (the former an aggregate of
// heatsource could_sleep flags, the latter from the active schedule
// entry). recycleRequested likewise comes from the schedule. The
// returned bool reports whether this tank is charging under absolute
// priority this tick (§4.10 step 2/3).
func (d *DHWT) Tick(now clock.Tick, wallNow time.Time, runmode mode.Runmode, couldSleep, legionellaActive, recycleRequested bool) (bool, error) {
	runmode = resolveRunmode(runmode)
	d.runmode.Store(int32(runmode))

	if runmode == mode.RunOff {
		d.goOffline(wallNow)
		return false, nil
	}

	if runmode == mode.RunTest {
		d.online.Store(true)
		if d.FeedPump != nil {
			_ = d.FeedPump.Set(true, wallNow)
		}
		if d.SelfHeater != nil {
			_ = d.SelfHeater.Set(true, wallNow)
		}
		return false, nil
	}

	topTemp, topErr := readOptional(d.Top)
	bottomTemp, bottomErr := readOptional(d.Bottom)
	if topErr != nil && bottomErr != nil {
		d.failsafe(wallNow)
		return false, xerr.Wrap(xerr.SensorInvalid, "dhwt "+d.Name+" has no valid tank sensor", bottomErr)
	}
	d.online.Store(true)

	target := d.resolveTarget(runmode, legionellaActive)
	d.targetTemp.Store(int32(target))

	chargeOn := d.chargeOn.Load()
	var absolutePriority bool

	if !chargeOn {
		absolutePriority = d.evaluateNotCharging(now, wallNow, target, bottomTemp, bottomErr, topTemp, topErr, couldSleep)
	} else {
		absolutePriority = d.evaluateCharging(now, wallNow, target, topTemp, topErr, bottomTemp, bottomErr)
	}

	d.actualTemp.Store(int32(pickActual(d.chargeOn.Load(), topTemp, topErr, bottomTemp, bottomErr)))
	d.manageFeedPump(wallNow)
	d.manageRecycle(wallNow, recycleRequested)

	return absolutePriority, nil
}

func (d *DHWT) evaluateNotCharging(now clock.Tick, wallNow time.Time, target numeric.Temp, bottomTemp numeric.Temp, bottomErr error, topTemp numeric.Temp, topErr error, couldSleep bool) bool {
	current := bottomTemp
	if bottomErr != nil {
		current = topTemp
	}

	d.mu.Lock()
	inCooldown := d.haveOvertime && now.Sub(d.overtimeSince) < d.ChargeTimeLimit
	wantForce := false
	switch d.Force {
	case mode.ForceAlways:
		wantForce = true
	case mode.ForceFirst:
		wantForce = !d.hasChargedOnce
	}
	d.mu.Unlock()
	if inCooldown {
		return false
	}

	hyst := d.Hysteresis
	if wantForce {
		hyst = numeric.DeltaKToTemp(1)
	}
	trip := target - hyst

	if current >= trip {
		return false
	}

	electric := couldSleep && d.SelfHeater != nil
	d.electricMode.Store(electric)

	if electric {
		if err := d.SelfHeater.Set(true, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("self-heater drive failed")
		}
		d.heatRequest.Store(int32(numeric.TempUnset))
	} else {
		req := target + d.InOffset
		if req > d.WinTMax {
			req = d.WinTMax
		}
		d.heatRequest.Store(int32(req))
	}

	d.chargeOn.Store(true)
	d.mu.Lock()
	d.modeSinceTick = now
	d.chargeStartTick = now
	d.haveChargeStart = true

	d.hasChargedOnce = true
	d.mu.Unlock()
	d.forceOn.Store(wantForce)

	return d.Priority == mode.PrioAbsolute
}

func (d *DHWT) evaluateCharging(now clock.Tick, wallNow time.Time, target numeric.Temp, topTemp numeric.Temp, topErr error, bottomTemp numeric.Temp, bottomErr error) bool {
	current := topTemp
	if topErr != nil {
		current = bottomTemp
	}

	electric := d.electricMode.Load()

	d.mu.Lock()
	elapsed := clock.Tick(0)
	if d.haveChargeStart {
		elapsed = now.Sub(d.chargeStartTick)
	}
	d.mu.Unlock()

	overtime := !electric && d.ChargeTimeLimit > 0 && elapsed >= d.ChargeTimeLimit
	untrip := current >= target || overtime

	if !untrip {
		return d.Priority == mode.PrioAbsolute
	}

	if overtime {
		d.chargeOvertime.Store(true)
		d.mu.Lock()
		d.overtimeSince = now
		d.haveOvertime = true
		d.mu.Unlock()
		log.Warn().Str("dhwt", d.Name).Msg("charge time limit exceeded, forcing cooldown")
	} else {
		d.chargeOvertime.Store(false)
	}

	d.heatRequest.Store(int32(numeric.TempUnset))
	if d.SelfHeater != nil {
		if err := d.SelfHeater.Set(false, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("self-heater drive failed")
		}
	}
	d.electricMode.Store(false)
	d.forceOn.Store(false)
	d.chargeOn.Store(false)
	d.mu.Lock()
	d.modeSinceTick = now
	d.haveChargeStart = false
	d.mu.Unlock()

	return false
}

// manageFeedPump applies discharge protection outside the trigger
// edges handled above (§4.8 "Feedpump management").
func (d *DHWT) manageFeedPump(wallNow time.Time) {
	if d.FeedPump == nil {
		return
	}

	inlet, inletErr := readOptional(d.Inlet)
	tankCurrent := numeric.Temp(d.actualTemp.Load())

	var on bool
	if d.chargeOn.Load() && !d.electricMode.Load() {
		on = inletErr != nil || inlet >= tankCurrent-numeric.DeltaKToTemp(1)
	} else {
		on = inletErr == nil && inlet >= tankCurrent
	}

	if err := d.FeedPump.Set(on, wallNow); err != nil {
		log.Warn().Str("dhwt", d.Name).Err(err).Msg("feed pump drive failed")
	}
}

func (d *DHWT) manageRecycle(wallNow time.Time, requested bool) {
	if d.RecyclePump == nil {
		return
	}
	d.recycleOn.Store(requested)
	if err := d.RecyclePump.Set(requested, wallNow); err != nil {
		log.Warn().Str("dhwt", d.Name).Err(err).Msg("recycle pump drive failed")
	}
}

func (d *DHWT) goOffline(wallNow time.Time) {
	d.online.Store(false)
	d.chargeOn.Store(false)
	d.electricMode.Store(false)
	d.forceOn.Store(false)
	d.chargeOvertime.Store(false)
	d.recycleOn.Store(false)
	d.heatRequest.Store(int32(numeric.TempUnset))
	d.targetTemp.Store(int32(numeric.TempUnset))

	if d.SelfHeater != nil {
		if err := d.SelfHeater.Set(false, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("self-heater drive failed while going offline")
		}
	}
	if d.FeedPump != nil {
		if err := d.FeedPump.Set(false, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("feed pump drive failed while going offline")
		}
	}
	if d.RecyclePump != nil {
		if err := d.RecyclePump.Set(false, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("recycle pump drive failed while going offline")
		}
	}
}

func (d *DHWT) failsafe(wallNow time.Time) {
	d.online.Store(false)
	if d.FeedPump != nil {
		if err := d.FeedPump.Set(false, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("failsafe feed pump drive failed")
		}
	}
	if d.SelfHeater != nil {
		if err := d.SelfHeater.Set(false, wallNow); err != nil {
			log.Warn().Str("dhwt", d.Name).Err(err).Msg("failsafe self-heater drive failed")
		}
	}
}

func (d *DHWT) resolveTarget(runmode mode.Runmode, legionellaActive bool) numeric.Temp {
	target := d.ComfortTarget
	switch runmode {
	case mode.RunEco:
		target = d.EcoTarget
	case mode.RunFrostfree:
		target = d.FrostfreeTarget
	}
	if legionellaActive && d.LegionellaTarget > target {
		target = d.LegionellaTarget
	}
	return target
}

func readOptional(s TempSensor) (numeric.Temp, error) {
	if s == nil {
		return numeric.TempUnset, xerr.New(xerr.NotConfigured, "sensor not configured")
	}
	return s.Get()
}

func pickActual(charging bool, topTemp numeric.Temp, topErr error, bottomTemp numeric.Temp, bottomErr error) numeric.Temp {
	if charging {
		if topErr == nil {
			return topTemp
		}
		return bottomTemp
	}
	if bottomErr == nil {
		return bottomTemp
	}
	return topTemp
}

func resolveRunmode(r mode.Runmode) mode.Runmode {
	switch r {
	case mode.RunOff, mode.RunComfort, mode.RunEco, mode.RunFrostfree, mode.RunTest, mode.RunAuto, mode.RunDHWOnly, mode.RunSummaint:
		return r
	default:
		return mode.RunFrostfree
	}
}

// Online reports whether the tank is actively serving its charge state machine.
func (d *DHWT) Online() bool { return d.online.Load() }

// ChargeOn reports whether the tank is currently charging.
func (d *DHWT) ChargeOn() bool { return d.chargeOn.Load() }

// ElectricMode reports whether the current charge (if any) is being
// served by the self-heater rather than the plant heat sources.
func (d *DHWT) ElectricMode() bool { return d.electricMode.Load() }

// HeatRequest returns the last computed heat request, or TempUnset
// when the tank isn't requesting plant heat this tick.
func (d *DHWT) HeatRequest() numeric.Temp { return numeric.Temp(d.heatRequest.Load()) }

// ActualTemp returns the last sampled tank temperature.
func (d *DHWT) ActualTemp() numeric.Temp { return numeric.Temp(d.actualTemp.Load()) }

// TargetTemp returns the last resolved charge target.
func (d *DHWT) TargetTemp() numeric.Temp { return numeric.Temp(d.targetTemp.Load()) }

// ChargeOvertime reports whether the last charge attempt was aborted
// by the chargetime limit and is in its forced cooldown.
func (d *DHWT) ChargeOvertime() bool { return d.chargeOvertime.Load() }

// RecycleOn reports whether the recirculation pump is currently driven on.
func (d *DHWT) RecycleOn() bool { return d.recycleOn.Load() }

// ForceOn reports the runtime force_on flag (spec.md §3 DHWT runtime
// state): whether the current/most recent charge cycle used the
// forced 1K hysteresis.
func (d *DHWT) ForceOn() bool { return d.forceOn.Load() }
