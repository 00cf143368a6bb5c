package boiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

func cel(v float64) numeric.Temp { return numeric.CelsiusToTemp(v) }

type fakeSensor struct {
	temp numeric.Temp
	err  error
}

func (f *fakeSensor) Get() (numeric.Temp, error) { return f.temp, f.err }

type fakeActuator struct{ on bool }

func (f *fakeActuator) Set(on bool, _ time.Time) error {
	f.on = on
	return nil
}

type fakeBurnerRelay struct{ on bool }

func (f *fakeBurnerRelay) Set(on bool, _ time.Time) error {
	f.on = on
	return nil
}

func (f *fakeBurnerRelay) Get() bool { return f.on }

func newTestBoiler() (*Boiler, *fakeSensor, *fakeBurnerRelay, *fakeActuator) {
	body := &fakeSensor{temp: cel(60)}
	burner := &fakeBurnerRelay{}
	pump := &fakeActuator{}
	b := &Boiler{
		Name:          "boiler1",
		Body:          body,
		Burner1:       burner,
		LoadPump:      pump,
		IdleMode:      mode.IdleNever,
		Hysteresis:    numeric.DeltaKToTemp(6),
		LimitTMin:     cel(40),
		LimitTMax:     cel(80),
		LimitTHardMax: cel(95),
		TFreeze:       cel(5),
		BurnerMinTime: 60,
	}
	return b, body, burner, pump
}

func TestBoilerBodySensorFailureTriggersFailsafe(t *testing.T) {
	b, body, burner, pump := newTestBoiler()
	burner.on = true
	pump.on = false
	body.err = xerr.New(xerr.SensorDiscon, "open")

	err := b.Logic(0, time.Now(), mode.RunComfort, cel(60), false)
	require.Error(t, err)
	assert.False(t, b.Online())
	assert.True(t, b.Failed())
	assert.False(t, burner.on)
}

func TestBoilerAntifreezeExampleFromSpec(t *testing.T) {
	b, body, _, _ := newTestBoiler()
	b.TFreeze = cel(5)
	b.LimitTMin = cel(10)
	b.Hysteresis = numeric.DeltaKToTemp(6)
	body.temp = cel(4)

	require.NoError(t, b.Logic(0, time.Now(), mode.RunOff, numeric.TempUnset, false))
	assert.True(t, b.Antifreeze(), "body below t_freeze must latch antifreeze")

	body.temp = cel(14)
	require.NoError(t, b.Logic(1, time.Now(), mode.RunOff, numeric.TempUnset, false))
	assert.False(t, b.Antifreeze(), "14 > limit_tmin(10)+hysteresis/2(3) must clear antifreeze")
}

func TestBoilerTargetSelectionPerRunmode(t *testing.T) {
	b, body, _, _ := newTestBoiler()
	body.temp = cel(60)

	require.NoError(t, b.Logic(0, time.Now(), mode.RunComfort, cel(55), false))
	assert.Equal(t, cel(55), b.TargetTemp())

	require.NoError(t, b.Logic(1, time.Now(), mode.RunTest, numeric.TempUnset, false))
	assert.Equal(t, b.LimitTMax, b.TargetTemp())

	require.NoError(t, b.Logic(2, time.Now(), mode.RunAuto, cel(55), false))
	assert.Equal(t, numeric.TempUnset, numeric.Temp(b.heatRequestRaw.Load()), "a runmode outside the heat-requesting set must report no_request regardless of the aggregated request")
}

func TestBoilerCouldSleepPerIdleMode(t *testing.T) {
	b, body, _, _ := newTestBoiler()
	body.temp = cel(60)

	b.IdleMode = mode.IdleNever
	require.NoError(t, b.Logic(0, time.Now(), mode.RunAuto, numeric.TempUnset, false))
	assert.False(t, b.CouldSleep())

	b.IdleMode = mode.IdleAlways
	require.NoError(t, b.Logic(1, time.Now(), mode.RunAuto, numeric.TempUnset, false))
	assert.True(t, b.CouldSleep())

	b.IdleMode = mode.IdleFrostOnly
	require.NoError(t, b.Logic(2, time.Now(), mode.RunAuto, numeric.TempUnset, true))
	assert.False(t, b.CouldSleep(), "frost active must block sleep under idle_mode=frostonly")

	require.NoError(t, b.Logic(3, time.Now(), mode.RunAuto, numeric.TempUnset, false))
	assert.True(t, b.CouldSleep())
}

func TestBoilerHardMaxTripsFailsafeAndMaxCshift(t *testing.T) {
	b, body, burner, pump := newTestBoiler()
	burner.on = true
	body.temp = cel(96)

	err := b.Logic(0, time.Now(), mode.RunComfort, cel(70), false)
	require.Error(t, err)
	assert.Equal(t, xerr.SafetyTripped, xerr.KindOf(err))
	assert.True(t, b.Overtemp())
	assert.Equal(t, int32(CshiftMax), b.CshiftCrit())
	assert.False(t, burner.on)
	assert.True(t, pump.on)
}

func TestBoilerColdStartProtectionProducesNegativeCshift(t *testing.T) {
	b, body, _, _ := newTestBoiler()
	b.LimitTMin = cel(40)
	body.temp = cel(30)

	now := time.Now()
	var last int32
	for tick := 0; tick <= 30; tick++ {
		require.NoError(t, b.Logic(clock.Tick(tick), now, mode.RunComfort, cel(60), false))
		last = b.CshiftCrit()
	}

	assert.Less(t, last, int32(0), "actual steady below limit_tmin must drive cshift_crit negative")
}

func TestBoilerBurnerMinTimeGatesSwitching(t *testing.T) {
	b, body, burner, _ := newTestBoiler()
	b.BurnerMinTime = 60
	body.temp = cel(30) // well below any trip point

	now := time.Now()
	require.NoError(t, b.Logic(0, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(0, now, 0))
	assert.True(t, burner.on, "actual below trip must turn the burner on")

	body.temp = cel(75) // above untrip, but not above limit_tmax, and min-time not yet elapsed
	require.NoError(t, b.Logic(5, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(5, now, 0))
	assert.True(t, burner.on, "burner_min_time must block an early turn-off")

	require.NoError(t, b.Logic(61, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(61, now, 0))
	assert.False(t, burner.on, "once burner_min_time elapses the burner may turn off")
}

func TestBoilerBurnerMinTimeOverriddenAboveLimitTMax(t *testing.T) {
	b, body, burner, _ := newTestBoiler()
	b.BurnerMinTime = 60
	b.LimitTMax = cel(80)
	body.temp = cel(30)

	now := time.Now()
	require.NoError(t, b.Logic(0, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(0, now, 0))
	require.True(t, burner.on)

	body.temp = cel(81) // above limit_tmax, must override burner_min_time
	require.NoError(t, b.Logic(1, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(1, now, 0))
	assert.False(t, burner.on, "actual above limit_tmax must turn the burner off regardless of burner_min_time")
}

func TestBoilerOvertempClearsOnlyAfterDroppingBelowHysteresisBand(t *testing.T) {
	b, body, _, _ := newTestBoiler()
	b.overtemp.Store(true)
	body.temp = cel(94) // still within 2K of limit_thardmax(95)
	now := time.Now()

	require.NoError(t, b.Logic(0, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(0, now, 0))
	assert.True(t, b.Overtemp(), "overtemp must persist while actual is still within 2K of the hard maximum")

	body.temp = cel(90)
	require.NoError(t, b.Logic(1, now, mode.RunComfort, cel(70), false))
	require.NoError(t, b.Run(1, now, 0))
	assert.False(t, b.Overtemp(), "overtemp clears once actual drops below limit_thardmax-2K")
}
