package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/relay"
	"github.com/oebus/hvac-plant/internal/valve"
	"github.com/oebus/hvac-plant/internal/xerr"
)

type fakeRelayBackend struct{ states map[string]bool }

func (f *fakeRelayBackend) Name(id string) (string, bool) { return id, true }

func (f *fakeRelayBackend) SetState(id string, on bool) error {
	if f.states == nil {
		f.states = map[string]bool{}
	}
	f.states[id] = on
	return nil
}

func (f *fakeRelayBackend) GetState(id string) (bool, error) { return f.states[id], nil }

func cel(v float64) numeric.Temp { return numeric.CelsiusToTemp(v) }

func TestLawBilinearSegmentsStayAboveWtMin(t *testing.T) {
	law := Law{
		Tout1: cel(-10), Twater1: cel(75),
		Tout2: cel(20), Twater2: cel(25),
		NH100: 115,
	}

	cold := law.Evaluate(cel(0), cel(20))
	warm := law.Evaluate(cel(10), cel(20))

	wtMin := cel(20)
	assert.GreaterOrEqual(t, numeric.TempToCelsius(cold), numeric.TempToCelsius(wtMin))
	assert.GreaterOrEqual(t, numeric.TempToCelsius(warm), numeric.TempToCelsius(wtMin))
	assert.Greater(t, cold, warm, "colder outdoor temp must request hotter supply water")
}

func TestLawNH100BendsSegmentsOffBaseLine(t *testing.T) {
	law := Law{
		Tout1: cel(-10), Twater1: cel(75),
		Tout2: cel(20), Twater2: cel(25),
		NH100: 115,
	}
	law.prepare()

	assert.NotEqual(t, law.coldSlope, law.warmSlope, "NH100 != 100 must bend the curve into two distinct segments")
	assert.Greater(t, -law.coldSlope, -law.baseSlope, "an oversized radiator (NH100>100) must steepen the cold-side segment")

	straight := Law{
		Tout1: cel(-10), Twater1: cel(75),
		Tout2: cel(20), Twater2: cel(25),
		NH100: 100,
	}
	straight.prepare()
	assert.Equal(t, straight.coldSlope, straight.warmSlope, "NH100=100 must still collapse to a single straight line")
}

func TestLawAmbientShiftRaisesColderAmbientTarget(t *testing.T) {
	law := Law{
		Tout1: cel(-10), Twater1: cel(75),
		Tout2: cel(20), Twater2: cel(25),
		NH100: 100,
	}

	at20 := law.Evaluate(cel(0), cel(20))
	at22 := law.Evaluate(cel(0), cel(22))
	assert.Greater(t, at22, at20, "a warmer ambient target must demand hotter supply water")
}

type fakeSensor struct {
	temp numeric.Temp
	err  error
}

func (f *fakeSensor) Get() (numeric.Temp, error) { return f.temp, f.err }

type fakeOutdoor struct{ temp numeric.Temp }

func (f *fakeOutdoor) TOut() numeric.Temp { return f.temp }

type fakeActuator struct{ on bool }

func (f *fakeActuator) Set(on bool, _ time.Time) error {
	f.on = on
	return nil
}

func newTestCircuit() (*Circuit, *fakeSensor, *fakeOutdoor, *fakeActuator) {
	out := &fakeSensor{temp: cel(45)}
	outdoor := &fakeOutdoor{temp: cel(0)}
	pump := &fakeActuator{}
	c := &Circuit{
		Name:     "living",
		Outgoing: out,
		Outdoor:  outdoor,
		FeedPump: pump,
		Law: Law{
			Tout1: cel(-10), Twater1: cel(75),
			Tout2: cel(20), Twater2: cel(25),
			NH100: 100,
		},
		WtMin:            cel(20),
		WtMax:            cel(80),
		ComfortAmbient:   cel(21),
		EcoAmbient:       cel(18),
		FrostfreeAmbient: cel(8),
	}
	return c, out, outdoor, pump
}

func TestCircuitTicksOnlineAndDrivesPumpInComfort(t *testing.T) {
	c, _, _, pump := newTestCircuit()
	err := c.Tick(0, time.Now(), mode.RunComfort, 0, 0)
	require.NoError(t, err)
	assert.True(t, c.Online())
	assert.True(t, pump.on)
	assert.NotEqual(t, numeric.TempUnset, c.TargetWtemp())
}

func TestCircuitOffStopsPumpAndClearsTargets(t *testing.T) {
	c, _, _, pump := newTestCircuit()
	require.NoError(t, c.Tick(0, time.Now(), mode.RunComfort, 0, 0))
	require.NoError(t, c.Tick(1, time.Now(), mode.RunOff, 0, 0))
	assert.False(t, c.Online())
	assert.False(t, pump.on)
	assert.Equal(t, numeric.TempUnset, c.TargetWtemp())
}

func TestCircuitOffWithConsumerSDelayStaysOnlineForCooldown(t *testing.T) {
	c, _, _, _ := newTestCircuit()
	require.NoError(t, c.Tick(0, time.Now(), mode.RunComfort, 0, 0))
	require.NoError(t, c.Tick(1, time.Now(), mode.RunOff, 0, 30))
	assert.True(t, c.Online(), "a circuit still cooling down for the plant must not go offline mid-delay")
}

func TestCircuitOutgoingSensorFailureTriggersFailsafe(t *testing.T) {
	c, out, _, pump := newTestCircuit()
	out.err = xerr.New(xerr.SensorDiscon, "open")

	err := c.Tick(0, time.Now(), mode.RunComfort, 0, 0)
	require.Error(t, err)
	assert.False(t, c.Online())
	assert.True(t, pump.on, "failsafe keeps the feed pump running to prevent freezing")
}

func TestCircuitUnknownRunmodeFallsBackToFrostfree(t *testing.T) {
	c, _, _, _ := newTestCircuit()
	require.NoError(t, c.Tick(0, time.Now(), mode.Runmode(99), 0, 0))
	assert.Equal(t, mode.RunFrostfree, c.Runmode())
}

func TestCircuitFloorOutputHoldsPreviousTargetWhenLower(t *testing.T) {
	c, _, outdoor, _ := newTestCircuit()
	require.NoError(t, c.Tick(0, time.Now(), mode.RunComfort, 0, 0))
	held := c.TargetWtemp()

	outdoor.temp = cel(15) // warms up, law would now request a cooler target
	c.SetFloorOutput(true)
	require.NoError(t, c.Tick(1, time.Now(), mode.RunComfort, 0, 0))

	assert.GreaterOrEqual(t, c.TargetWtemp(), held, "floor_output must not let the stored target drop below the prior target while a DHWT charges")
}

func TestCircuitConsumerShiftLeavesStoredTargetUnchanged(t *testing.T) {
	c, _, _, _ := newTestCircuit()
	require.NoError(t, c.Tick(0, time.Now(), mode.RunComfort, 0, 0))
	unshifted := c.TargetWtemp()

	c2, _, _, _ := newTestCircuit()
	require.NoError(t, c2.Tick(0, time.Now(), mode.RunComfort, -20, 0))
	shifted := c2.TargetWtemp()

	// targetWtemp itself stores the pre-interference value; the shift
	// is only visible on the valve-facing interfered target, so the
	// stored target must match the unshifted run.
	assert.Equal(t, unshifted, shifted)
}

func TestCircuitDrivesValveTowardTarget(t *testing.T) {
	c, _, _, _ := newTestCircuit()
	now := time.Now()
	drv := valve.NewDriver("mixvalve", valve.ThreeWay, 120*time.Second, now)
	be := &fakeRelayBackend{}
	drv.OpenRelay = relay.New("mixvalve_open", relay.OpFirst, relay.MissFail, []relay.Target{{Backend: be, ID: "open"}}, now)
	drv.CloseRelay = relay.New("mixvalve_close", relay.OpFirst, relay.MissFail, []relay.Target{{Backend: be, ID: "close"}}, now)
	c.Valve = valve.New("mixvalve", drv, &valve.BangBang{Deadzone: cel(1)})

	require.NoError(t, c.Tick(0, now, mode.RunComfort, 0, 0))
	require.NoError(t, c.Tick(1, now.Add(30*time.Second), mode.RunComfort, 0, 0))

	assert.NotEqual(t, int64(0), c.Valve.Position(), "valve should have moved toward the water-law target")
}

func TestCircuitRateOfRiseColdStartDoesNotCollapseToZero(t *testing.T) {
	c, out, outdoor, _ := newTestCircuit()
	out.temp = cel(20)      // cold outgoing sensor on first-ever tick
	outdoor.temp = cel(-10) // drives a hot water-law target
	c.RorhEnabled = true
	c.WtempRorhPerHour = 10

	require.NoError(t, c.Tick(0, time.Now(), mode.RunComfort, 0, 0))

	target := c.TargetWtemp()
	assert.Greater(t, numeric.TempToCelsius(target), 50.0,
		"first-ever rate-of-rise tick must bootstrap to the real water-law target, not ramp up from a zero baseline")
}
