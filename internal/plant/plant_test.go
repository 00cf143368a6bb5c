package plant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/bmodel"
	"github.com/oebus/hvac-plant/internal/circuit"
	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/dhwt"
	"github.com/oebus/hvac-plant/internal/heatsource/boiler"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
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

func always(r mode.Runmode) func() mode.Runmode { return func() mode.Runmode { return r } }

func newTestPlant() (*Plant, *fakeSensor, *fakeSensor, *fakeSensor) {
	outdoorSensor := &fakeSensor{temp: cel(0)}
	bm := bmodel.New("house", outdoorSensor, cel(2), cel(18), 3600)

	circSensor := &fakeSensor{temp: cel(45)}
	circ := &circuit.Circuit{
		Name:     "living",
		Outgoing: circSensor,
		Outdoor:  bm,
		FeedPump: &fakeActuator{},
		Law: circuit.Law{
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

	dhwtBottom := &fakeSensor{temp: cel(40)}
	dhwtTop := &fakeSensor{temp: cel(45)}
	tank := &dhwt.DHWT{
		Name:            "dhw1",
		Top:             dhwtTop,
		Bottom:          dhwtBottom,
		ComfortTarget:   cel(55),
		EcoTarget:       cel(45),
		FrostfreeTarget: cel(10),
		Hysteresis:      numeric.DeltaKToTemp(5),
		WinTMax:         cel(65),
		ChargeTimeLimit: 3600,
		Priority:        mode.PrioAbsolute,
		FeedPump:        &fakeActuator{},
	}

	boilerBody := &fakeSensor{temp: cel(60)}
	heater := &boiler.Boiler{
		Name:          "boiler1",
		Body:          boilerBody,
		Burner1:       &fakeBurnerRelay{},
		LoadPump:      &fakeActuator{},
		IdleMode:      mode.IdleAlways,
		Hysteresis:    numeric.DeltaKToTemp(6),
		LimitTMin:     cel(40),
		LimitTMax:     cel(80),
		LimitTHardMax: cel(95),
		TFreeze:       cel(5),
		BurnerMinTime: 60,
	}

	p := &Plant{
		BModels: []*bmodel.BModel{bm},
		Circuits: []*CircuitBinding{
			{Circuit: circ, Runmode: always(mode.RunComfort)},
		},
		DHWTs: []*DHWTBinding{
			{DHWT: tank, Runmode: always(mode.RunComfort)},
		},
		Heatsources: []*HeatsourceBinding{
			{Boiler: heater, Runmode: always(mode.RunComfort)},
		},
	}
	return p, outdoorSensor, circSensor, dhwtBottom
}

func TestPlantTicksAllObjectsInOrder(t *testing.T) {
	p, _, _, _ := newTestPlant()
	now := time.Now()

	p.Tick(0, now)

	assert.True(t, p.Circuits[0].Online())
	assert.True(t, p.DHWTs[0].Online())
	assert.True(t, p.Heatsources[0].Online())
}

func TestPlantAbsoluteDHWTPriorityForcesCircuitFloorOutput(t *testing.T) {
	p, _, _, bottom := newTestPlant()
	now := time.Now()

	bottom.temp = cel(30) // well under the 55-5=50 trip, charge starts under absolute priority

	p.Tick(0, now)
	assert.True(t, p.DHWTs[0].ChargeOn())
	assert.True(t, p.DHWCAbsolute())

	p.Tick(1, now)
	assert.True(t, p.Circuits[0].Online(), "a circuit must stay online and hold its target while a DHWT charges under absolute priority")
}

func TestPlantConsumerBackpressureLagsOneTick(t *testing.T) {
	p, _, _, _ := newTestPlant()
	now := time.Now()

	// First tick: no prior aggregate exists yet, so circuits see zero shift.
	p.Tick(0, now)
	require.Equal(t, float64(0), p.ConsumerShift())

	p.Tick(clock.Tick(1), now)
	// Heatsource isn't tripping a critical shift in this scenario, so the
	// aggregate settles back at the non-critical contribution (zero, since
	// the DHWT here charges under absolute priority, not a sliding class).
	assert.Equal(t, float64(0), p.ConsumerShift())
}

func TestPlantSummerMaintenanceExercisesIdleActuatorsAfterInterval(t *testing.T) {
	p, outdoor, _, bottom := newTestPlant()
	bottom.temp = cel(60) // tank already satisfied, no charge
	outdoor.temp = cel(25) // well above the summer limit(18)
	p.SummerMaintenance = true
	p.SummerRunInterval = 2
	p.SummerRunDuration = 2
	p.Heatsources[0].IdleMode = mode.IdleAlways

	now := time.Now()
	for tick := clock.Tick(0); tick < 5; tick++ {
		p.Tick(tick, now)
	}

	assert.True(t, p.BModels[0].Summer())
	assert.True(t, p.CouldSleep())
	assert.True(t, p.SummerMaintenanceActive(), "summer maintenance must engage once summer+could_sleep has held past the interval")
}
