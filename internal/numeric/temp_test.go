package numeric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/xerr"
)

func TestCelsiusRoundTrip(t *testing.T) {
	for _, c := range []float64{-40, -10, 0, 20, 45, 99} {
		tmp := CelsiusToTemp(c)
		assert.InDelta(t, c, TempToCelsius(tmp), 0.01)
	}
}

func TestValidateTempMarkers(t *testing.T) {
	cases := []struct {
		name string
		t    Temp
		kind xerr.Kind
	}{
		{"unset", TempUnset, xerr.SensorInvalid},
		{"short", TempShortCircuit, xerr.SensorShort},
		{"disconnected", TempDisconnected, xerr.SensorDiscon},
		{"too cold", CelsiusToTemp(-200), xerr.SensorInvalid},
		{"too hot", CelsiusToTemp(500), xerr.SensorInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTemp(tc.t)
			require.Error(t, err)
			assert.Equal(t, tc.kind, xerr.KindOf(err))
		})
	}
	assert.NoError(t, ValidateTemp(CelsiusToTemp(20)))
}

func TestExpwMavgZeroDtIsExact(t *testing.T) {
	prev := CelsiusToTemp(20)
	sample := CelsiusToTemp(30)
	got := ExpwMavg(prev, sample, 60, 0)
	assert.Equal(t, prev, got)
}

func TestExpwMavgSaturatesAtTau(t *testing.T) {
	prev := CelsiusToTemp(20)
	sample := CelsiusToTemp(30)
	got := ExpwMavg(prev, sample, 60, 60)
	assert.Equal(t, sample, got)
	got = ExpwMavg(prev, sample, 60, 600)
	assert.Equal(t, sample, got)
}

func TestExpwMavgMonotonicApproach(t *testing.T) {
	prev := CelsiusToTemp(20)
	sample := CelsiusToTemp(30)
	got := ExpwMavg(prev, sample, 60, 30)
	assert.Greater(t, int(got), int(prev))
	assert.Less(t, int(got), int(sample))
}

func TestLinDerivSignAndBootstrap(t *testing.T) {
	var st DerivState
	now := clock.Tick(0)
	d := LinDeriv(&st, CelsiusToTemp(50), now, 10)
	assert.Equal(t, int64(0), d, "first sample just bootstraps")

	now += 5
	d = LinDeriv(&st, CelsiusToTemp(40), now, 10)
	assert.Less(t, d, int64(0), "falling temperature gives negative derivative")

	var st2 DerivState
	now = 0
	LinDeriv(&st2, CelsiusToTemp(50), now, 10)
	now += 5
	d2 := LinDeriv(&st2, CelsiusToTemp(60), now, 10)
	assert.Greater(t, d2, int64(0), "rising temperature gives positive derivative")
}

func TestThrsIntgJacketClamp(t *testing.T) {
	var st IntgState
	threshold := CelsiusToTemp(40)
	below := CelsiusToTemp(30) // 10K below threshold

	now := clock.Tick(0)
	ThrsIntg(&st, threshold, below, now, -100*100, 0) // bootstrap

	now += 30 // 30 ticks * 10K deficit per tick accumulates a large negative
	v := ThrsIntg(&st, threshold, below, now, -100*100, 0)
	assert.Equal(t, Ikelvind(-100*100), v, "integral clamps at the jacket floor")
}

func TestThrsIntgResetsExplicitly(t *testing.T) {
	var st IntgState
	threshold := CelsiusToTemp(40)
	below := CelsiusToTemp(30)

	now := clock.Tick(0)
	ThrsIntg(&st, threshold, below, now, -1000, 1000)
	now += 5
	ThrsIntg(&st, threshold, below, now, -1000, 1000)
	assert.NotZero(t, st.Value)

	st.Reset()
	assert.Zero(t, st.Value)
}
