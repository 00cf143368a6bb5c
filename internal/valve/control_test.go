package valve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

func c(celsius float64) numeric.Temp { return numeric.CelsiusToTemp(celsius) }

func TestBangBangOpensBelowAndClosesAbove(t *testing.T) {
	b := &BangBang{Deadzone: numeric.DeltaKToTemp(2)}

	res, err := b.Evaluate(0, Inputs{Target: c(40), TempOut: c(35)})
	require.NoError(t, err)
	assert.Equal(t, Open, res.Dir)
	assert.EqualValues(t, 1000, res.Course)

	res, err = b.Evaluate(0, Inputs{Target: c(40), TempOut: c(45)})
	require.NoError(t, err)
	assert.Equal(t, Close, res.Dir)

	_, err = b.Evaluate(0, Inputs{Target: c(40), TempOut: c(40)})
	require.Error(t, err)
	assert.Equal(t, xerr.Deadzone, xerr.KindOf(err))
}

func TestSApproxStepsByFixedAmount(t *testing.T) {
	s := &SApprox{SampleIntvl: 10, Amount: 20, Deadzone: numeric.DeltaKToTemp(2)}

	res, err := s.Evaluate(0, Inputs{Target: c(40), TempOut: c(35)})
	require.NoError(t, err)
	assert.Equal(t, Open, res.Dir)
	assert.EqualValues(t, 20, res.Course)
}

func TestPIDeadzoneReportsBenign(t *testing.T) {
	p := &PI{
		SampleIntvl: 5,
		Deadzone:    numeric.DeltaKToTemp(2),
		Deadband:    5,
		Tu:          40,
		Td:          10,
		Tuning:      Moderate,
		Ksmax:       numeric.DeltaKToTemp(20),
	}

	_, err := p.Evaluate(0, Inputs{Target: c(40), TempOut: c(40), TempInHigh: c(60), TempInLow: c(20)})
	require.Error(t, err)
	assert.Equal(t, xerr.Deadzone, xerr.KindOf(err))
}

func TestPISaturatesWhenTargetOutsideFeedRange(t *testing.T) {
	p := &PI{
		SampleIntvl: 5,
		Deadzone:    numeric.DeltaKToTemp(2),
		Deadband:    5,
		Tu:          40,
		Td:          10,
		Tuning:      Moderate,
		Ksmax:       numeric.DeltaKToTemp(20),
	}

	res, err := p.Evaluate(0, Inputs{Target: c(65), TempOut: c(40), TempInHigh: c(60), TempInLow: c(20)})
	require.NoError(t, err)
	assert.Equal(t, Open, res.Dir)
	assert.EqualValues(t, 1000, res.Course)
}

func TestPIConvergesTowardTargetOverTicks(t *testing.T) {
	p := &PI{
		SampleIntvl: 5,
		Deadzone:    numeric.DeltaKToTemp(1),
		Deadband:    1,
		Tu:          40,
		Td:          10,
		Tuning:      Moderate,
		Ksmax:       numeric.DeltaKToTemp(20),
	}

	now := clock.Tick(0)
	in := Inputs{Target: c(45), TempOut: c(35), TempInHigh: c(60), TempInLow: c(20)}

	// first two evaluations just settle the reset/bootstrap branches
	_, _ = p.Evaluate(now, in)
	now += 5
	_, _ = p.Evaluate(now, in)
	now += 5

	res, err := p.Evaluate(now, in)
	if err == nil {
		assert.Equal(t, Open, res.Dir, "water colder than target below the feed ceiling should request more hot-side mix")
	} else {
		assert.Equal(t, xerr.Deadband, xerr.KindOf(err))
	}
}
