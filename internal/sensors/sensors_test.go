package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

type fakeSource struct {
	values map[string]numeric.Temp
	errs   map[string]error
	reads  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{values: map[string]numeric.Temp{}, errs: map[string]error{}}
}

func (f *fakeSource) Read(id string) (numeric.Temp, error) {
	f.reads++
	if err, ok := f.errs[id]; ok {
		return 0, err
	}
	return f.values[id], nil
}

func c(celsius float64) numeric.Temp { return numeric.CelsiusToTemp(celsius) }

func TestSensorAggregatesMin(t *testing.T) {
	src := newFakeSource()
	src.values["a"] = c(40)
	src.values["b"] = c(35)

	s := New("outdoor", []SourceRef{{src, "a"}, {src, "b"}}, OpMin, 10, 0, MissFail, 0)
	require.NoError(t, s.Sample(0))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, c(35), got)
}

func TestSensorRespectsSamplePeriod(t *testing.T) {
	src := newFakeSource()
	src.values["a"] = c(40)

	s := New("boiler", []SourceRef{{src, "a"}}, OpFirst, 10, 0, MissFail, 0)
	require.NoError(t, s.Sample(0))
	require.NoError(t, s.Sample(5))
	assert.Equal(t, 1, src.reads, "sampling within the period must not re-read the backend")

	require.NoError(t, s.Sample(10))
	assert.Equal(t, 2, src.reads)
}

func TestSensorMissFailAbortsSample(t *testing.T) {
	src := newFakeSource()
	src.values["a"] = c(40)
	src.errs["b"] = xerr.New(xerr.SensorDiscon, "open circuit")

	s := New("dhwt", []SourceRef{{src, "a"}, {src, "b"}}, OpMin, 10, 0, MissFail, 0)
	err := s.Sample(0)
	require.Error(t, err)
	assert.Equal(t, xerr.SensorDiscon, xerr.KindOf(err))
}

func TestSensorMissIgnoreDropsFailingSource(t *testing.T) {
	src := newFakeSource()
	src.values["a"] = c(40)
	src.errs["b"] = xerr.New(xerr.SensorDiscon, "open circuit")

	s := New("dhwt", []SourceRef{{src, "a"}, {src, "b"}}, OpMin, 10, 0, MissIgnore, 0)
	require.NoError(t, s.Sample(0))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, c(40), got)
}

func TestSensorMissIgnoreDefaultSubstitutes(t *testing.T) {
	src := newFakeSource()
	src.errs["a"] = xerr.New(xerr.SensorDiscon, "open circuit")

	s := New("circuit_return", []SourceRef{{src, "a"}}, OpFirst, 10, 0, MissIgnoreDefault, c(20))
	require.NoError(t, s.Sample(0))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, c(20), got)
}

func TestSensorIgnoreThresholdFiltersSpike(t *testing.T) {
	src := newFakeSource()
	src.values["a"] = c(40)

	s := New("outdoor", []SourceRef{{src, "a"}}, OpFirst, 1, numeric.DeltaKToTemp(5), MissIgnoreDefault, c(40))
	require.NoError(t, s.Sample(0))

	src.values["a"] = c(80) // 40K jump, well outside the 5K window
	require.NoError(t, s.Sample(1))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, c(40), got, "spike outside the ignore-threshold window falls back to Default under MissIgnoreDefault")
}

func TestSensorGetBeforeFirstSampleIsError(t *testing.T) {
	s := New("garage", nil, OpFirst, 10, 0, MissFail, 0)
	_, err := s.Get()
	require.Error(t, err)
	assert.Equal(t, xerr.SensorInvalid, xerr.KindOf(err))
}
