package pump

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/relay"
	"github.com/oebus/hvac-plant/internal/xerr"
)

type fakeBackend struct {
	states map[string]bool
}

func newFakeBackend() *fakeBackend { return &fakeBackend{states: map[string]bool{}} }

func (f *fakeBackend) Name(id string) (string, bool) { return id, true }
func (f *fakeBackend) SetState(id string, on bool) error {
	f.states[id] = on
	return nil
}
func (f *fakeBackend) GetState(id string) (bool, error) { return f.states[id], nil }

func TestExclusivePumpMapsDirectlyToRelay(t *testing.T) {
	be := newFakeBackend()
	r := relay.New("feed_pump", relay.OpFirst, relay.MissFail, []relay.Target{{Backend: be, ID: "pin1"}}, time.Unix(0, 0))
	p := NewExclusive("feed_pump", r)

	require.NoError(t, p.Set(true, time.Unix(1, 0)))
	assert.True(t, r.Get())
	require.NoError(t, p.Set(false, time.Unix(2, 0)))
	assert.False(t, r.Get())
}

func TestExclusivePumpNoRelayIsNotConfigured(t *testing.T) {
	p := NewExclusive("orphan_pump", nil)
	err := p.Set(true, time.Unix(0, 0))
	require.Error(t, err)
	assert.Equal(t, xerr.NotConfigured, xerr.KindOf(err))
}

func TestSharedGroupOrsChildDemands(t *testing.T) {
	be := newFakeBackend()
	r := relay.New("shared_pump", relay.OpFirst, relay.MissFail, []relay.Target{{Backend: be, ID: "pin1"}}, time.Unix(0, 0))
	g := NewGroup("loop_pump", r)
	a := g.Child("circuit_a")
	b := g.Child("circuit_b")

	require.NoError(t, a.Set(true, time.Unix(1, 0)))
	assert.True(t, g.On(), "parent must be on once any child demands it")

	require.NoError(t, b.Set(true, time.Unix(2, 0)))
	assert.True(t, g.On())

	require.NoError(t, a.Set(false, time.Unix(3, 0)))
	assert.True(t, g.On(), "parent stays on while sibling b is still on")

	require.NoError(t, b.Set(false, time.Unix(4, 0)))
	assert.False(t, g.On(), "parent goes off only once every child is off")
}

func TestSharedGroupChildOnThenOffLeavesParentAsPriorStateIfSiblingStillOn(t *testing.T) {
	be := newFakeBackend()
	r := relay.New("shared_pump", relay.OpFirst, relay.MissFail, []relay.Target{{Backend: be, ID: "pin1"}}, time.Unix(0, 0))
	g := NewGroup("loop_pump", r)
	a := g.Child("circuit_a")
	b := g.Child("circuit_b")

	require.NoError(t, b.Set(true, time.Unix(1, 0)))
	require.NoError(t, a.Set(true, time.Unix(2, 0)))
	require.NoError(t, a.Set(false, time.Unix(3, 0)))

	assert.True(t, g.On())
}
