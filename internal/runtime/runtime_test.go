package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/store"
)

func TestRuntimeResolveDefersToScheduleUnderAuto(t *testing.T) {
	r := New(nil)
	r.SetSystemmode(mode.SysAuto)
	assert.Equal(t, mode.RunEco, r.Resolve(mode.RunEco))
}

func TestRuntimeResolveOverridesUnderExplicitSystemmode(t *testing.T) {
	r := New(nil)
	r.SetSystemmode(mode.SysComfort)
	assert.Equal(t, mode.RunComfort, r.Resolve(mode.RunEco))

	r.SetSystemmode(mode.SysOff)
	assert.Equal(t, mode.RunOff, r.Resolve(mode.RunComfort))
}

func TestRuntimePersistRestoreRoundTrip(t *testing.T) {
	backend := store.NewFileStore(t.TempDir())

	r1 := New(nil)
	r1.SetSystemmode(mode.SysEco)
	require.NoError(t, r1.Persist(backend))

	r2 := New(nil)
	require.NoError(t, r2.Restore(backend))
	assert.Equal(t, mode.SysEco, r2.Systemmode())
}

func TestRuntimeRestoreWithNoPersistedStateIsColdStartNotError(t *testing.T) {
	backend := store.NewFileStore(t.TempDir())

	r := New(nil)
	require.NoError(t, r.Restore(backend))
	assert.Equal(t, mode.SysOff, r.Systemmode())
}

func TestWorldOnlineOfflineRoundTrip(t *testing.T) {
	backend := store.NewFileStore(t.TempDir())
	w := NewWorld(New(nil), backend)

	require.NoError(t, w.Online())
	assert.Equal(t, mode.SysAuto, w.Runtime.Systemmode())

	require.NoError(t, w.Offline())
	assert.Equal(t, mode.SysOff, w.Runtime.Systemmode())

	w2 := NewWorld(New(nil), backend)
	require.NoError(t, w2.Online())
	assert.Equal(t, mode.SysAuto, w2.Runtime.Systemmode(), "Online always forces auto regardless of what was persisted")
}
