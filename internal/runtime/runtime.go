// Package runtime implements the Runtime entity (spec §3): the
// system-wide mode, start time and plant handle, plus the World that
// threads it and its collaborators through the process instead of
// living as package-level globals (per the Design Notes' "global
// mutable state" guidance).
package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/plant"
	"github.com/oebus/hvac-plant/internal/store"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// stateVersion is bumped whenever the persisted shape below changes;
// a mismatch on restore discards the blob and cold-starts (spec §6).
const stateVersion = 1

// persisted is the on-disk shape of the runtime's own state, stored
// under the "runtime" key (spec §3 invariant 4 / §6).
type persisted struct {
	Systemmode mode.Systemmode `json:"systemmode"`
	Runmode    mode.Runmode    `json:"runmode"`
	DHWMode    mode.Runmode    `json:"dhwmode"`
	StartTime  time.Time       `json:"start_time"`
}

// Runtime holds the system-wide mode and the fallback runmode/dhwmode
// systemmode feeds into per-object runmode resolution (spec §3,
// glossary "Runmode vs Systemmode").
type Runtime struct {
	mu sync.RWMutex

	systemmode mode.Systemmode
	runmode    mode.Runmode
	dhwmode    mode.Runmode
	startTime  time.Time

	Plant *plant.Plant

	// PreTick, if set, runs before Plant.Tick every cycle — wiring hangs
	// sensor sampling here, since Plant itself only holds sensors
	// indirectly through the circuits/DHWTs/heatsources that read them.
	PreTick func(now clock.Tick)
}

// New creates a Runtime pinned to plant, starting in systemmode off.
func New(p *plant.Plant) *Runtime {
	return &Runtime{
		systemmode: mode.SysOff,
		runmode:    mode.RunOff,
		dhwmode:    mode.RunOff,
		startTime:  time.Now(),
		Plant:      p,
	}
}

// Systemmode returns the current system-wide mode.
func (r *Runtime) Systemmode() mode.Systemmode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemmode
}

// SetSystemmode changes the system-wide mode.
func (r *Runtime) SetSystemmode(m mode.Systemmode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemmode = m
}

// StartTime returns when this Runtime was created (process start, or
// the restored start time if state was recovered from disk).
func (r *Runtime) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTime
}

// Resolve derives the runmode a circuit/DHWT/heatsource should use this
// tick from the global systemmode and the runmode the schedule would
// otherwise assign. Systemmode auto/manual/none defer to the schedule;
// every other systemmode value is a direct plant-wide override (spec
// §3 glossary: "systemmode ... feeding defaults into runmodes" does not
// name the exact precedence rule, so this override-unless-auto policy
// is this implementation's choice; see DESIGN.md).
func (r *Runtime) Resolve(scheduleRunmode mode.Runmode) mode.Runmode {
	r.mu.RLock()
	sm := r.systemmode
	r.mu.RUnlock()

	switch sm {
	case mode.SysOff:
		return mode.RunOff
	case mode.SysAuto, mode.SysManual, mode.SysNone:
		return scheduleRunmode
	case mode.SysComfort:
		return mode.RunComfort
	case mode.SysEco:
		return mode.RunEco
	case mode.SysFrostfree:
		return mode.RunFrostfree
	case mode.SysDHWOnly:
		return mode.RunDHWOnly
	case mode.SysTest:
		return mode.RunTest
	default:
		return mode.RunOff
	}
}

// Restore recovers persisted runtime state from backend. A missing key
// or version mismatch is a cold start, not an error.
func (r *Runtime) Restore(backend store.Backend) error {
	raw, err := backend.Fetch("runtime", stateVersion)
	if err != nil {
		if xerr.KindOf(err) == xerr.NotFound || err == store.ErrVersionMismatch {
			log.Info().Msg("no persisted runtime state, cold start")
			return nil
		}
		return err
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return xerr.Wrap(xerr.Mismatch, "decode runtime state", err)
	}

	r.mu.Lock()
	r.systemmode = p.Systemmode
	r.runmode = p.Runmode
	r.dhwmode = p.DHWMode
	r.startTime = p.StartTime
	r.mu.Unlock()

	log.Info().Str("systemmode", p.Systemmode.String()).Msg("restored runtime state")
	return nil
}

// Persist writes the current runtime state to backend.
func (r *Runtime) Persist(backend store.Backend) error {
	r.mu.RLock()
	p := persisted{
		Systemmode: r.systemmode,
		Runmode:    r.runmode,
		DHWMode:    r.dhwmode,
		StartTime:  r.startTime,
	}
	r.mu.RUnlock()

	raw, err := json.Marshal(p)
	if err != nil {
		return xerr.Wrap(xerr.Generic, "encode runtime state", err)
	}
	return backend.Dump("runtime", stateVersion, raw)
}

// Run drives the plant ticker (grounded on the teacher's
// controller.Run(ctx)/evaluate ticker loop, generalized from one
// buffer-tank evaluation to a full plant.Tick). It blocks until ctx is
// cancelled.
func (r *Runtime) Run(ctx context.Context, src clock.Source) {
	ticker := time.NewTicker(clock.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down plant loop")
			return
		case now := <-ticker.C:
			tick := src.Now()
			if r.PreTick != nil {
				r.PreTick(tick)
			}
			if r.Plant != nil {
				r.Plant.Tick(tick, now)
			}
		}
	}
}

// World is the single process-wide value threaded through top-level
// entry points (the plant loop, the API server, shutdown), replacing
// the teacher's package-level `env.Cfg`/`env.SystemState` globals per
// the Design Notes' "global mutable state" guidance. It does not
// itself hold config; callers embed config alongside it as needed.
type World struct {
	Runtime *Runtime
	Store   store.Backend
}

// NewWorld builds a World around an already-constructed Runtime and
// storage backend.
func NewWorld(rt *Runtime, backend store.Backend) *World {
	return &World{Runtime: rt, Store: backend}
}

// Online restores persisted state and brings the runtime to auto,
// mirroring the spec's online/offline plant lifecycle (§3 Runtime).
func (w *World) Online() error {
	if err := w.Runtime.Restore(w.Store); err != nil {
		return err
	}
	w.Runtime.SetSystemmode(mode.SysAuto)
	log.Info().Msg("plant online")
	return nil
}

// Offline persists state and drops the runtime to off. Call this
// leaf-first, after every circuit/DHWT/heatsource has itself gone
// offline, matching the teacher's shutdown ordering.
func (w *World) Offline() error {
	w.Runtime.SetSystemmode(mode.SysOff)
	if err := w.Runtime.Persist(w.Store); err != nil {
		return err
	}
	log.Info().Msg("plant offline")
	return nil
}
