// Package relay implements the named-relay output abstraction (spec
// §4.3): one or more backend targets dispatched under a first/all
// policy and a fail/ignore missing-source policy, with exclusive
// ownership (grab/thaw), a spinlocked write path, and lock-free atomic
// accounting for the logging thread.
package relay

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/xerr"
)

// DispatchOp selects how many backend targets a Relay writes to per
// call to Set.
type DispatchOp int

const (
	// OpFirst stops dispatching after the first successful target —
	// combined with MissIgnore this gives a failover relay (§4.3).
	OpFirst DispatchOp = iota
	// OpAll dispatches to every configured target.
	OpAll
)

// MissingPolicy controls how a Relay reacts to a backend write failure.
type MissingPolicy int

const (
	// MissFail aborts the whole Set call on the first backend error.
	MissFail MissingPolicy = iota
	// MissIgnore continues past a failing target.
	MissIgnore
)

// Backend is the external relay backend collaborator (§6): it owns the
// physical/virtual output identified by id and reports/sets its state.
type Backend interface {
	Name(id string) (string, bool)
	SetState(id string, on bool) error
	GetState(id string) (bool, error)
}

// Target is one backend output a Relay can dispatch to, in priority
// order.
type Target struct {
	Backend Backend
	ID      string
}

// spinFlag is an acquire/release spinlock built on an atomic bool, used
// only to serialize the relay write path (§5: "spinlock flag... only to
// serialize the write path across the control thread and any in-tree
// summer-maintenance forced writes").
type spinFlag struct {
	held atomic.Bool
}

func (s *spinFlag) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		// busy-wait; the critical section is a handful of backend
		// calls plus bookkeeping, never blocking I/O (§5).
	}
}

func (s *spinFlag) Unlock() {
	s.held.Store(false)
}

// Relay is a named output mapping to 1..N backend targets.
type Relay struct {
	Name    string
	Op      DispatchOp
	Missing MissingPolicy
	Targets []Target

	lock spinFlag

	state      atomic.Bool
	cycles     atomic.Uint64
	onNanos    atomic.Int64
	offNanos   atomic.Int64
	stateSince atomic.Int64 // unix nanos of last state transition
	grabbed    atomic.Bool
}

// New constructs a Relay over the given targets. The relay starts in
// the off state with stateSince set to now, so accounting is correct
// from the first tick.
func New(name string, op DispatchOp, missing MissingPolicy, targets []Target, now time.Time) *Relay {
	r := &Relay{Name: name, Op: op, Missing: missing, Targets: targets}
	r.stateSince.Store(now.UnixNano())
	return r
}

// Set applies the requested state, dispatching to backend targets per
// Op/Missing, per §4.3's five-step algorithm.
func (r *Relay) Set(on bool, now time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.state.Load() == on {
		return nil
	}

	var succeeded int
	var firstErr error
	for _, t := range r.Targets {
		if err := t.Backend.SetState(t.ID, on); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if r.Missing == MissFail {
				return xerr.Wrap(xerr.Generic, "relay "+r.Name+" backend write failed", err)
			}
			continue
		}
		succeeded++
		if r.Op == OpFirst {
			break
		}
	}

	if succeeded == 0 {
		if firstErr != nil {
			return xerr.Wrap(xerr.Generic, "relay "+r.Name+" had no successful targets", firstErr)
		}
		return xerr.New(xerr.NotConfigured, "relay "+r.Name+" has no targets")
	}

	prevSince := time.Unix(0, r.stateSince.Load())
	elapsed := now.Sub(prevSince)
	if elapsed > 0 {
		if r.state.Load() {
			r.onNanos.Add(int64(elapsed))
		} else {
			r.offNanos.Add(int64(elapsed))
		}
	}

	r.state.Store(on)
	r.cycles.Add(1)
	r.stateSince.Store(now.UnixNano())

	log.Debug().Str("relay", r.Name).Bool("on", on).Msg("relay state changed")
	return nil
}

// Get returns the last successfully-applied state (relaxed read).
func (r *Relay) Get() bool { return r.state.Load() }

// Grab claims exclusive ownership of the relay; a second Grab before a
// Thaw fails with xerr.Exists.
func (r *Relay) Grab() error {
	if !r.grabbed.CompareAndSwap(false, true) {
		return xerr.New(xerr.Exists, "relay "+r.Name+" already grabbed")
	}
	return nil
}

// Thaw releases exclusive ownership.
func (r *Relay) Thaw() { r.grabbed.Store(false) }

// Grabbed reports whether the relay is currently exclusively owned.
func (r *Relay) Grabbed() bool { return r.grabbed.Load() }

// AcctCycles returns the monotonically non-decreasing cycle count
// (lock-free, relaxed — may be slightly stale, acceptable for logging).
func (r *Relay) AcctCycles() uint64 { return r.cycles.Load() }

// AcctOnSeconds returns accumulated on-time, including the current
// partial interval if on is true.
func (r *Relay) AcctOnSeconds(now time.Time) float64 {
	total := r.onNanos.Load()
	if r.state.Load() {
		total += int64(now.Sub(time.Unix(0, r.stateSince.Load())))
	}
	return time.Duration(total).Seconds()
}

// AcctOffSeconds returns accumulated off-time, including the current
// partial interval if off is true.
func (r *Relay) AcctOffSeconds(now time.Time) float64 {
	total := r.offNanos.Load()
	if !r.state.Load() {
		total += int64(now.Sub(time.Unix(0, r.stateSince.Load())))
	}
	return time.Duration(total).Seconds()
}
