// Package pump implements the pump entity (spec §4.4): a named demand
// over a relay, either exclusive (1:1 to its relay) or shared within a
// parent/child group where child demands OR-merge onto the parent's
// relay.
package pump

import (
	"sync"
	"time"

	"github.com/oebus/hvac-plant/internal/relay"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// Pump is a single named pump. Exclusive pumps drive Relay directly.
// Shared pumps register as children of a Group, whose single relay
// reflects the OR of all children's demands.
type Pump struct {
	Name  string
	Relay *relay.Relay // nil for a shared child; the parent owns the relay

	group *Group // nil for an exclusive pump

	mu      sync.Mutex
	demand  bool
}

// NewExclusive returns a pump mapped 1:1 to r.
func NewExclusive(name string, r *relay.Relay) *Pump {
	return &Pump{Name: name, Relay: r}
}

// Group is a shared parent relay plus its registered child pumps. The
// parent relay is on iff at least one child's demand is on (spec:
// "the parent is off only when all children are off").
type Group struct {
	Name   string
	Relay  *relay.Relay

	mu       sync.Mutex
	children map[string]*Pump
}

// NewGroup returns a shared pump group driving r.
func NewGroup(name string, r *relay.Relay) *Group {
	return &Group{Name: name, Relay: r, children: map[string]*Pump{}}
}

// Child registers and returns a new shared child pump in the group.
func (g *Group) Child(name string) *Pump {
	p := &Pump{Name: name, group: g}
	g.mu.Lock()
	g.children[name] = p
	g.mu.Unlock()
	return p
}

// Set applies the pump's demand. For an exclusive pump this writes the
// relay directly; for a shared child it records the child's demand and
// recomputes the OR across all siblings before writing the parent
// relay once (so siblings can't race each other into redundant writes
// of the same resulting state — Relay.Set is itself idempotent on a
// same-state call, but recomputing first avoids the extra dispatch).
func (p *Pump) Set(on bool, now time.Time) error {
	if p.group == nil {
		if p.Relay == nil {
			return xerr.New(xerr.NotConfigured, "pump "+p.Name+" has no relay")
		}
		return p.Relay.Set(on, now)
	}

	p.mu.Lock()
	p.demand = on
	p.mu.Unlock()

	return p.group.recompute(now)
}

// Demand returns the pump's last-requested demand (not necessarily the
// parent relay's actual state, for a shared child whose sibling is
// also on).
func (p *Pump) Demand() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.demand
}

func (g *Group) recompute(now time.Time) error {
	g.mu.Lock()
	on := false
	for _, c := range g.children {
		if c.Demand() {
			on = true
			break
		}
	}
	g.mu.Unlock()

	if g.Relay == nil {
		return xerr.New(xerr.NotConfigured, "pump group "+g.Name+" has no relay")
	}
	return g.Relay.Set(on, now)
}

// On reports the parent relay's actual state.
func (g *Group) On() bool {
	if g.Relay == nil {
		return false
	}
	return g.Relay.Get()
}
