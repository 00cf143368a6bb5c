// Package valve implements the mixing-valve actuator (spec §4.5): a
// physical motor driver state machine shared by three temperature
// control algorithms (bang-bang, successive-approximation, and a
// velocity-form PI).
package valve

import (
	"math"
	"sync"
	"time"

	"github.com/oebus/hvac-plant/internal/relay"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// MotorState is the physical driver's three-state actuation command.
type MotorState int

const (
	Stop MotorState = iota
	Open
	Close
)

// MotorKind distinguishes the two physical wiring conventions a Driver
// can drive.
type MotorKind int

const (
	// ThreeWay drives two relays (open/close) with break-before-make.
	ThreeWay MotorKind = iota
	// TwoWay drives a single spring-return relay; the direction it
	// opens the valve in is fixed by TriggerOpens.
	TwoWay
)

// Driver is the physical motor driver (§4.5.1): it tracks accumulated
// open/close travel time, actual_position in permille, and applies
// break-before-make on direction reversal.
type Driver struct {
	Name string
	Kind MotorKind

	OpenRelay    *relay.Relay // ThreeWay
	CloseRelay   *relay.Relay // ThreeWay
	TriggerRelay *relay.Relay // TwoWay
	TriggerOpens bool         // TwoWay: energized drives Open when true, Close when false

	EteTime time.Duration // end-to-end travel time, full stroke

	mu                sync.Mutex
	state             MotorState // currently-energized direction
	direction         MotorState // requested direction while targetCourse > 0
	targetCourse      int64      // remaining permil to travel in direction
	actualPosition    int64      // 0..1000, 0=fully closed, 1000=fully open
	continuousRun     time.Duration
	truePositionKnown bool
	lastRun           time.Time
}

// NewDriver constructs a Driver. The valve is assumed fully closed at
// startup (actual_position=0, true-position known) — callers that know
// the real position should override via SetPosition.
func NewDriver(name string, kind MotorKind, eteTime time.Duration, now time.Time) *Driver {
	return &Driver{
		Name:              name,
		Kind:              kind,
		EteTime:           eteTime,
		truePositionKnown: true,
		lastRun:           now,
	}
}

// SetPosition seeds actual_position (permil, 0..1000) when the real
// position is known from a prior run (e.g. restored from the store).
func (d *Driver) SetPosition(permil int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actualPosition = clampPermil(permil)
}

// Position returns actual_position in permille (0=closed, 1000=open).
func (d *Driver) Position() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.actualPosition
}

// TruePositionKnown reports whether actual_position can be trusted —
// it goes false once continuous travel exceeds 3x ete_time, signalling
// the valve likely hit its end-stop and kept trying to drive past it.
func (d *Driver) TruePositionKnown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.truePositionKnown
}

// RequestMove asks the driver to travel course permil (0..1000,
// magnitude only) in dir (Open or Close). A request in the opposite
// direction to an in-progress move overrides it; Run applies
// break-before-make on the next tick.
func (d *Driver) RequestMove(dir MotorState, course int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dir == Stop {
		d.targetCourse = 0
		return
	}
	d.direction = dir
	d.targetCourse = clampPermil(course)
}

// RequestStop cancels any pending travel.
func (d *Driver) RequestStop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targetCourse = 0
}

// Run executes one physical-driver tick (§4.5.1): it advances
// actual_position by the travel achieved since the last call, trims
// the remaining target_course, decides whether to keep driving or
// request STOP, and applies that request to the backing relays.
func (d *Driver) Run(now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dt := now.Sub(d.lastRun)
	d.lastRun = now
	if dt <= 0 || d.EteTime <= 0 {
		return nil
	}

	var course int64
	if d.state != Stop {
		course = int64(math.Round(dt.Seconds() * 1000 / d.EteTime.Seconds()))
		switch d.state {
		case Open:
			d.actualPosition = clampPermil(d.actualPosition + course)
		case Close:
			d.actualPosition = clampPermil(d.actualPosition - course)
		}
		if course < 0 {
			course = -course
		}
		d.targetCourse -= course
		if d.targetCourse < 0 {
			d.targetCourse = 0
		}

		d.continuousRun += dt
		if d.continuousRun > 3*d.EteTime {
			d.truePositionKnown = false
			d.targetCourse = 0
		}
	}

	request := d.direction
	if d.targetCourse <= 0 || d.targetCourse <= course/2 {
		request = Stop
	}

	if request != d.state {
		d.continuousRun = 0
	}

	return d.apply(request)
}

// apply energizes the relays for request, de-energizing the opposite
// direction first on a 3-way motor (break-before-make).
func (d *Driver) apply(request MotorState) error {
	if request == d.state {
		return nil
	}

	switch d.Kind {
	case ThreeWay:
		if d.OpenRelay == nil || d.CloseRelay == nil {
			return xerr.New(xerr.NotConfigured, "valve "+d.Name+" missing 3-way relays")
		}
		now := d.lastRun
		if d.state == Open {
			if err := d.OpenRelay.Set(false, now); err != nil {
				return err
			}
		}
		if d.state == Close {
			if err := d.CloseRelay.Set(false, now); err != nil {
				return err
			}
		}
		switch request {
		case Open:
			if err := d.OpenRelay.Set(true, now); err != nil {
				return err
			}
		case Close:
			if err := d.CloseRelay.Set(true, now); err != nil {
				return err
			}
		case Stop:
			// both already de-energized above, or were already off
		}
	case TwoWay:
		if d.TriggerRelay == nil {
			return xerr.New(xerr.NotConfigured, "valve "+d.Name+" missing 2-way relay")
		}
		energize := request != Stop && (request == Open) == d.TriggerOpens
		if err := d.TriggerRelay.Set(energize, d.lastRun); err != nil {
			return err
		}
	}

	d.state = request
	return nil
}

func clampPermil(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
