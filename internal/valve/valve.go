package valve

import (
	"time"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// Valve ties a physical Driver to a temperature Controller, gating
// control evaluation to the controller's own sample interval while the
// physical driver still steps every tick (§4.5: "Per call, compute dt
// since last run" runs on every invocation of Tick).
type Valve struct {
	Name       string
	Driver     *Driver
	Controller Controller

	lastSample clock.Tick
	haveSample bool
}

// New returns a Valve driving d under control algorithm c.
func New(name string, d *Driver, c Controller) *Valve {
	return &Valve{Name: name, Driver: d, Controller: c}
}

// Tick evaluates the control algorithm when due and always steps the
// physical driver. now is the control-tick counter (for the sample
// interval gate); wallNow is the wall-clock instant (for the physical
// travel-time integration).
func (v *Valve) Tick(now clock.Tick, wallNow time.Time, in Inputs) error {
	if v.Driver == nil {
		return xerr.New(xerr.NotConfigured, "valve "+v.Name+" has no driver")
	}

	var ctrlErr error
	due := !v.haveSample || now.Sub(v.lastSample) >= v.Controller.SampleInterval()
	if v.Controller != nil && due {
		v.lastSample = now
		v.haveSample = true

		res, err := v.Controller.Evaluate(now, in)
		switch {
		case err == nil:
			v.Driver.RequestMove(res.Dir, res.Course)
		case xerr.IsBenign(err):
			ctrlErr = err
		default:
			return err
		}
	}

	if err := v.Driver.Run(wallNow); err != nil {
		return err
	}
	return ctrlErr
}

// Position returns the driver's actual_position in permille.
func (v *Valve) Position() int64 { return v.Driver.Position() }
