package valve

import (
	"math"

	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// Result is a controller's requested move: Dir==Stop with Course==0
// means "no move requested this evaluation" (Deadzone/Deadband cases
// are reported as an error instead, per spec, so callers can tell a
// real STOP from "nothing to do").
type Result struct {
	Dir    MotorState
	Course int64 // permil magnitude, 0..1000
}

// Inputs bundles the sensor readings a Controller needs to evaluate.
// TempInLow may be numeric.TempUnset when the cold-feed sensor is
// absent; PI falls back to TempInHigh - Ksmax in that case.
type Inputs struct {
	Target     numeric.Temp
	TempOut    numeric.Temp
	TempInHigh numeric.Temp
	TempInLow  numeric.Temp
}

// Controller is a valve temperature-control algorithm (§4.5.2-4.5.4).
type Controller interface {
	SampleInterval() clock.Tick
	Evaluate(now clock.Tick, in Inputs) (Result, error)
}

// BangBang is the simplest controller (§4.5.2): full open/close with a
// single deadzone, evaluated every tick.
type BangBang struct {
	Deadzone numeric.Temp
}

func (b *BangBang) SampleInterval() clock.Tick { return 1 }

func (b *BangBang) Evaluate(_ clock.Tick, in Inputs) (Result, error) {
	half := b.Deadzone / 2
	switch {
	case in.TempOut < in.Target-half:
		return Result{Dir: Open, Course: 1000}, nil
	case in.TempOut > in.Target+half:
		return Result{Dir: Close, Course: 1000}, nil
	default:
		return Result{}, xerr.New(xerr.Deadzone, "within deadzone")
	}
}

// SApprox is the successive-approximation controller (§4.5.3): a fixed
// small step every SampleIntvl, sized so one step can't overshoot the
// deadzone at the slowest expected plant response.
type SApprox struct {
	SampleIntvl clock.Tick
	Amount      int64 // permil per step
	Deadzone    numeric.Temp
}

func (s *SApprox) SampleInterval() clock.Tick { return s.SampleIntvl }

func (s *SApprox) Evaluate(_ clock.Tick, in Inputs) (Result, error) {
	half := s.Deadzone / 2
	switch {
	case in.TempOut < in.Target-half:
		return Result{Dir: Open, Course: s.Amount}, nil
	case in.TempOut > in.Target+half:
		return Result{Dir: Close, Course: s.Amount}, nil
	default:
		return Result{}, xerr.New(xerr.Deadzone, "within deadzone")
	}
}

// Tuning selects the PI closed-loop time-constant aggressiveness.
type Tuning int

const (
	Aggressive Tuning = iota
	Moderate
	Conservative
)

func (tu Tuning) factor() float64 {
	switch tu {
	case Aggressive:
		return 1
	case Conservative:
		return 100
	default:
		return 10
	}
}

// PI is the velocity-form, proportional-on-output controller (§4.5.4).
// It must be evaluated at SampleIntvl, which must itself satisfy
// sample_intvl <= Tu/4 (Nyquist) — callers construct it with a valid
// interval; PI does not re-check this at runtime.
type PI struct {
	SampleIntvl clock.Tick
	Deadzone    numeric.Temp
	Deadband    int64 // permil threshold below which output is accumulated, not issued
	Tu, Td      clock.Tick
	Tuning      Tuning
	Ksmax       numeric.Temp // tempin_h - tempin_l fallback spread when tempin_l absent

	prevOut   numeric.Temp
	dbAcc     float64
	ctrlReset bool
	started   bool
	lastEval  clock.Tick
	haveLast  bool
}

func (p *PI) SampleInterval() clock.Tick { return p.SampleIntvl }

func (p *PI) Evaluate(now clock.Tick, in Inputs) (Result, error) {
	tempInLow := in.TempInLow
	if tempInLow == numeric.TempUnset {
		tempInLow = in.TempInHigh - p.Ksmax
	}

	half := p.Deadzone / 2
	if abs32(int32(in.Target-in.TempOut)) <= int32(half) {
		p.ctrlReset = true
		return Result{}, xerr.New(xerr.Deadzone, "within deadzone")
	}

	switch {
	case in.Target <= tempInLow:
		p.ctrlReset = true
		return Result{Dir: Close, Course: 1000}, nil
	case in.Target >= in.TempInHigh:
		p.ctrlReset = true
		return Result{Dir: Open, Course: 1000}, nil
	}

	if p.ctrlReset || !p.started {
		p.prevOut = in.TempOut
		p.dbAcc = 0
		p.ctrlReset = false
		p.started = true
		return Result{}, xerr.New(xerr.Deadband, "control reset, skipping one iteration")
	}

	var dt clock.Tick
	if p.haveLast {
		dt = now.Sub(p.lastEval)
	}
	p.lastEval = now
	p.haveLast = true
	if dt <= 0 {
		return Result{}, xerr.New(xerr.Deadband, "no elapsed time since last evaluation")
	}

	spreadK := math.Abs(numeric.TempToDeltaK(in.TempInHigh - tempInLow))
	if spreadK == 0 {
		return Result{}, xerr.New(xerr.Misconfigured, "tempin_h and tempin_l coincide")
	}
	k := spreadK / 1000

	tc := math.Max(float64(p.Tu), 8*float64(p.Td)) * p.Tuning.factor() / 10
	kpT := float64(p.Tu) / (float64(p.Td) + tc)
	kp := kpT / k
	ki := kp / float64(p.Tu)

	e := numeric.TempToDeltaK(in.Target - in.TempOut)
	iterm := ki * e * float64(dt)
	pterm := kp * numeric.TempToDeltaK(p.prevOut-in.TempOut)
	output := iterm + pterm + p.dbAcc

	course := int64(math.Trunc(output))

	if abs64(course) < p.Deadband {
		p.dbAcc += iterm
		return Result{}, xerr.New(xerr.Deadband, "output below deadband, accumulating")
	}

	p.prevOut = in.TempOut
	p.dbAcc = 0

	dir := Open
	if course < 0 {
		dir = Close
		course = -course
	}
	if course > 1000 {
		course = 1000
	}
	return Result{Dir: dir, Course: course}, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
