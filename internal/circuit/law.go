package circuit

import "github.com/oebus/hvac-plant/internal/numeric"

// nhBendFactor scales how far the inflection's water temperature is
// pulled off the Tout1/Twater1–Tout2/Twater2 base line per 100 points
// of NH100 deviation from 100 (no oversizing). Implementer-chosen
// constant; spec.md §4.7 step 3 fixes the two-segment shape but not
// this coefficient.
const nhBendFactor = 0.15

// Law is the bilinear outdoor-to-supply water-law (spec §3, §4.7 step
// 3): two defining points (cold/warm extremes) plus a radiator
// nonlinearity factor (NH100, the radiator oversizing percent at full
// load) bend a single straight line into two linear segments joined at
// an inflection point. All evaluation is referenced to a 20°C ambient
// target; callers shift the result for the actual target ambient.
type Law struct {
	Tout1, Twater1 numeric.Temp // cold extreme
	Tout2, Twater2 numeric.Temp // warm extreme
	NH100          float64

	prepared             bool
	baseSlope            float64
	toutInfl, twaterInfl numeric.Temp
	coldSlope, coldOff   float64
	warmSlope, warmOff   float64
}

func (l *Law) prepare() {
	if l.prepared {
		return
	}
	t1, w1 := numeric.TempToCelsius(l.Tout1), numeric.TempToCelsius(l.Twater1)
	t2, w2 := numeric.TempToCelsius(l.Tout2), numeric.TempToCelsius(l.Twater2)

	l.baseSlope = (w1 - w2) / (t1 - t2)
	baseOffset := w2 - l.baseSlope*t2

	frac := l.NH100 / 200
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	toutInflC := t2 + (t1-t2)*frac
	onLineW := l.baseSlope*toutInflC + baseOffset

	// NH100 bends the curve away from the straight base line: an
	// oversized radiator (NH100>100) needs less of a water-temperature
	// rise to hit the cold design point, so the inflection's water
	// temperature dips below the base line, steepening the cold
	// segment to still reach (Tout1,Twater1); NH100<100 does the
	// opposite. NH100=100 leaves the bend at zero, collapsing back to
	// the single base line.
	nhDev := (l.NH100 - 100) / 100
	twaterInflC := onLineW - nhDev*(w1-w2)*nhBendFactor

	l.coldSlope = (w1 - twaterInflC) / (t1 - toutInflC)
	l.coldOff = twaterInflC - l.coldSlope*toutInflC
	l.warmSlope = (twaterInflC - w2) / (toutInflC - t2)
	l.warmOff = w2 - l.warmSlope*t2

	l.toutInfl = numeric.CelsiusToTemp(toutInflC)
	l.twaterInfl = numeric.CelsiusToTemp(twaterInflC)
	l.prepared = true
}

// Evaluate returns the target water temperature for tout, shifted for
// targetAmbient away from the law's 20°C reference (§4.7 step 3).
func (l *Law) Evaluate(tout, targetAmbient numeric.Temp) numeric.Temp {
	l.prepare()

	toutC := numeric.TempToCelsius(tout)
	var w20 float64
	if toutC <= numeric.TempToCelsius(l.toutInfl) {
		w20 = l.coldSlope*toutC + l.coldOff
	} else {
		w20 = l.warmSlope*toutC + l.warmOff
	}

	ambientC := numeric.TempToCelsius(targetAmbient)
	w := w20 + (ambientC-20)*(1-l.baseSlope)
	return numeric.CelsiusToTemp(w)
}
