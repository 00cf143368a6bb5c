package wiring

import (
	"github.com/oebus/hvac-plant/internal/bmodel"
	"github.com/oebus/hvac-plant/internal/circuit"
	"github.com/oebus/hvac-plant/internal/dhwt"
	"github.com/oebus/hvac-plant/internal/heatsource/boiler"
	"github.com/oebus/hvac-plant/internal/logregistry"
	"github.com/oebus/hvac-plant/internal/numeric"
)

// bmodelSource, circuitSource, dhwtSource and boilerSource adapt the
// domain entities' own atomic accessors into logregistry.Source, so
// the registry's pull loop can log every entity's live values without
// those packages needing to know logregistry exists.

type bmodelSource struct{ bm *bmodel.BModel }

func (s bmodelSource) Sample() logregistry.Sample {
	return logregistry.Sample{
		Keys: []string{"t_out", "t_out_filt", "t_out_att", "t_out_mix", "summer", "frost"},
		Values: []float64{
			numeric.TempToCelsius(s.bm.TOut()),
			numeric.TempToCelsius(s.bm.TOutFilt()),
			numeric.TempToCelsius(s.bm.TOutAtt()),
			numeric.TempToCelsius(s.bm.TOutMix()),
			boolFloat(s.bm.Summer()),
			boolFloat(s.bm.Frost()),
		},
		NValues: 6,
	}
}

type circuitSource struct{ c *circuit.Circuit }

func (s circuitSource) Sample() logregistry.Sample {
	return logregistry.Sample{
		Keys: []string{"runmode", "heat_request", "target_wtemp", "actual_wtemp", "online"},
		Values: []float64{
			float64(s.c.Runmode()),
			numeric.TempToCelsius(s.c.HeatRequest()),
			numeric.TempToCelsius(s.c.TargetWtemp()),
			numeric.TempToCelsius(s.c.ActualWtemp()),
			boolFloat(s.c.Online()),
		},
		NValues: 5,
	}
}

type dhwtSource struct{ d *dhwt.DHWT }

func (s dhwtSource) Sample() logregistry.Sample {
	return logregistry.Sample{
		Keys: []string{"actual_temp", "target_temp", "charge_on", "electric_mode", "recycle_on", "online"},
		Values: []float64{
			numeric.TempToCelsius(s.d.ActualTemp()),
			numeric.TempToCelsius(s.d.TargetTemp()),
			boolFloat(s.d.ChargeOn()),
			boolFloat(s.d.ElectricMode()),
			boolFloat(s.d.RecycleOn()),
			boolFloat(s.d.Online()),
		},
		NValues: 6,
	}
}

type boilerSource struct{ b *boiler.Boiler }

func (s boilerSource) Sample() logregistry.Sample {
	return logregistry.Sample{
		Keys: []string{"actual_temp", "target_temp", "active", "antifreeze", "overtemp", "online"},
		Values: []float64{
			numeric.TempToCelsius(s.b.ActualTemp()),
			numeric.TempToCelsius(s.b.TargetTemp()),
			boolFloat(s.b.Active()),
			boolFloat(s.b.Antifreeze()),
			boolFloat(s.b.Overtemp()),
			boolFloat(s.b.Online()),
		},
		NValues: 6,
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RegisterLogSources wires every bmodel/circuit/dhwt/boiler built by
// Build into reg, one named source per entity.
func (p *Plant) RegisterLogSources(reg *logregistry.Registry) {
	for name, bm := range p.BModels {
		reg.Register(name, []string{"t_out", "t_out_filt", "t_out_att", "t_out_mix", "summer", "frost"}, bmodelSource{bm})
	}
	for name, c := range p.Circuits {
		reg.Register(name, []string{"runmode", "heat_request", "target_wtemp", "actual_wtemp", "online"}, circuitSource{c})
	}
	for name, d := range p.DHWTs {
		reg.Register(name, []string{"actual_temp", "target_temp", "charge_on", "electric_mode", "recycle_on", "online"}, dhwtSource{d})
	}
	for name, b := range p.Boilers {
		reg.Register(name, []string{"actual_temp", "target_temp", "active", "antifreeze", "overtemp", "online"}, boilerSource{b})
	}
}
