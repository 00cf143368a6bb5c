// Package wiring turns a decoded config.Config into the live object
// graph (sensors, relays, pumps, valves, bmodels, circuits, DHWTs,
// heatsources) that internal/plant.Plant runs, resolving every name
// cross-reference config.Config already validated. Grounded on the
// teacher's main.go construction sequence (load config, build the
// object graph, hand it to the controller), generalized from a flat
// zone list to this domain's full named-entity graph.
package wiring

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/bmodel"
	"github.com/oebus/hvac-plant/internal/circuit"
	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/config"
	"github.com/oebus/hvac-plant/internal/dhwt"
	"github.com/oebus/hvac-plant/internal/heatsource/boiler"
	"github.com/oebus/hvac-plant/internal/hwio"
	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/plant"
	"github.com/oebus/hvac-plant/internal/pump"
	"github.com/oebus/hvac-plant/internal/relay"
	"github.com/oebus/hvac-plant/internal/scheduler"
	"github.com/oebus/hvac-plant/internal/sensors"
	"github.com/oebus/hvac-plant/internal/valve"
)

// Plant holds every live object built from config, keyed by name, plus
// the assembled plant.Plant ready to tick.
type Plant struct {
	Sensors  map[string]*sensors.Sensor
	Relays   map[string]*relay.Relay
	Pumps    map[string]pumpActuator
	Valves   map[string]*valve.Valve
	BModels  map[string]*bmodel.BModel
	Circuits map[string]*circuit.Circuit
	DHWTs    map[string]*dhwt.DHWT
	Boilers  map[string]*boiler.Boiler

	Schedules map[string]*scheduler.Schedule

	Plant *plant.Plant
}

type pumpActuator interface {
	Set(on bool, now time.Time) error
}

// SampleAll re-samples every configured sensor, skipping one that
// errors so a single failed probe doesn't stall the others; each
// consumer (circuit/DHWT/heatsource) still sees and reports the
// failure itself on its own next Get(). Intended as Runtime.PreTick.
func (p *Plant) SampleAll(now clock.Tick) {
	for name, s := range p.Sensors {
		if err := s.Sample(now); err != nil {
			log.Debug().Str("sensor", name).Err(err).Msg("sensor sample failed")
		}
	}
}

// Build constructs the full object graph from cfg. now is used to seed
// every stateful actuator's "since" bookkeeping.
func Build(cfg *config.Config, onewireRoot string, now time.Time) (*Plant, error) {
	p := &Plant{
		Sensors:   make(map[string]*sensors.Sensor),
		Relays:    make(map[string]*relay.Relay),
		Pumps:     make(map[string]pumpActuator),
		Valves:    make(map[string]*valve.Valve),
		BModels:   make(map[string]*bmodel.BModel),
		Circuits:  make(map[string]*circuit.Circuit),
		DHWTs:     make(map[string]*dhwt.DHWT),
		Boilers:   make(map[string]*boiler.Boiler),
		Schedules: make(map[string]*scheduler.Schedule),
	}

	onewire := hwio.NewOneWireSource(onewireRoot)

	for _, sc := range cfg.Sensors {
		p.Sensors[sc.Name] = buildSensor(sc, onewire)
	}
	for _, rc := range cfg.Relays {
		p.Relays[rc.Name] = buildRelay(rc, now)
	}
	groups := make(map[string]*pump.Group)
	for _, pc := range cfg.Pumps {
		r, ok := p.Relays[pc.RelayName]
		if !ok {
			return nil, fmt.Errorf("wiring: pump %s references unknown relay %s", pc.Name, pc.RelayName)
		}
		switch {
		case pc.Shared && pc.MasterName == "":
			// First mention of a shared relay owns the Group.
			g := pump.NewGroup(pc.Name, r)
			groups[pc.Name] = g
			p.Pumps[pc.Name] = g.Child(pc.Name)
		case pc.Shared:
			g, ok := groups[pc.MasterName]
			if !ok {
				return nil, fmt.Errorf("wiring: pump %s references unknown pump group master %s", pc.Name, pc.MasterName)
			}
			p.Pumps[pc.Name] = g.Child(pc.Name)
		default:
			p.Pumps[pc.Name] = pump.NewExclusive(pc.Name, r)
		}
	}
	for _, vc := range cfg.Valves {
		v, err := buildValve(vc, p, now)
		if err != nil {
			return nil, err
		}
		p.Valves[vc.Name] = v
	}
	for _, bc := range cfg.BModels {
		outdoor, ok := p.Sensors[bc.OutdoorSensor]
		if !ok {
			return nil, fmt.Errorf("wiring: bmodel %s references unknown sensor %s", bc.Name, bc.OutdoorSensor)
		}
		p.BModels[bc.Name] = bmodel.New(bc.Name, outdoor,
			numeric.CelsiusToTemp(bc.FrostLimitC), numeric.CelsiusToTemp(bc.SummerLimitC),
			clock.FromDuration(time.Duration(bc.TauSeconds)*time.Second))
	}
	for _, cc := range cfg.Circuits {
		c, err := buildCircuit(cc, p)
		if err != nil {
			return nil, err
		}
		p.Circuits[cc.Name] = c
	}
	for _, dc := range cfg.DHWTs {
		d, err := buildDHWT(dc, p)
		if err != nil {
			return nil, err
		}
		p.DHWTs[dc.Name] = d
	}
	for _, hc := range cfg.Heatsources {
		b, err := buildBoiler(hc, p)
		if err != nil {
			return nil, err
		}
		p.Boilers[hc.Name] = b
	}
	for _, sc := range cfg.Schedules {
		p.Schedules[sc.Name] = buildSchedule(sc)
	}

	p.Plant = buildPlantOrchestrator(cfg, p)
	return p, nil
}

func buildSensor(sc config.SensorConfig, onewire *hwio.OneWireSource) *sensors.Sensor {
	refs := make([]sensors.SourceRef, 0, len(sc.Probes))
	for _, id := range sc.Probes {
		refs = append(refs, sensors.SourceRef{Source: onewire, ID: id})
	}

	op := sensors.OpFirst
	switch sc.Aggregation {
	case "min":
		op = sensors.OpMin
	case "max":
		op = sensors.OpMax
	}

	missing := sensors.MissFail
	switch sc.MissingPolicy {
	case "ignore":
		missing = sensors.MissIgnore
	case "ignore_default":
		missing = sensors.MissIgnoreDefault
	}

	period := clock.FromDuration(time.Duration(sc.PeriodSeconds) * time.Second)
	if period == 0 {
		period = 1
	}

	return sensors.New(sc.Name, refs, op, period, numeric.DeltaKToTemp(sc.IgnoreThreshold), missing, 0)
}

func buildRelay(rc config.RelayConfig, now time.Time) *relay.Relay {
	pins := make(map[string]struct {
		Number     int
		ActiveHigh bool
	}, len(rc.Targets))
	for _, t := range rc.Targets {
		pins[t.ID] = struct {
			Number     int
			ActiveHigh bool
		}{Number: t.GPIOPin, ActiveHigh: t.ActiveHigh}
	}
	backend := hwio.NewGPIOBackend(pins)

	targets := make([]relay.Target, 0, len(rc.Targets))
	for _, t := range rc.Targets {
		targets = append(targets, relay.Target{Backend: backend, ID: t.ID})
	}

	op := relay.OpFirst
	if rc.DispatchOp == "all" {
		op = relay.OpAll
	}
	missing := relay.MissFail
	if rc.MissingPolicy == "ignore" {
		missing = relay.MissIgnore
	}

	return relay.New(rc.Name, op, missing, targets, now)
}

func buildValve(vc config.ValveConfig, p *Plant, now time.Time) (*valve.Valve, error) {
	kind := valve.ThreeWay
	if vc.Motor == "2way" {
		kind = valve.TwoWay
	}
	driver := valve.NewDriver(vc.Name, kind, time.Duration(vc.EteTimeSeconds)*time.Second, now)

	openRelay, ok := p.Relays[vc.OpenRelay]
	if !ok {
		return nil, fmt.Errorf("wiring: valve %s references unknown relay %s", vc.Name, vc.OpenRelay)
	}
	switch kind {
	case valve.TwoWay:
		driver.TriggerRelay = openRelay
		driver.TriggerOpens = vc.TriggerOpens
	default:
		driver.OpenRelay = openRelay
		closeRelay, ok := p.Relays[vc.CloseRelay]
		if !ok {
			return nil, fmt.Errorf("wiring: valve %s references unknown relay %s", vc.Name, vc.CloseRelay)
		}
		driver.CloseRelay = closeRelay
	}

	ctrl := buildController(vc)
	return valve.New(vc.Name, driver, ctrl), nil
}

func buildController(vc config.ValveConfig) valve.Controller {
	deadzone := numeric.DeltaKToTemp(vc.DeadzoneKelvin)
	switch vc.Algorithm {
	case "sapprox":
		return &valve.SApprox{
			SampleIntvl: clock.FromDuration(time.Duration(vc.EteTimeSeconds) * time.Second / 20),
			Amount:      int64(vc.DeadbandPermille),
			Deadzone:    deadzone,
		}
	case "PI", "pi":
		return &valve.PI{
			SampleIntvl: clock.FromDuration(30 * time.Second),
			Deadzone:    deadzone,
			Deadband:    int64(vc.DeadbandPermille),
			Tu:          clock.FromDuration(time.Duration(vc.EteTimeSeconds) * time.Second),
			Td:          clock.FromDuration(time.Duration(vc.EteTimeSeconds) * time.Second / 4),
			Tuning:      valve.Moderate,
			Ksmax:       numeric.DeltaKToTemp(20),
		}
	default:
		return &valve.BangBang{Deadzone: deadzone}
	}
}

func buildCircuit(cc config.CircuitConfig, p *Plant) (*circuit.Circuit, error) {
	outgoing, ok := p.Sensors[cc.OutgoingSensor]
	if !ok {
		return nil, fmt.Errorf("wiring: circuit %s references unknown sensor %s", cc.Name, cc.OutgoingSensor)
	}
	bm, ok := p.BModels[cc.BModel]
	if !ok {
		return nil, fmt.Errorf("wiring: circuit %s references unknown bmodel %s", cc.Name, cc.BModel)
	}
	feedPump, ok := p.Pumps[cc.FeedPump]
	if !ok {
		return nil, fmt.Errorf("wiring: circuit %s references unknown pump %s", cc.Name, cc.FeedPump)
	}

	var v *valve.Valve
	if cc.Valve != "" {
		v, ok = p.Valves[cc.Valve]
		if !ok {
			return nil, fmt.Errorf("wiring: circuit %s references unknown valve %s", cc.Name, cc.Valve)
		}
	}

	return &circuit.Circuit{
		Name:     cc.Name,
		Outgoing: outgoing,
		Valve:    v,
		FeedPump: feedPump,
		Outdoor:  bm,
		Law: circuit.Law{
			Tout1:   numeric.CelsiusToTemp(cc.Law.Tout1C),
			Twater1: numeric.CelsiusToTemp(cc.Law.Twater1C),
			Tout2:   numeric.CelsiusToTemp(cc.Law.Tout2C),
			Twater2: numeric.CelsiusToTemp(cc.Law.Twater2C),
			NH100:   cc.Law.NH100,
		},
		WtMin:            numeric.CelsiusToTemp(cc.WtMinC),
		WtMax:            numeric.CelsiusToTemp(cc.WtMaxC),
		InOffset:         numeric.DeltaKToTemp(cc.InOffsetK),
		RorhEnabled:      cc.RorhEnabled,
		WtempRorhPerHour: cc.WtempRorhPerHour,
		ComfortAmbient:   numeric.CelsiusToTemp(cc.ComfortAmbientC),
		EcoAmbient:       numeric.CelsiusToTemp(cc.EcoAmbientC),
		FrostfreeAmbient: numeric.CelsiusToTemp(cc.FrostfreeAmbientC),
	}, nil
}

func buildDHWT(dc config.DHWTConfig, p *Plant) (*dhwt.DHWT, error) {
	feedPump, ok := p.Pumps[dc.FeedPump]
	if !ok {
		return nil, fmt.Errorf("wiring: dhwt %s references unknown pump %s", dc.Name, dc.FeedPump)
	}

	d := &dhwt.DHWT{
		Name:              dc.Name,
		FeedPump:          feedPump,
		ComfortTarget:     numeric.CelsiusToTemp(dc.ComfortTargetC),
		EcoTarget:         numeric.CelsiusToTemp(dc.EcoTargetC),
		FrostfreeTarget:   numeric.CelsiusToTemp(dc.FrostfreeTargetC),
		LegionellaTarget:  numeric.CelsiusToTemp(dc.LegionellaTargetC),
		Hysteresis:        numeric.DeltaKToTemp(dc.HysteresisK),
		WinTMax:           numeric.CelsiusToTemp(dc.WinTMaxC),
		InOffset:          numeric.DeltaKToTemp(dc.InOffsetK),
		ChargeTimeLimit:   clock.FromDuration(time.Duration(dc.ChargeTimeLimit) * time.Second),
		Priority:          parsePriority(dc.Priority),
		Force:             parseForce(dc.Force),
	}
	if dc.TopSensor != "" {
		d.Top = p.Sensors[dc.TopSensor]
	}
	if dc.BottomSensor != "" {
		d.Bottom = p.Sensors[dc.BottomSensor]
	}
	if dc.InletSensor != "" {
		d.Inlet = p.Sensors[dc.InletSensor]
	}
	if dc.SelfHeaterRelay != "" {
		r, ok := p.Relays[dc.SelfHeaterRelay]
		if !ok {
			return nil, fmt.Errorf("wiring: dhwt %s references unknown relay %s", dc.Name, dc.SelfHeaterRelay)
		}
		d.SelfHeater = r
	}
	if dc.RecyclePump != "" {
		rp, ok := p.Pumps[dc.RecyclePump]
		if !ok {
			return nil, fmt.Errorf("wiring: dhwt %s references unknown pump %s", dc.Name, dc.RecyclePump)
		}
		d.RecyclePump = rp
	}
	return d, nil
}

func buildBoiler(hc config.HeatsourceConfig, p *Plant) (*boiler.Boiler, error) {
	body, ok := p.Sensors[hc.BodySensor]
	if !ok {
		return nil, fmt.Errorf("wiring: heatsource %s references unknown sensor %s", hc.Name, hc.BodySensor)
	}
	burner1, ok := p.Relays[hc.Burner1Relay]
	if !ok {
		return nil, fmt.Errorf("wiring: heatsource %s references unknown relay %s", hc.Name, hc.Burner1Relay)
	}
	loadPump, ok := p.Pumps[hc.LoadPump]
	if !ok {
		return nil, fmt.Errorf("wiring: heatsource %s references unknown pump %s", hc.Name, hc.LoadPump)
	}

	b := &boiler.Boiler{
		Name:          hc.Name,
		Body:          body,
		Burner1:       burner1,
		LoadPump:      loadPump,
		IdleMode:      parseIdleMode(hc.IdleMode),
		Hysteresis:    numeric.DeltaKToTemp(hc.HysteresisK),
		LimitTMin:     numeric.CelsiusToTemp(hc.LimitTMinC),
		LimitTMax:     numeric.CelsiusToTemp(hc.LimitTMaxC),
		LimitTHardMax: numeric.CelsiusToTemp(hc.LimitTHardMaxC),
		TFreeze:       numeric.CelsiusToTemp(hc.TFreezeC),
		BurnerMinTime: clock.FromDuration(time.Duration(hc.BurnerMinTimeSec) * time.Second),
	}
	if hc.ReturnSensor != "" {
		b.Return = p.Sensors[hc.ReturnSensor]
	}
	if hc.LimitTReturnMinC != 0 {
		b.HasTReturnMin = true
		b.LimitTReturnMin = numeric.CelsiusToTemp(hc.LimitTReturnMinC)
	}
	return b, nil
}

func buildSchedule(sc config.ScheduleConfig) *scheduler.Schedule {
	entries := make([]scheduler.Entry, 0, len(sc.Entries))
	for _, e := range sc.Entries {
		entries = append(entries, scheduler.Entry{
			Weekday:    parseWeekday(e.Weekday),
			Hour:       e.Hour,
			Minute:     e.Minute,
			Runmode:    parseRunmode(e.Runmode),
			DHWMode:    parseRunmode(e.DHWMode),
			Legionella: e.Legionella,
			Recycle:    e.Recycle,
		})
	}
	return scheduler.New(entries)
}

func buildPlantOrchestrator(cfg *config.Config, p *Plant) *plant.Plant {
	pl := &plant.Plant{
		SummerMaintenance: cfg.SummerMaint.Enabled,
		SummerRunInterval: clock.FromDuration(time.Duration(cfg.SummerMaint.IntervalSeconds) * time.Second),
		SummerRunDuration: clock.FromDuration(time.Duration(cfg.SummerMaint.DurationSeconds) * time.Second),
	}
	for _, bm := range p.BModels {
		pl.BModels = append(pl.BModels, bm)
	}

	var dhwtSchedules []*scheduler.Schedule
	for _, dc := range cfg.DHWTs {
		if sched, ok := p.Schedules[dc.ScheduleName]; ok {
			dhwtSchedules = append(dhwtSchedules, sched)
		}
	}
	pl.LegionellaActive = legionellaActiveFunc(dhwtSchedules)

	for _, cc := range cfg.Circuits {
		c := p.Circuits[cc.Name]
		sched := p.Schedules[cc.ScheduleName]
		pl.Circuits = append(pl.Circuits, &plant.CircuitBinding{
			Circuit: c,
			Runmode: scheduleRunmodeFunc(sched),
		})
	}
	for _, dc := range cfg.DHWTs {
		d := p.DHWTs[dc.Name]
		sched := p.Schedules[dc.ScheduleName]
		pl.DHWTs = append(pl.DHWTs, &plant.DHWTBinding{
			DHWT:             d,
			Runmode:          scheduleRunmodeFunc(sched),
			RecycleRequested: scheduleRecycleFunc(sched),
		})
	}
	for _, hc := range cfg.Heatsources {
		b := p.Boilers[hc.Name]
		pl.Heatsources = append(pl.Heatsources, &plant.HeatsourceBinding{
			Boiler:  b,
			Runmode: func() mode.Runmode { return mode.RunComfort },
		})
	}
	return pl
}

func scheduleRunmodeFunc(sched *scheduler.Schedule) func() mode.Runmode {
	if sched == nil {
		return func() mode.Runmode { return mode.RunAuto }
	}
	return func() mode.Runmode { return sched.Lookup(time.Now()).Runmode }
}

func scheduleRecycleFunc(sched *scheduler.Schedule) func() bool {
	if sched == nil {
		return func() bool { return false }
	}
	return func() bool { return sched.Lookup(time.Now()).Recycle }
}

// legionellaActiveFunc reports whether any DHWT's own schedule is
// currently flagging a legionella charge, since Plant tracks this as a
// single plant-wide signal (every DHWT ticks under the same flag) even
// though each DHWT may follow its own schedule.
func legionellaActiveFunc(schedules []*scheduler.Schedule) func() bool {
	if len(schedules) == 0 {
		return func() bool { return false }
	}
	return func() bool {
		now := time.Now()
		for _, sched := range schedules {
			if sched.Lookup(now).Legionella {
				return true
			}
		}
		return false
	}
}

func parsePriority(s string) mode.Priority {
	switch s {
	case "paral_dhw":
		return mode.PrioParalDHW
	case "slid_max":
		return mode.PrioSlidMax
	case "slid_dhw":
		return mode.PrioSlidDHW
	case "absolute":
		return mode.PrioAbsolute
	default:
		return mode.PrioParalMax
	}
}

func parseForce(s string) mode.ForceMode {
	switch s {
	case "first":
		return mode.ForceFirst
	case "always":
		return mode.ForceAlways
	default:
		return mode.ForceNever
	}
}

func parseIdleMode(s string) mode.IdleMode {
	switch s {
	case "always":
		return mode.IdleAlways
	case "frost_only":
		return mode.IdleFrostOnly
	default:
		return mode.IdleNever
	}
}

func parseRunmode(s string) mode.Runmode {
	switch s {
	case "off":
		return mode.RunOff
	case "auto":
		return mode.RunAuto
	case "comfort":
		return mode.RunComfort
	case "eco":
		return mode.RunEco
	case "frostfree":
		return mode.RunFrostfree
	case "dhwonly":
		return mode.RunDHWOnly
	case "test":
		return mode.RunTest
	case "summaint":
		return mode.RunSummaint
	default:
		return mode.RunAuto
	}
}

func parseWeekday(s string) time.Weekday {
	switch s {
	case "sunday":
		return time.Sunday
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}
