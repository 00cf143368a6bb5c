package sensors

import (
	"github.com/simonvetter/modbus"

	"github.com/oebus/hvac-plant/internal/numeric"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// ModbusSource reads named temperature points off a single modbus
// client, one input/holding register per id, scaled to Celsius.
type ModbusSource struct {
	Client    *modbus.ModbusClient
	RegType   modbus.RegType
	Registers map[string]uint16
	Scale     float64 // raw register value * Scale = degrees Celsius
}

// shortCircuitSentinel is the raw register value a transmitter reports
// when its RTD leg is shorted.
const shortCircuitSentinel = 0xFFFF

func (m *ModbusSource) Read(id string) (numeric.Temp, error) {
	addr, ok := m.Registers[id]
	if !ok {
		return numeric.TempUnset, xerr.New(xerr.NotConfigured, "modbus source has no register for "+id)
	}

	raw, err := m.Client.ReadRegister(addr, m.RegType)
	if err != nil {
		return numeric.TempUnset, xerr.Wrap(xerr.SensorDiscon, "modbus read failed for "+id, err)
	}
	if raw == shortCircuitSentinel {
		return numeric.TempShortCircuit, xerr.New(xerr.SensorShort, "modbus register reports short-circuit sentinel for "+id)
	}

	return numeric.CelsiusToTemp(float64(raw) * m.Scale), nil
}
