package hwio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oebus/hvac-plant/internal/numeric"
)

// OneWireSource reads DS18B20 probes off the kernel's w1 bus, grounded
// on the teacher's gpio.ReadSensorTemp (w1_slave file parse), adapted
// to the sensors.Source interface and to Celsius-native numeric.Temp
// instead of a hard-coded Fahrenheit conversion.
type OneWireSource struct {
	busRoot string // e.g. /sys/bus/w1/devices
}

// NewOneWireSource builds a source rooted at busRoot.
func NewOneWireSource(busRoot string) *OneWireSource {
	return &OneWireSource{busRoot: busRoot}
}

// Read reads the probe identified by its one-wire device id (e.g.
// "28-0000071a2b3c").
func (s *OneWireSource) Read(id string) (numeric.Temp, error) {
	path := filepath.Join(s.busRoot, id, "w1_slave")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("hwio: read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 || !strings.Contains(lines[0], "YES") {
		return 0, fmt.Errorf("hwio: probe %s crc check failed", id)
	}
	if !strings.Contains(lines[1], "t=") {
		return 0, fmt.Errorf("hwio: probe %s missing temperature field", id)
	}

	parts := strings.SplitN(lines[1], "t=", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("hwio: probe %s malformed temperature line", id)
	}

	milliC, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("hwio: probe %s temperature not an integer: %w", id, err)
	}

	return numeric.CelsiusToTemp(float64(milliC) / 1000.0), nil
}
