// Package hwio adapts the teacher's raw pinctrl/one-wire GPIO access
// (internal/gpio, internal/pinctrl) into this domain's relay.Backend
// and sensors.Source collaborator interfaces, so config-driven relays
// and sensors can be backed by real Raspberry Pi GPIO pins and DS18B20
// one-wire probes instead of a simulator.
package hwio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/pinctrl"
)

// GPIOBackend dispatches relay.Target writes to real GPIO pins via
// pinctrl, grounded on the teacher's gpio.Activate/Deactivate/Read
// (generalized from a fixed model.GPIOPin struct to a name->pin map
// resolved at construction, since this domain names relays, not pins,
// in config).
type GPIOBackend struct {
	mu   sync.Mutex
	pins map[string]gpioPin
}

type gpioPin struct {
	number     int
	activeHigh bool
}

// NewGPIOBackend builds a backend over the given id->(pin,activeHigh)
// mapping, read from config at wiring time.
func NewGPIOBackend(pins map[string]struct {
	Number     int
	ActiveHigh bool
}) *GPIOBackend {
	b := &GPIOBackend{pins: make(map[string]gpioPin, len(pins))}
	for id, p := range pins {
		b.pins[id] = gpioPin{number: p.Number, activeHigh: p.ActiveHigh}
	}
	return b
}

func (b *GPIOBackend) Name(id string) (string, bool) {
	_, ok := b.pins[id]
	return id, ok
}

// SetState drives the pin identified by id high/low per its
// active-high polarity.
func (b *GPIOBackend) SetState(id string, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pin, ok := b.pins[id]
	if !ok {
		return fmt.Errorf("hwio: unknown GPIO target %q", id)
	}

	drive := "dl"
	if on == pin.activeHigh {
		drive = "dh"
	}
	if err := pinctrl.SetPin(pin.number, "op", "pn", drive); err != nil {
		log.Error().Err(err).Int("pin", pin.number).Str("target", id).Msg("failed to set GPIO pin")
		return err
	}
	return nil
}

// GetState reads back the pin's logical state.
func (b *GPIOBackend) GetState(id string) (bool, error) {
	b.mu.Lock()
	pin, ok := b.pins[id]
	b.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("hwio: unknown GPIO target %q", id)
	}

	level, err := pinctrl.ReadLevel(pin.number)
	if err != nil {
		return false, err
	}
	return level == pin.activeHigh, nil
}
