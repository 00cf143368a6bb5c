package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected zerolog.Level
	}{
		{"default to info", "", zerolog.InfoLevel},
		{"debug", "debug", zerolog.DebugLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"unknown", "weird", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := parseLogLevel(tt.input)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func validConfig() *Config {
	return &Config{
		Relays:  []RelayConfig{{Name: "relay1"}, {Name: "relay2"}},
		Sensors: []SensorConfig{{Name: "sensor1"}},
		Pumps:   []PumpConfig{{Name: "pump1", RelayName: "relay1"}},
		Valves: []ValveConfig{
			{Name: "valve1", OpenRelay: "relay1", CloseRelay: "relay2"},
		},
		BModels: []BModelConfig{{Name: "bmodel1", OutdoorSensor: "sensor1"}},
		Circuits: []CircuitConfig{
			{Name: "circuit1", OutgoingSensor: "sensor1", BModel: "bmodel1", FeedPump: "pump1", Valve: "valve1"},
		},
		DHWTs: []DHWTConfig{
			{Name: "dhwt1", FeedPump: "pump1"},
		},
		Heatsources: []HeatsourceConfig{
			{Name: "boiler1", BodySensor: "sensor1", Burner1Relay: "relay1", LoadPump: "pump1"},
		},
	}
}

func TestConfigValidate_ValidConfigDoesNotPanic(t *testing.T) {
	cfg := validConfig()
	assert.NotPanics(t, func() { cfg.validate() })
}

func TestConfigValidate_UnknownFeedPumpReference(t *testing.T) {
	cfg := validConfig()
	cfg.Circuits[0].FeedPump = "nonexistent"

	assert.Panics(t, func() { cfg.validate() })
}

func TestConfigValidate_UnknownValveOpenRelayReference(t *testing.T) {
	cfg := validConfig()
	cfg.Valves[0].OpenRelay = "missing_relay"

	assert.Panics(t, func() { cfg.validate() })
}

func TestConfigValidate_UnknownHeatsourceBurnerRelayReference(t *testing.T) {
	cfg := validConfig()
	cfg.Heatsources[0].Burner1Relay = "missing_relay"

	assert.Panics(t, func() { cfg.validate() })
}

func TestConfigValidate_OptionalDHWTFieldsMayBeEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.DHWTs[0].RecyclePump = ""
	cfg.DHWTs[0].SelfHeaterRelay = ""

	assert.NotPanics(t, func() { cfg.validate() })
}

func TestDurationSeconds(t *testing.T) {
	d := DurationSeconds(30)
	assert.Equal(t, int64(30), d.Milliseconds()/1000)
}
