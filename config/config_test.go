package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
i2c:
  - name: "1"
    backend: periph
  - name: sim
    backend: sim
axl:
  log_enable: true
  sample_rate: 100
  mode: trigger_above
  g_force_high_threshold: 20000
  instance: 1
  int_pin: GPIO17
pressure:
  sample_rate: 2
  mode: trigger_between
  low_threshold: 100
  high_threshold: 4000
  resolution: 4096
mqtt:
  broker: tcp://broker:1883
  topic: tag/readings
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, cfg.I2C, 2)
	assert.Equal(t, Bus{Name: "sim", Backend: BackendSim}, cfg.I2C[1])
	assert.Equal(t, 1, cfg.Axl.Instance)
	assert.Equal(t, "GPIO17", cfg.Axl.IntPin)
	assert.Equal(t, 4096, cfg.Pressure.Resolution)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)

	tests := []struct {
		tag      Tag
		expected uint16
	}{
		{TagAxlLogEnable, 1},
		{TagAxlSampleRate, 100},
		{TagAxlMode, ModeTriggerAbove},
		{TagAxlGForceHighThreshold, 20000},
		{TagPressureSampleRate, 2},
		{TagPressureMode, ModeTriggerBetween},
		{TagPressureLowThreshold, 100},
		{TagPressureHighThreshold, 4000},
	}
	for _, test := range tests {
		t.Run(string(test.tag), func(t *testing.T) {
			v, err := cfg.Get(test.tag)
			require.NoError(t, err)
			assert.Equal(t, test.expected, v)
		})
	}
	_, err = cfg.Get(TagPressureLogEnable)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
	}{
		{"backend", "i2c:\n  - name: x\n    backend: serial\n", ErrInvalidValue},
		{"axl mode", "axl:\n  mode: trigger_below\n", ErrInvalidValue},
		{"unknown mode", "pressure:\n  mode: sometimes\n", ErrInvalidValue},
		{"axl threshold", "axl:\n  mode: trigger_above\n", ErrNotFound},
		{"pressure low", "pressure:\n  mode: trigger_below\n", ErrNotFound},
		{"pressure high", "pressure:\n  mode: trigger_between\n  low_threshold: 1\n", ErrNotFound},
		{"resolution", "pressure:\n  resolution: 300\n", ErrInvalidValue},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.raw))
			assert.ErrorIs(t, err, test.err)
		})
	}
}

func TestGetSet(t *testing.T) {
	cfg := &Config{}
	for _, tag := range Tags {
		_, err := cfg.Get(tag)
		assert.ErrorIs(t, err, ErrNotFound, tag)
	}
	require.NoError(t, cfg.Set(TagPressureSampleRate, 0))
	v, err := cfg.Get(TagPressureSampleRate)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)

	require.NoError(t, cfg.Set(TagPressureMode, ModeTriggerBelow))
	assert.Equal(t, "trigger_below", *cfg.Pressure.Mode)
	assert.ErrorIs(t, cfg.Set(TagAxlMode, 9), ErrInvalidValue)
	assert.ErrorIs(t, cfg.Set(Tag("gps.mode"), 1), ErrNotFound)

	require.NoError(t, cfg.Set(TagAxlLogEnable, 0))
	v, err = cfg.Get(TagAxlLogEnable)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)
}

func TestDefault_RoundTrip(t *testing.T) {
	raw, err := Default().Marshal()
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), DefaultConfigName)
	require.NoError(t, os.WriteFile(p, raw, 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLocate(t *testing.T) {
	p, err := Locate("/tmp/explicit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit.yaml", p)

	t.Setenv(EnvConfigPath, "/tmp/from-env.yaml")
	p, err = Locate("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.yaml", p)
}
