package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultAppName = "tagsensors"
const DefaultConfigName = "config.yaml"
const EnvConfigPath = "TAGSENSORS_CONFIG"

var ErrNotFound = errors.New("config: tag not set")
var ErrInvalidValue = errors.New("config: invalid value")

// Tag names a single configuration value consumed by the drivers.
type Tag string

const (
	TagAxlLogEnable           Tag = "axl.log_enable"
	TagAxlSampleRate          Tag = "axl.sample_rate"
	TagAxlMode                Tag = "axl.mode"
	TagAxlGForceHighThreshold Tag = "axl.g_force_high_threshold"
	TagPressureLogEnable      Tag = "pressure.log_enable"
	TagPressureSampleRate     Tag = "pressure.sample_rate"
	TagPressureMode           Tag = "pressure.mode"
	TagPressureLowThreshold   Tag = "pressure.low_threshold"
	TagPressureHighThreshold  Tag = "pressure.high_threshold"
)

// Tags lists every supported tag.
var Tags = []Tag{
	TagAxlLogEnable,
	TagAxlSampleRate,
	TagAxlMode,
	TagAxlGForceHighThreshold,
	TagPressureLogEnable,
	TagPressureSampleRate,
	TagPressureMode,
	TagPressureLowThreshold,
	TagPressureHighThreshold,
}

// Mode values as stored on the device.
const (
	ModePeriodic       uint16 = 0
	ModeTriggerBelow   uint16 = 1
	ModeTriggerBetween uint16 = 2
	ModeTriggerAbove   uint16 = 3
)

var modeNames = map[string]uint16{
	"periodic":        ModePeriodic,
	"trigger_below":   ModeTriggerBelow,
	"trigger_between": ModeTriggerBetween,
	"trigger_above":   ModeTriggerAbove,
}

const (
	BackendPeriph  = "periph"
	BackendGobot   = "gobot"
	BackendMCP2221 = "mcp2221"
	BackendSim     = "sim"
)

type Bus struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
}

type Axl struct {
	LogEnable           *bool   `yaml:"log_enable,omitempty"`
	SampleRate          *uint16 `yaml:"sample_rate,omitempty"`
	Mode                *string `yaml:"mode,omitempty"`
	GForceHighThreshold *uint16 `yaml:"g_force_high_threshold,omitempty"`
	Instance            int     `yaml:"instance"`
	IntPin              string  `yaml:"int_pin"`
}

type Pressure struct {
	LogEnable     *bool   `yaml:"log_enable,omitempty"`
	SampleRate    *uint16 `yaml:"sample_rate,omitempty"`
	Mode          *string `yaml:"mode,omitempty"`
	LowThreshold  *uint16 `yaml:"low_threshold,omitempty"`
	HighThreshold *uint16 `yaml:"high_threshold,omitempty"`
	Instance      int     `yaml:"instance"`
	Resolution    int     `yaml:"resolution,omitempty"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id,omitempty"`
}

type Config struct {
	I2C      []Bus    `yaml:"i2c"`
	Axl      Axl      `yaml:"axl"`
	Pressure Pressure `yaml:"pressure"`
	MQTT     MQTT     `yaml:"mqtt,omitempty"`
}

// Default returns a configuration for a single host bus with both sensors
// logging periodically.
func Default() *Config {
	on := true
	axlRate := uint16(50)
	pressureRate := uint16(1)
	periodic := "periodic"
	axlMode := periodic
	return &Config{
		I2C: []Bus{{Name: "1", Backend: BackendPeriph}},
		Axl: Axl{
			LogEnable:  &on,
			SampleRate: &axlRate,
			Mode:       &axlMode,
			IntPin:     "GPIO17",
		},
		Pressure: Pressure{
			LogEnable:  &on,
			SampleRate: &pressureRate,
			Mode:       &periodic,
			Resolution: 256,
		},
		MQTT: MQTT{
			Broker: "tcp://localhost:1883",
			Topic:  "tag/readings",
		},
	}
}

// Locate returns the config file to use: the explicit path if given, then
// $TAGSENSORS_CONFIG, then the first file found in the default search path.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, path.Join(home, ".config", DefaultAppName, DefaultConfigName))
	}
	candidates = append(candidates, path.Join("/etc", DefaultAppName, DefaultConfigName), DefaultConfigName)
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s", strings.Join(candidates, ", "))
}

func Load(p string) (*Config, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	err := yaml.Unmarshal(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks backend names, mode names and the thresholds each mode
// depends on.
func (c *Config) Validate() error {
	var errs []error
	for i, b := range c.I2C {
		switch b.Backend {
		case BackendPeriph, BackendGobot, BackendMCP2221, BackendSim:
		default:
			errs = append(errs, fmt.Errorf("%w: i2c[%d] backend %q", ErrInvalidValue, i, b.Backend))
		}
	}
	if mode, err := c.Get(TagAxlMode); err == nil {
		switch mode {
		case ModePeriodic:
		case ModeTriggerAbove:
			if c.Axl.GForceHighThreshold == nil {
				errs = append(errs, fmt.Errorf("%w: %s required by axl trigger mode", ErrNotFound, TagAxlGForceHighThreshold))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: %s %q", ErrInvalidValue, TagAxlMode, *c.Axl.Mode))
		}
	} else if !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}
	if mode, err := c.Get(TagPressureMode); err == nil {
		if (mode == ModeTriggerBelow || mode == ModeTriggerBetween) && c.Pressure.LowThreshold == nil {
			errs = append(errs, fmt.Errorf("%w: %s required by pressure mode", ErrNotFound, TagPressureLowThreshold))
		}
		if (mode == ModeTriggerAbove || mode == ModeTriggerBetween) && c.Pressure.HighThreshold == nil {
			errs = append(errs, fmt.Errorf("%w: %s required by pressure mode", ErrNotFound, TagPressureHighThreshold))
		}
	} else if !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}
	switch c.Pressure.Resolution {
	case 0, 256, 512, 1024, 2048, 4096, 8192:
	default:
		errs = append(errs, fmt.Errorf("%w: pressure.resolution %d", ErrInvalidValue, c.Pressure.Resolution))
	}
	return errors.Join(errs...)
}

// Get returns the value stored under tag. Unset tags report ErrNotFound.
// Booleans read as 0 or 1 and modes as their numeric code.
func (c *Config) Get(tag Tag) (uint16, error) {
	switch tag {
	case TagAxlLogEnable:
		return boolValue(tag, c.Axl.LogEnable)
	case TagAxlSampleRate:
		return uintValue(tag, c.Axl.SampleRate)
	case TagAxlMode:
		return modeValue(tag, c.Axl.Mode)
	case TagAxlGForceHighThreshold:
		return uintValue(tag, c.Axl.GForceHighThreshold)
	case TagPressureLogEnable:
		return boolValue(tag, c.Pressure.LogEnable)
	case TagPressureSampleRate:
		return uintValue(tag, c.Pressure.SampleRate)
	case TagPressureMode:
		return modeValue(tag, c.Pressure.Mode)
	case TagPressureLowThreshold:
		return uintValue(tag, c.Pressure.LowThreshold)
	case TagPressureHighThreshold:
		return uintValue(tag, c.Pressure.HighThreshold)
	}
	return 0, fmt.Errorf("%w: unknown tag %q", ErrNotFound, tag)
}

// Set stores value under tag. Mode tags take the numeric mode code.
func (c *Config) Set(tag Tag, value uint16) error {
	switch tag {
	case TagAxlLogEnable:
		c.Axl.LogEnable = ptr(value != 0)
	case TagAxlSampleRate:
		c.Axl.SampleRate = ptr(value)
	case TagAxlMode:
		name, err := modeName(value)
		if err != nil {
			return err
		}
		c.Axl.Mode = &name
	case TagAxlGForceHighThreshold:
		c.Axl.GForceHighThreshold = ptr(value)
	case TagPressureLogEnable:
		c.Pressure.LogEnable = ptr(value != 0)
	case TagPressureSampleRate:
		c.Pressure.SampleRate = ptr(value)
	case TagPressureMode:
		name, err := modeName(value)
		if err != nil {
			return err
		}
		c.Pressure.Mode = &name
	case TagPressureLowThreshold:
		c.Pressure.LowThreshold = ptr(value)
	case TagPressureHighThreshold:
		c.Pressure.HighThreshold = ptr(value)
	default:
		return fmt.Errorf("%w: unknown tag %q", ErrNotFound, tag)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

func uintValue(tag Tag, v *uint16) (uint16, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	return *v, nil
}

func boolValue(tag Tag, v *bool) (uint16, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	if *v {
		return 1, nil
	}
	return 0, nil
}

func modeValue(tag Tag, v *string) (uint16, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	mode, ok := modeNames[strings.ToLower(*v)]
	if !ok {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidValue, tag, *v)
	}
	return mode, nil
}

func modeName(value uint16) (string, error) {
	for name, v := range modeNames {
		if v == value {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: mode %d", ErrInvalidValue, value)
}
