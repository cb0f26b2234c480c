// Package monitor decides which sensor readings are logged. It applies the
// per-sensor logging mode (periodic or threshold triggered) configured on the
// tag and puts a sensor back to sleep when its logging is disabled.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mklimuk/tagsensors/accel"
	"github.com/mklimuk/tagsensors/config"
)

type Kind string

const (
	KindAxl      Kind = "axl"
	KindPressure Kind = "pressure"
)

// Record is a reading accepted for logging.
type Record struct {
	Kind     Kind          `json:"kind"`
	Time     time.Time     `json:"time"`
	Axl      *accel.Sample `json:"axl,omitempty"`
	Pressure *int32        `json:"pressure,omitempty"`
	// Trigger is set when the reading crossed a configured threshold.
	Trigger bool `json:"trigger,omitempty"`
}

type Config interface {
	Get(tag config.Tag) (uint16, error)
}

type Sleeper interface {
	Sleep(ctx context.Context) error
}

type Monitor struct {
	cfg      Config
	emit     func(Record)
	axl      Sleeper
	pressure Sleeper
	now      func() time.Time
	timeout  time.Duration
	log      *slog.Logger
	enabled  atomic.Bool
}

type Option func(*Monitor)

// WithAxl lets the monitor sleep the accelerometer when its logging is off.
func WithAxl(s Sleeper) Option {
	return func(m *Monitor) {
		m.axl = s
	}
}

// WithPressure lets the monitor sleep the pressure sensor when its logging
// is off.
func WithPressure(s Sleeper) Option {
	return func(m *Monitor) {
		m.pressure = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) {
		m.log = log
	}
}

// New returns an enabled monitor that hands accepted records to emit.
func New(cfg Config, emit func(Record), opts ...Option) *Monitor {
	m := &Monitor{
		cfg:     cfg,
		emit:    emit,
		now:     time.Now,
		timeout: time.Second,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enabled.Store(true)
	return m
}

// SetEnabled pauses or resumes logging without touching the sensors.
func (m *Monitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// OnAxl is the accelerometer sample callback.
func (m *Monitor) OnAxl(s accel.Sample) {
	if !m.logEnabled(config.TagAxlLogEnable) {
		m.sleep(m.axl, "axl")
		return
	}
	if !m.enabled.Load() {
		return
	}
	switch m.value(config.TagAxlMode) {
	case config.ModePeriodic:
		m.emit(Record{Kind: KindAxl, Time: m.now(), Axl: &s})
	case config.ModeTriggerAbove:
		threshold := m.value(config.TagAxlGForceHighThreshold)
		if s.MagnitudeSquared() >= uint64(threshold) {
			m.emit(Record{Kind: KindAxl, Time: m.now(), Axl: &s, Trigger: true})
		}
	}
}

// OnPressure is the pressure reading callback.
func (m *Monitor) OnPressure(p int32) {
	if !m.logEnabled(config.TagPressureLogEnable) {
		m.sleep(m.pressure, "pressure")
		return
	}
	if !m.enabled.Load() {
		return
	}
	low := int32(m.value(config.TagPressureLowThreshold))
	high := int32(m.value(config.TagPressureHighThreshold))
	var accept, trigger bool
	switch m.value(config.TagPressureMode) {
	case config.ModePeriodic:
		accept = true
	case config.ModeTriggerBelow:
		accept, trigger = p < low, true
	case config.ModeTriggerBetween:
		accept, trigger = p >= low && p <= high, true
	case config.ModeTriggerAbove:
		accept, trigger = p > high, true
	}
	if accept {
		m.emit(Record{Kind: KindPressure, Time: m.now(), Pressure: &p, Trigger: trigger})
	}
}

// logEnabled treats an unset flag as disabled.
func (m *Monitor) logEnabled(tag config.Tag) bool {
	v, err := m.cfg.Get(tag)
	return err == nil && v != 0
}

// value returns 0 for unset tags.
func (m *Monitor) value(tag config.Tag) uint16 {
	v, err := m.cfg.Get(tag)
	if err != nil && !errors.Is(err, config.ErrNotFound) {
		m.log.Warn("invalid configuration value", "tag", tag, "error", err)
	}
	return v
}

func (m *Monitor) sleep(s Sleeper, name string) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := s.Sleep(ctx)
	if err != nil {
		m.log.Warn("could not sleep sensor", "sensor", name, "error", err)
	}
}
