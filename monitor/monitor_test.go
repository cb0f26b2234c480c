package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/mklimuk/tagsensors/accel"
	"github.com/mklimuk/tagsensors/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleeper struct {
	calls int
}

func (s *sleeper) Sleep(ctx context.Context) error {
	s.calls++
	return nil
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newMonitor(t *testing.T, values map[config.Tag]uint16) (*Monitor, *[]Record, *sleeper, *sleeper) {
	t.Helper()
	cfg := &config.Config{}
	for tag, v := range values {
		require.NoError(t, cfg.Set(tag, v))
	}
	var records []Record
	axl, pressure := &sleeper{}, &sleeper{}
	m := New(cfg, func(r Record) { records = append(records, r) },
		WithAxl(axl), WithPressure(pressure), WithClock(func() time.Time { return epoch }))
	return m, &records, axl, pressure
}

func TestMonitor_AxlPeriodic(t *testing.T) {
	m, records, _, _ := newMonitor(t, map[config.Tag]uint16{
		config.TagAxlLogEnable: 1,
		config.TagAxlMode:      config.ModePeriodic,
	})
	s := accel.Sample{X: 1, Y: 2, Z: 3}
	m.OnAxl(s)
	require.Len(t, *records, 1)
	assert.Equal(t, Record{Kind: KindAxl, Time: epoch, Axl: &s}, (*records)[0])
}

func TestMonitor_AxlTriggerAbove(t *testing.T) {
	m, records, _, _ := newMonitor(t, map[config.Tag]uint16{
		config.TagAxlLogEnable:           1,
		config.TagAxlMode:                config.ModeTriggerAbove,
		config.TagAxlGForceHighThreshold: 50000,
	})
	m.OnAxl(accel.Sample{X: 100, Y: 100, Z: 100})
	assert.Empty(t, *records)
	// 300² overflows 16 bits but still compares correctly
	m.OnAxl(accel.Sample{X: 300})
	m.OnAxl(accel.Sample{X: 200, Y: 100, Z: 0})
	require.Len(t, *records, 2)
	assert.True(t, (*records)[0].Trigger)
	assert.Equal(t, int16(200), (*records)[1].Axl.X)
}

func TestMonitor_LogDisabledSleepsSensor(t *testing.T) {
	m, records, axl, pressure := newMonitor(t, map[config.Tag]uint16{
		config.TagAxlLogEnable: 0,
	})
	m.OnAxl(accel.Sample{X: 1})
	m.OnPressure(1000)
	assert.Empty(t, *records)
	assert.Equal(t, 1, axl.calls)
	assert.Equal(t, 1, pressure.calls, "unset flag counts as disabled")
}

func TestMonitor_Paused(t *testing.T) {
	m, records, axl, _ := newMonitor(t, map[config.Tag]uint16{
		config.TagAxlLogEnable: 1,
	})
	m.SetEnabled(false)
	m.OnAxl(accel.Sample{X: 1})
	assert.Empty(t, *records)
	assert.Equal(t, 0, axl.calls)
	m.SetEnabled(true)
	m.OnAxl(accel.Sample{X: 1})
	assert.Len(t, *records, 1)
}

func TestMonitor_PressureModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     uint16
		accepted []int32
	}{
		{"periodic", config.ModePeriodic, []int32{900, 1000, 2000, 3000, 3100}},
		{"below", config.ModeTriggerBelow, []int32{900}},
		{"between", config.ModeTriggerBetween, []int32{1000, 2000, 3000}},
		{"above", config.ModeTriggerAbove, []int32{3100}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, records, _, _ := newMonitor(t, map[config.Tag]uint16{
				config.TagPressureLogEnable:     1,
				config.TagPressureMode:          test.mode,
				config.TagPressureLowThreshold:  1000,
				config.TagPressureHighThreshold: 3000,
			})
			for _, p := range []int32{900, 1000, 2000, 3000, 3100} {
				m.OnPressure(p)
			}
			var got []int32
			for _, r := range *records {
				assert.Equal(t, KindPressure, r.Kind)
				assert.Equal(t, test.mode != config.ModePeriodic, r.Trigger)
				got = append(got, *r.Pressure)
			}
			assert.Equal(t, test.accepted, got)
		})
	}
}
