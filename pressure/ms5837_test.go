package pressure

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mklimuk/tagsensors/config"
	"github.com/mklimuk/tagsensors/i2c"
	"github.com/mklimuk/tagsensors/i2c/sim"
	"github.com/mklimuk/tagsensors/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func datasheetTable() [8]uint16 {
	var c [8]uint16
	copy(c[:], sim.DatasheetPROM[:])
	return c
}

func TestCRC4_Datasheet(t *testing.T) {
	c := datasheetTable()
	assert.Equal(t, uint8(2), crc4(c))
	assert.Equal(t, uint16(0x2000), c[0])

	// the stored nibble and word 7 do not take part in the checksum
	c[0] = 0xF000
	c[7] = 0xFFFF
	assert.Equal(t, uint8(2), crc4(c))
}

func TestCRC4_SingleBitFlip(t *testing.T) {
	for word := 0; word < 7; word++ {
		for bit := 0; bit < 16; bit++ {
			if word == 0 && bit >= 12 {
				continue
			}
			c := datasheetTable()
			c[word] ^= 1 << bit
			assert.NotEqual(t, uint8(2), crc4(c), "word %d bit %d", word, bit)
		}
	}
}

func TestCompensate(t *testing.T) {
	tests := []struct {
		name        string
		d1, d2      uint32
		pressure    int32
		temperature int32
	}{
		{"datasheet example", 4958179, 6815414, 3999, 1981},
		{"above 20C", 4958179, 6900000, 4013, 2245},
		{"below 20C", 4958179, 6500000, 3949, 962},
		{"below -15C", 4958179, 5621376, 3811, -2242},
		// negative intermediates: shifts floor, the final /10 truncates
		{"negative low", 100, 6815414, -29068, 1981},
		{"negative", 200000, 6815414, -27735, 1981},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p, temp := compensate(datasheetTable(), test.d1, test.d2)
			assert.Equal(t, test.pressure, p)
			assert.Equal(t, test.temperature, temp)
		})
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		rate     uint16
		expected time.Duration
	}{
		{1, time.Second},
		{2, 500 * time.Millisecond},
		{3, 333 * time.Millisecond},
		{7, 143 * time.Millisecond},
		{200, 5 * time.Millisecond},
		{2000, time.Millisecond},
		{2001, time.Millisecond},
		{65535, time.Millisecond},
	}
	for _, test := range tests {
		t.Run(fmt.Sprint(test.rate), func(t *testing.T) {
			assert.Equal(t, test.expected, Interval(test.rate))
		})
	}
}

func TestReading_Env(t *testing.T) {
	env := Reading{Pressure: 3999, Temperature: 1981}.Env()
	assert.Equal(t, physic.ZeroCelsius+19810*physic.MilliCelsius, env.Temperature)
	assert.Equal(t, 399900*physic.Pascal, env.Pressure)
}

type fixture struct {
	tag      *sim.Tag
	bus      *i2c.Transport
	pool     *timer.Pool
	now      time.Time
	cfg      *config.Config
	delays   []time.Duration
	readings []int32
	dev      *MS5837
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		tag: sim.NewTag(),
		now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		cfg: &config.Config{},
	}
	f.tag.Pressure.SetRaw(4958179, 6815414)
	f.bus = i2c.NewTransport([]i2c.Controller{f.tag})
	require.NoError(t, f.bus.Init(context.Background(), 0))
	f.pool = timer.NewPool(timer.WithClock(func() time.Time { return f.now }))
	opts = append([]Option{
		WithDelay(func(d time.Duration) { f.delays = append(f.delays, d) }),
		WithCallback(func(p int32) { f.readings = append(f.readings, p) }),
	}, opts...)
	f.dev = NewMS5837(f.bus, 0, f.cfg, f.pool, opts...)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	f.pool.Tick()
}

func TestMS5837_Init(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dev.Init(context.Background()))

	c, err := f.dev.Coefficients()
	require.NoError(t, err)
	assert.Equal(t, datasheetTable(), c)
	assert.Equal(t, []byte{0xA0, 0xA2, 0xA4, 0xA6, 0xA8, 0xAA, 0xAC}, f.tag.Pressure.Commands())
	assert.False(t, f.dev.Awake())
	assert.Equal(t, timer.Capacity-1, f.pool.Free())
}

func TestMS5837_InitCRCMismatch(t *testing.T) {
	f := newFixture(t)
	f.tag.Pressure.SetPROM(3, 20329)
	ctx := context.Background()

	err := f.dev.Init(ctx)
	assert.ErrorIs(t, err, ErrCRCMismatch)
	assert.Equal(t, CodeCRCMismatch, Code(err))
	assert.Equal(t, timer.Capacity, f.pool.Free())

	err = f.dev.Wake(ctx)
	assert.ErrorIs(t, err, ErrNotInitialised)
	assert.Equal(t, CodeNotInitialised, Code(err))
	_, err = f.dev.GetPressure(ctx)
	assert.ErrorIs(t, err, ErrNotInitialised)
	assert.False(t, f.dev.Awake())
}

func TestMS5837_WakeSleep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cfg.Set(config.TagPressureSampleRate, 2))
	require.NoError(t, f.dev.Init(ctx))

	require.NoError(t, f.dev.Wake(ctx))
	assert.True(t, f.dev.Awake())
	assert.Equal(t, []int32{3999}, f.readings, "wake takes a sample straight away")

	f.advance(499 * time.Millisecond)
	assert.Len(t, f.readings, 1)
	f.advance(time.Millisecond)
	assert.Equal(t, []int32{3999, 3999}, f.readings)
	assert.NoError(t, f.dev.Tick(ctx))

	f.tag.Pressure.SetRaw(4958179, 6900000)
	f.advance(500 * time.Millisecond)
	assert.Equal(t, []int32{3999, 3999, 4013}, f.readings)
	assert.Equal(t, Reading{Pressure: 4013, Temperature: 2245}, f.dev.Last())

	require.NoError(t, f.dev.Sleep(ctx))
	assert.False(t, f.dev.Awake())
	f.advance(time.Second)
	assert.Len(t, f.readings, 3)
}

func TestMS5837_ReinitCRCMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cfg.Set(config.TagPressureSampleRate, 1))
	require.NoError(t, f.dev.Init(ctx))
	require.NoError(t, f.dev.Wake(ctx))
	require.Len(t, f.readings, 1)

	f.tag.Pressure.SetPROM(3, 20329)
	err := f.dev.Init(ctx)
	assert.ErrorIs(t, err, ErrCRCMismatch)

	_, err = f.dev.GetPressure(ctx)
	assert.ErrorIs(t, err, ErrNotInitialised)
	_, err = f.dev.Coefficients()
	assert.ErrorIs(t, err, ErrNotInitialised)
	assert.False(t, f.dev.Awake())
	f.advance(time.Second)
	assert.Len(t, f.readings, 1, "sampling stops with the failed init")

	f.tag.Pressure.SetPROM(3, 20328)
	require.NoError(t, f.dev.Init(ctx))
	assert.Equal(t, timer.Capacity-1, f.pool.Free())
	p, err := f.dev.GetPressure(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3999), p)
}

func TestMS5837_WakeAtHighRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cfg.Set(config.TagPressureSampleRate, 5000))
	require.NoError(t, f.dev.Init(ctx))
	require.NoError(t, f.dev.Wake(ctx))
	assert.True(t, f.dev.Awake())
	f.advance(time.Millisecond)
	assert.Len(t, f.readings, 2)
}

func TestMS5837_WakeNeedsSampleRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dev.Init(ctx))

	err := f.dev.Wake(ctx)
	assert.ErrorIs(t, err, ErrProvisioningNeeded)
	assert.Equal(t, CodeProvisioningNeeded, Code(err))

	require.NoError(t, f.cfg.Set(config.TagPressureSampleRate, 0))
	err = f.dev.Wake(ctx)
	assert.ErrorIs(t, err, ErrProvisioningNeeded)
	assert.False(t, f.dev.Awake())
	assert.Empty(t, f.readings)
}

func TestMS5837_ConversionSequence(t *testing.T) {
	f := newFixture(t, WithResolution(OSR4096))
	ctx := context.Background()
	require.NoError(t, f.dev.Init(ctx))
	before := len(f.tag.Pressure.Commands())

	r, err := f.dev.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Reading{Pressure: 3999, Temperature: 1981}, r)
	assert.Equal(t, []byte{0x48, 0x00, 0x58, 0x00}, f.tag.Pressure.Commands()[before:])
	assert.Equal(t, []time.Duration{
		time.Millisecond, 10 * time.Millisecond,
		time.Millisecond, 10 * time.Millisecond,
	}, f.delays)
}

func TestMS5837_ResolutionDelays(t *testing.T) {
	tests := []struct {
		osr   Resolution
		cmd   byte
		delay time.Duration
	}{
		{OSR256, 0x40, time.Millisecond},
		{OSR512, 0x42, 3 * time.Millisecond},
		{OSR1024, 0x44, 4 * time.Millisecond},
		{OSR2048, 0x46, 6 * time.Millisecond},
		{OSR4096, 0x48, 10 * time.Millisecond},
		{OSR8192, 0x4A, 20 * time.Millisecond},
	}
	for _, test := range tests {
		t.Run(fmt.Sprint(int(test.osr)), func(t *testing.T) {
			osr, ok := test.osr.command()
			require.True(t, ok)
			assert.Equal(t, test.cmd, cmdConvert|convD1|osr)
			assert.Equal(t, test.delay, test.osr.Delay())
		})
	}
	f := newFixture(t, WithResolution(Resolution(300)))
	assert.Error(t, f.dev.Init(context.Background()))
}

func TestMS5837_TimeoutDuringSample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dev.Init(ctx))

	f.tag.FailNext(i2c.ErrTimeout)
	_, err := f.dev.GetPressure(ctx)
	assert.ErrorIs(t, err, i2c.ErrTimeout)
	assert.Equal(t, CodeTransport, Code(err))
	assert.Equal(t, 1, f.tag.Terms())
	assert.Equal(t, 2, f.tag.Inits())

	p, err := f.dev.GetPressure(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3999), p)
}

func TestMS5837_FailedTimerSampleIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cfg.Set(config.TagPressureSampleRate, 1))
	require.NoError(t, f.dev.Init(ctx))
	require.NoError(t, f.dev.Wake(ctx))
	require.Len(t, f.readings, 1)

	f.tag.FailNext(i2c.ErrBusy)
	f.advance(time.Second)
	assert.Len(t, f.readings, 1)
	assert.True(t, f.dev.Awake())

	f.advance(time.Second)
	assert.Len(t, f.readings, 2)
}

func TestMS5837_Reset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dev.Reset(context.Background()))
	assert.Equal(t, 1, f.tag.Pressure.Resets())
	assert.Equal(t, []time.Duration{resetDelay}, f.delays)
}

func TestMS5837_Term(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cfg.Set(config.TagPressureSampleRate, 1))
	require.NoError(t, f.dev.Init(ctx))
	require.NoError(t, f.dev.Wake(ctx))

	require.NoError(t, f.dev.Term(ctx))
	require.NoError(t, f.dev.Term(ctx))
	assert.False(t, f.dev.Awake())
	assert.Equal(t, timer.Capacity, f.pool.Free())
	assert.ErrorIs(t, f.dev.Sleep(ctx), ErrNotInitialised)

	f.advance(time.Second)
	assert.Len(t, f.readings, 1)

	require.NoError(t, f.dev.Init(ctx))
	assert.Equal(t, timer.Capacity-1, f.pool.Free())
}

func TestMS5837_DefaultCallback(t *testing.T) {
	tag := sim.NewTag()
	bus := i2c.NewTransport([]i2c.Controller{tag})
	require.NoError(t, bus.Init(context.Background(), 0))
	cfg := &config.Config{}
	require.NoError(t, cfg.Set(config.TagPressureSampleRate, 1))
	dev := NewMS5837(bus, 0, cfg, timer.NewPool(), WithDelay(func(time.Duration) {}))
	require.NoError(t, dev.Init(context.Background()))
	assert.NotPanics(t, func() { _ = dev.Wake(context.Background()) })
}
