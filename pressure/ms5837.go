package pressure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mklimuk/tagsensors/config"
	"github.com/mklimuk/tagsensors/timer"
	"periph.io/x/conn/v3/physic"
)

const DefaultAddress = 0x76

const (
	cmdReset    = 0x1E
	cmdADCRead  = 0x00
	cmdPROMRead = 0xA0
	cmdConvert  = 0x40
	convD1      = 0x00
	convD2      = 0x10
)

// general delay applied before every resolution dependent conversion delay
const conversionDelay = time.Millisecond

const resetDelay = 3 * time.Millisecond

var (
	ErrCRCMismatch        = errors.New("ms5837: PROM CRC mismatch")
	ErrNotInitialised     = errors.New("ms5837: not initialised")
	ErrProvisioningNeeded = errors.New("ms5837: sample rate not configured")
)

const (
	CodeNoError            = 0
	CodeCRCMismatch        = -1
	CodeNotInitialised     = -2
	CodeProvisioningNeeded = -3
	CodeTransport          = -4
)

// Code returns the numeric status of err.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeNoError
	case errors.Is(err, ErrCRCMismatch):
		return CodeCRCMismatch
	case errors.Is(err, ErrNotInitialised):
		return CodeNotInitialised
	case errors.Is(err, ErrProvisioningNeeded):
		return CodeProvisioningNeeded
	default:
		return CodeTransport
	}
}

// Resolution is the ADC oversampling ratio.
type Resolution int

const (
	OSR256  Resolution = 256
	OSR512  Resolution = 512
	OSR1024 Resolution = 1024
	OSR2048 Resolution = 2048
	OSR4096 Resolution = 4096
	OSR8192 Resolution = 8192
)

func (r Resolution) command() (byte, bool) {
	switch r {
	case OSR256:
		return 0x00, true
	case OSR512:
		return 0x02, true
	case OSR1024:
		return 0x04, true
	case OSR2048:
		return 0x06, true
	case OSR4096:
		return 0x08, true
	case OSR8192:
		return 0x0A, true
	}
	return 0, false
}

// Delay is the conversion time of the resolution.
func (r Resolution) Delay() time.Duration {
	switch r {
	case OSR512:
		return 3 * time.Millisecond
	case OSR1024:
		return 4 * time.Millisecond
	case OSR2048:
		return 6 * time.Millisecond
	case OSR4096:
		return 10 * time.Millisecond
	case OSR8192:
		return 20 * time.Millisecond
	default:
		return time.Millisecond
	}
}

// Bus is the subset of the I2C transport used by the driver.
type Bus interface {
	Transfer(ctx context.Context, instance int, addr byte, data []byte) error
	Receive(ctx context.Context, instance int, addr byte, buf []byte) (int, error)
	ReadRegister(ctx context.Context, instance int, addr, reg byte, buf []byte) (int, error)
}

type Config interface {
	Get(tag config.Tag) (uint16, error)
}

type Timers interface {
	New(cb func()) (*timer.Timer, error)
}

// Reading is a compensated sample.
type Reading struct {
	// Pressure in mbar.
	Pressure int32 `json:"pressure"`
	// Temperature in 0.01 °C.
	Temperature int32 `json:"temperature"`
}

func (r Reading) Env() physic.Env {
	return physic.Env{
		Temperature: physic.Temperature(r.Temperature)*10*physic.MilliCelsius + physic.ZeroCelsius,
		Pressure:    physic.Pressure(r.Pressure) * 100 * physic.Pascal,
	}
}

// MS5837 drives a TE MS5837-30BA pressure sensor. Once awake it samples on
// a periodic software timer and hands every pressure value to the callback.
type MS5837 struct {
	bus      Bus
	instance int
	addr     byte
	cfg      Config
	timers   Timers
	osr      Resolution
	delay    func(time.Duration)
	callback func(int32)
	timeout  time.Duration
	log      *slog.Logger

	mx          sync.Mutex
	prom        [8]uint16
	initialised bool
	timer       *timer.Timer
	last        Reading
}

type Option func(*MS5837)

func WithAddress(addr byte) Option {
	return func(d *MS5837) {
		d.addr = addr
	}
}

func WithResolution(osr Resolution) Option {
	return func(d *MS5837) {
		d.osr = osr
	}
}

// WithCallback sets the receiver of timer driven pressure readings.
func WithCallback(cb func(pressure int32)) Option {
	return func(d *MS5837) {
		d.callback = cb
	}
}

func WithDelay(delay func(time.Duration)) Option {
	return func(d *MS5837) {
		d.delay = delay
	}
}

// WithSampleTimeout bounds a single timer driven sample.
func WithSampleTimeout(timeout time.Duration) Option {
	return func(d *MS5837) {
		d.timeout = timeout
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *MS5837) {
		d.log = log
	}
}

func NewMS5837(bus Bus, instance int, cfg Config, timers Timers, opts ...Option) *MS5837 {
	d := &MS5837{
		bus:      bus,
		instance: instance,
		addr:     DefaultAddress,
		cfg:      cfg,
		timers:   timers,
		osr:      OSR256,
		delay:    time.Sleep,
		timeout:  500 * time.Millisecond,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.callback == nil {
		d.callback = func(int32) {
			d.log.Warn("ms5837 pressure callback not implemented")
		}
	}
	return d
}

// Init reads and verifies the calibration PROM and prepares the sampling
// timer. The sensor stays asleep. A failed Init leaves the driver unusable
// until the next successful one.
func (d *MS5837) Init(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	err := d.init(ctx)
	if err != nil {
		d.initialised = false
		if d.timer != nil {
			_ = d.timer.Cancel()
		}
		return err
	}
	d.initialised = true
	return nil
}

// must be called with d.mx held
func (d *MS5837) init(ctx context.Context) error {
	if _, ok := d.osr.command(); !ok {
		return fmt.Errorf("ms5837: unsupported resolution %d", d.osr)
	}
	var prom [8]uint16
	buf := make([]byte, 2)
	for i := 0; i < 7; i++ {
		_, err := d.bus.ReadRegister(ctx, d.instance, d.addr, cmdPROMRead|byte(i*2), buf)
		if err != nil {
			return fmt.Errorf("ms5837: could not read PROM word %d: %w", i, err)
		}
		prom[i] = uint16(buf[0])<<8 | uint16(buf[1])
	}
	stored := uint8(prom[0] >> 12)
	actual := crc4(prom)
	if stored != actual {
		d.log.Debug("ms5837 CRC mismatch", "read", stored, "actual", actual)
		return fmt.Errorf("%w: read %#x, computed %#x", ErrCRCMismatch, stored, actual)
	}
	d.prom = prom
	if d.timer == nil {
		t, err := d.timers.New(d.sampleTick)
		if err != nil {
			return fmt.Errorf("ms5837: could not create sampling timer: %w", err)
		}
		d.timer = t
	}
	return nil
}

// Term releases the sampling timer. It is safe to call in any state.
func (d *MS5837) Term(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.timer != nil {
		_ = d.timer.Term()
		d.timer = nil
	}
	d.initialised = false
	return nil
}

func (d *MS5837) Sleep(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.initialised {
		return ErrNotInitialised
	}
	return d.timer.Cancel()
}

// Wake starts periodic sampling at the configured rate and takes the first
// sample straight away.
func (d *MS5837) Wake(ctx context.Context) error {
	d.mx.Lock()
	if !d.initialised {
		d.mx.Unlock()
		return ErrNotInitialised
	}
	rate, err := d.cfg.Get(config.TagPressureSampleRate)
	if err != nil || rate == 0 {
		d.mx.Unlock()
		return fmt.Errorf("%w (%s)", ErrProvisioningNeeded, config.TagPressureSampleRate)
	}
	err = d.timer.Set(timer.Periodic, Interval(rate))
	d.mx.Unlock()
	if err != nil {
		return fmt.Errorf("ms5837: could not start sampling timer: %w", err)
	}
	d.sample(ctx)
	return nil
}

// Interval converts a sample rate in Hz to the timer period, rounded to the
// nearest millisecond and never shorter than one.
func Interval(rateHz uint16) time.Duration {
	ms := math.Round(1000 / float64(rateHz))
	return time.Duration(max(ms, 1)) * time.Millisecond
}

func (d *MS5837) Awake() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.initialised && d.timer.Running()
}

// Tick does nothing: sampling is driven by the timer.
func (d *MS5837) Tick(ctx context.Context) error {
	return nil
}

func (d *MS5837) sampleTick() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	d.sample(ctx)
}

func (d *MS5837) sample(ctx context.Context) {
	r, err := d.Read(ctx)
	if err != nil {
		d.log.Warn("ms5837 sample failed", "error", err)
		return
	}
	d.callback(r.Pressure)
}

// GetPressure runs both conversions and returns the compensated pressure.
func (d *MS5837) GetPressure(ctx context.Context) (int32, error) {
	r, err := d.Read(ctx)
	if err != nil {
		return 0, err
	}
	return r.Pressure, nil
}

// Read runs both conversions and returns the compensated reading.
func (d *MS5837) Read(ctx context.Context) (Reading, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.initialised {
		return Reading{}, ErrNotInitialised
	}
	d1, err := d.convert(ctx, convD1)
	if err != nil {
		return Reading{}, fmt.Errorf("ms5837: pressure conversion failed: %w", err)
	}
	d2, err := d.convert(ctx, convD2)
	if err != nil {
		return Reading{}, fmt.Errorf("ms5837: temperature conversion failed: %w", err)
	}
	p, t := compensate(d.prom, d1, d2)
	d.last = Reading{Pressure: p, Temperature: t}
	d.log.Debug("ms5837 sample", "d1", d1, "d2", d2, "pressure", p, "temperature", t)
	return d.last, nil
}

// Last returns the most recent reading.
func (d *MS5837) Last() Reading {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.last
}

// must be called with d.mx held
func (d *MS5837) convert(ctx context.Context, kind byte) (uint32, error) {
	osr, _ := d.osr.command()
	err := d.bus.Transfer(ctx, d.instance, d.addr, []byte{cmdConvert | kind | osr})
	if err != nil {
		return 0, fmt.Errorf("could not start conversion: %w", err)
	}
	d.delay(conversionDelay)
	d.delay(d.osr.Delay())
	err = d.bus.Transfer(ctx, d.instance, d.addr, []byte{cmdADCRead})
	if err != nil {
		return 0, fmt.Errorf("could not request ADC result: %w", err)
	}
	buf := make([]byte, 3)
	_, err = d.bus.Receive(ctx, d.instance, d.addr, buf)
	if err != nil {
		return 0, fmt.Errorf("could not read ADC result: %w", err)
	}
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]), nil
}

// Reset makes the sensor reload its calibration PROM into the internal
// registers.
func (d *MS5837) Reset(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	err := d.bus.Transfer(ctx, d.instance, d.addr, []byte{cmdReset})
	if err != nil {
		return fmt.Errorf("ms5837: reset failed: %w", err)
	}
	d.delay(resetDelay)
	return nil
}

// Coefficients returns the verified calibration table.
func (d *MS5837) Coefficients() ([8]uint16, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.initialised {
		return [8]uint16{}, ErrNotInitialised
	}
	return d.prom, nil
}
