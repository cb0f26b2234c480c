package accel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mklimuk/tagsensors/config"
)

var (
	ErrProvisioningNeeded = errors.New("lsm9ds1: sample rate not configured")
	ErrDeviceUnresponsive = errors.New("lsm9ds1: device unresponsive")
	ErrNotInitialised     = errors.New("lsm9ds1: not initialised")
)

const (
	CodeNoError            = 0
	CodeProvisioningNeeded = -1
	CodeDeviceUnresponsive = -2
	CodeNotInitialised     = -3
	CodeTransport          = -4
)

// Code returns the numeric status of err.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeNoError
	case errors.Is(err, ErrProvisioningNeeded):
		return CodeProvisioningNeeded
	case errors.Is(err, ErrDeviceUnresponsive):
		return CodeDeviceUnresponsive
	case errors.Is(err, ErrNotInitialised):
		return CodeNotInitialised
	default:
		return CodeTransport
	}
}

// Bus is the subset of the I2C transport used by the driver.
type Bus interface {
	ReadRegister(ctx context.Context, instance int, addr, reg byte, buf []byte) (int, error)
	WriteRegister(ctx context.Context, instance int, addr, reg byte, data []byte) (int, error)
	IsDeviceReady(ctx context.Context, instance int, addr byte) error
}

type Config interface {
	Get(tag config.Tag) (uint16, error)
}

// InterruptPin is the data-ready line. Enable replaces any previously
// registered handler. Handlers may run on any goroutine.
type InterruptPin interface {
	Enable(handler func()) error
	Disable() error
	Level() (bool, error)
}

// Sample is a raw accelerometer reading at ±4 g full scale.
type Sample struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// sensitivity at ±4 g in g/LSB
const sensitivity4G = 0.122e-3

// G returns the sample in units of standard gravity.
func (s Sample) G() (x, y, z float64) {
	return float64(s.X) * sensitivity4G, float64(s.Y) * sensitivity4G, float64(s.Z) * sensitivity4G
}

// MagnitudeSquared is x²+y²+z² computed without overflow.
func (s Sample) MagnitudeSquared() uint64 {
	x, y, z := int64(s.X), int64(s.Y), int64(s.Z)
	return uint64(x*x + y*y + z*z)
}

func decodeSample(b []byte) Sample {
	return Sample{
		X: int16(uint16(b[1])<<8 | uint16(b[0])),
		Y: int16(uint16(b[3])<<8 | uint16(b[2])),
		Z: int16(uint16(b[5])<<8 | uint16(b[4])),
	}
}

// closestValue returns the option nearest to target. options must be sorted
// ascending. Ties go to the larger option.
func closestValue(target uint16, options []uint16) uint16 {
	if len(options) == 0 {
		return 0
	}
	if target <= options[0] {
		return options[0]
	}
	if target >= options[len(options)-1] {
		return options[len(options)-1]
	}
	for i := 0; i < len(options)-1; i++ {
		lo, hi := options[i], options[i+1]
		if target >= lo && target <= hi {
			if target-lo >= hi-target {
				return hi
			}
			return lo
		}
	}
	return 0
}

// LSM9DS1 drives the accelerometer of an ST LSM9DS1. Samples are read on
// Tick after the data-ready interrupt has fired.
type LSM9DS1 struct {
	bus      Bus
	instance int
	addr     byte
	cfg      Config
	pin      InterruptPin
	callback func(Sample)
	log      *slog.Logger

	pending atomic.Bool

	mx             sync.Mutex
	initialised    bool
	awake          bool
	rate           uint16
	wakeImage      byte
	powerDownImage byte
}

type Option func(*LSM9DS1)

func WithAddress(addr byte) Option {
	return func(d *LSM9DS1) {
		d.addr = addr
	}
}

// WithCallback sets the receiver of samples read on Tick.
func WithCallback(cb func(Sample)) Option {
	return func(d *LSM9DS1) {
		d.callback = cb
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *LSM9DS1) {
		d.log = log
	}
}

func NewLSM9DS1(bus Bus, instance int, cfg Config, pin InterruptPin, opts ...Option) *LSM9DS1 {
	d := &LSM9DS1{
		bus:      bus,
		instance: instance,
		addr:     DefaultAddress,
		cfg:      cfg,
		pin:      pin,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.callback == nil {
		d.callback = func(Sample) {
			d.log.Warn("lsm9ds1 sample callback not implemented")
		}
	}
	return d
}

/*
Init leaves the accelerometer powered down with:
  - all three axes enabled (CTRL_REG5_XL)
  - ±4 g full scale and the supported output data rate closest to
    axl.sample_rate (CTRL_REG6_XL, applied on Wake)
  - data-ready routed to INT1_A/G (INT1_CTRL)
*/
func (d *LSM9DS1) Init(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	err := d.bus.IsDeviceReady(ctx, d.instance, d.addr)
	if err != nil {
		d.log.Error("lsm9ds1 unresponsive", "addr", d.addr, "error", err)
		return fmt.Errorf("%w: %w", ErrDeviceUnresponsive, err)
	}
	target, err := d.cfg.Get(config.TagAxlSampleRate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioningNeeded, err)
	}
	err = d.writeReg(ctx, regCtrlReg5XL, ctrl5ZenXL|ctrl5YenXL|ctrl5XenXL)
	if err != nil {
		return fmt.Errorf("lsm9ds1: could not enable axes: %w", err)
	}
	d.rate = closestValue(target, SampleRates)
	d.log.Debug("lsm9ds1 sample rate", "requested", target, "selected", d.rate)
	d.wakeImage = odrBits(d.rate) | fsXL4G
	d.powerDownImage = d.wakeImage &^ odrXLMask
	err = d.writeReg(ctx, regCtrlReg6XL, d.powerDownImage)
	if err != nil {
		return fmt.Errorf("lsm9ds1: could not set data rate: %w", err)
	}
	err = d.pin.Enable(d.dataReady)
	if err != nil {
		return fmt.Errorf("lsm9ds1: could not enable data-ready interrupt: %w", err)
	}
	err = d.writeReg(ctx, regInt1Ctrl, int1DrdyXL)
	if err != nil {
		_ = d.pin.Disable()
		return fmt.Errorf("lsm9ds1: could not route data-ready to INT1: %w", err)
	}
	// data may already be waiting
	level, err := d.pin.Level()
	if err != nil {
		d.log.Warn("could not read lsm9ds1 interrupt level", "error", err)
	}
	d.pending.Store(level)
	d.awake = false
	d.initialised = true
	return nil
}

func (d *LSM9DS1) dataReady() {
	d.pending.Store(true)
}

// Term powers the accelerometer down if it is awake and releases the
// interrupt line.
func (d *LSM9DS1) Term(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.initialised {
		return nil
	}
	var errs []error
	if d.awake {
		if err := d.writeReg(ctx, regCtrlReg6XL, d.powerDownImage); err != nil {
			errs = append(errs, fmt.Errorf("lsm9ds1: could not power down: %w", err))
		}
		d.awake = false
	}
	if err := d.pin.Disable(); err != nil {
		errs = append(errs, fmt.Errorf("lsm9ds1: could not release interrupt: %w", err))
	}
	d.initialised = false
	return errors.Join(errs...)
}

func (d *LSM9DS1) Sleep(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.initialised {
		return ErrNotInitialised
	}
	d.log.Debug("sleeping lsm9ds1")
	err := d.writeReg(ctx, regCtrlReg6XL, d.powerDownImage)
	if err != nil {
		return fmt.Errorf("lsm9ds1: could not power down: %w", err)
	}
	d.awake = false
	return nil
}

func (d *LSM9DS1) Wake(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.initialised {
		return ErrNotInitialised
	}
	d.log.Debug("waking lsm9ds1")
	err := d.writeReg(ctx, regCtrlReg6XL, d.wakeImage)
	if err != nil {
		return fmt.Errorf("lsm9ds1: could not wake: %w", err)
	}
	d.awake = true
	return nil
}

func (d *LSM9DS1) Awake() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.awake
}

// Tick reads one sample if the data-ready interrupt fired since the last
// call. A failed read is retried on the next Tick.
func (d *LSM9DS1) Tick(ctx context.Context) error {
	if !d.pending.CompareAndSwap(true, false) {
		return nil
	}
	d.mx.Lock()
	buf := make([]byte, 6)
	_, err := d.bus.ReadRegister(ctx, d.instance, d.addr, regOutXLXL, buf)
	d.mx.Unlock()
	if err != nil {
		d.pending.Store(true)
		d.log.Debug("lsm9ds1 sample read failed", "error", err)
		return nil
	}
	d.callback(decodeSample(buf))
	return nil
}

// Pending tells whether a sample is waiting to be read.
func (d *LSM9DS1) Pending() bool {
	return d.pending.Load()
}

// Rate returns the output data rate selected by Init.
func (d *LSM9DS1) Rate() uint16 {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.rate
}

// Images returns the CTRL_REG6_XL values written on Wake and Sleep.
func (d *LSM9DS1) Images() (wake, powerDown byte) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.wakeImage, d.powerDownImage
}

// WhoAmI reads the accelerometer/gyroscope identification register.
func (d *LSM9DS1) WhoAmI(ctx context.Context) (byte, error) {
	buf := make([]byte, 1)
	_, err := d.bus.ReadRegister(ctx, d.instance, d.addr, regWhoAmI, buf)
	if err != nil {
		return 0, fmt.Errorf("lsm9ds1: could not read WHO_AM_I: %w", err)
	}
	return buf[0], nil
}

func (d *LSM9DS1) writeReg(ctx context.Context, reg, value byte) error {
	_, err := d.bus.WriteRegister(ctx, d.instance, d.addr, reg, []byte{value})
	return err
}
