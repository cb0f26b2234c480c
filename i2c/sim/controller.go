// Package sim provides an in-memory I2C controller with models of the tag's
// pressure sensor and accelerometer.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/tagsensors/i2c"
)

var ErrNack = errors.New("sim: address not acknowledged")
var ErrClosed = errors.New("sim: controller not initialised")

// Device answers the write and read phases addressed to it.
type Device interface {
	Write(w []byte) error
	Read(r []byte) error
}

var _ i2c.Controller = &Controller{}

type Controller struct {
	mx      sync.Mutex
	devices map[byte]Device
	faults  []error
	stuck   bool
	open    bool
	inits   int
	terms   int
	txs     int
}

func NewController() *Controller {
	return &Controller{devices: make(map[byte]Device)}
}

// Attach places dev on the bus at addr.
func (c *Controller) Attach(addr byte, dev Device) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.devices[addr] = dev
}

func (c *Controller) Detach(addr byte) {
	c.mx.Lock()
	defer c.mx.Unlock()
	delete(c.devices, addr)
}

// FailNext makes the next len(errs) transactions fail with the given errors,
// in order, without reaching any device.
func (c *Controller) FailNext(errs ...error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.faults = append(c.faults, errs...)
}

// SetStuck simulates a line held low: Init fails with an interface error.
func (c *Controller) SetStuck(stuck bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.stuck = stuck
}

func (c *Controller) Inits() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.inits
}

func (c *Controller) Terms() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.terms
}

// Transactions returns the number of Tx calls, failed ones included.
func (c *Controller) Transactions() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.txs
}

func (c *Controller) Init(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.inits++
	if c.stuck {
		c.open = false
		return fmt.Errorf("%w: SDA/SCL held low", i2c.ErrInterface)
	}
	c.open = true
	return nil
}

func (c *Controller) Term(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.terms++
	c.open = false
	return nil
}

func (c *Controller) Tx(ctx context.Context, addr byte, w, r []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.txs++
	if !c.open {
		return ErrClosed
	}
	if len(c.faults) > 0 {
		err := c.faults[0]
		c.faults = c.faults[1:]
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dev, ok := c.devices[addr]
	if !ok {
		return fmt.Errorf("%w: %#02x", ErrNack, addr)
	}
	if len(w) > 0 {
		if err := dev.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if err := dev.Read(r); err != nil {
			return err
		}
	}
	return nil
}

const (
	AddrMS5837  = 0x76
	AddrLSM9DS1 = 0x6A
)

// Tag is a simulated sensor board.
type Tag struct {
	*Controller
	Pressure *MS5837
	Accel    *LSM9DS1
}

// NewTag returns a controller with both sensors attached at their default
// addresses. The pressure sensor carries the datasheet calibration.
func NewTag() *Tag {
	t := &Tag{
		Controller: NewController(),
		Pressure:   NewMS5837(DatasheetPROM),
		Accel:      NewLSM9DS1(),
	}
	t.Attach(AddrMS5837, t.Pressure)
	t.Attach(AddrLSM9DS1, t.Accel)
	return t
}
