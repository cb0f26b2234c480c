package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var _ Controller = &PeriphController{}

// PeriphController drives a host I2C bus through periph.io. Every Tx is a
// single combined transaction.
type PeriphController struct {
	mx   sync.Mutex
	name string
	bus  i2c.BusCloser
}

// NewPeriphController returns a controller for the bus registered under name
// (e.g. "1" or "/dev/i2c-1"). An empty name selects the first available bus.
func NewPeriphController(name string) *PeriphController {
	return &PeriphController{name: name}
}

func (c *PeriphController) Init(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.bus != nil {
		_ = c.bus.Close()
		c.bus = nil
	}
	state, err := host.Init()
	if err != nil {
		return fmt.Errorf("%w: could not init host: %w", ErrInterface, err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(c.name)
	if err != nil {
		return fmt.Errorf("%w: could not open i2c bus %q: %w", ErrInterface, c.name, err)
	}
	c.bus = bus
	return nil
}

func (c *PeriphController) Term(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.bus == nil {
		return nil
	}
	err := c.bus.Close()
	c.bus = nil
	return err
}

func (c *PeriphController) Tx(ctx context.Context, addr byte, w, r []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.bus == nil {
		return fmt.Errorf("%w: bus %q is closed", ErrDevice, c.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.bus.Tx(uint16(addr), w, r)
	if err != nil {
		return fmt.Errorf("tx on %x failed: %w", addr, err)
	}
	return nil
}

func (c *PeriphController) String() string {
	return fmt.Sprintf("periph:%s", c.name)
}
