package i2c

import (
	"context"
	"fmt"

	"github.com/mklimuk/tagsensors"
)

var _ Controller = &SplitController{}

// SplitController adapts a split-transaction bus (write without stop, then a
// separate read) to the Controller contract.
type SplitController struct {
	bus tagsensors.I2CBus
}

func NewSplitController(bus tagsensors.I2CBus) *SplitController {
	return &SplitController{bus: bus}
}

func (c *SplitController) Init(ctx context.Context) error {
	if in, ok := c.bus.(tagsensors.Initializer); ok {
		return in.Init(ctx)
	}
	return nil
}

// Term releases the bus so that a half finished transfer does not keep it
// locked.
func (c *SplitController) Term(ctx context.Context) error {
	return c.bus.Release(ctx)
}

func (c *SplitController) Tx(ctx context.Context, addr byte, w, r []byte) error {
	if len(w) > 0 {
		err := c.bus.WriteToAddr(ctx, addr, w)
		if err != nil {
			return fmt.Errorf("write phase failed: %w", err)
		}
	}
	if len(r) > 0 {
		err := c.bus.ReadFromAddr(ctx, addr, r)
		if err != nil {
			return fmt.Errorf("read phase failed: %w", err)
		}
	}
	return nil
}
