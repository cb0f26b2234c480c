package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mklimuk/tagsensors/adapter"
	"github.com/mklimuk/tagsensors/cmd/sensors/console"
	"github.com/mklimuk/tagsensors/config"
	"github.com/mklimuk/tagsensors/i2c"
	"github.com/mklimuk/tagsensors/i2c/sim"
	"github.com/mklimuk/tagsensors/pin"
	"github.com/mklimuk/tagsensors/snsctx"
	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

// rig is the hardware described by the configuration.
type rig struct {
	cfg *config.Config
	bus *i2c.Transport
	// set when a bus is served by the USB adapter, used for GPIO polling
	mcp *adapter.MCP2221
	// set when a bus is simulated
	sim *sim.Tag
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	p, err := config.Locate(c.String("config"))
	if err != nil {
		slog.Warn("using default configuration", "reason", err)
		return config.Default(), nil
	}
	slog.Debug("loading configuration", "path", p)
	cfg, err := config.Load(p)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", p, err)
	}
	return cfg, nil
}

func commandContext(c *cli.Context) context.Context {
	return snsctx.SetVerbose(c.Context, c.Bool("verbose"))
}

// newRig builds the transport and initialises the requested bus instances.
// All instances are initialised when none is given.
func newRig(c *cli.Context, instances ...int) (*rig, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, console.Exit(1, "configuration error: %s", console.Red(err))
	}
	r := &rig{cfg: cfg}
	controllers := make([]i2c.Controller, 0, len(cfg.I2C))
	for i, b := range cfg.I2C {
		ctrl, err := r.controller(b)
		if err != nil {
			return nil, console.Exit(1, "i2c[%d]: %s", i, console.Red(err))
		}
		controllers = append(controllers, ctrl)
	}
	r.bus = i2c.NewTransport(controllers)
	if len(instances) == 0 {
		for i := range controllers {
			instances = append(instances, i)
		}
	}
	ctx := commandContext(c)
	for _, n := range instances {
		err := r.bus.Init(ctx, n)
		if err != nil {
			return nil, console.Exit(1, "could not initialise i2c[%d]: %s", n, console.Red(err))
		}
	}
	return r, nil
}

func (r *rig) controller(b config.Bus) (i2c.Controller, error) {
	switch b.Backend {
	case config.BackendPeriph:
		return i2c.NewPeriphController(b.Name), nil
	case config.BackendGobot:
		nr := -1
		if b.Name != "" {
			n, err := strconv.Atoi(b.Name)
			if err != nil {
				return nil, fmt.Errorf("gobot bus name must be a bus number: %w", err)
			}
			nr = n
		}
		return i2c.NewSplitController(i2c.NewGobotBus(nanopi.NewNeoAdaptor(), nr)), nil
	case config.BackendMCP2221:
		if r.mcp != nil {
			return nil, fmt.Errorf("only one mcp2221 bus is supported")
		}
		var ids []int
		if b.Name != "" {
			n, err := strconv.Atoi(b.Name)
			if err != nil {
				return nil, fmt.Errorf("mcp2221 bus name must be an adapter index: %w", err)
			}
			ids = append(ids, n)
		}
		r.mcp = adapter.NewMCP2221(ids...)
		return i2c.NewSplitController(r.mcp), nil
	case config.BackendSim:
		if r.sim != nil {
			return nil, fmt.Errorf("only one simulated bus is supported")
		}
		r.sim = sim.NewTag()
		r.sim.Pressure.SetRaw(4958179, 6815414)
		r.sim.Accel.SetSample(0, 0, 8197)
		return r.sim, nil
	}
	return nil, fmt.Errorf("unknown backend %q", b.Backend)
}

// interruptPin resolves axl.int_pin: a host GPIO name, "mcp2221:<n>" for an
// adapter GP pin polled over USB, or "sim".
func (r *rig) interruptPin() (interruptLine, error) {
	name := r.cfg.Axl.IntPin
	switch {
	case name == "sim":
		return &simLine{Sim: pin.NewSim()}, nil
	case strings.HasPrefix(name, "mcp2221:"):
		if r.mcp == nil {
			return nil, fmt.Errorf("pin %s needs an mcp2221 bus", name)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "mcp2221:"))
		if err != nil {
			return nil, fmt.Errorf("invalid mcp2221 pin %q: %w", name, err)
		}
		read := func(ctx context.Context) (bool, error) {
			return r.mcp.ReadPin(ctx, n)
		}
		return pin.NewPolled(read, 2*time.Millisecond), nil
	default:
		return pin.NewPeriph(name)
	}
}

type interruptLine interface {
	Enable(handler func()) error
	Disable() error
	Level() (bool, error)
}

// simLine raises data-ready at the sample rate once enabled.
type simLine struct {
	*pin.Sim
	stop chan struct{}
}

func (s *simLine) start(rate uint16) {
	if rate == 0 {
		return
	}
	s.stop = make(chan struct{})
	go func() {
		t := time.NewTicker(time.Second / time.Duration(rate))
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.Pulse()
			}
		}
	}()
}

func (s *simLine) Disable() error {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return s.Sim.Disable()
}

func (r *rig) close(ctx context.Context) {
	for n := 0; n < r.bus.Instances(); n++ {
		err := r.bus.Term(ctx, n)
		if err != nil {
			console.Errorf("could not release i2c[%d]: %s", n, console.Red(err))
		}
	}
}
