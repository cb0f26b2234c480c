package main

import (
	"context"
	"time"

	"github.com/mklimuk/tagsensors/accel"
	"github.com/mklimuk/tagsensors/cmd/sensors/console"
	"github.com/urfave/cli/v2"
)

var axlCmd = cli.Command{
	Name:  "axl",
	Usage: "LSM9DS1 accelerometer",
	Subcommands: cli.Commands{
		&axlInfoCmd,
		&axlReadCmd,
	},
}

var axlInfoCmd = cli.Command{
	Name: "info",
	Action: func(c *cli.Context) error {
		r, err := newRig(c)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		line, err := r.interruptPin()
		if err != nil {
			return console.Exit(1, "interrupt pin error: %s", console.Red(err))
		}
		ctx := commandContext(c)
		dev := accel.NewLSM9DS1(r.bus, r.cfg.Axl.Instance, r.cfg, line)
		err = dev.Init(ctx)
		if err != nil {
			return console.Exit(1, "sensor initialisation error (code %d): %s", accel.Code(err), console.Red(err))
		}
		defer func() { _ = dev.Term(ctx) }()
		who, err := dev.WhoAmI(ctx)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		wake, powerDown := dev.Images()
		console.Printf("WHO_AM_I   %#02x\n", who)
		console.Printf("rate       %d Hz\n", dev.Rate())
		console.Printf("CTRL_REG6  %#02x awake, %#02x asleep\n", wake, powerDown)
		return nil
	},
}

var axlReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 10},
		&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
	},
	Action: func(c *cli.Context) error {
		r, err := newRig(c)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		line, err := r.interruptPin()
		if err != nil {
			return console.Exit(1, "interrupt pin error: %s", console.Red(err))
		}
		samples := make(chan accel.Sample, c.Int("count"))
		dev := accel.NewLSM9DS1(r.bus, r.cfg.Axl.Instance, r.cfg, line, accel.WithCallback(func(s accel.Sample) {
			select {
			case samples <- s:
			default:
			}
		}))
		ctx, cancel := context.WithTimeout(commandContext(c), c.Duration("timeout"))
		defer cancel()
		err = dev.Init(ctx)
		if err != nil {
			return console.Exit(1, "sensor initialisation error (code %d): %s", accel.Code(err), console.Red(err))
		}
		defer func() { _ = dev.Term(context.WithoutCancel(ctx)) }()
		if s, ok := line.(*simLine); ok {
			s.start(dev.Rate())
		}
		err = dev.Wake(ctx)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for read := 0; read < c.Int("count"); {
			select {
			case <-ctx.Done():
				return console.Exit(1, "no data-ready after %d sample(s): %s", read, console.Red(ctx.Err()))
			case s := <-samples:
				x, y, z := s.G()
				console.Printf("x=%+.3fg y=%+.3fg z=%+.3fg\n", x, y, z)
				read++
			case <-tick.C:
				_ = dev.Tick(ctx)
			}
		}
		return nil
	},
}
