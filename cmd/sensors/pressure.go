package main

import (
	"fmt"
	"time"

	"github.com/mklimuk/tagsensors/cmd/sensors/console"
	"github.com/mklimuk/tagsensors/pressure"
	"github.com/mklimuk/tagsensors/timer"
	"github.com/urfave/cli/v2"
)

var pressureCmd = cli.Command{
	Name:    "pressure",
	Aliases: []string{"p"},
	Usage:   "MS5837 pressure sensor",
	Subcommands: cli.Commands{
		&pressureReadCmd,
		&pressurePROMCmd,
		&pressureResetCmd,
	},
}

func newPressure(c *cli.Context) (*rig, *pressure.MS5837, error) {
	r, err := newRig(c)
	if err != nil {
		return nil, nil, err
	}
	osr := pressure.Resolution(r.cfg.Pressure.Resolution)
	if osr == 0 {
		osr = pressure.OSR256
	}
	dev := pressure.NewMS5837(r.bus, r.cfg.Pressure.Instance, r.cfg, timer.NewPool(), pressure.WithResolution(osr))
	return r, dev, nil
}

var pressureReadCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"rd"},
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1},
		&cli.DurationFlag{Name: "interval", Value: time.Second},
	},
	Action: func(c *cli.Context) error {
		r, dev, err := newPressure(c)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		ctx := commandContext(c)
		err = dev.Init(ctx)
		if err != nil {
			return console.Exit(1, "sensor initialisation error: %s", console.Red(err))
		}
		defer func() { _ = dev.Term(ctx) }()
		for i := 0; i < c.Int("count"); i++ {
			if i > 0 {
				time.Sleep(c.Duration("interval"))
			}
			rd, err := dev.Read(ctx)
			if err != nil {
				return console.Exit(1, "read error (code %d): %s", pressure.Code(err), console.Red(err))
			}
			env := rd.Env()
			console.PInfof(console.PictoThermometer, "%s mbar %s", console.White(rd.Pressure), console.White(env.Temperature))
		}
		return nil
	},
}

var pressurePROMCmd = cli.Command{
	Name:  "prom",
	Usage: "print the verified calibration coefficients",
	Action: func(c *cli.Context) error {
		r, dev, err := newPressure(c)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		ctx := commandContext(c)
		err = dev.Init(ctx)
		if err != nil {
			return console.Exit(1, "sensor initialisation error (code %d): %s", pressure.Code(err), console.Red(err))
		}
		defer func() { _ = dev.Term(ctx) }()
		prom, err := dev.Coefficients()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		for i, w := range prom[:7] {
			label := fmt.Sprintf("C%d", i)
			if i == 0 {
				label = "CRC/factory"
			}
			console.Printf("%-12s %#04x (%d)\n", label, w, w)
		}
		return nil
	},
}

var pressureResetCmd = cli.Command{
	Name:  "reset",
	Usage: "reload the sensor calibration PROM",
	Action: func(c *cli.Context) error {
		r, dev, err := newPressure(c)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		err = dev.Reset(commandContext(c))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.Infof("sensor reset")
		return nil
	},
}
