package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mklimuk/tagsensors/accel"
	"github.com/mklimuk/tagsensors/cmd/sensors/console"
	"github.com/mklimuk/tagsensors/pressure"
	"github.com/urfave/cli/v2"
)

var instanceFlag = &cli.IntFlag{
	Name:    "instance",
	Aliases: []string{"i"},
	Usage:   "i2c bus instance",
}

var i2cCmd = cli.Command{
	Name:  "i2c",
	Usage: "bus diagnostics",
	Subcommands: cli.Commands{
		&i2cScanCmd,
		&i2cProbeCmd,
		&i2cResetCmd,
	},
}

var i2cScanCmd = cli.Command{
	Name:  "scan",
	Usage: "list responding 7-bit addresses",
	Flags: []cli.Flag{instanceFlag},
	Action: func(c *cli.Context) error {
		n := c.Int("instance")
		r, err := newRig(c, n)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		ctx := commandContext(c)
		found := 0
		for addr := byte(0x08); addr < 0x78; addr++ {
			if r.bus.IsDeviceReady(ctx, n, addr) == nil {
				console.PInfof(console.PictoPin, "device at %s", console.White(fmt.Sprintf("%#02x", addr)))
				found++
			}
		}
		console.Infof("%d device(s) on i2c[%d]", found, n)
		return nil
	},
}

var i2cProbeCmd = cli.Command{
	Name:  "probe",
	Usage: "check that the tag sensors respond",
	Action: func(c *cli.Context) error {
		r, err := newRig(c)
		if err != nil {
			return err
		}
		defer r.close(c.Context)
		ctx := commandContext(c)
		w := tabwriter.NewWriter(os.Stdout, 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "SENSOR\tBUS\tADDRESS\tSTATUS\n")
		status := func(err error) string {
			if err != nil {
				return console.Red(err)
			}
			return console.Green("ok")
		}
		err = r.bus.IsDeviceReady(ctx, r.cfg.Pressure.Instance, pressure.DefaultAddress)
		_, _ = fmt.Fprintf(w, "ms5837\t%d\t%#02x\t%s\n", r.cfg.Pressure.Instance, pressure.DefaultAddress, status(err))
		err = r.bus.IsDeviceReady(ctx, r.cfg.Axl.Instance, accel.DefaultAddress)
		_, _ = fmt.Fprintf(w, "lsm9ds1\t%d\t%#02x\t%s\n", r.cfg.Axl.Instance, accel.DefaultAddress, status(err))
		_ = w.Flush()
		return nil
	},
}

var i2cResetCmd = cli.Command{
	Name:  "reset",
	Usage: "terminate and re-initialise a bus",
	Flags: []cli.Flag{
		instanceFlag,
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		n := c.Int("instance")
		if !c.Bool("yes") {
			answer, err := console.YesOrNo(fmt.Sprintf("reset i2c[%d]?", n))
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		r, err := newRig(c, n)
		if err != nil {
			return err
		}
		ctx := commandContext(c)
		err = r.bus.Term(ctx, n)
		if err != nil {
			console.Warnf("terminate failed: %s", err)
		}
		err = r.bus.Init(ctx, n)
		if err != nil {
			return console.Exit(1, "re-initialisation failed: %s", console.Red(err))
		}
		defer r.close(c.Context)
		console.Infof("i2c[%d] ready", n)
		return nil
	},
}
