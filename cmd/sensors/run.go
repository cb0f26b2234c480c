package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mklimuk/tagsensors/accel"
	"github.com/mklimuk/tagsensors/cmd/sensors/console"
	"github.com/mklimuk/tagsensors/monitor"
	"github.com/mklimuk/tagsensors/pressure"
	"github.com/mklimuk/tagsensors/sink"
	"github.com/mklimuk/tagsensors/station"
	"github.com/mklimuk/tagsensors/timer"
	"github.com/urfave/cli/v2"
)

type publisher interface {
	Publish(ctx context.Context, rec monitor.Record) error
	Close() error
}

var runCmd = cli.Command{
	Name:  "run",
	Usage: "sample both sensors and publish logged readings",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "print", Usage: "print records instead of publishing them over MQTT"},
		&cli.DurationFlag{Name: "interval", Value: 10 * time.Millisecond, Usage: "main loop period"},
	},
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := newRig(c)
		if err != nil {
			return err
		}
		defer r.close(context.WithoutCancel(ctx))

		var out publisher
		if c.Bool("print") || r.cfg.MQTT.Broker == "" {
			out = sink.NewPrinter(os.Stdout)
		} else {
			m, err := sink.NewMQTT(r.cfg.MQTT.Broker, r.cfg.MQTT.ClientID, r.cfg.MQTT.Topic)
			if err != nil {
				return console.Exit(1, "mqtt setup error: %s", console.Red(err))
			}
			err = m.Connect(ctx)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			out = m
		}
		defer func() { _ = out.Close() }()

		records := make(chan monitor.Record, 64)
		emit := func(rec monitor.Record) {
			select {
			case records <- rec:
			default:
				slog.Warn("record queue full, dropping", "kind", rec.Kind)
			}
		}

		line, err := r.interruptPin()
		if err != nil {
			return console.Exit(1, "interrupt pin error: %s", console.Red(err))
		}
		pool := timer.NewPool()
		var mon *monitor.Monitor
		axl := accel.NewLSM9DS1(r.bus, r.cfg.Axl.Instance, r.cfg, line,
			accel.WithCallback(func(s accel.Sample) { mon.OnAxl(s) }))
		osr := pressure.Resolution(r.cfg.Pressure.Resolution)
		if osr == 0 {
			osr = pressure.OSR256
		}
		prs := pressure.NewMS5837(r.bus, r.cfg.Pressure.Instance, r.cfg, pool,
			pressure.WithResolution(osr),
			pressure.WithCallback(func(p int32) { mon.OnPressure(p) }))
		mon = monitor.New(r.cfg, emit, monitor.WithAxl(axl), monitor.WithPressure(prs))

		err = errors.Join(axl.Init(ctx), prs.Init(ctx))
		if err != nil {
			return console.Exit(1, "sensor initialisation error: %s", console.Red(err))
		}
		defer func() {
			tctx := context.WithoutCancel(ctx)
			_ = axl.Term(tctx)
			_ = prs.Term(tctx)
		}()
		if s, ok := line.(*simLine); ok {
			s.start(axl.Rate())
		}
		err = errors.Join(axl.Wake(ctx), prs.Wake(ctx))
		if err != nil {
			return console.Exit(1, "could not start sampling: %s", console.Red(err))
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case rec := <-records:
					pctx, cancel := context.WithTimeout(ctx, time.Second)
					err := out.Publish(pctx, rec)
					cancel()
					if err != nil {
						slog.Warn("could not publish record", "kind", rec.Kind, "error", err)
					}
				}
			}
		}()

		slog.Info("sampling", "axl_rate", axl.Rate(), "pressure_resolution", int(osr))
		loop := station.NewLoop(pool, []station.Ticker{axl, prs}, station.WithInterval(c.Duration("interval")))
		err = loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
