// Package pin provides data-ready interrupt lines: host GPIO edges, polled
// level readers and a simulated line for tests.
package pin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePoll bounds WaitForEdge so that Disable does not block forever.
const edgePoll = 100 * time.Millisecond

// Periph watches a host GPIO for rising edges.
type Periph struct {
	pin  gpio.PinIO
	mx   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewPeriph(name string) (*Periph, error) {
	_, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return &Periph{pin: p}, nil
}

// Enable starts calling handler on every rising edge, from a dedicated
// goroutine.
func (p *Periph) Enable(handler func()) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.halt()
	err := p.pin.In(gpio.PullNoChange, gpio.RisingEdge)
	if err != nil {
		return fmt.Errorf("could not configure %s for edge detection: %w", p.pin.Name(), err)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop, p.done = stop, done
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if p.pin.WaitForEdge(edgePoll) {
				handler()
			}
		}
	}()
	return nil
}

func (p *Periph) Disable() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.halt()
	return p.pin.In(gpio.PullNoChange, gpio.NoEdge)
}

// halt must be called with p.mx held.
func (p *Periph) halt() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
}

func (p *Periph) Level() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

func (p *Periph) String() string {
	return p.pin.Name()
}

// LevelFunc reads the current level of a line.
type LevelFunc func(ctx context.Context) (bool, error)

// Polled turns a level reader into an edge source by sampling it at a fixed
// interval. It suits lines behind a USB bridge, such as an MCP2221 GP pin.
type Polled struct {
	read     LevelFunc
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mx     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPolled(read LevelFunc, interval time.Duration) *Polled {
	return &Polled{
		read:     read,
		interval: interval,
		timeout:  time.Second,
		log:      slog.Default(),
	}
}

func (p *Polled) Enable(handler func()) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.halt()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		last := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			level, err := p.read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Debug("interrupt line poll failed", "error", err)
				}
				continue
			}
			if level && !last {
				handler()
			}
			last = level
		}
	}()
	return nil
}

func (p *Polled) Disable() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.halt()
	return nil
}

// halt must be called with p.mx held.
func (p *Polled) halt() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
}

func (p *Polled) Level() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.read(ctx)
}

// Sim is a line driven by the test or the simulator. Rising edges call the
// handler synchronously on the goroutine that called Set.
type Sim struct {
	mx      sync.Mutex
	level   bool
	handler func()
	enables int
}

func NewSim() *Sim {
	return &Sim{}
}

func (s *Sim) Enable(handler func()) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.handler = handler
	s.enables++
	return nil
}

func (s *Sim) Disable() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.handler = nil
	return nil
}

func (s *Sim) Level() (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.level, nil
}

// Set drives the line.
func (s *Sim) Set(level bool) {
	s.mx.Lock()
	rising := level && !s.level
	s.level = level
	handler := s.handler
	s.mx.Unlock()
	if rising && handler != nil {
		handler()
	}
}

// Pulse produces a single rising edge and returns the line low.
func (s *Sim) Pulse() {
	s.Set(true)
	s.Set(false)
}

func (s *Sim) Enabled() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.handler != nil
}
