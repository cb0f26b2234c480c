package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Controller is the low-level transfer primitive of a single bus.
// Tx writes w and then reads into r. Combined controllers do it in a single
// transaction with a repeated start, split controllers issue a write followed
// by a separate read. Either slice may be empty.
type Controller interface {
	Init(ctx context.Context) error
	Term(ctx context.Context) error
	Tx(ctx context.Context, addr byte, w, r []byte) error
}

type instance struct {
	mx    sync.Mutex
	ctrl  Controller
	ready bool
}

// Transport multiplexes register level transactions over a fixed set of
// bus instances. A transaction that times out resets its bus before the
// timeout is handed back to the caller.
type Transport struct {
	buses []*instance
	log   *slog.Logger
}

type Option func(*Transport)

func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

func NewTransport(controllers []Controller, opts ...Option) *Transport {
	t := &Transport{
		buses: make([]*instance, len(controllers)),
		log:   slog.Default(),
	}
	for i, ctrl := range controllers {
		t.buses[i] = &instance{ctrl: ctrl}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Instances returns the number of bus instances.
func (t *Transport) Instances() int {
	return len(t.buses)
}

func (t *Transport) bus(n int) (*instance, error) {
	if n < 0 || n >= len(t.buses) || t.buses[n].ctrl == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidInstance, n)
	}
	return t.buses[n], nil
}

func (t *Transport) Init(ctx context.Context, n int) error {
	b, err := t.bus(n)
	if err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	err = b.ctrl.Init(ctx)
	if err != nil {
		return fmt.Errorf("could not init bus %d: %w", n, classify(err))
	}
	b.ready = true
	return nil
}

func (t *Transport) Term(ctx context.Context, n int) error {
	b, err := t.bus(n)
	if err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if !b.ready {
		return nil
	}
	b.ready = false
	err = b.ctrl.Term(ctx)
	if err != nil {
		return fmt.Errorf("could not release bus %d: %w", n, classify(err))
	}
	return nil
}

// Ready tells whether instance n has been initialised.
func (t *Transport) Ready(n int) bool {
	b, err := t.bus(n)
	if err != nil {
		return false
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.ready
}

// Transfer writes data to the device.
func (t *Transport) Transfer(ctx context.Context, n int, addr byte, data []byte) error {
	return t.tx(ctx, n, addr, data, nil)
}

// Receive fills buf from the device and returns the number of bytes read.
func (t *Transport) Receive(ctx context.Context, n int, addr byte, buf []byte) (int, error) {
	err := t.tx(ctx, n, addr, nil, buf)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (t *Transport) ReadRegister(ctx context.Context, n int, addr, reg byte, buf []byte) (int, error) {
	err := t.tx(ctx, n, addr, []byte{reg}, buf)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// WriteRegister sends the register address followed by data in a single
// write and returns the number of payload bytes written.
func (t *Transport) WriteRegister(ctx context.Context, n int, addr, reg byte, data []byte) (int, error) {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	err := t.tx(ctx, n, addr, w, nil)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// IsDeviceReady probes addr with a single byte read.
func (t *Transport) IsDeviceReady(ctx context.Context, n int, addr byte) error {
	return t.tx(ctx, n, addr, nil, make([]byte, 1))
}

func (t *Transport) tx(ctx context.Context, n int, addr byte, w, r []byte) error {
	b, err := t.bus(n)
	if err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if !b.ready {
		return fmt.Errorf("%w: bus %d not initialised", ErrDevice, n)
	}
	err = classify(b.ctrl.Tx(ctx, addr, w, r))
	if err == nil {
		return nil
	}
	if Code(err) == CodeTimeout {
		t.recover(ctx, b, n, addr)
	}
	return fmt.Errorf("bus %d addr %#02x: %w", n, addr, err)
}

// recover reinitialises a bus left in an unknown state by a timeout.
// It must be called with the instance lock held.
func (t *Transport) recover(ctx context.Context, b *instance, n int, addr byte) {
	t.log.Warn("i2c timeout, resetting bus", "instance", n, "addr", fmt.Sprintf("%#02x", addr))
	rctx := context.WithoutCancel(ctx)
	b.ready = false
	err := b.ctrl.Term(rctx)
	if err != nil {
		t.log.Debug("bus release failed", "instance", n, "error", err)
	}
	err = b.ctrl.Init(rctx)
	if err != nil {
		t.log.Error("bus reinit failed", "instance", n, "error", err)
		return
	}
	b.ready = true
}
