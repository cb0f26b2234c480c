package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/tagsensors"
	gobi2c "gobot.io/x/gobot/v2/drivers/i2c"
)

var _ tagsensors.I2CBus = &GobotBus{}
var _ tagsensors.Initializer = &GobotBus{}

// GobotAdaptor is a gobot platform adaptor exposing I2C connections, e.g.
// nanopi.NewNeoAdaptor().
type GobotAdaptor interface {
	gobi2c.Connector
	Connect() error
	Finalize() error
}

// GobotBus is a split-transaction bus backed by a gobot adaptor. One
// connection per device address is opened lazily and cached until Release.
type GobotBus struct {
	mx      sync.Mutex
	adaptor GobotAdaptor
	busNr   int
	conns   map[byte]gobi2c.Connection
}

// NewGobotBus uses the adaptor's default bus when busNr is negative.
func NewGobotBus(adaptor GobotAdaptor, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = adaptor.DefaultI2cBus()
	}
	return &GobotBus{
		adaptor: adaptor,
		busNr:   busNr,
		conns:   make(map[byte]gobi2c.Connection),
	}
}

func (b *GobotBus) Init(ctx context.Context) error {
	err := b.adaptor.Connect()
	if err != nil {
		return fmt.Errorf("%w: adaptor connect error: %w", ErrInterface, err)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short write to %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := conn.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from %x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %x: %d of %d", address, n, len(buffer))
	}
	return nil
}

// Release closes all cached connections and finalizes the adaptor.
func (b *GobotBus) Release(ctx context.Context) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %x: %w", addr, err))
		}
		delete(b.conns, addr)
	}
	if err := b.adaptor.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("finalize adaptor: %w", err))
	}
	return errors.Join(errs...)
}

func (b *GobotBus) conn(address byte) (gobi2c.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.adaptor.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = conn
	return conn, nil
}
