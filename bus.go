package tagsensors

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a split-transaction bus: a write and a read are separate calls
// and the register pointer set by the write survives until the read.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Initializer is implemented by buses that need to be (re)opened before use.
type Initializer interface {
	Init(ctx context.Context) error
}
