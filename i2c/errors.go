package i2c

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/mklimuk/tagsensors"
)

var (
	ErrInvalidInstance = errors.New("i2c: invalid bus instance")
	ErrBusy            = errors.New("i2c: bus busy")
	ErrTimeout         = errors.New("i2c: transaction timed out")
	ErrDevice          = errors.New("i2c: device error")
	ErrInterface       = errors.New("i2c: interface error")
)

const (
	CodeNoError         = 0
	CodeInvalidInstance = -1
	CodeBusy            = -2
	CodeTimeout         = -3
	CodeDevice          = -4
	CodeInterface       = -5
)

// Code returns the numeric status of err. Errors that do not belong to this
// package are reported as device errors.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeNoError
	case errors.Is(err, ErrInvalidInstance):
		return CodeInvalidInstance
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrInterface):
		return CodeInterface
	default:
		return CodeDevice
	}
}

// classify maps a controller error onto one of the package sentinels while
// keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrInvalidInstance, ErrBusy, ErrTimeout, ErrDevice, ErrInterface} {
		if errors.Is(err, known) {
			return err
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ETIMEDOUT):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, tagsensors.ErrBusBusy), errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.EAGAIN):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return fmt.Errorf("%w: %w", ErrDevice, err)
}
