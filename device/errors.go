package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevice is returned when the requested device index does not exist.
	ErrNoDevice = errors.New("no such device")
	// ErrOutOfMemory is returned when an allocation exceeds free memory.
	ErrOutOfMemory = errors.New("out of device memory")
	// ErrFreed is returned when a buffer is used or released after Free.
	ErrFreed = errors.New("buffer already freed")
	// ErrForeignBuffer is returned when a buffer belongs to another device.
	ErrForeignBuffer = errors.New("buffer not owned by this device")
)

// DeviceError reports a failed device operation.
type DeviceError struct {
	Op    string
	Index int
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %d: %s: %v", e.Index, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// InsufficientMemoryError reports a pre-flight check that found less free
// device memory than an operation requires.
type InsufficientMemoryError struct {
	Required uint64
	Free     uint64
}

func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient device memory: need %d bytes, %d free",
		e.Required, e.Free)
}
