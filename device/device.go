// Package device manages accelerator memory for the benchmark pipeline:
// device selection, buffer allocation with scoped release, host/device copies
// and execution streams.
package device

// Buffer is an opaque handle to device memory of a fixed byte length.
type Buffer interface {
	Len() uint64
}

// Stream is an in-order execution queue on a device. Work issued onto a
// stream completes asynchronously; Synchronize blocks until everything issued
// so far has finished.
type Stream interface {
	// OnComplete registers fn to run on the host once all previously issued
	// work has finished. Callbacks run in order during Synchronize and the
	// first error they return is reported by Synchronize.
	OnComplete(fn func() error)
	// OnRelease registers fn to run when the next Synchronize returns,
	// whether or not the issued work succeeded, or when the stream is closed
	// first. It is for host resources the issued work borrows.
	OnRelease(fn func())
	Synchronize() error
	Close() error
}

// Device is a selected accelerator.
type Device interface {
	Index() int
	Name() string
	// MemInfo reports free and total device memory in bytes.
	MemInfo() (free, total uint64, err error)
	Alloc(n uint64) (Buffer, error)
	Free(b Buffer) error
	// CopyToDevice and CopyToHost return once the copy itself is complete.
	CopyToDevice(dst Buffer, src []byte) error
	CopyToHost(dst []byte, src Buffer) error
	NewStream() (Stream, error)
	Close() error
}

// EnsureFree fails with an InsufficientMemoryError when the device reports
// less than required bytes of free memory.
func EnsureFree(dev Device, required uint64) error {
	free, _, err := dev.MemInfo()
	if err != nil {
		return &DeviceError{Op: "query memory", Index: dev.Index(), Err: err}
	}

	if free < required {
		return &InsufficientMemoryError{Required: required, Free: free}
	}

	return nil
}
