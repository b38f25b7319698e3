// Package codec is the narrow call surface into an external cascaded
// compression engine (run-length, delta and bit-packing passes). The harness
// never looks inside the compressed format; it only sequences the engine's
// size queries, asynchronous compress/decompress calls and metadata lifetime.
package codec

import (
	"fmt"

	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
)

// Status is the result code returned by every engine call.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidValue
	StatusNotSupported
	StatusOutputTooSmall
	StatusCorruptInput
	StatusDeviceError
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidValue:
		return "invalid value"
	case StatusNotSupported:
		return "not supported"
	case StatusOutputTooSmall:
		return "output too small"
	case StatusCorruptInput:
		return "corrupt input"
	case StatusDeviceError:
		return "device error"
	case StatusInternal:
		return "internal error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Options selects the cascaded passes applied during compression.
type Options struct {
	RLEs       int
	Deltas     int
	BitPacking bool
}

// Metadata is an engine-produced descriptor of one compressed buffer.
type Metadata interface{}

// Engine is the external compression engine. Size queries and metadata
// extraction complete before returning; CompressAsync and DecompressAsync only
// issue work onto the stream, which must be synchronized before their results
// (including *outBytes) are read.
type Engine interface {
	CompressTempSize(in device.Buffer, typ dataset.Type, opts Options) (uint64, Status)
	CompressOutputSize(in device.Buffer, typ dataset.Type, opts Options, temp device.Buffer) (uint64, Status)
	CompressAsync(in device.Buffer, typ dataset.Type, opts Options, temp, out device.Buffer, outBytes *uint64, stream device.Stream) Status
	DecompressMetadata(in device.Buffer, inBytes uint64, stream device.Stream) (Metadata, Status)
	DecompressTempSize(md Metadata) (uint64, Status)
	DecompressOutputSize(md Metadata) (uint64, Status)
	DecompressAsync(in device.Buffer, inBytes uint64, temp device.Buffer, md Metadata, out device.Buffer, stream device.Stream) Status
	DestroyMetadata(md Metadata)
}

// OperationError reports an engine call that returned a non-success status.
type OperationError struct {
	Call   string
	Status Status
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec %s failed: %v", e.Call, e.Err)
	}

	return fmt.Sprintf("codec %s failed: %s", e.Call, e.Status)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
