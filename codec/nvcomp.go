//go:build cuda

package codec

/*
#cgo LDFLAGS: -lnvcomp -lcudart
#include <stdlib.h>
#include <cuda_runtime.h>
#include <nvcomp.h>
#include <cascaded.h>
*/
import "C"

import (
	"unsafe"

	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
)

type devicePointer interface {
	Ptr() unsafe.Pointer
}

type streamHandle interface {
	Handle() unsafe.Pointer
}

// NvcompEngine drives the nvcomp cascaded compressor on CUDA buffers.
type NvcompEngine struct{}

// NewNvcompEngine creates an NvcompEngine.
func NewNvcompEngine() *NvcompEngine {
	return &NvcompEngine{}
}

func (e *NvcompEngine) CompressTempSize(in device.Buffer, typ dataset.Type, opts Options) (uint64, Status) {
	inPtr, ok := ptrOf(in)
	ctype, tok := nvcompType(typ)
	if !ok || !tok {
		return 0, StatusInvalidValue
	}

	copts := formatOpts(opts)

	var temp C.size_t
	ret := C.nvcompCascadedCompressGetTempSize(inPtr, C.size_t(in.Len()), ctype, &copts, &temp)

	return uint64(temp), fromNvcomp(ret)
}

func (e *NvcompEngine) CompressOutputSize(in device.Buffer, typ dataset.Type, opts Options, temp device.Buffer) (uint64, Status) {
	inPtr, ok := ptrOf(in)
	tempPtr, tok := ptrOf(temp)
	ctype, typeOK := nvcompType(typ)
	if !ok || !tok || !typeOK {
		return 0, StatusInvalidValue
	}

	copts := formatOpts(opts)

	var out C.size_t
	ret := C.nvcompCascadedCompressGetOutputSize(
		inPtr, C.size_t(in.Len()), ctype, &copts,
		tempPtr, C.size_t(temp.Len()), &out, 0,
	)

	return uint64(out), fromNvcomp(ret)
}

func (e *NvcompEngine) CompressAsync(in device.Buffer, typ dataset.Type, opts Options, temp, out device.Buffer, outBytes *uint64, stream device.Stream) Status {
	inPtr, ok1 := ptrOf(in)
	tempPtr, ok2 := ptrOf(temp)
	outPtr, ok3 := ptrOf(out)
	ctype, ok4 := nvcompType(typ)
	sh, ok5 := stream.(streamHandle)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || outBytes == nil {
		return StatusInvalidValue
	}

	// The engine writes the compressed size from the device, so it must live
	// in pinned host memory until the stream is synchronized.
	var pinned unsafe.Pointer
	if ret := C.cudaMallocHost(&pinned, C.size_t(unsafe.Sizeof(C.size_t(0)))); ret != C.cudaSuccess {
		return StatusDeviceError
	}

	size := (*C.size_t)(pinned)
	*size = C.size_t(out.Len())

	copts := formatOpts(opts)
	ret := C.nvcompCascadedCompressAsync(
		inPtr, C.size_t(in.Len()), ctype, &copts,
		tempPtr, C.size_t(temp.Len()),
		outPtr, size,
		C.cudaStream_t(sh.Handle()),
	)

	if st := fromNvcomp(ret); st != StatusSuccess {
		C.cudaFreeHost(pinned)
		return st
	}

	stream.OnComplete(func() error {
		*outBytes = uint64(*size)

		return nil
	})
	stream.OnRelease(func() {
		C.cudaFreeHost(pinned)
	})

	return StatusSuccess
}

func (e *NvcompEngine) DecompressMetadata(in device.Buffer, inBytes uint64, stream device.Stream) (Metadata, Status) {
	inPtr, ok := ptrOf(in)
	sh, sok := stream.(streamHandle)
	if !ok || !sok {
		return nil, StatusInvalidValue
	}

	var md unsafe.Pointer
	ret := C.nvcompDecompressGetMetadata(inPtr, C.size_t(inBytes), &md, C.cudaStream_t(sh.Handle()))

	return md, fromNvcomp(ret)
}

func (e *NvcompEngine) DecompressTempSize(md Metadata) (uint64, Status) {
	p, ok := md.(unsafe.Pointer)
	if !ok {
		return 0, StatusInvalidValue
	}

	var temp C.size_t
	ret := C.nvcompDecompressGetTempSize(p, &temp)

	return uint64(temp), fromNvcomp(ret)
}

func (e *NvcompEngine) DecompressOutputSize(md Metadata) (uint64, Status) {
	p, ok := md.(unsafe.Pointer)
	if !ok {
		return 0, StatusInvalidValue
	}

	var out C.size_t
	ret := C.nvcompDecompressGetOutputSize(p, &out)

	return uint64(out), fromNvcomp(ret)
}

func (e *NvcompEngine) DecompressAsync(in device.Buffer, inBytes uint64, temp device.Buffer, md Metadata, out device.Buffer, stream device.Stream) Status {
	inPtr, ok1 := ptrOf(in)
	tempPtr, ok2 := ptrOf(temp)
	outPtr, ok3 := ptrOf(out)
	p, ok4 := md.(unsafe.Pointer)
	sh, ok5 := stream.(streamHandle)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return StatusInvalidValue
	}

	ret := C.nvcompDecompressAsync(
		inPtr, C.size_t(inBytes),
		tempPtr, C.size_t(temp.Len()),
		p,
		outPtr, C.size_t(out.Len()),
		C.cudaStream_t(sh.Handle()),
	)

	return fromNvcomp(ret)
}

func (e *NvcompEngine) DestroyMetadata(md Metadata) {
	if p, ok := md.(unsafe.Pointer); ok && p != nil {
		C.nvcompDecompressDestroyMetadata(p)
	}
}

func ptrOf(b device.Buffer) (unsafe.Pointer, bool) {
	dp, ok := b.(devicePointer)
	if !ok {
		return nil, false
	}

	return dp.Ptr(), true
}

func nvcompType(typ dataset.Type) (C.nvcompType_t, bool) {
	switch typ {
	case dataset.Int8:
		return C.NVCOMP_TYPE_CHAR, true
	case dataset.Short:
		return C.NVCOMP_TYPE_SHORT, true
	case dataset.Int:
		return C.NVCOMP_TYPE_INT, true
	case dataset.Long:
		return C.NVCOMP_TYPE_LONGLONG, true
	default:
		return 0, false
	}
}

func formatOpts(opts Options) C.nvcompCascadedFormatOpts {
	var bp C.int
	if opts.BitPacking {
		bp = 1
	}

	return C.nvcompCascadedFormatOpts{
		num_RLEs:   C.int(opts.RLEs),
		num_deltas: C.int(opts.Deltas),
		use_bp:     bp,
	}
}

func fromNvcomp(ret C.nvcompError_t) Status {
	switch ret {
	case C.nvcompSuccess:
		return StatusSuccess
	case C.nvcompErrorInvalidValue:
		return StatusInvalidValue
	case C.nvcompErrorNotSupported:
		return StatusNotSupported
	case C.nvcompErrorCudaError:
		return StatusDeviceError
	default:
		return StatusInternal
	}
}
