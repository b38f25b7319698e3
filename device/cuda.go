//go:build cuda

package device

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	cr "github.com/ingonyama-zk/icicle/wrappers/golang/cuda_runtime"
)

// CUDABuffer is a region of CUDA device memory.
type CUDABuffer struct {
	ptr   unsafe.Pointer
	n     uint64
	freed bool
}

func (b *CUDABuffer) Len() uint64 { return b.n }

// Ptr returns the raw device pointer, nil for empty buffers.
func (b *CUDABuffer) Ptr() unsafe.Pointer { return b.ptr }

// CUDA is a CUDA device selected through the icicle runtime bindings.
type CUDA struct {
	index int
	name  string
}

// Count returns the number of CUDA devices.
func Count() (int, error) {
	count, ret := cr.GetDeviceCount()
	if ret != cr.CudaSuccess {
		return 0, cudaErr(ret)
	}

	return count, nil
}

// Open selects the CUDA device at index.
func Open(index int) (Device, error) {
	count, err := Count()
	if err != nil {
		return nil, &DeviceError{Op: "count devices", Index: index, Err: err}
	}

	if index < 0 || index >= count {
		return nil, &DeviceError{Op: "select device", Index: index, Err: ErrNoDevice}
	}

	if ret := cr.SetDevice(index); ret != cr.CudaSuccess {
		if ret == cr.CudaErrorDevicesUnavailable {
			return nil, &DeviceError{
				Op:    "select device",
				Index: index,
				Err:   fmt.Errorf("GPU is currently in use by another application"),
			}
		}

		return nil, &DeviceError{Op: "select device", Index: index, Err: cudaErr(ret)}
	}

	return &CUDA{index: index, name: fmt.Sprintf("cuda:%d", index)}, nil
}

func (d *CUDA) Index() int { return d.index }

func (d *CUDA) Name() string { return d.name }

func (d *CUDA) MemInfo() (uint64, uint64, error) {
	var free, total C.size_t
	if ret := C.cudaMemGetInfo(&free, &total); ret != C.cudaSuccess {
		return 0, 0, fmt.Errorf("cudaMemGetInfo: %s", C.GoString(C.cudaGetErrorString(ret)))
	}

	return uint64(free), uint64(total), nil
}

func (d *CUDA) Alloc(n uint64) (Buffer, error) {
	// cudaMalloc rejects zero-sized requests.
	if n == 0 {
		return &CUDABuffer{}, nil
	}

	ptr, ret := cr.Malloc(uint(n))
	if ret != cr.CudaSuccess {
		return nil, &DeviceError{Op: "alloc", Index: d.index, Err: cudaErr(ret)}
	}

	return &CUDABuffer{ptr: ptr, n: n}, nil
}

func (d *CUDA) Free(b Buffer) error {
	cb, err := d.own(b, "free")
	if err != nil {
		return err
	}

	cb.freed = true
	if cb.ptr == nil {
		return nil
	}

	if ret := cr.Free(cb.ptr); ret != cr.CudaSuccess {
		return &DeviceError{Op: "free", Index: d.index, Err: cudaErr(ret)}
	}

	return nil
}

func (d *CUDA) CopyToDevice(dst Buffer, src []byte) error {
	cb, err := d.own(dst, "copy to device")
	if err != nil {
		return err
	}

	if len(src) == 0 {
		return nil
	}

	if uint64(len(src)) > cb.n {
		return &DeviceError{
			Op:    "copy to device",
			Index: d.index,
			Err:   fmt.Errorf("%d bytes into %d byte buffer", len(src), cb.n),
		}
	}

	if _, ret := cr.CopyToDevice(cb.ptr, unsafe.Pointer(&src[0]), uint(len(src))); ret != cr.CudaSuccess {
		return &DeviceError{Op: "copy to device", Index: d.index, Err: cudaErr(ret)}
	}

	return nil
}

func (d *CUDA) CopyToHost(dst []byte, src Buffer) error {
	cb, err := d.own(src, "copy to host")
	if err != nil {
		return err
	}

	if len(dst) == 0 {
		return nil
	}

	if uint64(len(dst)) > cb.n {
		return &DeviceError{
			Op:    "copy to host",
			Index: d.index,
			Err:   fmt.Errorf("%d bytes from %d byte buffer", len(dst), cb.n),
		}
	}

	if _, ret := cr.CopyFromDevice(unsafe.Pointer(&dst[0]), cb.ptr, uint(len(dst))); ret != cr.CudaSuccess {
		return &DeviceError{Op: "copy to host", Index: d.index, Err: cudaErr(ret)}
	}

	return nil
}

func (d *CUDA) NewStream() (Stream, error) {
	s, ret := cr.CreateStream()
	if ret != cr.CudaSuccess {
		return nil, &DeviceError{Op: "create stream", Index: d.index, Err: cudaErr(ret)}
	}

	return &cudaStream{stream: s}, nil
}

func (d *CUDA) Close() error {
	if ret := cr.GetLastError(); ret != cr.CudaSuccess {
		return &DeviceError{Op: "close", Index: d.index, Err: cudaErr(ret)}
	}

	return nil
}

func (d *CUDA) own(b Buffer, op string) (*CUDABuffer, error) {
	cb, ok := b.(*CUDABuffer)
	if !ok {
		return nil, &DeviceError{Op: op, Index: d.index, Err: ErrForeignBuffer}
	}

	if cb.freed {
		return nil, &DeviceError{Op: op, Index: d.index, Err: ErrFreed}
	}

	return cb, nil
}

type cudaStream struct {
	stream  cr.CudaStream
	pending []func() error
	release []func()
}

// Handle returns the underlying cudaStream_t for cgo callers.
func (s *cudaStream) Handle() unsafe.Pointer {
	return unsafe.Pointer(s.stream)
}

func (s *cudaStream) OnComplete(fn func() error) {
	s.pending = append(s.pending, fn)
}

func (s *cudaStream) OnRelease(fn func()) {
	s.release = append(s.release, fn)
}

func (s *cudaStream) Synchronize() error {
	defer s.drain()

	if ret := cr.SynchronizeStream(&s.stream); ret != cr.CudaSuccess {
		s.pending = nil
		return cudaErr(ret)
	}

	pending := s.pending
	s.pending = nil

	for _, fn := range pending {
		if err := fn(); err != nil {
			return err
		}
	}

	return nil
}

func (s *cudaStream) drain() {
	release := s.release
	s.release = nil

	for _, fn := range release {
		fn()
	}
}

func (s *cudaStream) Close() error {
	s.pending = nil
	s.drain()

	if ret := cr.DestroyStream(&s.stream); ret != cr.CudaSuccess {
		return cudaErr(ret)
	}

	return nil
}

func cudaErr(ret cr.CudaError) error {
	return fmt.Errorf("cuda error %d", ret)
}
