package device

import (
	"fmt"

	"github.com/shirou/gopsutil/mem"
)

// HostBuffer is device memory on the host device, backed by a byte slice.
type HostBuffer struct {
	owner *Host
	data  []byte
	freed bool
}

// Len returns the buffer size in bytes.
func (b *HostBuffer) Len() uint64 {
	return uint64(len(b.data))
}

// Bytes exposes the buffer contents to host-side engines.
func (b *HostBuffer) Bytes() []byte {
	return b.data
}

// HostOption configures a Host device.
type HostOption func(*Host)

// WithMemoryLimit caps the memory the host device reports and hands out.
func WithMemoryLimit(n uint64) HostOption {
	return func(h *Host) {
		h.limit = n
	}
}

// Host is a device backed by system memory. It stands in for an accelerator
// when none is available and keeps an exact account of outstanding
// allocations.
type Host struct {
	limit  uint64
	used   uint64
	allocs int
	frees  int
}

// NewHost creates a host device.
func NewHost(opts ...HostOption) *Host {
	h := &Host{}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Host) Index() int { return 0 }

func (h *Host) Name() string { return "host" }

// MemInfo reports the configured limit minus outstanding allocations, or the
// system's available memory when no limit is set.
func (h *Host) MemInfo() (uint64, uint64, error) {
	if h.limit > 0 {
		free := uint64(0)
		if h.used < h.limit {
			free = h.limit - h.used
		}

		return free, h.limit, nil
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("virtual memory: %w", err)
	}

	return vm.Available, vm.Total, nil
}

func (h *Host) Alloc(n uint64) (Buffer, error) {
	if h.limit > 0 && h.used+n > h.limit {
		return nil, &DeviceError{Op: "alloc", Index: h.Index(), Err: ErrOutOfMemory}
	}

	h.used += n
	h.allocs++

	return &HostBuffer{owner: h, data: make([]byte, n)}, nil
}

func (h *Host) Free(b Buffer) error {
	hb, err := h.own(b, "free")
	if err != nil {
		return err
	}

	h.used -= hb.Len()
	h.frees++
	hb.freed = true
	hb.data = nil

	return nil
}

func (h *Host) CopyToDevice(dst Buffer, src []byte) error {
	hb, err := h.own(dst, "copy to device")
	if err != nil {
		return err
	}

	if uint64(len(src)) > hb.Len() {
		return &DeviceError{
			Op:    "copy to device",
			Index: h.Index(),
			Err:   fmt.Errorf("%d bytes into %d byte buffer", len(src), hb.Len()),
		}
	}

	copy(hb.data, src)

	return nil
}

func (h *Host) CopyToHost(dst []byte, src Buffer) error {
	hb, err := h.own(src, "copy to host")
	if err != nil {
		return err
	}

	if uint64(len(dst)) > hb.Len() {
		return &DeviceError{
			Op:    "copy to host",
			Index: h.Index(),
			Err:   fmt.Errorf("%d bytes from %d byte buffer", len(dst), hb.Len()),
		}
	}

	copy(dst, hb.data)

	return nil
}

func (h *Host) NewStream() (Stream, error) {
	return &hostStream{}, nil
}

func (h *Host) Close() error {
	return nil
}

// Outstanding returns the bytes currently allocated.
func (h *Host) Outstanding() uint64 {
	return h.used
}

// Allocs returns the number of allocations made so far.
func (h *Host) Allocs() int {
	return h.allocs
}

// Frees returns the number of buffers released so far.
func (h *Host) Frees() int {
	return h.frees
}

func (h *Host) own(b Buffer, op string) (*HostBuffer, error) {
	hb, ok := b.(*HostBuffer)
	if !ok || hb.owner != h {
		return nil, &DeviceError{Op: op, Index: h.Index(), Err: ErrForeignBuffer}
	}

	if hb.freed {
		return nil, &DeviceError{Op: op, Index: h.Index(), Err: ErrFreed}
	}

	return hb, nil
}

// hostStream defers issued work until Synchronize, so results are never
// observable before the stream is synchronized.
type hostStream struct {
	pending []func() error
	release []func()
	closed  bool
}

func (s *hostStream) OnComplete(fn func() error) {
	s.pending = append(s.pending, fn)
}

func (s *hostStream) OnRelease(fn func()) {
	s.release = append(s.release, fn)
}

func (s *hostStream) Synchronize() error {
	if s.closed {
		return fmt.Errorf("synchronize: stream closed")
	}

	pending := s.pending
	s.pending = nil

	defer s.drain()

	for _, fn := range pending {
		if err := fn(); err != nil {
			return err
		}
	}

	return nil
}

func (s *hostStream) drain() {
	release := s.release
	s.release = nil

	for _, fn := range release {
		fn()
	}
}

func (s *hostStream) Close() error {
	s.pending = nil
	s.drain()
	s.closed = true

	return nil
}
