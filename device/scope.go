package device

import (
	"errors"
	"log/slog"
	"slices"
)

// Scope owns the buffers allocated through it. Every buffer is released
// exactly once: either explicitly with Free or by Close, which releases the
// remaining buffers in reverse allocation order. Close is safe to defer and
// to call more than once.
type Scope struct {
	dev    Device
	logger *slog.Logger
	live   []Buffer
}

// NewScope creates an empty Scope on dev.
func NewScope(dev Device, logger *slog.Logger, name string) *Scope {
	return &Scope{
		dev:    dev,
		logger: logger.With(slog.String("scope", name)),
	}
}

// Alloc allocates n bytes of device memory owned by the scope.
func (s *Scope) Alloc(n uint64) (Buffer, error) {
	b, err := s.dev.Alloc(n)
	if err != nil {
		return nil, err
	}

	s.live = append(s.live, b)
	s.logger.Debug("device alloc", slog.Uint64("bytes", n))

	return b, nil
}

// Free releases b ahead of Close.
func (s *Scope) Free(b Buffer) error {
	i := slices.Index(s.live, b)
	if i < 0 {
		return &DeviceError{Op: "free", Index: s.dev.Index(), Err: ErrFreed}
	}

	s.live = slices.Delete(s.live, i, i+1)
	s.logger.Debug("device free", slog.Uint64("bytes", b.Len()))

	return s.dev.Free(b)
}

// Live returns the number of buffers not yet released.
func (s *Scope) Live() int {
	return len(s.live)
}

// Close releases every remaining buffer.
func (s *Scope) Close() error {
	var errs []error

	for i := len(s.live) - 1; i >= 0; i-- {
		b := s.live[i]
		s.logger.Debug("device free", slog.Uint64("bytes", b.Len()))

		if err := s.dev.Free(b); err != nil {
			errs = append(errs, err)
		}
	}

	s.live = nil

	return errors.Join(errs...)
}
