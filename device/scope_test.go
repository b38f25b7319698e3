package device

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScopeCloseReleasesAll(t *testing.T) {
	h := NewHost()
	s := NewScope(h, discardLogger(), "test")

	for _, n := range []uint64{10, 20, 30} {
		_, err := s.Alloc(n)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.Live())
	assert.Equal(t, uint64(60), h.Outstanding())

	require.NoError(t, s.Close())
	assert.Zero(t, s.Live())
	assert.Zero(t, h.Outstanding())
	assert.Equal(t, 3, h.Frees())

	// Closing again releases nothing twice.
	require.NoError(t, s.Close())
	assert.Equal(t, 3, h.Frees())
}

func TestScopeFreeExactlyOnce(t *testing.T) {
	h := NewHost()
	s := NewScope(h, discardLogger(), "test")

	a, err := s.Alloc(8)
	require.NoError(t, err)

	_, err = s.Alloc(16)
	require.NoError(t, err)

	require.NoError(t, s.Free(a))
	assert.Equal(t, uint64(16), h.Outstanding())

	err = s.Free(a)
	assert.True(t, errors.Is(err, ErrFreed))

	require.NoError(t, s.Close())
	assert.Zero(t, h.Outstanding())
	assert.Equal(t, 2, h.Frees())
}

func TestScopeAllocFailureKeepsNothing(t *testing.T) {
	h := NewHost(WithMemoryLimit(10))
	s := NewScope(h, discardLogger(), "test")

	_, err := s.Alloc(11)
	require.Error(t, err)
	assert.Zero(t, s.Live())
	require.NoError(t, s.Close())
}

func TestEnsureFree(t *testing.T) {
	h := NewHost(WithMemoryLimit(100))

	require.NoError(t, EnsureFree(h, 100))

	err := EnsureFree(h, 101)
	require.Error(t, err)

	var memErr *InsufficientMemoryError
	require.True(t, errors.As(err, &memErr))
	assert.Equal(t, uint64(101), memErr.Required)
	assert.Equal(t, uint64(100), memErr.Free)
	assert.Zero(t, h.Allocs())
}
