package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/cascadebench/codec"
	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeDataset[T dataset.Element](t *testing.T, values []T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, dataset.AsBytes(values), 0o644))

	return path
}

// recorder keeps report events in arrival order.
type recorder struct {
	events     []string
	compBytes  uint64
	ratio      float64
	uncomp     uint64
	compUsage  MemoryUsage
	decompUsed MemoryUsage
}

func (r *recorder) Uncompressed(bytes uint64) {
	r.events = append(r.events, "uncompressed")
	r.uncomp = bytes
}

func (r *recorder) CompressMemory(usage MemoryUsage) {
	r.events = append(r.events, "compress memory")
	r.compUsage = usage
}

func (r *recorder) Compressed(compressedBytes uint64, ratio float64, _ Phase) {
	r.events = append(r.events, "compressed")
	r.compBytes = compressedBytes
	r.ratio = ratio
}

func (r *recorder) DecompressMemory(usage MemoryUsage) {
	r.events = append(r.events, "decompress memory")
	r.decompUsed = usage
}

func (r *recorder) Decompressed(Phase) {
	r.events = append(r.events, "decompressed")
}

// spyEngine records the engine calls and the bytes handed to compression.
type spyEngine struct {
	*codec.HostEngine
	calls    []string
	input    []byte
	corrupt  bool
	failCall string
}

func newSpyEngine() *spyEngine {
	return &spyEngine{HostEngine: codec.NewHostEngine()}
}

func (e *spyEngine) record(call string) codec.Status {
	e.calls = append(e.calls, call)
	if call == e.failCall {
		return codec.StatusInternal
	}

	return codec.StatusSuccess
}

func (e *spyEngine) CompressTempSize(in device.Buffer, typ dataset.Type, opts codec.Options) (uint64, codec.Status) {
	if st := e.record(codec.CallCompressTempSize); st != codec.StatusSuccess {
		return 0, st
	}

	return e.HostEngine.CompressTempSize(in, typ, opts)
}

func (e *spyEngine) CompressOutputSize(in device.Buffer, typ dataset.Type, opts codec.Options, temp device.Buffer) (uint64, codec.Status) {
	if st := e.record(codec.CallCompressOutputSize); st != codec.StatusSuccess {
		return 0, st
	}

	return e.HostEngine.CompressOutputSize(in, typ, opts, temp)
}

func (e *spyEngine) CompressAsync(in device.Buffer, typ dataset.Type, opts codec.Options, temp, out device.Buffer, outBytes *uint64, stream device.Stream) codec.Status {
	if st := e.record(codec.CallCompressAsync); st != codec.StatusSuccess {
		return st
	}

	e.input = slices.Clone(in.(*device.HostBuffer).Bytes())

	return e.HostEngine.CompressAsync(in, typ, opts, temp, out, outBytes, stream)
}

func (e *spyEngine) DecompressMetadata(in device.Buffer, inBytes uint64, stream device.Stream) (codec.Metadata, codec.Status) {
	if st := e.record(codec.CallDecompressMetadata); st != codec.StatusSuccess {
		return nil, st
	}

	return e.HostEngine.DecompressMetadata(in, inBytes, stream)
}

func (e *spyEngine) DecompressTempSize(md codec.Metadata) (uint64, codec.Status) {
	if st := e.record(codec.CallDecompressTempSize); st != codec.StatusSuccess {
		return 0, st
	}

	return e.HostEngine.DecompressTempSize(md)
}

func (e *spyEngine) DecompressOutputSize(md codec.Metadata) (uint64, codec.Status) {
	if st := e.record(codec.CallDecompressOutputSize); st != codec.StatusSuccess {
		return 0, st
	}

	return e.HostEngine.DecompressOutputSize(md)
}

func (e *spyEngine) DecompressAsync(in device.Buffer, inBytes uint64, temp device.Buffer, md codec.Metadata, out device.Buffer, stream device.Stream) codec.Status {
	if st := e.record(codec.CallDecompressAsync); st != codec.StatusSuccess {
		return st
	}

	st := e.HostEngine.DecompressAsync(in, inBytes, temp, md, out, stream)
	if st == codec.StatusSuccess && e.corrupt {
		stream.OnComplete(func() error {
			b := out.(*device.HostBuffer).Bytes()
			b[len(b)-1] ^= 0x01

			return nil
		})
	}

	return st
}

func (e *spyEngine) DestroyMetadata(md codec.Metadata) {
	e.calls = append(e.calls, "DestroyMetadata")
	e.HostEngine.DestroyMetadata(md)
}

func intConfig(path string) Config {
	return Config{
		Path:    path,
		Type:    dataset.Int,
		Options: codec.Options{RLEs: 1},
	}
}

func TestRunRoundTrip(t *testing.T) {
	h := device.NewHost()
	engine := newSpyEngine()
	obs := &recorder{}

	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	result, err := NewRunner(h, engine, obs, discardLogger()).Run(context.Background(), intConfig(path))
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, 8, result.Elements)
	assert.Equal(t, uint64(32), result.UncompressedBytes)
	assert.Equal(t, uint64(32), obs.uncomp)
	assert.Equal(t, result.CompressedBytes, obs.compBytes)
	assert.Greater(t, result.Ratio, 1.0)
	assert.InDelta(t, 32/float64(result.CompressedBytes), result.Ratio, 1e-9)
	assert.Positive(t, result.Compress.Throughput)
	assert.Positive(t, result.Decompress.Throughput)

	assert.Equal(t, []string{
		codec.CallCompressTempSize,
		codec.CallCompressOutputSize,
		codec.CallCompressAsync,
		codec.CallDecompressMetadata,
		codec.CallDecompressTempSize,
		codec.CallDecompressOutputSize,
		codec.CallDecompressAsync,
		"DestroyMetadata",
	}, engine.calls)

	assert.Zero(t, h.Outstanding())
	assert.Equal(t, h.Allocs(), h.Frees())
	assert.Zero(t, engine.LiveMetadata())
}

func TestRunAllTypes(t *testing.T) {
	tests := []struct {
		typ  dataset.Type
		path func(t *testing.T) string
	}{
		{dataset.Int8, func(t *testing.T) string { return writeDataset(t, []int8{1, 1, 1, -4, -4, 9}) }},
		{dataset.Short, func(t *testing.T) string { return writeDataset(t, []int16{300, 300, -7, 0, 0}) }},
		{dataset.Int, func(t *testing.T) string { return writeDataset(t, []int32{1 << 20, 1 << 20, -1}) }},
		{dataset.Long, func(t *testing.T) string { return writeDataset(t, []int64{1 << 40, 1 << 40, -3, 0}) }},
	}

	for _, tt := range tests {
		for _, bp := range []bool{false, true} {
			name := string(tt.typ)
			if bp {
				name += "/bitpack"
			}

			t.Run(name, func(t *testing.T) {
				h := device.NewHost()
				engine := codec.NewHostEngine()

				cfg := Config{
					Path:    tt.path(t),
					Type:    tt.typ,
					Options: codec.Options{RLEs: 1, Deltas: 1, BitPacking: bp},
				}

				result, err := NewRunner(h, engine, nil, discardLogger()).Run(context.Background(), cfg)
				require.NoError(t, err)
				assert.True(t, result.Verified)
				assert.Equal(t, string(tt.typ), result.Type)
				assert.Zero(t, h.Outstanding())
				assert.Zero(t, engine.LiveMetadata())
			})
		}
	}
}

func TestRunSortPreservesElements(t *testing.T) {
	values := []int32{9, -2, 7, 7, 0, 3, -2, 100}
	path := writeDataset(t, values)

	engine := newSpyEngine()
	cfg := intConfig(path)
	cfg.Sort = true

	result, err := NewRunner(device.NewHost(), engine, nil, discardLogger()).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, result.Verified)

	want := slices.Clone(values)
	slices.Sort(want)
	assert.Equal(t, dataset.AsBytes(want), engine.input)
}

func TestRunSizeCap(t *testing.T) {
	path := writeDataset(t, []int32{1, 2, 3, 4, 5, 6})

	engine := newSpyEngine()
	cfg := intConfig(path)
	cfg.Size = 4

	result, err := NewRunner(device.NewHost(), engine, nil, discardLogger()).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Elements)
	assert.Equal(t, dataset.AsBytes([]int32{1, 2, 3, 4}), engine.input)
}

func TestRunVerboseMemoryEvents(t *testing.T) {
	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	t.Run("enabled", func(t *testing.T) {
		obs := &recorder{}
		cfg := intConfig(path)
		cfg.VerboseMemory = true

		result, err := NewRunner(device.NewHost(), codec.NewHostEngine(), obs, discardLogger()).Run(context.Background(), cfg)
		require.NoError(t, err)

		assert.Equal(t, []string{
			"uncompressed",
			"compress memory",
			"compressed",
			"decompress memory",
			"decompressed",
		}, obs.events)

		require.NotNil(t, result.CompressMemory)
		require.NotNil(t, result.DecompressMemory)
		assert.Equal(t, uint64(32), obs.compUsage.Input)
		assert.Equal(t, obs.compUsage, *result.CompressMemory)
		assert.Equal(t, result.CompressedBytes, obs.decompUsed.Input)
		assert.Equal(t, uint64(32), obs.decompUsed.Output)
	})

	t.Run("disabled", func(t *testing.T) {
		obs := &recorder{}

		result, err := NewRunner(device.NewHost(), codec.NewHostEngine(), obs, discardLogger()).Run(context.Background(), intConfig(path))
		require.NoError(t, err)

		assert.Equal(t, []string{"uncompressed", "compressed", "decompressed"}, obs.events)
		assert.Nil(t, result.CompressMemory)
		assert.Nil(t, result.DecompressMemory)
	})
}

func TestRunInsufficientMemory(t *testing.T) {
	h := device.NewHost(device.WithMemoryLimit(16))
	obs := &recorder{}

	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	_, err := NewRunner(h, codec.NewHostEngine(), obs, discardLogger()).Run(context.Background(), intConfig(path))
	require.Error(t, err)

	var memErr *device.InsufficientMemoryError
	require.True(t, errors.As(err, &memErr))
	assert.Equal(t, uint64(32), memErr.Required)
	assert.Equal(t, uint64(16), memErr.Free)

	assert.Zero(t, h.Allocs())
	assert.Empty(t, obs.events)
}

// hungryEngine asks for more decompression scratch than the device holds.
type hungryEngine struct {
	*spyEngine
}

func (e hungryEngine) DecompressTempSize(md codec.Metadata) (uint64, codec.Status) {
	if _, st := e.spyEngine.DecompressTempSize(md); st != codec.StatusSuccess {
		return 0, st
	}

	return 1 << 20, codec.StatusSuccess
}

func TestRunInsufficientMemoryForDecompression(t *testing.T) {
	h := device.NewHost(device.WithMemoryLimit(4096))
	engine := hungryEngine{newSpyEngine()}
	obs := &recorder{}

	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	_, err := NewRunner(h, engine, obs, discardLogger()).Run(context.Background(), intConfig(path))
	require.Error(t, err)

	var memErr *device.InsufficientMemoryError
	require.True(t, errors.As(err, &memErr))
	assert.Equal(t, uint64(1<<20+32), memErr.Required)
	assert.Less(t, memErr.Free, uint64(4096))

	// Compression finished; no decompression work was issued.
	assert.Equal(t, []string{"uncompressed", "compressed"}, obs.events)
	assert.NotContains(t, engine.calls, codec.CallDecompressAsync)

	assert.Zero(t, h.Outstanding())
	assert.Equal(t, h.Allocs(), h.Frees())
	assert.Zero(t, engine.LiveMetadata())
}

func TestRunAllocationFailureReleasesBuffers(t *testing.T) {
	// Room for the input but not the compression output.
	h := device.NewHost(device.WithMemoryLimit(64))

	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	_, err := NewRunner(h, codec.NewHostEngine(), nil, discardLogger()).Run(context.Background(), intConfig(path))
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrOutOfMemory)

	assert.Positive(t, h.Allocs())
	assert.Zero(t, h.Outstanding())
	assert.Equal(t, h.Allocs(), h.Frees())
}

func TestRunMissingDataset(t *testing.T) {
	h := device.NewHost()

	cfg := intConfig(filepath.Join(t.TempDir(), "missing.bin"))

	_, err := NewRunner(h, codec.NewHostEngine(), nil, discardLogger()).Run(context.Background(), cfg)
	require.Error(t, err)

	var dsErr *dataset.DatasetError
	require.True(t, errors.As(err, &dsErr))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, h.Allocs())
}

func TestRunInvalidConfig(t *testing.T) {
	h := device.NewHost()

	cfg := intConfig("data.bin")
	cfg.Options.RLEs = -1

	_, err := NewRunner(h, codec.NewHostEngine(), nil, discardLogger()).Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Zero(t, h.Allocs())
}

func TestRunVerificationFailure(t *testing.T) {
	h := device.NewHost()
	engine := newSpyEngine()
	engine.corrupt = true

	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	result, err := NewRunner(h, engine, nil, discardLogger()).Run(context.Background(), intConfig(path))
	require.Error(t, err)
	assert.Nil(t, result)

	var vErr *VerificationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, 7, vErr.Index)

	assert.Zero(t, h.Outstanding())
	assert.Equal(t, h.Allocs(), h.Frees())
	assert.Zero(t, engine.LiveMetadata())
}

func TestRunEngineFailureReleasesResources(t *testing.T) {
	calls := []string{
		codec.CallCompressTempSize,
		codec.CallCompressOutputSize,
		codec.CallCompressAsync,
		codec.CallDecompressMetadata,
		codec.CallDecompressTempSize,
		codec.CallDecompressOutputSize,
		codec.CallDecompressAsync,
	}

	path := writeDataset(t, []int32{5, 5, 5, 5, 1, 2, 3, 3})

	for _, call := range calls {
		t.Run(call, func(t *testing.T) {
			h := device.NewHost()
			engine := newSpyEngine()
			engine.failCall = call

			_, err := NewRunner(h, engine, nil, discardLogger()).Run(context.Background(), intConfig(path))
			require.Error(t, err)

			var opErr *codec.OperationError
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, call, opErr.Call)

			assert.Zero(t, h.Outstanding())
			assert.Equal(t, h.Allocs(), h.Frees())
			assert.Zero(t, engine.LiveMetadata())
		})
	}
}
