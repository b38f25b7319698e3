package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/weiihann/cascadebench/codec"
	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
)

// Observer receives report events as the pipeline produces them. Memory
// events arrive after the phase's sizes are known and before its timed
// operation is issued.
type Observer interface {
	Uncompressed(bytes uint64)
	CompressMemory(usage MemoryUsage)
	Compressed(compressedBytes uint64, ratio float64, phase Phase)
	DecompressMemory(usage MemoryUsage)
	Decompressed(phase Phase)
}

type nopObserver struct{}

func (nopObserver) Uncompressed(uint64)               {}
func (nopObserver) CompressMemory(MemoryUsage)        {}
func (nopObserver) Compressed(uint64, float64, Phase) {}
func (nopObserver) DecompressMemory(MemoryUsage)      {}
func (nopObserver) Decompressed(Phase)                {}

// Runner executes the benchmark pipeline on one device with one engine.
type Runner struct {
	Device   device.Device
	Codec    *codec.Adapter
	Observer Observer
	Logger   *slog.Logger
}

// NewRunner creates a Runner. A nil observer discards report events.
func NewRunner(
	dev device.Device,
	engine codec.Engine,
	observer Observer,
	logger *slog.Logger,
) *Runner {
	if observer == nil {
		observer = nopObserver{}
	}

	return &Runner{
		Device:   dev,
		Codec:    codec.NewAdapter(engine, logger),
		Observer: observer,
		Logger:   logger.With(slog.String("device", dev.Name())),
	}
}

// Run loads the dataset and runs compress, decompress and verify once,
// dispatching on the configured element type.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case dataset.Int8:
		return run[int8](ctx, r, cfg)
	case dataset.Short:
		return run[int16](ctx, r, cfg)
	case dataset.Int:
		return run[int32](ctx, r, cfg)
	case dataset.Long:
		return run[int64](ctx, r, cfg)
	default:
		return nil, fmt.Errorf("unknown element type %q", cfg.Type)
	}
}

func run[T dataset.Element](ctx context.Context, r *Runner, cfg Config) (*Result, error) {
	logger := r.Logger.With(slog.String("type", string(cfg.Type)))

	// Step 1: Load the dataset into host memory.
	logger.InfoContext(ctx, "loading dataset", slog.String("path", cfg.Path))

	data, err := dataset.Load[T](logger, cfg.Path, cfg.Size)
	if err != nil {
		return nil, err
	}

	if cfg.Sort {
		slices.Sort(data)
	}

	inBytes := uint64(len(data)) * uint64(dataset.Width[T]())

	// Step 2: Make sure the dataset fits on the device before allocating.
	if err := device.EnsureFree(r.Device, inBytes); err != nil {
		return nil, err
	}

	r.Observer.Uncompressed(inBytes)

	stream, err := r.Device.NewStream()
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	// The compressed buffer is the only allocation that outlives a phase.
	shared := device.NewScope(r.Device, logger, "shared")
	defer shared.Close()

	result := &Result{
		Device:            r.Device.Name(),
		Type:              string(cfg.Type),
		Elements:          len(data),
		UncompressedBytes: inBytes,
	}

	// Step 3: Compress.
	comp, err := compress(ctx, r, logger, cfg, shared, stream, dataset.AsBytes(data), result)
	if err != nil {
		return nil, err
	}

	// Step 4: Decompress and copy back to the host.
	got := make([]T, len(data))

	if err := decompress(ctx, r, logger, cfg, shared, stream, comp, dataset.AsBytes(got), result); err != nil {
		return nil, err
	}

	// Step 5: Verify the round trip.
	if err := Verify(data, got); err != nil {
		return nil, err
	}

	result.Verified = true
	logger.InfoContext(ctx, "round trip verified", slog.Int("elements", len(data)))

	return result, nil
}

func compress(
	ctx context.Context,
	r *Runner,
	logger *slog.Logger,
	cfg Config,
	shared *device.Scope,
	stream device.Stream,
	host []byte,
	result *Result,
) (device.Buffer, error) {
	phase := device.NewScope(r.Device, logger, "compress")
	defer phase.Close()

	inBytes := uint64(len(host))

	in, err := phase.Alloc(inBytes)
	if err != nil {
		return nil, err
	}

	if err := r.Device.CopyToDevice(in, host); err != nil {
		return nil, err
	}

	tempBytes, err := r.Codec.CompressTempSize(in, cfg.Type, cfg.Options)
	if err != nil {
		return nil, err
	}

	temp, err := phase.Alloc(tempBytes)
	if err != nil {
		return nil, err
	}

	outBytes, err := r.Codec.CompressOutputSize(in, cfg.Type, cfg.Options, temp)
	if err != nil {
		return nil, err
	}

	out, err := shared.Alloc(outBytes)
	if err != nil {
		return nil, err
	}

	usage := MemoryUsage{Input: inBytes, Output: outBytes, Temp: tempBytes}
	if cfg.VerboseMemory {
		result.CompressMemory = &usage
		r.Observer.CompressMemory(usage)
	}

	var compBytes uint64

	sample := StartSample()

	if err := r.Codec.CompressAsync(in, cfg.Type, cfg.Options, temp, out, &compBytes, stream); err != nil {
		return nil, err
	}

	if err := r.Codec.Synchronize(stream); err != nil {
		return nil, err
	}

	sample.Stop()

	// Input and scratch are released before decompression allocates.
	if err := phase.Close(); err != nil {
		return nil, err
	}

	result.CompressedBytes = compBytes
	result.Ratio = Ratio(inBytes, compBytes)
	result.Compress = sample.Phase(inBytes)

	r.Observer.Compressed(compBytes, result.Ratio, result.Compress)
	logger.InfoContext(ctx, "compress phase complete",
		slog.Uint64("compressed_bytes", compBytes),
		slog.Duration("elapsed", result.Compress.Elapsed),
	)

	return out, nil
}

func decompress(
	ctx context.Context,
	r *Runner,
	logger *slog.Logger,
	cfg Config,
	shared *device.Scope,
	stream device.Stream,
	comp device.Buffer,
	host []byte,
	result *Result,
) error {
	phase := device.NewScope(r.Device, logger, "decompress")
	defer phase.Close()

	compBytes := result.CompressedBytes

	md, err := r.Codec.Metadata(comp, compBytes, stream)
	if err != nil {
		return err
	}
	defer md.Release()

	tempBytes, err := md.TempSize()
	if err != nil {
		return err
	}

	outBytes, err := md.OutputSize()
	if err != nil {
		return err
	}

	usage := MemoryUsage{Input: compBytes, Output: outBytes, Temp: tempBytes}
	if cfg.VerboseMemory {
		result.DecompressMemory = &usage
		r.Observer.DecompressMemory(usage)
	}

	if err := device.EnsureFree(r.Device, tempBytes+outBytes); err != nil {
		return err
	}

	temp, err := phase.Alloc(tempBytes)
	if err != nil {
		return err
	}

	out, err := phase.Alloc(outBytes)
	if err != nil {
		return err
	}

	sample := StartSample()

	if err := r.Codec.DecompressAsync(comp, compBytes, temp, md, out, stream); err != nil {
		return err
	}

	if err := r.Codec.Synchronize(stream); err != nil {
		return err
	}

	sample.Stop()
	md.Release()

	result.Decompress = sample.Phase(outBytes)
	r.Observer.Decompressed(result.Decompress)
	logger.InfoContext(ctx, "decompress phase complete",
		slog.Uint64("decompressed_bytes", outBytes),
		slog.Duration("elapsed", result.Decompress.Elapsed),
	)

	if err := shared.Free(comp); err != nil {
		return err
	}

	if err := VerifySize(outBytes, uint64(len(host))); err != nil {
		return err
	}

	return r.Device.CopyToHost(host, out)
}
