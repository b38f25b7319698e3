package codec

import (
	"log/slog"

	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
)

// Call names reported in OperationError.
const (
	CallCompressTempSize     = "CompressGetTempSize"
	CallCompressOutputSize   = "CompressGetOutputSize"
	CallCompressAsync        = "CompressAsync"
	CallDecompressMetadata   = "DecompressGetMetadata"
	CallDecompressTempSize   = "DecompressGetTempSize"
	CallDecompressOutputSize = "DecompressGetOutputSize"
	CallDecompressAsync      = "DecompressAsync"
	CallStreamSynchronize    = "StreamSynchronize"
)

// Adapter wraps an Engine, turning non-success statuses into OperationError
// values that name the failing call.
type Adapter struct {
	engine Engine
	logger *slog.Logger
}

// NewAdapter creates an Adapter over engine.
func NewAdapter(engine Engine, logger *slog.Logger) *Adapter {
	return &Adapter{
		engine: engine,
		logger: logger.With(slog.String("component", "codec")),
	}
}

func (a *Adapter) check(call string, st Status) error {
	a.logger.Debug("codec call", slog.String("call", call), slog.String("status", st.String()))

	if st != StatusSuccess {
		return &OperationError{Call: call, Status: st}
	}

	return nil
}

func (a *Adapter) CompressTempSize(in device.Buffer, typ dataset.Type, opts Options) (uint64, error) {
	n, st := a.engine.CompressTempSize(in, typ, opts)

	return n, a.check(CallCompressTempSize, st)
}

func (a *Adapter) CompressOutputSize(in device.Buffer, typ dataset.Type, opts Options, temp device.Buffer) (uint64, error) {
	n, st := a.engine.CompressOutputSize(in, typ, opts, temp)

	return n, a.check(CallCompressOutputSize, st)
}

func (a *Adapter) CompressAsync(in device.Buffer, typ dataset.Type, opts Options, temp, out device.Buffer, outBytes *uint64, stream device.Stream) error {
	return a.check(CallCompressAsync, a.engine.CompressAsync(in, typ, opts, temp, out, outBytes, stream))
}

// Metadata extracts the descriptor of a compressed buffer. The returned
// handle must be released; Release calls the engine at most once.
func (a *Adapter) Metadata(in device.Buffer, inBytes uint64, stream device.Stream) (*MetadataHandle, error) {
	md, st := a.engine.DecompressMetadata(in, inBytes, stream)
	if err := a.check(CallDecompressMetadata, st); err != nil {
		return nil, err
	}

	return &MetadataHandle{adapter: a, md: md}, nil
}

func (a *Adapter) DecompressAsync(in device.Buffer, inBytes uint64, temp device.Buffer, md *MetadataHandle, out device.Buffer, stream device.Stream) error {
	return a.check(CallDecompressAsync, a.engine.DecompressAsync(in, inBytes, temp, md.md, out, stream))
}

// Synchronize waits for the stream and reports failures of the work issued on
// it as an OperationError.
func (a *Adapter) Synchronize(stream device.Stream) error {
	if err := stream.Synchronize(); err != nil {
		return &OperationError{Call: CallStreamSynchronize, Status: StatusDeviceError, Err: err}
	}

	return nil
}

// MetadataHandle guards a Metadata descriptor so it is destroyed exactly once.
type MetadataHandle struct {
	adapter  *Adapter
	md       Metadata
	released bool
}

func (h *MetadataHandle) TempSize() (uint64, error) {
	n, st := h.adapter.engine.DecompressTempSize(h.md)

	return n, h.adapter.check(CallDecompressTempSize, st)
}

func (h *MetadataHandle) OutputSize() (uint64, error) {
	n, st := h.adapter.engine.DecompressOutputSize(h.md)

	return n, h.adapter.check(CallDecompressOutputSize, st)
}

// Release destroys the descriptor. Later calls are no-ops.
func (h *MetadataHandle) Release() {
	if h.released {
		return
	}

	h.released = true
	h.adapter.engine.DestroyMetadata(h.md)
	h.adapter.logger.Debug("codec metadata released")
}

// Released reports whether Release has run.
func (h *MetadataHandle) Released() bool {
	return h.released
}
