package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/mhr3/streamvbyte"

	"github.com/weiihann/cascadebench/dataset"
	"github.com/weiihann/cascadebench/device"
)

const (
	hostMagic     = 0xCB
	hostBitPack   = 1 << 2
	hostHeaderMax = 2 + binary.MaxVarintLen64
)

// HostEngine is a software stand-in for the GPU engine, operating on host
// device buffers. It does not run the cascaded passes itself: the option set
// is validated and the data goes through streamvbyte (when bit-packing is
// enabled) and a snappy block. The compressed layout is
//
//	magic(1) | flags(1) | uvarint(element count) | snappy payload
//
// where flags holds the width code in bits 0-1 and the bit-pack flag in bit 2.
type HostEngine struct {
	live int
}

// NewHostEngine creates a HostEngine.
func NewHostEngine() *HostEngine {
	return &HostEngine{}
}

type hostMetadata struct {
	typ      dataset.Type
	bitPack  bool
	count    uint64
	offset   int
	stageLen int
	freed    bool
}

// LiveMetadata returns the number of descriptors not yet destroyed.
func (e *HostEngine) LiveMetadata() int {
	return e.live
}

func (e *HostEngine) CompressTempSize(in device.Buffer, typ dataset.Type, opts Options) (uint64, Status) {
	count, st := validateInput(in, typ, opts)
	if st != StatusSuccess {
		return 0, st
	}

	if !opts.BitPacking {
		return 0, StatusSuccess
	}

	return uint64(streamvbyte.MaxEncodedLen(wordCount(typ, count))), StatusSuccess
}

func (e *HostEngine) CompressOutputSize(in device.Buffer, typ dataset.Type, opts Options, temp device.Buffer) (uint64, Status) {
	tempBytes, st := e.CompressTempSize(in, typ, opts)
	if st != StatusSuccess {
		return 0, st
	}

	if temp == nil || temp.Len() < tempBytes {
		return 0, StatusInvalidValue
	}

	stage := in.Len()
	if opts.BitPacking {
		stage = tempBytes
	}

	bound := snappy.MaxEncodedLen(int(stage))
	if bound < 0 {
		return 0, StatusNotSupported
	}

	return uint64(hostHeaderMax + bound), StatusSuccess
}

func (e *HostEngine) CompressAsync(in device.Buffer, typ dataset.Type, opts Options, temp, out device.Buffer, outBytes *uint64, stream device.Stream) Status {
	count, st := validateInput(in, typ, opts)
	if st != StatusSuccess {
		return st
	}

	src, ok := hostBytes(in)
	if !ok || outBytes == nil || stream == nil {
		return StatusInvalidValue
	}

	dst, ok := hostBytes(out)
	if !ok {
		return StatusInvalidValue
	}

	var scratch []byte
	if opts.BitPacking {
		if scratch, ok = hostBytes(temp); !ok {
			return StatusInvalidValue
		}
	}

	stream.OnComplete(func() error {
		stage := src
		if opts.BitPacking {
			stage = streamvbyte.EncodeUint32(toWords(typ, src), &streamvbyte.EncodeOptions[uint32]{
				Buffer: scratch,
			})
		}

		if len(dst) < hostHeaderMax+snappy.MaxEncodedLen(len(stage)) {
			return fmt.Errorf("compress: %w", errOutputTooSmall)
		}

		flags := typeCode(typ)
		if opts.BitPacking {
			flags |= hostBitPack
		}

		dst[0] = hostMagic
		dst[1] = flags
		n := 2 + binary.PutUvarint(dst[2:], count)
		n += copy(dst[n:], snappy.Encode(dst[n:], stage))

		*outBytes = uint64(n)

		return nil
	})

	return StatusSuccess
}

func (e *HostEngine) DecompressMetadata(in device.Buffer, inBytes uint64, _ device.Stream) (Metadata, Status) {
	src, ok := hostBytes(in)
	if !ok || inBytes > uint64(len(src)) {
		return nil, StatusInvalidValue
	}

	src = src[:inBytes]
	if len(src) < 3 || src[0] != hostMagic {
		return nil, StatusCorruptInput
	}

	typ, ok := codeType(src[1] &^ hostBitPack)
	if !ok {
		return nil, StatusCorruptInput
	}

	count, n := binary.Uvarint(src[2:])
	if n <= 0 {
		return nil, StatusCorruptInput
	}

	offset := 2 + n

	stageLen, err := snappy.DecodedLen(src[offset:])
	if err != nil {
		return nil, StatusCorruptInput
	}

	e.live++

	return &hostMetadata{
		typ:      typ,
		bitPack:  src[1]&hostBitPack != 0,
		count:    count,
		offset:   offset,
		stageLen: stageLen,
	}, StatusSuccess
}

func (e *HostEngine) DecompressTempSize(md Metadata) (uint64, Status) {
	m, ok := md.(*hostMetadata)
	if !ok || m.freed {
		return 0, StatusInvalidValue
	}

	if !m.bitPack {
		return 0, StatusSuccess
	}

	return uint64(m.stageLen), StatusSuccess
}

func (e *HostEngine) DecompressOutputSize(md Metadata) (uint64, Status) {
	m, ok := md.(*hostMetadata)
	if !ok || m.freed {
		return 0, StatusInvalidValue
	}

	return m.count * uint64(m.typ.Width()), StatusSuccess
}

func (e *HostEngine) DecompressAsync(in device.Buffer, inBytes uint64, temp device.Buffer, md Metadata, out device.Buffer, stream device.Stream) Status {
	m, ok := md.(*hostMetadata)
	if !ok || m.freed || stream == nil {
		return StatusInvalidValue
	}

	src, ok := hostBytes(in)
	if !ok || inBytes > uint64(len(src)) {
		return StatusInvalidValue
	}

	dst, ok := hostBytes(out)
	if !ok {
		return StatusInvalidValue
	}

	want := m.count * uint64(m.typ.Width())
	if uint64(len(dst)) < want {
		return StatusOutputTooSmall
	}

	var scratch []byte
	if m.bitPack {
		if scratch, ok = hostBytes(temp); !ok || len(scratch) < m.stageLen {
			return StatusInvalidValue
		}
	}

	payload := src[m.offset:inBytes]
	dst = dst[:want]

	stream.OnComplete(func() error {
		if !m.bitPack {
			raw, err := snappy.Decode(dst, payload)
			if err != nil {
				return fmt.Errorf("decompress: %w", err)
			}

			if len(raw) != len(dst) {
				return fmt.Errorf("decompress: %w: %d bytes, want %d", errCorrupt, len(raw), len(dst))
			}

			copy(dst, raw)

			return nil
		}

		stage, err := snappy.Decode(scratch, payload)
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}

		words := streamvbyte.DecodeUint32(stage, wordCount(m.typ, m.count), nil)
		fromWords(m.typ, words, dst)

		return nil
	})

	return StatusSuccess
}

func (e *HostEngine) DestroyMetadata(md Metadata) {
	if m, ok := md.(*hostMetadata); ok && !m.freed {
		m.freed = true
		e.live--
	}
}

var (
	errOutputTooSmall = errors.New("output buffer too small")
	errCorrupt        = errors.New("corrupt compressed data")
)

func validateInput(in device.Buffer, typ dataset.Type, opts Options) (uint64, Status) {
	width := typ.Width()
	if width == 0 || opts.RLEs < 0 || opts.Deltas < 0 {
		return 0, StatusInvalidValue
	}

	if in == nil || in.Len()%uint64(width) != 0 {
		return 0, StatusInvalidValue
	}

	return in.Len() / uint64(width), StatusSuccess
}

func hostBytes(b device.Buffer) ([]byte, bool) {
	hb, ok := b.(*device.HostBuffer)
	if !ok {
		return nil, false
	}

	return hb.Bytes(), true
}

func typeCode(typ dataset.Type) byte {
	switch typ {
	case dataset.Short:
		return 1
	case dataset.Int:
		return 2
	case dataset.Long:
		return 3
	default:
		return 0
	}
}

func codeType(code byte) (dataset.Type, bool) {
	types := dataset.KnownTypes()
	if int(code) >= len(types) {
		return "", false
	}

	return types[code], true
}

// wordCount returns how many 32-bit words count elements of typ occupy once
// widened; 64-bit elements are split into low and high words.
func wordCount(typ dataset.Type, count uint64) int {
	if typ.Width() == 8 {
		return int(2 * count)
	}

	return int(count)
}

func toWords(typ dataset.Type, src []byte) []uint32 {
	width := typ.Width()
	n := len(src) / width
	words := make([]uint32, wordCount(typ, uint64(n)))

	for i := 0; i < n; i++ {
		b := src[i*width:]

		switch width {
		case 1:
			words[i] = uint32(int32(int8(b[0])))
		case 2:
			words[i] = uint32(int32(int16(binary.NativeEndian.Uint16(b))))
		case 4:
			words[i] = binary.NativeEndian.Uint32(b)
		case 8:
			v := binary.NativeEndian.Uint64(b)
			words[2*i] = uint32(v)
			words[2*i+1] = uint32(v >> 32)
		}
	}

	return words
}

func fromWords(typ dataset.Type, words []uint32, dst []byte) {
	width := typ.Width()

	for i := 0; i < len(dst)/width; i++ {
		b := dst[i*width:]

		switch width {
		case 1:
			b[0] = byte(words[i])
		case 2:
			binary.NativeEndian.PutUint16(b, uint16(words[i]))
		case 4:
			binary.NativeEndian.PutUint32(b, words[i])
		case 8:
			binary.NativeEndian.PutUint64(b, uint64(words[2*i])|uint64(words[2*i+1])<<32)
		}
	}
}
