package distribution

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/zsiec/marquee/internal/media"
)

// CompressionTag identifies how a preview payload is compressed. The values
// are part of the preview wire format.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

// String returns the configuration name of the tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a tag from its configuration name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// errIncompressible means compression would not shrink the payload; the
// frame is then sent uncompressed.
var errIncompressible = errors.New("data is incompressible")

// PreviewFrame is the CBOR envelope sent to preview viewers, one per distinct
// frame shown on the display.
type PreviewFrame struct {
	Seq         uint64         `cbor:"1,keyasint"`
	Width       int            `cbor:"2,keyasint"`
	Height      int            `cbor:"3,keyasint"`
	Compression CompressionTag `cbor:"4,keyasint"`
	Hash        []byte         `cbor:"5,keyasint"`
	Data        []byte         `cbor:"6,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("distribution: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("distribution: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("distribution: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("distribution: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodePreview wraps a frame in a PreviewFrame envelope. The payload falls
// back to CompressionNone when tag would not make it smaller.
func EncodePreview(frame *media.Frame, seq uint64, hash [32]byte, tag CompressionTag) ([]byte, error) {
	data, err := compress(frame.Pix, tag)
	if errors.Is(err, errIncompressible) {
		data, tag = frame.Pix, CompressionNone
	} else if err != nil {
		return nil, err
	}
	return encMode.Marshal(PreviewFrame{
		Seq:         seq,
		Width:       frame.Width,
		Height:      frame.Height,
		Compression: tag,
		Hash:        hash[:],
		Data:        data,
	})
}

// DecodePreview is the inverse of EncodePreview. It verifies the BLAKE3 hash
// of the decompressed payload.
func DecodePreview(msg []byte) (*media.Frame, uint64, error) {
	var p PreviewFrame
	if err := decMode.Unmarshal(msg, &p); err != nil {
		return nil, 0, fmt.Errorf("distribution: decode preview: %w", err)
	}
	g := media.Geometry{Width: p.Width, Height: p.Height}
	if err := g.Validate(); err != nil {
		return nil, 0, fmt.Errorf("distribution: decode preview: %w", err)
	}
	raw, err := decompress(p.Data, p.Compression, g.FrameSize())
	if err != nil {
		return nil, 0, err
	}
	if sum := blake3.Sum256(raw); string(sum[:]) != string(p.Hash) {
		return nil, 0, errors.New("distribution: preview hash mismatch")
	}
	frame, err := media.FromRaw(g, raw)
	if err != nil {
		return nil, 0, err
	}
	return frame, p.Seq, nil
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(data []byte, tag CompressionTag, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed preview: size %d does not match expected %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
