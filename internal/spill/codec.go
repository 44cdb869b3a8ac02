package spill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a frame. Codecs are stored
// in frame headers (1 byte each); changing the values breaks chunks
// written by an older binary, which only matters within a single run.
type Codec uint8

const (
	// CodecNone stores frames uncompressed. Also used for any frame the
	// chosen codec could not shrink.
	CodecNone Codec = 0
	// CodecLZ4 is LZ4 block compression: cheap, modest ratio.
	CodecLZ4 Codec = 1
	// CodecZstd is zstd at the default level: better ratio on text-heavy
	// records at a higher CPU cost.
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name. The empty string selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd", "":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown spill codec %q", name)
	}
}

// errIncompressible reports that compression did not shrink the frame; the
// writer then stores it raw.
var errIncompressible = errors.New("data is incompressible")

// compress returns the packed payload and the codec actually used.
func compress(data []byte, c Codec) ([]byte, Codec, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CodecNone:
		return data, CodecNone, nil
	case CodecLZ4:
		out, err = compressLZ4(data)
	case CodecZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported codec %d", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CodecNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, c, nil
}

// decompress reverses compress; rawSize must match the original length.
func decompress(packed []byte, c Codec, rawSize int) ([]byte, error) {
	switch c {
	case CodecNone:
		if len(packed) != rawSize {
			return nil, fmt.Errorf("raw frame: size %d does not match expected %d", len(packed), rawSize)
		}
		return packed, nil
	case CodecLZ4:
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(packed, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawSize)
		}
		return dst, nil
	case CodecZstd:
		out, err := zstdDecoder.DecodeAll(packed, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported codec %d", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll/DecodeAll, so one of each serves every spill goroutine.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("spill: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("spill: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
