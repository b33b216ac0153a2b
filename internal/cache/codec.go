package cache

import (
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Codec names the compression applied to a processed payload. The name is
// stored in the record so a reader never guesses.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec parses a codec name from configuration.
func ParseCodec(name string) (Codec, error) {
	switch c := Codec(name); c {
	case CodecNone, CodecZstd, CodecLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression codec: %q", name)
	}
}

// MaxPayloadSize bounds the uncompressed size a processed header may
// claim. Larger claims are treated as corruption.
const MaxPayloadSize = 256 << 20

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one of
// each is shared by every tier.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns data compressed with c and the codec actually used.
// LZ4 falls back to CodecNone for input it cannot shrink.
func compress(data []byte, c Codec) ([]byte, Codec, error) {
	switch c {
	case CodecNone:
		return data, CodecNone, nil

	case CodecZstd:
		return zstdEncoder.EncodeAll(data, nil), CodecZstd, nil

	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return data, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil

	default:
		return nil, "", fmt.Errorf("unsupported codec: %q", c)
	}
}

// decompress reverses compress. size is the uncompressed length recorded
// at write time and is verified.
func decompress(data []byte, c Codec, size int) ([]byte, error) {
	if size < 0 || size > MaxPayloadSize {
		return nil, fmt.Errorf("%s decompress: size %d out of range", c, size)
	}

	var out []byte
	switch c {
	case CodecNone:
		out = data

	case CodecZstd:
		var err error
		out, err = zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}

	case CodecLZ4:
		out = make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		out = out[:n]

	default:
		return nil, fmt.Errorf("unsupported codec: %q", c)
	}

	if len(out) != size {
		return nil, fmt.Errorf("%s decompress: got %d bytes, expected %d", c, len(out), size)
	}
	return out, nil
}

// checksum returns the hex BLAKE3 digest of data.
func checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
