package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression applied to each payload block.
type Codec uint8

const (
	// CodecRaw stores block data as written by the acquisition hardware.
	CodecRaw Codec = 0
	// CodecLZ4 stores every block as an LZ4 frame.
	CodecLZ4 Codec = 1
	// CodecZstd stores every block as a zstd frame.
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// Valid reports whether c is a codec this package can decode.
func (c Codec) Valid() bool { return c <= CodecZstd }

// ParseCodec accepts the names produced by Codec.String.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "raw", "none":
		return CodecRaw, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	}
	return 0, fmt.Errorf("unknown payload codec %q", s)
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

// frameHeaderSize covers [raw size uint32][stored size uint32].
// A stored size of 0 means the block did not compress and is kept raw.
const frameHeaderSize = 8

var errFrame = errors.New("corrupt block frame")

// encodeFrame compresses data into a frame for c.
func encodeFrame(c Codec, data []byte) ([]byte, error) {
	var packed []byte
	switch c {
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to compress block: %w", err)
		}
		packed = dst[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("codec %s has no frames", c)
	}

	out := make([]byte, frameHeaderSize, frameHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	if len(packed) == 0 || len(packed) >= len(data) {
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	return append(out, packed...), nil
}

// frameSizes reads a frame header and returns the raw size and the number of
// bytes stored after the header.
func frameSizes(hdr []byte) (raw, stored int) {
	raw = int(binary.LittleEndian.Uint32(hdr[0:]))
	stored = int(binary.LittleEndian.Uint32(hdr[4:]))
	if stored == 0 {
		return raw, raw
	}
	return raw, stored
}

// decodeFrame expands the stored bytes of one frame.
func decodeFrame(c Codec, hdr, body []byte) ([]byte, error) {
	raw := int(binary.LittleEndian.Uint32(hdr[0:]))
	if binary.LittleEndian.Uint32(hdr[4:]) == 0 {
		if len(body) != raw {
			return nil, errFrame
		}
		return body, nil
	}

	out := make([]byte, raw)
	switch c {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errFrame, err)
		}
		if n != raw {
			return nil, errFrame
		}
		return out, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errFrame, err)
		}
		if len(decoded) != raw {
			return nil, errFrame
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("codec %s has no frames", c)
}
