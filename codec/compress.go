package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the per-column block codec.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionS2
)

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

func compressBlock(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return src, nil
	case CompressionZstd:
		return zstdEncoder().EncodeAll(src, nil), nil
	case CompressionS2:
		return s2.Encode(nil, src), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

func decompressBlock(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return src, nil
	case CompressionZstd:
		return zstdDecoder().DecodeAll(src, nil)
	case CompressionS2:
		return s2.Decode(nil, src)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}
