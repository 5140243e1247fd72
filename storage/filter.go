package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Filter compresses and decompresses array chunk payloads.
// Implementations must be safe for concurrent use.
//
// Arrays record the filter name in their descriptor, so chunks are always
// decoded with the filter they were written with regardless of the context
// configuration at open time.
type Filter interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// FilterByName returns a built-in filter by its stable name.
func FilterByName(name string) (Filter, error) {
	switch name {
	case "none":
		return NoFilter{}, nil
	case "zstd":
		return NewZstdFilter()
	case "lz4":
		return LZ4Filter{}, nil
	default:
		return nil, fmt.Errorf("storage: unknown compression filter %q", name)
	}
}

// NoFilter passes data through unchanged.
type NoFilter struct{}

// Name returns "none".
func (NoFilter) Name() string { return "none" }

// Encode returns src unchanged.
func (NoFilter) Encode(src []byte) ([]byte, error) { return src, nil }

// Decode returns src unchanged.
func (NoFilter) Decode(src []byte) ([]byte, error) { return src, nil }

// ZstdFilter compresses chunks with zstd. It reuses a single encoder and
// decoder pair; both are safe for concurrent EncodeAll/DecodeAll use.
type ZstdFilter struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdFilter creates a ZstdFilter at the default compression level.
func NewZstdFilter() (*ZstdFilter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &ZstdFilter{enc: enc, dec: dec}, nil
}

// Name returns "zstd".
func (f *ZstdFilter) Name() string { return "zstd" }

// Encode compresses src.
func (f *ZstdFilter) Encode(src []byte) ([]byte, error) {
	return f.enc.EncodeAll(src, nil), nil
}

// Decode decompresses src.
func (f *ZstdFilter) Decode(src []byte) ([]byte, error) {
	return f.dec.DecodeAll(src, nil)
}

// LZ4Filter compresses chunks with the lz4 frame format.
type LZ4Filter struct{}

// Name returns "lz4".
func (LZ4Filter) Name() string { return "lz4" }

// Encode compresses src.
func (LZ4Filter) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses src.
func (LZ4Filter) Decode(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}
