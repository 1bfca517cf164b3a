// Package compress provides the payload codecs used inside data packs.
// Every entry payload in a pack goes through one codec; the store pins the
// codec per directory so packs stay readable.
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// DefaultName is the codec used when a store directory does not pin one.
const DefaultName = "zstd"

// Codec compresses and decompresses entry payloads. Implementations are safe
// for concurrent use.
type Codec interface {
	Name() string
	Compress(src []byte) []byte
	Decompress(src []byte) ([]byte, error)
}

// ByName returns the codec registered under name: "zstd", "gzip" or "none".
func ByName(name string) (Codec, error) {
	switch name {
	case "zstd":
		return newZstd()
	case "gzip":
		return gzipCodec{}, nil
	case "none":
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Default returns the zstd codec.
func Default() Codec {
	c, err := newZstd()
	if err != nil {
		// NewWriter/NewReader only fail on bad options; none are passed.
		panic(err)
	}
	return c
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Compress(src []byte) []byte {
	return c.enc.EncodeAll(src, nil)
}

func (c *zstdCodec) Decompress(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(src []byte) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(src) // writes to a bytes.Buffer cannot fail
	gz.Close()
	return buf.Bytes()
}

func (gzipCodec) Decompress(src []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Compress(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func (noneCodec) Decompress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}
