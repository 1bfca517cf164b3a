package compress_test

import (
	"bytes"
	"testing"

	"github.com/keshon/packstore/internal/compress"
)

func roundTrip(t *testing.T, c compress.Codec, data []byte) {
	t.Helper()

	packed := c.Compress(data)
	out, err := c.Decompress(packed)
	if err != nil {
		t.Fatalf("%s decompress: %v", c.Name(), err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("%s round trip changed %d bytes into %d bytes", c.Name(), len(data), len(out))
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("x"),
		[]byte("the quick brown fox jumps over the lazy dog"),
		bytes.Repeat([]byte("abcd"), 10000),
	}

	for _, name := range []string{"zstd", "gzip", "none"} {
		c, err := compress.ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Fatalf("codec name = %q, want %q", c.Name(), name)
		}
		for _, in := range inputs {
			roundTrip(t, c, in)
		}
	}
}

func TestByNameRejectsUnknown(t *testing.T) {
	if _, err := compress.ByName("lz77"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	garbage := []byte("definitely not a compressed stream")
	for _, name := range []string{"zstd", "gzip"} {
		c, err := compress.ByName(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Decompress(garbage); err == nil {
			t.Fatalf("%s accepted garbage input", name)
		}
	}
}

func TestDefaultIsZstd(t *testing.T) {
	if compress.Default().Name() != compress.DefaultName {
		t.Fatalf("default codec = %q, want %q", compress.Default().Name(), compress.DefaultName)
	}
}
