package delta_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/keshon/packstore/internal/delta"
)

func diffApply(t *testing.T, base, target []byte) []byte {
	t.Helper()

	d := delta.Diff(base, target)
	out, err := delta.Apply(base, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(out, target) {
		t.Fatalf("Apply(base, Diff(base, target)) = %q, want %q", out, target)
	}
	return d
}

func TestDiffApplyRoundTrip(t *testing.T) {
	cases := []struct{ base, target string }{
		{"", ""},
		{"", "new content"},
		{"old content", ""},
		{"hello world", "hello brave world"},
		{"hello world", "hello"},
		{"aaaa", "aaaa"},
		{"prefix middle suffix", "prefix changed suffix"},
		{"abc", "xyz"},
	}
	for _, c := range cases {
		diffApply(t, []byte(c.base), []byte(c.target))
	}
}

func TestDiffEqualInputsIsEmpty(t *testing.T) {
	d := delta.Diff([]byte("same"), []byte("same"))
	if len(d) != 0 {
		t.Fatalf("Diff of equal inputs = %d bytes, want 0", len(d))
	}
}

func TestDiffTrimsCommonAffixes(t *testing.T) {
	base := []byte("0123456789")
	target := []byte("0123XX6789")

	d := diffApply(t, base, target)

	// One fragment, spanning only the changed middle.
	start := binary.BigEndian.Uint32(d[0:4])
	end := binary.BigEndian.Uint32(d[4:8])
	dlen := binary.BigEndian.Uint32(d[8:12])
	if start != 4 || end != 6 || dlen != 2 {
		t.Fatalf("fragment = [%d:%d] len %d, want [4:6] len 2", start, end, dlen)
	}
}

func TestApplyEmptyDeltaCopiesBase(t *testing.T) {
	base := []byte("unchanged")
	out, err := delta.Apply(base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, base) {
		t.Fatalf("Apply(base, nil) = %q", out)
	}
	// The copy must not alias the base.
	out[0] = 'X'
	if base[0] == 'X' {
		t.Fatal("Apply returned a slice aliasing the base")
	}
}

func TestApplyMultipleFragments(t *testing.T) {
	base := []byte("aaa bbb ccc")

	var d []byte
	frag := func(start, end uint32, data string) {
		var hdr [12]byte
		binary.BigEndian.PutUint32(hdr[0:4], start)
		binary.BigEndian.PutUint32(hdr[4:8], end)
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(data)))
		d = append(d, hdr[:]...)
		d = append(d, data...)
	}
	frag(0, 3, "AAA")
	frag(8, 11, "CCCC")

	out, err := delta.Apply(base, d)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "AAA bbb CCCC" {
		t.Fatalf("out = %q", out)
	}
}

func TestApplyRejectsCorruptDeltas(t *testing.T) {
	base := []byte("0123456789")

	frag := func(start, end, dlen uint32, data string) []byte {
		var hdr [12]byte
		binary.BigEndian.PutUint32(hdr[0:4], start)
		binary.BigEndian.PutUint32(hdr[4:8], end)
		binary.BigEndian.PutUint32(hdr[8:12], dlen)
		return append(hdr[:], data...)
	}

	cases := map[string][]byte{
		"truncated header":    {0, 0, 0},
		"truncated data":      frag(0, 1, 100, "short"),
		"span past base end":  frag(5, 99, 1, "x"),
		"inverted span":       frag(6, 2, 1, "x"),
		"overlapping splices": append(frag(0, 5, 1, "x"), frag(2, 6, 1, "y")...),
	}
	for name, d := range cases {
		if _, err := delta.Apply(base, d); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
