// Package delta implements the binary delta format stored in data pack
// entries. A delta is a sequence of splice fragments applied to a base text:
//
//	u32 start | u32 end | u32 dlen | dlen bytes of replacement data
//
// Fragments are big-endian, ordered by start and non-overlapping. Applying
// replaces base[start:end] with the fragment data. An empty delta reproduces
// the base unchanged.
package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const fragmentHeaderSize = 12

// Diff produces a delta that turns base into target. The result is a single
// fragment covering the differing span, found by trimming the common prefix
// and suffix. Equal inputs produce an empty delta.
func Diff(base, target []byte) []byte {
	if bytes.Equal(base, target) {
		return nil
	}

	prefix := commonPrefix(base, target)
	suffix := commonSuffix(base[prefix:], target[prefix:])

	start := prefix
	end := len(base) - suffix
	data := target[prefix : len(target)-suffix]

	out := make([]byte, fragmentHeaderSize+len(data))
	binary.BigEndian.PutUint32(out[0:4], uint32(start))
	binary.BigEndian.PutUint32(out[4:8], uint32(end))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(data)))
	copy(out[fragmentHeaderSize:], data)
	return out
}

// Apply replaces the spans named by the delta's fragments inside base and
// returns the patched text. It fails on truncated fragments, fragments out
// of order, or spans outside the base.
func Apply(base, delta []byte) ([]byte, error) {
	if len(delta) == 0 {
		out := make([]byte, len(base))
		copy(out, base)
		return out, nil
	}

	var out []byte
	last := 0
	for off := 0; off < len(delta); {
		if len(delta)-off < fragmentHeaderSize {
			return nil, fmt.Errorf("delta fragment header truncated at byte %d", off)
		}
		start := int(binary.BigEndian.Uint32(delta[off : off+4]))
		end := int(binary.BigEndian.Uint32(delta[off+4 : off+8]))
		dlen := int(binary.BigEndian.Uint32(delta[off+8 : off+12]))
		off += fragmentHeaderSize

		if len(delta)-off < dlen {
			return nil, fmt.Errorf("delta fragment data truncated: want %d bytes, have %d", dlen, len(delta)-off)
		}
		if start > end || end > len(base) {
			return nil, fmt.Errorf("delta fragment [%d:%d] outside base of %d bytes", start, end, len(base))
		}
		if start < last {
			return nil, fmt.Errorf("delta fragment [%d:%d] overlaps previous fragment", start, end)
		}

		out = append(out, base[last:start]...)
		out = append(out, delta[off:off+dlen]...)
		last = end
		off += dlen
	}
	out = append(out, base[last:]...)
	return out, nil
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func commonSuffix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[len(a)-1-i] != b[len(b)-1-i] {
			return i
		}
	}
	return n
}
