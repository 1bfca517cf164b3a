// Package index implements the lookup table file that sits next to every
// pack blob. An index file is a fanout table followed by fixed-width rows
// sorted by their 20-byte key:
//
//	fanout: 65536 big-endian u32 slots, one per 2-byte key prefix
//	rows:   key (20 bytes) | payload (rowSize-20 bytes), ascending by key
//
// A fanout slot holds the byte offset, relative to the start of the row
// region, of the first row whose key carries that prefix. Empty buckets
// repeat the previous slot's value, so the table is monotonically
// non-decreasing and any slot can bound a bucket scan.
//
// The row payload layout is owned by the pack flavor (data or history);
// this package only moves fixed-width rows in and out.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
)

const (
	// KeySize is the width of a row key.
	KeySize = 20

	// fanout geometry: one slot per 2-byte key prefix
	FanoutPrefix = 2
	FanoutCount  = 1 << (8 * FanoutPrefix)
	FanoutSize   = FanoutCount * 4
)

// Row is one index row ready for writing. Rest holds the payload bytes that
// follow the key; its width plus KeySize must equal the row size.
type Row struct {
	Key  [KeySize]byte
	Rest []byte
}

// RowOffset returns the absolute file offset of row i for the given row
// width. Writers use it to compute row positions before the file exists.
func RowOffset(i, rowSize int) int64 {
	return FanoutSize + int64(i)*int64(rowSize)
}

// Write serializes the fanout table and rows to w. Rows must be sorted by
// key in strictly ascending order.
func Write(w io.Writer, rowSize int, rows []Row) error {
	if rowSize <= KeySize {
		return fmt.Errorf("index row size %d too small for a %d-byte key", rowSize, KeySize)
	}
	regionLen := int64(len(rows)) * int64(rowSize)
	if regionLen > math.MaxUint32 {
		return fmt.Errorf("index row region of %d bytes overflows fanout offsets", regionLen)
	}

	firstRow := make([]int64, FanoutCount)
	for i := range firstRow {
		firstRow[i] = -1
	}
	for i, r := range rows {
		if len(r.Rest) != rowSize-KeySize {
			return fmt.Errorf("index row %d: payload is %d bytes, want %d", i, len(r.Rest), rowSize-KeySize)
		}
		if i > 0 && bytes.Compare(rows[i-1].Key[:], r.Key[:]) >= 0 {
			return fmt.Errorf("index rows not in strictly ascending key order at row %d", i)
		}
		b := bucket(r.Key)
		if firstRow[b] < 0 {
			firstRow[b] = int64(i)
		}
	}

	fanout := make([]byte, FanoutSize)
	var cur uint32
	for b := 0; b < FanoutCount; b++ {
		if firstRow[b] >= 0 {
			cur = uint32(firstRow[b] * int64(rowSize))
		}
		binary.BigEndian.PutUint32(fanout[b*4:], cur)
	}
	if _, err := w.Write(fanout); err != nil {
		return fmt.Errorf("write fanout table: %w", err)
	}

	for i := range rows {
		if _, err := w.Write(rows[i].Key[:]); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
		if _, err := w.Write(rows[i].Rest); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return nil
}

// Index is an open index file. The fanout table is held in memory; row
// probes go to the underlying file, so one Index serves any number of
// sequential lookups.
type Index struct {
	src     fs.File
	path    string
	rowSize int
	fanout  []uint32
	rows    int
}

// Open reads and validates the fanout table of an index file. The caller
// keeps ownership of src's lifetime through Close.
func Open(src fs.File, path string, rowSize int) (*Index, error) {
	size := int64(src.Len())
	if size < FanoutSize {
		return nil, pack.Corruptf(path, "index is %d bytes, smaller than the %d-byte fanout table", size, FanoutSize)
	}
	regionLen := size - FanoutSize
	if regionLen%int64(rowSize) != 0 {
		return nil, pack.Corruptf(path, "row region of %d bytes is not a multiple of the %d-byte row size", regionLen, rowSize)
	}

	raw := make([]byte, FanoutSize)
	if _, err := src.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("read fanout table of %q: %w", path, err)
	}

	fanout := make([]uint32, FanoutCount)
	var prev uint32
	for b := range fanout {
		v := binary.BigEndian.Uint32(raw[b*4:])
		if v < prev {
			return nil, pack.Corruptf(path, "fanout slot %#04x decreases from %d to %d", b, prev, v)
		}
		if int64(v) > regionLen || v%uint32(rowSize) != 0 {
			return nil, pack.Corruptf(path, "fanout slot %#04x points at byte %d outside the row grid", b, v)
		}
		fanout[b] = v
		prev = v
	}

	return &Index{
		src:     src,
		path:    path,
		rowSize: rowSize,
		fanout:  fanout,
		rows:    int(regionLen / int64(rowSize)),
	}, nil
}

// Rows returns the number of rows in the index.
func (ix *Index) Rows() int {
	return ix.rows
}

// Path returns the file path the index was opened from.
func (ix *Index) Path() string {
	return ix.path
}

// RowSize returns the fixed row width in bytes.
func (ix *Index) RowSize() int {
	return ix.rowSize
}

// Find locates the row for key and returns its absolute file offset. The
// second result is false when the key is absent.
func (ix *Index) Find(key [KeySize]byte) (int64, bool, error) {
	b := bucket(key)
	start := int64(ix.fanout[b])
	end := int64(ix.rows) * int64(ix.rowSize)
	for j := b + 1; j < FanoutCount; j++ {
		if ix.fanout[j] != ix.fanout[b] {
			end = int64(ix.fanout[j])
			break
		}
	}

	count := (end - start) / int64(ix.rowSize)
	if count <= 0 {
		return 0, false, nil
	}

	// First and last rows of the bucket are the common cases for small
	// buckets, so probe them before bisecting the interior.
	cmpFirst, err := ix.compareKeyAt(start, key)
	if err != nil {
		return 0, false, err
	}
	if cmpFirst == 0 {
		return FanoutSize + start, true, nil
	}
	if cmpFirst > 0 || count == 1 {
		return 0, false, nil
	}

	last := start + (count-1)*int64(ix.rowSize)
	cmpLast, err := ix.compareKeyAt(last, key)
	if err != nil {
		return 0, false, err
	}
	if cmpLast == 0 {
		return FanoutSize + last, true, nil
	}
	if cmpLast < 0 {
		return 0, false, nil
	}

	// Bisect strictly between the probed boundary rows.
	lo, hi := int64(1), count-1
	for lo < hi {
		mid := lo + (hi-lo)/2
		off := start + mid*int64(ix.rowSize)
		cmp, err := ix.compareKeyAt(off, key)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cmp == 0:
			return FanoutSize + off, true, nil
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false, nil
}

// RowAt reads the full row at the absolute file offset off. Offsets that do
// not land on the row grid report corruption, since they can only come from
// a damaged file.
func (ix *Index) RowAt(off int64) ([]byte, error) {
	if off < FanoutSize || off+int64(ix.rowSize) > int64(ix.src.Len()) || (off-FanoutSize)%int64(ix.rowSize) != 0 {
		return nil, pack.Corruptf(ix.path, "row offset %d is off the row grid", off)
	}
	row := make([]byte, ix.rowSize)
	if _, err := ix.src.ReadAt(row, off); err != nil {
		return nil, fmt.Errorf("read index row of %q at %d: %w", ix.path, off, err)
	}
	return row, nil
}

// RowOffsetAt returns the absolute file offset of row i.
func (ix *Index) RowOffsetAt(i int) int64 {
	return RowOffset(i, ix.rowSize)
}

// compareKeyAt compares the row key at the region-relative offset off
// against key. The result follows bytes.Compare(rowKey, key).
func (ix *Index) compareKeyAt(off int64, key [KeySize]byte) (int, error) {
	var rowKey [KeySize]byte
	if _, err := ix.src.ReadAt(rowKey[:], FanoutSize+off); err != nil {
		return 0, fmt.Errorf("read index key of %q at %d: %w", ix.path, off, err)
	}
	return bytes.Compare(rowKey[:], key[:]), nil
}

func bucket(key [KeySize]byte) int {
	return int(key[0])<<8 | int(key[1])
}
