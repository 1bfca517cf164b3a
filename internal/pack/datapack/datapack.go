// Package datapack reads and writes content packs. A data pack is an
// immutable pair of files named by the sha1 of the pack blob:
//
//	<id>.datapack  version byte, then one envelope per entry:
//	               u16 namelen | name | node | deltabase | u64 len | payload
//	<id>.dataidx   fanout table plus one 40-byte row per entry:
//	               node | i32 deltabase location | u64 offset | u64 size
//
// The payload is the delta (or fulltext) compressed by the store's codec.
// The deltabase location points at the base's index row when the base lives
// in the same pack; fulltexts and bases stored elsewhere use markers.
package datapack

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/index"
)

const (
	// RowSize is the width of one data index row.
	RowSize = pack.NodeSize + 4 + 8 + 8

	// FulltextMark in a row's deltabase location says the entry is a
	// fulltext. MissingBaseMark says the base node is not in this pack.
	FulltextMark    = int32(-1)
	MissingBaseMark = int32(-2)

	maxNameLen = math.MaxUint16

	entryFixedLen = 2 + pack.NodeSize*2 + 8 // envelope minus name and payload
)

// Writer accumulates entries into a temporary file and publishes the
// finished pack pair on Close. An abandoned writer leaves nothing visible.
type Writer struct {
	fsys    fs.FS
	dir     string
	codec   compress.Codec
	tmp     io.WriteCloser
	tmpPath string
	sum     hash.Hash
	offset  int64
	rows    []rowInfo
	byNode  map[pack.Node]int
	closed  bool
}

type rowInfo struct {
	node      pack.Node
	deltaBase pack.Node
	offset    int64
	size      int64
}

// NewWriter opens a temporary pack file in dir. The pack becomes visible
// only when Close renames it to its content-derived name.
func NewWriter(fsys fs.FS, dir string, codec compress.Codec) (*Writer, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pack dir %q: %w", dir, err)
	}
	tmp, tmpPath, err := fsys.CreateTempFile(dir, config.TempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temp pack in %q: %w", dir, err)
	}

	w := &Writer{
		fsys:    fsys,
		dir:     dir,
		codec:   codec,
		tmp:     tmp,
		tmpPath: tmpPath,
		sum:     sha1.New(),
		byNode:  make(map[pack.Node]int),
	}
	if err := w.write([]byte{pack.Version}); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// Add appends one entry. data is the delta against deltaBase, or the
// fulltext when deltaBase is the null node; it is compressed here. Adding a
// node the writer has already seen is a no-op.
func (w *Writer) Add(name string, node, deltaBase pack.Node, data []byte) error {
	if w.closed {
		return fmt.Errorf("add %q@%s: %w", name, node, pack.ErrWriterClosed)
	}
	if node.IsNull() {
		return fmt.Errorf("add %q: refusing to store the null node", name)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("add %q@%s: name of %d bytes exceeds %d", name, node, len(name), maxNameLen)
	}
	if _, ok := w.byNode[node]; ok {
		return nil
	}

	payload := w.codec.Compress(data)

	header := make([]byte, 0, 2+len(name)+entryFixedLen-2)
	header = binary.BigEndian.AppendUint16(header, uint16(len(name)))
	header = append(header, name...)
	header = append(header, node[:]...)
	header = append(header, deltaBase[:]...)
	header = binary.BigEndian.AppendUint64(header, uint64(len(payload)))

	start := w.offset
	if err := w.write(header); err != nil {
		return err
	}
	if err := w.write(payload); err != nil {
		return err
	}

	w.byNode[node] = len(w.rows)
	w.rows = append(w.rows, rowInfo{
		node:      node,
		deltaBase: deltaBase,
		offset:    start,
		size:      w.offset - start,
	})
	return nil
}

// Entries returns the number of entries added so far.
func (w *Writer) Entries() int {
	return len(w.rows)
}

// Close publishes the pack and returns its id. The index file is renamed
// into place before the blob, so a visible blob always has its index. A
// writer with no entries publishes nothing and returns an empty id.
func (w *Writer) Close() (string, error) {
	if w.closed {
		return "", fmt.Errorf("close data pack: %w", pack.ErrWriterClosed)
	}
	w.closed = true

	if len(w.rows) == 0 {
		err := w.tmp.Close()
		return "", multierr.Append(err, w.fsys.Remove(w.tmpPath))
	}

	if err := w.tmp.Close(); err != nil {
		w.fsys.Remove(w.tmpPath)
		return "", fmt.Errorf("close temp pack %q: %w", w.tmpPath, err)
	}

	id := hex.EncodeToString(w.sum.Sum(nil))
	if err := w.writeIndex(id); err != nil {
		w.fsys.Remove(w.tmpPath)
		return "", err
	}

	target := filepath.Join(w.dir, id+config.DataPackSuffix)
	if err := w.fsys.Rename(w.tmpPath, target); err != nil {
		w.fsys.Remove(filepath.Join(w.dir, id+config.DataIndexSuffix))
		w.fsys.Remove(w.tmpPath)
		return "", fmt.Errorf("publish pack %q: %w", target, err)
	}
	return id, nil
}

// Abort discards the writer and its temporary file.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return multierr.Append(w.tmp.Close(), w.fsys.Remove(w.tmpPath))
}

// writeIndex builds the sorted row table and publishes <id>.dataidx.
func (w *Writer) writeIndex(id string) error {
	order := make([]int, len(w.rows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return bytes.Compare(w.rows[order[a]].node[:], w.rows[order[b]].node[:]) < 0
	})

	if last := index.RowOffset(len(order)-1, RowSize); last > math.MaxInt32 {
		return fmt.Errorf("pack of %d entries overflows deltabase locations", len(order))
	}

	rowOffset := make(map[pack.Node]int32, len(order))
	for i, ri := range order {
		rowOffset[w.rows[ri].node] = int32(index.RowOffset(i, RowSize))
	}

	idxRows := make([]index.Row, len(order))
	for i, ri := range order {
		r := w.rows[ri]

		loc := FulltextMark
		if !r.deltaBase.IsNull() {
			if at, ok := rowOffset[r.deltaBase]; ok {
				loc = at
			} else {
				loc = MissingBaseMark
			}
		}

		rest := make([]byte, 0, RowSize-index.KeySize)
		rest = binary.BigEndian.AppendUint32(rest, uint32(loc))
		rest = binary.BigEndian.AppendUint64(rest, uint64(r.offset))
		rest = binary.BigEndian.AppendUint64(rest, uint64(r.size))
		idxRows[i] = index.Row{Key: r.node, Rest: rest}
	}

	tmp, tmpPath, err := w.fsys.CreateTempFile(w.dir, config.TempPattern)
	if err != nil {
		return fmt.Errorf("create temp index in %q: %w", w.dir, err)
	}

	bw := bufio.NewWriter(tmp)
	if err := index.Write(bw, RowSize, idxRows); err != nil {
		tmp.Close()
		w.fsys.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		w.fsys.Remove(tmpPath)
		return fmt.Errorf("flush temp index %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		w.fsys.Remove(tmpPath)
		return fmt.Errorf("close temp index %q: %w", tmpPath, err)
	}

	target := filepath.Join(w.dir, id+config.DataIndexSuffix)
	if err := w.fsys.Rename(tmpPath, target); err != nil {
		w.fsys.Remove(tmpPath)
		return fmt.Errorf("publish index %q: %w", target, err)
	}
	return nil
}

// write pushes bytes to the temp file and folds them into the pack hash.
func (w *Writer) write(p []byte) error {
	if _, err := w.tmp.Write(p); err != nil {
		return fmt.Errorf("write temp pack %q: %w", w.tmpPath, err)
	}
	w.sum.Write(p)
	w.offset += int64(len(p))
	return nil
}
