// Package histpack reads and writes history packs. A history pack is an
// immutable pair of files named by the sha1 of the pack blob:
//
//	<id>.histpack  version byte, then one section per name:
//	               u16 namelen | name | u32 revcount | revcount rows
//	               row: node | p1 | p2 | linknode | u16 copyfromlen | copyfrom
//	<id>.histidx   fanout table plus one 36-byte row per section:
//	               sha1(name) | u64 section offset | u64 section size
//
// Rows inside a section keep the writer's insertion order; writers add the
// newest revision first. The index keys sections by the hash of the name,
// so lookups never scan foreign sections.
package histpack

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/index"
	"github.com/keshon/packstore/internal/util"
)

const (
	// RowSize is the width of one history index row.
	RowSize = pack.NodeSize + 8 + 8

	maxNameLen = math.MaxUint16

	rowFixedLen = pack.NodeSize*4 + 2 // history row minus the copyfrom text
)

// Entry is one ancestry row: a node, its parents, the link to the upstream
// commit, and the path it was copied from when this revision is a rename.
type Entry struct {
	Node     pack.Node
	P1       pack.Node
	P2       pack.Node
	Linknode pack.Node
	CopyFrom string
}

// Writer buffers ancestry rows per name and publishes the finished pack
// pair on Close.
type Writer struct {
	fsys     fs.FS
	dir      string
	names    map[string][]Entry
	seen     map[pack.Key]struct{}
	closed   bool
	rowCount int
}

// NewWriter prepares a history pack targeting dir. Rows are buffered in
// memory; nothing touches the filesystem until Close.
func NewWriter(fsys fs.FS, dir string) *Writer {
	return &Writer{
		fsys:  fsys,
		dir:   dir,
		names: make(map[string][]Entry),
		seen:  make(map[pack.Key]struct{}),
	}
}

// Add appends one ancestry row for name. Callers add the newest revision of
// a name first. Re-adding a (name, node) pair is a no-op.
func (w *Writer) Add(name string, node, p1, p2, linknode pack.Node, copyFrom string) error {
	if w.closed {
		return fmt.Errorf("add history %q@%s: %w", name, node, pack.ErrWriterClosed)
	}
	if node.IsNull() {
		return fmt.Errorf("add history %q: refusing to store the null node", name)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("add history %q@%s: name of %d bytes exceeds %d", name, node, len(name), maxNameLen)
	}
	if len(copyFrom) > maxNameLen {
		return fmt.Errorf("add history %q@%s: copyfrom of %d bytes exceeds %d", name, node, len(copyFrom), maxNameLen)
	}

	key := pack.Key{Name: name, Node: node}
	if _, ok := w.seen[key]; ok {
		return nil
	}
	w.seen[key] = struct{}{}

	w.names[name] = append(w.names[name], Entry{
		Node:     node,
		P1:       p1,
		P2:       p2,
		Linknode: linknode,
		CopyFrom: copyFrom,
	})
	w.rowCount++
	return nil
}

// Entries returns the number of rows added so far.
func (w *Writer) Entries() int {
	return w.rowCount
}

// Close publishes the pack and returns its id. Sections are laid out in
// name order, so identical content always produces an identical pack. A
// writer with no rows publishes nothing and returns an empty id.
func (w *Writer) Close() (string, error) {
	if w.closed {
		return "", fmt.Errorf("close history pack: %w", pack.ErrWriterClosed)
	}
	w.closed = true

	if len(w.names) == 0 {
		return "", nil
	}

	if err := w.fsys.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create pack dir %q: %w", w.dir, err)
	}
	tmp, tmpPath, err := w.fsys.CreateTempFile(w.dir, config.TempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp pack in %q: %w", w.dir, err)
	}

	sum := sha1.New()
	bw := bufio.NewWriter(tmp)
	out := io.MultiWriter(bw, sum)

	fail := func(err error) (string, error) {
		tmp.Close()
		w.fsys.Remove(tmpPath)
		return "", err
	}

	if _, err := out.Write([]byte{pack.Version}); err != nil {
		return fail(fmt.Errorf("write temp pack %q: %w", tmpPath, err))
	}
	offset := int64(1)

	idxRows := make([]index.Row, 0, len(w.names))
	for _, name := range util.SortedKeys(w.names) {
		section := encodeSection(name, w.names[name])
		if _, err := out.Write(section); err != nil {
			return fail(fmt.Errorf("write temp pack %q: %w", tmpPath, err))
		}

		rest := make([]byte, 0, RowSize-index.KeySize)
		rest = binary.BigEndian.AppendUint64(rest, uint64(offset))
		rest = binary.BigEndian.AppendUint64(rest, uint64(len(section)))
		idxRows = append(idxRows, index.Row{Key: hashName(name), Rest: rest})
		offset += int64(len(section))
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("flush temp pack %q: %w", tmpPath, err))
	}
	if err := tmp.Close(); err != nil {
		w.fsys.Remove(tmpPath)
		return "", fmt.Errorf("close temp pack %q: %w", tmpPath, err)
	}

	sort.Slice(idxRows, func(a, b int) bool {
		return bytes.Compare(idxRows[a].Key[:], idxRows[b].Key[:]) < 0
	})

	id := hex.EncodeToString(sum.Sum(nil))
	if err := w.writeIndex(id, idxRows); err != nil {
		w.fsys.Remove(tmpPath)
		return "", err
	}

	target := filepath.Join(w.dir, id+config.HistPackSuffix)
	if err := w.fsys.Rename(tmpPath, target); err != nil {
		w.fsys.Remove(filepath.Join(w.dir, id+config.HistIndexSuffix))
		w.fsys.Remove(tmpPath)
		return "", fmt.Errorf("publish pack %q: %w", target, err)
	}
	return id, nil
}

// Abort discards the buffered rows.
func (w *Writer) Abort() error {
	w.closed = true
	return nil
}

func (w *Writer) writeIndex(id string, idxRows []index.Row) error {
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

	target := filepath.Join(w.dir, id+config.HistIndexSuffix)
	if err := w.fsys.Rename(tmpPath, target); err != nil {
		w.fsys.Remove(tmpPath)
		return fmt.Errorf("publish index %q: %w", target, err)
	}
	return nil
}

// encodeSection serializes one name's header and rows.
func encodeSection(name string, entries []Entry) []byte {
	size := 2 + len(name) + 4
	for _, e := range entries {
		size += rowFixedLen + len(e.CopyFrom)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.Node[:]...)
		buf = append(buf, e.P1[:]...)
		buf = append(buf, e.P2[:]...)
		buf = append(buf, e.Linknode[:]...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.CopyFrom)))
		buf = append(buf, e.CopyFrom...)
	}
	return buf
}

func hashName(name string) [pack.NodeSize]byte {
	return sha1.Sum([]byte(name))
}
