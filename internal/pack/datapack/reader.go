package datapack

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/index"
)

// Delta is one link of a delta chain. Data is decompressed; it holds the
// fulltext when DeltaBase is the null node, otherwise the delta against it.
type Delta struct {
	Name      string
	Node      pack.Node
	DeltaBase pack.Node
	Data      []byte
}

// Entry describes one envelope during a sequential pack walk.
type Entry struct {
	Name       string
	Node       pack.Node
	DeltaBase  pack.Node
	Offset     int64
	Size       int64
	PayloadLen int64
}

// Reader serves lookups from one published pack pair. The two files are
// opened once (memory-mapped on the OS filesystem) and shared by every call.
type Reader struct {
	fsys     fs.FS
	id       string
	blobPath string
	blob     fs.File
	idxFile  fs.File
	idx      *index.Index
	codec    compress.Codec
}

// Open maps the pack pair named id inside dir. It refuses packs whose
// version byte or index structure it does not understand.
func Open(fsys fs.FS, dir, id string, codec compress.Codec) (*Reader, error) {
	blobPath := filepath.Join(dir, id+config.DataPackSuffix)
	idxPath := filepath.Join(dir, id+config.DataIndexSuffix)

	blob, err := fsys.OpenFile(blobPath)
	if err != nil {
		return nil, fmt.Errorf("open pack %q: %w", blobPath, err)
	}
	if blob.Len() < 1 {
		blob.Close()
		return nil, pack.Corruptf(blobPath, "pack file is empty")
	}
	var version [1]byte
	if _, err := blob.ReadAt(version[:], 0); err != nil {
		blob.Close()
		return nil, fmt.Errorf("read pack version of %q: %w", blobPath, err)
	}
	if version[0] != pack.Version {
		blob.Close()
		return nil, pack.Corruptf(blobPath, "unsupported pack version %d", version[0])
	}

	idxFile, err := fsys.OpenFile(idxPath)
	if err != nil {
		blob.Close()
		return nil, fmt.Errorf("open pack index %q: %w", idxPath, err)
	}
	idx, err := index.Open(idxFile, idxPath, RowSize)
	if err != nil {
		blob.Close()
		idxFile.Close()
		return nil, err
	}

	return &Reader{
		fsys:     fsys,
		id:       id,
		blobPath: blobPath,
		blob:     blob,
		idxFile:  idxFile,
		idx:      idx,
		codec:    codec,
	}, nil
}

// Close unmaps both files.
func (r *Reader) Close() error {
	return multierr.Append(r.blob.Close(), r.idxFile.Close())
}

// ID returns the pack's content hash name.
func (r *Reader) ID() string {
	return r.id
}

// Entries returns the number of entries in the pack.
func (r *Reader) Entries() int {
	return r.idx.Rows()
}

// BlobSize returns the pack blob size in bytes.
func (r *Reader) BlobSize() int64 {
	return int64(r.blob.Len())
}

// IndexSize returns the index file size in bytes.
func (r *Reader) IndexSize() int64 {
	return int64(r.idxFile.Len())
}

// Has reports whether the pack stores node.
func (r *Reader) Has(node pack.Node) (bool, error) {
	_, ok, err := r.idx.Find(node)
	return ok, err
}

// GetDelta returns the single entry for the key.
func (r *Reader) GetDelta(name string, node pack.Node) (*Delta, error) {
	rowOff, ok, err := r.idx.Find(node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pack.NotFound(name, node)
	}
	d, _, err := r.deltaAt(rowOff)
	if err != nil {
		return nil, err
	}
	if d.Name != name {
		return nil, pack.NotFound(name, node)
	}
	return d, nil
}

// GetDeltaChain returns the chain starting at the key and following
// deltabase links while they stay inside this pack. The last returned link
// either is a fulltext (null base) or names a base stored in another pack.
func (r *Reader) GetDeltaChain(name string, node pack.Node) ([]*Delta, error) {
	rowOff, ok, err := r.idx.Find(node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pack.NotFound(name, node)
	}

	var chain []*Delta
	for {
		if len(chain) >= r.idx.Rows() {
			return nil, pack.Corruptf(r.blobPath, "delta chain from %s longer than the index", node)
		}
		d, baseLoc, err := r.deltaAt(rowOff)
		if err != nil {
			return nil, err
		}
		if len(chain) == 0 && d.Name != name {
			return nil, pack.NotFound(name, node)
		}
		chain = append(chain, d)

		switch baseLoc {
		case FulltextMark, MissingBaseMark:
			return chain, nil
		default:
			rowOff = int64(baseLoc)
		}
	}
}

// GetMissing filters keys down to those whose node this pack does not store.
func (r *Reader) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	var missing []pack.Key
	for _, k := range keys {
		_, ok, err := r.idx.Find(k.Node)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// Iterate walks the blob sequentially and calls fn for every envelope
// without decompressing payloads.
func (r *Reader) Iterate(fn func(Entry) error) error {
	end := int64(r.blob.Len())
	off := int64(1)
	for off < end {
		e, err := r.entryAt(off)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		off += e.Size
	}
	return nil
}

// Verify checks the whole pack: the blob hash against the file name, every
// envelope against its index row, every payload against the codec, and
// every delta chain for termination.
func (r *Reader) Verify() error {
	if err := r.verifyHash(); err != nil {
		return err
	}

	seen := 0
	err := r.Iterate(func(e Entry) error {
		seen++
		rowOff, ok, err := r.idx.Find(e.Node)
		if err != nil {
			return err
		}
		if !ok {
			return pack.Corruptf(r.blobPath, "entry %s at %d missing from the index", e.Node, e.Offset)
		}
		_, _, rowEntryOff, rowSize, err := r.rowAt(rowOff)
		if err != nil {
			return err
		}
		if rowEntryOff != e.Offset || rowSize != e.Size {
			return pack.Corruptf(r.idx.Path(), "row for %s frames %d+%d, blob has %d+%d",
				e.Node, rowEntryOff, rowSize, e.Offset, e.Size)
		}
		if _, _, err := r.deltaAt(rowOff); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if seen != r.idx.Rows() {
		return pack.Corruptf(r.blobPath, "blob has %d entries, index has %d rows", seen, r.idx.Rows())
	}

	// Every chain has to reach a fulltext or leave the pack.
	for i := 0; i < r.idx.Rows(); i++ {
		rowOff := r.idx.RowOffsetAt(i)
		for steps := 0; ; steps++ {
			if steps > r.idx.Rows() {
				return pack.Corruptf(r.idx.Path(), "delta chain at row %d does not terminate", i)
			}
			_, baseLoc, _, _, err := r.rowAt(rowOff)
			if err != nil {
				return err
			}
			if baseLoc == FulltextMark || baseLoc == MissingBaseMark {
				break
			}
			rowOff = int64(baseLoc)
		}
	}
	return nil
}

// verifyHash recomputes the blob's sha1 and compares it to the pack id.
func (r *Reader) verifyHash() error {
	sum := sha1.New()
	buf := make([]byte, 64*1024)
	size := int64(r.blob.Len())
	for off := int64(0); off < size; {
		n := int64(len(buf))
		if size-off < n {
			n = size - off
		}
		if _, err := r.blob.ReadAt(buf[:n], off); err != nil {
			return fmt.Errorf("read pack %q at %d: %w", r.blobPath, off, err)
		}
		sum.Write(buf[:n])
		off += n
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != r.id {
		return pack.Corruptf(r.blobPath, "content hash %s does not match the pack name", got)
	}
	return nil
}

// rowAt decodes the index row at the absolute offset rowOff.
func (r *Reader) rowAt(rowOff int64) (node pack.Node, baseLoc int32, off, size int64, err error) {
	row, err := r.idx.RowAt(rowOff)
	if err != nil {
		return pack.Node{}, 0, 0, 0, err
	}
	copy(node[:], row[:pack.NodeSize])
	baseLoc = int32(binary.BigEndian.Uint32(row[pack.NodeSize:]))
	off = int64(binary.BigEndian.Uint64(row[pack.NodeSize+4:]))
	size = int64(binary.BigEndian.Uint64(row[pack.NodeSize+12:]))

	if baseLoc < 0 && baseLoc != FulltextMark && baseLoc != MissingBaseMark {
		return pack.Node{}, 0, 0, 0, pack.Corruptf(r.idx.Path(), "row for %s has deltabase marker %d", node, baseLoc)
	}
	return node, baseLoc, off, size, nil
}

// deltaAt reads and decompresses the entry framed by the row at rowOff.
func (r *Reader) deltaAt(rowOff int64) (*Delta, int32, error) {
	node, baseLoc, off, size, err := r.rowAt(rowOff)
	if err != nil {
		return nil, 0, err
	}

	e, err := r.entryAt(off)
	if err != nil {
		return nil, 0, err
	}
	if e.Size != size || e.Node != node {
		return nil, 0, pack.Corruptf(r.blobPath, "entry at %d does not match its index row for %s", off, node)
	}

	payload := make([]byte, e.PayloadLen)
	if _, err := r.blob.ReadAt(payload, off+e.Size-e.PayloadLen); err != nil {
		return nil, 0, fmt.Errorf("read entry payload of %q at %d: %w", r.blobPath, off, err)
	}
	data, err := r.codec.Decompress(payload)
	if err != nil {
		return nil, 0, pack.Corruptf(r.blobPath, "entry %s payload: %v", node, err)
	}

	return &Delta{Name: e.Name, Node: e.Node, DeltaBase: e.DeltaBase, Data: data}, baseLoc, nil
}

// entryAt parses the envelope header at the blob offset off.
func (r *Reader) entryAt(off int64) (Entry, error) {
	end := int64(r.blob.Len())
	if off+2 > end {
		return Entry{}, pack.Corruptf(r.blobPath, "entry header at %d is truncated", off)
	}
	var lenBuf [2]byte
	if _, err := r.blob.ReadAt(lenBuf[:], off); err != nil {
		return Entry{}, fmt.Errorf("read entry header of %q at %d: %w", r.blobPath, off, err)
	}
	nameLen := int64(binary.BigEndian.Uint16(lenBuf[:]))

	rest := make([]byte, nameLen+pack.NodeSize*2+8)
	if off+2+int64(len(rest)) > end {
		return Entry{}, pack.Corruptf(r.blobPath, "entry at %d is truncated", off)
	}
	if _, err := r.blob.ReadAt(rest, off+2); err != nil {
		return Entry{}, fmt.Errorf("read entry header of %q at %d: %w", r.blobPath, off, err)
	}

	e := Entry{Name: string(rest[:nameLen]), Offset: off}
	copy(e.Node[:], rest[nameLen:nameLen+pack.NodeSize])
	copy(e.DeltaBase[:], rest[nameLen+pack.NodeSize:nameLen+pack.NodeSize*2])
	e.PayloadLen = int64(binary.BigEndian.Uint64(rest[nameLen+pack.NodeSize*2:]))
	e.Size = 2 + nameLen + pack.NodeSize*2 + 8 + e.PayloadLen

	if e.PayloadLen < 0 || off+e.Size > end {
		return Entry{}, pack.Corruptf(r.blobPath, "entry at %d overruns the pack end", off)
	}
	return e, nil
}
