package histpack

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/index"
)

// NodeInfo is the ancestry of one revision.
type NodeInfo struct {
	P1       pack.Node
	P2       pack.Node
	Linknode pack.Node
	CopyFrom string
}

// Reader serves ancestry lookups from one published history pack pair.
type Reader struct {
	fsys     fs.FS
	id       string
	blobPath string
	blob     fs.File
	idxFile  fs.File
	idx      *index.Index
}

// Open maps the history pack pair named id inside dir.
func Open(fsys fs.FS, dir, id string) (*Reader, error) {
	blobPath := filepath.Join(dir, id+config.HistPackSuffix)
	idxPath := filepath.Join(dir, id+config.HistIndexSuffix)

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

// Names returns the number of per-name sections in the pack.
func (r *Reader) Names() int {
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

// GetNodeInfo returns the ancestry row for the key.
func (r *Reader) GetNodeInfo(name string, node pack.Node) (*NodeInfo, error) {
	entries, err := r.Section(name)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Node == node {
			return &NodeInfo{
				P1:       entries[i].P1,
				P2:       entries[i].P2,
				Linknode: entries[i].Linknode,
				CopyFrom: entries[i].CopyFrom,
			}, nil
		}
	}
	return nil, pack.NotFound(name, node)
}

// Section returns all ancestry rows stored for name, newest first.
func (r *Reader) Section(name string) ([]Entry, error) {
	rowOff, ok, err := r.idx.Find(hashName(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history of %q: %w", name, pack.ErrNotFound)
	}

	row, err := r.idx.RowAt(rowOff)
	if err != nil {
		return nil, err
	}
	off := int64(binary.BigEndian.Uint64(row[pack.NodeSize:]))
	size := int64(binary.BigEndian.Uint64(row[pack.NodeSize+8:]))

	gotName, entries, err := r.sectionAt(off, size)
	if err != nil {
		return nil, err
	}
	if gotName != name {
		// The index matched on the name hash, so a different stored name
		// means the pack is damaged.
		return nil, pack.Corruptf(r.blobPath, "section at %d holds %q, index says %q", off, gotName, name)
	}
	return entries, nil
}

// GetMissing filters keys down to those without an ancestry row here.
func (r *Reader) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	byName := make(map[string]map[pack.Node]bool)
	var missing []pack.Key

	for _, k := range keys {
		nodes, ok := byName[k.Name]
		if !ok {
			entries, err := r.Section(k.Name)
			if err != nil && !errors.Is(err, pack.ErrNotFound) {
				return nil, err
			}
			nodes = make(map[pack.Node]bool, len(entries))
			for i := range entries {
				nodes[entries[i].Node] = true
			}
			byName[k.Name] = nodes
		}
		if !nodes[k.Node] {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// Iterate walks every section in blob order and calls fn per row.
func (r *Reader) Iterate(fn func(name string, e Entry) error) error {
	end := int64(r.blob.Len())
	off := int64(1)
	for off < end {
		name, entries, size, err := r.sectionHeaderAt(off, end-off)
		if err != nil {
			return err
		}
		for i := range entries {
			if err := fn(name, entries[i]); err != nil {
				return err
			}
		}
		off += size
	}
	return nil
}

// Verify checks the blob hash against the pack name, walks every section,
// and cross-checks each against its index row.
func (r *Reader) Verify() error {
	if err := r.verifyHash(); err != nil {
		return err
	}

	end := int64(r.blob.Len())
	off := int64(1)
	sections := 0
	for off < end {
		name, _, size, err := r.sectionHeaderAt(off, end-off)
		if err != nil {
			return err
		}
		sections++

		rowOff, ok, err := r.idx.Find(hashName(name))
		if err != nil {
			return err
		}
		if !ok {
			return pack.Corruptf(r.blobPath, "section %q at %d missing from the index", name, off)
		}
		row, err := r.idx.RowAt(rowOff)
		if err != nil {
			return err
		}
		rowSectionOff := int64(binary.BigEndian.Uint64(row[pack.NodeSize:]))
		rowSectionSize := int64(binary.BigEndian.Uint64(row[pack.NodeSize+8:]))
		if rowSectionOff != off || rowSectionSize != size {
			return pack.Corruptf(r.idx.Path(), "row for %q frames %d+%d, blob has %d+%d",
				name, rowSectionOff, rowSectionSize, off, size)
		}
		off += size
	}
	if sections != r.idx.Rows() {
		return pack.Corruptf(r.blobPath, "blob has %d sections, index has %d rows", sections, r.idx.Rows())
	}
	return nil
}

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

// sectionAt reads exactly size bytes at off and parses them as one section.
func (r *Reader) sectionAt(off, size int64) (string, []Entry, error) {
	if off < 1 || size < 6 || off+size > int64(r.blob.Len()) {
		return "", nil, pack.Corruptf(r.blobPath, "section frame %d+%d is out of bounds", off, size)
	}
	name, entries, parsed, err := r.sectionHeaderAt(off, size)
	if err != nil {
		return "", nil, err
	}
	if parsed != size {
		return "", nil, pack.Corruptf(r.blobPath, "section %q at %d spans %d bytes, index says %d", name, off, parsed, size)
	}
	return name, entries, nil
}

// sectionHeaderAt parses the section starting at off, reading no more than
// limit bytes. It returns the name, the rows, and the section's byte span.
func (r *Reader) sectionHeaderAt(off, limit int64) (string, []Entry, int64, error) {
	read := func(n, at int64) ([]byte, error) {
		if at+n > off+limit {
			return nil, pack.Corruptf(r.blobPath, "section at %d is truncated", off)
		}
		buf := make([]byte, n)
		if _, err := r.blob.ReadAt(buf, at); err != nil {
			return nil, fmt.Errorf("read section of %q at %d: %w", r.blobPath, at, err)
		}
		return buf, nil
	}

	head, err := read(2, off)
	if err != nil {
		return "", nil, 0, err
	}
	nameLen := int64(binary.BigEndian.Uint16(head))

	rest, err := read(nameLen+4, off+2)
	if err != nil {
		return "", nil, 0, err
	}
	name := string(rest[:nameLen])
	revCount := int64(binary.BigEndian.Uint32(rest[nameLen:]))

	pos := off + 2 + nameLen + 4
	entries := make([]Entry, 0, revCount)
	for i := int64(0); i < revCount; i++ {
		fixed, err := read(rowFixedLen, pos)
		if err != nil {
			return "", nil, 0, err
		}
		var e Entry
		copy(e.Node[:], fixed[0:])
		copy(e.P1[:], fixed[pack.NodeSize:])
		copy(e.P2[:], fixed[pack.NodeSize*2:])
		copy(e.Linknode[:], fixed[pack.NodeSize*3:])
		copyLen := int64(binary.BigEndian.Uint16(fixed[pack.NodeSize*4:]))
		pos += rowFixedLen

		if copyLen > 0 {
			copyFrom, err := read(copyLen, pos)
			if err != nil {
				return "", nil, 0, err
			}
			e.CopyFrom = string(copyFrom)
			pos += copyLen
		}
		entries = append(entries, e)
	}
	return name, entries, pos - off, nil
}
