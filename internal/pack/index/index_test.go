package index_test

import (
	"bytes"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/index"
)

const testRowSize = index.KeySize + 8

func testKey(prefix uint16, serial uint32) [index.KeySize]byte {
	var k [index.KeySize]byte
	binary.BigEndian.PutUint16(k[0:2], prefix)
	binary.BigEndian.PutUint32(k[2:6], serial)
	return k
}

func testRow(prefix uint16, serial uint32) index.Row {
	rest := make([]byte, 8)
	binary.BigEndian.PutUint64(rest, uint64(serial)*3+1)
	return index.Row{Key: testKey(prefix, serial), Rest: rest}
}

func sortRows(rows []index.Row) {
	sort.Slice(rows, func(i, j int) bool {
		return bytes.Compare(rows[i].Key[:], rows[j].Key[:]) < 0
	})
}

// openIndex writes rows through the codec and opens the result back.
func openIndex(t *testing.T, rows []index.Row) *index.Index {
	t.Helper()

	var buf bytes.Buffer
	if err := index.Write(&buf, testRowSize, rows); err != nil {
		t.Fatalf("Write: %v", err)
	}

	m := fs.NewMemoryFS()
	m.MkdirAll("packs", 0o755)
	if err := m.WriteFile("packs/test.idx", buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := m.OpenFile("packs/test.idx")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })

	ix, err := index.Open(f, "packs/test.idx", testRowSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return ix
}

func TestFindAcrossBuckets(t *testing.T) {
	var rows []index.Row
	// Spread keys over several buckets, clustering many into one bucket so
	// lookups have to bisect past the boundary fast paths.
	for i := uint32(0); i < 100; i++ {
		rows = append(rows, testRow(0xabcd, i*2))
	}
	rows = append(rows, testRow(0x0000, 7))
	rows = append(rows, testRow(0x1234, 1))
	rows = append(rows, testRow(0xffff, 9))
	sortRows(rows)

	ix := openIndex(t, rows)
	if ix.Rows() != len(rows) {
		t.Fatalf("Rows = %d, want %d", ix.Rows(), len(rows))
	}

	for _, r := range rows {
		off, ok, err := ix.Find(r.Key)
		if err != nil {
			t.Fatalf("Find(%x): %v", r.Key, err)
		}
		if !ok {
			t.Fatalf("Find(%x) missed a present key", r.Key)
		}
		row, err := ix.RowAt(off)
		if err != nil {
			t.Fatalf("RowAt(%d): %v", off, err)
		}
		if !bytes.Equal(row[:index.KeySize], r.Key[:]) {
			t.Fatalf("RowAt(%d) returned key %x, want %x", off, row[:index.KeySize], r.Key)
		}
		if !bytes.Equal(row[index.KeySize:], r.Rest) {
			t.Fatalf("RowAt(%d) returned payload %x, want %x", off, row[index.KeySize:], r.Rest)
		}
	}
}

func TestFindAbsentKeys(t *testing.T) {
	var rows []index.Row
	for i := uint32(0); i < 50; i++ {
		rows = append(rows, testRow(0xabcd, i*2))
	}
	sortRows(rows)
	ix := openIndex(t, rows)

	absent := [][index.KeySize]byte{
		testKey(0xabcd, 1),   // between two present keys
		testKey(0xabcd, 999), // past the bucket's last key
		testKey(0x0000, 0),   // bucket before any rows
		testKey(0x5555, 3),   // empty bucket between filled regions
		testKey(0xffff, 1),   // bucket after all rows
	}
	for _, k := range absent {
		if _, ok, err := ix.Find(k); err != nil {
			t.Fatalf("Find(%x): %v", k, err)
		} else if ok {
			t.Fatalf("Find(%x) hit an absent key", k)
		}
	}
}

func TestFindSingleRow(t *testing.T) {
	rows := []index.Row{testRow(0x8080, 5)}
	ix := openIndex(t, rows)

	off, ok, err := ix.Find(rows[0].Key)
	if err != nil || !ok {
		t.Fatalf("Find = (%v, %v)", ok, err)
	}
	if off != index.RowOffset(0, testRowSize) {
		t.Fatalf("offset = %d, want %d", off, index.RowOffset(0, testRowSize))
	}

	if _, ok, _ := ix.Find(testKey(0x8080, 6)); ok {
		t.Fatal("hit an absent key in a one-row bucket")
	}
}

func TestFindEmptyIndex(t *testing.T) {
	ix := openIndex(t, nil)
	if ix.Rows() != 0 {
		t.Fatalf("Rows = %d, want 0", ix.Rows())
	}
	if _, ok, err := ix.Find(testKey(0x1111, 1)); err != nil || ok {
		t.Fatalf("Find on empty index = (%v, %v)", ok, err)
	}
}

func TestWriteRejectsUnsortedRows(t *testing.T) {
	rows := []index.Row{testRow(0x2222, 5), testRow(0x1111, 5)}
	var buf bytes.Buffer
	if err := index.Write(&buf, testRowSize, rows); err == nil {
		t.Fatal("expected error for unsorted rows")
	}

	// Duplicate keys are rejected too.
	rows = []index.Row{testRow(0x1111, 5), testRow(0x1111, 5)}
	buf.Reset()
	if err := index.Write(&buf, testRowSize, rows); err == nil {
		t.Fatal("expected error for duplicate keys")
	}
}

func TestWriteRejectsBadPayloadWidth(t *testing.T) {
	rows := []index.Row{{Key: testKey(1, 1), Rest: []byte{1, 2, 3}}}
	var buf bytes.Buffer
	if err := index.Write(&buf, testRowSize, rows); err == nil {
		t.Fatal("expected error for wrong payload width")
	}
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	var good bytes.Buffer
	if err := index.Write(&good, testRowSize, []index.Row{testRow(0x4242, 1)}); err != nil {
		t.Fatal(err)
	}

	corrupt := func(name string, data []byte) {
		t.Helper()
		m := fs.NewMemoryFS()
		m.MkdirAll("packs", 0o755)
		m.WriteFile("packs/bad.idx", data, 0o644)
		f, err := m.OpenFile("packs/bad.idx")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		_, err = index.Open(f, "packs/bad.idx", testRowSize)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !pack.IsCorrupt(err) {
			t.Fatalf("%s: error is not a CorruptError: %v", name, err)
		}
	}

	corrupt("truncated fanout", good.Bytes()[:100])
	corrupt("ragged row region", good.Bytes()[:good.Len()-3])

	// Decreasing fanout slot.
	data := append([]byte(nil), good.Bytes()...)
	binary.BigEndian.PutUint32(data[0:4], uint32(testRowSize))
	corrupt("decreasing fanout", data)

	// Fanout slot pointing past the row region.
	data = append([]byte(nil), good.Bytes()...)
	binary.BigEndian.PutUint32(data[4*0xffff:], uint32(testRowSize)*100)
	corrupt("fanout past region", data)
}

func TestRowAtRejectsOffGridOffsets(t *testing.T) {
	ix := openIndex(t, []index.Row{testRow(0x4242, 1), testRow(0x4242, 2)})

	for _, off := range []int64{0, index.FanoutSize + 1, index.RowOffset(5, testRowSize)} {
		if _, err := ix.RowAt(off); !pack.IsCorrupt(err) {
			t.Fatalf("RowAt(%d): expected CorruptError, got %v", off, err)
		}
	}
}

func TestRowOffset(t *testing.T) {
	for i := 0; i < 4; i++ {
		want := int64(index.FanoutSize + i*testRowSize)
		if got := index.RowOffset(i, testRowSize); got != want {
			t.Fatalf("RowOffset(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestFanoutForwardFill(t *testing.T) {
	// Two buckets with a gap between them: the raw fanout bytes for the gap
	// must repeat the previous bucket's offset.
	rows := []index.Row{testRow(0x0100, 1), testRow(0x0300, 1)}
	var buf bytes.Buffer
	if err := index.Write(&buf, testRowSize, rows); err != nil {
		t.Fatal(err)
	}

	slot := func(b int) uint32 {
		return binary.BigEndian.Uint32(buf.Bytes()[b*4:])
	}
	if slot(0x0100) != 0 {
		t.Fatalf("slot 0x0100 = %d, want 0", slot(0x0100))
	}
	for b := 0x0101; b < 0x0300; b++ {
		if slot(b) != 0 {
			t.Fatalf("empty slot %#04x = %d, want forward-filled 0", b, slot(b))
		}
	}
	if want := uint32(testRowSize); slot(0x0300) != want {
		t.Fatalf("slot 0x0300 = %d, want %d", slot(0x0300), want)
	}
	if slot(0xffff) != uint32(testRowSize) {
		t.Fatalf("trailing slot = %d, want %d", slot(0xffff), testRowSize)
	}
}

func TestManyBucketsStress(t *testing.T) {
	var rows []index.Row
	for p := 0; p < 64; p++ {
		for s := 0; s < 3; s++ {
			rows = append(rows, testRow(uint16(p*1021), uint32(s)))
		}
	}
	sortRows(rows)

	ix := openIndex(t, rows)
	for i, r := range rows {
		off, ok, err := ix.Find(r.Key)
		if err != nil || !ok {
			t.Fatalf("row %d: Find = (%v, %v)", i, ok, err)
		}
		if off != ix.RowOffsetAt(i) {
			t.Fatalf("row %d: offset %d, want %d", i, off, ix.RowOffsetAt(i))
		}
	}
}
