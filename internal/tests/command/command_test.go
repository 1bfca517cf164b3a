package command_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/delta"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
	"github.com/keshon/packstore/internal/pack/store"

	_ "github.com/keshon/packstore/internal/command/ancestry"
	_ "github.com/keshon/packstore/internal/command/chain"
	_ "github.com/keshon/packstore/internal/command/help"
	_ "github.com/keshon/packstore/internal/command/info"
	_ "github.com/keshon/packstore/internal/command/list"
	_ "github.com/keshon/packstore/internal/command/missing"
	_ "github.com/keshon/packstore/internal/command/repack"
	_ "github.com/keshon/packstore/internal/command/verify"
)

func node(b byte) pack.Node {
	var n pack.Node
	n[0] = b
	n[19] = b ^ 0xff
	return n
}

type rev struct {
	name string
	node pack.Node
	base pack.Node
	data []byte
}

func writeDataPack(t *testing.T, dir string, revs ...rev) string {
	t.Helper()
	w, err := datapack.NewWriter(fs.NewOSFS(), dir, compress.Default())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range revs {
		if err := w.Add(r.name, r.node, r.base, r.data); err != nil {
			t.Fatal(err)
		}
	}
	id, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func writeHistPack(t *testing.T, dir, name string, nodes ...pack.Node) string {
	t.Helper()
	w := histpack.NewWriter(fs.NewOSFS(), dir)
	for i := len(nodes) - 1; i >= 0; i-- {
		p1 := pack.NullNode
		if i > 0 {
			p1 = nodes[i-1]
		}
		if err := w.Add(name, nodes[i], p1, pack.NullNode, node(0x99), ""); err != nil {
			t.Fatal(err)
		}
	}
	id, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func countSuffix(t *testing.T, dir, suffix string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			n++
		}
	}
	return n
}

// seedChain publishes a two-revision chain as two packs plus history.
func seedChain(t *testing.T, dir string) (v1, v2 []byte) {
	t.Helper()
	v1 = []byte("alpha\nbeta\ngamma\n")
	v2 = []byte("alpha\nBETA\ngamma\n")
	writeDataPack(t, dir, rev{"f.txt", node(1), pack.NullNode, v1})
	writeDataPack(t, dir, rev{"f.txt", node(2), node(1), delta.Diff(v1, v2)})
	writeHistPack(t, dir, "f.txt", node(1), node(2))
	return v1, v2
}

func TestRepackCommandMergesAndRemovesSources(t *testing.T) {
	dir := t.TempDir()
	v1, v2 := seedChain(t, dir)

	if err := command.Run([]string{"repack", dir}); err != nil {
		t.Fatal(err)
	}

	if got := countSuffix(t, dir, config.DataPackSuffix); got != 1 {
		t.Fatalf("%d data packs after repack, want 1", got)
	}
	if got := countSuffix(t, dir, config.HistPackSuffix); got != 1 {
		t.Fatalf("%d history packs after repack, want 1", got)
	}

	s, err := store.NewDataPackStore(fs.NewOSFS(), dir, compress.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for i, want := range [][]byte{v1, v2} {
		got, err := s.Get("f.txt", node(byte(i+1)))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(want) {
			t.Fatalf("rev %d = %q, want %q", i+1, got, want)
		}
	}
}

func TestRepackCommandKeep(t *testing.T) {
	dir := t.TempDir()
	seedChain(t, dir)

	if err := command.Run([]string{"repack", "--keep", dir}); err != nil {
		t.Fatal(err)
	}
	// Two sources plus the merged target.
	if got := countSuffix(t, dir, config.DataPackSuffix); got != 3 {
		t.Fatalf("%d data packs after repack --keep, want 3", got)
	}
}

func TestRepackCommandCodecSwitch(t *testing.T) {
	dir := t.TempDir()
	v1, _ := seedChain(t, dir)

	if err := command.Run([]string{"repack", "--codec=gzip", dir}); err != nil {
		t.Fatal(err)
	}

	fsys := fs.NewOSFS()
	cfg, err := config.LoadStoreConfig(fsys, dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Compression != "gzip" {
		t.Fatalf("store compression = %q, want gzip", cfg.Compression)
	}

	gz, err := compress.ByName("gzip")
	if err != nil {
		t.Fatal(err)
	}
	s, err := store.NewDataPackStore(fsys, dir, gz)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("f.txt", node(1))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(v1) {
		t.Fatalf("recompressed rev 1 = %q, want %q", got, v1)
	}
}

func TestRepackCommandRefusesKeepWithCodecSwitch(t *testing.T) {
	dir := t.TempDir()
	if err := command.Run([]string{"repack", "--keep", "--codec=gzip", dir}); err == nil {
		t.Fatal("keep with a compression change succeeded")
	}
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	seedChain(t, dir)

	if err := command.Run([]string{"verify", dir}); err != nil {
		t.Fatal(err)
	}

	// Flip a payload byte; the pack's name no longer matches its hash.
	ids, err := store.ListDataPacks(fs.NewOSFS(), dir)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, ids[0]+config.DataPackSuffix)
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	blob[1] ^= 0xff
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}

	err = command.Run([]string{"verify", dir})
	if err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("verify on a corrupted pack = %v", err)
	}
}

func TestReadOnlyCommands(t *testing.T) {
	dir := t.TempDir()
	seedChain(t, dir)
	dataIDs, err := store.ListDataPacks(fs.NewOSFS(), dir)
	if err != nil {
		t.Fatal(err)
	}

	missingNode := node(0x7f)
	invocations := [][]string{
		{"list", dir},
		{"info", dir, dataIDs[0]},
		{"chain", "-v", dir, "f.txt", node(2).String()},
		{"ancestry", dir, "f.txt", node(2).String()},
		{"missing", dir, "f.txt:" + node(1).String(), "f.txt:" + missingNode.String()},
		{"help"},
		{"help", "repack"},
	}
	for _, args := range invocations {
		if err := command.Run(args); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
}
