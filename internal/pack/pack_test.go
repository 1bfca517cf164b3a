package pack_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/keshon/packstore/internal/pack"
)

func TestNodeHexRoundTrip(t *testing.T) {
	var n pack.Node
	for i := range n {
		n[i] = byte(i * 7)
	}

	s := n.String()
	if len(s) != pack.NodeSize*2 {
		t.Fatalf("hex length = %d, want %d", len(s), pack.NodeSize*2)
	}

	back, err := pack.NodeFromHex(s)
	if err != nil {
		t.Fatalf("NodeFromHex: %v", err)
	}
	if back != n {
		t.Fatalf("round trip mismatch: %s != %s", back, n)
	}
}

func TestNodeFromHexRejectsBadInput(t *testing.T) {
	if _, err := pack.NodeFromHex("abcd"); err == nil {
		t.Fatal("expected error for short input")
	}
	if _, err := pack.NodeFromHex(strings.Repeat("zz", pack.NodeSize)); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}

func TestNullNode(t *testing.T) {
	if !pack.NullNode.IsNull() {
		t.Fatal("NullNode.IsNull() = false")
	}
	n := pack.Node{1}
	if n.IsNull() {
		t.Fatal("non-null node reported null")
	}
}

func TestParseKey(t *testing.T) {
	node, err := pack.NodeFromHex(strings.Repeat("ab", pack.NodeSize))
	if err != nil {
		t.Fatal(err)
	}

	key := pack.Key{Name: "dir/file.txt", Node: node}
	parsed, err := pack.ParseKey(key.String())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if parsed != key {
		t.Fatalf("parsed %v, want %v", parsed, key)
	}

	// Names may contain colons; only the last one separates the node.
	key = pack.Key{Name: "odd:name", Node: node}
	parsed, err = pack.ParseKey(key.String())
	if err != nil {
		t.Fatalf("ParseKey with colon in name: %v", err)
	}
	if parsed != key {
		t.Fatalf("parsed %v, want %v", parsed, key)
	}

	if _, err := pack.ParseKey("no-separator"); err == nil {
		t.Fatal("expected error for key without separator")
	}
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	err := pack.NotFound("a.txt", pack.Node{42})
	if !errors.Is(err, pack.ErrNotFound) {
		t.Fatalf("NotFound error does not match ErrNotFound: %v", err)
	}
	if !strings.Contains(err.Error(), "a.txt") {
		t.Fatalf("error %q does not mention the key name", err)
	}
}

func TestCorruptError(t *testing.T) {
	err := error(pack.Corruptf("/packs/x.datapack", "bad version %d", 9))
	if !pack.IsCorrupt(err) {
		t.Fatal("IsCorrupt = false for CorruptError")
	}
	if pack.IsCorrupt(pack.ErrNotFound) {
		t.Fatal("IsCorrupt = true for ErrNotFound")
	}

	var ce *pack.CorruptError
	if !errors.As(err, &ce) {
		t.Fatal("errors.As failed")
	}
	if ce.Path != "/packs/x.datapack" {
		t.Fatalf("path = %q", ce.Path)
	}
}
