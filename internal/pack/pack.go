// Package pack holds the types shared by every pack component: nodes, keys,
// the format version, and the error taxonomy of the store.
package pack

import (
	"encoding/hex"
	"fmt"
)

// NodeSize is the width of a node hash in bytes.
const NodeSize = 20

// Version is the format version byte that opens every pack blob file.
const Version byte = 1

// Node identifies one revision of a path. The hash is computed upstream;
// the store only carries it.
type Node [NodeSize]byte

// NullNode marks an absent node: a missing parent, or a fulltext delta base.
var NullNode Node

// IsNull reports whether n is the null node.
func (n Node) IsNull() bool {
	return n == NullNode
}

func (n Node) String() string {
	return hex.EncodeToString(n[:])
}

// NodeFromHex parses a 40-character hex string into a Node.
func NodeFromHex(s string) (Node, error) {
	var n Node
	if len(s) != NodeSize*2 {
		return n, fmt.Errorf("node %q: want %d hex characters, got %d", s, NodeSize*2, len(s))
	}
	if _, err := hex.Decode(n[:], []byte(s)); err != nil {
		return n, fmt.Errorf("node %q: %w", s, err)
	}
	return n, nil
}

// Key addresses one stored revision: a path name plus its node. Name may be
// empty (the root). Key is comparable and safe to use as a map key.
type Key struct {
	Name string
	Node Node
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Name, k.Node)
}

// ParseKey parses the "name:hexnode" form printed by Key.String. The node is
// the part after the last colon, so names containing colons survive.
func ParseKey(s string) (Key, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			node, err := NodeFromHex(s[i+1:])
			if err != nil {
				return Key{}, err
			}
			return Key{Name: s[:i], Node: node}, nil
		}
	}
	return Key{}, fmt.Errorf("key %q: missing node separator", s)
}
