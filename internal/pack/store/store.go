// Package store layers pack access: a local directory store that scans for
// published pack pairs, a union store that searches several stores in
// order, and a remote tier that fills the shared directory through a
// Fetcher before retrying. All stores answer the same three questions:
// what is missing, what is this revision's delta chain, and what is its
// ancestry.
package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/delta"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
)

// DataStore serves content revisions.
type DataStore interface {
	// Get returns the reconstructed fulltext for the key.
	Get(name string, node pack.Node) ([]byte, error)

	// GetDelta returns the key's single stored entry.
	GetDelta(name string, node pack.Node) (*datapack.Delta, error)

	// GetDeltaChain returns the complete chain for the key, ending in a
	// fulltext. A chain whose base cannot be found anywhere is an error.
	GetDeltaChain(name string, node pack.Node) ([]*datapack.Delta, error)

	// GetPartialChain returns the longest chain one lookup can provide;
	// the last link may name a base stored elsewhere. It is the building
	// block GetDeltaChain completes chains with.
	GetPartialChain(name string, node pack.Node) ([]*datapack.Delta, error)

	// GetMissing filters keys down to those this store cannot serve.
	GetMissing(keys []pack.Key) ([]pack.Key, error)

	// MarkForRefresh makes the next operation rescan for new packs.
	MarkForRefresh()

	Close() error
}

// HistoryStore serves ancestry rows.
type HistoryStore interface {
	// GetNodeInfo returns the key's parents, linknode and copy origin.
	GetNodeInfo(name string, node pack.Node) (*histpack.NodeInfo, error)

	// GetMissing filters keys down to those without ancestry here.
	GetMissing(keys []pack.Key) ([]pack.Key, error)

	// MarkForRefresh makes the next operation rescan for new packs.
	MarkForRefresh()

	Close() error
}

// Fetcher retrieves keys from a remote source. Fetch blocks until the keys
// have been published as packs into the shared directory (or failed).
type Fetcher interface {
	Fetch(keys []pack.Key) error
}

// ListDataPacks returns the ids of complete data pack pairs in dir, sorted.
// Blobs without their index are in-flight publishes and are skipped.
func ListDataPacks(fsys fs.FS, dir string) ([]string, error) {
	return listPacks(fsys, dir, config.DataPackSuffix, config.DataIndexSuffix)
}

// ListHistPacks returns the ids of complete history pack pairs in dir.
func ListHistPacks(fsys fs.FS, dir string) ([]string, error) {
	return listPacks(fsys, dir, config.HistPackSuffix, config.HistIndexSuffix)
}

func listPacks(fsys fs.FS, dir, blobSuffix, idxSuffix string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		// A store directory that does not exist yet is just empty.
		if fsys.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan pack dir %q: %w", dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, blobSuffix) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		id := strings.TrimSuffix(name, blobSuffix)
		if id == "" || !fsys.Exists(filepath.Join(dir, id+idxSuffix)) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// partialChainer is the slice of DataStore that chain completion needs.
type partialChainer interface {
	GetPartialChain(name string, node pack.Node) ([]*datapack.Delta, error)
}

// completeChain extends a partial chain by looking its unresolved bases
// back up in src until a fulltext terminates it.
func completeChain(src partialChainer, name string, node pack.Node) ([]*datapack.Delta, error) {
	chain, err := src.GetPartialChain(name, node)
	if err != nil {
		return nil, err
	}

	seen := map[pack.Node]bool{node: true}
	for {
		last := chain[len(chain)-1]
		if last.DeltaBase.IsNull() {
			return chain, nil
		}

		base := last.DeltaBase
		if seen[base] {
			return nil, fmt.Errorf("delta chain of %q@%s cycles at %s", name, node, base)
		}
		seen[base] = true

		more, err := src.GetPartialChain(last.Name, base)
		if err != nil {
			if errors.Is(err, pack.ErrNotFound) {
				return nil, fmt.Errorf("incomplete delta chain of %q@%s: %w", name, node, err)
			}
			return nil, err
		}
		chain = append(chain, more...)
	}
}

// resolveText rebuilds the fulltext for a key by applying its chain from
// the terminating fulltext back up to the requested node.
func resolveText(src partialChainer, name string, node pack.Node) ([]byte, error) {
	chain, err := completeChain(src, name, node)
	if err != nil {
		return nil, err
	}

	text := chain[len(chain)-1].Data
	for i := len(chain) - 2; i >= 0; i-- {
		text, err = delta.Apply(text, chain[i].Data)
		if err != nil {
			return nil, fmt.Errorf("apply delta %s of %q: %w", chain[i].Node, name, err)
		}
	}
	return text, nil
}
