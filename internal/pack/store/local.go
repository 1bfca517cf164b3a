package store

import (
	"errors"
	"io"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
)

// packSet tracks the open readers for one pack flavor in one directory.
// Scans are lazy: nothing is rescanned until markForRefresh, and a rescan
// whose directory listing hashes to the same signature changes nothing.
type packSet[R io.Closer] struct {
	fsys fs.FS
	dir  string
	kind string
	list func(fs.FS, string) ([]string, error)
	open func(id string) (R, error)

	packs     map[string]R
	order     []string
	bad       map[string]bool
	sig       xxh3.Uint128
	scanned   bool
	needsScan bool
}

func newPackSet[R io.Closer](fsys fs.FS, dir, kind string,
	list func(fs.FS, string) ([]string, error), open func(id string) (R, error)) *packSet[R] {
	return &packSet[R]{
		fsys:      fsys,
		dir:       dir,
		kind:      kind,
		list:      list,
		open:      open,
		packs:     make(map[string]R),
		bad:       make(map[string]bool),
		needsScan: true,
	}
}

func (p *packSet[R]) markForRefresh() {
	p.needsScan = true
}

func (p *packSet[R]) refresh() error {
	if !p.needsScan {
		return nil
	}

	ids, err := p.list(p.fsys, p.dir)
	if err != nil {
		return err
	}
	sig := xxh3.HashString128(strings.Join(ids, "\n"))
	if p.scanned && sig == p.sig {
		p.needsScan = false
		return nil
	}

	current := make(map[string]bool, len(ids))
	for _, id := range ids {
		current[id] = true
	}

	// Drop readers whose files vanished (repack deleted them).
	for id, r := range p.packs {
		if !current[id] {
			if err := r.Close(); err != nil {
				log.Debugf("close removed %s pack %s: %v", p.kind, id, err)
			}
			delete(p.packs, id)
		}
	}
	// A bad id that vanished may come back healthy under a rewrite.
	for id := range p.bad {
		if !current[id] {
			delete(p.bad, id)
		}
	}

	for _, id := range ids {
		if _, ok := p.packs[id]; ok || p.bad[id] {
			continue
		}
		r, err := p.open(id)
		if err != nil {
			p.bad[id] = true
			log.Warnf("skipping unreadable %s pack %s: %v", p.kind, id, err)
			continue
		}
		p.packs[id] = r
	}

	p.order = p.order[:0]
	for id := range p.packs {
		p.order = append(p.order, id)
	}
	sort.Strings(p.order)

	p.sig = sig
	p.scanned = true
	p.needsScan = false
	return nil
}

func (p *packSet[R]) close() error {
	var err error
	for _, id := range p.order {
		err = multierr.Append(err, p.packs[id].Close())
	}
	p.packs = make(map[string]R)
	p.order = nil
	return err
}

// DataPackStore serves content from every data pack pair in one directory.
// Packs that fail to open are logged and skipped; they stay out of the set
// until their files change.
type DataPackStore struct {
	set *packSet[*datapack.Reader]
}

// NewDataPackStore scans dir and opens every complete data pack pair.
func NewDataPackStore(fsys fs.FS, dir string, codec compress.Codec) (*DataPackStore, error) {
	s := &DataPackStore{
		set: newPackSet(fsys, dir, "data", ListDataPacks, func(id string) (*datapack.Reader, error) {
			return datapack.Open(fsys, dir, id, codec)
		}),
	}
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// PackIDs returns the ids currently serving, sorted.
func (s *DataPackStore) PackIDs() []string {
	return append([]string(nil), s.set.order...)
}

func (s *DataPackStore) Get(name string, node pack.Node) ([]byte, error) {
	return resolveText(s, name, node)
}

func (s *DataPackStore) GetDelta(name string, node pack.Node) (*datapack.Delta, error) {
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	for _, id := range s.set.order {
		d, err := s.set.packs[id].GetDelta(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			continue
		}
		return d, err
	}
	return nil, pack.NotFound(name, node)
}

func (s *DataPackStore) GetDeltaChain(name string, node pack.Node) ([]*datapack.Delta, error) {
	return completeChain(s, name, node)
}

func (s *DataPackStore) GetPartialChain(name string, node pack.Node) ([]*datapack.Delta, error) {
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	for _, id := range s.set.order {
		chain, err := s.set.packs[id].GetDeltaChain(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			continue
		}
		return chain, err
	}
	return nil, pack.NotFound(name, node)
}

func (s *DataPackStore) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	missing := keys
	for _, id := range s.set.order {
		if len(missing) == 0 {
			break
		}
		var err error
		missing, err = s.set.packs[id].GetMissing(missing)
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (s *DataPackStore) MarkForRefresh() {
	s.set.markForRefresh()
}

func (s *DataPackStore) Close() error {
	return s.set.close()
}

// HistPackStore serves ancestry from every history pack pair in one
// directory.
type HistPackStore struct {
	set *packSet[*histpack.Reader]
}

// NewHistPackStore scans dir and opens every complete history pack pair.
func NewHistPackStore(fsys fs.FS, dir string) (*HistPackStore, error) {
	s := &HistPackStore{
		set: newPackSet(fsys, dir, "history", ListHistPacks, func(id string) (*histpack.Reader, error) {
			return histpack.Open(fsys, dir, id)
		}),
	}
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// PackIDs returns the ids currently serving, sorted.
func (s *HistPackStore) PackIDs() []string {
	return append([]string(nil), s.set.order...)
}

func (s *HistPackStore) GetNodeInfo(name string, node pack.Node) (*histpack.NodeInfo, error) {
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	for _, id := range s.set.order {
		info, err := s.set.packs[id].GetNodeInfo(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			continue
		}
		return info, err
	}
	return nil, pack.NotFound(name, node)
}

func (s *HistPackStore) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	if err := s.set.refresh(); err != nil {
		return nil, err
	}
	missing := keys
	for _, id := range s.set.order {
		if len(missing) == 0 {
			break
		}
		var err error
		missing, err = s.set.packs[id].GetMissing(missing)
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (s *HistPackStore) MarkForRefresh() {
	s.set.markForRefresh()
}

func (s *HistPackStore) Close() error {
	return s.set.close()
}
