// Package repack merges the packs of one directory into a single pair,
// re-deriving deltas so the newest revision of every name sits at the
// short end of its chain. A run publishes nothing unless it completes.
package repack

import (
	"bytes"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/delta"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
	"github.com/keshon/packstore/internal/pack/store"
	"github.com/keshon/packstore/internal/util"
)

const defaultCacheSize = 256

// Progress is called as a run advances. stage names the phase, done and
// total count items inside it.
type Progress func(stage string, done, total int)

// Options tune one repack run.
type Options struct {
	// Codec compresses target payloads. Defaults to compress.Default().
	Codec compress.Codec
	// SourceCodec decompresses source payloads. Defaults to Codec, so a
	// run only needs both when it changes the store's compression.
	SourceCodec compress.Codec
	// CacheSize bounds the fulltext cache in entries. Defaults to 256.
	CacheSize int
	// Progress, when set, receives stage updates.
	Progress Progress
}

// Result reports what one run produced and consumed. Consumed source ids
// are listed even when they match the target (a pack that repacks to
// itself); callers deciding what to delete must compare against the
// target ids.
type Result struct {
	DataPack    string
	HistPack    string
	DataSources []string
	HistSources []string
	Names       int
	DataEntries int
	HistEntries int
}

// nameGroup is everything the sources know about one name.
type nameGroup struct {
	data map[pack.Node]bool
	hist map[pack.Node]histpack.Entry
}

type runner struct {
	fsys     fs.FS
	dir      string
	codec    compress.Codec
	srcCodec compress.Codec
	report   Progress

	content *store.DataPackStore
	cache   *lru.Cache[pack.Key, []byte]
	names   map[string]*nameGroup
	dw      *datapack.Writer
	hw      *histpack.Writer

	contentTotal int
	histTotal    int
	res          *Result
}

// Run merges every pack in dir into one data pack and one history pack.
// Either target may come back empty when the sources had no entries of
// that kind. Any unreadable source or unreconstructable revision aborts
// the whole run with nothing published.
func Run(fsys fs.FS, dir string, opts Options) (*Result, error) {
	codec := opts.Codec
	if codec == nil {
		codec = compress.Default()
	}
	srcCodec := opts.SourceCodec
	if srcCodec == nil {
		srcCodec = codec
	}
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	report := opts.Progress
	if report == nil {
		report = func(string, int, int) {}
	}

	dataIDs, err := store.ListDataPacks(fsys, dir)
	if err != nil {
		return nil, err
	}
	histIDs, err := store.ListHistPacks(fsys, dir)
	if err != nil {
		return nil, err
	}

	res := &Result{DataSources: dataIDs, HistSources: histIDs}
	if len(dataIDs) == 0 && len(histIDs) == 0 {
		return res, nil
	}
	log.Debugf("repack %s: %d data packs, %d history packs", dir, len(dataIDs), len(histIDs))

	r := &runner{
		fsys:     fsys,
		dir:      dir,
		codec:    codec,
		srcCodec: srcCodec,
		report:   report,
		names:    make(map[string]*nameGroup),
		res:      res,
	}
	if err := r.scan(dataIDs, histIDs); err != nil {
		return nil, err
	}

	content, err := store.NewDataPackStore(fsys, dir, srcCodec)
	if err != nil {
		return nil, err
	}
	defer content.Close()
	r.content = content

	r.cache, err = lru.New[pack.Key, []byte](cacheSize)
	if err != nil {
		return nil, err
	}

	r.dw, err = datapack.NewWriter(fsys, dir, codec)
	if err != nil {
		return nil, err
	}
	r.hw = histpack.NewWriter(fsys, dir)

	if err := r.packAll(); err != nil {
		return nil, multierr.Combine(err, r.dw.Abort(), r.hw.Abort())
	}

	res.DataPack, err = r.dw.Close()
	if err != nil {
		return nil, multierr.Append(err, r.hw.Abort())
	}
	res.HistPack, err = r.hw.Close()
	if err != nil {
		return nil, err
	}

	log.Debugf("repack %s: %d names, %d data entries -> %s, %d history entries -> %s",
		dir, res.Names, res.DataEntries, res.DataPack, res.HistEntries, res.HistPack)
	return res, nil
}

func (r *runner) group(name string) *nameGroup {
	g := r.names[name]
	if g == nil {
		g = &nameGroup{
			data: make(map[pack.Node]bool),
			hist: make(map[pack.Node]histpack.Entry),
		}
		r.names[name] = g
	}
	return g
}

// scan unions the contents of every source pack. Each reader is opened
// just for the walk; fulltext reads later go through the store.
func (r *runner) scan(dataIDs, histIDs []string) error {
	total := len(dataIDs) + len(histIDs)
	done := 0

	for _, id := range dataIDs {
		pr, err := datapack.Open(r.fsys, r.dir, id, r.srcCodec)
		if err != nil {
			return err
		}
		err = pr.Iterate(func(e datapack.Entry) error {
			r.group(e.Name).data[e.Node] = true
			return nil
		})
		if cerr := pr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		done++
		r.report("scanning packs", done, total)
	}

	for _, id := range histIDs {
		hr, err := histpack.Open(r.fsys, r.dir, id)
		if err != nil {
			return err
		}
		err = hr.Iterate(func(name string, e histpack.Entry) error {
			g := r.group(name)
			if _, ok := g.hist[e.Node]; !ok {
				g.hist[e.Node] = e
			}
			return nil
		})
		if cerr := hr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		done++
		r.report("scanning packs", done, total)
	}

	for _, g := range r.names {
		r.contentTotal += len(g.data)
		r.histTotal += len(g.hist)
	}
	return nil
}

func (r *runner) packAll() error {
	names := util.SortedKeys(r.names)
	r.res.Names = len(names)

	for _, name := range names {
		g := r.names[name]
		order, err := orderNewestFirst(name, g.hist)
		if err != nil {
			return err
		}
		if err := r.packContent(name, g, order); err != nil {
			return err
		}
		if err := r.packHistory(name, g, order); err != nil {
			return err
		}
	}
	return nil
}

// packContent walks the name's revisions newest-first, assigning each
// parent its child as delta base so chains read short from the newest end.
// A parent reached through a rename keeps no base: content across a rename
// is a different logical file. Bases propagate only from revisions whose
// content landed in the target, so every chain stays resolvable there.
func (r *runner) packContent(name string, g *nameGroup, order []pack.Node) error {
	base := make(map[pack.Node]pack.Node)
	for _, n := range order {
		if !g.data[n] {
			continue
		}
		if err := r.writeContent(name, n, base[n]); err != nil {
			return err
		}
		e := g.hist[n]
		if !e.P1.IsNull() && e.CopyFrom == "" {
			base[e.P1] = n
		}
		if !e.P2.IsNull() {
			base[e.P2] = n
		}
	}

	// Content with no ancestry record is kept as standalone fulltexts.
	var orphans []pack.Node
	for n := range g.data {
		if _, ok := g.hist[n]; !ok {
			orphans = append(orphans, n)
		}
	}
	sortNodes(orphans)
	for _, n := range orphans {
		if err := r.writeContent(name, n, pack.NullNode); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) writeContent(name string, n, b pack.Node) error {
	text, err := r.fulltext(name, n)
	if err != nil {
		return err
	}
	payload := text
	if !b.IsNull() {
		baseText, err := r.fulltext(name, b)
		if err != nil {
			return err
		}
		payload = delta.Diff(baseText, text)
	}
	if err := r.dw.Add(name, n, b, payload); err != nil {
		return err
	}
	r.res.DataEntries++
	r.report("repacking content", r.res.DataEntries, r.contentTotal)
	return nil
}

func (r *runner) fulltext(name string, n pack.Node) ([]byte, error) {
	key := pack.Key{Name: name, Node: n}
	if text, ok := r.cache.Get(key); ok {
		return text, nil
	}
	text, err := r.content.Get(name, n)
	if err != nil {
		return nil, fmt.Errorf("repack needs unavailable content %q@%s: %w", name, n, err)
	}
	r.cache.Add(key, text)
	return text, nil
}

func (r *runner) packHistory(name string, g *nameGroup, order []pack.Node) error {
	for _, n := range order {
		e := g.hist[n]
		if err := r.hw.Add(name, n, e.P1, e.P2, e.Linknode, e.CopyFrom); err != nil {
			return err
		}
		r.res.HistEntries++
		r.report("repacking history", r.res.HistEntries, r.histTotal)
	}
	return nil
}

// orderNewestFirst sorts the name's ancestry so every node precedes both
// of its parents. Parents missing from hist are unconstrained. Ties break
// on node order so identical inputs repack to identical packs.
func orderNewestFirst(name string, hist map[pack.Node]histpack.Entry) ([]pack.Node, error) {
	all := make([]pack.Node, 0, len(hist))
	for n := range hist {
		all = append(all, n)
	}
	sortNodes(all)

	indeg := make(map[pack.Node]int, len(all))
	children := make(map[pack.Node][]pack.Node, len(all))
	for _, n := range all {
		e := hist[n]
		for _, p := range [2]pack.Node{e.P1, e.P2} {
			if p.IsNull() {
				continue
			}
			if _, ok := hist[p]; !ok {
				continue
			}
			indeg[n]++
			children[p] = append(children[p], n)
		}
	}

	order := make([]pack.Node, 0, len(all))
	emitted := make(map[pack.Node]bool, len(all))
	for len(order) < len(all) {
		progressed := false
		for _, n := range all {
			if emitted[n] || indeg[n] > 0 {
				continue
			}
			emitted[n] = true
			order = append(order, n)
			for _, c := range children[n] {
				indeg[c]--
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("ancestry of %q contains a cycle", name)
		}
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func sortNodes(nodes []pack.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i][:], nodes[j][:]) < 0
	})
}
