package store

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
	"github.com/keshon/packstore/internal/util"
)

const defaultFetchBatch = 1024

// RemoteDataStore serves from a shared store and falls back to a fetcher.
// A read miss blocks on one fetch round; a key the fetcher cannot deliver
// stays not found. GetMissing never fetches: it reports what a fetch would
// have to bring in.
type RemoteDataStore struct {
	shared  DataStore
	fetcher Fetcher
	batch   int
	workers int
}

// NewRemoteDataStore wires fetcher behind shared.
func NewRemoteDataStore(shared DataStore, fetcher Fetcher) *RemoteDataStore {
	return &RemoteDataStore{
		shared:  shared,
		fetcher: fetcher,
		batch:   defaultFetchBatch,
		workers: util.WorkerCount(),
	}
}

func (s *RemoteDataStore) fetchOne(name string, node pack.Node) error {
	if err := s.fetcher.Fetch([]pack.Key{{Name: name, Node: node}}); err != nil {
		return fmt.Errorf("fetch %q@%s: %w", name, node, err)
	}
	s.shared.MarkForRefresh()
	return nil
}

func (s *RemoteDataStore) Get(name string, node pack.Node) ([]byte, error) {
	return resolveText(s, name, node)
}

func (s *RemoteDataStore) GetDelta(name string, node pack.Node) (*datapack.Delta, error) {
	d, err := s.shared.GetDelta(name, node)
	if !errors.Is(err, pack.ErrNotFound) {
		return d, err
	}
	if err := s.fetchOne(name, node); err != nil {
		return nil, err
	}
	return s.shared.GetDelta(name, node)
}

func (s *RemoteDataStore) GetDeltaChain(name string, node pack.Node) ([]*datapack.Delta, error) {
	return completeChain(s, name, node)
}

func (s *RemoteDataStore) GetPartialChain(name string, node pack.Node) ([]*datapack.Delta, error) {
	chain, err := s.shared.GetPartialChain(name, node)
	if !errors.Is(err, pack.ErrNotFound) {
		return chain, err
	}
	if err := s.fetchOne(name, node); err != nil {
		return nil, err
	}
	return s.shared.GetPartialChain(name, node)
}

func (s *RemoteDataStore) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	return s.shared.GetMissing(keys)
}

// Prefetch brings every missing key into the shared store in one pass.
// Batches run concurrently, so the fetcher must tolerate concurrent Fetch
// calls.
func (s *RemoteDataStore) Prefetch(keys []pack.Key) error {
	missing, err := s.shared.GetMissing(keys)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for start := 0; start < len(missing); start += s.batch {
		batch := missing[start:min(start+s.batch, len(missing))]
		g.Go(func() error {
			return s.fetcher.Fetch(batch)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prefetch %d keys: %w", len(missing), err)
	}
	s.shared.MarkForRefresh()
	return nil
}

func (s *RemoteDataStore) MarkForRefresh() {
	s.shared.MarkForRefresh()
}

func (s *RemoteDataStore) Close() error {
	return s.shared.Close()
}

// RemoteHistoryStore serves ancestry from a shared store and falls back to
// a fetcher, with the same blocking miss behavior as RemoteDataStore.
type RemoteHistoryStore struct {
	shared  HistoryStore
	fetcher Fetcher
}

// NewRemoteHistoryStore wires fetcher behind shared.
func NewRemoteHistoryStore(shared HistoryStore, fetcher Fetcher) *RemoteHistoryStore {
	return &RemoteHistoryStore{shared: shared, fetcher: fetcher}
}

func (s *RemoteHistoryStore) GetNodeInfo(name string, node pack.Node) (*histpack.NodeInfo, error) {
	info, err := s.shared.GetNodeInfo(name, node)
	if !errors.Is(err, pack.ErrNotFound) {
		return info, err
	}
	if err := s.fetcher.Fetch([]pack.Key{{Name: name, Node: node}}); err != nil {
		return nil, fmt.Errorf("fetch %q@%s: %w", name, node, err)
	}
	s.shared.MarkForRefresh()
	return s.shared.GetNodeInfo(name, node)
}

func (s *RemoteHistoryStore) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	return s.shared.GetMissing(keys)
}

func (s *RemoteHistoryStore) MarkForRefresh() {
	s.shared.MarkForRefresh()
}

func (s *RemoteHistoryStore) Close() error {
	return s.shared.Close()
}
