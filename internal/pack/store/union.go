package store

import (
	"errors"

	"go.uber.org/multierr"

	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
)

// UnionDataStore layers several data stores and serves the first hit.
// Delta chains may start in one member and finish in another; only the
// fully resolved result is returned.
type UnionDataStore struct {
	stores []DataStore
}

// NewUnionDataStore builds a union over stores, earliest first.
func NewUnionDataStore(stores ...DataStore) *UnionDataStore {
	return &UnionDataStore{stores: stores}
}

func (u *UnionDataStore) Get(name string, node pack.Node) ([]byte, error) {
	return resolveText(u, name, node)
}

func (u *UnionDataStore) GetDelta(name string, node pack.Node) (*datapack.Delta, error) {
	for _, s := range u.stores {
		d, err := s.GetDelta(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			continue
		}
		return d, err
	}
	return nil, pack.NotFound(name, node)
}

func (u *UnionDataStore) GetDeltaChain(name string, node pack.Node) ([]*datapack.Delta, error) {
	return completeChain(u, name, node)
}

func (u *UnionDataStore) GetPartialChain(name string, node pack.Node) ([]*datapack.Delta, error) {
	for _, s := range u.stores {
		chain, err := s.GetPartialChain(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			continue
		}
		return chain, err
	}
	return nil, pack.NotFound(name, node)
}

func (u *UnionDataStore) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	missing := keys
	for _, s := range u.stores {
		if len(missing) == 0 {
			break
		}
		var err error
		missing, err = s.GetMissing(missing)
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (u *UnionDataStore) MarkForRefresh() {
	for _, s := range u.stores {
		s.MarkForRefresh()
	}
}

func (u *UnionDataStore) Close() error {
	var err error
	for _, s := range u.stores {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// UnionHistoryStore layers several history stores and serves the first hit.
type UnionHistoryStore struct {
	stores []HistoryStore
}

// NewUnionHistoryStore builds a union over stores, earliest first.
func NewUnionHistoryStore(stores ...HistoryStore) *UnionHistoryStore {
	return &UnionHistoryStore{stores: stores}
}

func (u *UnionHistoryStore) GetNodeInfo(name string, node pack.Node) (*histpack.NodeInfo, error) {
	for _, s := range u.stores {
		info, err := s.GetNodeInfo(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			continue
		}
		return info, err
	}
	return nil, pack.NotFound(name, node)
}

func (u *UnionHistoryStore) GetMissing(keys []pack.Key) ([]pack.Key, error) {
	missing := keys
	for _, s := range u.stores {
		if len(missing) == 0 {
			break
		}
		var err error
		missing, err = s.GetMissing(missing)
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (u *UnionHistoryStore) MarkForRefresh() {
	for _, s := range u.stores {
		s.MarkForRefresh()
	}
}

func (u *UnionHistoryStore) Close() error {
	var err error
	for _, s := range u.stores {
		err = multierr.Append(err, s.Close())
	}
	return err
}
