package config

import (
	"fmt"
	"path/filepath"

	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/util"
)

const IsDev = false

const (
	DataPackSuffix  = ".datapack"
	DataIndexSuffix = ".dataidx"
	HistPackSuffix  = ".histpack"
	HistIndexSuffix = ".histidx"

	// TempPattern names in-progress pack files. A pack is visible to readers
	// only after its rename to the final hash-derived name.
	TempPattern = ".tmp-*"

	StoreConfigFile = "packstore.json"
)

const (
	DefaultCompression = "zstd" // "zstd" | "gzip" | "none"
)

// StoreConfig is the optional per-directory configuration. A directory
// without a packstore.json uses the defaults.
type StoreConfig struct {
	Compression string `json:"compression"`
}

// DefaultStoreConfig returns the configuration used when none is stored.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{Compression: DefaultCompression}
}

// LoadStoreConfig reads dir's packstore.json. A missing file yields the
// defaults; a malformed one is an error.
func LoadStoreConfig(fsys fs.FS, dir string) (*StoreConfig, error) {
	cfg := DefaultStoreConfig()

	path := filepath.Join(dir, StoreConfigFile)
	err := util.ReadJSON(fsys, path, cfg)
	if err != nil {
		if fsys.IsNotExist(err) {
			return DefaultStoreConfig(), nil
		}
		return nil, fmt.Errorf("load store config %q: %w", path, err)
	}
	if cfg.Compression == "" {
		cfg.Compression = DefaultCompression
	}
	return cfg, nil
}

// Save writes the configuration into dir atomically.
func (c *StoreConfig) Save(fsys fs.FS, dir string) error {
	path := filepath.Join(dir, StoreConfigFile)
	if err := util.WriteJSON(fsys, path, c); err != nil {
		return fmt.Errorf("save store config %q: %w", path, err)
	}
	return nil
}
