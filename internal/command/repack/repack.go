package repack

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	packrepack "github.com/keshon/packstore/internal/pack/repack"
	"github.com/keshon/packstore/internal/progress"
)

type Command struct {
	keep  bool
	codec string
}

func (c *Command) Name() string      { return "repack" }
func (c *Command) Short() string     { return "R" }
func (c *Command) Aliases() []string { return []string{"gc"} }
func (c *Command) Usage() string     { return "repack [--keep] [--codec=zstd|gzip|none] <dir>" }
func (c *Command) Brief() string     { return "Merge every pack in a directory into one pair" }
func (c *Command) Help() string {
	return `Merge all packs under <dir> into a single data pack and a single
history pack, re-deriving every delta chain newest-first, then remove
the consumed source packs.

Usage:
  repack <dir>          - Repack and delete the merged sources.
  repack --keep <dir>   - Repack but leave the sources in place.

The --codec flag recompresses the store. It rewrites the directory's
config, so it cannot be combined with --keep: the kept packs would no
longer match the configured compression.
`
}

func (c *Command) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&c.keep, "keep", false, "keep the consumed source packs")
	fs.StringVar(&c.codec, "codec", "", "recompress with this codec (zstd, gzip, none)")
}

func (c *Command) Run(ctx *command.Context) error {
	if len(ctx.Args) != 1 {
		return fmt.Errorf("usage: packstore %s", c.Usage())
	}
	dir := ctx.Args[0]
	fsys := fs.NewOSFS()

	cfg, err := config.LoadStoreConfig(fsys, dir)
	if err != nil {
		return err
	}
	srcCodec, err := compress.ByName(cfg.Compression)
	if err != nil {
		return err
	}
	codec := srcCodec
	if c.codec != "" {
		codec, err = compress.ByName(c.codec)
		if err != nil {
			return err
		}
		if c.keep && c.codec != cfg.Compression {
			return fmt.Errorf("--keep would leave %s-compressed packs behind a %s store config", cfg.Compression, c.codec)
		}
	}

	stages := progress.NewStages()
	res, err := packrepack.Run(fsys, dir, packrepack.Options{
		Codec:       codec,
		SourceCodec: srcCodec,
		Progress:    stages.Update,
	})
	stages.Finish()
	if err != nil {
		return err
	}
	if len(res.DataSources) == 0 && len(res.HistSources) == 0 {
		fmt.Println("No packs found. Nothing to repack.")
		return nil
	}

	fmt.Printf("Repacked %d names from %d source packs.\n",
		res.Names, len(res.DataSources)+len(res.HistSources))
	if res.DataPack != "" {
		fmt.Printf("  data:    %s (%d entries, %s)\n",
			res.DataPack, res.DataEntries, packSize(fsys, dir, res.DataPack, config.DataPackSuffix))
	}
	if res.HistPack != "" {
		fmt.Printf("  history: %s (%d entries, %s)\n",
			res.HistPack, res.HistEntries, packSize(fsys, dir, res.HistPack, config.HistPackSuffix))
	}

	if c.codec != "" && c.codec != cfg.Compression {
		cfg.Compression = c.codec
		if err := cfg.Save(fsys, dir); err != nil {
			return err
		}
		fmt.Printf("Store compression set to %s.\n", c.codec)
	}

	if c.keep {
		kept := 0
		for _, id := range res.DataSources {
			if id != res.DataPack {
				kept++
			}
		}
		for _, id := range res.HistSources {
			if id != res.HistPack {
				kept++
			}
		}
		fmt.Printf("Kept %d source packs.\n", kept)
		return nil
	}

	removed := 0
	for _, id := range res.DataSources {
		if id == res.DataPack {
			continue
		}
		if err := removePair(fsys, dir, id, config.DataIndexSuffix, config.DataPackSuffix); err != nil {
			log.Warnf("remove source data pack %s: %v", id, err)
			continue
		}
		removed++
	}
	for _, id := range res.HistSources {
		if id == res.HistPack {
			continue
		}
		if err := removePair(fsys, dir, id, config.HistIndexSuffix, config.HistPackSuffix); err != nil {
			log.Warnf("remove source history pack %s: %v", id, err)
			continue
		}
		removed++
	}
	fmt.Printf("Removed %d source packs.\n", removed)
	return nil
}

// removePair unlinks the index first so the pack drops out of directory
// listings before its blob goes away.
func removePair(fsys fs.FS, dir, id, idxSuffix, blobSuffix string) error {
	if err := fsys.Remove(filepath.Join(dir, id+idxSuffix)); err != nil {
		return err
	}
	return fsys.Remove(filepath.Join(dir, id+blobSuffix))
}

func packSize(fsys fs.FS, dir, id, suffix string) string {
	info, err := fsys.Stat(filepath.Join(dir, id+suffix))
	if err != nil {
		return "size unknown"
	}
	return humanize.Bytes(uint64(info.Size()))
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithDebugArgsPrint(),
		),
	)
}
