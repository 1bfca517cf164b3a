package list

import (
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
	"github.com/keshon/packstore/internal/pack/store"
)

type Command struct{}

func (c *Command) Name() string      { return "list" }
func (c *Command) Short() string     { return "" }
func (c *Command) Aliases() []string { return []string{"ls"} }
func (c *Command) Usage() string     { return "list <dir>" }
func (c *Command) Brief() string     { return "List the packs of a directory" }
func (c *Command) Help() string {
	return `List every complete pack pair in a directory with entry counts
and sizes. Unreadable packs are reported, not skipped silently.

Usage:
  packstore list <dir>`
}

func (c *Command) Flags(fs *flag.FlagSet) {}

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
	codec, err := compress.ByName(cfg.Compression)
	if err != nil {
		return err
	}

	dataIDs, err := store.ListDataPacks(fsys, dir)
	if err != nil {
		return err
	}
	histIDs, err := store.ListHistPacks(fsys, dir)
	if err != nil {
		return err
	}

	if len(dataIDs) > 0 {
		fmt.Printf("data packs in %s:\n", dir)
		for _, id := range dataIDs {
			r, err := datapack.Open(fsys, dir, id, codec)
			if err != nil {
				fmt.Printf("  %s  (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Printf("  %s  %d entries  %s (+ %s index)\n",
				id, r.Entries(),
				humanize.Bytes(uint64(r.BlobSize())),
				humanize.Bytes(uint64(r.IndexSize())))
			r.Close()
		}
	}
	if len(histIDs) > 0 {
		fmt.Printf("history packs in %s:\n", dir)
		for _, id := range histIDs {
			r, err := histpack.Open(fsys, dir, id)
			if err != nil {
				fmt.Printf("  %s  (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Printf("  %s  %d names  %s (+ %s index)\n",
				id, r.Names(),
				humanize.Bytes(uint64(r.BlobSize())),
				humanize.Bytes(uint64(r.IndexSize())))
			r.Close()
		}
	}
	fmt.Printf("%d data packs, %d history packs\n", len(dataIDs), len(histIDs))
	return nil
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithDebugArgsPrint(),
		),
	)
}
