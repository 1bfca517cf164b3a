package info

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
)

type Command struct{}

func (c *Command) Name() string      { return "info" }
func (c *Command) Short() string     { return "" }
func (c *Command) Aliases() []string { return []string{"show"} }
func (c *Command) Usage() string     { return "info <dir> <pack-id>" }
func (c *Command) Brief() string     { return "Dump the entries of one pack pair" }
func (c *Command) Help() string {
	return `Print every entry of the pack pair named by its content hash.
A data pack lists revisions with their delta bases; a history pack
lists per-name ancestry runs. An id naming both kinds dumps both.

Usage:
  packstore info <dir> <pack-id>`
}

func (c *Command) Flags(fs *flag.FlagSet) {}

func (c *Command) Run(ctx *command.Context) error {
	if len(ctx.Args) != 2 {
		return fmt.Errorf("usage: packstore %s", c.Usage())
	}
	dir, id := ctx.Args[0], ctx.Args[1]
	fsys := fs.NewOSFS()

	hasData := fsys.Exists(filepath.Join(dir, id+config.DataPackSuffix))
	hasHist := fsys.Exists(filepath.Join(dir, id+config.HistPackSuffix))
	if !hasData && !hasHist {
		return fmt.Errorf("no pack %s in %s", id, dir)
	}

	if hasData {
		if err := dumpData(fsys, dir, id); err != nil {
			return err
		}
	}
	if hasHist {
		if err := dumpHist(fsys, dir, id); err != nil {
			return err
		}
	}
	return nil
}

func dumpData(fsys fs.FS, dir, id string) error {
	cfg, err := config.LoadStoreConfig(fsys, dir)
	if err != nil {
		return err
	}
	codec, err := compress.ByName(cfg.Compression)
	if err != nil {
		return err
	}
	r, err := datapack.Open(fsys, dir, id, codec)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("data pack %s: %d entries, %s\n", id, r.Entries(), humanize.Bytes(uint64(r.BlobSize())))
	return r.Iterate(func(e datapack.Entry) error {
		base := "fulltext"
		if !e.DeltaBase.IsNull() {
			base = "delta vs " + e.DeltaBase.String()
		}
		fmt.Printf("  %s  %s  %s  (%s compressed)\n",
			e.Node, e.Name, base, humanize.Bytes(uint64(e.PayloadLen)))
		return nil
	})
}

func dumpHist(fsys fs.FS, dir, id string) error {
	r, err := histpack.Open(fsys, dir, id)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("history pack %s: %d names, %s\n", id, r.Names(), humanize.Bytes(uint64(r.BlobSize())))
	last := ""
	return r.Iterate(func(name string, e histpack.Entry) error {
		if name != last {
			fmt.Printf("  %s:\n", name)
			last = name
		}
		line := fmt.Sprintf("    %s  p1 %s  p2 %s  link %s", e.Node, e.P1, e.P2, e.Linknode)
		if e.CopyFrom != "" {
			line += "  copied from " + e.CopyFrom
		}
		fmt.Println(line)
		return nil
	})
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithDebugArgsPrint(),
		),
	)
}
