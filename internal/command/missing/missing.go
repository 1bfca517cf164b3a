package missing

import (
	"flag"
	"fmt"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/store"
)

type Command struct{}

func (c *Command) Name() string      { return "missing" }
func (c *Command) Short() string     { return "" }
func (c *Command) Aliases() []string { return nil }
func (c *Command) Usage() string     { return "missing <dir> <name>:<node> [<name>:<node> ...]" }
func (c *Command) Brief() string     { return "Probe which keys a directory does not hold" }
func (c *Command) Help() string {
	return `Check keys against every pack in the directory and report the
ones absent from the content packs and from the history packs. A key
is written as name:node with the node in hex.

Usage:
  packstore missing <dir> a.txt:0a1b... b.txt:ffee...`
}

func (c *Command) Flags(fs *flag.FlagSet) {}

func (c *Command) Run(ctx *command.Context) error {
	if len(ctx.Args) < 2 {
		return fmt.Errorf("usage: packstore %s", c.Usage())
	}
	dir := ctx.Args[0]
	keys := make([]pack.Key, 0, len(ctx.Args)-1)
	for _, arg := range ctx.Args[1:] {
		k, err := pack.ParseKey(arg)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}

	fsys := fs.NewOSFS()
	cfg, err := config.LoadStoreConfig(fsys, dir)
	if err != nil {
		return err
	}
	codec, err := compress.ByName(cfg.Compression)
	if err != nil {
		return err
	}

	data, err := store.NewDataPackStore(fsys, dir, codec)
	if err != nil {
		return err
	}
	defer data.Close()
	hist, err := store.NewHistPackStore(fsys, dir)
	if err != nil {
		return err
	}
	defer hist.Close()

	missingData, err := data.GetMissing(keys)
	if err != nil {
		return err
	}
	missingHist, err := hist.GetMissing(keys)
	if err != nil {
		return err
	}

	report("content", keys, missingData)
	report("history", keys, missingHist)
	return nil
}

func report(kind string, keys, missing []pack.Key) {
	if len(missing) == 0 {
		fmt.Printf("%s: all %d keys present\n", kind, len(keys))
		return
	}
	fmt.Printf("%s: %d of %d keys missing:\n", kind, len(missing), len(keys))
	for _, k := range missing {
		fmt.Printf("  %s\n", k)
	}
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithDebugArgsPrint(),
		),
	)
}
