package chain

import (
	"crypto/sha1"
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/store"
)

type Command struct {
	verbose bool
}

func (c *Command) Name() string      { return "chain" }
func (c *Command) Short() string     { return "" }
func (c *Command) Aliases() []string { return nil }
func (c *Command) Usage() string     { return "chain [-v] <dir> <name> <node>" }
func (c *Command) Brief() string     { return "Show the delta chain of one revision" }
func (c *Command) Help() string {
	return `Resolve the delta chain of a revision across every pack in the
directory, newest link first, ending at its fulltext.

Options:
  -v    also rebuild the fulltext and print its size and hash

Usage:
  packstore chain <dir> <name> <node>`
}

func (c *Command) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "v", false, "rebuild and summarize the fulltext")
}

func (c *Command) Run(ctx *command.Context) error {
	if len(ctx.Args) != 3 {
		return fmt.Errorf("usage: packstore %s", c.Usage())
	}
	dir, name := ctx.Args[0], ctx.Args[1]
	node, err := pack.NodeFromHex(ctx.Args[2])
	if err != nil {
		return err
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
	s, err := store.NewDataPackStore(fsys, dir, codec)
	if err != nil {
		return err
	}
	defer s.Close()

	links, err := s.GetDeltaChain(name, node)
	if err != nil {
		return err
	}
	for i, link := range links {
		base := "fulltext"
		if !link.DeltaBase.IsNull() {
			base = "delta vs " + link.DeltaBase.String()
		}
		fmt.Printf("%2d  %s  %s  (%s)\n", i, link.Node, base, humanize.Bytes(uint64(len(link.Data))))
	}

	if c.verbose {
		text, err := s.Get(name, node)
		if err != nil {
			return err
		}
		fmt.Printf("fulltext: %s, sha1 %x\n", humanize.Bytes(uint64(len(text))), sha1.Sum(text))
	}
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
