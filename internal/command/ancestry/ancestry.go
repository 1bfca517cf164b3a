package ancestry

import (
	"errors"
	"flag"
	"fmt"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	"github.com/keshon/packstore/internal/pack"
	"github.com/keshon/packstore/internal/pack/store"
)

type Command struct {
	limit int
}

func (c *Command) Name() string      { return "ancestry" }
func (c *Command) Short() string     { return "" }
func (c *Command) Aliases() []string { return []string{"log"} }
func (c *Command) Usage() string     { return "ancestry [-n <count>] <dir> <name> <node>" }
func (c *Command) Brief() string     { return "Walk a revision's first-parent history" }
func (c *Command) Help() string {
	return `Walk the ancestry of a revision backwards along first parents,
following renames across names. The walk stops at a revision with no
parent, at one the directory does not know, or after -n steps.

Options:
  -n <count>    stop after count revisions (0 = no limit)

Usage:
  packstore ancestry <dir> <name> <node>`
}

func (c *Command) Flags(fs *flag.FlagSet) {
	fs.IntVar(&c.limit, "n", 0, "limit the number of revisions")
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
	s, err := store.NewHistPackStore(fsys, dir)
	if err != nil {
		return err
	}
	defer s.Close()

	for steps := 0; c.limit == 0 || steps < c.limit; steps++ {
		info, err := s.GetNodeInfo(name, node)
		if errors.Is(err, pack.ErrNotFound) {
			fmt.Printf("%s  %s  (not in this directory)\n", node, name)
			return nil
		}
		if err != nil {
			return err
		}

		line := fmt.Sprintf("%s  %s  link %s", node, name, info.Linknode)
		if !info.P2.IsNull() {
			line += "  merge of " + info.P2.String()
		}
		if info.CopyFrom != "" {
			line += "  copied from " + info.CopyFrom
		}
		fmt.Println(line)

		if info.P1.IsNull() {
			return nil
		}
		// A copy record means the first parent lives under the old name.
		if info.CopyFrom != "" {
			name = info.CopyFrom
		}
		node = info.P1
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
