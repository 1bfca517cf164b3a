package verify

import (
	"flag"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/compress"
	"github.com/keshon/packstore/internal/config"
	"github.com/keshon/packstore/internal/fs"
	"github.com/keshon/packstore/internal/middleware"
	"github.com/keshon/packstore/internal/pack/datapack"
	"github.com/keshon/packstore/internal/pack/histpack"
	"github.com/keshon/packstore/internal/pack/store"
	"github.com/keshon/packstore/internal/util"
)

type Command struct{}

func (c *Command) Name() string      { return "verify" }
func (c *Command) Short() string     { return "V" }
func (c *Command) Aliases() []string { return []string{"scan", "check"} }
func (c *Command) Usage() string     { return "verify <dir>" }
func (c *Command) Brief() string     { return "Verify the integrity of every pack in a directory" }
func (c *Command) Help() string {
	return `Verify pack integrity.

Recomputes each pack's content hash against its file name, cross-checks
the index against the pack payload, and walks every delta chain to its
base. Packs are checked in parallel.

Usage:
  verify <dir>  - Scan all packs under <dir> and report corrupt ones.
`
}

func (c *Command) Flags(fs *flag.FlagSet) {}

type target struct {
	kind string
	id   string
}

type check struct {
	target
	err error
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

	var targets []target
	for _, id := range dataIDs {
		targets = append(targets, target{kind: "data", id: id})
	}
	for _, id := range histIDs {
		targets = append(targets, target{kind: "history", id: id})
	}
	if len(targets) == 0 {
		fmt.Println("No packs found. Nothing to verify.")
		return nil
	}

	start := time.Now()

	var mu sync.Mutex
	checks := make([]check, 0, len(targets))
	err = util.Parallel(targets, util.WorkerCount(), func(t target) error {
		var verr error
		switch t.kind {
		case "data":
			r, err := datapack.Open(fsys, dir, t.id, codec)
			if err != nil {
				verr = err
			} else {
				verr = r.Verify()
				r.Close()
			}
		case "history":
			r, err := histpack.Open(fsys, dir, t.id)
			if err != nil {
				verr = err
			} else {
				verr = r.Verify()
				r.Close()
			}
		}
		mu.Lock()
		checks = append(checks, check{target: t, err: verr})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(checks, func(i, j int) bool {
		if checks[i].id != checks[j].id {
			return checks[i].id < checks[j].id
		}
		return checks[i].kind < checks[j].kind
	})

	fmt.Print("\033[90mLegend:\033[0m \033[32m█\033[0m OK   \033[31m█\033[0m Corrupt\n\n")

	count, corrupt := 0, 0
	for _, ck := range checks {
		if ck.err == nil {
			fmt.Print("\033[32m█\033[0m")
		} else {
			fmt.Print("\033[31m█\033[0m")
			corrupt++
		}
		count++
		if count%100 == 0 {
			fmt.Printf("  %d\n", count)
		}
	}
	if count%100 != 0 {
		fmt.Printf("  %d\n", count)
	}

	fmt.Printf("\nScan complete in %s.\n", time.Since(start).Truncate(time.Millisecond))
	fmt.Printf("Packs OK: \033[32m%d\033[0m   Corrupt: \033[31m%d\033[0m\n", count-corrupt, corrupt)

	if corrupt > 0 {
		fmt.Println("\nCorrupt packs:")
		for _, ck := range checks {
			if ck.err != nil {
				fmt.Printf("\033[31m%s\033[0m  %s: %v\n", ck.id, ck.kind, ck.err)
			}
		}
		return fmt.Errorf("%d corrupt packs in %s", corrupt, dir)
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
