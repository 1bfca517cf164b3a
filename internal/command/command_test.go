package command_test

import (
	"flag"
	"strings"
	"testing"

	"github.com/keshon/packstore/internal/command"
)

type fakeCommand struct {
	name    string
	short   string
	aliases []string
	mode    string
	runs    int
	gotArgs []string
}

func (c *fakeCommand) Name() string      { return c.name }
func (c *fakeCommand) Short() string     { return c.short }
func (c *fakeCommand) Aliases() []string { return c.aliases }
func (c *fakeCommand) Usage() string     { return c.name + " [args]" }
func (c *fakeCommand) Brief() string     { return "fake command for tests" }
func (c *fakeCommand) Help() string      { return "fake command for tests" }

func (c *fakeCommand) Flags(fs *flag.FlagSet) {
	fs.StringVar(&c.mode, "mode", "", "test flag")
}

func (c *fakeCommand) Run(ctx *command.Context) error {
	c.runs++
	c.gotArgs = ctx.Args
	return nil
}

func TestRegistryLookup(t *testing.T) {
	cmd := &fakeCommand{name: "frob", short: "F", aliases: []string{"fr"}}
	command.RegisterCommand(cmd)

	for _, name := range []string{"frob", "fr", "F"} {
		got, ok := command.GetCommand(name)
		if !ok {
			t.Fatalf("lookup %q failed", name)
		}
		if got != command.Command(cmd) {
			t.Fatalf("lookup %q returned a different command", name)
		}
	}
	if _, ok := command.GetCommand("nope"); ok {
		t.Fatal("lookup of an unregistered name succeeded")
	}

	seen := 0
	for _, c := range command.AllCommands() {
		if c == command.Command(cmd) {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("command listed %d times, want once", seen)
	}
}

func TestRunDispatch(t *testing.T) {
	cmd := &fakeCommand{name: "grind", short: "G", aliases: []string{"gr"}}
	command.RegisterCommand(cmd)

	if err := command.Run([]string{"grind", "-mode", "fast", "a", "b"}); err != nil {
		t.Fatal(err)
	}
	if cmd.runs != 1 {
		t.Fatalf("runs = %d, want 1", cmd.runs)
	}
	if cmd.mode != "fast" {
		t.Fatalf("flag mode = %q, want %q", cmd.mode, "fast")
	}
	if strings.Join(cmd.gotArgs, " ") != "a b" {
		t.Fatalf("args = %v, want [a b]", cmd.gotArgs)
	}

	if err := command.Run([]string{"gr"}); err != nil {
		t.Fatal(err)
	}
	if cmd.runs != 2 {
		t.Fatalf("alias dispatch runs = %d, want 2", cmd.runs)
	}
}

func TestRunErrors(t *testing.T) {
	if err := command.Run(nil); err == nil {
		t.Fatal("empty invocation succeeded")
	}
	err := command.Run([]string{"no-such-command"})
	if err == nil || !strings.Contains(err.Error(), "no-such-command") {
		t.Fatalf("unknown command error = %v", err)
	}

	cmd := &fakeCommand{name: "flagged"}
	command.RegisterCommand(cmd)
	if err := command.Run([]string{"flagged", "-bogus"}); err == nil {
		t.Fatal("undefined flag parsed without error")
	}
	if cmd.runs != 0 {
		t.Fatal("command ran despite a flag error")
	}
}

func TestApplyMiddlewares(t *testing.T) {
	var order []string
	tag := func(name string) command.Middleware {
		return func(next command.Command) command.Command {
			return &command.WrappedCommand{
				Command: next,
				Wrap: func(ctx *command.Context) error {
					order = append(order, name)
					return next.Run(ctx)
				},
			}
		}
	}

	cmd := &fakeCommand{name: "inner"}
	wrapped := command.ApplyMiddlewares(cmd, tag("first"), tag("second"))
	if wrapped.Name() != "inner" {
		t.Fatalf("wrapper reports name %q", wrapped.Name())
	}
	if err := wrapped.Run(&command.Context{}); err != nil {
		t.Fatal(err)
	}
	if cmd.runs != 1 {
		t.Fatalf("inner command ran %d times", cmd.runs)
	}
	if strings.Join(order, ",") != "second,first" {
		t.Fatalf("middleware order = %v", order)
	}
}
