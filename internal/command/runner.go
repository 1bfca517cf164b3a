package command

import (
	"flag"
	"fmt"
)

// Run resolves one invocation, parses its flags, and executes the
// command. args excludes the program name.
func Run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}
	cmd, ok := GetCommand(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.Flags(fs)
	fs.Usage = func() {
		fmt.Println(cmd.Help())
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	return cmd.Run(&Context{Args: fs.Args(), Flags: fs})
}
