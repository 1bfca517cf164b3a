package command

import "flag"

// Command is one packstore verb. Commands declare their flags up front;
// the runner owns the FlagSet and hands the remaining args to Run.
type Command interface {
	Name() string
	Short() string
	Aliases() []string
	Usage() string
	Brief() string
	Help() string
	Flags(fs *flag.FlagSet)
	Run(ctx *Context) error
}

// Context carries one parsed invocation.
type Context struct {
	Args  []string
	Flags *flag.FlagSet
}
