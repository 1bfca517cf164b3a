package middleware

import (
	log "github.com/sirupsen/logrus"

	"github.com/keshon/packstore/internal/command"
)

// WithDebugArgsPrint logs the parsed invocation before running the command.
func WithDebugArgsPrint() command.Middleware {
	return func(cmd command.Command) command.Command {
		return &command.WrappedCommand{
			Command: cmd,
			Wrap: func(ctx *command.Context) error {
				log.Debugf("%s args: %v", cmd.Name(), ctx.Args)
				return cmd.Run(ctx)
			},
		}
	}
}
