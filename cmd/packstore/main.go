package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/keshon/packstore/internal/command"
	"github.com/keshon/packstore/internal/config"

	_ "github.com/keshon/packstore/internal/command/ancestry"
	_ "github.com/keshon/packstore/internal/command/chain"
	_ "github.com/keshon/packstore/internal/command/help"
	_ "github.com/keshon/packstore/internal/command/info"
	_ "github.com/keshon/packstore/internal/command/list"
	_ "github.com/keshon/packstore/internal/command/missing"
	_ "github.com/keshon/packstore/internal/command/repack"
	_ "github.com/keshon/packstore/internal/command/verify"
)

func init() {
	if config.IsDev || os.Getenv("DEBUG") == "1" {
		log.SetLevel(log.DebugLevel)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: packstore <command> [args...]")
		fmt.Println("Available commands:")
		for _, cmd := range command.AllCommands() {
			fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Brief())
		}
		os.Exit(0)
	}

	if err := command.Run(os.Args[1:]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
