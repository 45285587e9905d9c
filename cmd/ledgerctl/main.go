// Administer the papertrade ledger.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, command := range commands {
		commander.Register(command, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
