package main

import (
	"errors"
	"fmt"
	"os"

	authctlcmd "github.com/telekom/authcoord/pkg/authctl/cmd"
	"github.com/telekom/authcoord/pkg/coordinator"
)

const (
	exitError = 1
	// exitInteractionRequired lets scripts tell "sign in first" apart from
	// other failures.
	exitInteractionRequired = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := authctlcmd.NewRootCommand(authctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, coordinator.ErrInteractionRequired) {
			return exitInteractionRequired
		}
		return exitError
	}
	return 0
}
