package main

import (
	"fmt"
	"os"

	"github.com/sortd/sortd/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(cli.Deps{})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
