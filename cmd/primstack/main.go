package main

import (
	"os"

	"github.com/meshula/primstack/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own diagnostics; the error carries the code.
		os.Exit(cli.GetExitCode(err))
	}
}
