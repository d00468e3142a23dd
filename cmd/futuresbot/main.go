package main

import (
	"os"

	"github.com/rustyeddy/futuresbot/cmd/futuresbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
