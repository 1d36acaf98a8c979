// Package main provides the entry point for the sessiond daemon.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/sessiond/cmd/sessiond/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
