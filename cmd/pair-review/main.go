// Package main provides the entry point for the pair-review CLI.
package main

import (
	"fmt"
	"os"

	"github.com/in-the-loop-labs/pair-review/cmd/pair-review/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
