// Package main provides the entry point for the tetherd CLI.
package main

import (
	"fmt"
	"os"

	"github.com/tetherhq/tether/cmd/tetherd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
