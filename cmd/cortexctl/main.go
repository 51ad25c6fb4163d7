// Package main provides the entry point for the cortexctl CLI.
package main

import (
	"fmt"
	"os"

	"github.com/cortexmesh/core/cmd/cortexctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
