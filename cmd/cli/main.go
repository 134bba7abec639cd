// Package main is the entry point for flctl, the operator CLI for the
// fedplane controller.
package main

import (
	"os"

	"fedplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
