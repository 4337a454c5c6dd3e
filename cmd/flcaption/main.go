// Package main provides the flcaption CLI.
//
// Usage:
//
//	flcaption [flags] <command> [args]
//
// Commands:
//
//	run      - Caption live audio in the terminal
//	serve    - Run sessions behind an HTTP and websocket API
//	devices  - List capture devices
//	config   - Manage caption profiles
//	version  - Show version information
//
// Configuration:
//
//	The CLI stores profiles in ~/.flcaption/flcaption/config.yaml.
//	Each profile points at an engine YAML file naming the model family,
//	model paths and session tuning.
package main

import (
	"fmt"
	"os"

	"github.com/xkeyC/fl-caption/cmd/flcaption/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
