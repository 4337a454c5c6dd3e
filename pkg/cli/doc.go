// Package cli provides common utilities for the flcaption command-line tool.
//
// This package includes:
//   - Caption profiles (contexts) stored kubectl style
//   - Output formatting (JSON, JSON lines, YAML, table)
//   - A lipgloss frame for the live caption view and a log capture writer
//
// Configuration is stored in ~/.flcaption/<app>/, or under $FLCAPTION_HOME
// when set.
//
// Example usage:
//
//	cfg, err := cli.Load("flcaption", "")
//
//	// The profile named by --context, or the current one
//	ctx, err := cfg.Profile(name)
//
//	cli.Output(devices, cli.OutputOptions{Format: cli.FormatTable})
package cli
