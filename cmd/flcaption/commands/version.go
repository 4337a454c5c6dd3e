package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/xkeyC/fl-caption/cmd/flcaption/internal/build"
	"github.com/xkeyC/fl-caption/pkg/asr/whispercpp"
	"github.com/xkeyC/fl-caption/pkg/cli"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(build.String())
		if verbose {
			fmt.Printf("  %-13s %s\n", "go:", runtime.Version())
			fmt.Printf("  %-13s %s\n", "families:", strings.ReplaceAll(familyList(), ", ", " "))
			fmt.Printf("  %-13s %v\n", "whisper.cpp:", whispercpp.Available())
			if cfg, err := getConfig(); err == nil {
				fmt.Printf("  %-13s %s\n", "config:", cfg.Path())
				if paths, err := cli.NewPaths(appName); err == nil {
					fmt.Printf("  %-13s %s\n", "models:", paths.ModelsDir())
				}
			} else {
				fmt.Printf("  %-13s (unavailable: %v)\n", "config:", err)
			}
		}
	},
}
