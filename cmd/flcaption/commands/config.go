package commands

import (
	"fmt"

	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/cli"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Caption profile management",
	Long: `Manage flcaption caption profiles.

Profiles are stored in ~/.flcaption/flcaption/config.yaml. Each profile names
an engine YAML file and optional overrides for device, direction, language
and task.`,
}

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Add or replace a profile",
	Long: `Add a caption profile.

Examples:
  flcaption config add-context meeting --engine whisper.yaml --language en
  flcaption config add-context anime --engine sv.yaml --direction output --device "BlackHole 2ch"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		flags := cmd.Flags()
		enginePath, _ := flags.GetString("engine")
		if enginePath == "" {
			return fmt.Errorf("engine is required")
		}
		ctx := &cli.Context{Engine: enginePath}
		ctx.Family, _ = flags.GetString("family")
		ctx.Device, _ = flags.GetString("device")
		ctx.Direction, _ = flags.GetString("direction")
		ctx.Language, _ = flags.GetString("language")
		ctx.Task, _ = flags.GetString("task")
		ctx.Listen, _ = flags.GetString("listen")

		if ctx.Direction != "" {
			if _, err := capture.ParseDirection(ctx.Direction); err != nil {
				return err
			}
		}

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess("Context '%s' added successfully", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(name); err != nil {
			return err
		}
		cli.PrintSuccess("Context '%s' deleted", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(name); err != nil {
			return err
		}
		cli.PrintSuccess("Switched to context '%s'", name)
		return nil
	},
}

var configGetContextCmd = &cobra.Command{
	Use:   "get-context",
	Short: "Show the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set")
		} else {
			fmt.Println(cfg.CurrentContext)
		}
		return nil
	},
}

var configListContextsCmd = &cobra.Command{
	Use:   "list-contexts",
	Short: "List all profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if len(cfg.Contexts) == 0 {
			fmt.Println("No contexts configured")
			return nil
		}
		for _, name := range cfg.ListContexts() {
			marker := "  "
			if name == cfg.CurrentContext {
				marker = "* "
			}
			fmt.Printf("%s%s\t%s\n", marker, name, cfg.Contexts[name].Engine)
		}
		return nil
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View full configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		return outputResult(cfg, outputFormat(cli.FormatYAML))
	},
}

func init() {
	configAddContextCmd.Flags().StringP("engine", "e", "", "engine YAML file (required)")
	configAddContextCmd.Flags().String("family", "", "model family override")
	configAddContextCmd.Flags().StringP("device", "d", "", "capture device name")
	configAddContextCmd.Flags().String("direction", "", "input or output")
	configAddContextCmd.Flags().StringP("language", "l", "", "language code or auto")
	configAddContextCmd.Flags().String("task", "", "transcribe or translate")
	configAddContextCmd.Flags().String("listen", "", "address for serve")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextCmd)
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configViewCmd)
}
