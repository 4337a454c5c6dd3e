package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/xkeyC/fl-caption/pkg/cli"

	"github.com/spf13/cobra"
)

const appName = "flcaption"

var (
	// Global flags
	cfgFile     string
	contextName string
	outputFile  string
	outputJSON  bool
	verbose     bool
	hostName    string

	// Global configuration
	globalConfig *cli.Config
	configErr    error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flcaption",
	Short: "Real-time captions for live audio",
	Long: `flcaption - real-time speech transcription for microphones and system audio.

Audio is captured from an input device or a monitor of an output device,
resampled to 16 kHz mono, optionally gated by voice activity detection, and
transcribed every couple of seconds by a local Whisper or SenseVoice model.

Caption profiles are stored in ~/.flcaption/flcaption/ and work like kubectl
contexts. Each profile points at an engine YAML file.

Examples:
  # Register a profile and make it the default
  flcaption config add-context anime --engine ~/models/sensevoice.yaml --direction output
  flcaption config use-context anime

  # Caption system audio in the terminal
  flcaption run

  # Serve captions to websocket clients
  flcaption serve --listen :8765
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.flcaption/flcaption/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "caption profile to use")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&hostName, "host", defaultHost, "audio host: miniaudio or portaudio")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	slog.SetDefault(newLogger(os.Stderr))
	globalConfig, configErr = cli.Load(appName, cfgFile)
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// getConfig returns the global configuration
func getConfig() (*cli.Config, error) {
	if configErr != nil {
		return nil, fmt.Errorf("load config: %w", configErr)
	}
	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, nil
}

// getContext returns the caption profile to use
func getContext() (*cli.Context, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	ctx, err := cfg.Profile(contextName)
	if errors.Is(err, cli.ErrNoContext) {
		return nil, fmt.Errorf("no context specified. Use -c flag, --engine, or set a default context with 'flcaption config use-context'")
	}
	return ctx, err
}

// outputFormat returns the format selected by --json, or def.
func outputFormat(def cli.OutputFormat) cli.OutputFormat {
	if outputJSON {
		return cli.FormatJSON
	}
	return def
}

// outputResult outputs the result using cli package
func outputResult(result any, format cli.OutputFormat) error {
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
	})
}

// printVerbose prints verbose output if enabled
func printVerbose(format string, args ...any) {
	cli.PrintVerbose(verbose, format, args...)
}
