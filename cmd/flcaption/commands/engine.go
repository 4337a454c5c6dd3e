package commands

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/audio/capture/miniaudio"
	"github.com/xkeyC/fl-caption/pkg/audio/portaudio"
	"github.com/xkeyC/fl-caption/pkg/cli"
	"github.com/xkeyC/fl-caption/pkg/engine"

	"github.com/spf13/cobra"
)

const defaultHost = "miniaudio"

// hostOpener opens an audio host and returns its release function.
type hostOpener func() (capture.Host, func(), error)

var hosts = map[string]hostOpener{
	"miniaudio": func() (capture.Host, func(), error) {
		h, err := miniaudio.ForPlatform(runtime.GOOS)
		if err != nil {
			return nil, nil, err
		}
		return h, func() { h.Close() }, nil
	},
	"portaudio": func() (capture.Host, func(), error) {
		if err := portaudio.Initialize(); err != nil {
			return nil, nil, err
		}
		return portaudio.Host{}, func() { portaudio.Terminate() }, nil
	},
}

func openHost(name string) (capture.Host, func(), error) {
	open, ok := hosts[name]
	if !ok {
		names := make([]string, 0, len(hosts))
		for n := range hosts {
			names = append(names, n)
		}
		slices.Sort(names)
		return nil, nil, fmt.Errorf("unknown audio host %q (available: %s)", name, strings.Join(names, ", "))
	}
	h, release, err := open()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s host: %w", name, err)
	}
	return h, release, nil
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel()}))
}

// engineFlags are the per-command overrides of the engine file.
type engineFlags struct {
	engine    string
	family    string
	device    string
	direction string
	language  string
	task      string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.engine, "engine", "e", "", "engine YAML file (default: from the profile)")
	fs.StringVar(&f.family, "family", "", "model family: "+familyList())
	fs.StringVarP(&f.device, "device", "d", "", "capture device name")
	fs.StringVar(&f.direction, "direction", "", "input or output")
	fs.StringVarP(&f.language, "language", "l", "", "language code or auto")
	fs.StringVar(&f.task, "task", "", "transcribe or translate")
}

func familyList() string {
	var names []string
	for _, f := range asr.Families() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

// loadEngineConfig loads the engine file named by --engine or the profile,
// then applies the profile's overrides followed by the flags.
func loadEngineConfig(f engineFlags) (engine.Config, error) {
	path := f.engine
	var profile *cli.Context
	if path == "" {
		ctx, err := getContext()
		if err != nil {
			return engine.Config{}, err
		}
		cfg, err := getConfig()
		if err != nil {
			return engine.Config{}, err
		}
		profile = ctx
		path = ctx.EnginePath(cfg.Dir())
		if path == "" {
			return engine.Config{}, fmt.Errorf("context %q has no engine file", ctx.Name)
		}
	}
	printVerbose("engine file: %s", path)

	cfg, err := engine.LoadConfig(path)
	if err != nil {
		return engine.Config{}, err
	}
	if profile != nil {
		err := applyOverrides(&cfg, engineFlags{
			family:    profile.Family,
			device:    profile.Device,
			direction: profile.Direction,
			language:  profile.Language,
			task:      profile.Task,
		})
		if err != nil {
			return engine.Config{}, fmt.Errorf("context %q: %w", profile.Name, err)
		}
	}
	if err := applyOverrides(&cfg, f); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

func applyOverrides(cfg *engine.Config, f engineFlags) error {
	if f.family != "" {
		cfg.Family = asr.Family(f.family)
	}
	if f.device != "" {
		cfg.Capture.Device = f.device
	}
	if f.direction != "" {
		dir, err := capture.ParseDirection(f.direction)
		if err != nil {
			return err
		}
		cfg.Capture.Direction = dir
	}
	if f.language != "" {
		cfg.ASR.Language = f.language
		cfg.Session.Language = f.language
	}
	if f.task != "" {
		cfg.ASR.Task = asr.Task(f.task)
	}
	return nil
}
