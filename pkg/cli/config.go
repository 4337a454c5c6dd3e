package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"
)

const (
	DefaultBaseDir    = ".flcaption"
	DefaultConfigFile = "config.yaml"
)

// ErrNoContext is returned by Profile when no name is given and no current
// context is set.
var ErrNoContext = errors.New("no current context set")

// Config holds the named caption profiles, kubectl style.
type Config struct {
	AppName string `yaml:"-"`

	CurrentContext string              `yaml:"current_context,omitempty"`
	Contexts       map[string]*Context `yaml:"contexts,omitempty"`

	configPath string
}

// Context is a caption profile: which engine file to load and the
// overrides applied on top of it. Empty fields keep the engine file's value.
type Context struct {
	Name string `yaml:"name"`

	// Engine is the path of an engine YAML file. Relative paths are
	// resolved against the config directory.
	Engine string `yaml:"engine"`

	Family    string `yaml:"family,omitempty"`
	Device    string `yaml:"device,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	Language  string `yaml:"language,omitempty"`
	Task      string `yaml:"task,omitempty"`

	// Listen is the address used by serve.
	Listen string `yaml:"listen,omitempty"`
}

// Load reads the profiles of appName from path, or from the default
// location when path is empty. A missing file is created.
func Load(appName, path string) (*Config, error) {
	if path == "" {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = paths.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	cfg.AppName = appName
	cfg.configPath = path
	if err != nil {
		return cfg, cfg.Save()
	}
	return cfg, nil
}

// Save writes the profiles back to the file they were loaded from.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) Path() string { return c.configPath }

func (c *Config) Dir() string { return filepath.Dir(c.configPath) }

// AddContext adds or replaces a profile and saves.
func (c *Config) AddContext(name string, ctx *Context) error {
	if name == "" {
		return fmt.Errorf("context name is required")
	}
	ctx.Name = name
	c.Contexts[name] = ctx
	return c.Save()
}

// DeleteContext removes a profile, clearing the current context if it
// pointed there, and saves.
func (c *Config) DeleteContext(name string) error {
	if _, err := c.Profile(name); err != nil {
		return err
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext makes name the current profile and saves.
func (c *Config) UseContext(name string) error {
	if _, err := c.Profile(name); err != nil {
		return err
	}
	c.CurrentContext = name
	return c.Save()
}

// Profile returns the named profile, or the current one if name is empty.
func (c *Config) Profile(name string) (*Context, error) {
	if name == "" {
		if c.CurrentContext == "" {
			return nil, ErrNoContext
		}
		name = c.CurrentContext
	}
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// ListContexts returns the profile names, sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EnginePath returns the profile's engine file, resolved against dir.
func (ctx *Context) EnginePath(dir string) string {
	if ctx.Engine == "" || filepath.IsAbs(ctx.Engine) {
		return ctx.Engine
	}
	return filepath.Join(dir, ctx.Engine)
}
