package cli

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "FLCAPTION_HOME"

// Paths locates the files of an app under the flcaption base directory:
//
//	~/.flcaption/
//	  models/          shared model files
//	  <app>/config.yaml
type Paths struct {
	AppName string
	HomeDir string

	// Base, when set, replaces HomeDir/DefaultBaseDir.
	Base string
}

// NewPaths returns the paths of appName. HomeEnv takes precedence over the
// user's home directory.
func NewPaths(appName string) (*Paths, error) {
	if base := os.Getenv(HomeEnv); base != "" {
		return &Paths{AppName: appName, Base: base}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{AppName: appName, HomeDir: home}, nil
}

func (p *Paths) BaseDir() string {
	if p.Base != "" {
		return p.Base
	}
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

func (p *Paths) AppDir() string {
	return filepath.Join(p.BaseDir(), p.AppName)
}

func (p *Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), DefaultConfigFile)
}

// ModelsDir is where engine files usually point their model paths.
func (p *Paths) ModelsDir() string {
	return filepath.Join(p.BaseDir(), "models")
}
