package cli

import (
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	t.Setenv(HomeEnv, "")
	paths, err := NewPaths("flcaption")
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}
	if paths.HomeDir == "" || paths.Base != "" {
		t.Errorf("paths = %+v", paths)
	}
	if want := filepath.Join(paths.HomeDir, DefaultBaseDir); paths.BaseDir() != want {
		t.Errorf("BaseDir() = %q, want %q", paths.BaseDir(), want)
	}
}

func TestNewPathsHomeEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	paths, err := NewPaths("flcaption")
	if err != nil {
		t.Fatalf("NewPaths error: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BaseDir", paths.BaseDir(), dir},
		{"AppDir", paths.AppDir(), filepath.Join(dir, "flcaption")},
		{"ConfigFile", paths.ConfigFile(), filepath.Join(dir, "flcaption", DefaultConfigFile)},
		{"ModelsDir", paths.ModelsDir(), filepath.Join(dir, "models")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
