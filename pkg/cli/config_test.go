package cli

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("flcaption", filepath.Join(t.TempDir(), "flcaption", "config.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func TestContextEnginePath(t *testing.T) {
	tests := []struct {
		engine string
		want   string
	}{
		{"", ""},
		{"/etc/flcaption/whisper.yaml", "/etc/flcaption/whisper.yaml"},
		{"engines/sv.yaml", filepath.Join("/home/u/.flcaption", "engines/sv.yaml")},
	}
	for _, tt := range tests {
		ctx := &Context{Engine: tt.engine}
		if got := ctx.EnginePath("/home/u/.flcaption"); got != tt.want {
			t.Errorf("EnginePath(%q) = %q, want %q", tt.engine, got, tt.want)
		}
	}
}

func TestLoadCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flcaption", "config.yaml")
	cfg, err := Load("flcaption", path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.AppName != "flcaption" || cfg.Contexts == nil {
		t.Errorf("cfg = %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
	if cfg.Path() != path || cfg.Dir() != filepath.Dir(path) {
		t.Errorf("Path() = %q, Dir() = %q", cfg.Path(), cfg.Dir())
	}
}

func TestLoadDefaultLocation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	cfg, err := Load("flcaption", "")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "flcaption", DefaultConfigFile); cfg.Path() != want {
		t.Errorf("Path() = %q, want %q", cfg.Path(), want)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("contexts: [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load("flcaption", path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigContextLifecycle(t *testing.T) {
	cfg := newTestConfig(t)

	if err := cfg.AddContext("", &Context{}); err == nil {
		t.Error("AddContext with empty name should fail")
	}
	if err := cfg.AddContext("meeting", &Context{Engine: "whisper.yaml", Direction: "output", Language: "en"}); err != nil {
		t.Fatalf("AddContext error: %v", err)
	}
	if err := cfg.AddContext("anime", &Context{Engine: "sv.yaml", Language: "ja"}); err != nil {
		t.Fatalf("AddContext error: %v", err)
	}
	if got := cfg.Contexts["meeting"].Name; got != "meeting" {
		t.Errorf("Name = %q, want meeting", got)
	}

	if _, err := cfg.Profile(""); !errors.Is(err, ErrNoContext) {
		t.Errorf("Profile(\"\") before use-context = %v, want ErrNoContext", err)
	}
	if err := cfg.UseContext("missing"); err == nil {
		t.Error("UseContext(missing) should fail")
	}
	if err := cfg.UseContext("anime"); err != nil {
		t.Fatalf("UseContext error: %v", err)
	}

	ctx, err := cfg.Profile("")
	if err != nil || ctx.Name != "anime" {
		t.Fatalf("Profile(\"\") = %v, %v", ctx, err)
	}
	ctx, err = cfg.Profile("meeting")
	if err != nil || ctx.Direction != "output" {
		t.Fatalf("Profile(meeting) = %v, %v", ctx, err)
	}

	if got := cfg.ListContexts(); !slices.Equal(got, []string{"anime", "meeting"}) {
		t.Errorf("ListContexts() = %v", got)
	}

	if err := cfg.DeleteContext("anime"); err != nil {
		t.Fatalf("DeleteContext error: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext = %q after deleting it", cfg.CurrentContext)
	}
	if err := cfg.DeleteContext("anime"); err == nil {
		t.Error("DeleteContext twice should fail")
	}
	if _, err := cfg.Profile("anime"); err == nil {
		t.Error("Profile after delete should fail")
	}
}

func TestConfigPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load("flcaption", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddContext("mac", &Context{Engine: "whisper.yaml", Device: "BlackHole 2ch", Listen: ":8765"}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.UseContext("mac"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "current_context: mac") {
		t.Errorf("saved config missing current context:\n%s", data)
	}

	reloaded, err := Load("flcaption", path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.Profile("")
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if got.Device != "BlackHole 2ch" || got.Listen != ":8765" {
		t.Errorf("reloaded context = %+v", got)
	}
}
