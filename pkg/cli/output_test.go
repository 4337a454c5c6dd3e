package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type profile struct {
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language" yaml:"language"`
}

func TestOutput(t *testing.T) {
	p := profile{Name: "anime", Language: "ja"}
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{"", "name: anime\nlanguage: ja\n"},
		{FormatYAML, "name: anime\nlanguage: ja\n"},
		{FormatJSON, "{\n  \"name\": \"anime\",\n  \"language\": \"ja\"\n}\n"},
		{FormatJSONL, "{\"name\":\"anime\",\"language\":\"ja\"}\n"},
		{FormatTable, "name: anime\nlanguage: ja\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := Output(p, OutputOptions{Format: tt.format, Writer: &buf}); err != nil {
			t.Fatalf("Output(%q): %v", tt.format, err)
		}
		if buf.String() != tt.want {
			t.Errorf("Output(%q) = %q, want %q", tt.format, buf.String(), tt.want)
		}
	}
}

func TestOutputUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Output("data", OutputOptions{Format: "srt", Writer: &buf}); err == nil {
		t.Error("Output should fail for unsupported format")
	}
}

func TestOutputToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := Output(profile{Name: "desk"}, OutputOptions{Format: FormatJSON, File: path}); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got profile
	if err := json.Unmarshal(content, &got); err != nil {
		t.Fatalf("invalid JSON in file: %v", err)
	}
	if got.Name != "desk" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestOutputWriterOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unused.yaml")
	var buf bytes.Buffer
	if err := Output(profile{Name: "x"}, OutputOptions{File: path, Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file was created: %v", err)
	}
	if !strings.Contains(buf.String(), "name: x") {
		t.Errorf("got %q", buf.String())
	}
}

type deviceTable []struct{ name, rate string }

func (d deviceTable) Table() ([]string, [][]string) {
	rows := make([][]string, len(d))
	for i, r := range d {
		rows[i] = []string{r.name, r.rate}
	}
	return []string{"NAME", "RATE"}, rows
}

func TestOutputTable(t *testing.T) {
	var buf bytes.Buffer
	devs := deviceTable{{"Built-in Microphone", "48 kHz"}, {"USB", "16 kHz"}}
	if err := Output(devs, OutputOptions{Format: FormatTable, Writer: &buf}); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "RATE") {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Index(lines[1], "48 kHz") != strings.Index(lines[2], "16 kHz") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestWriteJSONLine(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []string{"a", "b"} {
		if err := WriteJSONLine(&buf, map[string]string{"text": v}); err != nil {
			t.Fatal(err)
		}
	}
	if got := buf.String(); got != "{\"text\":\"a\"}\n{\"text\":\"b\"}\n" {
		t.Errorf("got %q", got)
	}
}
