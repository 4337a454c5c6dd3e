package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int
		want string
	}{
		{0, "0ms"},
		{1, "1ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{59000, "59.0s"},
		{60000, "1m0.0s"},
		{90000, "1m30.0s"},
		{125500, "2m5.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatDuration(time.Duration(tt.ms) * time.Millisecond)
			if got != tt.want {
				t.Errorf("FormatDuration(%dms) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormatSampleRate(t *testing.T) {
	tests := []struct {
		hz   int
		want string
	}{
		{800, "800 Hz"},
		{16000, "16 kHz"},
		{44100, "44.1 kHz"},
		{22050, "22.05 kHz"},
		{48000, "48 kHz"},
	}
	for _, tt := range tests {
		if got := FormatSampleRate(tt.hz); got != tt.want {
			t.Errorf("FormatSampleRate(%d) = %q, want %q", tt.hz, got, tt.want)
		}
	}
}

func TestFormatRealtime(t *testing.T) {
	if got := FormatRealtime(500*time.Millisecond, 2*time.Second); got != "0.25x" {
		t.Errorf("FormatRealtime = %q, want 0.25x", got)
	}
	if got := FormatRealtime(time.Second, 0); got != "-" {
		t.Errorf("FormatRealtime with no audio = %q, want -", got)
	}
}
