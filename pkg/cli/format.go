package cli

import (
	"fmt"
	"time"
)

// FormatDuration formats d to a short human readable string
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs = secs - float64(mins*60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// FormatSampleRate formats a rate in Hz, e.g. "48 kHz" or "22.05 kHz".
func FormatSampleRate(hz int) string {
	if hz < 1000 {
		return fmt.Sprintf("%d Hz", hz)
	}
	if hz%1000 == 0 {
		return fmt.Sprintf("%d kHz", hz/1000)
	}
	return fmt.Sprintf("%g kHz", float64(hz)/1000)
}

// FormatRealtime formats the ratio of processing time to audio time, e.g.
// "0.25x". Values below 1 keep up with live audio.
func FormatRealtime(elapsed, audio time.Duration) string {
	if audio <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", elapsed.Seconds()/audio.Seconds())
}
