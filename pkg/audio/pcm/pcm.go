package pcm

import (
	"fmt"
	"math"
	"time"
)

// Mono16K is the format expected by speech models: 16 kHz, one channel.
var Mono16K = Format{SampleRate: 16000, Channels: 1}

// Format describes interleaved float32 PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether both the sample rate and the channel count are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Mono returns f with a single channel.
func (f Format) Mono() Format {
	return Format{SampleRate: f.SampleRate, Channels: 1}
}

// Frames returns the number of frames in n interleaved samples. A trailing
// partial frame counts as a frame.
func (f Format) Frames(n int) int {
	if f.Channels <= 1 {
		return n
	}
	return (n + f.Channels - 1) / f.Channels
}

// SamplesInDuration returns the number of interleaved samples in d.
func (f Format) SamplesInDuration(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second) * int64(max(f.Channels, 1)))
}

// Duration returns the duration of n interleaved samples.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames(n)) * time.Second / time.Duration(f.SampleRate)
}

// String returns a human-readable string representation of the format.
func (f Format) String() string {
	return fmt.Sprintf("audio/f32; rate=%d; channels=%d", f.SampleRate, f.Channels)
}

// MergeChannels averages each group of channels interleaved samples into one
// mono sample. A trailing partial group is averaged over the samples present.
// channels <= 1 returns a copy of samples.
func MergeChannels(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	out := make([]float32, 0, (len(samples)+channels-1)/channels)
	for i := 0; i < len(samples); i += channels {
		end := min(i+channels, len(samples))
		var sum float32
		for _, s := range samples[i:end] {
			sum += s
		}
		out = append(out, sum/float32(end-i))
	}
	return out
}

// Int16ToFloat32 converts 16-bit samples to float32 in [-1, 1).
func Int16ToFloat32(src []int16) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts float32 samples to 16-bit, clamping out-of-range
// values.
func Float32ToInt16(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, s := range src {
		switch {
		case s >= 1:
			out[i] = 32767
		case s <= -1:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
