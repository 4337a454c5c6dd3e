package vad

import (
	"context"
	"fmt"
	"math"

	"github.com/xkeyC/fl-caption/pkg/audio/pcm"
)

// Energy is a model-free Detector scoring chunks by RMS level. A chunk at
// or above FullScale RMS scores 1; silence scores 0.
type Energy struct {
	Size      int
	FullScale float64
}

// NewEnergy returns an energy detector with 512-sample chunks.
func NewEnergy(fullScale float64) (*Energy, error) {
	if fullScale <= 0 {
		return nil, fmt.Errorf("vad: full scale must be positive, got %f", fullScale)
	}
	return &Energy{Size: 512, FullScale: fullScale}, nil
}

// ChunkSize implements Detector.
func (e *Energy) ChunkSize() int {
	return e.Size
}

// Predict implements Detector.
func (e *Energy) Predict(ctx context.Context, samples []float32) ([]float32, error) {
	n := (len(samples) + e.Size - 1) / e.Size
	out := make([]float32, n)
	for i := range out {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		lo := i * e.Size
		hi := min(lo+e.Size, len(samples))
		// a partial chunk scores as if zero-padded
		rms := pcm.RMS(samples[lo:hi]) * math.Sqrt(float64(hi-lo)/float64(e.Size))
		out[i] = float32(min(1, rms/e.FullScale))
	}
	return out, nil
}

// Close implements Detector.
func (e *Energy) Close() error {
	return nil
}
