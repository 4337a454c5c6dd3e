// Package vad gates transcription on voice activity.
//
// A Detector scores fixed-size chunks of 16 kHz mono audio with a speech
// probability. A Gate turns those scores into a decision for a whole
// buffer: the mean probability, and a cleaned copy of the audio in which
// low-confidence chunks are replaced by silence.
package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrVAD wraps detector failures. It is recoverable: callers proceed with
// unfiltered audio.
var ErrVAD = errors.New("vad: detection failed")

// DefaultThreshold is the mean speech probability at or below which a
// buffer is treated as silence.
const DefaultThreshold = 0.1

// Detector scores consecutive chunks of pcm. The returned slice holds one
// probability in [0, 1] per ChunkSize samples; a trailing partial chunk is
// scored as if zero-padded.
type Detector interface {
	ChunkSize() int
	Predict(ctx context.Context, pcm []float32) ([]float32, error)
	Close() error
}

// Result describes one gated buffer.
type Result struct {
	// ChunkProbs holds one speech probability per chunk.
	ChunkProbs []float32
	// Cleaned is the input with low-confidence chunks zeroed.
	Cleaned []float32
	// Prediction is the mean of ChunkProbs.
	Prediction float32
	// Filtered is the number of samples zeroed in Cleaned.
	Filtered int
	Elapsed  time.Duration
}

// Gate applies a Detector with a threshold.
type Gate struct {
	det       Detector
	threshold float32
	logger    *slog.Logger
}

// NewGate returns a gate over det. A non-positive threshold selects
// DefaultThreshold.
func NewGate(det Detector, threshold float32, logger *slog.Logger) (*Gate, error) {
	if det == nil {
		return nil, fmt.Errorf("vad: nil detector")
	}
	if threshold > 1 {
		return nil, fmt.Errorf("vad: threshold must be between 0 and 1, got %f", threshold)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{det: det, threshold: threshold, logger: logger.With("component", "vad")}, nil
}

// Threshold returns the gate threshold.
func (g *Gate) Threshold() float32 {
	return g.threshold
}

// Speech reports whether r should be transcribed.
func (g *Gate) Speech(r Result) bool {
	return r.Prediction > g.threshold
}

// Process scores pcm. Errors wrap ErrVAD.
func (g *Gate) Process(ctx context.Context, pcm []float32) (Result, error) {
	start := time.Now()
	probs, err := g.det.Predict(ctx, pcm)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrVAD, err)
	}
	size := g.det.ChunkSize()
	want := (len(pcm) + size - 1) / size
	if len(probs) != want {
		return Result{}, fmt.Errorf("%w: detector returned %d scores for %d chunks", ErrVAD, len(probs), want)
	}

	res := Result{ChunkProbs: probs, Cleaned: make([]float32, len(pcm))}
	var sum float32
	for i, p := range probs {
		sum += p
		lo := i * size
		hi := min(lo+size, len(pcm))
		if p > g.threshold {
			copy(res.Cleaned[lo:hi], pcm[lo:hi])
		} else {
			res.Filtered += hi - lo
		}
	}
	if len(probs) > 0 {
		res.Prediction = sum / float32(len(probs))
	}
	res.Elapsed = time.Since(start)
	g.logger.Debug("vad calculated prediction",
		"chunks", len(probs), "prediction", res.Prediction,
		"filtered", res.Filtered, "elapsed", res.Elapsed)
	return res, nil
}

// Close closes the underlying detector.
func (g *Gate) Close() error {
	return g.det.Close()
}
