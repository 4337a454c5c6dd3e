// Package fbank computes speech model front-end features from PCM audio.
//
// Two front-ends are provided:
//
//   - Extractor: Kaldi-style log mel filterbank ([T, numMels]) as used by
//     CTC models such as SenseVoice, followed by LFR stacking and CMVN.
//   - LogMel: the Whisper log-mel spectrogram ([numMels, 3000]).
//
// Default Extractor parameters follow the Kaldi convention:
//
//	SampleRate:  16000
//	WindowSize:  400 (25 ms)
//	HopSize:     160 (10 ms)
//	FFTSize:     512
//	NumMels:     80
//	LowFreq:     20
//	HighFreq:  7600
//	PreEmphasis: 0.97
package fbank

import (
	"math"
)

// Config controls mel filterbank extraction parameters.
type Config struct {
	SampleRate  int     // audio sample rate in Hz (default 16000)
	WindowSize  int     // window length in samples (default 400 = 25ms)
	HopSize     int     // hop length in samples (default 160 = 10ms)
	FFTSize     int     // FFT size (default 512)
	NumMels     int     // number of mel bins (default 80)
	LowFreq     float64 // lowest mel frequency (default 20)
	HighFreq    float64 // highest mel frequency (default 7600)
	PreEmphasis float64 // pre-emphasis coefficient (default 0.97)
	RemoveDC    bool    // subtract the per-frame mean before windowing
	Scale       float64 // input multiplier; 32768 maps [-1,1] to int16 range
}

// DefaultConfig returns the standard 80-bin Kaldi fbank config.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
		Scale:       1,
	}
}

// SenseVoiceConfig returns the fbank config expected by SenseVoice models:
// int16-scaled input, DC removal and a mel range up to Nyquist.
func SenseVoiceConfig() Config {
	cfg := DefaultConfig()
	cfg.HighFreq = 8000
	cfg.RemoveDC = true
	cfg.Scale = 32768
	return cfg
}

// Extractor computes mel filterbank features from PCM samples. It is not
// safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64 // Hamming window
	melBank [][]float64
	spec    *spectrum
}

// New creates a new fbank Extractor with the given config.
func New(cfg Config) *Extractor {
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	return &Extractor{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
		spec:    newSpectrum(cfg.FFTSize),
	}
}

// Extract computes log mel filterbank features from PCM float32 samples.
// Input: pcm is normalized float32 audio samples (range [-1, 1]).
// Output: [T][numMels] float32 matrix where T = (len(pcm) - windowSize) / hopSize + 1.
func (e *Extractor) Extract(pcm []float32) [][]float32 {
	cfg := e.cfg
	n := len(pcm)
	if n < cfg.WindowSize {
		return nil
	}

	numFrames := (n-cfg.WindowSize)/cfg.HopSize + 1
	features := make([][]float32, numFrames)

	raw := make([]float64, cfg.WindowSize)
	frame := make([]float64, cfg.FFTSize)
	power := make([]float64, cfg.FFTSize/2+1)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		var mean float64
		for i := range raw {
			raw[i] = float64(pcm[start+i]) * cfg.Scale
			mean += raw[i]
		}
		if cfg.RemoveDC {
			mean /= float64(len(raw))
			for i := range raw {
				raw[i] -= mean
			}
		}

		// Pre-emphasis + windowing
		for i := cfg.WindowSize - 1; i >= 0; i-- {
			s := raw[i]
			if i > 0 {
				s -= cfg.PreEmphasis * raw[i-1]
			} else {
				s -= cfg.PreEmphasis * raw[0]
			}
			frame[i] = s * e.window[i]
		}
		for i := cfg.WindowSize; i < len(frame); i++ {
			frame[i] = 0
		}

		e.spec.power(power, frame)

		mel := make([]float32, cfg.NumMels)
		for m := 0; m < cfg.NumMels; m++ {
			sum := 0.0
			for k, w := range e.melBank[m] {
				sum += w * power[k]
			}
			// Log with floor to avoid -inf
			if sum < 1e-10 {
				sum = 1e-10
			}
			mel[m] = float32(math.Log(sum))
		}
		features[t] = mel
	}

	return features
}

// CMVN applies utterance-level mean and variance normalization in place.
// For each mel dimension, subtracts the mean and divides by the standard
// deviation across all frames.
func CMVN(features [][]float32) {
	if len(features) == 0 {
		return
	}
	numMels := len(features[0])
	T := float64(len(features))

	for m := 0; m < numMels; m++ {
		sum := float64(0)
		for _, f := range features {
			sum += float64(f[m])
		}
		mean := sum / T

		varSum := float64(0)
		for _, f := range features {
			d := float64(f[m]) - mean
			varSum += d * d
		}
		std := math.Sqrt(varSum / T)
		if std < 1e-10 {
			std = 1e-10
		}

		for _, f := range features {
			f[m] = float32((float64(f[m]) - mean) / std)
		}
	}
}

// Flatten converts [T][D] to a flat row-major [T*D] slice.
func Flatten(features [][]float32) []float32 {
	if len(features) == 0 {
		return nil
	}
	cols := len(features[0])
	flat := make([]float32, len(features)*cols)
	for t, row := range features {
		copy(flat[t*cols:], row)
	}
	return flat
}
