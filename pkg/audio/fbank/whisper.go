package fbank

import (
	"math"
)

// Whisper front-end constants.
const (
	WhisperSampleRate = 16000
	WhisperNFFT       = 400
	WhisperHop        = 160
	WhisperChunk      = 30 * WhisperSampleRate
	WhisperFrames     = WhisperChunk / WhisperHop
)

// LogMel computes Whisper-style log-mel spectrograms: a periodic Hann window
// of 400 samples, hop 160, Slaney mel filters, log10 with a floor 8 below the
// maximum and rescaled by (x+4)/4. Input audio is padded or truncated to 30 s.
type LogMel struct {
	numMels int
	window  []float64
	bank    [][]float64
}

// NewLogMel returns a LogMel extractor with numMels bins (80 or 128).
func NewLogMel(numMels int) *LogMel {
	return &LogMel{
		numMels: numMels,
		window:  hannWindow(WhisperNFFT),
		bank:    slaneyFilterBank(numMels, WhisperNFFT, WhisperSampleRate),
	}
}

// NumMels returns the number of mel bins.
func (l *LogMel) NumMels() int {
	return l.numMels
}

// Compute returns a row-major [numMels, WhisperFrames] spectrogram.
func (l *LogMel) Compute(pcm []float32) []float32 {
	audio := make([]float64, WhisperChunk)
	for i := 0; i < len(pcm) && i < WhisperChunk; i++ {
		audio[i] = float64(pcm[i])
	}

	// Reflect-pad by half a window on both sides.
	pad := WhisperNFFT / 2
	padded := make([]float64, len(audio)+2*pad)
	copy(padded[pad:], audio)
	for i := 0; i < pad; i++ {
		padded[pad-1-i] = audio[i+1]
		padded[pad+len(audio)+i] = audio[len(audio)-2-i]
	}

	spec := newSpectrum(WhisperNFFT)
	frame := make([]float64, WhisperNFFT)
	power := make([]float64, WhisperNFFT/2+1)
	out := make([]float64, l.numMels*WhisperFrames)
	maxV := math.Inf(-1)

	for t := 0; t < WhisperFrames; t++ {
		start := t * WhisperHop
		for i := range frame {
			frame[i] = padded[start+i] * l.window[i]
		}
		spec.power(power, frame)
		for m, filter := range l.bank {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * power[k]
				}
			}
			v := math.Log10(math.Max(sum, 1e-10))
			out[m*WhisperFrames+t] = v
			if v > maxV {
				maxV = v
			}
		}
	}

	res := make([]float32, len(out))
	floor := maxV - 8
	for i, v := range out {
		res[i] = float32((math.Max(v, floor) + 4) / 4)
	}
	return res
}
