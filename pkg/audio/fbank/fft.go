package fbank

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// spectrum computes power spectra of real frames of a fixed length. It is not
// safe for concurrent use.
type spectrum struct {
	fft    *fourier.FFT
	coeffs []complex128
}

func newSpectrum(n int) *spectrum {
	return &spectrum{fft: fourier.NewFFT(n), coeffs: make([]complex128, n/2+1)}
}

// power writes |X[k]|^2 for k in [0, n/2] into dst.
func (s *spectrum) power(dst, frame []float64) {
	s.coeffs = s.fft.Coefficients(s.coeffs, frame)
	for k, c := range s.coeffs {
		dst[k] = real(c)*real(c) + imag(c)*imag(c)
	}
}
