// Package analysis provides spectral diagnostics for blocks the detector has
// already classified. Nothing here feeds back into detection.
package analysis

import (
	"math"
	"math/cmplx"

	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// BlockSpectrum returns the magnitude spectrum of the channel average of a
// block, Hann-windowed, for bins [0, n/2].
func BlockSpectrum(primary, secondary []fixed.Q) []float64 {
	n := len(primary)
	if len(secondary) < n {
		n = len(secondary)
	}
	if n < 2 {
		return nil
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = (primary[i].Float() + secondary[i].Float()) / 2
	}
	w := window.Hann(n)
	for i := range x {
		x[i] *= w[i]
	}

	spec := fft.FFTReal(x)
	mags := make([]float64, n/2+1)
	for k := range mags {
		mags[k] = cmplx.Abs(spec[k])
	}
	return mags
}

// HighBandRatio is the share of block energy in the upper half of the
// spectrum (fs/4 to fs/2), the band a level-1 Haar detail isolates. It is
// 0 for a silent block.
func HighBandRatio(primary, secondary []fixed.Q) float64 {
	mags := BlockSpectrum(primary, secondary)
	if len(mags) == 0 {
		return 0
	}

	split := (len(mags) - 1) / 2
	var low, high float64
	for k, m := range mags {
		e := m * m
		if k >= split {
			high += e
		} else {
			low += e
		}
	}
	total := low + high
	if total == 0 || math.IsNaN(total) {
		return 0
	}
	return high / total
}

// PeakFrequency returns the frequency in Hz of the strongest non-DC bin.
func PeakFrequency(primary, secondary []fixed.Q, sampleRate int) float64 {
	mags := BlockSpectrum(primary, secondary)
	if len(mags) < 2 {
		return 0
	}
	best := 1
	for k := 2; k < len(mags); k++ {
		if mags[k] > mags[best] {
			best = k
		}
	}
	n := 2 * (len(mags) - 1)
	return float64(best) * float64(sampleRate) / float64(n)
}
