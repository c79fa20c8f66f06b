// Package dsp provides default implementations of the frame package's
// pluggable AAC-decode and FFT collaborators. The naive FFT here
// exists for testability and as a drop-in default; a production
// deployment would swap in a real FFT library behind the same
// interface.
package dsp

import (
	"math"

	"github.com/wisslanding/aircast/internal/frame"
)

// NaiveFFT is a direct (O(n^2)) discrete Fourier transform, correct
// but not tuned for AirPlay's real-time budget; adequate for tests
// and small buffers.
type NaiveFFT struct {
	// PeakThreshold gates which bins are reported as peaks, mirroring
	// frame.SilenceThreshold's role for the overall silent flag.
	PeakThreshold float64
}

// NewNaiveFFT returns an analyzer using frame.SilenceThreshold as its
// default peak-reporting floor.
func NewNaiveFFT() *NaiveFFT {
	return &NaiveFFT{PeakThreshold: frame.SilenceThreshold}
}

// Peaks implements frame.FFTAnalyzer: locate local maxima in the
// magnitude spectrum of samples, sampled at sampleRateHz.
func (f *NaiveFFT) Peaks(samples []float32, sampleRateHz float64) []frame.Peak {
	n := len(samples)
	if n == 0 {
		return nil
	}

	mags := magnitudeSpectrum(samples)
	binHz := sampleRateHz / float64(n)

	var peaks []frame.Peak
	for i := 1; i < len(mags)-1; i++ {
		if mags[i] < f.PeakThreshold {
			continue
		}
		if mags[i] >= mags[i-1] && mags[i] >= mags[i+1] {
			peaks = append(peaks, frame.Peak{
				FrequencyHz: float64(i) * binHz,
				Magnitude:   mags[i],
			})
		}
	}
	return peaks
}

// magnitudeSpectrum returns |X[k]| for k in [0, n/2], the usable half
// of a real-input DFT's output.
func magnitudeSpectrum(samples []float32) []float64 {
	n := len(samples)
	half := n/2 + 1
	mags := make([]float64, half)

	for k := 0; k < half; k++ {
		var re, im float64
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			s := float64(samples[t])
			re += s * math.Cos(angle)
			im += s * math.Sin(angle)
		}
		mags[k] = math.Hypot(re, im) / float64(n)
	}
	return mags
}
