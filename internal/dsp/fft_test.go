package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// A pure 1000 Hz tone yields its strongest peak at 1000 Hz +/- one
// FFT bin.
func TestPeakAt1000Hz(t *testing.T) {
	const sampleRate = 44100.0
	const n = 1024
	const toneHz = 1000.0

	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(math.Sin(2 * math.Pi * toneHz * float64(i) / sampleRate))
	}

	fft := NewNaiveFFT()
	peaks := fft.Peaks(samples, sampleRate)
	require.NotEmpty(t, peaks)

	binHz := sampleRate / n
	var best float64
	bestMag := -1.0
	for _, p := range peaks {
		if p.Magnitude > bestMag {
			bestMag = p.Magnitude
			best = p.FrequencyHz
		}
	}
	require.InDelta(t, toneHz, best, binHz)
}

func TestSilenceYieldsNoPeaks(t *testing.T) {
	samples := make([]float32, 256)
	fft := NewNaiveFFT()
	require.Empty(t, fft.Peaks(samples, 44100))
}
