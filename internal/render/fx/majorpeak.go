package fx

import (
	"math"

	"github.com/wisslanding/aircast/internal/frame"
)

// MajorPeakName is the registry key for MajorPeak.
const MajorPeakName = "majorpeak"

const (
	minHz = 40.0
	maxHz = 8000.0
)

// MajorPeak is the FX active while input carries audio: it picks the
// strongest peak across both channels and maps its frequency to a
// hue, its magnitude to brightness, writing the result into the
// first 4 DMX channels (R, G, B, master dimmer) and leaving the
// remaining 12 at zero.
type MajorPeak struct{}

// NewMajorPeak returns a fresh MajorPeak effect.
func NewMajorPeak() *MajorPeak { return &MajorPeak{} }

func (m *MajorPeak) Name() string { return MajorPeakName }

func (m *MajorPeak) Render(f *frame.Frame) (DMXState, bool) {
	var state DMXState

	peak, ok := strongestPeak(f.Peaks[0], f.Peaks[1])
	if !ok || f.Silent {
		return state, true // no peak to render; finished, hand back to Standby
	}

	hue := frequencyToHue(peak.FrequencyHz)
	brightness := magnitudeToBrightness(peak.Magnitude)
	r, g, b := hsvToRGB(hue, 1.0, 1.0)

	state[0] = r
	state[1] = g
	state[2] = b
	state[3] = brightness

	return state, false
}

// NextOnFinish hands off to Standby once MajorPeak reports finished
// (silence or no peak this tick).
func (m *MajorPeak) NextOnFinish() string { return StandbyName }

func strongestPeak(channels ...[]frame.Peak) (frame.Peak, bool) {
	var best frame.Peak
	found := false
	for _, peaks := range channels {
		for _, p := range peaks {
			if !found || p.Magnitude > best.Magnitude {
				best = p
				found = true
			}
		}
	}
	return best, found
}

// frequencyToHue maps [minHz, maxHz] logarithmically onto a 0-300
// degree hue sweep (reds through blues), clamping out-of-range input.
func frequencyToHue(hz float64) float64 {
	if hz < minHz {
		hz = minHz
	}
	if hz > maxHz {
		hz = maxHz
	}
	frac := math.Log(hz/minHz) / math.Log(maxHz/minHz)
	return frac * 300.0
}

// magnitudeToBrightness maps a peak magnitude onto a full DMX byte,
// clamping to [0,1] before scaling.
func magnitudeToBrightness(magnitude float64) byte {
	if magnitude < 0 {
		magnitude = 0
	}
	if magnitude > 1 {
		magnitude = 1
	}
	return byte(magnitude * 255.0)
}

// hsvToRGB converts (hue degrees, saturation, value) to 8-bit RGB.
func hsvToRGB(h, s, v float64) (byte, byte, byte) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return byte((r + m) * 255), byte((g + m) * 255), byte((b + m) * 255)
}
