package fx

import "github.com/wisslanding/aircast/internal/frame"

// StandbyName is the registry key for Standby.
const StandbyName = "standby"

// allStopFades is how many consecutive silent frames Standby renders
// before it reports ALL_STOP via finished=true. Each of those frames
// is already all-zero; there is no gradual fade.
const allStopFades = 8

// Standby is the effect active while input is silent. It renders an
// all-zero state on every frame and, once allStopFades consecutive
// silent frames have passed, reports finished with no successor — the
// render loop interprets that as ALL_STOP and parks itself until
// activity resumes.
type Standby struct {
	zeroTicks int
}

// NewStandby returns a fresh Standby effect.
func NewStandby() *Standby { return &Standby{} }

func (s *Standby) Name() string { return StandbyName }

func (s *Standby) Render(f *frame.Frame) (DMXState, bool) {
	var state DMXState // all-zero: lights off

	if !f.Silent {
		s.zeroTicks = 0
		return state, false
	}

	s.zeroTicks++
	if s.zeroTicks >= allStopFades {
		s.zeroTicks = 0
		return state, true
	}
	return state, false
}

// NextOnFinish returns "" because ALL_STOP has no default successor;
// the render loop parks until a non-silent frame arrives.
func (s *Standby) NextOnFinish() string { return "" }
