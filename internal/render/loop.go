// Package render implements the render loop: a single scheduler that
// paces Frames by the master clock, selects a lighting effect, and
// dispatches DMX frames to the controller link.
package render

import (
	"context"
	"time"

	"github.com/wisslanding/aircast/internal/frame"
	"github.com/wisslanding/aircast/internal/render/fx"
	"github.com/wisslanding/aircast/internal/rlog"
)

var log = rlog.For("render")

// FrameSource is the consumer half of internal/racked.Racked, the
// only part the render loop needs.
type FrameSource interface {
	NextFrame() *frame.Frame
}

// DMXSink is the subset of internal/dmxlink.Link the render loop
// needs to dispatch a rendered DMX state.
type DMXSink interface {
	Send(seqNum, timestamp uint32, silent bool, state fx.DMXState) error
}

// LeadTime is the window within which a frame's target play-time
// counts as Ready.
const LeadTime = 50 * time.Millisecond

// OutdatedThreshold is how far past its play-time a frame may be
// before it is skipped as Outdated.
const OutdatedThreshold = -5 * time.Millisecond

// FramePeriod is the nominal cadence target: 44.1kHz at 1024
// samples per packet, ~44 frames/sec.
const FramePeriod = time.Second * 1024 / 44100

// Loop is the single-threaded frame-paced scheduler. It owns no lock:
// it is the sole consumer of FrameSource and the sole producer into
// DMXSink, so its internal state (active effect, parked flag) never
// needs synchronization.
type Loop struct {
	Source FrameSource
	DMX    DMXSink
	FX     *fx.Registry

	active  fx.Effect
	parked  bool         // Standby reached ALL_STOP; idling until activity resumes
	pending *frame.Frame // a Future frame held across ticks until Ready or Outdated
}

// NewLoop builds a Loop starting in Standby, since no audio has been
// seen yet.
func NewLoop(source FrameSource, dmx DMXSink, registry *fx.Registry) *Loop {
	standby, _ := registry.Get(fx.StandbyName)
	return &Loop{Source: source, DMX: dmx, FX: registry, active: standby}
}

// Run drives the loop until ctx is cancelled, which it checks at
// every timer wait.
func (l *Loop) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := l.tick()
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// tick obtains and classifies one frame, renders it if Ready, and
// returns how long to wait before the next iteration.
func (l *Loop) tick() time.Duration {
	f := l.pending
	if f == nil {
		f = l.Source.NextFrame()
		if f == nil {
			return FramePeriod
		}
	}

	if l.parked {
		if f.Silent {
			// Still parked. Poll at the nominal cadence rather than
			// spinning or sleeping indefinitely, so a resumed source
			// is picked up promptly.
			l.pending = nil
			return FramePeriod
		}
		log.Debug("activity resumed, leaving standby park")
		l.parked = false
	}

	now := time.Now()
	var delta time.Duration
	if !f.PlayAt.IsZero() {
		delta = f.PlayAt.Sub(now)
	}

	switch {
	case delta < OutdatedThreshold:
		f.State = frame.StateOutdated
		l.pending = nil
		return FramePeriod
	case delta > LeadTime:
		// Held, not dropped: a Future frame is re-classified next tick
		// instead of fetching a new one from the source. Waking as the
		// frame enters the lead window keeps the loop from ever
		// sleeping past its target play-time.
		f.State = frame.StateFuture
		l.pending = f
		return delta - LeadTime
	default:
		f.State = frame.StateReady
		l.renderReady(f)
		l.pending = nil
		return FramePeriod
	}
}

// renderReady selects the FX for this frame's silence state, renders
// it, dispatches the resulting DMX frame, and acts on the FX's
// finished/NextOnFinish signal.
func (l *Loop) renderReady(f *frame.Frame) {
	desired := fx.MajorPeakName
	if f.Silent {
		desired = fx.StandbyName
	}
	if l.active == nil || l.active.Name() != desired {
		if next, ok := l.FX.Get(desired); ok {
			l.active = next
		}
	}
	if l.active == nil {
		return
	}

	state, finished := l.active.Render(f)
	if l.DMX != nil {
		if err := l.DMX.Send(f.SeqNum, f.Timestamp, f.Silent, state); err != nil {
			log.Warn("dmx send failed", "err", err)
		}
	}
	f.State = frame.StatePlayed

	if !finished {
		return
	}

	next := l.active.NextOnFinish()
	if next == "" {
		if l.active.Name() == fx.StandbyName {
			log.Debug("standby reached ALL_STOP, parking render loop")
			l.parked = true
		}
		return
	}
	if nextEffect, ok := l.FX.Get(next); ok {
		l.active = nextEffect
	}
}
