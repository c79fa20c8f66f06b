// Package racked buffers decoded frames between packet intake and the
// render loop: a time-ordered collection of closed reels plus one
// work-in-progress reel, with flush semantics and backpressure.
//
// Handoff pushes onto a channel drained by one admitting goroutine
// rather than every producer taking a shared/exclusive lock directly;
// only flush arbitration needs the exclusive region.
package racked

import "github.com/wisslanding/aircast/internal/frame"

// ReelCloseSize is the frame count at which a wip reel closes.
const ReelCloseSize = 128

// Reel is an ordered batch of frames sharing a serial number.
type Reel struct {
	Serial int64
	Frames []*frame.Frame
}

// NewReel starts an empty reel with the given serial number.
func NewReel(serial int64) *Reel {
	return &Reel{Serial: serial}
}

// Add appends a frame. Preserving the strictly-increasing seq_num
// invariant is the caller's responsibility; handoff always appends in
// arrival order.
func (r *Reel) Add(f *frame.Frame) {
	r.Frames = append(r.Frames, f)
}

// Full reports whether the reel has reached its close threshold.
func (r *Reel) Full() bool {
	return len(r.Frames) >= ReelCloseSize
}

// Empty reports whether every frame has been consumed.
func (r *Reel) Empty() bool {
	return len(r.Frames) == 0
}

// Head returns and removes the earliest frame in the reel.
func (r *Reel) Head() *frame.Frame {
	if len(r.Frames) == 0 {
		return nil
	}
	f := r.Frames[0]
	r.Frames = r.Frames[1:]
	return f
}
