package racked

import (
	"sync"
	"time"

	"github.com/wisslanding/aircast/internal/frame"
	"github.com/wisslanding/aircast/internal/rlog"
)

var log = rlog.For("racked")

// WipGracePeriod closes an incomplete wip reel that has been growing
// too long, so sparse input still reaches the render loop.
const WipGracePeriod = 10 * time.Second

// HighWaterMark is the reel count past which Racked warns. Exceeding
// it never drops frames; the render loop bounds consumption rate.
const HighWaterMark = 400

// SilentFramePeriod is the cadence of synthesized Silent frames while
// nothing is racked.
const SilentFramePeriod = 22676 * time.Microsecond

// LeadWindow is how far ahead of its play-time a substituted Silent
// frame is scheduled. Consumers never wait longer than this for a
// real frame.
const LeadWindow = 5 * time.Millisecond

// AnchorStore is the subset of internal/anchor.Store Racked needs to
// schedule both real and Silent frames.
type AnchorStore interface {
	LocalTime(rtpTimestamp uint32) (time.Time, error)
}

// Racked is the process-wide frame buffer, owned by the composition
// root and handed explicitly to packet intake (producer) and the
// render loop (consumer).
type Racked struct {
	mu sync.Mutex

	reels map[int64]*Reel
	order []int64 // ascending serial order; reel serials are issued monotonically so append-order == sort-order
	wip   *Reel

	serialCounter int64
	flush         FlushInfo
	firstFrame    bool // whether any frame has been admitted since the last flush-all

	anchor AnchorStore

	handoffCh chan *frame.Frame
	wipTimer  *time.Timer

	nextSilentSeq uint32
	lastSilentAt  time.Time
	closed        chan struct{}
	once          sync.Once
}

// New builds a Racked bound to anchor for play-time scheduling, and
// starts the goroutine that drains the handoff channel — a single
// admitting writer in place of per-reel lock contention.
func New(anchor AnchorStore) *Racked {
	r := &Racked{
		reels:     make(map[int64]*Reel),
		anchor:    anchor,
		handoffCh: make(chan *frame.Frame, 256),
		closed:    make(chan struct{}),
	}
	go r.runHandoff()
	return r
}

// Close stops the handoff goroutine.
func (r *Racked) Close() {
	r.once.Do(func() { close(r.closed) })
}

// Handoff enqueues a decoded frame for admission into the wip reel.
// It never blocks the caller for long: the channel is generously
// buffered, and backpressure is handled by warning, not by dropping.
func (r *Racked) Handoff(f *frame.Frame) {
	if f == nil {
		return
	}
	select {
	case r.handoffCh <- f:
	case <-r.closed:
	}
}

func (r *Racked) runHandoff() {
	for {
		select {
		case f := <-r.handoffCh:
			r.applyHandoff(f)
		case <-r.closed:
			return
		}
	}
}

func (r *Racked) applyHandoff(f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.flush.ShouldKeep(f.SeqNum, f.Timestamp) {
		f.State = frame.StateFlushed
		return
	}

	if r.wip == nil {
		r.serialCounter++
		r.wip = NewReel(r.serialCounter)
		r.armWipTimerLocked()
	}
	r.wip.Add(f)
	r.firstFrame = true

	if r.wip.Full() {
		r.closeWipLocked()
	}
}

func (r *Racked) armWipTimerLocked() {
	if r.wipTimer != nil {
		r.wipTimer.Stop()
	}
	r.wipTimer = time.AfterFunc(WipGracePeriod, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.wip != nil && !r.wip.Empty() {
			r.closeWipLocked()
		}
	})
}

// closeWipLocked appends the wip reel to the racked map; caller holds r.mu.
func (r *Racked) closeWipLocked() {
	if r.wipTimer != nil {
		r.wipTimer.Stop()
		r.wipTimer = nil
	}
	r.reels[r.wip.Serial] = r.wip
	r.order = append(r.order, r.wip.Serial)
	r.wip = nil

	if len(r.order) > HighWaterMark {
		log.Warn("racked reel count exceeds high-water mark", "reels", len(r.order))
	}
}

// NextFrame takes the head frame of the earliest reel, refreshing its
// play-time from the anchor, or synthesizes a Silent frame if there
// is no anchor or nothing racked.
func (r *Racked) NextFrame() *frame.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.order) > 0 {
		serial := r.order[0]
		reel := r.reels[serial]
		if reel.Empty() {
			delete(r.reels, serial)
			r.order = r.order[1:]
			continue
		}
		playAt, err := r.anchor.LocalTime(reel.Frames[0].Timestamp)
		if err != nil {
			break // no usable anchor: the head frame stays racked
		}
		f := reel.Head()
		if reel.Empty() {
			delete(r.reels, serial)
			r.order = r.order[1:]
		}
		f.PlayAt = playAt
		return f
	}

	return r.silentFrameLocked()
}

// silentFrameLocked synthesizes the next Silent frame, paced one
// SilentFramePeriod after the previous one so an empty Racked still
// yields the nominal frame cadence; after a gap (real frames played,
// or the very first silent frame) the schedule restarts just inside
// the lead window.
func (r *Racked) silentFrameLocked() *frame.Frame {
	r.nextSilentSeq++
	now := time.Now()
	playAt := r.lastSilentAt.Add(SilentFramePeriod)
	if r.lastSilentAt.IsZero() || playAt.Before(now) {
		playAt = now.Add(LeadWindow)
	}
	r.lastSilentAt = playAt
	return frame.NewSilent(r.nextSilentSeq, r.nextSilentSeq, playAt)
}

// Flush installs a new discard window: if the request covers
// everything racked, drop it all in one step; otherwise filter each
// reel and drop any reel left empty.
func (r *Racked) Flush(fromSeq, untilSeq, fromTS, untilTS uint32, all bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := FlushNormal
	if all {
		kind = FlushAll
	}
	r.flush = FlushInfo{Active: true, FromSeq: fromSeq, UntilSeq: untilSeq, FromTS: fromTS, UntilTS: untilTS, Kind: kind}

	if all {
		r.reels = make(map[int64]*Reel)
		r.order = nil
		r.wip = nil
		r.firstFrame = false
		return
	}

	if r.wholeRangeWithinFlushLocked() {
		r.reels = make(map[int64]*Reel)
		r.order = nil
		r.wip = nil
		return
	}

	newOrder := r.order[:0]
	for _, serial := range r.order {
		reel := r.reels[serial]
		kept := reel.Frames[:0]
		for _, f := range reel.Frames {
			if !r.flush.Discards(f.SeqNum, f.Timestamp) {
				kept = append(kept, f)
			}
		}
		reel.Frames = kept
		if reel.Empty() {
			delete(r.reels, serial)
			continue
		}
		newOrder = append(newOrder, serial)
	}
	r.order = newOrder

	if r.wip != nil {
		kept := r.wip.Frames[:0]
		for _, f := range r.wip.Frames {
			if !r.flush.Discards(f.SeqNum, f.Timestamp) {
				kept = append(kept, f)
			}
		}
		r.wip.Frames = kept
	}
}

// wholeRangeWithinFlushLocked reports whether every racked frame (closed
// reels and the wip reel) falls inside the current flush window, so the
// caller can drop everything in one step instead of filtering reel by reel.
func (r *Racked) wholeRangeWithinFlushLocked() bool {
	if len(r.order) == 0 {
		return false
	}
	reels := make([]*Reel, 0, len(r.order)+1)
	for _, serial := range r.order {
		reels = append(reels, r.reels[serial])
	}
	if r.wip != nil {
		reels = append(reels, r.wip)
	}
	var maxSeq, maxTS uint32
	first := true
	for _, reel := range reels {
		for _, f := range reel.Frames {
			if first {
				maxSeq, maxTS = f.SeqNum, f.Timestamp
				first = false
				continue
			}
			if f.SeqNum > maxSeq {
				maxSeq = f.SeqNum
			}
			if f.Timestamp > maxTS {
				maxTS = f.Timestamp
			}
		}
	}
	if first {
		return false
	}
	return r.flush.Discards(maxSeq, maxTS)
}

// ReelCount reports the number of closed reels (for metrics/tests).
func (r *Racked) ReelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
