package racked

// FlushKind distinguishes how a flush request bounds its discards.
type FlushKind int

const (
	FlushNormal FlushKind = iota
	FlushAll
	FlushInactive
	FlushComplete
)

// FlushInfo is a pending discard request. ShouldKeep acts as a
// one-way latch: once a frame falls outside the flush window, Active
// flips to false permanently, so later frames are kept even if a
// seq-number wraparound would otherwise put them back inside
// [0, UntilSeq].
type FlushInfo struct {
	Active            bool
	FromSeq, UntilSeq uint32
	FromTS, UntilTS   uint32
	Kind              FlushKind
}

// NewFlushAll builds the FlushInfo TEARDOWN and a FLUSHBUFFERED with
// kind=All submit: everything currently racked is discarded.
func NewFlushAll() FlushInfo {
	return FlushInfo{Active: true, Kind: FlushAll}
}

// Discards reports whether a frame with the given seq_num/timestamp
// falls inside the flush window: discarded iff seq_num <= UntilSeq
// and timestamp <= UntilTS, or unconditionally for kind All.
func (f FlushInfo) Discards(seqNum, timestamp uint32) bool {
	if !f.Active {
		return false
	}
	if f.Kind == FlushAll {
		return true
	}
	return seqNum <= f.UntilSeq && timestamp <= f.UntilTS
}

// ShouldKeep applies the flush to one incoming frame during handoff
// and latches Active false once the frame falls outside the window.
// Returns true if the frame should be kept (not discarded).
func (f *FlushInfo) ShouldKeep(seqNum, timestamp uint32) bool {
	if !f.Active {
		return true
	}
	discard := f.Kind == FlushAll || (seqNum <= f.UntilSeq && timestamp <= f.UntilTS)
	if !discard {
		f.Active = false
	}
	return !discard
}
