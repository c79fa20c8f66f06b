package racked

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisslanding/aircast/internal/frame"
)

var errNoAnchor = errors.New("no anchor")

type fakeAnchor struct {
	base time.Time
	ok   bool
}

func (a fakeAnchor) LocalTime(rtpTimestamp uint32) (time.Time, error) {
	if !a.ok {
		return time.Time{}, errNoAnchor
	}
	return a.base.Add(time.Duration(rtpTimestamp) * time.Millisecond), nil
}

func waitForReel(t *testing.T, r *Racked, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.ReelCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reels", n)
}

func TestHandoffClosesReelAtCloseSize(t *testing.T) {
	r := New(fakeAnchor{ok: true})
	defer r.Close()

	for i := 0; i < ReelCloseSize; i++ {
		r.Handoff(&frame.Frame{SeqNum: uint32(i), Timestamp: uint32(i * 1000)})
	}

	waitForReel(t, r, 1)
}

func TestNextFrameOrdersBySeqNum(t *testing.T) {
	r := New(fakeAnchor{ok: true, base: time.Now()})
	defer r.Close()

	for i := 0; i < ReelCloseSize; i++ {
		r.Handoff(&frame.Frame{SeqNum: uint32(i), Timestamp: uint32(i * 1000)})
	}
	waitForReel(t, r, 1)

	for i := 0; i < ReelCloseSize; i++ {
		f := r.NextFrame()
		require.False(t, f.Silent)
		require.Equal(t, uint32(i), f.SeqNum)
	}
}

// An empty Racked with a live anchor keeps producing Silent frames,
// each scheduled one SilentFramePeriod after the last.
func TestSilentCadenceWhenEmpty(t *testing.T) {
	r := New(fakeAnchor{ok: true, base: time.Now()})
	defer r.Close()

	f1 := r.NextFrame()
	f2 := r.NextFrame()
	f3 := r.NextFrame()

	require.True(t, f1.Silent)
	require.True(t, f2.Silent)
	require.True(t, f3.Silent)
	require.NotEqual(t, f1.SeqNum, f2.SeqNum)
	require.Equal(t, SilentFramePeriod, f2.PlayAt.Sub(f1.PlayAt))
	require.Equal(t, SilentFramePeriod, f3.PlayAt.Sub(f2.PlayAt))
}

func TestFlushAllEmptiesWipAndRacked(t *testing.T) {
	r := New(fakeAnchor{ok: true})
	defer r.Close()

	for i := 0; i < ReelCloseSize+5; i++ {
		r.Handoff(&frame.Frame{SeqNum: uint32(i), Timestamp: uint32(i * 1000)})
	}
	waitForReel(t, r, 1)

	r.Flush(0, 0, 0, 0, true)

	require.Equal(t, 0, r.ReelCount())
	f := r.NextFrame()
	require.True(t, f.Silent)
}

func TestFlushPartialDropsOnlyMatchingFrames(t *testing.T) {
	r := New(fakeAnchor{ok: true, base: time.Now()})
	defer r.Close()

	for i := 0; i < ReelCloseSize; i++ {
		r.Handoff(&frame.Frame{SeqNum: uint32(i), Timestamp: uint32(i * 1000)})
	}
	waitForReel(t, r, 1)

	r.Flush(0, 63, 0, 63000, false)

	f := r.NextFrame()
	require.False(t, f.Silent)
	require.Equal(t, uint32(64), f.SeqNum)
}

// TestFlushWholeRangeFastPathRespectsTimestampBound guards against the
// whole-range optimization discarding a frame whose seq_num falls
// inside the flush window but whose timestamp doesn't: a frame is
// discarded only when both bounds match.
func TestFlushWholeRangeFastPathRespectsTimestampBound(t *testing.T) {
	r := New(fakeAnchor{ok: true, base: time.Now()})
	defer r.Close()

	for i := 0; i < ReelCloseSize-1; i++ {
		r.Handoff(&frame.Frame{SeqNum: uint32(i), Timestamp: uint32(i * 100)})
	}
	// Every seq_num is within the flush's UntilSeq, but this last
	// frame's timestamp diverges well past UntilTS.
	r.Handoff(&frame.Frame{SeqNum: uint32(ReelCloseSize - 1), Timestamp: 1_000_000})
	waitForReel(t, r, 1)

	r.Flush(0, uint32(ReelCloseSize-1), 0, uint32((ReelCloseSize-2)*100), false)

	f := r.NextFrame()
	require.False(t, f.Silent, "the diverging-timestamp frame must survive the whole-range fast path")
	require.Equal(t, uint32(ReelCloseSize-1), f.SeqNum)
	require.Equal(t, uint32(1_000_000), f.Timestamp)
}

func TestShouldKeepLatchesAfterFlushBoundary(t *testing.T) {
	fi := FlushInfo{Active: true, UntilSeq: 10, UntilTS: 10, Kind: FlushNormal}

	require.False(t, fi.ShouldKeep(5, 5))
	require.True(t, fi.ShouldKeep(20, 20))
	require.False(t, fi.Active)
	// Once latched inactive, even an in-range frame is kept.
	require.True(t, fi.ShouldKeep(1, 1))
}
