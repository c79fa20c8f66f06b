// Package anchor maps source RTP timestamps to local monotonic time.
// The mapping is replaced on every SETRATEANCHORTIME and read by the
// render loop on every tick.
package anchor

import (
	"errors"
	"sync"
	"time"
)

// ErrNotReady is returned while an anchor's validity window hasn't
// opened yet; callers fall back to Silent frames. Distinct from
// ErrNoAnchor, which means no SETRATEANCHORTIME has ever arrived.
var ErrNotReady = errors.New("anchor: not ready")

// ErrNoAnchor means no anchor has ever been installed.
var ErrNoAnchor = errors.New("anchor: no anchor installed")

// readyDelay is how long a freshly installed anchor is held back
// before LocalTime will use it. The clock-bridge sample needs a
// moment to catch up to a replacement, and a short settle delay
// avoids computing local time off a stale offset.
const readyDelay = 5 * time.Millisecond

// SampleRate is AirPlay 2's fixed audio sample rate (44.1 kHz), used
// by LocalTime to convert RTP timestamp deltas into nanoseconds.
const SampleRate = 44100

// RawOffsetReader supplies the clock bridge's current local-to-master
// offset, kept as a narrow interface so anchor never imports
// clockbridge directly.
type RawOffsetReader interface {
	RawOffsetNanos() (int64, error)
}

// Anchor is one SETRATEANCHORTIME installation.
type Anchor struct {
	RTPTime          int64
	NetworkTimeNanos int64
	ClockID          uint64
	Rate             uint32
	installedAt      time.Time
}

// Playing reports rate's bit 0.
func (a Anchor) Playing() bool { return a.Rate&1 == 1 }

// Store holds the current anchor behind a mutex: one value, owned by
// the composition root, handed to every subsystem that needs it.
type Store struct {
	mu     sync.Mutex
	clock  RawOffsetReader
	anchor *Anchor
}

// NewStore builds a Store that consults clock for raw_offset_ns.
func NewStore(clock RawOffsetReader) *Store {
	return &Store{clock: clock}
}

// Install replaces the current anchor with SETRATEANCHORTIME's data.
func (s *Store) Install(rtpTime, networkTimeNanos int64, clockID uint64, rate uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = &Anchor{
		RTPTime:          rtpTime,
		NetworkTimeNanos: networkTimeNanos,
		ClockID:          clockID,
		Rate:             rate,
		installedAt:      time.Now(),
	}
}

// Reset clears the current anchor.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = nil
}

// Current returns a copy of the installed anchor, or ErrNoAnchor.
func (s *Store) Current() (Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor == nil {
		return Anchor{}, ErrNoAnchor
	}
	return *s.anchor, nil
}

// LocalTime converts an RTP timestamp to a local monotonic time:
//
//	local_time = (rtp - anchor.rtp_time) * 1e9/sample_rate + anchor.local_time
//	anchor.local_time = anchor.network_time + clock.raw_offset
func (s *Store) LocalTime(rtpTimestamp uint32) (time.Time, error) {
	s.mu.Lock()
	a := s.anchor
	s.mu.Unlock()

	if a == nil {
		return time.Time{}, ErrNoAnchor
	}
	if time.Since(a.installedAt) < readyDelay {
		return time.Time{}, ErrNotReady
	}

	rawOffset, err := s.clock.RawOffsetNanos()
	if err != nil {
		return time.Time{}, err
	}

	anchorLocalNanos := a.NetworkTimeNanos + rawOffset
	deltaSamples := int64(rtpTimestamp) - a.RTPTime
	deltaNanos := deltaSamples * 1_000_000_000 / SampleRate

	return time.Unix(0, anchorLocalNanos+deltaNanos), nil
}
