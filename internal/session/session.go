// Package session holds Context, the per-RTSP-connection state: one
// struct created on accept and kept for as long as its connection is
// served. TEARDOWN clears its key and spooling flag but does not end
// the connection, and there is no idle timeout.
package session

import (
	"sync"
	"time"

	"github.com/wisslanding/aircast/internal/cipher"
)

// TimingCategory is the negotiated SETUP timing category.
type TimingCategory int

const (
	TimingUnspecified TimingCategory = iota
	TimingPTP
	TimingNTP
	TimingRemoteControl
)

// TimingProtocol is the negotiated SETUP timing protocol.
type TimingProtocol int

const (
	ProtocolNone TimingProtocol = iota
	ProtocolNTP
	ProtocolPTP
)

// StreamType is the negotiated stream kind. Realtime streams are
// rejected; any other value (Buffered, or none given) is accepted.
// Realtime is kept so SETUP can name the rejection explicitly rather
// than falling through silently.
type StreamType int

const (
	StreamTypeNone     StreamType = 0
	StreamTypeRealtime StreamType = 96
	StreamTypeBuffered StreamType = 103
)

// StreamDescriptor describes the negotiated audio stream.
type StreamDescriptor struct {
	TimingCategory        TimingCategory
	TimingProtocol        TimingProtocol
	StreamType            StreamType
	AudioFormat           int
	CompressionType       int
	SampleFramesPerPacket int
	ConnectionID          int64
	ClientID              string
	SupportsDynamicStream bool
}

// Rejected reports the two hard rejections: NTP timing and realtime
// stream type.
func (d StreamDescriptor) Rejected() bool {
	return d.TimingProtocol == ProtocolNTP || d.StreamType == StreamTypeRealtime
}

// Context is the state of one accepted RTSP connection.
type Context struct {
	mu sync.Mutex

	CSeq uint64

	ActiveRemote string
	DACPID       string
	UserAgent    string
	ClientName   string

	GroupID             string
	GroupContainsLeader bool

	Stream StreamDescriptor

	SharedKey [32]byte
	HasKey    bool

	Identity *cipher.LongTermIdentity
	Cipher   *cipher.Stream // pair-verify-derived RTSP wire cipher

	Spooling bool // rate bit 0 from SETRATEANCHORTIME; gates Racked handoff

	LastFeedback time.Time
	created      time.Time
}

// New creates a SessionContext for a freshly accepted connection.
func New(identity *cipher.LongTermIdentity) *Context {
	return &Context{
		Identity: identity,
		Cipher:   cipher.NewStream(),
		created:  time.Now(),
	}
}

// Activate installs the pair-verify shared secret, switching the
// session's RTSP wire cipher on.
func (c *Context) Activate(secret [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SharedKey = secret
	c.HasKey = true
	return c.Cipher.Activate(secret)
}

// Key returns a copy of the shared key and whether one is installed,
// read under the session mutex so packet-intake workers never race a
// concurrent Activate or Teardown.
func (c *Context) Key() ([32]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SharedKey, c.HasKey
}

// SetSharedKey installs the stream shared key ("shk") from SETUP's
// streams body, replacing the pair-verify secret for RTP payloads.
func (c *Context) SetSharedKey(key [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SharedKey = key
	c.HasKey = true
}

// Teardown clears the shared key and spooling flag.
func (c *Context) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SharedKey = [32]byte{}
	c.HasKey = false
	c.Spooling = false
}

// TouchFeedback records a POST /feedback hit.
func (c *Context) TouchFeedback(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastFeedback = now
}

// SetSpooling applies the rate bit from SETRATEANCHORTIME.
func (c *Context) SetSpooling(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Spooling = enabled
}

// IsSpooling reports whether audio should currently flow into Racked.
func (c *Context) IsSpooling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Spooling
}
