package rtpintake

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisslanding/aircast/internal/cipher"
	"github.com/wisslanding/aircast/internal/frame"
	"github.com/wisslanding/aircast/internal/session"
)

type fakeDecoder struct {
	frame *frame.Frame
	err   error
}

func (d *fakeDecoder) Decode(packet []byte, key [32]byte) (*frame.Frame, error) {
	return d.frame, d.err
}

type fakeRacked struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (r *fakeRacked) Handoff(f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *fakeRacked) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newTestSession(t *testing.T) *session.Context {
	t.Helper()
	identity, err := cipher.NewLongTermIdentity()
	require.NoError(t, err)
	sess := session.New(identity)
	sess.HasKey = true
	sess.SetSpooling(true)
	return sess
}

func TestAllocateAudioPortsBindsDistinctPorts(t *testing.T) {
	in := New(&fakeDecoder{frame: &frame.Frame{}}, &fakeRacked{}, 1)
	defer in.Close()

	dataPort, controlPort, eventPort, err := in.AllocateAudioPorts()
	require.NoError(t, err)
	require.NotZero(t, dataPort)
	require.NotZero(t, controlPort)
	require.NotZero(t, eventPort)
	require.NotEqual(t, dataPort, controlPort)
}

func TestRunAudioHandsOffDecodedFramesWhenSpooling(t *testing.T) {
	decoded := &frame.Frame{SeqNum: 42}
	racked := &fakeRacked{}
	in := New(&fakeDecoder{frame: decoded}, racked, 2)
	defer in.Close()

	dataPort, _, _, err := in.AllocateAudioPorts()
	require.NoError(t, err)

	sess := newTestSession(t)
	in.SetActive(sess)

	conn, err := net.Dial("udp", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dataPort}).String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(make([]byte, 64))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return racked.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunAudioDropsWhenNotSpooling(t *testing.T) {
	racked := &fakeRacked{}
	in := New(&fakeDecoder{frame: &frame.Frame{}}, racked, 1)
	defer in.Close()

	dataPort, _, _, err := in.AllocateAudioPorts()
	require.NoError(t, err)

	sess := newTestSession(t)
	sess.SetSpooling(false)
	in.SetActive(sess)

	conn, err := net.Dial("udp", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dataPort}).String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(make([]byte, 64))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, racked.count())
}

func TestClearOnlyRemovesMatchingSession(t *testing.T) {
	in := New(&fakeDecoder{}, &fakeRacked{}, 1)
	defer in.Close()

	a := newTestSession(t)
	b := newTestSession(t)
	in.SetActive(a)
	in.Clear(b) // should be a no-op: b never was active
	require.Equal(t, a, in.active.Load())

	in.Clear(a)
	require.Nil(t, in.active.Load())
}
