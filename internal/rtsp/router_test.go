package rtsp

import (
	"crypto/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/wisslanding/aircast/internal/cipher"
	"github.com/wisslanding/aircast/internal/config"
	"github.com/wisslanding/aircast/internal/plist"
	"github.com/wisslanding/aircast/internal/session"
)

type fakeAnchor struct {
	rtpTime          int64
	networkTimeNanos int64
	clockID          uint64
	rate             uint32
	installed        bool
}

func (f *fakeAnchor) Install(rtpTime, networkTimeNanos int64, clockID uint64, rate uint32) {
	f.rtpTime, f.networkTimeNanos, f.clockID, f.rate = rtpTime, networkTimeNanos, clockID, rate
	f.installed = true
}

type fakeRacked struct {
	fromSeq, untilSeq, fromTS, untilTS uint32
	all                                bool
	called                             bool
}

func (f *fakeRacked) Flush(fromSeq, untilSeq, fromTS, untilTS uint32, all bool) {
	f.fromSeq, f.untilSeq, f.fromTS, f.untilTS, f.all = fromSeq, untilSeq, fromTS, untilTS, all
	f.called = true
}

func mustParseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestRouter() *Router {
	return &Router{
		Config: *config.Default(),
	}
}

func TestOptionsHandshake(t *testing.T) {
	rt := newTestRouter()
	req, _, err := TryParse([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 0\r\n\r\n"))
	require.NoError(t, err)

	reply := rt.Dispatch(req, session.New(nil))
	got := string(reply.Serialize())
	want := "RTSP/1.0 200 OK\r\nCSeq: 0\r\nServer: AirPierre\r\nPublic: ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, FLUSHBUFFERED, TEARDOWN, OPTIONS, POST, GET, PUT\r\n\r\n"
	require.Equal(t, want, got)
}

func TestFlushBuffered(t *testing.T) {
	racked := &fakeRacked{}
	rt := newTestRouter()
	rt.Racked = racked

	body, err := plist.Marshal(plist.Dict{
		"flushFromSeq":  int64(100),
		"flushFromTS":   int64(44100),
		"flushUntilSeq": int64(200),
		"flushUntilTS":  int64(88200),
	})
	require.NoError(t, err)

	req := &Request{Method: "FLUSHBUFFERED", Path: "/", Headers: map[string]string{}, Body: body, CSeq: 3}
	reply := rt.Dispatch(req, session.New(nil))

	require.Equal(t, 200, reply.Code)
	require.True(t, racked.called)
	require.Equal(t, uint32(100), racked.fromSeq)
	require.Equal(t, uint32(200), racked.untilSeq)
	require.Equal(t, uint32(44100), racked.fromTS)
	require.Equal(t, uint32(88200), racked.untilTS)
	require.False(t, racked.all)
}

func TestSetRateAnchorTime(t *testing.T) {
	anchor := &fakeAnchor{}
	rt := newTestRouter()
	rt.Anchor = anchor

	body, err := plist.Marshal(plist.Dict{
		"rate":                  int64(1),
		"networkTimeTimelineID": int64(0xABCD),
		"networkTimeSecs":       int64(100),
		"networkTimeFrac":       int64(0),
		"rtpTime":               int64(441000),
	})
	require.NoError(t, err)

	req := &Request{Method: "SETRATEANCHORTIME", Path: "/", Headers: map[string]string{}, Body: body, CSeq: 7}
	sess := session.New(nil)
	reply := rt.Dispatch(req, sess)

	require.Equal(t, 200, reply.Code)
	require.True(t, anchor.installed)
	require.Equal(t, int64(441000), anchor.rtpTime)
	require.Equal(t, int64(0xABCD), int64(anchor.clockID))
	require.Equal(t, int64(100_000_000_000), anchor.networkTimeNanos)
	require.True(t, sess.IsSpooling())
}

func TestCSeqEchoInvariant(t *testing.T) {
	rt := newTestRouter()
	for _, cseq := range []uint64{0, 1, 9999} {
		req := &Request{Method: "RECORD", Path: "/", Headers: map[string]string{}, CSeq: cseq}
		reply := rt.Dispatch(req, session.New(nil))
		require.Equal(t, "CSeq", reply.Headers[0].Name)
		require.Equal(t, cseq, mustParseUint(reply.Headers[0].Value))
	}
}

func TestUnknownPathReturns501(t *testing.T) {
	rt := newTestRouter()
	// GET on an unrecognized path exercises the router's default
	// branch, since GET /info is the only special-cased GET route.
	req := &Request{Method: "GET", Path: "/not-info", Headers: map[string]string{}, CSeq: 2}
	reply := rt.Dispatch(req, session.New(nil))
	require.Equal(t, 501, reply.Code)
}

func TestUnknownMethodReturns501(t *testing.T) {
	rt := newTestRouter()
	// An unrecognized method reaches the router's default branch
	// directly; the codec accepts any well-formed method line.
	req := &Request{Method: "DANCE", Path: "/", Headers: map[string]string{}, CSeq: 3}
	reply := rt.Dispatch(req, session.New(nil))
	require.Equal(t, 501, reply.Code)
	require.Equal(t, "CSeq", reply.Headers[0].Name)
	require.Equal(t, uint64(3), mustParseUint(reply.Headers[0].Value))
}

func TestPairVerifyActivatesSessionCipher(t *testing.T) {
	identity, err := cipher.NewLongTermIdentity()
	require.NoError(t, err)
	rt := newTestRouter()
	rt.Identity = identity

	sess := session.New(identity)
	require.False(t, sess.Cipher.Verified())

	var priv [32]byte
	_, err = rand.Read(priv[:])
	require.NoError(t, err)
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)

	req := &Request{Method: "POST", Path: "/pair-verify", Headers: map[string]string{}, Body: pub}
	reply := rt.Dispatch(req, sess)

	require.Equal(t, 200, reply.Code)
	require.True(t, sess.Cipher.Verified())
}
