package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryParseWaitsForFullBody(t *testing.T) {
	full := "POST /feedback RTSP/1.0\r\nCSeq: 5\r\nContent-Length: 4\r\n\r\nabcd"
	req, used, err := TryParse([]byte(full[:len(full)-2]))
	require.NoError(t, err)
	require.Nil(t, req)
	require.Equal(t, 0, used)

	req, used, err = TryParse([]byte(full))
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, len(full), used)
	require.Equal(t, "POST", req.Method)
	require.Equal(t, uint64(5), req.CSeq)
	require.Equal(t, []byte("abcd"), req.Body)
}

func TestTryParseOptionsNoBody(t *testing.T) {
	msg := "OPTIONS * RTSP/1.0\r\nCSeq: 0\r\n\r\n"
	req, used, err := TryParse([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, len(msg), used)
	require.Equal(t, "OPTIONS", req.Method)
	require.Equal(t, "*", req.Path)
}

func TestTryParseAcceptsUnrecognizedMethodSyntax(t *testing.T) {
	// An unrecognized method is a routing concern (501 via
	// Router.Dispatch's default case), not a codec parse failure.
	req, used, err := TryParse([]byte("DANCE * RTSP/1.0\r\nCSeq: 9\r\n\r\n"))
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, "DANCE", req.Method)
	require.Equal(t, uint64(9), req.CSeq)
	require.Greater(t, used, 0)
}

func TestTryParseRejectsMalformedMethodLine(t *testing.T) {
	_, _, err := TryParse([]byte("GARBLED\r\n\r\n"))
	require.Error(t, err)
}

func TestTryParseRejectsUnsupportedVersion(t *testing.T) {
	_, _, err := TryParse([]byte("OPTIONS * RTSP/2.0\r\n\r\n"))
	require.Error(t, err)
}

func TestTryParseLeavesTrailingBytesUnconsumed(t *testing.T) {
	one := "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	two := "OPTIONS * RTSP/1.0\r\nCSeq: 2\r\n\r\n"
	buf := []byte(one + two)

	req, used, err := TryParse(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(1), req.CSeq)
	require.Equal(t, len(one), used)

	req, used, err = TryParse(buf[used:])
	require.NoError(t, err)
	require.Equal(t, uint64(2), req.CSeq)
	require.Equal(t, len(two), used)
}

func TestReplySerializeOptionsHandshake(t *testing.T) {
	reply := NewReply(200, "OK", 0).With("Public", "ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, FLUSHBUFFERED, TEARDOWN, OPTIONS, POST, GET, PUT")
	got := string(reply.Serialize())
	want := "RTSP/1.0 200 OK\r\nCSeq: 0\r\nServer: AirPierre\r\nPublic: ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, FLUSHBUFFERED, TEARDOWN, OPTIONS, POST, GET, PUT\r\n\r\n"
	require.Equal(t, want, got)
}
