package dmxlink

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wisslanding/aircast/internal/config"
	"github.com/wisslanding/aircast/internal/render/fx"
)

func TestSendWhenDisconnectedIsDropped(t *testing.T) {
	l := New(config.DMXConfig{}, nil, "_dmx._tcp")
	err := l.Send(1, 441000, false, fx.DMXState{1, 2, 3})
	require.NoError(t, err)
}

func TestSendWritesLengthPrefixedMsgpackFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	l := New(config.DMXConfig{}, nil, "_dmx._tcp")
	l.dataConn = client

	state := fx.DMXState{0xAA, 0xBB}
	done := make(chan error, 1)
	go func() { done <- l.Send(7, 441700, true, state) }()

	var lenPrefix [4]byte
	_, err := readFull(server, lenPrefix[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenPrefix[:])

	body := make([]byte, n)
	_, err = readFull(server, body)
	require.NoError(t, err)
	require.NoError(t, <-done)

	var decoded DmxFrame
	require.NoError(t, msgpack.Unmarshal(body, &decoded))
	require.Equal(t, "data", decoded.Type)
	require.Equal(t, uint32(7), decoded.SeqNum)
	require.Equal(t, uint32(441700), decoded.Timestamp)
	require.True(t, decoded.Silent)
	require.Equal(t, [16]byte(state), decoded.DFrame)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestWatchdogFiresAfterStallWindow(t *testing.T) {
	l := New(config.DMXConfig{TimeoutsMS: config.DMXTimeouts{StalledMS: 20}}, nil, "_dmx._tcp")
	l.touch()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.watchdog(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire for a stalled link")
	}
}
