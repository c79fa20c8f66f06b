package clockbridge

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadClockInfoNotMappedIsTransient(t *testing.T) {
	b := New("aircast-test", "nonexistent-device-id-for-test")
	_, err := b.ReadClockInfo()
	require.ErrorIs(t, err, ErrNotMapped)
}

func TestPublishPeersPayloadFormat(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:9000")
	if err != nil {
		t.Skipf("control port unavailable in this environment: %v", err)
	}
	defer pc.Close()

	b := New("aircast-test", "abc123")
	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			done <- ""
			return
		}
		done <- string(buf[:n])
	}()

	require.NoError(t, b.PublishPeers([]string{"10.0.0.5", "10.0.0.6"}))
	payload := <-done
	require.Equal(t, "/aircast-test-abc123 T 10.0.0.5 10.0.0.6\x00", payload)
}

func TestLocalAddressesExcludesLoopback(t *testing.T) {
	b := New("aircast-test", "abc123")
	addrs, err := b.LocalAddresses()
	require.NoError(t, err)
	for _, a := range addrs {
		require.NotEqual(t, "127.0.0.1", a)
	}
}
