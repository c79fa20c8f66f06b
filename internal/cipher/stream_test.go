package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"pgregory.net/rapid"
)

func activatedPair(t *testing.T) (sender, receiver *Stream) {
	t.Helper()
	identity, err := NewLongTermIdentity()
	require.NoError(t, err)
	_, clientPub, err := generateX25519Keypair()
	require.NoError(t, err)

	verify := NewPairVerifyDriver(identity)
	_, _, result, err := verify.Step(clientPub[:])
	require.NoError(t, err)

	sender = NewStream()
	require.NoError(t, sender.Activate(result.SharedSecret))
	receiver = NewStream()
	require.NoError(t, receiver.Activate(result.SharedSecret))
	return sender, receiver
}

func TestStreamPassThroughBeforeActivate(t *testing.T) {
	s := NewStream()
	require.False(t, s.Verified())

	wire, err := s.Encrypt([]byte("OPTIONS * RTSP/1.0\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("OPTIONS * RTSP/1.0\r\n\r\n"), wire)

	out, consumed, err := s.Decrypt(wire, nil)
	require.NoError(t, err)
	require.Equal(t, len(wire), consumed)
	require.Equal(t, wire, out)
}

func TestStreamRoundTripAfterActivate(t *testing.T) {
	identity, err := NewLongTermIdentity()
	require.NoError(t, err)

	client, clientPub, err := generateX25519Keypair()
	require.NoError(t, err)

	verify := NewPairVerifyDriver(identity)
	resp, done, result, err := verify.Step(clientPub[:])
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, resp, 32+64) // ephemeral pubkey + ed25519 signature

	serverPub := resp[:32]
	serverShared, err := curve25519.X25519(client[:], serverPub)
	require.NoError(t, err)

	serverStream := NewStream()
	require.NoError(t, serverStream.Activate(result.SharedSecret))

	clientSecret, err := deriveSharedSecret(serverShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	require.NoError(t, err)
	require.Equal(t, result.SharedSecret, clientSecret)

	clientStream := NewStream()
	require.NoError(t, clientStream.Activate(clientSecret))

	plaintext := []byte("SETPEERSX RTSP/1.0\r\nCSeq: 9\r\nContent-Length: 0\r\n\r\n")
	wire, err := clientStream.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, wire)

	out, consumed, err := serverStream.Decrypt(wire, nil)
	require.NoError(t, err)
	require.Equal(t, len(wire), consumed)
	require.Equal(t, plaintext, out)
}

func TestStreamDecryptPartialFrameWaitsForMore(t *testing.T) {
	identity, err := NewLongTermIdentity()
	require.NoError(t, err)
	_, clientPub, err := generateX25519Keypair()
	require.NoError(t, err)

	verify := NewPairVerifyDriver(identity)
	_, _, result, err := verify.Step(clientPub[:])
	require.NoError(t, err)

	s := NewStream()
	require.NoError(t, s.Activate(result.SharedSecret))

	wire, err := s.Encrypt([]byte("FLUSHBUFFERED RTSP/1.0\r\n\r\n"))
	require.NoError(t, err)

	out, consumed, err := s.Decrypt(wire[:len(wire)-1], nil)
	require.NoError(t, err)
	require.Equal(t, 0, consumed)
	require.Empty(t, out)
}

// The ciphertext of a 600-byte message arrives in 137-byte chunks;
// the full plaintext emerges exactly once, after the final chunk.
func TestRoundTripAcrossChunkedReads(t *testing.T) {
	sender, receiver := activatedPair(t)

	plaintext := bytes.Repeat([]byte("GET_PARAMETER rtsp://x RTSP/1.0\r\n"), 19)[:600]
	wire, err := sender.Encrypt(plaintext)
	require.NoError(t, err)

	var buf, got []byte
	for off := 0; off < len(wire); off += 137 {
		end := off + 137
		if end > len(wire) {
			end = len(wire)
		}
		buf = append(buf, wire[off:end]...)

		out, consumed, err := receiver.Decrypt(buf, nil)
		require.NoError(t, err)
		buf = buf[consumed:]
		got = append(got, out...)

		if end < len(wire) {
			require.Less(t, len(got), len(plaintext), "plaintext must not complete before the final chunk")
		}
	}
	require.Equal(t, plaintext, got)
	require.Empty(t, buf)
}

// Encrypting then decrypting an arbitrary byte string with a freshly
// verified cipher yields the original bytes, regardless of how the
// wire bytes are chunked across reads.
func TestStreamRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sender, receiver := activatedPair(t)

		plaintext := rapid.SliceOfN(rapid.Byte(), 1, 4096).Draw(rt, "plaintext")
		wire, err := sender.Encrypt(plaintext)
		if err != nil {
			rt.Fatalf("encrypt: %v", err)
		}

		var buf, got []byte
		for off := 0; off < len(wire); {
			chunk := rapid.IntRange(1, 512).Draw(rt, "chunk")
			end := off + chunk
			if end > len(wire) {
				end = len(wire)
			}
			buf = append(buf, wire[off:end]...)
			off = end

			out, consumed, err := receiver.Decrypt(buf, nil)
			if err != nil {
				rt.Fatalf("decrypt: %v", err)
			}
			buf = buf[consumed:]
			got = append(got, out...)
		}
		if !bytes.Equal(plaintext, got) {
			rt.Fatalf("round trip mismatch: %d in, %d out", len(plaintext), len(got))
		}
	})
}

func TestStreamDecryptTamperedFrameIsFatal(t *testing.T) {
	identity, err := NewLongTermIdentity()
	require.NoError(t, err)
	_, clientPub, err := generateX25519Keypair()
	require.NoError(t, err)

	verify := NewPairVerifyDriver(identity)
	_, _, result, err := verify.Step(clientPub[:])
	require.NoError(t, err)

	s := NewStream()
	require.NoError(t, s.Activate(result.SharedSecret))

	wire, err := s.Encrypt([]byte("TEARDOWN RTSP/1.0\r\n\r\n"))
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0xFF

	_, _, err = s.Decrypt(wire, nil)
	require.ErrorIs(t, err, ErrCipherFailure)
}
