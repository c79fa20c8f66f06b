package frame_test

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/wisslanding/aircast/internal/dsp"
	"github.com/wisslanding/aircast/internal/frame"
)

func buildCipheredPacket(t *testing.T, key [32]byte, seqNum uint16, timestamp, ssrc uint32, pcm []float32) []byte {
	t.Helper()

	header := make([]byte, 12)
	header[0] = 0x80 // V=2
	header[1] = 96
	binary.BigEndian.PutUint16(header[2:], seqNum)
	binary.BigEndian.PutUint32(header[4:], timestamp)
	binary.BigEndian.PutUint32(header[8:], ssrc)

	plain := make([]byte, len(pcm)*4)
	for i, s := range pcm {
		binary.LittleEndian.PutUint32(plain[i*4:], math.Float32bits(s))
	}

	aead, err := chacha20poly1305.New(key[:])
	require.NoError(t, err)

	var nonceTail [8]byte
	_, err = rand.Read(nonceTail[:])
	require.NoError(t, err)
	var nonce [12]byte
	copy(nonce[4:], nonceTail[:])

	aad := header[4:12]
	sealed := aead.Seal(nil, nonce[:], plain, aad)
	ciphertext := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	packet := append([]byte{}, header...)
	packet = append(packet, ciphertext...)
	packet = append(packet, tag...)
	packet = append(packet, nonceTail[:]...)
	return packet
}

func TestRTPPeakExtraction(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	const n = 1024
	pcm := make([]float32, n*2) // interleaved stereo
	for i := 0; i < n; i++ {
		v := float32(math.Sin(2 * math.Pi * 1000 * float64(i) / 44100))
		pcm[i*2] = v
		pcm[i*2+1] = v
	}

	packet := buildCipheredPacket(t, key, 42, 441000, 0x1234, pcm)

	dec := frame.NewDecoder(dsp.PassthroughAAC{}, dsp.NewNaiveFFT())
	f, err := dec.Decode(packet, key)
	require.NoError(t, err)
	require.Equal(t, frame.StateDspComplete, f.State)
	require.False(t, f.Silent)
	require.NotEmpty(t, f.Peaks[0])
	require.NotEmpty(t, f.Peaks[1])
}

func TestRejectsNonVersion2(t *testing.T) {
	var key [32]byte
	packet := buildCipheredPacket(t, key, 1, 0, 0, []float32{0, 0})
	packet[0] = 0x00 // V=0

	dec := frame.NewDecoder(dsp.PassthroughAAC{}, dsp.NewNaiveFFT())
	_, err := dec.Decode(packet, key)
	require.Error(t, err)
}

func TestTamperedCiphertextIsParseFailure(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	packet := buildCipheredPacket(t, key, 1, 0, 0, []float32{0.1, 0.2})
	packet[len(packet)-9] ^= 0xFF // corrupt the tag

	dec := frame.NewDecoder(dsp.PassthroughAAC{}, dsp.NewNaiveFFT())
	f, err := dec.Decode(packet, key)
	require.Error(t, err)
	require.Equal(t, frame.StateParseFailure, f.State)
}
