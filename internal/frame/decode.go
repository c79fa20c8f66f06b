package frame

import (
	"fmt"

	"github.com/pion/rtp"
	"golang.org/x/crypto/chacha20poly1305"
)

// minCipheredLen is header(12) + tag(16) + nonce-tail(8), the
// smallest possible ciphered packet the wire layout allows.
const minCipheredLen = 12 + 16 + 8

// AACDecoder is the pluggable AAC decode collaborator. Input is an
// ADTS-framed AAC access unit; output is interleaved float32 PCM,
// two channels.
type AACDecoder interface {
	Decode(adts []byte) (pcm []float32, err error)
}

// FFTAnalyzer is the pluggable spectral-analysis collaborator: an FFT
// sized to samples-per-channel at the stream's sample rate, reduced
// to located peaks.
type FFTAnalyzer interface {
	Peaks(samples []float32, sampleRateHz float64) []Peak
}

// SilenceThreshold is the peak-energy cutoff below which a channel
// counts as silent; low enough that a single quiet tone still
// registers as non-silent.
const SilenceThreshold = 1e-4

// adtsHeader builds the 7-byte ADTS header the AAC decoder expects:
// profile=AAC-LC, sample-rate-index=4 (44.1kHz), channel-config=2.
func adtsHeader(payloadLen int) [7]byte {
	const (
		profileAACLC    = 1 // MPEG-4 Audio Object Type AAC-LC minus 1, ADTS encoding
		sampleRateIndex = 4 // 44100 Hz
		channelConfig   = 2
	)
	frameLen := uint32(payloadLen + 7)

	var h [7]byte
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, no CRC
	h[2] = byte(profileAACLC<<6) | byte(sampleRateIndex<<2) | byte((channelConfig>>2)&0x1)
	h[3] = byte((channelConfig&0x3)<<6) | byte((frameLen>>11)&0x3)
	h[4] = byte((frameLen >> 3) & 0xFF)
	h[5] = byte((frameLen&0x7)<<5) | 0x1F
	h[6] = 0xFC
	return h
}

// Decoder runs the packet pipeline: header parse, decipher, AAC
// decode, per-channel FFT, silence classification.
type Decoder struct {
	AAC AACDecoder
	FFT FFTAnalyzer
}

// NewDecoder builds a Decoder with the given pluggable collaborators.
func NewDecoder(aac AACDecoder, fft FFTAnalyzer) *Decoder {
	return &Decoder{AAC: aac, FFT: fft}
}

// Decode runs the full pipeline on one ciphered RTP packet, using key
// as the session's shared AEAD key.
func (d *Decoder) Decode(packet []byte, key [32]byte) (*Frame, error) {
	if len(packet) < minCipheredLen {
		return nil, fmt.Errorf("frame: packet too short (%d bytes)", len(packet))
	}

	var hdr rtp.Header
	if _, err := hdr.Unmarshal(packet); err != nil {
		return nil, fmt.Errorf("frame: parsing RTP header: %w", err)
	}
	if hdr.Version != 2 {
		return &Frame{State: StateParseFailure}, fmt.Errorf("frame: unsupported RTP version %d", hdr.Version)
	}

	f := &Frame{
		SeqNum:    uint32(hdr.SequenceNumber),
		Timestamp: hdr.Timestamp,
		SSRC:      hdr.SSRC,
		State:     StateHeaderParsed,
	}

	aad := packet[4:12]
	tail := packet[len(packet)-8:]
	tagAndCiphertext := packet[12 : len(packet)-8]
	if len(tagAndCiphertext) < 16 {
		f.State = StateParseFailure
		return f, fmt.Errorf("frame: ciphertext shorter than AEAD tag")
	}
	ciphertext := tagAndCiphertext[:len(tagAndCiphertext)-16]
	tag := tagAndCiphertext[len(tagAndCiphertext)-16:]

	var nonce [12]byte
	copy(nonce[4:], tail)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return f, fmt.Errorf("frame: building AEAD: %w", err)
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plain, err := aead.Open(nil, nonce[:], sealed, aad)
	if err != nil {
		f.State = StateParseFailure
		return f, fmt.Errorf("frame: decipher failed: %w", err)
	}
	f.State = StateDeciphered

	adts := adtsHeader(len(plain))
	pcm, err := d.AAC.Decode(append(adts[:], plain...))
	if err != nil {
		f.State = StateDecodeFailure
		return f, fmt.Errorf("frame: AAC decode failed: %w", err)
	}
	f.Payload = pcm
	f.State = StateDecoded

	d.runDSP(f)
	f.State = StateDspComplete

	return f, nil
}

// runDSP splits the interleaved stereo PCM into channels, runs the
// FFT per channel, and classifies silence.
func (d *Decoder) runDSP(f *Frame) {
	const channels = 2
	left := make([]float32, 0, len(f.Payload)/channels)
	right := make([]float32, 0, len(f.Payload)/channels)
	for i := 0; i+1 < len(f.Payload); i += channels {
		left = append(left, f.Payload[i])
		right = append(right, f.Payload[i+1])
	}

	leftPeaks := d.FFT.Peaks(left, 44100)
	rightPeaks := d.FFT.Peaks(right, 44100)
	f.Peaks[0] = leftPeaks
	f.Peaks[1] = rightPeaks

	f.Silent = channelSilent(leftPeaks) && channelSilent(rightPeaks)
}

func channelSilent(peaks []Peak) bool {
	for _, p := range peaks {
		if p.Magnitude >= SilenceThreshold {
			return false
		}
	}
	return true
}
