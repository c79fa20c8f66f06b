package dsp

import (
	"encoding/binary"
	"math"
)

// adtsHeaderLen matches frame.adtsHeader's fixed output size.
const adtsHeaderLen = 7

// PassthroughAAC is a stand-in AAC decoder for environments without
// the real codec library wired in. It strips the ADTS header and
// reinterprets the remaining bytes as little-endian float32 PCM,
// which is what this module's own test fixtures construct directly —
// it is not a real AAC decoder and must be replaced by one in
// production.
type PassthroughAAC struct{}

// Decode implements frame.AACDecoder.
func (PassthroughAAC) Decode(adts []byte) ([]float32, error) {
	if len(adts) < adtsHeaderLen {
		return nil, nil
	}
	body := adts[adtsHeaderLen:]

	out := make([]float32, len(body)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(body[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
