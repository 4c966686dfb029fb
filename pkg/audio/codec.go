// Package audio defines the browser wire envelope and the PCM helpers shared by
// the gateway, the segmenter, and the speech-model providers.
//
// All PCM handled here is signed 16-bit little-endian mono. Inbound client
// audio is 16 kHz; outbound model audio is passed through at whatever rate the
// model produces.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// TypeAudio is the only envelope type that carries PCM. Envelopes with any other
// type are ignored by the gateway.
const TypeAudio = "audio"

// ErrMalformedFrame is returned by [DecodeInbound] when an audio envelope
// cannot be turned into whole 16-bit samples.
var ErrMalformedFrame = errors.New("audio: malformed frame")

// Envelope is the JSON message exchanged with the browser client in both
// directions.
type Envelope struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// DecodeInbound returns the raw PCM carried by env. The caller must only pass
// envelopes whose Type is [TypeAudio]. Invalid base64 and an odd byte count
// both yield an error wrapping [ErrMalformedFrame].
func DecodeInbound(env Envelope) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedFrame, err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedFrame, len(pcm))
	}
	return pcm, nil
}

// EncodeOutbound wraps model PCM in an audio envelope for the client.
func EncodeOutbound(pcm []byte) Envelope {
	return Envelope{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(pcm)}
}

// ToNormalizedFloat converts PCM16 to float32 samples in [-1, 1) by scaling
// each sample by 1/32768. Silence (an all-zero buffer) short-circuits to an
// all-zero result. A trailing odd byte is ignored.
func ToNormalizedFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	silent := true
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if s != 0 {
			silent = false
		}
		out[i] = float32(s)
	}
	if silent {
		return out
	}
	for i := range out {
		out[i] /= 32768
	}
	return out
}

// SamplesToBytes packs int16 samples into little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
