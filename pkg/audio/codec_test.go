package audio_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/ipovoice/pkg/audio"
)

func TestDecodeInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		want    []byte
		wantErr bool
	}{
		{name: "two samples", data: base64.StdEncoding.EncodeToString([]byte{1, 0, 255, 127}), want: []byte{1, 0, 255, 127}},
		{name: "empty", data: "", want: []byte{}},
		{name: "invalid base64", data: "!!not-base64!!", wantErr: true},
		{name: "odd byte count", data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := audio.DecodeInbound(audio.Envelope{Type: audio.TypeAudio, Data: tc.data})
			if tc.wantErr {
				if !errors.Is(err, audio.ErrMalformedFrame) {
					t.Fatalf("err = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEncodeOutbound_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := audio.SamplesToBytes([]int16{0, 1, -1, 32767, -32768, 1234})
	env := audio.EncodeOutbound(pcm)
	if env.Type != audio.TypeAudio {
		t.Errorf("type = %q, want %q", env.Type, audio.TypeAudio)
	}
	got, err := audio.DecodeInbound(env)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("round trip mismatch: got %v, want %v", got, pcm)
	}
}

func TestToNormalizedFloat(t *testing.T) {
	t.Parallel()

	got := audio.ToNormalizedFloat(audio.SamplesToBytes([]int16{0, 16384, -32768, 32767}))
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestToNormalizedFloat_Silence(t *testing.T) {
	t.Parallel()

	got := audio.ToNormalizedFloat(make([]byte, 1024))
	if len(got) != 512 {
		t.Fatalf("len = %d, want 512", len(got))
	}
	for i, v := range got {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Fatalf("sample %d = %v, want 0", i, v)
		}
	}
}

func TestToNormalizedFloat_Range(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 0, 65536)
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		samples = append(samples, int16(v))
	}
	for i, f := range audio.ToNormalizedFloat(audio.SamplesToBytes(samples)) {
		if f < -1 || f > 1 {
			t.Fatalf("sample %d = %v out of [-1, 1]", i, f)
		}
	}
}
