package audio_test

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strconv"
	"testing"

	"github.com/MrWong99/ipovoice/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []int16
		src     int
		dst     int
		wantLen int
	}{
		{name: "same rate", in: []int16{100, 200, 300}, src: 16000, dst: 16000, wantLen: 3},
		{name: "downsample 48k", in: []int16{100, 200, 300, 400, 500, 600}, src: 48000, dst: 16000, wantLen: 2},
		{name: "upsample 8k", in: []int16{1000, 2000}, src: 8000, dst: 16000, wantLen: 4},
		{name: "zero src rate", in: []int16{1, 2}, src: 0, dst: 16000, wantLen: 2},
		{name: "zero dst rate", in: []int16{1, 2}, src: 16000, dst: 0, wantLen: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := audio.ResampleMono16(audio.SamplesToBytes(tc.in), tc.src, tc.dst)
			if got := len(out) / 2; got != tc.wantLen {
				t.Fatalf("samples = %d, want %d", got, tc.wantLen)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	t.Parallel()

	out := bytesToSamples(audio.ResampleMono16(audio.SamplesToBytes([]int16{1000, 2000}), 16000, 48000))
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if out[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", out[0])
	}
	if last := out[len(out)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestInputConverter(t *testing.T) {
	t.Parallel()

	pcm := audio.SamplesToBytes([]int16{10, 20, 30, 40, 50, 60})

	t.Run("passthrough at model rate", func(t *testing.T) {
		t.Parallel()
		c := &audio.InputConverter{SourceRate: audio.ModelSampleRate}
		if out := c.Convert(pcm); &out[0] != &pcm[0] {
			t.Error("expected the input slice to be returned unchanged")
		}
	})

	t.Run("passthrough when unset", func(t *testing.T) {
		t.Parallel()
		c := &audio.InputConverter{}
		if out := c.Convert(pcm); len(out) != len(pcm) {
			t.Errorf("len = %d, want %d", len(out), len(pcm))
		}
	})

	t.Run("48k to 16k", func(t *testing.T) {
		t.Parallel()
		c := &audio.InputConverter{SourceRate: 48000}
		if got := len(c.Convert(pcm)) / 2; got != 2 {
			t.Errorf("samples = %d, want 2", got)
		}
	})
}

func TestInputConverter_ChunkingDoesNotChangeOutput(t *testing.T) {
	t.Parallel()

	stream := make([]int16, 4801)
	for i := range stream {
		stream[i] = int16((i*7919)%20000 - 10000)
	}
	pcm := audio.SamplesToBytes(stream)

	for _, rate := range []int{8000, 11025, 22050, 44100, 48000} {
		t.Run(strconv.Itoa(rate), func(t *testing.T) {
			t.Parallel()

			whole := (&audio.InputConverter{SourceRate: rate}).Convert(pcm)
			wantSamples := (len(stream)-1)*audio.ModelSampleRate/rate + 1
			if got := len(whole) / 2; got != wantSamples {
				t.Errorf("one frame: %d samples, want %d", got, wantSamples)
			}

			c := &audio.InputConverter{SourceRate: rate}
			var chunked []byte
			sizes := []int{441, 1, 0, 160, 333, 1024}
			for off, i := 0, 0; off < len(stream); i++ {
				end := min(off+sizes[i%len(sizes)], len(stream))
				chunked = append(chunked, c.Convert(pcm[off*2:end*2])...)
				off = end
			}
			if !bytes.Equal(chunked, whole) {
				t.Errorf("chunked output (%d bytes) differs from one-frame output (%d bytes)", len(chunked), len(whole))
			}
		})
	}
}

func TestInputConverter_InterpolatesAcrossFrames(t *testing.T) {
	t.Parallel()

	c := &audio.InputConverter{SourceRate: 8000}
	first := bytesToSamples(c.Convert(audio.SamplesToBytes([]int16{0, 100})))
	if want := []int16{0, 50, 100}; !slices.Equal(first, want) {
		t.Fatalf("first frame = %v, want %v", first, want)
	}
	second := bytesToSamples(c.Convert(audio.SamplesToBytes([]int16{300, 400})))
	if want := []int16{200, 300, 350, 400}; !slices.Equal(second, want) {
		t.Errorf("second frame = %v, want %v", second, want)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)
	audio.Drain(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be drained and closed")
	}
}
