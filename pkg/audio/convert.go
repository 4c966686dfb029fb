package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// ModelSampleRate is the rate the segmenter and the speech model expect for
// inbound PCM.
const ModelSampleRate = 16000

// InputConverter brings inbound client PCM to [ModelSampleRate]. Browsers that
// cannot capture at 16 kHz send their native rate; the converter resamples
// the stream so the rest of the pipeline sees a single format.
//
// Frames are treated as one continuous stream: the interpolation phase and the
// last sample carry over between calls, so frame boundaries neither drift nor
// click. An output sample that needs the next frame's first sample is emitted
// with that frame.
//
// Create one per session; not designed for shared use across goroutines.
type InputConverter struct {
	SourceRate int

	// phase is the position of the next output sample relative to the next
	// frame's first sample, in 1/ModelSampleRate source-sample units. It is
	// greater than -ModelSampleRate, so last is the only history needed.
	phase  int64
	last   int16
	primed bool

	warnOnce sync.Once
}

// Convert returns pcm resampled from SourceRate to [ModelSampleRate]. When the
// rates already match (or SourceRate is unset) pcm is returned unchanged. A
// trailing odd byte is ignored.
func (c *InputConverter) Convert(pcm []byte) []byte {
	if c.SourceRate <= 0 || c.SourceRate == ModelSampleRate {
		return pcm
	}
	c.warnOnce.Do(func() {
		slog.Debug("audio: resampling client input",
			"from", rateString(c.SourceRate),
			"to", rateString(ModelSampleRate),
		)
	})

	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	sample := func(i int) int64 {
		if c.primed {
			if i == 0 {
				return int64(c.last)
			}
			i--
		}
		return int64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	avail := n
	pos := c.phase
	if c.primed {
		avail++
		pos += ModelSampleRate
	}

	const dst = int64(ModelSampleRate)
	src := int64(c.SourceRate)
	limit := int64(avail-1) * dst
	out := make([]byte, 0, 2*max(0, (limit-pos)/src+1))
	for ; pos <= limit; pos += src {
		idx, frac := int(pos/dst), pos%dst
		s0 := sample(idx)
		v := s0
		if frac > 0 {
			v = (s0*(dst-frac) + sample(idx+1)*frac) / dst
		}
		out = append(out, byte(v), byte(v>>8))
	}

	c.phase = pos - int64(avail)*dst
	c.last = int16(pcm[(n-1)*2]) | int16(pcm[(n-1)*2+1])<<8
	c.primed = true
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match, either is non-positive, or the input holds
// fewer than one sample, pcm is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) float64 {
		return float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(s0*(1-frac) + s1*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func rateString(rate int) string {
	return fmt.Sprintf("%dHz mono", rate)
}
