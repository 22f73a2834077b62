package audio

import (
	"log/slog"
	"sync"
)

// RateConverter normalises capture frames to a target sample rate and encodes
// them as PCM16. It logs once on the first rate mismatch.
// Create one per capture stream; not designed for shared use across goroutines.
type RateConverter struct {
	// Target is the sample rate the encoded output must have.
	Target int

	warnedMismatch sync.Once
}

// Convert encodes frame as PCM16 at c.Target.
//
// A frame at exactly twice the target rate is decimated by two (every other
// sample, no anti-alias filter: latency wins over quality here). A frame at
// the target rate is encoded as is. Any other rate is encoded first and then
// linearly resampled with [ResampleMono16].
func (c *RateConverter) Convert(frame Frame) []byte {
	switch {
	case c.Target <= 0 || frame.SampleRate == c.Target:
		return EncodePCM16(frame.Samples)
	case frame.SampleRate == 2*c.Target:
		return EncodePCM16(Decimate(frame.Samples, 2))
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio rate converter: capture rate is not a multiple of the target, resampling",
			"from", frame.SampleRate,
			"to", c.Target,
		)
	})
	return ResampleMono16(EncodePCM16(frame.Samples), frame.SampleRate, c.Target)
}

// Decimate reduces the sample rate by an integer factor by keeping samples
// 0, factor, 2*factor, … and discarding the rest. The output holds exactly
// len(samples)/factor samples. A factor below 2 returns samples unchanged.
func Decimate(samples []float32, factor int) []float32 {
	if factor < 2 {
		return samples
	}
	out := make([]float32, len(samples)/factor)
	for i := range out {
		out[i] = samples[i*factor]
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ResampleFloat resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. Output devices use it to render buffers whose rate
// differs from the hardware stream rate.
func ResampleFloat(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
