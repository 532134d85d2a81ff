package audio

import "math"

// Downmix collapses interleaved multi-channel samples to mono by
// averaging each frame's channels. Mono input is returned as-is.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += samples[base+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate by
// nearest-neighbor mapping: with ratio r = dstRate/srcRate, output
// sample i reads input index round(i/r), clamped to the input bounds.
// Deterministic for identical inputs; not a perceptual-quality
// resampler, which the engine does not need.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	r := float64(dstRate) / float64(srcRate)
	n := int(math.Round(float64(len(samples)) * r))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		src := int(math.Round(float64(i) / r))
		if src > last {
			src = last
		}
		out[i] = samples[src]
	}
	return out
}

// ToEngineFormat runs the full normalization for one raw frame:
// downmix to mono, then resample to the engine rate.
func ToEngineFormat(samples []float32, srcRate, channels int) []float32 {
	return Resample(Downmix(samples, channels), srcRate, EngineSampleRate)
}

// clip hard-limits a summed sample to [-1, 1].
func clip(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
