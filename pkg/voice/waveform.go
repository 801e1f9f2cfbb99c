package voice

// DownsampleWaveform reduces a buffer of signed samples to width normalized
// amplitude values in [0, 1], one per equal-sized bucket, using the peak
// absolute amplitude of each bucket. It is deterministic: the same input
// and width always yield the same output.
//
// Width values larger than the sample count repeat the nearest sample;
// an empty input yields all zeros.
func DownsampleWaveform(samples []int16, width int) []float64 {
	if width <= 0 {
		return nil
	}

	out := make([]float64, width)
	if len(samples) == 0 {
		return out
	}

	for i := 0; i < width; i++ {
		start := i * len(samples) / width
		end := (i + 1) * len(samples) / width
		if end <= start {
			end = start + 1
		}
		if end > len(samples) {
			end = len(samples)
		}

		var peak float64
		for _, s := range samples[start:end] {
			v := float64(s)
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		out[i] = peak / 32768.0
	}
	return out
}

// DownsamplePCM is DownsampleWaveform over raw 16-bit LE PCM bytes.
func DownsamplePCM(pcm []byte, width int) []float64 {
	return DownsampleWaveform(pcmToSamples(pcm), width)
}
