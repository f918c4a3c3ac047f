package audio

import "math"

// RMS returns the root-mean-square amplitude of a 16-bit PCM buffer, in the
// same units as the samples (0–32767). Returns 0 for buffers shorter than one
// sample. Multi-channel input is treated as a flat sample sequence.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
