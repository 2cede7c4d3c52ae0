// Package testsig generates deterministic int16 test signals at the
// pipeline's sample rate. Used by tests and by bench fixtures; never imported
// from the hot path.
package testsig

import "math"

// Sine returns size samples of a pure tone at the given frequency,
// peaking at 90% of full scale.
func Sine(size int, sampleRate, frequency float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * 32767 * 0.9)
	}
	return buffer
}

// Rumble returns a composite low-frequency signal shaped like an elephant
// call: a strong fundamental with two weaker harmonics.
func Rumble(size int, sampleRate, fundamental float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*fundamental*t)*0.5 +
			math.Sin(2*math.Pi*fundamental*2*t)*0.3 +
			math.Sin(2*math.Pi*fundamental*3*t)*0.2
		buffer[i] = int16(signal * 32767 * 0.9)
	}
	return buffer
}

// Noise returns size samples of deterministic pseudo-random noise at the
// given peak amplitude (0..1). A fixed xorshift seed keeps runs repeatable.
func Noise(size int, amplitude float64) []int16 {
	buffer := make([]int16, size)
	state := uint64(0x9E3779B97F4A7C15)
	for i := range buffer {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		unit := float64(int64(state)) / math.MaxInt64 // roughly -1..1
		buffer[i] = int16(unit * amplitude * 32767)
	}
	return buffer
}

// Silence returns size zero samples.
func Silence(size int) []int16 {
	return make([]int16, size)
}

// Constant returns size samples all holding v. Useful for DC and clipping
// edge cases.
func Constant(size int, v int16) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		buffer[i] = v
	}
	return buffer
}
