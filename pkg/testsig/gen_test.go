package testsig

import (
	"math"
	"testing"
)

func TestSine(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"Rumble Band", 256, 1000, 20},
		{"Mid Band", 256, 1000, 100},
		{"Small Frame", 64, 1000, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Sine(tt.size, tt.sampleRate, tt.frequency)
			if len(result) != tt.size {
				t.Fatalf("Sine() length = %d, want %d", len(result), tt.size)
			}

			// Roughly two zero crossings per cycle.
			samplesPerCycle := tt.sampleRate / tt.frequency
			crossings := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0 && result[i] >= 0) || (result[i-1] >= 0 && result[i] < 0) {
					crossings++
				}
			}
			expected := float64(tt.size) / (samplesPerCycle / 2)
			if math.Abs(float64(crossings)-expected) > 0.2*expected+1 {
				t.Errorf("Sine() zero crossings = %d, expected approximately %.1f", crossings, expected)
			}
		})
	}
}

func TestRumbleHasContent(t *testing.T) {
	result := Rumble(256, 1000, 20)
	hasNonZero := false
	for _, v := range result {
		if v != 0 {
			hasNonZero = true
			break
		}
	}
	if !hasNonZero {
		t.Error("Rumble() produced all zeros")
	}
}

func TestNoiseDeterministic(t *testing.T) {
	a := Noise(256, 0.5)
	b := Noise(256, 0.5)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Noise() differs between runs at sample %d", i)
		}
	}
}

func TestNoiseAmplitudeBound(t *testing.T) {
	const amplitude = 0.25
	bound := float64(amplitude) * 32767
	limit := int16(bound) + 1
	for i, v := range Noise(1024, amplitude) {
		if v > limit || v < -limit {
			t.Fatalf("Noise() sample %d = %d exceeds amplitude bound %d", i, v, limit)
		}
	}
}

func TestSilenceAndConstant(t *testing.T) {
	for i, v := range Silence(64) {
		if v != 0 {
			t.Fatalf("Silence() sample %d = %d, want 0", i, v)
		}
	}
	for i, v := range Constant(64, -321) {
		if v != -321 {
			t.Fatalf("Constant() sample %d = %d, want -321", i, v)
		}
	}
}
