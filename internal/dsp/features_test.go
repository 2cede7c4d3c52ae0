// SPDX-License-Identifier: MIT
package dsp

import (
	"errors"
	"math"
	"testing"

	"elephantlog/pkg/testsig"
)

const (
	testFrameLen   = 256
	testSampleRate = 1000.0
	testBandLow    = 10.0
	testBandHigh   = 200.0
)

func newTestExtractor(t testing.TB) *Extractor {
	t.Helper()
	e, err := NewExtractor(testFrameLen, testSampleRate, testBandLow, testBandHigh)
	if err != nil {
		t.Fatalf("NewExtractor() error = %v", err)
	}
	return e
}

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name       string
		frameLen   int
		sampleRate float64
		bandLow    float64
		bandHigh   float64
		wantErr    bool
	}{
		{"Standard", 256, 1000, 10, 200, false},
		{"Small Frame", 64, 1000, 20, 200, false},
		{"Non Power Of Two", 250, 1000, 10, 200, true},
		{"Zero Frame", 0, 1000, 10, 200, true},
		{"Zero Rate", 256, 0, 10, 200, true},
		{"Band Above Nyquist", 256, 1000, 10, 600, true},
		{"Inverted Band", 256, 1000, 200, 10, true},
		{"Zero Band Floor", 256, 1000, 0, 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(tt.frameLen, tt.sampleRate, tt.bandLow, tt.bandHigh)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewExtractor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameRMS(t *testing.T) {
	tests := []struct {
		name  string
		frame []int16
		want  float64
		tol   float64
	}{
		{"Empty", nil, 0, 0},
		{"Silence", testsig.Silence(testFrameLen), 0, 0},
		{"Full Scale Constant", testsig.Constant(testFrameLen, 32767), 32767.0 / 32768.0, 1e-9},
		{"Negative Constant", testsig.Constant(testFrameLen, -32768), 1.0, 1e-9},
		// A sine's RMS is peak/sqrt(2); peak here is 0.9 full scale.
		{"Sine", testsig.Sine(testFrameLen, testSampleRate, 50), 0.9 / math.Sqrt2, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := frameRMS(tt.frame)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("frameRMS() = %g, want %g ± %g", got, tt.want, tt.tol)
			}
		})
	}
}

func TestFrameRMSNegationInvariance(t *testing.T) {
	frame := testsig.Rumble(testFrameLen, testSampleRate, 20)
	negated := make([]int16, len(frame))
	for i, v := range frame {
		if v == math.MinInt16 {
			v = math.MinInt16 + 1
		}
		negated[i] = -v
	}
	a, b := frameRMS(frame), frameRMS(negated)
	if math.Abs(a-b) > 1e-6 {
		t.Errorf("frameRMS() changed under negation: %g vs %g", a, b)
	}
}

func TestFrameRMSScalesWithAmplitude(t *testing.T) {
	loud := testsig.Sine(testFrameLen, testSampleRate, 50)
	quiet := make([]int16, len(loud))
	for i, v := range loud {
		quiet[i] = v / 2
	}
	ratio := frameRMS(loud) / frameRMS(quiet)
	// Integer halving truncates, so allow a little slack around 2.
	if math.Abs(ratio-2) > 0.01 {
		t.Errorf("RMS ratio between full and half amplitude = %g, want 2", ratio)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	tests := []struct {
		name  string
		frame []int16
		want  float64
		tol   float64
	}{
		{"Too Short", []int16{5}, 0, 0},
		{"Silence", testsig.Silence(testFrameLen), 0, 0},
		{"Constant DC", testsig.Constant(testFrameLen, 1000), 0, 0},
		// 50 Hz at 1 kHz crosses zero 100 times per second.
		{"Sine 50Hz", testsig.Sine(testFrameLen, testSampleRate, 50), 2 * 50 / testSampleRate, 0.02},
		{"Sine 400Hz", testsig.Sine(testFrameLen, testSampleRate, 400), 2 * 400 / testSampleRate, 0.05},
		{"Alternating", []int16{1, -1, 1, -1}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := zeroCrossingRate(tt.frame)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("zeroCrossingRate() = %g, want %g ± %g", got, tt.want, tt.tol)
			}
		})
	}
}

func TestZeroCrossingRateIgnoresZeroRuns(t *testing.T) {
	// One true crossing with a run of zeros in between must count once,
	// not once per zero sample.
	frame := []int16{100, 0, 0, 0, -100, -100, -100, -100}
	if got := zeroCrossingRate(frame); got != 1.0/7.0 {
		t.Errorf("zeroCrossingRate() = %g, want %g", got, 1.0/7.0)
	}
}

func TestExtractFrameInBandTone(t *testing.T) {
	e := newTestExtractor(t)
	frame := testsig.Sine(testFrameLen, testSampleRate, 50)

	fv := e.ExtractFrame(frame)
	if len(fv) != FeatureDim {
		t.Fatalf("ExtractFrame() returned %d dimensions, want %d", len(fv), FeatureDim)
	}

	binWidth := testSampleRate / testFrameLen
	if math.Abs(fv[FeatDominantHz]-50) > binWidth {
		t.Errorf("dominant frequency = %g Hz, want 50 ± %g", fv[FeatDominantHz], binWidth)
	}
	if fv[FeatBandRatio] < 0.9 {
		t.Errorf("band ratio = %g for an in-band tone, want > 0.9", fv[FeatBandRatio])
	}
	if fv[FeatRMS] <= 0 {
		t.Errorf("RMS = %g for a loud tone, want > 0", fv[FeatRMS])
	}
}

func TestExtractFrameOutOfBandTone(t *testing.T) {
	e := newTestExtractor(t)
	// 400 Hz sits between the 200 Hz band ceiling and the 500 Hz Nyquist.
	frame := testsig.Sine(testFrameLen, testSampleRate, 400)

	fv := e.ExtractFrame(frame)
	if fv[FeatBandRatio] > 0.2 {
		t.Errorf("band ratio = %g for an out-of-band tone, want < 0.2", fv[FeatBandRatio])
	}
}

func TestExtractFrameBandRatioBounds(t *testing.T) {
	e := newTestExtractor(t)
	tests := []struct {
		name  string
		frame []int16
	}{
		{"Silence", testsig.Silence(testFrameLen)},
		{"Full Scale DC", testsig.Constant(testFrameLen, 32767)},
		{"Noise", testsig.Noise(testFrameLen, 1.0)},
		{"Rumble", testsig.Rumble(testFrameLen, testSampleRate, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := e.ExtractFrame(tt.frame)
			if fv[FeatBandRatio] < 0 || fv[FeatBandRatio] > 1 {
				t.Errorf("band ratio = %g, want within [0, 1]", fv[FeatBandRatio])
			}
		})
	}
}

func TestExtractFrameDeterministic(t *testing.T) {
	e := newTestExtractor(t)
	frame := testsig.Rumble(testFrameLen, testSampleRate, 25)

	first := e.ExtractFrame(frame)
	for run := 0; run < 3; run++ {
		got := e.ExtractFrame(frame)
		for i := range got {
			if got[i] != first[i] {
				t.Fatalf("run %d feature %d = %g, want %g", run, i, got[i], first[i])
			}
		}
	}
}

func TestExtractConsumesFrame(t *testing.T) {
	e := newTestExtractor(t)
	fb, err := NewFrameBuffer(testFrameLen, FramingReset, 0)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}

	if _, err := e.Extract(fb); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Extract() on empty buffer error = %v, want ErrNotReady", err)
	}

	for _, s := range testsig.Sine(testFrameLen, testSampleRate, 50) {
		fb.Append(s)
	}
	if _, err := e.Extract(fb); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := e.Extract(fb); !errors.Is(err, ErrNotReady) {
		t.Errorf("second Extract() error = %v, want ErrNotReady", err)
	}
}

func TestExtractFrameLengthMismatch(t *testing.T) {
	e := newTestExtractor(t)
	fb, err := NewFrameBuffer(64, FramingReset, 0)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}
	if _, err := e.Extract(fb); err == nil || errors.Is(err, ErrNotReady) {
		t.Errorf("Extract() with mismatched buffer error = %v, want a length error", err)
	}
}

func TestExtractFrameAllocations(t *testing.T) {
	e := newTestExtractor(t)
	frame := testsig.Sine(testFrameLen, testSampleRate, 50)

	allocs := testing.AllocsPerRun(100, func() {
		e.ExtractFrame(frame)
	})
	// One allocation for the returned feature vector.
	if allocs > 1 {
		t.Errorf("ExtractFrame() allocations = %.1f, want at most 1", allocs)
	}
}

func BenchmarkExtractFrame(b *testing.B) {
	benchmarks := []struct {
		name     string
		frameLen int
	}{
		{"Frame64", 64},
		{"Frame256", 256},
		{"Frame1024", 1024},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			e, err := NewExtractor(bm.frameLen, testSampleRate, testBandLow, testBandHigh)
			if err != nil {
				b.Fatalf("NewExtractor() error = %v", err)
			}
			frame := testsig.Rumble(bm.frameLen, testSampleRate, 20)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				e.ExtractFrame(frame)
			}
		})
	}
}
