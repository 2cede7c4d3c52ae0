// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// FeatureDim is the fixed dimensionality of every feature vector. Stored
// exemplars and live queries must agree on it; changing the feature set
// invalidates previously persisted exemplars.
const FeatureDim = 4

// Indices into a FeatureVector.
const (
	FeatRMS        = 0 // root-mean-square energy, normalized to [0,1]
	FeatDominantHz = 1 // dominant frequency within the target band, Hz
	FeatBandRatio  = 2 // fraction of spectral energy inside the target band
	FeatZCR        = 3 // zero-crossing rate, sign changes per sample pair
)

// FeatureVector is the fixed-size numeric summary of one frame.
type FeatureVector []float64

// Clone returns an independent copy of the vector.
func (fv FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(fv))
	copy(out, fv)
	return out
}

// Pre-allocated buffers for spectral analysis. Sized once at construction so
// per-frame extraction does not allocate.
type workspace struct {
	input     []float64
	fftOutput []complex128
	magnitude []float64
	window    []float64
	frame     []int16
}

// Extractor converts completed frames into feature vectors. Extraction is
// deterministic: the same frame always yields the same vector.
type Extractor struct {
	frameLen   int
	sampleRate float64
	bandLowHz  float64
	bandHighHz float64
	lowBin     int
	highBin    int
	fft        *fourier.FFT
	ws         workspace
}

// NewExtractor creates an extractor for frames of frameLen samples at the
// given rate, focusing spectral features on the [bandLowHz, bandHighHz] band.
func NewExtractor(frameLen int, sampleRate, bandLowHz, bandHighHz float64) (*Extractor, error) {
	if frameLen <= 0 || frameLen&(frameLen-1) != 0 {
		return nil, fmt.Errorf("dsp: frame length must be a power of 2, got %d", frameLen)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("dsp: sample rate must be positive, got %g", sampleRate)
	}
	nyquist := sampleRate / 2
	if bandLowHz <= 0 || bandHighHz <= bandLowHz || bandHighHz > nyquist {
		return nil, fmt.Errorf("dsp: band [%g, %g] Hz is not valid for a %g Hz rate", bandLowHz, bandHighHz, sampleRate)
	}

	binWidth := sampleRate / float64(frameLen)
	lowBin := int(math.Ceil(bandLowHz / binWidth))
	if lowBin < 1 {
		lowBin = 1 // never include the DC bin
	}
	highBin := int(math.Floor(bandHighHz / binWidth))
	magSize := frameLen/2 + 1
	if highBin > magSize-1 {
		highBin = magSize - 1
	}
	if lowBin > highBin {
		return nil, fmt.Errorf("dsp: band [%g, %g] Hz is narrower than one FFT bin (%g Hz)", bandLowHz, bandHighHz, binWidth)
	}

	coeffs := make([]float64, frameLen)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	window.Hann(coeffs)

	return &Extractor{
		frameLen:   frameLen,
		sampleRate: sampleRate,
		bandLowHz:  bandLowHz,
		bandHighHz: bandHighHz,
		lowBin:     lowBin,
		highBin:    highBin,
		fft:        fourier.NewFFT(frameLen),
		ws: workspace{
			input:     make([]float64, frameLen),
			fftOutput: make([]complex128, magSize),
			magnitude: make([]float64, magSize),
			window:    coeffs,
			frame:     make([]int16, frameLen),
		},
	}, nil
}

// Extract consumes the next ready frame from fb and returns its features.
// Returns ErrNotReady, with fb untouched, when no frame is available yet.
func (e *Extractor) Extract(fb *FrameBuffer) (FeatureVector, error) {
	if fb.FrameLength() != e.frameLen {
		return nil, fmt.Errorf("dsp: buffer frame length %d does not match extractor frame length %d", fb.FrameLength(), e.frameLen)
	}
	if err := fb.Frame(e.ws.frame); err != nil {
		return nil, err
	}
	return e.ExtractFrame(e.ws.frame), nil
}

// ExtractFrame computes the feature vector for one complete frame. The frame
// must be exactly frameLen samples; the caller keeps ownership of the slice.
func (e *Extractor) ExtractFrame(frame []int16) FeatureVector {
	fv := make(FeatureVector, FeatureDim)
	fv[FeatRMS] = frameRMS(frame)
	fv[FeatZCR] = zeroCrossingRate(frame)

	dominant, ratio := e.spectralFeatures(frame)
	fv[FeatDominantHz] = dominant
	fv[FeatBandRatio] = ratio
	return fv
}

// frameRMS returns the root-mean-square amplitude normalized to [0,1].
// The sum of squares is accumulated in int64: 2^16 samples of ±2^15 fit with
// headroom to spare, so the accumulator is exact where float addition is not.
func frameRMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range frame {
		v := int64(s)
		sumSq += v * v
	}
	mean := float64(sumSq) / float64(len(frame))
	return math.Sqrt(mean) / 32768.0
}

// zeroCrossingRate counts sign changes per sample pair, a cheap proxy for
// high-frequency content. Zero samples carry the previous sign forward so a
// quiet DC-free signal does not read as maximally noisy.
func zeroCrossingRate(frame []int16) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	lastSign := 0
	for _, s := range frame {
		sign := 0
		if s > 0 {
			sign = 1
		} else if s < 0 {
			sign = -1
		}
		if sign == 0 {
			continue
		}
		if lastSign != 0 && sign != lastSign {
			crossings++
		}
		lastSign = sign
	}
	return float64(crossings) / float64(len(frame)-1)
}

// spectralFeatures windows the frame, runs the FFT and derives the dominant
// in-band frequency plus the band-energy ratio.
func (e *Extractor) spectralFeatures(frame []int16) (dominantHz, bandRatio float64) {
	const norm = 1.0 / 32768.0
	for i := range e.ws.input {
		if i < len(frame) {
			e.ws.input[i] = float64(frame[i]) * norm * e.ws.window[i]
		} else {
			e.ws.input[i] = 0
		}
	}

	e.fft.Coefficients(e.ws.fftOutput, e.ws.input)
	for i, c := range e.ws.fftOutput {
		e.ws.magnitude[i] = cmplx.Abs(c)
	}

	// Total spectral energy excludes the DC bin: residual offset is bias,
	// not signal, and would otherwise dilute the band ratio.
	var totalEnergy, bandEnergy float64
	peakBin := e.lowBin
	peakMag := e.ws.magnitude[e.lowBin]
	for i := 1; i < len(e.ws.magnitude); i++ {
		mag := e.ws.magnitude[i]
		energy := mag * mag
		totalEnergy += energy
		if i >= e.lowBin && i <= e.highBin {
			bandEnergy += energy
			if mag > peakMag {
				peakMag = mag
				peakBin = i
			}
		}
	}

	binWidth := e.sampleRate / float64(e.frameLen)
	if peakMag > 0 {
		dominantHz = float64(peakBin) * binWidth
	}
	if totalEnergy > 0 {
		bandRatio = bandEnergy / totalEnergy
		if bandRatio > 1 {
			bandRatio = 1
		}
	}
	return dominantHz, bandRatio
}

// FrameLength returns the frame size the extractor was built for.
func (e *Extractor) FrameLength() int { return e.frameLen }

// SampleRate returns the sample rate the extractor was built for.
func (e *Extractor) SampleRate() float64 { return e.sampleRate }
