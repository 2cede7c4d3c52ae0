// SPDX-License-Identifier: MIT
/*
Package dsp turns the raw microphone stream into fixed-size feature vectors.

The FrameBuffer absorbs samples one at a time until a full analysis frame is
available; the Extractor then reduces that frame to a compact numeric summary.
Appending a sample is O(1) and never blocks on analysis, so the sampling loop
stays inside its interval budget even while a frame is being processed.
*/
package dsp

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when a frame is requested before enough samples
// have accumulated. It is an expected condition, not a failure: callers poll
// again after the next sample.
var ErrNotReady = errors.New("dsp: frame not ready")

// FramingPolicy selects how the buffer behaves once a frame is consumed.
type FramingPolicy int

const (
	// FramingReset clears the buffer after each consumed frame. Frames never
	// overlap and partial data at the boundary is discarded.
	FramingReset FramingPolicy = iota
	// FramingSliding keeps a rolling window; consuming a frame advances it
	// by the configured hop, so consecutive frames overlap.
	FramingSliding
)

// FrameBuffer is a fixed-capacity store of raw signed samples. It is owned by
// a single control flow and is not safe for concurrent use.
type FrameBuffer struct {
	buf      []int16
	frameLen int
	policy   FramingPolicy
	hop      int

	size     int // samples currently held
	writePos int // next write index (sliding ring)
	pending  int // samples accumulated since the last consumed frame
	dropped  uint64
}

// NewFrameBuffer creates a buffer producing frames of frameLen samples.
// hop is only meaningful for FramingSliding and must be in 1..frameLen.
func NewFrameBuffer(frameLen int, policy FramingPolicy, hop int) (*FrameBuffer, error) {
	if frameLen <= 0 {
		return nil, fmt.Errorf("dsp: frame length must be positive, got %d", frameLen)
	}
	if policy == FramingSliding && (hop <= 0 || hop > frameLen) {
		return nil, fmt.Errorf("dsp: hop must be in 1..%d for sliding framing, got %d", frameLen, hop)
	}
	return &FrameBuffer{
		buf:      make([]int16, frameLen),
		frameLen: frameLen,
		policy:   policy,
		hop:      hop,
	}, nil
}

// Append adds one sample. With reset framing a full, unconsumed buffer drops
// the sample (bounded data loss, counted); with sliding framing the oldest
// sample is overwritten.
func (fb *FrameBuffer) Append(s int16) {
	switch fb.policy {
	case FramingReset:
		if fb.size == fb.frameLen {
			fb.dropped++
			return
		}
		fb.buf[fb.size] = s
		fb.size++
		fb.pending++
	case FramingSliding:
		fb.buf[fb.writePos] = s
		fb.writePos++
		if fb.writePos == fb.frameLen {
			fb.writePos = 0
		}
		if fb.size < fb.frameLen {
			fb.size++
		}
		fb.pending++
	}
}

// FrameReady reports whether a full frame is available for consumption.
func (fb *FrameBuffer) FrameReady() bool {
	if fb.size < fb.frameLen {
		return false
	}
	if fb.policy == FramingSliding {
		// First frame fires as soon as the window fills; afterwards a new
		// frame becomes due every hop samples.
		return fb.pending >= fb.hop
	}
	return true
}

// Frame copies the current frame into dst in chronological order and marks it
// consumed according to the framing policy. Returns ErrNotReady, leaving all
// buffer state untouched, when fewer than frameLen samples are available.
func (fb *FrameBuffer) Frame(dst []int16) error {
	if !fb.FrameReady() {
		return ErrNotReady
	}
	if len(dst) != fb.frameLen {
		return fmt.Errorf("dsp: destination length %d does not match frame length %d", len(dst), fb.frameLen)
	}

	switch fb.policy {
	case FramingReset:
		copy(dst, fb.buf[:fb.frameLen])
		fb.size = 0
		fb.pending = 0
	case FramingSliding:
		// Oldest sample sits at writePos once the ring has wrapped.
		n := copy(dst, fb.buf[fb.writePos:])
		copy(dst[n:], fb.buf[:fb.writePos])
		fb.pending = 0
	}
	return nil
}

// Reset discards all buffered samples.
func (fb *FrameBuffer) Reset() {
	fb.size = 0
	fb.writePos = 0
	fb.pending = 0
}

// Len returns the number of samples currently held.
func (fb *FrameBuffer) Len() int { return fb.size }

// FrameLength returns the configured frame size.
func (fb *FrameBuffer) FrameLength() int { return fb.frameLen }

// Dropped returns the count of samples discarded because the buffer was full.
func (fb *FrameBuffer) Dropped() uint64 { return fb.dropped }
