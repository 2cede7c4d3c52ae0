// SPDX-License-Identifier: MIT
package dsp

import (
	"errors"
	"testing"
)

func TestNewFrameBuffer(t *testing.T) {
	tests := []struct {
		name     string
		frameLen int
		policy   FramingPolicy
		hop      int
		wantErr  bool
	}{
		{"Reset", 256, FramingReset, 0, false},
		{"Sliding", 256, FramingSliding, 64, false},
		{"Sliding Full Hop", 256, FramingSliding, 256, false},
		{"Zero Length", 0, FramingReset, 0, true},
		{"Negative Length", -1, FramingReset, 0, true},
		{"Sliding Zero Hop", 256, FramingSliding, 0, true},
		{"Sliding Hop Too Large", 256, FramingSliding, 257, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameBuffer(tt.frameLen, tt.policy, tt.hop)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFrameBuffer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameBufferReset(t *testing.T) {
	const frameLen = 8
	fb, err := NewFrameBuffer(frameLen, FramingReset, 0)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}

	if fb.FrameReady() {
		t.Error("FrameReady() = true on an empty buffer")
	}

	dst := make([]int16, frameLen)
	if err := fb.Frame(dst); !errors.Is(err, ErrNotReady) {
		t.Errorf("Frame() on empty buffer error = %v, want ErrNotReady", err)
	}

	for i := 0; i < frameLen; i++ {
		if fb.FrameReady() {
			t.Fatalf("FrameReady() = true after %d of %d samples", i, frameLen)
		}
		fb.Append(int16(i))
	}
	if !fb.FrameReady() {
		t.Fatal("FrameReady() = false after a full frame of samples")
	}

	// A full, unconsumed buffer drops further samples and counts them.
	fb.Append(99)
	fb.Append(100)
	if got := fb.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	if err := fb.Frame(dst); err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	for i, v := range dst {
		if v != int16(i) {
			t.Errorf("dst[%d] = %d, want %d", i, v, i)
		}
	}

	// Consuming resets the buffer entirely.
	if fb.Len() != 0 {
		t.Errorf("Len() after consume = %d, want 0", fb.Len())
	}
	if fb.FrameReady() {
		t.Error("FrameReady() = true immediately after consume")
	}
}

func TestFrameBufferSliding(t *testing.T) {
	const (
		frameLen = 8
		hop      = 4
	)
	fb, err := NewFrameBuffer(frameLen, FramingSliding, hop)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}

	for i := 0; i < frameLen; i++ {
		fb.Append(int16(i))
	}
	if !fb.FrameReady() {
		t.Fatal("FrameReady() = false once the window filled")
	}

	dst := make([]int16, frameLen)
	if err := fb.Frame(dst); err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	for i, v := range dst {
		if v != int16(i) {
			t.Errorf("first frame dst[%d] = %d, want %d", i, v, i)
		}
	}

	// The next frame is only due after hop more samples.
	for i := 0; i < hop; i++ {
		if fb.FrameReady() {
			t.Fatalf("FrameReady() = true after only %d of %d hop samples", i, hop)
		}
		fb.Append(int16(frameLen + i))
	}
	if !fb.FrameReady() {
		t.Fatal("FrameReady() = false after a full hop")
	}

	if err := fb.Frame(dst); err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	// Window slid by hop: samples 4..11 in chronological order.
	for i, v := range dst {
		if v != int16(hop+i) {
			t.Errorf("second frame dst[%d] = %d, want %d", i, v, hop+i)
		}
	}
}

func TestFrameBufferFrameWrongLength(t *testing.T) {
	fb, err := NewFrameBuffer(8, FramingReset, 0)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}
	for i := 0; i < 8; i++ {
		fb.Append(int16(i))
	}
	if err := fb.Frame(make([]int16, 4)); err == nil {
		t.Error("Frame() with short destination returned nil error")
	}
	// The buffer must still hold its frame after the failed call.
	if !fb.FrameReady() {
		t.Error("FrameReady() = false after a rejected Frame() call")
	}
}

func TestFrameBufferNotReadyLeavesStateUntouched(t *testing.T) {
	fb, err := NewFrameBuffer(8, FramingReset, 0)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}
	fb.Append(1)
	fb.Append(2)

	dst := make([]int16, 8)
	if err := fb.Frame(dst); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Frame() error = %v, want ErrNotReady", err)
	}
	if fb.Len() != 2 {
		t.Errorf("Len() after ErrNotReady = %d, want 2", fb.Len())
	}

	// Filling the rest must produce the complete frame in order.
	for i := 3; i <= 8; i++ {
		fb.Append(int16(i))
	}
	if err := fb.Frame(dst); err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	for i, v := range dst {
		if v != int16(i+1) {
			t.Errorf("dst[%d] = %d, want %d", i, v, i+1)
		}
	}
}

func TestFrameBufferAllocations(t *testing.T) {
	fb, err := NewFrameBuffer(256, FramingSliding, 64)
	if err != nil {
		t.Fatalf("NewFrameBuffer() error = %v", err)
	}
	dst := make([]int16, 256)

	allocs := testing.AllocsPerRun(100, func() {
		for i := 0; i < 64; i++ {
			fb.Append(int16(i))
		}
		if fb.FrameReady() {
			fb.Frame(dst)
		}
	})
	if allocs > 0 {
		t.Errorf("append/consume cycle allocations = %.1f, want 0", allocs)
	}
}

func BenchmarkFrameBufferAppend(b *testing.B) {
	benchmarks := []struct {
		name   string
		policy FramingPolicy
		hop    int
	}{
		{"Reset", FramingReset, 0},
		{"Sliding", FramingSliding, 64},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			fb, err := NewFrameBuffer(256, bm.policy, bm.hop)
			if err != nil {
				b.Fatalf("NewFrameBuffer() error = %v", err)
			}
			dst := make([]int16, 256)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				fb.Append(1)
				if fb.FrameReady() {
					fb.Frame(dst)
				}
			}
		})
	}
}
