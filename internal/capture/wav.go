package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "elephantlog/internal/log"
)

// StreamWAV decodes a WAV file and pushes its samples into the sink at the
// pipeline's sample rate. Multi-channel files are reduced to their first
// channel and other bit depths are rescaled to 16-bit. When the file's rate
// differs from targetRate the stream is resampled by nearest-sample
// selection, which is crude but adequate for a 10-200 Hz analysis band.
//
// Returns the number of samples delivered to the sink.
func StreamWAV(path string, targetRate float64, sink SampleSink) (int, error) {
	if targetRate <= 0 {
		return 0, fmt.Errorf("capture: target rate must be positive, got %g", targetRate)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("capture: opening %s: %w", path, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("capture: %s is not a valid WAV file", path)
	}

	srcRate := float64(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)
	if channels <= 0 || bitDepth <= 0 {
		return 0, fmt.Errorf("capture: %s has unusable format (%d channels, %d-bit)", path, channels, bitDepth)
	}
	if srcRate != targetRate {
		applog.Warnf("capture: %s is %g Hz, resampling to %g Hz by nearest sample", path, srcRate, targetRate)
	}

	// Scale arbitrary bit depths to int16: shift down for deeper formats,
	// up for 8-bit.
	shift := bitDepth - 16

	const chunkFrames = 4096
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: int(srcRate)},
		Data:   make([]int, chunkFrames*channels),
	}

	step := srcRate / targetRate
	var (
		delivered int
		cursor    float64 // fractional source-frame position of the next output sample
		frameBase int     // absolute index of the first frame in the current chunk
	)
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return delivered, fmt.Errorf("capture: decoding %s: %w", path, err)
		}
		if n == 0 {
			break
		}
		framesRead := n / channels

		for int(cursor) < frameBase+framesRead {
			idx := (int(cursor) - frameBase) * channels
			v := buf.Data[idx]
			var s int16
			switch {
			case bitDepth == 8:
				// 8-bit WAV is unsigned, centered on 128.
				s = int16((v - 128) << 8)
			case shift > 0:
				s = int16(v >> shift)
			default:
				s = int16(v)
			}
			sink.AddSample(s)
			delivered++
			cursor += step
		}
		frameBase += framesRead
	}

	return delivered, nil
}
