// Package capture adapts concrete sample sources (WAV files for offline
// runs, PortAudio for a live microphone) to the pipeline's push interface.
// Bias removal and amplitude scaling happen here: the pipeline only ever
// sees pre-conditioned signed samples.
package capture

// SampleSink receives one pre-conditioned sample at a time. The session
// satisfies this; sources never see anything past it.
type SampleSink interface {
	AddSample(v int16)
}
