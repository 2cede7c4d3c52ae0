// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	applog "elephantlog/internal/log"
)

// Initialize sets up the PortAudio subsystem. Must be called before any live
// capture and paired with a Terminate call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("capture: initializing PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("capture: terminating PortAudio: %w", err)
	}
	return nil
}

// Device describes one available input device for the devices command.
type Device struct {
	ID         int
	Name       string
	Channels   int
	SampleRate float64
	IsDefault  bool
}

// InputDevices lists every device with at least one input channel.
func InputDevices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: listing devices: %w", err)
	}
	defaultDev, _ := portaudio.DefaultInputDevice()

	var out []Device
	for i, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			ID:         i,
			Name:       info.Name,
			Channels:   info.MaxInputChannels,
			SampleRate: info.DefaultSampleRate,
			IsDefault:  defaultDev != nil && info.Name == defaultDev.Name,
		})
	}
	return out, nil
}

// inputDevice resolves a device ID, with -1 meaning the system default.
func inputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID < 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("capture: no default input device: %w", err)
		}
		return dev, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: listing devices: %w", err)
	}
	if deviceID >= len(infos) {
		return nil, fmt.Errorf("capture: device ID %d out of range (%d devices)", deviceID, len(infos))
	}
	if infos[deviceID].MaxInputChannels < 1 {
		return nil, fmt.Errorf("capture: device %d (%s) has no input channels", deviceID, infos[deviceID].Name)
	}
	return infos[deviceID], nil
}

// MicSource captures mono audio from a PortAudio input device and pushes
// conditioned samples into the sink. The running DC-offset estimate lives on
// the instance, so multiple sources and deterministic tests are possible.
type MicSource struct {
	sink    SampleSink
	stream  *portaudio.Stream
	device  *portaudio.DeviceInfo
	latency time.Duration

	sampleRate      float64
	framesPerBuffer int

	// One-pole high-pass state: tracks the slowly moving bias (electret
	// supply drift, ADC midpoint) and subtracts it from every sample.
	dcEstimate float64
	dcAlpha    float64
}

// NewMicSource prepares a capture stream on the given device. deviceID -1
// selects the system default input.
func NewMicSource(deviceID int, sampleRate float64, framesPerBuffer int, lowLatency bool, sink SampleSink) (*MicSource, error) {
	if sink == nil {
		return nil, fmt.Errorf("capture: sink must not be nil")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("capture: sample rate must be positive, got %g", sampleRate)
	}
	if framesPerBuffer <= 0 {
		return nil, fmt.Errorf("capture: frames per buffer must be positive, got %d", framesPerBuffer)
	}

	device, err := inputDevice(deviceID)
	if err != nil {
		return nil, err
	}

	latency := device.DefaultHighInputLatency
	if lowLatency {
		latency = device.DefaultLowInputLatency
	}

	return &MicSource{
		sink:            sink,
		device:          device,
		latency:         latency,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		// Time constant of roughly one second at the configured rate,
		// far below the 10 Hz band floor.
		dcAlpha: 1.0 / sampleRate,
	}, nil
}

// Start opens the stream and begins delivering samples to the sink.
func (m *MicSource) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   m.device,
			Latency:  m.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: m.framesPerBuffer,
		SampleRate:      m.sampleRate,
	}

	stream, err := portaudio.OpenStream(params, m.process)
	if err != nil {
		return fmt.Errorf("capture: opening input stream: %w", err)
	}
	m.stream = stream

	if err := m.stream.Start(); err != nil {
		m.stream.Close()
		m.stream = nil
		return fmt.Errorf("capture: starting input stream: %w", err)
	}
	applog.Infof("capture: input stream started on %q (%g Hz)", m.device.Name, m.sampleRate)
	return nil
}

// process is the capture callback. It removes the running DC bias and scales
// each sample to int16 before pushing it downstream. No allocations.
func (m *MicSource) process(in []int32) {
	const toUnit = 1.0 / 2147483648.0
	for _, raw := range in {
		x := float64(raw) * toUnit
		m.dcEstimate += m.dcAlpha * (x - m.dcEstimate)
		y := (x - m.dcEstimate) * 32767.0
		if y > 32767 {
			y = 32767
		} else if y < -32768 {
			y = -32768
		}
		m.sink.AddSample(int16(y))
	}
}

// Stop halts and closes the capture stream.
func (m *MicSource) Stop() error {
	if m.stream == nil {
		return nil
	}
	if err := m.stream.Stop(); err != nil {
		return fmt.Errorf("capture: stopping input stream: %w", err)
	}
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("capture: closing input stream: %w", err)
	}
	m.stream = nil
	return nil
}
