// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Framing policies for the sample frame buffer.
const (
	FramingReset   = "reset"   // clear the buffer after each extracted frame
	FramingSliding = "sliding" // keep a rolling window, advance by hop samples
)

// Duration wraps time.Duration so YAML can carry human-readable values like
// "800ms" or "5s" instead of raw nanosecond counts.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the main application configuration, loaded from YAML.
type Config struct {
	Debug      bool             `yaml:"debug"`     // Enable debug mode (verbose logging).
	LogLevel   string           `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio      AudioConfig      `yaml:"audio"`     // Sampling and framing settings.
	Features   FeatureConfig    `yaml:"features"`  // Feature extraction settings.
	Classifier ClassifierConfig `yaml:"classifier"`
	Store      StoreConfig      `yaml:"store"`
	Report     ReportConfig     `yaml:"report"`
}

// AudioConfig holds sampling and frame-assembly settings.
type AudioConfig struct {
	InputDevice int     `yaml:"input_device"` // PortAudio device index (-1 for default).
	SampleRate  float64 `yaml:"sample_rate"`  // Sample rate in Hz. The logger runs at 1000.
	FrameLength int     `yaml:"frame_length"` // Samples per analysis frame (power of 2).
	Framing     string  `yaml:"framing"`      // "reset" or "sliding".
	Hop         int     `yaml:"hop"`          // Sliding framing: samples between frames.
	LowLatency  bool    `yaml:"low_latency"`  // Request low latency input from PortAudio.
}

// FeatureConfig bounds the frequency band the extractor focuses on.
// 10-200 Hz covers elephant rumbles and their first harmonics at a 1 kHz rate.
type FeatureConfig struct {
	BandLowHz  float64 `yaml:"band_low_hz"`
	BandHighHz float64 `yaml:"band_high_hz"`
}

// ClassifierConfig holds nearest-neighbour settings.
type ClassifierConfig struct {
	K      int       `yaml:"k"`      // Neighbour count, odd.
	Scales []float64 `yaml:"scales"` // Per-dimension distance divisors.
	Labels []string  `yaml:"labels"` // Trainable label allow-list; empty disables validation.
}

// StoreConfig locates the durable exemplar log.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ReportConfig holds cadence and transport settings for result reporting.
type ReportConfig struct {
	ClassifyInterval Duration `yaml:"classify_interval"` // 0 classifies every frame.
	StatusInterval   Duration `yaml:"status_interval"`   // Heartbeat period.
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	WebsocketEnabled bool          `yaml:"websocket_enabled"`
	WebsocketAddr    string        `yaml:"websocket_addr"`
}

// Load reads configuration from a YAML file at path. If path is empty it
// searches default locations ("config.yaml"); when no file is found the
// built-in defaults are used. Environment overrides apply after the file,
// and the final configuration is validated.
func Load(path string) (*Config, error) {
	cfg := Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice: -1,
			SampleRate:  1000,
			FrameLength: 256,
			Framing:     FramingReset,
			Hop:         64,
			LowLatency:  false,
		},
		Features: FeatureConfig{
			BandLowHz:  10,
			BandHighHz: 200,
		},
		Classifier: ClassifierConfig{
			K: 3,
			// RMS and the two ratios already sit in [0,1]; the dominant
			// frequency is divided by the band ceiling so it does too.
			Scales: []float64{1, 200, 1, 1},
			Labels: []string{"elephant", "not_elephant", "noise", "test"},
		},
		Store: StoreConfig{
			Path: "exemplars.log",
		},
		Report: ReportConfig{
			ClassifyInterval: Duration(800 * time.Millisecond),
			StatusInterval:   Duration(5 * time.Second),
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			WebsocketEnabled: false,
			WebsocketAddr:    ":8080",
		},
	}

	if path == "" {
		candidates := []string{
			"config.yaml",
		}
		found := false
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				found = true
				break
			}
		}
		if !found {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return &cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %g", c.Audio.SampleRate)
	}
	if c.Audio.FrameLength <= 0 || c.Audio.FrameLength&(c.Audio.FrameLength-1) != 0 {
		return fmt.Errorf("audio.frame_length must be a power of 2, got %d", c.Audio.FrameLength)
	}
	switch c.Audio.Framing {
	case FramingReset:
	case FramingSliding:
		if c.Audio.Hop <= 0 || c.Audio.Hop > c.Audio.FrameLength {
			return fmt.Errorf("audio.hop must be in 1..frame_length for sliding framing, got %d", c.Audio.Hop)
		}
	default:
		return fmt.Errorf("audio.framing must be %q or %q, got %q", FramingReset, FramingSliding, c.Audio.Framing)
	}
	nyquist := c.Audio.SampleRate / 2
	if c.Features.BandLowHz <= 0 || c.Features.BandHighHz <= c.Features.BandLowHz {
		return fmt.Errorf("features band [%g, %g] is not a valid range", c.Features.BandLowHz, c.Features.BandHighHz)
	}
	if c.Features.BandHighHz > nyquist {
		return fmt.Errorf("features.band_high_hz %g exceeds the Nyquist frequency %g", c.Features.BandHighHz, nyquist)
	}
	if c.Classifier.K <= 0 || c.Classifier.K%2 == 0 {
		return fmt.Errorf("classifier.k must be a positive odd number, got %d", c.Classifier.K)
	}
	for i, s := range c.Classifier.Scales {
		if s <= 0 {
			return fmt.Errorf("classifier.scales[%d] must be positive, got %g", i, s)
		}
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Report.ClassifyInterval < 0 {
		return fmt.Errorf("report.classify_interval must not be negative")
	}
	if c.Report.StatusInterval <= 0 {
		return fmt.Errorf("report.status_interval must be positive")
	}
	if c.Report.UDPEnabled && c.Report.UDPTargetAddress == "" {
		return fmt.Errorf("report.udp_target_address must be set when UDP is enabled")
	}
	if c.Report.WebsocketEnabled && c.Report.WebsocketAddr == "" {
		return fmt.Errorf("report.websocket_addr must be set when the websocket server is enabled")
	}
	return nil
}

// applyEnvOverrides applies ELOG_* environment variables on top of the
// loaded configuration. Only the settings a field deployment flips without
// reflashing a config file are overridable.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ELOG_DEBUG"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Debug = b
		}
	}
	if val, ok := os.LookupEnv("ELOG_STORE_PATH"); ok {
		c.Store.Path = val
	}
	if val, ok := os.LookupEnv("ELOG_UDP_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Report.UDPEnabled = b
		}
	}
	if val, ok := os.LookupEnv("ELOG_UDP_TARGET_ADDRESS"); ok {
		c.Report.UDPTargetAddress = val
	}
	if val, ok := os.LookupEnv("ELOG_CLASSIFY_INTERVAL"); ok {
		if d, err := time.ParseDuration(val); err == nil {
			c.Report.ClassifyInterval = Duration(d)
		}
	}
}
