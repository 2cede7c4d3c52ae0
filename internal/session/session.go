// SPDX-License-Identifier: MIT
/*
Package session ties the pipeline together: frame-ready events from the
sample buffer drive feature extraction, classification and reporting. The
session owns no I/O: samples are pushed in, results are handed to the
configured Reporter.

Extraction and classification cadences are decoupled: every ready frame is
extracted and its features reported, but classification can be throttled to a
fixed interval so the exemplar search and host traffic run slower than the
frame rate. An interval of zero classifies every frame.
*/
package session

import (
	"errors"
	"fmt"
	"time"

	"elephantlog/internal/dsp"
	"elephantlog/internal/knn"
	applog "elephantlog/internal/log"
	"elephantlog/internal/report"
)

// Config holds the session's cadence policy.
type Config struct {
	ClassifyInterval time.Duration // 0 classifies every extracted frame
	StatusInterval   time.Duration // 0 disables the periodic heartbeat
}

// Session is the single-threaded pipeline orchestrator. All methods must be
// called from one control flow; only the classifier it delegates to is safe
// for concurrent use (training commands may interleave).
type Session struct {
	frames     *dsp.FrameBuffer
	extractor  *dsp.Extractor
	classifier *knn.Classifier
	reporter   report.Reporter

	classifyInterval time.Duration
	lastClassify     time.Time
	statusInterval   time.Duration
	lastStatus       time.Time

	// Soft real-time budget: a frame's worth of sampling time. Chronic
	// overrun means samples are being dropped while we compute.
	frameBudget time.Duration

	lastFeatures dsp.FeatureVector
	hasFeatures  bool

	started         time.Time
	frameCount      uint64
	classifications uint64
	overruns        uint64

	now func() time.Time // injectable clock for tests
}

// New wires a session from its collaborators.
func New(frames *dsp.FrameBuffer, extractor *dsp.Extractor, classifier *knn.Classifier, reporter report.Reporter, cfg Config) (*Session, error) {
	if frames == nil || extractor == nil || classifier == nil || reporter == nil {
		return nil, errors.New("session: all collaborators must be non-nil")
	}
	if cfg.ClassifyInterval < 0 {
		return nil, fmt.Errorf("session: classify interval must not be negative, got %s", cfg.ClassifyInterval)
	}
	if frames.FrameLength() != extractor.FrameLength() {
		return nil, fmt.Errorf("session: buffer frame length %d does not match extractor frame length %d",
			frames.FrameLength(), extractor.FrameLength())
	}

	budget := time.Duration(float64(extractor.FrameLength()) / extractor.SampleRate() * float64(time.Second))
	now := time.Now
	return &Session{
		frames:           frames,
		extractor:        extractor,
		classifier:       classifier,
		reporter:         reporter,
		classifyInterval: cfg.ClassifyInterval,
		statusInterval:   cfg.StatusInterval,
		frameBudget:      budget,
		started:          now(),
		lastStatus:       now(),
		now:              now,
	}, nil
}

// AddSample pushes one pre-conditioned sample into the frame buffer. O(1),
// never blocked by a concurrent extraction or classification pass.
func (s *Session) AddSample(v int16) {
	s.frames.Append(v)
}

// ProcessPending runs the pipeline if a frame is ready. It extracts features,
// reports them, and classifies when the cadence policy allows. Returns the
// classification result when one was produced; (nil, nil) when no frame was
// ready or classification was throttled.
func (s *Session) ProcessPending() (*knn.Result, error) {
	if !s.frames.FrameReady() {
		return nil, nil
	}
	start := s.now()

	features, err := s.extractor.Extract(s.frames)
	if err != nil {
		if errors.Is(err, dsp.ErrNotReady) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: extracting features: %w", err)
	}
	s.frameCount++
	s.lastFeatures = features
	s.hasFeatures = true

	if err := s.reporter.Features(features); err != nil {
		applog.Errorf("session: reporting features: %v", err)
	}

	var result *knn.Result
	if s.classifyDue(start) {
		res, err := s.classifier.Classify(features)
		if err != nil {
			return nil, fmt.Errorf("session: classifying frame: %w", err)
		}
		s.classifications++
		s.lastClassify = start
		result = &res

		if err := s.reporter.Result(res); err != nil {
			applog.Errorf("session: reporting result: %v", err)
		}
	}

	if elapsed := s.now().Sub(start); elapsed > s.frameBudget {
		s.overruns++
		applog.Warnf("session: frame processing took %s, budget %s (%d overruns total)",
			elapsed, s.frameBudget, s.overruns)
	}

	// The heartbeat rides the processing flow so everything stays on one
	// control path; with continuous sampling, frames are never far apart.
	if s.statusInterval > 0 && s.now().Sub(s.lastStatus) >= s.statusInterval {
		s.lastStatus = s.now()
		s.ReportStatus()
	}
	return result, nil
}

func (s *Session) classifyDue(now time.Time) bool {
	if s.classifyInterval == 0 {
		return true
	}
	return s.lastClassify.IsZero() || now.Sub(s.lastClassify) >= s.classifyInterval
}

// TrainCurrent labels the most recently extracted frame and appends it to
// the exemplar store. Fails when no frame has been extracted yet.
func (s *Session) TrainCurrent(label string) error {
	if !s.hasFeatures {
		return errors.New("session: no frame has been extracted yet")
	}
	return s.classifier.Train(s.lastFeatures, label)
}

// LastFeatures returns the most recent feature vector, if any.
func (s *Session) LastFeatures() (dsp.FeatureVector, bool) {
	if !s.hasFeatures {
		return nil, false
	}
	return s.lastFeatures, true
}

// Status snapshots the session counters for the heartbeat.
func (s *Session) Status() report.Status {
	return report.Status{
		Uptime:          s.now().Sub(s.started),
		Frames:          s.frameCount,
		Classifications: s.classifications,
		Overruns:        s.overruns,
		DroppedSamples:  s.frames.Dropped(),
		Exemplars:       s.classifier.Count(),
	}
}

// ReportStatus emits the heartbeat through the reporter.
func (s *Session) ReportStatus() {
	if err := s.reporter.Status(s.Status()); err != nil {
		applog.Errorf("session: reporting status: %v", err)
	}
}
