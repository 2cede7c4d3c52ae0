// Package report delivers feature vectors, classification results and status
// heartbeats to the host. The core pipeline only sees the Reporter interface
// and has no knowledge of wire format or transport.
package report

import (
	"time"

	"elephantlog/internal/dsp"
	"elephantlog/internal/knn"
	applog "elephantlog/internal/log"
)

// Status is the periodic device heartbeat.
type Status struct {
	Uptime          time.Duration `json:"uptime"`
	Frames          uint64        `json:"frames"`
	Classifications uint64        `json:"classifications"`
	Overruns        uint64        `json:"overruns"`
	DroppedSamples  uint64        `json:"dropped_samples"`
	Exemplars       int           `json:"exemplars"`
}

// Reporter receives everything the pipeline produces. Implementations must
// tolerate being called from the sampling control flow: Send-style work that
// can block belongs on a goroutine behind the implementation.
type Reporter interface {
	Features(fv dsp.FeatureVector) error
	Result(res knn.Result) error
	Status(st Status) error
	Close() error
}

// LogReporter writes everything to the application log. It is the default
// reporter and the fallback when no transport is configured.
type LogReporter struct{}

func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

func (r *LogReporter) Features(fv dsp.FeatureVector) error {
	applog.Debugf("features: rms=%.4f dominant=%.1fHz band=%.4f zcr=%.4f",
		fv[dsp.FeatRMS], fv[dsp.FeatDominantHz], fv[dsp.FeatBandRatio], fv[dsp.FeatZCR])
	return nil
}

func (r *LogReporter) Result(res knn.Result) error {
	applog.Infof("classification: %s (confidence %.2f)", res.Label, res.Confidence)
	return nil
}

func (r *LogReporter) Status(st Status) error {
	applog.Infof("status: uptime=%s frames=%d classifications=%d overruns=%d dropped=%d exemplars=%d",
		st.Uptime.Truncate(time.Second), st.Frames, st.Classifications, st.Overruns, st.DroppedSamples, st.Exemplars)
	return nil
}

func (r *LogReporter) Close() error { return nil }

// MultiReporter fans out to several reporters. The first error is returned
// but every reporter is still invoked, so one dead transport does not
// silence the others.
type MultiReporter struct {
	reporters []Reporter
}

func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	return &MultiReporter{reporters: reporters}
}

func (m *MultiReporter) Features(fv dsp.FeatureVector) error {
	var first error
	for _, r := range m.reporters {
		if err := r.Features(fv); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiReporter) Result(res knn.Result) error {
	var first error
	for _, r := range m.reporters {
		if err := r.Result(res); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiReporter) Status(st Status) error {
	var first error
	for _, r := range m.reporters {
		if err := r.Status(st); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiReporter) Close() error {
	var first error
	for _, r := range m.reporters {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Reporter = (*LogReporter)(nil)
	_ Reporter = (*MultiReporter)(nil)
)
