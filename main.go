package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"elephantlog/cmd"
	"elephantlog/internal/capture"
	"elephantlog/internal/config"
	"elephantlog/internal/dsp"
	"elephantlog/internal/knn"
	applog "elephantlog/internal/log"
	"elephantlog/internal/report"
	"elephantlog/internal/session"
	"elephantlog/internal/store"
	"elephantlog/pkg/build"
)

// main is the entry point for the infrasound logger. The program flow is
// divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments
//   - Load configuration
//   - Open the exemplar store and load the classifier
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start the PortAudio input stream
//   - Samples flow through the frame buffer, extractor and classifier
//     inside the capture callback
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Emit a final status report
//   - Close reporters and the store
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	build.Initialize()

	// One thread for the capture callback, one for reporting I/O.
	runtime.GOMAXPROCS(2)

	options, err := cmd.ParseArgs()
	if err != nil {
		log.Fatal(err)
	}
	if options == nil {
		// Help or version output; cobra already handled it.
		return
	}

	cfg, err := config.Load(options.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}
	if options.Verbose || cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if options.DeviceID != cmd.DeviceUnset {
		cfg.Audio.InputDevice = options.DeviceID
	}
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	// The devices command needs PortAudio but nothing else.
	if options.Command == "devices" {
		if err := listDevices(); err != nil {
			log.Fatal(err)
		}
		return
	}

	exemplars, err := store.Open(cfg.Store.Path, dsp.FeatureDim)
	if err != nil {
		log.Fatal(err)
	}
	defer exemplars.Close()

	classifier, err := knn.New(cfg.Classifier.K, cfg.Classifier.Scales, exemplars, cfg.Classifier.Labels)
	if err != nil {
		log.Fatal(err)
	}
	loaded, err := classifier.Load()
	if err != nil {
		log.Fatal(err)
	}
	applog.Infof("main: loaded %d exemplars from %s", loaded, cfg.Store.Path)

	switch options.Command {
	case "labels":
		printLabels(classifier)
		return
	case "classify":
		if err := classifyFile(cfg, classifier, options.WavPath); err != nil {
			log.Fatal(err)
		}
		return
	case "train":
		if err := trainFile(cfg, classifier, options.WavPath, options.Label); err != nil {
			log.Fatal(err)
		}
		return
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	reporter, err := buildReporter(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer reporter.Close()

	sess, err := buildSession(cfg, classifier, reporter, session.Config{
		ClassifyInterval: time.Duration(cfg.Report.ClassifyInterval),
		StatusInterval:   time.Duration(cfg.Report.StatusInterval),
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := capture.Initialize(); err != nil {
		log.Fatal(err)
	}
	defer capture.Terminate()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	// The capture callback is the pipeline's single control flow: every
	// delivered sample is appended and any ready frame processed in place.
	mic, err := capture.NewMicSource(
		cfg.Audio.InputDevice,
		cfg.Audio.SampleRate,
		cfg.Audio.FrameLength,
		cfg.Audio.LowLatency,
		&pipelineSink{sess: sess},
	)
	if err != nil {
		log.Fatal(err)
	}
	if err := mic.Start(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %s monitoring. Ctrl-C to stop.\n",
		build.GetBuildFlags().Name, build.GetBuildFlags().Version)

	<-done

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := mic.Stop(); err != nil {
		applog.Errorf("main: stopping capture: %v", err)
	}
	sess.ReportStatus()
}

// pipelineSink feeds captured samples into the session and runs the
// pipeline whenever a frame becomes ready. Errors are logged rather than
// propagated; the capture callback has nowhere to return them.
type pipelineSink struct {
	sess *session.Session
}

func (p *pipelineSink) AddSample(v int16) {
	p.sess.AddSample(v)
	if _, err := p.sess.ProcessPending(); err != nil {
		applog.Errorf("main: processing frame: %v", err)
	}
}

// offlineSink drives the session from a WAV stream. When trainLabel is set,
// every extracted frame is appended to the exemplar store; otherwise
// classification results are tallied per label.
type offlineSink struct {
	sess       *session.Session
	trainLabel string

	lastFrames uint64
	trained    int
	results    map[string]int
	err        error
}

func (o *offlineSink) AddSample(v int16) {
	o.sess.AddSample(v)
	result, err := o.sess.ProcessPending()
	if err != nil && o.err == nil {
		o.err = err
	}
	if result != nil {
		o.results[result.Label]++
	}
	if o.trainLabel == "" {
		return
	}
	if frames := o.sess.Status().Frames; frames > o.lastFrames {
		o.lastFrames = frames
		if err := o.sess.TrainCurrent(o.trainLabel); err != nil && o.err == nil {
			o.err = err
		} else if err == nil {
			o.trained++
		}
	}
}

func buildSession(cfg *config.Config, classifier *knn.Classifier, reporter report.Reporter, sessCfg session.Config) (*session.Session, error) {
	policy := dsp.FramingReset
	if cfg.Audio.Framing == config.FramingSliding {
		policy = dsp.FramingSliding
	}
	frames, err := dsp.NewFrameBuffer(cfg.Audio.FrameLength, policy, cfg.Audio.Hop)
	if err != nil {
		return nil, err
	}
	extractor, err := dsp.NewExtractor(cfg.Audio.FrameLength, cfg.Audio.SampleRate,
		cfg.Features.BandLowHz, cfg.Features.BandHighHz)
	if err != nil {
		return nil, err
	}
	return session.New(frames, extractor, classifier, reporter, sessCfg)
}

func buildReporter(cfg *config.Config) (report.Reporter, error) {
	reporters := []report.Reporter{report.NewLogReporter()}
	if cfg.Report.UDPEnabled {
		udp, err := report.NewUDPReporter(cfg.Report.UDPTargetAddress)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, udp)
	}
	if cfg.Report.WebsocketEnabled {
		reporters = append(reporters, report.NewWebsocketReporter(cfg.Report.WebsocketAddr))
	}
	if len(reporters) == 1 {
		return reporters[0], nil
	}
	return report.NewMultiReporter(reporters...), nil
}

func classifyFile(cfg *config.Config, classifier *knn.Classifier, path string) error {
	reporter := report.NewLogReporter()
	// Offline runs classify every frame; the live cadence throttle exists
	// to bound CPU and host traffic, neither of which applies here.
	sess, err := buildSession(cfg, classifier, reporter, session.Config{})
	if err != nil {
		return err
	}

	sink := &offlineSink{sess: sess, results: make(map[string]int)}
	delivered, err := capture.StreamWAV(path, cfg.Audio.SampleRate, sink)
	if err != nil {
		return err
	}
	if sink.err != nil {
		return sink.err
	}

	st := sess.Status()
	fmt.Printf("%s: %d samples, %d frames classified\n", path, delivered, st.Classifications)
	for _, label := range sortedKeys(sink.results) {
		fmt.Printf("  %-16s %d\n", label, sink.results[label])
	}
	return nil
}

func trainFile(cfg *config.Config, classifier *knn.Classifier, path, label string) error {
	reporter := report.NewLogReporter()
	sess, err := buildSession(cfg, classifier, reporter, session.Config{})
	if err != nil {
		return err
	}

	sink := &offlineSink{sess: sess, trainLabel: label, results: make(map[string]int)}
	delivered, err := capture.StreamWAV(path, cfg.Audio.SampleRate, sink)
	if err != nil {
		return err
	}
	if sink.err != nil {
		return sink.err
	}

	fmt.Printf("%s: trained %d frames as %q (%d samples read, %d exemplars total)\n",
		path, sink.trained, label, delivered, classifier.Count())
	return nil
}

func printLabels(classifier *knn.Classifier) {
	counts := classifier.Labels()
	if len(counts) == 0 {
		fmt.Println("exemplar store is empty")
		return
	}
	for _, label := range sortedKeys(counts) {
		fmt.Printf("%-16s %d\n", label, counts[label])
	}
	fmt.Printf("total: %d exemplars\n", classifier.Count())
}

func listDevices() error {
	if err := capture.Initialize(); err != nil {
		return err
	}
	defer capture.Terminate()

	devices, err := capture.InputDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no input devices found")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s [%2d] %s (%d ch, %g Hz)\n", marker, d.ID, d.Name, d.Channels, d.SampleRate)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
