// replay: run the proctoring pipeline offline over a landmark recording
// Time is driven by the recorded timestamps, so a replay reproduces exactly
// the events a live session would have produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/teslashibe/go-proctor/internal/config"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/agent"
	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/debug"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/store"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// Uplink modes.
const (
	uplinkViolations = "violations"
	uplinkFrames     = "frames"
)

func main() {
	input := flag.String("in", "-", "JSONL recording (- for stdin)")
	subject := flag.String("subject", "replay", "Subject ID for records without one")
	exam := flag.String("exam", "", "Exam code")
	modelPath := flag.String("model", "", "Random forest JSON (empty uses the embedded model)")
	dbPath := flag.String("db", "", "Also persist violations to this SQLite file")
	preset := flag.String("preset", "", "Violation timing preset: default, legacy")
	uplink := flag.String("uplink", "", "Gateway base URL, e.g. ws://localhost:8080 (overrides PROCTOR_UPLINK_URL)")
	uplinkMode := flag.String("uplink-mode", uplinkViolations, "What to send upstream: violations, frames")
	verbose := flag.Bool("v", false, "Print every frame")
	debugFrames := flag.Bool("debug-frames", false, "Trace every frame (very verbose)")
	flag.Parse()

	if *preset != "" {
		os.Setenv(config.EnvPreset, *preset)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *uplink != "" {
		cfg.UplinkURL = *uplink
	}
	if *uplinkMode != uplinkViolations && *uplinkMode != uplinkFrames {
		fmt.Fprintf(os.Stderr, "❌ Unknown uplink mode %q\n", *uplinkMode)
		os.Exit(2)
	}
	debug.Frames = *debugFrames
	log.Setup(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	var in io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	records, err := readRecording(in, *subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Recording error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, records, options{
		exam:       *exam,
		dbPath:     *dbPath,
		uplinkMode: *uplinkMode,
		verbose:    *verbose,
		out:        os.Stdout,
	}); err != nil {
		log.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	exam       string
	dbPath     string
	uplinkMode string
	verbose    bool
	out        io.Writer
}

func run(ctx context.Context, cfg config.Config, records []record, opts options) error {
	logger := log.L()

	var model behavior.Model
	var err error
	if cfg.ModelPath == "" {
		model, err = behavior.LoadEmbedded()
	} else {
		model, err = behavior.LoadModel(cfg.ModelPath)
	}
	if err != nil {
		return err
	}
	classifier, err := behavior.NewClassifier(model, cfg.Thresholds())
	if err != nil {
		return err
	}
	extractor, err := geometry.NewExtractor(cfg.Geometry(), nil, logger)
	if err != nil {
		return err
	}

	r := &replayer{
		extractor:  extractor,
		classifier: classifier,
		vcfg:       cfg.Violation(),
		opts:       opts,
	}

	if opts.dbPath != "" {
		st, err := store.OpenSQLite(opts.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		r.sinks = append(r.sinks, st)
	}

	if cfg.UplinkURL != "" {
		acfg := agent.DefaultConfig()
		acfg.URL = cfg.UplinkURL
		acfg.StudentID = firstSubject(records)
		acfg.ExamCode = opts.exam
		acfg.HeartbeatInterval = cfg.Heartbeat
		client, err := agent.New(acfg, logger.With("component", "uplink"))
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()
		r.uplink = client
		if opts.uplinkMode == uplinkViolations {
			r.sinks = append(r.sinks, client)
		}
	}

	sum, err := r.replay(ctx, records)
	if err != nil {
		return err
	}
	sum.print(opts.out)
	return nil
}

func firstSubject(records []record) string {
	if len(records) == 0 {
		return "replay"
	}
	return records[0].SubjectID
}

// replayer drives a Monitor with a manual clock set from each record.
type replayer struct {
	extractor  proctor.FeatureExtractor
	classifier violation.Classifier
	vcfg       violation.Config
	sinks      []proctor.Sink
	uplink     *agent.Client
	opts       options
}

type summary struct {
	frames     int
	noFace     int
	duration   time.Duration
	violations []proctor.Violation
	byLabel    map[behavior.Label]int
}

func (r *replayer) replay(ctx context.Context, records []record) (*summary, error) {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := violation.NewManualClock(start)

	sum := &summary{byLabel: make(map[behavior.Label]int)}
	collect := proctor.SinkFunc(func(_ context.Context, v proctor.Violation) error {
		sum.violations = append(sum.violations, v)
		sum.byLabel[v.Label]++
		return nil
	})

	opts := []proctor.Option{proctor.WithClock(clock), proctor.WithSink(collect)}
	for _, s := range r.sinks {
		opts = append(opts, proctor.WithSink(s))
	}
	monitor, err := proctor.NewMonitor(r.extractor, r.classifier, r.vcfg, opts...)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if _, _, err := monitor.Ensure(rec.SubjectID, r.opts.exam); err != nil {
			return sum, err
		}

		clock.Set(start.Add(rec.Offset()))
		set := rec.Set()
		res, err := monitor.ProcessFrame(ctx, rec.SubjectID, set)
		if err != nil {
			return sum, err
		}
		sum.frames++
		if res.Status == proctor.StatusNoFace {
			sum.noFace++
		}
		if d := rec.Offset(); d > sum.duration {
			sum.duration = d
		}

		if r.uplink != nil && r.opts.uplinkMode == uplinkFrames {
			if err := r.uplink.SendFrame(set); err != nil {
				return sum, fmt.Errorf("uplink: %w", err)
			}
		}

		if r.opts.verbose {
			fmt.Fprintf(r.opts.out, "%8.3fs %-8s %-10s %-13s %.2f  %s\n",
				rec.T, rec.SubjectID, res.Status, res.LabelName, res.Confidence, res.Description)
		}
		if res.Event != nil {
			fmt.Fprintf(r.opts.out, "🚨 %8.3fs %s: %s\n", rec.T, rec.SubjectID, res.Event)
		}
	}
	return sum, nil
}

func (s *summary) print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "📊 %d frames over %.1fs (%d without a face), %d violations\n",
		s.frames, s.duration.Seconds(), s.noFace, len(s.violations))

	labels := make([]behavior.Label, 0, len(s.byLabel))
	for l := range s.byLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	for _, l := range labels {
		fmt.Fprintf(w, "   %-13s %d\n", l.Message(), s.byLabel[l])
	}
}
