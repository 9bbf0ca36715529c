package proctor

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/debug"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

// FeatureExtractor turns landmarks into features and gaze.
type FeatureExtractor interface {
	Extract(set landmarks.Set) (geometry.Features, geometry.Gaze)
}

// Pipeline runs one subject's frames through extraction, classification and
// the violation state machine. Not safe for concurrent use.
type Pipeline struct {
	extractor FeatureExtractor
	detector  *violation.Detector
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. A nil logger selects slog.Default().
func NewPipeline(extractor FeatureExtractor, detector *violation.Detector, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		extractor: extractor,
		detector:  detector,
		logger:    logger,
	}
}

// Process handles one frame. A nil set is reported as no_face and does not
// touch the state machine. Classification failures degrade the frame to
// NORMAL; only behavior.ErrModelNotLoaded is returned.
func (p *Pipeline) Process(set landmarks.Set, now time.Time) (FrameResult, error) {
	if set == nil {
		return FrameResult{
			Status:      StatusNoFace,
			Label:       behavior.Normal,
			LabelName:   "No Face",
			Message:     "No face detected",
			Description: p.detector.Describe(now),
			At:          now,
		}, nil
	}

	f, g := p.extractor.Extract(set)

	out, err := p.detector.Step(f, g, now)
	if err != nil {
		if errors.Is(err, behavior.ErrModelNotLoaded) {
			return FrameResult{}, err
		}
		p.logger.Warn("classification failed, frame treated as normal", "error", err)
	}

	r := FrameResult{
		Label:       out.Result.Label,
		LabelName:   out.Result.Label.Message(),
		Confidence:  out.Result.Confidence,
		Message:     out.Result.Message,
		Features:    f,
		Gaze:        g,
		Event:       out.Event,
		Description: p.detector.Describe(now),
		At:          now,
	}
	switch {
	case out.Event != nil:
		r.Status = StatusViolation
	case out.Result.Label.IsViolation():
		r.Status = StatusWarning
	default:
		r.Status = StatusNormal
	}

	debug.FrameLog("[frame] %s gaze=(%.2f,%.2f,%v) -> %s %.2f via %s | %s\n",
		f, g.Horizontal, g.Vertical, g.Available, out.Result.Label, out.Result.Confidence, out.Result.Rule, r.Description)

	return r, nil
}

// Reset clears the state machine.
func (p *Pipeline) Reset() {
	p.detector.Reset()
}

// Describe returns the state machine description.
func (p *Pipeline) Describe(now time.Time) string {
	return p.detector.Describe(now)
}

// State returns the state machine snapshot.
func (p *Pipeline) State() violation.State {
	return p.detector.State()
}
