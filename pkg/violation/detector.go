package violation

import (
	"errors"
	"time"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/geometry"
)

// Classifier labels one frame of features.
type Classifier interface {
	Classify(f geometry.Features, g geometry.Gaze) (behavior.Result, error)
}

// Outcome is the full result of one detector step.
type Outcome struct {
	Result behavior.Result
	Event  *Event
}

// Detector combines a shared classifier with one subject's state machine.
type Detector struct {
	classifier Classifier
	machine    *StateMachine
}

// NewDetector creates a detector. The classifier is shared and must be
// immutable; the state machine is owned by the detector.
func NewDetector(classifier Classifier, cfg Config) (*Detector, error) {
	if classifier == nil {
		return nil, behavior.ErrModelNotLoaded
	}
	m, err := NewStateMachine(cfg)
	if err != nil {
		return nil, err
	}
	return &Detector{classifier: classifier, machine: m}, nil
}

// Step classifies the frame and advances the state machine.
//
// A classification error still advances the machine with a NORMAL label at
// zero confidence, so a failing frame breaks any saturated buffer, and the
// error is returned alongside. ErrModelNotLoaded does not advance anything.
func (d *Detector) Step(f geometry.Features, g geometry.Gaze, now time.Time) (Outcome, error) {
	res, err := d.classifier.Classify(f, g)
	if err != nil {
		if errors.Is(err, behavior.ErrModelNotLoaded) {
			return Outcome{}, err
		}
		res = behavior.Result{Label: behavior.Normal, Message: behavior.Normal.Message()}
		d.machine.Observe(behavior.Normal, 0, now)
		return Outcome{Result: res}, err
	}

	ev := d.machine.Observe(res.Label, res.Confidence, now)
	return Outcome{Result: res, Event: ev}, nil
}

// Detect is Step returning only the event.
func (d *Detector) Detect(f geometry.Features, g geometry.Gaze, now time.Time) (*Event, error) {
	out, err := d.Step(f, g, now)
	return out.Event, err
}

// Reset clears the subject's state.
func (d *Detector) Reset() {
	d.machine.Reset()
}

// Describe returns the current state description.
func (d *Detector) Describe(now time.Time) string {
	return d.machine.Describe(now)
}

// State returns a snapshot of the state machine.
func (d *Detector) State() State {
	return d.machine.State()
}

// Config returns the state machine configuration.
func (d *Detector) Config() Config {
	return d.machine.Config()
}
