package behavior

import "github.com/teslashibe/go-proctor/pkg/geometry"

// Rule is a deterministic check evaluated before the model. Apply returns
// the label and true when the rule fires.
type Rule interface {
	Name() string
	Apply(f geometry.Features, g geometry.Gaze) (Label, bool)
}

// PitchDownRule fires HeadDown when pitch exceeds Threshold degrees.
type PitchDownRule struct {
	Threshold float64
}

func (r PitchDownRule) Name() string { return "pitch_down" }

func (r PitchDownRule) Apply(f geometry.Features, _ geometry.Gaze) (Label, bool) {
	if f.Pitch > r.Threshold {
		return HeadDown, true
	}
	return Normal, false
}

// GazeLeftRule fires LookingLeft when the iris gaze is left of -Threshold.
type GazeLeftRule struct {
	Threshold float64
}

func (r GazeLeftRule) Name() string { return "gaze_left" }

func (r GazeLeftRule) Apply(_ geometry.Features, g geometry.Gaze) (Label, bool) {
	if g.Available && g.Horizontal < -r.Threshold {
		return LookingLeft, true
	}
	return Normal, false
}

// GazeRightRule fires LookingRight when the iris gaze is right of Threshold.
type GazeRightRule struct {
	Threshold float64
}

func (r GazeRightRule) Name() string { return "gaze_right" }

func (r GazeRightRule) Apply(_ geometry.Features, g geometry.Gaze) (Label, bool) {
	if g.Available && g.Horizontal > r.Threshold {
		return LookingRight, true
	}
	return Normal, false
}

// GazeDownRule fires HeadDown when the iris gaze is below -Threshold.
type GazeDownRule struct {
	Threshold float64
}

func (r GazeDownRule) Name() string { return "gaze_down" }

func (r GazeDownRule) Apply(_ geometry.Features, g geometry.Gaze) (Label, bool) {
	if g.Available && g.Vertical < -r.Threshold {
		return HeadDown, true
	}
	return Normal, false
}

// DefaultRules returns the production rule order. Pitch wins over gaze.
func DefaultRules(t Thresholds) []Rule {
	return []Rule{
		PitchDownRule{Threshold: t.PitchDownDeg},
		GazeLeftRule{Threshold: t.HorizontalGaze},
		GazeRightRule{Threshold: t.HorizontalGaze},
		GazeDownRule{Threshold: t.VerticalGazeDown},
	}
}
