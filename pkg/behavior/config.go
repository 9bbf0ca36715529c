package behavior

import "fmt"

// Thresholds configures the deterministic rules.
type Thresholds struct {
	// PitchDownDeg is the head pitch (degrees, positive down) above which
	// the subject is looking down.
	PitchDownDeg float64

	// HorizontalGaze is the iris gaze magnitude beyond which the subject is
	// looking left or right.
	HorizontalGaze float64

	// VerticalGazeDown is the downward iris gaze magnitude beyond which the
	// subject is looking down.
	VerticalGazeDown float64
}

// DefaultThresholds returns the production rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PitchDownDeg:     20,
		HorizontalGaze:   0.25,
		VerticalGazeDown: 0.3,
	}
}

// Validate checks that thresholds are usable.
func (t Thresholds) Validate() error {
	if t.PitchDownDeg <= 0 || t.PitchDownDeg >= 90 {
		return fmt.Errorf("behavior: pitch threshold must be in (0, 90), got %v", t.PitchDownDeg)
	}
	if t.HorizontalGaze <= 0 || t.HorizontalGaze >= 1 {
		return fmt.Errorf("behavior: horizontal gaze threshold must be in (0, 1), got %v", t.HorizontalGaze)
	}
	if t.VerticalGazeDown <= 0 || t.VerticalGazeDown >= 1 {
		return fmt.Errorf("behavior: vertical gaze threshold must be in (0, 1), got %v", t.VerticalGazeDown)
	}
	return nil
}
