package geometry

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

// Config holds the frame geometry used to convert normalized landmarks to
// pixels.
type Config struct {
	FrameWidth  int // pixels
	FrameHeight int // pixels
}

// DefaultConfig returns the 640x480 webcam geometry.
func DefaultConfig() Config {
	return Config{
		FrameWidth:  640,
		FrameHeight: 480,
	}
}

// Validate checks the frame size.
func (c Config) Validate() error {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("geometry: frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight)
	}
	return nil
}

// Extractor assembles the classifier feature vector and gaze vector.
type Extractor struct {
	cfg  Config
	pose *PoseEstimator
}

// NewExtractor creates a feature extractor. A nil solver selects
// NewDefaultSolver().
func NewExtractor(cfg Config, solver PoseSolver, logger *slog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:  cfg,
		pose: NewPoseEstimator(cfg.FrameWidth, cfg.FrameHeight, solver, logger),
	}, nil
}

// Extract returns [pitch, yaw, roll, avg_eye_ratio, mar] and the iris gaze.
func (x *Extractor) Extract(set landmarks.Set) (Features, Gaze) {
	pose := x.pose.Estimate(set)

	w := float64(x.cfg.FrameWidth)
	h := float64(x.cfg.FrameHeight)
	left := EyeRatio(set, landmarks.LeftEyeRing, w, h)
	right := EyeRatio(set, landmarks.RightEyeRing, w, h)

	f := Features{
		Pitch:    pose.Pitch,
		Yaw:      pose.Yaw,
		Roll:     pose.Roll,
		EyeRatio: (left + right) / 2,
		MAR:      MouthAspectRatio(set),
	}

	return f, IrisGaze(set)
}
