package geometry

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

// PoseEstimator derives head orientation from face landmarks.
type PoseEstimator struct {
	solver PoseSolver
	camera Camera
	width  float64
	height float64
	logger *slog.Logger
}

// NewPoseEstimator creates an estimator for frames of the given size.
// A nil solver selects NewDefaultSolver().
func NewPoseEstimator(width, height int, solver PoseSolver, logger *slog.Logger) *PoseEstimator {
	if solver == nil {
		solver = NewDefaultSolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PoseEstimator{
		solver: solver,
		camera: CameraForFrame(width, height),
		width:  float64(width),
		height: float64(height),
		logger: logger,
	}
}

// Estimate returns pitch, yaw and roll in degrees. Any failure yields the
// neutral pose (0, 0, 0).
func (e *PoseEstimator) Estimate(set landmarks.Set) Pose {
	pose, err := e.Solve(set)
	if err != nil {
		e.logger.Debug("pose solve failed, using neutral pose", "error", err)
		return Pose{}
	}
	return pose
}

// Solve is Estimate without the neutral fallback.
func (e *PoseEstimator) Solve(set landmarks.Set) (Pose, error) {
	image := make([]Vec2, len(landmarks.PoseIndices))
	for i, idx := range landmarks.PoseIndices {
		p, err := set.At(idx)
		if err != nil {
			return Pose{}, fmt.Errorf("%w: %v", ErrPoseSolve, err)
		}
		image[i] = Vec2{X: p.X * e.width, Y: p.Y * e.height}
	}

	sol, err := e.solver.Solve(HeadModel[:], image, e.camera)
	if err != nil {
		return Pose{}, err
	}

	pose := MatrixToPose(Rodrigues(sol.Rotation))
	if !finite(pose.Pitch) || !finite(pose.Yaw) || !finite(pose.Roll) {
		return Pose{}, fmt.Errorf("%w: non-finite angles", ErrPoseSolve)
	}
	return pose, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
