//go:build nocv

package geometry

// NewDefaultSolver returns the pure-Go solver in builds without OpenCV.
func NewDefaultSolver() PoseSolver {
	return NewLMSolver()
}
