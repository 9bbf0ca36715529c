package behavior

import "github.com/teslashibe/go-proctor/pkg/geometry"

// Model is a trained multi-class classifier over the five-feature vector.
// Implementations must be safe for concurrent use; a single model is shared
// by every session.
type Model interface {
	// Predict returns the most likely label.
	Predict(f geometry.Features) (Label, error)

	// PredictProbabilities returns one probability per class, indexed by
	// label value. The slice may be shorter than NumLabels when the model
	// was trained on fewer classes.
	PredictProbabilities(f geometry.Features) ([]float64, error)
}
