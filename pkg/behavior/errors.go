package behavior

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrModelNotLoaded is returned when classification runs without a model.
	ErrModelNotLoaded = errors.New("behavior: model not loaded")

	// ErrInvalidFeatureShape is returned when a feature batch cannot be
	// reshaped to one row of five features.
	ErrInvalidFeatureShape = errors.New("behavior: invalid feature shape")

	// ErrModelMissing is returned when the model artifact does not exist.
	ErrModelMissing = errors.New("behavior: model file missing")

	// ErrModelCorrupt is returned when the model artifact cannot be decoded
	// or fails validation.
	ErrModelCorrupt = errors.New("behavior: model file corrupt")
)

// ModelLoadError is returned by LoadModel. Err wraps ErrModelMissing or
// ErrModelCorrupt.
type ModelLoadError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("behavior: load model %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
