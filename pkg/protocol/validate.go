package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

// FaceMeshTag is the validator tag for landmark lists. A list passes when it
// is empty (no face) or holds at least landmarks.MeshSize points.
const FaceMeshTag = "facemesh"

// ErrBadFrame is returned for a frame whose landmark list is neither empty
// nor a full face mesh.
var ErrBadFrame = errors.New("protocol: bad frame")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterValidation(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterValidation adds FaceMeshTag to v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation(FaceMeshTag, func(fl validator.FieldLevel) bool {
		n := fl.Field().Len()
		return n == 0 || n >= landmarks.MeshSize
	})
}

// Validate checks the landmark count.
func (f *FrameData) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %d landmarks: %w", ErrBadFrame, len(f.Landmarks), err)
	}
	return nil
}
