package geometry

import "github.com/teslashibe/go-proctor/pkg/landmarks"

// MouthAspectRatio is the vertical over horizontal mouth opening. Returns 0
// when the mouth has no width or an index is missing.
func MouthAspectRatio(set landmarks.Set) float64 {
	top, err := set.At(landmarks.MouthTop)
	if err != nil {
		return 0
	}
	bottom, err := set.At(landmarks.MouthBottom)
	if err != nil {
		return 0
	}
	left, err := set.At(landmarks.MouthLeft)
	if err != nil {
		return 0
	}
	right, err := set.At(landmarks.MouthRight)
	if err != nil {
		return 0
	}

	horizontal := landmarks.Distance(left, right)
	if horizontal <= 0 {
		return 0
	}
	return landmarks.Distance(top, bottom) / horizontal
}
