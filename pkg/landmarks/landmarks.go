// Package landmarks defines the face mesh landmark set consumed by the
// proctoring pipeline and the canonical MediaPipe indices it relies on.
//
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
package landmarks

import (
	"errors"
	"fmt"
	"math"
)

// Mesh sizes.
const (
	// MeshSize is the number of points in the base face mesh.
	MeshSize = 468

	// MeshSizeWithIris is the number of points once iris refinement is on.
	MeshSizeWithIris = 478
)

// Face mesh indices used by the geometry estimators.
const (
	NoseTip = 1
	Chin    = 152

	LeftEyeLeft   = 33
	LeftEyeRight  = 133
	RightEyeLeft  = 362
	RightEyeRight = 263

	LeftEyeTop     = 159
	LeftEyeBottom  = 145
	RightEyeTop    = 386
	RightEyeBottom = 374

	LeftIrisCenter  = 468
	RightIrisCenter = 473

	MouthTop    = 13
	MouthBottom = 14
	MouthLeft   = 78
	MouthRight  = 308

	MouthCornerLeft  = 61
	MouthCornerRight = 291
)

// Eye rings used for the coarse gaze ratio.
var (
	LeftEyeRing  = [6]int{33, 160, 158, 133, 153, 144}
	RightEyeRing = [6]int{362, 385, 387, 263, 373, 380}
)

// PoseIndices are the landmarks matched against the 3D head model, in model order:
// nose tip, chin, left eye outer corner, right eye outer corner, left mouth
// corner, right mouth corner.
var PoseIndices = [6]int{NoseTip, Chin, LeftEyeLeft, RightEyeRight, MouthCornerLeft, MouthCornerRight}

// ErrIndex is returned when a landmark index is outside the set.
var ErrIndex = errors.New("landmarks: index out of range")

// Point is a normalized landmark position. X and Y are in [0,1] relative to
// the frame; Z is relative depth.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the 3D euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Set is one frame of face landmarks. A nil Set means no face was detected.
type Set []Point

// At returns the landmark at index i.
func (s Set) At(i int) (Point, error) {
	if i < 0 || i >= len(s) {
		return Point{}, fmt.Errorf("%w: %d (have %d)", ErrIndex, i, len(s))
	}
	return s[i], nil
}

// HasIris reports whether the set includes the refined iris points.
func (s Set) HasIris() bool {
	return len(s) >= MeshSizeWithIris
}

// FromTriples converts [[x,y,z], ...] rows into a Set. Rows with two values
// get Z=0; any other width is rejected.
func FromTriples(rows [][]float64) (Set, error) {
	if rows == nil {
		return nil, nil
	}
	set := make(Set, len(rows))
	for i, r := range rows {
		switch len(r) {
		case 2:
			set[i] = Point{X: r[0], Y: r[1]}
		case 3:
			set[i] = Point{X: r[0], Y: r[1], Z: r[2]}
		default:
			return nil, fmt.Errorf("landmarks: row %d has %d values, want 2 or 3", i, len(r))
		}
	}
	return set, nil
}

// Triples converts the set back into [[x,y,z], ...] rows.
func (s Set) Triples() [][]float64 {
	if s == nil {
		return nil
	}
	rows := make([][]float64, len(s))
	for i, p := range s {
		rows[i] = []float64{p.X, p.Y, p.Z}
	}
	return rows
}
