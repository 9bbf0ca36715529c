package geometry

import (
	"errors"
)

// ErrPoseSolve is returned when the perspective pose solve fails.
var ErrPoseSolve = errors.New("geometry: pose solve failed")

// Vec2 is an image point in pixels.
type Vec2 struct {
	X, Y float64
}

// Vec3 is a model point in millimetres.
type Vec3 struct {
	X, Y, Z float64
}

// HeadModel is the six-point 3D reference head (millimetres, nose tip at the
// origin, y up). Order matches landmarks.PoseIndices.
var HeadModel = [6]Vec3{
	{0.0, 0.0, 0.0},          // Nose tip
	{0.0, -330.0, -65.0},     // Chin
	{-225.0, 170.0, -135.0},  // Left eye left corner
	{225.0, 170.0, -135.0},   // Right eye right corner
	{-150.0, -150.0, -125.0}, // Left mouth corner
	{150.0, -150.0, -125.0},  // Right mouth corner
}

// Camera is a pinhole camera with square pixels and no lens distortion.
type Camera struct {
	Focal float64 // focal length in pixels
	CX    float64 // principal point x
	CY    float64 // principal point y
}

// CameraForFrame returns the synthetic camera used for pose recovery:
// focal length = frame width, principal point = frame centre.
func CameraForFrame(width, height int) Camera {
	return Camera{
		Focal: float64(width),
		CX:    float64(width) / 2,
		CY:    float64(height) / 2,
	}
}

// Project maps a camera-space point to pixels. ok is false for points at or
// behind the camera plane.
func (c Camera) Project(p [3]float64) (Vec2, bool) {
	if p[2] <= 0 {
		return Vec2{}, false
	}
	return Vec2{
		X: c.Focal*p[0]/p[2] + c.CX,
		Y: c.Focal*p[1]/p[2] + c.CY,
	}, true
}

// Solution is a recovered object pose: an axis-angle rotation vector and a
// translation in model units.
type Solution struct {
	Rotation    [3]float64
	Translation [3]float64
}

// PoseSolver recovers the object pose from 3D-2D correspondences.
type PoseSolver interface {
	// Solve returns the pose or an error wrapping ErrPoseSolve.
	Solve(object []Vec3, image []Vec2, cam Camera) (Solution, error)
}

// PoseSolverFunc adapts a function to the PoseSolver interface.
type PoseSolverFunc func(object []Vec3, image []Vec2, cam Camera) (Solution, error)

// Solve calls f.
func (f PoseSolverFunc) Solve(object []Vec3, image []Vec2, cam Camera) (Solution, error) {
	return f(object, image, cam)
}
