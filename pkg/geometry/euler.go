package geometry

import (
	"math"
)

// singularityEpsilon is the sy threshold below which the rotation is treated
// as gimbal-locked.
const singularityEpsilon = 1e-6

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec multiplies the matrix by a column vector.
func (m Mat3) MulVec(v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// Rodrigues converts an axis-angle rotation vector to a rotation matrix.
func Rodrigues(r [3]float64) Mat3 {
	theta := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
	if theta < 1e-12 {
		// First order: I + [r]x
		return Mat3{
			{1, -r[2], r[1]},
			{r[2], 1, -r[0]},
			{-r[1], r[0], 1},
		}
	}

	kx, ky, kz := r[0]/theta, r[1]/theta, r[2]/theta
	c := math.Cos(theta)
	s := math.Sin(theta)
	t := 1 - c

	return Mat3{
		{c + t*kx*kx, t*kx*ky - s*kz, t*kx*kz + s*ky},
		{t*ky*kx + s*kz, c + t*ky*ky, t*ky*kz - s*kx},
		{t*kz*kx - s*ky, t*kz*ky + s*kx, c + t*kz*kz},
	}
}

// MatrixToEuler extracts pitch, yaw and roll (radians) from a rotation matrix.
// Pitch is rotation about X, yaw about Y, roll about Z.
func MatrixToEuler(m Mat3) (pitch, yaw, roll float64) {
	r00 := m[0][0]
	r10, r11, r12 := m[1][0], m[1][1], m[1][2]
	r20, r21, r22 := m[2][0], m[2][1], m[2][2]

	sy := math.Sqrt(r00*r00 + r10*r10)

	if sy >= singularityEpsilon {
		pitch = math.Atan2(r21, r22)
		yaw = math.Atan2(-r20, sy)
		roll = math.Atan2(r10, r00)
	} else {
		pitch = math.Atan2(-r12, r11)
		yaw = math.Atan2(-r20, sy)
		roll = 0
	}

	return pitch, yaw, roll
}

// MatrixToPose converts a camera-relative rotation matrix into a head pose
// in degrees.
//
// The head model is y-up while image space is y-down, so a face looking
// straight at the camera solves to a rotation of ~180 degrees about X. Pitch
// is wrapped back into [-90, 90] so that straight ahead reads ~0.
func MatrixToPose(m Mat3) Pose {
	pitch, yaw, roll := MatrixToEuler(m)

	p := Pose{
		Pitch: pitch * 180 / math.Pi,
		Yaw:   yaw * 180 / math.Pi,
		Roll:  roll * 180 / math.Pi,
	}

	if p.Pitch > 90 {
		p.Pitch -= 180
	} else if p.Pitch < -90 {
		p.Pitch += 180
	}

	return p
}
