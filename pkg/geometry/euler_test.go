package geometry

import (
	"math"
	"testing"
)

func abs(x float64) float64 {
	return math.Abs(x)
}

func rotX(a float64) Mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func rotY(a float64) Mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

func rotZ(a float64) Mat3 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

func mul3(a, b Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func TestMatrixToEuler_Identity(t *testing.T) {
	pitch, yaw, roll := MatrixToEuler(Identity3())

	if abs(pitch) > 1e-9 || abs(yaw) > 1e-9 || abs(roll) > 1e-9 {
		t.Errorf("Identity should give zero angles, got pitch=%v yaw=%v roll=%v", pitch, yaw, roll)
	}
}

func TestMatrixToEuler_RecoversComposedAngles(t *testing.T) {
	// R = Rz(roll) * Ry(yaw) * Rx(pitch)
	wantPitch, wantYaw, wantRoll := 0.3, -0.2, 0.1
	m := mul3(rotZ(wantRoll), mul3(rotY(wantYaw), rotX(wantPitch)))

	pitch, yaw, roll := MatrixToEuler(m)

	if abs(pitch-wantPitch) > 1e-9 {
		t.Errorf("pitch = %v, want %v", pitch, wantPitch)
	}
	if abs(yaw-wantYaw) > 1e-9 {
		t.Errorf("yaw = %v, want %v", yaw, wantYaw)
	}
	if abs(roll-wantRoll) > 1e-9 {
		t.Errorf("roll = %v, want %v", roll, wantRoll)
	}
}

func TestMatrixToEuler_NearSingular(t *testing.T) {
	// Yaw just short of 90 degrees puts sy below the epsilon.
	m := rotY(math.Pi/2 - 1e-9)

	sy := math.Sqrt(m[0][0]*m[0][0] + m[1][0]*m[1][0])
	if sy >= singularityEpsilon {
		t.Fatalf("test matrix is not singular: sy=%v", sy)
	}

	pitch, yaw, roll := MatrixToEuler(m)

	if roll != 0 {
		t.Errorf("singular branch must force roll=0, got %v", roll)
	}
	if abs(pitch) > 1e-6 {
		t.Errorf("pitch = %v, want ~0", pitch)
	}
	if abs(yaw-math.Pi/2) > 1e-6 {
		t.Errorf("yaw = %v, want ~pi/2", yaw)
	}

	for _, v := range []float64{pitch, yaw, roll} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("singular branch produced non-finite angle: %v", v)
		}
	}
}

func TestMatrixToPose_WrapsPitch(t *testing.T) {
	tests := []struct {
		name      string
		m         Mat3
		wantPitch float64
	}{
		{"frontal face", rotX(math.Pi), 0},
		{"ten degrees past frontal", rotX(math.Pi + 10*math.Pi/180), 10},
		{"ten degrees short of frontal", rotX(math.Pi - 10*math.Pi/180), -10},
		{"small pitch, no wrap", rotX(15 * math.Pi / 180), 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pose := MatrixToPose(tt.m)
			if abs(pose.Pitch-tt.wantPitch) > 1e-6 {
				t.Errorf("pitch = %v, want %v", pose.Pitch, tt.wantPitch)
			}
			if pose.Pitch > 90 || pose.Pitch < -90 {
				t.Errorf("pitch %v outside [-90, 90]", pose.Pitch)
			}
		})
	}
}

func TestRodrigues(t *testing.T) {
	t.Run("zero vector is identity", func(t *testing.T) {
		m := Rodrigues([3]float64{})
		id := Identity3()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if abs(m[i][j]-id[i][j]) > 1e-12 {
					t.Fatalf("m[%d][%d] = %v, want %v", i, j, m[i][j], id[i][j])
				}
			}
		}
	})

	t.Run("axis rotations match", func(t *testing.T) {
		cases := []struct {
			vec  [3]float64
			want Mat3
		}{
			{[3]float64{0.4, 0, 0}, rotX(0.4)},
			{[3]float64{0, -0.7, 0}, rotY(-0.7)},
			{[3]float64{0, 0, 1.2}, rotZ(1.2)},
			{[3]float64{math.Pi, 0, 0}, rotX(math.Pi)},
		}
		for _, c := range cases {
			got := Rodrigues(c.vec)
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					if abs(got[i][j]-c.want[i][j]) > 1e-9 {
						t.Errorf("Rodrigues(%v)[%d][%d] = %v, want %v", c.vec, i, j, got[i][j], c.want[i][j])
					}
				}
			}
		}
	})
}
