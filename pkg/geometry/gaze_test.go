package geometry

import (
	"testing"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

type eyeLayout struct {
	left, right, top, bottom, iris landmarks.Point
}

// irisFace builds a 478-point set with both eyes laid out as given.
func irisFace(leftEye, rightEye eyeLayout) landmarks.Set {
	set := make(landmarks.Set, landmarks.MeshSizeWithIris)

	set[landmarks.LeftEyeLeft] = leftEye.left
	set[landmarks.LeftEyeRight] = leftEye.right
	set[landmarks.LeftEyeTop] = leftEye.top
	set[landmarks.LeftEyeBottom] = leftEye.bottom
	set[landmarks.LeftIrisCenter] = leftEye.iris

	set[landmarks.RightEyeLeft] = rightEye.left
	set[landmarks.RightEyeRight] = rightEye.right
	set[landmarks.RightEyeTop] = rightEye.top
	set[landmarks.RightEyeBottom] = rightEye.bottom
	set[landmarks.RightIrisCenter] = rightEye.iris

	return set
}

func pt(x, y float64) landmarks.Point {
	return landmarks.Point{X: x, Y: y}
}

func TestIrisGaze_InsufficientLandmarks(t *testing.T) {
	tests := []struct {
		name string
		set  landmarks.Set
	}{
		{"nil", nil},
		{"base mesh only", make(landmarks.Set, landmarks.MeshSize)},
		{"one short of iris", make(landmarks.Set, landmarks.MeshSizeWithIris-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := IrisGaze(tt.set)
			if g.Available {
				t.Error("gaze should be unavailable without iris points")
			}
			if g.Horizontal != 0 || g.Vertical != 0 {
				t.Errorf("expected zero vector, got %+v", g)
			}
		})
	}
}

func TestIrisGaze_Centered(t *testing.T) {
	set := irisFace(
		eyeLayout{pt(0.40, 0.40), pt(0.46, 0.40), pt(0.43, 0.39), pt(0.43, 0.41), pt(0.43, 0.40)},
		eyeLayout{pt(0.54, 0.40), pt(0.60, 0.40), pt(0.57, 0.39), pt(0.57, 0.41), pt(0.57, 0.40)},
	)

	g := IrisGaze(set)
	if !g.Available {
		t.Fatal("gaze should be available")
	}
	if abs(g.Horizontal) > 1e-9 || abs(g.Vertical) > 1e-9 {
		t.Errorf("centred iris should give ~0 gaze, got %+v", g)
	}
}

func TestIrisGaze_Offset(t *testing.T) {
	// Iris three quarters across and a quarter down from the top lid in both eyes.
	set := irisFace(
		eyeLayout{pt(0.40, 0.40), pt(0.46, 0.40), pt(0.43, 0.39), pt(0.43, 0.41), pt(0.445, 0.395)},
		eyeLayout{pt(0.54, 0.40), pt(0.60, 0.40), pt(0.57, 0.39), pt(0.57, 0.41), pt(0.585, 0.395)},
	)

	g := IrisGaze(set)
	if !g.Available {
		t.Fatal("gaze should be available")
	}
	if abs(g.Horizontal-0.5) > 1e-9 {
		t.Errorf("horizontal = %v, want 0.5", g.Horizontal)
	}
	if abs(g.Vertical-0.5) > 1e-9 {
		t.Errorf("vertical = %v, want 0.5 (positive is up)", g.Vertical)
	}
}

func TestIrisGaze_Clipped(t *testing.T) {
	set := irisFace(
		eyeLayout{pt(0.40, 0.40), pt(0.46, 0.40), pt(0.43, 0.39), pt(0.43, 0.41), pt(0.70, 0.60)},
		eyeLayout{pt(0.54, 0.40), pt(0.60, 0.40), pt(0.57, 0.39), pt(0.57, 0.41), pt(0.90, 0.60)},
	)

	g := IrisGaze(set)
	if g.Horizontal != 1 {
		t.Errorf("horizontal = %v, want clipped to 1", g.Horizontal)
	}
	if g.Vertical != -1 {
		t.Errorf("vertical = %v, want clipped to -1", g.Vertical)
	}
}

func TestIrisGaze_DegenerateEye(t *testing.T) {
	// Zero-width, zero-height eyes contribute 0 instead of dividing by zero.
	set := make(landmarks.Set, landmarks.MeshSizeWithIris)

	g := IrisGaze(set)
	if !g.Available {
		t.Fatal("a full set should still report gaze")
	}
	if g.Horizontal != 0 || g.Vertical != 0 {
		t.Errorf("degenerate eyes should give zero gaze, got %+v", g)
	}
}

func TestEyeRatio(t *testing.T) {
	t.Run("measurable ring is centred", func(t *testing.T) {
		set := make(landmarks.Set, landmarks.MeshSize)
		xs := []float64{0.40, 0.42, 0.44, 0.46, 0.44, 0.42}
		for i, idx := range landmarks.LeftEyeRing {
			set[idx] = pt(xs[i], 0.4)
		}

		if r := EyeRatio(set, landmarks.LeftEyeRing, testWidth, testHeight); abs(r-0.5) > 1e-9 {
			t.Errorf("EyeRatio = %v, want 0.5", r)
		}
	})

	t.Run("zero width", func(t *testing.T) {
		set := make(landmarks.Set, landmarks.MeshSize)
		if r := EyeRatio(set, landmarks.RightEyeRing, testWidth, testHeight); r != 0.5 {
			t.Errorf("EyeRatio = %v, want 0.5", r)
		}
	})

	t.Run("missing index", func(t *testing.T) {
		set := make(landmarks.Set, 200)
		if r := EyeRatio(set, landmarks.RightEyeRing, testWidth, testHeight); r != 0.5 {
			t.Errorf("EyeRatio = %v, want 0.5", r)
		}
	})
}

func TestNewGaze_Clips(t *testing.T) {
	g := NewGaze(-3, 2)
	if g.Horizontal != -1 || g.Vertical != 1 || !g.Available {
		t.Errorf("NewGaze(-3, 2) = %+v, want {-1 1 true}", g)
	}
}
