package geometry

import (
	"math"
	"testing"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

func mouthFace(n int) landmarks.Set {
	set := make(landmarks.Set, n)
	set[landmarks.MouthTop] = pt(0.50, 0.60)
	set[landmarks.MouthBottom] = pt(0.50, 0.64)
	set[landmarks.MouthLeft] = pt(0.45, 0.62)
	set[landmarks.MouthRight] = pt(0.55, 0.62)
	return set
}

func TestMouthAspectRatio(t *testing.T) {
	tests := []struct {
		name string
		set  landmarks.Set
		want float64
	}{
		{"open mouth", mouthFace(landmarks.MeshSize), 0.4},
		{"zero width", make(landmarks.Set, landmarks.MeshSize), 0},
		{"truncated set", make(landmarks.Set, 50), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MouthAspectRatio(tt.set)
			if abs(got-tt.want) > 1e-9 {
				t.Errorf("MouthAspectRatio = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMouthAspectRatio_UsesDepth(t *testing.T) {
	set := mouthFace(landmarks.MeshSize)
	set[landmarks.MouthBottom] = landmarks.Point{X: 0.50, Y: 0.60, Z: 0.03}

	if got := MouthAspectRatio(set); abs(got-0.3) > 1e-9 {
		t.Errorf("MouthAspectRatio = %v, want 0.3", got)
	}
}

func TestFeatures_VectorOrder(t *testing.T) {
	f := Features{Pitch: 1, Yaw: 2, Roll: 3, EyeRatio: 4, MAR: 5}
	v := f.Vector()

	want := [FeatureCount]float64{1, 2, 3, 4, 5}
	if v != want {
		t.Errorf("Vector() = %v, want %v", v, want)
	}
	if back := FeaturesFromVector(v); back != f {
		t.Errorf("FeaturesFromVector = %+v, want %+v", back, f)
	}
	if len(FeatureNames) != FeatureCount || FeatureNames[0] != "pitch" || FeatureNames[4] != "mar" {
		t.Errorf("unexpected FeatureNames: %v", FeatureNames)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig should validate: %v", err)
	}
	if err := (Config{FrameWidth: 0, FrameHeight: 480}).Validate(); err == nil {
		t.Error("zero width should fail validation")
	}
	if _, err := NewExtractor(Config{}, nil, nil); err == nil {
		t.Error("NewExtractor should reject an invalid config")
	}
}

func TestExtractor_Extract(t *testing.T) {
	tilt := 25 * math.Pi / 180
	solver := PoseSolverFunc(func(object []Vec3, image []Vec2, cam Camera) (Solution, error) {
		return Solution{Rotation: [3]float64{math.Pi + tilt, 0, 0}, Translation: [3]float64{0, 0, 1000}}, nil
	})

	x, err := NewExtractor(DefaultConfig(), solver, nil)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	t.Run("base mesh", func(t *testing.T) {
		f, g := x.Extract(mouthFace(landmarks.MeshSize))

		if abs(f.Pitch-25) > 1e-6 {
			t.Errorf("pitch = %v, want 25", f.Pitch)
		}
		if abs(f.Yaw) > 1e-6 || abs(f.Roll) > 1e-6 {
			t.Errorf("yaw/roll = %v/%v, want 0/0", f.Yaw, f.Roll)
		}
		if f.EyeRatio != 0.5 {
			t.Errorf("eye ratio = %v, want 0.5", f.EyeRatio)
		}
		if abs(f.MAR-0.4) > 1e-9 {
			t.Errorf("mar = %v, want 0.4", f.MAR)
		}
		if g.Available {
			t.Error("gaze should be unavailable on the base mesh")
		}
	})

	t.Run("with iris", func(t *testing.T) {
		_, g := x.Extract(mouthFace(landmarks.MeshSizeWithIris))
		if !g.Available {
			t.Error("gaze should be available with iris points")
		}
	})

	t.Run("no pose landmarks", func(t *testing.T) {
		f, _ := x.Extract(make(landmarks.Set, 10))
		if f.Pitch != 0 || f.Yaw != 0 || f.Roll != 0 || f.MAR != 0 || f.EyeRatio != 0.5 {
			t.Errorf("truncated set should give neutral features, got %+v", f)
		}
	})
}
