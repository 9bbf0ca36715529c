// Package geometry derives head pose, gaze and mouth features from face
// landmarks.
//
// The estimators never fail a frame: landmark or solver problems degrade to
// neutral values (pose 0,0,0; eye ratio 0.5; MAR 0; gaze unavailable).
package geometry

import "fmt"

// FeatureCount is the length of the classifier feature vector.
const FeatureCount = 5

// FeatureNames lists the feature vector columns in order.
var FeatureNames = [FeatureCount]string{"pitch", "yaw", "roll", "eye_ratio", "mar"}

// Features is the per-frame feature vector. Field order matches Vector() and
// must not change: trained models consume the vector positionally.
type Features struct {
	Pitch    float64 `json:"pitch"`     // degrees
	Yaw      float64 `json:"yaw"`       // degrees
	Roll     float64 `json:"roll"`      // degrees
	EyeRatio float64 `json:"eye_ratio"` // 0-1, averaged over both eyes
	MAR      float64 `json:"mar"`       // mouth aspect ratio
}

// Vector returns the features as [pitch, yaw, roll, eye_ratio, mar].
func (f Features) Vector() [FeatureCount]float64 {
	return [FeatureCount]float64{f.Pitch, f.Yaw, f.Roll, f.EyeRatio, f.MAR}
}

// FeaturesFromVector is the inverse of Features.Vector.
func FeaturesFromVector(v [FeatureCount]float64) Features {
	return Features{Pitch: v[0], Yaw: v[1], Roll: v[2], EyeRatio: v[3], MAR: v[4]}
}

// String returns a compact representation for logs.
func (f Features) String() string {
	return fmt.Sprintf("pitch=%.1f yaw=%.1f roll=%.1f eye=%.2f mar=%.2f",
		f.Pitch, f.Yaw, f.Roll, f.EyeRatio, f.MAR)
}

// Gaze is the iris-relative gaze direction.
//
// Horizontal: -1 (left) to +1 (right). Vertical: -1 (down) to +1 (up).
// When Available is false the vector is zero and means "not measured",
// not "looking at the centre".
type Gaze struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	Available  bool    `json:"available"`
}

// NewGaze returns an available gaze vector clipped to [-1, 1].
func NewGaze(h, v float64) Gaze {
	return Gaze{Horizontal: clamp(h, -1, 1), Vertical: clamp(v, -1, 1), Available: true}
}

// Pose is a head orientation in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// clamp restricts a value to a range.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
