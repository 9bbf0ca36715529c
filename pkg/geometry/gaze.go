package geometry

import (
	"math"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
)

// neutralEyeRatio is returned when the eye ring cannot be measured.
const neutralEyeRatio = 0.5

// EyeRatio is the coarse horizontal gaze ratio for one eye ring: the position
// of the ring's bounding-box centre relative to its left edge, normalised by
// the box width. 0.5 when the box has no width or the ring is incomplete.
func EyeRatio(set landmarks.Set, ring [6]int, width, height float64) float64 {
	minX, maxX := math.Inf(1), math.Inf(-1)
	for _, idx := range ring {
		p, err := set.At(idx)
		if err != nil {
			return neutralEyeRatio
		}
		x := p.X * width
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
	}

	w := maxX - minX
	if w <= 0 {
		return neutralEyeRatio
	}

	centerX := minX + w/2
	return clamp((centerX-minX)/w, 0, 1)
}

// IrisGaze returns the iris-relative gaze averaged over both eyes. Sets
// without the iris refinement (fewer than 478 points) or with unusable
// indices return an unavailable zero vector.
func IrisGaze(set landmarks.Set) Gaze {
	if !set.HasIris() {
		return Gaze{}
	}

	left, ok := eyeGaze(set, landmarks.LeftIrisCenter,
		landmarks.LeftEyeLeft, landmarks.LeftEyeRight, landmarks.LeftEyeTop, landmarks.LeftEyeBottom)
	if !ok {
		return Gaze{}
	}
	right, ok := eyeGaze(set, landmarks.RightIrisCenter,
		landmarks.RightEyeLeft, landmarks.RightEyeRight, landmarks.RightEyeTop, landmarks.RightEyeBottom)
	if !ok {
		return Gaze{}
	}

	return NewGaze((left[0]+right[0])/2, (left[1]+right[1])/2)
}

// eyeGaze returns (horizontal, vertical) for one eye. Vertical is positive up.
func eyeGaze(set landmarks.Set, iris, cornerL, cornerR, top, bottom int) ([2]float64, bool) {
	var pts [5]landmarks.Point
	for i, idx := range [5]int{iris, cornerL, cornerR, top, bottom} {
		p, err := set.At(idx)
		if err != nil {
			return [2]float64{}, false
		}
		pts[i] = p
	}
	c, l, r, t, b := pts[0], pts[1], pts[2], pts[3], pts[4]

	var h, v float64
	if w := r.X - l.X; w > 0 {
		h = ((c.X-l.X)/w - 0.5) * 2
	}
	if ht := b.Y - t.Y; ht > 0 {
		v = (0.5 - (c.Y-t.Y)/ht) * 2
	}
	if !finite(h) || !finite(v) {
		return [2]float64{}, false
	}
	return [2]float64{h, v}, true
}
