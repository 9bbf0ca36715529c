package behavior

import (
	"fmt"

	"github.com/teslashibe/go-proctor/pkg/geometry"
)

// NormalizeShape turns a feature batch into one feature row. It accepts a
// single row of five values ([[f0..f4]]) or a column of five single values
// ([[f0],[f1],...,[f4]]). Anything else is ErrInvalidFeatureShape.
func NormalizeShape(rows [][]float64) (geometry.Features, error) {
	var v [geometry.FeatureCount]float64

	switch {
	case len(rows) == 1 && len(rows[0]) == geometry.FeatureCount:
		copy(v[:], rows[0])
	case len(rows) == geometry.FeatureCount:
		for i, r := range rows {
			if len(r) != 1 {
				return geometry.Features{}, fmt.Errorf("%w: row %d has %d values", ErrInvalidFeatureShape, i, len(r))
			}
			v[i] = r[0]
		}
	default:
		cols := 0
		if len(rows) > 0 {
			cols = len(rows[0])
		}
		return geometry.Features{}, fmt.Errorf("%w: got %dx%d, want 1x%d or %dx1",
			ErrInvalidFeatureShape, len(rows), cols, geometry.FeatureCount, geometry.FeatureCount)
	}

	return geometry.FeaturesFromVector(v), nil
}
