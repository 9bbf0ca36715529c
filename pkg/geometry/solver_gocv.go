//go:build !nocv

package geometry

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// solvePnPIterative is cv::SOLVEPNP_ITERATIVE.
const solvePnPIterative = 0

// CVSolver recovers head pose with OpenCV's iterative solvePnP.
type CVSolver struct{}

// NewCVSolver returns an OpenCV-backed solver.
func NewCVSolver() *CVSolver {
	return &CVSolver{}
}

// NewDefaultSolver returns the OpenCV solver. Build with -tags nocv for the
// pure-Go LMSolver.
func NewDefaultSolver() PoseSolver {
	return NewCVSolver()
}

// Solve implements PoseSolver.
func (s *CVSolver) Solve(object []Vec3, image []Vec2, cam Camera) (Solution, error) {
	if len(object) != len(image) || len(object) < 4 {
		return Solution{}, fmt.Errorf("%w: need matching correspondences, got %d/%d", ErrPoseSolve, len(object), len(image))
	}

	objPts := make([]gocv.Point3f, len(object))
	for i, o := range object {
		objPts[i] = gocv.Point3f{X: float32(o.X), Y: float32(o.Y), Z: float32(o.Z)}
	}
	imgPts := make([]gocv.Point2f, len(image))
	for i, p := range image {
		imgPts[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}

	objVec := gocv.NewPoint3fVectorFromPoints(objPts)
	defer objVec.Close()
	imgVec := gocv.NewPoint2fVectorFromPoints(imgPts)
	defer imgVec.Close()

	cameraMatrix := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer cameraMatrix.Close()
	cameraMatrix.SetDoubleAt(0, 0, cam.Focal)
	cameraMatrix.SetDoubleAt(0, 1, 0)
	cameraMatrix.SetDoubleAt(0, 2, cam.CX)
	cameraMatrix.SetDoubleAt(1, 0, 0)
	cameraMatrix.SetDoubleAt(1, 1, cam.Focal)
	cameraMatrix.SetDoubleAt(1, 2, cam.CY)
	cameraMatrix.SetDoubleAt(2, 0, 0)
	cameraMatrix.SetDoubleAt(2, 1, 0)
	cameraMatrix.SetDoubleAt(2, 2, 1)

	distCoeffs := gocv.Zeros(4, 1, gocv.MatTypeCV64F)
	defer distCoeffs.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()

	if ok := gocv.SolvePnP(objVec, imgVec, cameraMatrix, distCoeffs, &rvec, &tvec, false, solvePnPIterative); !ok {
		return Solution{}, fmt.Errorf("%w: solvePnP did not converge", ErrPoseSolve)
	}
	if rvec.Rows()*rvec.Cols() < 3 || tvec.Rows()*tvec.Cols() < 3 {
		return Solution{}, fmt.Errorf("%w: solvePnP returned empty vectors", ErrPoseSolve)
	}

	var sol Solution
	for i := 0; i < 3; i++ {
		sol.Rotation[i] = rvec.GetDoubleAt(i, 0)
		sol.Translation[i] = tvec.GetDoubleAt(i, 0)
		if math.IsNaN(sol.Rotation[i]) || math.IsNaN(sol.Translation[i]) {
			return Solution{}, fmt.Errorf("%w: solvePnP returned NaN", ErrPoseSolve)
		}
	}
	return sol, nil
}
