package geometry

import (
	"fmt"
	"math"
)

// LMSolver is an iterative perspective-n-point solver that minimises
// reprojection error with Levenberg-Marquardt over (rotation vector,
// translation). It needs no native dependencies and is the default solver
// when the binary is built without the gocv tag.
type LMSolver struct {
	MaxIterations int     // iteration cap before the solve is declared non-convergent
	Tolerance     float64 // relative step / cost change treated as converged
}

// NewLMSolver returns a solver with production defaults.
func NewLMSolver() *LMSolver {
	return &LMSolver{
		MaxIterations: 100,
		Tolerance:     1e-10,
	}
}

const (
	lmInitialLambda = 1e-3
	lmMaxLambda     = 1e12
	lmMinLambda     = 1e-12
	lmZeroCost      = 1e-18
)

// Solve implements PoseSolver.
func (s *LMSolver) Solve(object []Vec3, image []Vec2, cam Camera) (Solution, error) {
	if len(object) != len(image) {
		return Solution{}, fmt.Errorf("%w: %d model points vs %d image points", ErrPoseSolve, len(object), len(image))
	}
	if len(object) < 4 {
		return Solution{}, fmt.Errorf("%w: need at least 4 correspondences, got %d", ErrPoseSolve, len(object))
	}
	if cam.Focal <= 0 {
		return Solution{}, fmt.Errorf("%w: focal length must be positive", ErrPoseSolve)
	}

	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = 1e-10
	}

	p := initialGuess(object, image, cam)
	res := make([]float64, 2*len(object))
	cost := residuals(p, object, image, cam, res)
	if math.IsInf(cost, 0) || math.IsNaN(cost) {
		return Solution{}, fmt.Errorf("%w: initial guess projects behind camera", ErrPoseSolve)
	}

	lambda := lmInitialLambda
	jac := make([][6]float64, 2*len(object))
	trial := make([]float64, 2*len(object))

	for iter := 0; iter < maxIter; iter++ {
		if cost <= lmZeroCost {
			return toSolution(p), nil
		}

		jacobian(p, object, image, cam, res, jac)

		var a [6][6]float64
		var g [6]float64
		for r := range jac {
			for i := 0; i < 6; i++ {
				g[i] += jac[r][i] * res[r]
				for j := 0; j < 6; j++ {
					a[i][j] += jac[r][i] * jac[r][j]
				}
			}
		}

		accepted := false
		var step [6]float64
		var newCost float64
		for !accepted {
			damped := a
			for i := 0; i < 6; i++ {
				damped[i][i] += lambda * (a[i][i] + 1e-9)
			}
			var rhs [6]float64
			for i := range g {
				rhs[i] = -g[i]
			}

			delta, ok := solve6(damped, rhs)
			if ok {
				var cand [6]float64
				for i := range p {
					cand[i] = p[i] + delta[i]
				}
				newCost = residuals(cand, object, image, cam, trial)
				if newCost < cost {
					step = delta
					p = cand
					copy(res, trial)
					accepted = true
					lambda = math.Max(lambda/10, lmMinLambda)
					break
				}
			}

			lambda *= 10
			if lambda > lmMaxLambda {
				// No direction reduces the cost: we are at a minimum.
				return toSolution(p), nil
			}
		}

		prevCost := cost
		cost = newCost

		if norm6(step) < tol*(norm6(p)+tol) || prevCost-cost < tol*prevCost {
			return toSolution(p), nil
		}
	}

	return Solution{}, fmt.Errorf("%w: no convergence after %d iterations (cost %.3g)", ErrPoseSolve, maxIter, cost)
}

// initialGuess assumes a roughly frontal face: rotation of pi about X (model
// y-up to image y-down) with depth from the ratio of model to image spread.
func initialGuess(object []Vec3, image []Vec2, cam Camera) [6]float64 {
	n := float64(len(object))

	var mx, my, mz, u, v float64
	for i := range object {
		mx += object[i].X
		my += object[i].Y
		mz += object[i].Z
		u += image[i].X
		v += image[i].Y
	}
	mx, my, mz, u, v = mx/n, my/n, mz/n, u/n, v/n

	var modelSpread, imageSpread float64
	for i := range object {
		dx, dy := object[i].X-mx, object[i].Y-my
		modelSpread += dx*dx + dy*dy
		du, dv := image[i].X-u, image[i].Y-v
		imageSpread += du*du + dv*dv
	}

	depth := cam.Focal
	if imageSpread > 0 {
		depth = cam.Focal * math.Sqrt(modelSpread/imageSpread)
	}

	// Rx(pi) maps the model centroid to (mx, -my, -mz).
	tz := depth + mz
	tx := (u-cam.CX)*depth/cam.Focal - mx
	ty := (v-cam.CY)*depth/cam.Focal + my

	return [6]float64{math.Pi, 0, 0, tx, ty, tz}
}

// residuals fills out with reprojection errors and returns the squared sum.
// Points behind the camera make the cost infinite.
func residuals(p [6]float64, object []Vec3, image []Vec2, cam Camera, out []float64) float64 {
	rot := Rodrigues([3]float64{p[0], p[1], p[2]})
	var cost float64
	for i, o := range object {
		c := rot.MulVec([3]float64{o.X, o.Y, o.Z})
		c[0] += p[3]
		c[1] += p[4]
		c[2] += p[5]

		proj, ok := cam.Project(c)
		if !ok {
			return math.Inf(1)
		}
		out[2*i] = proj.X - image[i].X
		out[2*i+1] = proj.Y - image[i].Y
		cost += out[2*i]*out[2*i] + out[2*i+1]*out[2*i+1]
	}
	return cost
}

// jacobian computes d(residual)/d(param) by central differences.
func jacobian(p [6]float64, object []Vec3, image []Vec2, cam Camera, base []float64, jac [][6]float64) {
	plus := make([]float64, len(base))
	minus := make([]float64, len(base))

	for j := 0; j < 6; j++ {
		h := 1e-6 * math.Max(1, math.Abs(p[j]))

		pp, pm := p, p
		pp[j] += h
		pm[j] -= h

		cp := residuals(pp, object, image, cam, plus)
		cm := residuals(pm, object, image, cam, minus)

		for r := range jac {
			switch {
			case !math.IsInf(cp, 0) && !math.IsInf(cm, 0):
				jac[r][j] = (plus[r] - minus[r]) / (2 * h)
			case !math.IsInf(cp, 0):
				jac[r][j] = (plus[r] - base[r]) / h
			case !math.IsInf(cm, 0):
				jac[r][j] = (base[r] - minus[r]) / h
			default:
				jac[r][j] = 0
			}
		}
	}
}

// solve6 solves a 6x6 linear system by Gaussian elimination with partial
// pivoting.
func solve6(a [6][6]float64, b [6]float64) ([6]float64, bool) {
	const n = 6
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-300 {
			return [6]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	var x [6]float64
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [6]float64{}, false
		}
	}
	return x, true
}

func norm6(v [6]float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func toSolution(p [6]float64) Solution {
	return Solution{
		Rotation:    [3]float64{p[0], p[1], p[2]},
		Translation: [3]float64{p[3], p[4], p[5]},
	}
}
