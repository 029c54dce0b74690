package peakfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	lambdaStart = 1e-3
	lambdaMax   = 1e16
	lambdaMin   = 1e-15

	// relTol stops the solver once an accepted step improves the cost by
	// less than this fraction.
	relTol = 1e-10
)

// solver is a Levenberg-Marquardt least squares fit of the Gaussian model
// to samples y at positions 0..len(y)-1.
type solver struct {
	y       []float64
	maxIter int

	jac  *mat.Dense
	res  *mat.VecDense
	jtj  *mat.SymDense
	grad *mat.VecDense
	damp *mat.SymDense
	step *mat.VecDense
	row  []float64
}

func newSolver(y []float64, maxIter int) *solver {
	m := len(y)
	return &solver{
		y:       y,
		maxIter: maxIter,
		jac:     mat.NewDense(m, numParams, nil),
		res:     mat.NewVecDense(m, nil),
		jtj:     mat.NewSymDense(numParams, nil),
		grad:    mat.NewVecDense(numParams, nil),
		damp:    mat.NewSymDense(numParams, nil),
		step:    mat.NewVecDense(numParams, nil),
		row:     make([]float64, numParams),
	}
}

// residuals fills s.res with f(x_i)-y_i and returns the sum of squares.
func (s *solver) residuals(p [numParams]float64) float64 {
	cost := 0.0
	for i, yi := range s.y {
		r := gaussian(p, float64(i)) - yi
		s.res.SetVec(i, r)
		cost += r * r
	}
	return cost
}

func (s *solver) jacobian(p [numParams]float64) {
	for i := range s.y {
		gaussianGradient(p, float64(i), s.row)
		s.jac.SetRow(i, s.row)
	}
	s.jtj.SymOuterK(1, s.jac.T())
	s.grad.MulVec(s.jac.T(), s.res)
}

// solveStep solves (JtJ + lambda*diag(JtJ)) dx = -Jt r.
func (s *solver) solveStep(lambda float64) bool {
	s.damp.CopySym(s.jtj)
	for i := 0; i < numParams; i++ {
		d := s.jtj.At(i, i)
		if d == 0 {
			d = 1
		}
		s.damp.SetSym(i, i, s.jtj.At(i, i)+lambda*d)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(s.damp); !ok {
		return false
	}
	if err := chol.SolveVecTo(s.step, s.grad); err != nil {
		return false
	}
	s.step.ScaleVec(-1, s.step)
	return true
}

func (s *solver) run(start [numParams]float64) (p [numParams]float64, iter int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: solver panic: %v", ErrNotConverged, r)
		}
	}()

	p = start
	cost := s.residuals(p)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return p, 0, fmt.Errorf("%w: non-finite initial cost", ErrNotConverged)
	}
	s.jacobian(p)

	lambda := lambdaStart
	nu := 2.0
	for iter = 1; iter <= s.maxIter; iter++ {
		if cost == 0 || mat.Norm(s.grad, 2) < relTol*cost {
			return p, iter, nil
		}

		if !s.solveStep(lambda) {
			lambda *= nu
			nu *= 2
			if lambda > lambdaMax {
				return p, iter, nil
			}
			continue
		}

		var next [numParams]float64
		for j := range next {
			next[j] = p[j] + s.step.AtVec(j)
		}
		nextCost := s.residuals(next)

		if finite(next) && nextCost < cost {
			improvement := (cost - nextCost) / cost
			p, cost = next, nextCost
			lambda = math.Max(lambda/3, lambdaMin)
			nu = 2
			if improvement < relTol {
				return p, iter, nil
			}
			s.jacobian(p)
			continue
		}

		lambda *= nu
		nu *= 2
		// No step lowers the cost; p is a local minimum.
		if lambda > lambdaMax {
			return p, iter, nil
		}
	}
	return p, s.maxIter, fmt.Errorf("%w: %d iterations", ErrNotConverged, s.maxIter)
}
