// Package peakfit fits one-dimensional Gaussian peaks on a constant
// background to intensity profiles.
package peakfit

import (
	"errors"
	"math"
)

var (
	// ErrNotConverged is returned when the solver hits its iteration cap,
	// produces non-finite parameters or panics.
	ErrNotConverged = errors.New("peak fit did not converge")

	// ErrNoCandidate is returned by FitMulti when no candidate is both
	// bright enough and close enough to the estimate.
	ErrNoCandidate = errors.New("no acceptable peak candidate")
)

// Result holds the fitted parameters of f(x) = A*exp(-(x-mu)^2/(2*sigma^2)) + B.
type Result struct {
	Amplitude  float64 `json:"amplitude"`
	Center     float64 `json:"center"`
	Sigma      float64 `json:"sigma"`
	Background float64 `json:"background"`
	Iterations int     `json:"iterations"`
}

// Eval returns the model value at x.
func (r Result) Eval(x float64) float64 {
	return gaussian([numParams]float64{r.Amplitude, r.Center, r.Sigma, r.Background}, x)
}

const (
	pAmp = iota
	pCenter
	pSigma
	pBackground
	numParams
)

func gaussian(p [numParams]float64, x float64) float64 {
	d := x - p[pCenter]
	s := p[pSigma]
	return p[pAmp]*math.Exp(-d*d/(2*s*s)) + p[pBackground]
}

// gaussianGradient writes df/dp into grad.
func gaussianGradient(p [numParams]float64, x float64, grad []float64) {
	d := x - p[pCenter]
	s := p[pSigma]
	s2 := s * s
	e := math.Exp(-d * d / (2 * s2))

	grad[pAmp] = e
	grad[pCenter] = p[pAmp] * e * d / s2
	grad[pSigma] = p[pAmp] * e * d * d / (s2 * s)
	grad[pBackground] = 1
}

func finite(p [numParams]float64) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
