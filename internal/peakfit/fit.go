package peakfit

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Options bounds the solver and describes the candidate set of FitMulti.
type Options struct {
	MaxIterations int

	// Offsets are candidate positions in units of the site spacing,
	// relative to the centre estimate. Scales are the matching initial
	// amplitude fractions of (max - median).
	Offsets []float64
	Scales  []float64

	// Tolerance is the largest accepted distance between the winning
	// candidate and the centre estimate.
	Tolerance float64
}

// DefaultOptions matches five evenly spaced sites with the brightest in the
// middle.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 200,
		Offsets:       []float64{-2, -1, 0, 1, 2},
		Scales:        []float64{0.4, 0.6, 1.0, 0.6, 0.4},
		Tolerance:     20,
	}
}

// FitSingle fits one Gaussian starting at center with width sigma. The
// initial amplitude is max-median and the initial background the median.
func FitSingle(profile []float64, center, sigma float64, opts Options) (Result, error) {
	if len(profile) < numParams {
		return Result{}, fmt.Errorf("%w: %d samples for %d parameters", ErrNotConverged, len(profile), numParams)
	}
	peak, base := floats.Max(profile), median(profile)
	res, err := fit(profile, [numParams]float64{peak - base, center, sigma, base}, opts.MaxIterations)
	if err != nil {
		return Result{}, err
	}
	if res.Amplitude <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive amplitude %g", ErrNotConverged, res.Amplitude)
	}
	return res, nil
}

// Candidate is one independent fit of FitMulti.
type Candidate struct {
	Start  float64
	Result Result
	Err    error
}

// FitMulti runs one single-peak fit per candidate offset and keeps the
// brightest converged candidate. It fails with ErrNoCandidate when that
// candidate has a non-positive amplitude or lies further than
// opts.Tolerance from center.
func FitMulti(profile []float64, center, spacing, sigma float64, opts Options) (Result, error) {
	best, _, err := FitCandidates(profile, center, spacing, sigma, opts)
	return best, err
}

// FitCandidates is FitMulti that also returns every candidate fit.
func FitCandidates(profile []float64, center, spacing, sigma float64, opts Options) (Result, []Candidate, error) {
	if len(opts.Offsets) == 0 || len(opts.Offsets) != len(opts.Scales) {
		return Result{}, nil, fmt.Errorf("%w: %d offsets, %d scales", ErrNoCandidate, len(opts.Offsets), len(opts.Scales))
	}
	if len(profile) < numParams {
		return Result{}, nil, fmt.Errorf("%w: %d samples for %d parameters", ErrNotConverged, len(profile), numParams)
	}

	peak, base := floats.Max(profile), median(profile)
	cands := make([]Candidate, len(opts.Offsets))
	bestIdx := -1
	for i, off := range opts.Offsets {
		start := center + off*spacing
		res, err := fit(profile, [numParams]float64{opts.Scales[i] * (peak - base), start, sigma, base}, opts.MaxIterations)
		cands[i] = Candidate{Start: start, Result: res, Err: err}
		if err != nil {
			continue
		}
		if bestIdx < 0 || res.Amplitude > cands[bestIdx].Result.Amplitude {
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return Result{}, cands, fmt.Errorf("%w: all %d candidates failed", ErrNoCandidate, len(cands))
	}
	best := cands[bestIdx].Result
	if best.Amplitude <= 0 {
		return Result{}, cands, fmt.Errorf("%w: brightest amplitude %g", ErrNoCandidate, best.Amplitude)
	}
	if math.Abs(best.Center-center) > opts.Tolerance {
		return Result{}, cands, fmt.Errorf("%w: brightest peak at %.2f, %.2f from estimate %.2f",
			ErrNoCandidate, best.Center, math.Abs(best.Center-center), center)
	}
	return best, cands, nil
}

func fit(profile []float64, start [numParams]float64, maxIter int) (Result, error) {
	if maxIter < 1 {
		maxIter = 1
	}
	p, iter, err := newSolver(profile, maxIter).run(start)
	if err != nil {
		return Result{}, err
	}
	if !finite(p) || p[pSigma] == 0 {
		return Result{}, fmt.Errorf("%w: degenerate parameters %v", ErrNotConverged, p)
	}
	return Result{
		Amplitude:  p[pAmp],
		Center:     p[pCenter],
		Sigma:      math.Abs(p[pSigma]),
		Background: p[pBackground],
		Iterations: iter,
	}, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return stat.Mean(sorted[n/2-1:n/2+1], nil)
}
