package peakfit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func synthProfile(n int, background float64, peaks ...[3]float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = background
		for _, pk := range peaks {
			d := float64(i) - pk[1]
			out[i] += pk[0] * math.Exp(-d*d/(2*pk[2]*pk[2]))
		}
	}
	return out
}

func sites(center, spacing, sigma float64, amps ...float64) [][3]float64 {
	out := make([][3]float64, len(amps))
	for i, a := range amps {
		out[i] = [3]float64{a, center + float64(i-len(amps)/2)*spacing, sigma}
	}
	return out
}

func TestFitSingleRecoversPeak(t *testing.T) {
	profile := synthProfile(100, 10, [3]float64{50, 42.3, 4})

	res, err := FitSingle(profile, 40, 5, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 42.3, res.Center, 0.01)
	assert.InDelta(t, 50, res.Amplitude, 0.05)
	assert.InDelta(t, 4, res.Sigma, 0.01)
	assert.InDelta(t, 10, res.Background, 0.05)
	assert.InDelta(t, profile[42], res.Eval(42), 0.05)
}

func TestFitSingleFlatProfileFails(t *testing.T) {
	profile := synthProfile(50, 7)

	_, err := FitSingle(profile, 25, 5, DefaultOptions())
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestFitSingleShortProfile(t *testing.T) {
	_, err := FitSingle([]float64{1, 2, 1}, 1, 1, DefaultOptions())
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestFitSingleIterationCap(t *testing.T) {
	profile := synthProfile(100, 10, [3]float64{50, 42.3, 4})
	opts := DefaultOptions()
	opts.MaxIterations = 1

	_, err := FitSingle(profile, 30, 8, opts)
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestFitMultiPicksCentreSite(t *testing.T) {
	profile := synthProfile(200, 5, sites(100, 37, 4, 40, 60, 100, 60, 40)...)

	res, cands, err := FitCandidates(profile, 102, 37, 5, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, cands, 5)
	assert.InDelta(t, 100, res.Center, 0.5)
	assert.InDelta(t, 100, res.Amplitude, 5)

	// Each outer candidate settles on its own site.
	require.NoError(t, cands[0].Err)
	assert.InDelta(t, 26, cands[0].Result.Center, 0.5)
	require.NoError(t, cands[4].Err)
	assert.InDelta(t, 174, cands[4].Result.Center, 0.5)
}

func TestFitMultiSuppressedCentreFails(t *testing.T) {
	profile := synthProfile(200, 5, sites(100, 37, 4, 40, 60, 0, 100, 40)...)

	_, err := FitMulti(profile, 100, 37, 5, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestFitMultiRejectsMismatchedCandidates(t *testing.T) {
	profile := synthProfile(200, 5, [3]float64{100, 100, 4})
	opts := DefaultOptions()
	opts.Scales = opts.Scales[:3]

	_, err := FitMulti(profile, 100, 37, 5, opts)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}
