package processing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamspot-go/internal/config"
	"beamspot-go/internal/peakfit"
	"beamspot-go/internal/simulator"
	"beamspot-go/internal/types"
)

func init() {
	SetLogger(nil)
}

func newPipeline(t *testing.T, mutate ...func(*config.Pipeline)) *Pipeline {
	t.Helper()
	cfg := config.DefaultPipeline()
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func singleSpot(noise float64) simulator.Scene {
	return simulator.Scene{
		Width:      512,
		Height:     512,
		Background: 5,
		Noise:      noise,
		Saturation: 255,
		Spots:      []simulator.Spot{{X: 120.3, Y: 256.7, Amplitude: 200, SigmaX: 3, SigmaY: 3}},
	}
}

func TestProcessNoisySpotEndToEnd(t *testing.T) {
	frame := singleSpot(1).Render(rand.New(rand.NewSource(7)))

	res, err := newPipeline(t).Process(0, frame)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.True(t, res.OK())

	assert.InDelta(t, 120.3, res.PixelX.Value, 1)
	assert.InDelta(t, 256.7, res.PixelY.Value, 1)
	assert.InDelta(t, 120.3*3.75, res.X.Value, 3.75)
	assert.InDelta(t, 256.7*3.75, res.Y.Value, 3.75)
	assert.True(t, res.EV.Valid)
	assert.Less(t, res.EV.Value, 255.0)
}

func TestProcessNoiselessSpotSubPixel(t *testing.T) {
	frame := singleSpot(0).Render(nil)

	res, tr, err := newPipeline(t).ProcessTrace(0, frame)
	require.NoError(t, err)
	require.True(t, res.OK(), "failure: %s", res.Failure)
	assert.InDelta(t, 120.3, res.PixelX.Value, 0.5)
	assert.InDelta(t, 256.7, res.PixelY.Value, 0.5)

	require.NotNil(t, tr.Centroid)
	require.NotNil(t, tr.FitX)
	assert.Equal(t, 200, tr.RegionW)
	assert.Equal(t, 60, tr.RegionH)
	assert.InDelta(t, 20, tr.OffsetX, 1)
	assert.InDelta(t, 227, tr.OffsetY, 1)
}

func TestProcessFiveSites(t *testing.T) {
	scene := simulator.DefaultScene()
	frame := scene.Render(rand.New(rand.NewSource(3)))

	res, err := newPipeline(t).Process(0, frame)
	require.NoError(t, err)
	require.True(t, res.OK(), "failure: %s", res.Failure)
	assert.InDelta(t, 320, res.PixelX.Value, 1)
	assert.InDelta(t, 240, res.PixelY.Value, 1)
}

func TestProcessSingleAxisMode(t *testing.T) {
	frame := singleSpot(0).Render(nil)

	res, err := newPipeline(t, func(c *config.Pipeline) { c.MultiPeakAxis = config.AxisNone }).Process(0, frame)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.InDelta(t, 120.3, res.PixelX.Value, 0.5)
}

func TestProcessUniformFrameIsNoSignal(t *testing.T) {
	frame := frameOf(64, 64, 50)

	res, err := newPipeline(t).Process(2, frame)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrNoSignal)
	assert.False(t, res.X.Valid)
	assert.False(t, res.Y.Valid)
	assert.Equal(t, types.Some(50), res.EV)
	assert.Equal(t, 2, res.Shot)
}

func TestProcessSaturatedSpotIsOverexposed(t *testing.T) {
	scene := singleSpot(0)
	scene.Spots[0].Amplitude = 400
	frame := scene.Render(nil)

	res, err := newPipeline(t).Process(0, frame)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrOverexposed)
	assert.False(t, res.X.Valid)
	assert.Equal(t, 255.0, res.EV.Value)
}

func TestProcessFitFailureWrapsCause(t *testing.T) {
	frame := singleSpot(0).Render(nil)

	p := newPipeline(t, func(c *config.Pipeline) { c.MaxIterations = 1 })
	res, err := p.Process(0, frame)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrFitFailure)
	assert.ErrorIs(t, res.Err, peakfit.ErrNoCandidate)
	assert.NotEmpty(t, res.Failure)
	assert.True(t, res.EV.Valid)
}

func TestProcessIsIdempotent(t *testing.T) {
	frame := singleSpot(1).Render(rand.New(rand.NewSource(11)))
	before := append([]uint16(nil), frame.Pix...)
	p := newPipeline(t)

	first, err := p.Process(0, frame)
	require.NoError(t, err)
	second, err := p.Process(0, frame)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, frame.Pix)
}

func TestProcessEmptyFrameIsContractViolation(t *testing.T) {
	_, err := newPipeline(t).Process(0, types.Frame{})
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.SignalOrder = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
