package acquisition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beamspot-go/internal/config"
	"beamspot-go/internal/processing"
	"beamspot-go/internal/simulator"
	"beamspot-go/internal/types"
)

func init() {
	processing.SetLogger(nil)
}

type fakeSource struct {
	frames map[int]types.Frame
	errs   map[int]error
	calls  []int
}

func (f *fakeSource) NextFrame(ctx context.Context, shot int) (types.Frame, error) {
	f.calls = append(f.calls, shot)
	if err := f.errs[shot]; err != nil {
		return types.Frame{}, err
	}
	return f.frames[shot], nil
}

type recorder struct {
	frames int
	failed int
}

func (r *recorder) ObserveShot(_ types.Frame, res types.ShotResult) {
	r.frames++
	if !res.OK() {
		r.failed++
	}
}

func spotFrame() types.Frame {
	return simulator.Scene{
		Width: 320, Height: 240, Background: 5,
		Spots: []simulator.Spot{{X: 150.2, Y: 120.6, Amplitude: 180, SigmaX: 3, SigmaY: 3}},
	}.Render(nil)
}

func flatFrame() types.Frame {
	return simulator.Scene{Width: 64, Height: 64, Background: 20}.Render(nil)
}

func TestAcquireRecordsEveryShot(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.ShotsPerMeasurement = 3
	cfg.Magnifications = []float64{1, 2}
	src := &fakeSource{
		frames: map[int]types.Frame{0: spotFrame(), 2: flatFrame()},
		errs:   map[int]error{1: errors.New("camera timeout")},
	}
	latest := &Latest{}
	var consumed []types.Report
	runner := NewRunner(src, config.NewStore(cfg), latest, ConsumerFunc(func(_ context.Context, rep types.Report) error {
		consumed = append(consumed, rep)
		return nil
	}))
	obs := &recorder{}
	runner.Observe(obs)

	rep, err := runner.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, src.calls)

	x0, y0, ev0 := rep.Shot(0)
	assert.InDelta(t, 150.2*3.75, x0.Value, 3.75)
	assert.InDelta(t, 120.6*3.75, y0.Value, 3.75)
	assert.True(t, ev0.Valid)

	x1, _, ev1 := rep.Shot(1)
	assert.False(t, x1.Valid)
	assert.False(t, ev1.Valid)
	assert.Contains(t, rep.Failures[1], "camera timeout")

	x2, _, ev2 := rep.Shot(2)
	assert.False(t, x2.Valid)
	assert.Equal(t, 20.0, ev2.Value)

	assert.True(t, rep.Error)
	assert.Equal(t, 3, rep.Shots)
	require.Len(t, consumed, 1)
	assert.Equal(t, rep.ID, consumed[0].ID)
	got, ok := latest.Get()
	require.True(t, ok)
	assert.Equal(t, rep.ID, got.ID)

	assert.Equal(t, 2, obs.frames)
	assert.Equal(t, 1, obs.failed)
	assert.Equal(t, Stats{Acquisitions: 1, Shots: 3, FailedShots: 2}, runner.Stats())
}

func TestAcquireStartsFreshEachTime(t *testing.T) {
	cfg := config.DefaultPipeline()
	src := &fakeSource{frames: map[int]types.Frame{0: spotFrame()}}
	runner := NewRunner(src, config.NewStore(cfg))

	first, err := runner.Acquire(context.Background())
	require.NoError(t, err)
	second, err := runner.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, second.Stats, 3)
	assert.False(t, second.Error)
	assert.Equal(t, 0, second.Status())
}

func TestAcquireEmptyFrameAborts(t *testing.T) {
	src := &fakeSource{frames: map[int]types.Frame{}}
	runner := NewRunner(src, config.NewStore(config.DefaultPipeline()))

	_, err := runner.Acquire(context.Background())
	assert.ErrorIs(t, err, processing.ErrEmptyFrame)
}

type badConfig struct{}

func (badConfig) PipelineConfig() config.Pipeline {
	p := config.DefaultPipeline()
	p.RefineWidth = 0
	return p
}

func TestAcquireInvalidConfigAborts(t *testing.T) {
	src := &fakeSource{}
	_, err := NewRunner(src, badConfig{}).Acquire(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Empty(t, src.calls)
}

type blockingSource struct{}

func (blockingSource) NextFrame(ctx context.Context, _ int) (types.Frame, error) {
	<-ctx.Done()
	return types.Frame{}, ctx.Err()
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(blockingSource{}, config.NewStore(config.DefaultPipeline()))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAcquireClosesOnNewSequence(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.ShotsPerMeasurement = 3
	src := &fakeSource{
		frames: map[int]types.Frame{0: spotFrame()},
		errs:   map[int]error{1: fmt.Errorf("shot 1: %w", ErrNewSequence)},
	}
	var consumed int
	runner := NewRunner(src, config.NewStore(cfg), ConsumerFunc(func(context.Context, types.Report) error {
		consumed++
		return nil
	}))

	rep, err := runner.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, src.calls)
	assert.Equal(t, 1, consumed)
	assert.Equal(t, 3, rep.Shots)
	assert.True(t, rep.Error)

	x0, _, _ := rep.Shot(0)
	assert.True(t, x0.Valid)
	for _, shot := range []int{1, 2} {
		x, _, ev := rep.Shot(shot)
		assert.False(t, x.Valid)
		assert.False(t, ev.Valid)
		assert.Contains(t, rep.Failures[shot], ErrNewSequence.Error())
	}
	assert.Equal(t, Stats{Acquisitions: 1, Shots: 3, FailedShots: 2}, runner.Stats())
}

// hookSource serves spot frames and runs hook before blocking on shot 1.
type hookSource struct {
	hook func()
}

func (h hookSource) NextFrame(ctx context.Context, shot int) (types.Frame, error) {
	if shot == 0 {
		return spotFrame(), nil
	}
	h.hook()
	<-ctx.Done()
	return types.Frame{}, ctx.Err()
}

func TestRearmDiscardsAcquisition(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.ShotsPerMeasurement = 2
	var consumed int
	var runner *Runner
	var rearmed bool
	runner = NewRunner(hookSource{hook: func() { rearmed = runner.Rearm() }}, config.NewStore(cfg),
		ConsumerFunc(func(context.Context, types.Report) error {
			consumed++
			return nil
		}))

	_, err := runner.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRearmed)
	assert.True(t, rearmed)
	assert.Zero(t, consumed)
	assert.False(t, runner.Rearm(), "nothing running after Acquire returns")
}

func TestRearmWithoutAcquisition(t *testing.T) {
	runner := NewRunner(&fakeSource{}, config.NewStore(config.DefaultPipeline()))
	assert.False(t, runner.Rearm())
}

func TestLastFrameKeepsNewest(t *testing.T) {
	var last LastFrame
	_, _, ok := last.Get()
	assert.False(t, ok)

	cfg := config.DefaultPipeline()
	cfg.ShotsPerMeasurement = 2
	frames := map[int]types.Frame{0: spotFrame(), 1: flatFrame()}
	runner := NewRunner(&fakeSource{frames: frames}, config.NewStore(cfg))
	runner.Observe(&last)

	_, err := runner.Acquire(context.Background())
	require.NoError(t, err)
	frame, shot, ok := last.Get()
	require.True(t, ok)
	assert.Equal(t, 1, shot)
	assert.Equal(t, frames[1].Width, frame.Width)
	assert.Equal(t, frames[1].Pix, frame.Pix)
}
