package processing

import (
	"errors"
	"fmt"

	"beamspot-go/internal/config"
	"beamspot-go/internal/peakfit"
	"beamspot-go/internal/types"
)

// Trace records the intermediate values of one Process call.
type Trace struct {
	Threshold uint16          `json:"threshold"`
	Exposure  Exposure        `json:"exposure"`
	Centroid  *Centroid       `json:"centroid,omitempty"`
	OffsetX   int             `json:"region_offset_x"`
	OffsetY   int             `json:"region_offset_y"`
	RegionW   int             `json:"region_width"`
	RegionH   int             `json:"region_height"`
	FitX      *peakfit.Result `json:"fit_x,omitempty"`
	FitY      *peakfit.Result `json:"fit_y,omitempty"`
}

// Pipeline locates the spot in single frames with a fixed configuration.
type Pipeline struct {
	cfg  config.Pipeline
	opts peakfit.Options
}

func New(cfg config.Pipeline) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	return &Pipeline{
		cfg: cfg,
		opts: peakfit.Options{
			MaxIterations: cfg.MaxIterations,
			Offsets:       cfg.CandidateOffsets,
			Scales:        cfg.CandidateScales,
			Tolerance:     cfg.Tolerance,
		},
	}, nil
}

func (p *Pipeline) Config() config.Pipeline {
	return p.cfg.Clone()
}

// Process runs every stage on one frame. Stage failures are recorded in the
// result; only contract violations such as an empty frame are returned.
func (p *Pipeline) Process(shot int, frame types.Frame) (types.ShotResult, error) {
	res, _, err := p.ProcessTrace(shot, frame)
	return res, err
}

// ProcessTrace is Process that also returns the intermediate values.
func (p *Pipeline) ProcessTrace(shot int, frame types.Frame) (types.ShotResult, Trace, error) {
	var tr Trace
	res := types.ShotResult{Shot: shot}

	pre, err := Preprocess(frame, p.cfg.SignalOrder)
	if err != nil {
		return res, tr, err
	}
	tr.Threshold = pre.Threshold

	// EV is recorded whenever a frame exists, whatever happens downstream.
	tr.Exposure = CheckExposure(frame, p.cfg.ExposureOrder, uint16(p.cfg.Saturation))
	res.EV = types.Some(float64(tr.Exposure.Value))

	if !pre.HasSignal() {
		return fail(res, fmt.Errorf("%w: threshold %d", ErrNoSignal, pre.Threshold)), tr, nil
	}

	c, err := Locate(pre, RefineWindow{Width: p.cfg.RefineWidth, OffsetX: p.cfg.RefineOffsetX})
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return res, tr, err
		}
		return fail(res, err), tr, nil
	}
	tr.Centroid = &c

	if tr.Exposure.Overexposed {
		return fail(res, fmt.Errorf("%w: %d-th brightest sample is %d, saturation %d",
			ErrOverexposed, p.cfg.ExposureOrder, tr.Exposure.Value, p.cfg.Saturation)), tr, nil
	}

	region := Crop(frame, c.X, c.Y, p.cfg.WindowWidth, p.cfg.WindowHeight)
	tr.OffsetX, tr.OffsetY = region.OffsetX, region.OffsetY
	tr.RegionW, tr.RegionH = region.Width, region.Height

	fx, err := p.fitAxis(region, AxisX, c.X-float64(region.OffsetX), p.cfg.SigmaGuessX)
	if err != nil {
		return fail(res, err), tr, nil
	}
	tr.FitX = &fx
	fy, err := p.fitAxis(region, AxisY, c.Y-float64(region.OffsetY), p.cfg.SigmaGuessY)
	if err != nil {
		return fail(res, err), tr, nil
	}
	tr.FitY = &fy

	return Finalize(res, fx.Center, fy.Center, region, p.cfg), tr, nil
}

func (p *Pipeline) fitAxis(region Region, axis Axis, estimate, sigma float64) (peakfit.Result, error) {
	profile := Project(region, axis)
	var (
		r   peakfit.Result
		err error
	)
	if p.cfg.MultiPeakAxis == axis.String() {
		r, err = peakfit.FitMulti(profile, estimate, p.cfg.SiteSpacing, sigma, p.opts)
	} else {
		r, err = peakfit.FitSingle(profile, estimate, sigma, p.opts)
	}
	if err != nil {
		return r, fmt.Errorf("%w: %s axis: %w", ErrFitFailure, axis, err)
	}
	return r, nil
}

func fail(res types.ShotResult, err error) types.ShotResult {
	res.Err = err
	res.Failure = err.Error()
	Logf("shot %d: %v", res.Shot, err)
	return res
}
