package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig marks a setup defect. It aborts an acquisition instead of
// being recorded per shot.
var ErrInvalidConfig = errors.New("invalid configuration")

// Axis names accepted by Pipeline.MultiPeakAxis.
const (
	AxisX    = "x"
	AxisY    = "y"
	AxisNone = "none"
)

// Pipeline holds the localization parameters of one acquisition.
type Pipeline struct {
	// SignalOrder is k in "the k-th brightest pixel" for the signal threshold.
	SignalOrder int `koanf:"signal_order" yaml:"signal_order" json:"signal_order"`

	// ExposureOrder is n in "the n-th brightest pixel" for the exposure check.
	ExposureOrder int `koanf:"exposure_order" yaml:"exposure_order" json:"exposure_order"`

	// Saturation is the largest value the sensor can report.
	Saturation int `koanf:"saturation" yaml:"saturation" json:"saturation"`

	// RefineWidth is the column band width of the second centroid pass.
	RefineWidth int `koanf:"refine_width" yaml:"refine_width" json:"refine_width"`

	// RefineOffsetX shifts the second-pass band relative to the first-pass X.
	RefineOffsetX float64 `koanf:"refine_offset_x" yaml:"refine_offset_x" json:"refine_offset_x"`

	WindowWidth  int `koanf:"window_width" yaml:"window_width" json:"window_width"`
	WindowHeight int `koanf:"window_height" yaml:"window_height" json:"window_height"`

	// MultiPeakAxis is the axis carrying evenly spaced sites, or "none".
	MultiPeakAxis    string    `koanf:"multi_peak_axis" yaml:"multi_peak_axis" json:"multi_peak_axis"`
	SiteSpacing      float64   `koanf:"site_spacing" yaml:"site_spacing" json:"site_spacing"`
	CandidateOffsets []float64 `koanf:"candidate_offsets" yaml:"candidate_offsets" json:"candidate_offsets"`
	CandidateScales  []float64 `koanf:"candidate_scales" yaml:"candidate_scales" json:"candidate_scales"`
	Tolerance        float64   `koanf:"tolerance" yaml:"tolerance" json:"tolerance"`

	SigmaGuessX   float64 `koanf:"sigma_guess_x" yaml:"sigma_guess_x" json:"sigma_guess_x"`
	SigmaGuessY   float64 `koanf:"sigma_guess_y" yaml:"sigma_guess_y" json:"sigma_guess_y"`
	MaxIterations int     `koanf:"max_iterations" yaml:"max_iterations" json:"max_iterations"`

	PixelPitchUM   float64   `koanf:"pixel_pitch_um" yaml:"pixel_pitch_um" json:"pixel_pitch_um"`
	Magnifications []float64 `koanf:"magnifications" yaml:"magnifications" json:"magnifications"`
	SensorOffsetX  int       `koanf:"sensor_offset_x" yaml:"sensor_offset_x" json:"sensor_offset_x"`
	SensorOffsetY  int       `koanf:"sensor_offset_y" yaml:"sensor_offset_y" json:"sensor_offset_y"`

	ShotsPerMeasurement int `koanf:"shots_per_measurement" yaml:"shots_per_measurement" json:"shots_per_measurement"`
}

// DefaultPipeline is tuned for an 8-bit Blackfly imaging five trap sites
// 37 px apart along X.
func DefaultPipeline() Pipeline {
	return Pipeline{
		SignalOrder:         100,
		ExposureOrder:       10,
		Saturation:          255,
		RefineWidth:         40,
		WindowWidth:         200,
		WindowHeight:        60,
		MultiPeakAxis:       AxisX,
		SiteSpacing:         37,
		CandidateOffsets:    []float64{-2, -1, 0, 1, 2},
		CandidateScales:     []float64{0.4, 0.6, 1.0, 0.6, 0.4},
		Tolerance:           20,
		SigmaGuessX:         5,
		SigmaGuessY:         5,
		MaxIterations:       200,
		PixelPitchUM:        3.75,
		Magnifications:      []float64{1},
		ShotsPerMeasurement: 1,
	}
}

// Validate reports the first malformed parameter.
func (p Pipeline) Validate() error {
	switch {
	case p.SignalOrder < 1:
		return invalid("signal_order must be at least 1, got %d", p.SignalOrder)
	case p.ExposureOrder < 1:
		return invalid("exposure_order must be at least 1, got %d", p.ExposureOrder)
	case p.Saturation < 1 || p.Saturation > math.MaxUint16:
		return invalid("saturation %d outside 1..%d", p.Saturation, math.MaxUint16)
	case p.RefineWidth < 1:
		return invalid("refine_width must be at least 1, got %d", p.RefineWidth)
	case p.WindowWidth < 1 || p.WindowHeight < 1:
		return invalid("window %dx%d must be at least 1x1", p.WindowWidth, p.WindowHeight)
	case !positive(p.SigmaGuessX) || !positive(p.SigmaGuessY):
		return invalid("sigma guesses must be positive")
	case p.MaxIterations < 1:
		return invalid("max_iterations must be at least 1, got %d", p.MaxIterations)
	case !positive(p.PixelPitchUM):
		return invalid("pixel_pitch_um must be positive")
	case len(p.Magnifications) == 0:
		return invalid("magnifications must list at least one factor")
	case p.ShotsPerMeasurement < 1:
		return invalid("shots_per_measurement must be at least 1, got %d", p.ShotsPerMeasurement)
	}
	for i, m := range p.Magnifications {
		if !positive(m) {
			return invalid("magnifications[%d] must be positive, got %g", i, m)
		}
	}

	switch p.MultiPeakAxis {
	case AxisNone:
		return nil
	case AxisX, AxisY:
	default:
		return invalid("multi_peak_axis must be %q, %q or %q, got %q", AxisX, AxisY, AxisNone, p.MultiPeakAxis)
	}
	if !positive(p.SiteSpacing) {
		return invalid("site_spacing must be positive")
	}
	if len(p.CandidateOffsets) == 0 || len(p.CandidateOffsets) != len(p.CandidateScales) {
		return invalid("candidate_offsets (%d) and candidate_scales (%d) must be non-empty and equal length",
			len(p.CandidateOffsets), len(p.CandidateScales))
	}
	if !positive(p.Tolerance) {
		return invalid("tolerance must be positive")
	}
	return nil
}

// Magnification returns the factor for a shot. Shots past the end of the list
// use the last entry.
func (p Pipeline) Magnification(shot int) float64 {
	if len(p.Magnifications) == 0 {
		return 1
	}
	if shot < 0 {
		shot = 0
	}
	if shot >= len(p.Magnifications) {
		return p.Magnifications[len(p.Magnifications)-1]
	}
	return p.Magnifications[shot]
}

// Clone returns a copy that shares no slices with p.
func (p Pipeline) Clone() Pipeline {
	out := p
	out.CandidateOffsets = append([]float64(nil), p.CandidateOffsets...)
	out.CandidateScales = append([]float64(nil), p.CandidateScales...)
	out.Magnifications = append([]float64(nil), p.Magnifications...)
	return out
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
