package processing

import (
	"errors"

	"beamspot-go/internal/config"
)

// Per-shot failures. They are recorded in the shot result and never abort an
// acquisition.
var (
	ErrNoSignal    = errors.New("no signal above threshold")
	ErrOverexposed = errors.New("frame overexposed")
	ErrFitFailure  = errors.New("peak fit failed")
	ErrAcquisition = errors.New("frame acquisition failed")
)

// Contract violations. They are returned to the caller.
var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrInvalidConfig = config.ErrInvalidConfig
)
