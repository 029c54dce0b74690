package types

import (
	"strconv"
	"time"
)

// Statistic key prefixes.
const (
	KeyX        = "X"
	KeyY        = "Y"
	KeyExposure = "EV"
)

// StatKey builds a statistics key such as "X0" or "EV3".
func StatKey(prefix string, shot int) string {
	return prefix + strconv.Itoa(shot)
}

// ShotResult is the outcome of one pipeline pass.
type ShotResult struct {
	Shot int `json:"shot"`

	// X and Y are in physical units (micrometres).
	X Measurement `json:"x"`
	Y Measurement `json:"y"`

	// PixelX and PixelY are full-sensor pixel coordinates.
	PixelX Measurement `json:"pixel_x"`
	PixelY Measurement `json:"pixel_y"`

	// EV is the exposure diagnostic in raw intensity units.
	EV Measurement `json:"ev"`

	Err     error  `json:"-"`
	Failure string `json:"failure,omitempty"`
}

// OK reports whether both coordinates were measured.
func (r ShotResult) OK() bool {
	return r.Err == nil && r.X.Valid && r.Y.Valid
}

// Report is the statistics record of one acquisition.
type Report struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Shots      int                    `json:"shots"`
	Stats      map[string]Measurement `json:"stats"`
	Failures   map[int]string         `json:"failures,omitempty"`
	Error      bool                   `json:"error"`
}

// Status is the wire status code: 0 when every shot was measured, 1 otherwise.
func (r Report) Status() int {
	if r.Error {
		return 1
	}
	return 0
}

// Shot returns the three statistics recorded for a shot.
func (r Report) Shot(shot int) (x, y, ev Measurement) {
	return r.Stats[StatKey(KeyX, shot)], r.Stats[StatKey(KeyY, shot)], r.Stats[StatKey(KeyExposure, shot)]
}

// UISnapshot is pushed to websocket clients.
type UISnapshot struct {
	Type   string `json:"type"`
	Report Report `json:"report"`
}
