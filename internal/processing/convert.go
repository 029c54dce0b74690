package processing

import (
	"beamspot-go/internal/config"
	"beamspot-go/internal/types"
)

// SensorPosition maps a fitted in-region coordinate to full-sensor pixels.
func SensorPosition(fit float64, regionOffset, sensorOffset int) float64 {
	return fit + float64(regionOffset) + float64(sensorOffset)
}

// Microns converts a full-sensor pixel coordinate to object-plane
// micrometres using the magnification of the given shot.
func Microns(pixel float64, shot int, cfg config.Pipeline) float64 {
	return pixel * cfg.PixelPitchUM / cfg.Magnification(shot)
}

// Finalize fills the position fields of r from the in-region fit centres.
func Finalize(r types.ShotResult, fitX, fitY float64, region Region, cfg config.Pipeline) types.ShotResult {
	px := SensorPosition(fitX, region.OffsetX, cfg.SensorOffsetX)
	py := SensorPosition(fitY, region.OffsetY, cfg.SensorOffsetY)
	r.PixelX = types.Some(px)
	r.PixelY = types.Some(py)
	r.X = types.Some(Microns(px, r.Shot, cfg))
	r.Y = types.Some(Microns(py, r.Shot, cfg))
	return r
}
