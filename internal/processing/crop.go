package processing

import (
	"math"

	"beamspot-go/internal/types"
)

// Region is a rectangular copy of part of a Frame. OffsetX and OffsetY are
// the frame coordinates of its top-left sample.
type Region struct {
	types.Frame
	OffsetX int `json:"offset_x"`
	OffsetY int `json:"offset_y"`
}

// Crop cuts a window of at most w x h samples around (cx, cy). Near an edge
// the window is truncated, not shifted. A frame smaller than the window in
// either dimension is returned whole.
func Crop(frame types.Frame, cx, cy float64, w, h int) Region {
	if frame.Width < w || frame.Height < h {
		return Region{Frame: frame}
	}

	x0, x1 := span(cx, w, frame.Width)
	y0, y1 := span(cy, h, frame.Height)
	out := types.Frame{
		Width:     x1 - x0,
		Height:    y1 - y0,
		Timestamp: frame.Timestamp,
		Pix:       make([]uint16, 0, (x1-x0)*(y1-y0)),
	}
	for y := y0; y < y1; y++ {
		out.Pix = append(out.Pix, frame.Pix[y*frame.Width+x0:y*frame.Width+x1]...)
	}
	return Region{Frame: out, OffsetX: x0, OffsetY: y0}
}

func span(c float64, size, extent int) (int, int) {
	start := int(math.Round(c)) - size/2
	start = max(start, 0)
	// Keep at least one sample when the estimate lies past the far edge.
	start = min(start, extent-1)
	return start, min(start+size, extent)
}
