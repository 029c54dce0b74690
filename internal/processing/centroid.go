package processing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"beamspot-go/internal/types"
)

// Centroid is an intensity-weighted centre of mass in frame pixels. X is the
// column, Y the row.
type Centroid struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RefineWindow is the column band used by the second centroid pass.
type RefineWindow struct {
	Width int

	// OffsetX shifts the band centre relative to the first-pass X.
	OffsetX float64
}

// Locate estimates the spot centre in two passes. The first pass takes the
// centre of mass of the masked frame. The second restricts the threshold mask
// to a column band around the first estimate, re-opens it and takes the
// centre of mass of the frame intensities inside it.
func Locate(pre Preprocessed, refine RefineWindow) (Centroid, error) {
	if refine.Width < 1 {
		return Centroid{}, fmt.Errorf("%w: refine width %d", ErrInvalidConfig, refine.Width)
	}

	coarse, ok := centerOfMass(pre.Masked, pre.Mask)
	if !ok {
		return Centroid{}, fmt.Errorf("%w: first pass", ErrNoSignal)
	}

	band := bandMask(pre.ThresholdMask, coarse.X+refine.OffsetX, refine.Width)
	fine, ok := centerOfMass(pre.Frame, Open(band))
	if !ok {
		return Centroid{}, fmt.Errorf("%w: refinement band at x=%.1f", ErrNoSignal, coarse.X+refine.OffsetX)
	}
	return fine, nil
}

// bandMask keeps the columns [round(cx)-width/2, round(cx)-width/2+width) of m.
func bandMask(m Mask, cx float64, width int) Mask {
	lo := int(math.Round(cx)) - width/2
	hi := lo + width
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := max(lo, 0); x < min(hi, m.Width); x++ {
			out.Bits[y*m.Width+x] = m.Bits[y*m.Width+x]
		}
	}
	return out
}

func centerOfMass(frame types.Frame, m Mask) (Centroid, bool) {
	n := m.Count()
	if n == 0 {
		return Centroid{}, false
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	ws := make([]float64, 0, n)
	total := 0.0
	for i, keep := range m.Bits {
		if !keep || frame.Pix[i] == 0 {
			continue
		}
		w := float64(frame.Pix[i])
		xs = append(xs, float64(i%frame.Width))
		ys = append(ys, float64(i/frame.Width))
		ws = append(ws, w)
		total += w
	}
	if total == 0 {
		return Centroid{}, false
	}
	return Centroid{X: stat.Mean(xs, ws), Y: stat.Mean(ys, ws)}, true
}
