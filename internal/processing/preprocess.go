package processing

import (
	"fmt"
	"math"

	"beamspot-go/internal/types"
)

// Mask is a boolean grid with the shape of a Frame.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) Mask {
	return Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

func (m Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Preprocessed is a frame reduced to its bright, denoised region.
type Preprocessed struct {
	Frame types.Frame

	// Threshold is the value of the k-th brightest sample.
	Threshold uint16

	// ThresholdMask marks samples strictly above Threshold.
	ThresholdMask Mask

	// Mask is ThresholdMask after a binary opening.
	Mask Mask

	// Masked holds the frame intensities inside Mask and zero elsewhere.
	Masked types.Frame
}

// HasSignal reports whether any sample survived the opening above the
// threshold.
func (p Preprocessed) HasSignal() bool {
	peak := uint16(0)
	for _, v := range p.Masked.Pix {
		if v > peak {
			peak = v
		}
	}
	return p.Mask.Count() > 0 && p.Threshold <= peak
}

// Preprocess thresholds frame at its orderK-th brightest sample and removes
// isolated bright pixels with a binary opening. The frame is not modified.
func Preprocess(frame types.Frame, orderK int) (Preprocessed, error) {
	if !frame.Valid() {
		return Preprocessed{}, fmt.Errorf("%w: %dx%d with %d samples", ErrEmptyFrame, frame.Width, frame.Height, len(frame.Pix))
	}
	if orderK < 1 {
		return Preprocessed{}, fmt.Errorf("%w: order statistic %d", ErrInvalidConfig, orderK)
	}

	threshold := KthBrightest(frame.Pix, orderK)
	above := NewMask(frame.Width, frame.Height)
	for i, v := range frame.Pix {
		above.Bits[i] = v > threshold
	}
	opened := Open(above)

	return Preprocessed{
		Frame:         frame,
		Threshold:     threshold,
		ThresholdMask: above,
		Mask:          opened,
		Masked:        Apply(frame, opened),
	}, nil
}

// KthBrightest returns the k-th largest sample. k is clamped to
// [1, len(pix)].
func KthBrightest(pix []uint16, k int) uint16 {
	if len(pix) == 0 {
		return 0
	}
	if k < 1 {
		k = 1
	}
	if k > len(pix) {
		k = len(pix)
	}

	hist := make([]int, math.MaxUint16+1)
	peak := 0
	for _, v := range pix {
		hist[v]++
		if int(v) > peak {
			peak = int(v)
		}
	}
	seen := 0
	for v := peak; v >= 0; v-- {
		seen += hist[v]
		if seen >= k {
			return uint16(v)
		}
	}
	return 0
}

// Apply keeps the frame intensities inside m and zeroes the rest.
func Apply(frame types.Frame, m Mask) types.Frame {
	out := types.Frame{Width: frame.Width, Height: frame.Height, Timestamp: frame.Timestamp, Pix: make([]uint16, len(frame.Pix))}
	for i, keep := range m.Bits {
		if keep {
			out.Pix[i] = frame.Pix[i]
		}
	}
	return out
}

// Open is one erosion followed by one dilation with the 3x3 cross.
func Open(m Mask) Mask {
	return dilate(erode(m))
}

// Pixels outside the grid count as unset.
func erode(m Mask) Mask {
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.Bits[y*m.Width+x] = m.At(x, y) &&
				m.At(x-1, y) && m.At(x+1, y) &&
				m.At(x, y-1) && m.At(x, y+1)
		}
	}
	return out
}

func dilate(m Mask) Mask {
	out := NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.Bits[y*m.Width+x] = m.At(x, y) ||
				m.At(x-1, y) || m.At(x+1, y) ||
				m.At(x, y-1) || m.At(x, y+1)
		}
	}
	return out
}
