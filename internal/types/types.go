package types

// Frame is one camera exposure. Pix is row-major, Width samples per row.
type Frame struct {
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Pix       []uint16 `json:"-"`
	Timestamp float64  `json:"timestamp"`
}

// At returns the sample at column x, row y.
func (f Frame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Empty reports whether the frame carries no samples.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Valid reports whether the pixel buffer matches the declared shape.
func (f Frame) Valid() bool {
	return !f.Empty() && len(f.Pix) == f.Width*f.Height
}

// RawMessage is one decoded message from the camera stream.
type RawMessage struct {
	Type    string         `json:"type"`
	Shot    int            `json:"shot"`
	Image   Frame          `json:"image"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}
