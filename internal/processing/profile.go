package processing

// Axis selects the coordinate a profile locates.
type Axis int

const (
	// AxisX sums each column down the rows, one value per column.
	AxisX Axis = iota
	// AxisY sums each row across the columns, one value per row.
	AxisY
)

func (a Axis) String() string {
	if a == AxisY {
		return "y"
	}
	return "x"
}

// Project sums the region's original intensities along one axis.
func Project(region Region, axis Axis) []float64 {
	w, h := region.Width, region.Height
	if axis == AxisY {
		out := make([]float64, h)
		for y := 0; y < h; y++ {
			for _, v := range region.Pix[y*w : (y+1)*w] {
				out[y] += float64(v)
			}
		}
		return out
	}

	out := make([]float64, w)
	for y := 0; y < h; y++ {
		for x, v := range region.Pix[y*w : (y+1)*w] {
			out[x] += float64(v)
		}
	}
	return out
}
