package processing

import "beamspot-go/internal/types"

// Exposure is the n-th brightest sample of a frame and whether it reached
// the sensor's saturation value.
type Exposure struct {
	Value       uint16 `json:"value"`
	Overexposed bool   `json:"overexposed"`
}

func CheckExposure(frame types.Frame, n int, saturation uint16) Exposure {
	v := KthBrightest(frame.Pix, n)
	return Exposure{Value: v, Overexposed: v >= saturation}
}
