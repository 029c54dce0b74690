package simulator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"beamspot-go/internal/types"
)

// Spot is one Gaussian blob in frame pixels.
type Spot struct {
	X         float64
	Y         float64
	Amplitude float64
	SigmaX    float64
	SigmaY    float64
}

// Scene describes the synthetic frames a Source produces.
type Scene struct {
	Width      int
	Height     int
	Background float64
	// Noise is the standard deviation of additive Gaussian read noise.
	Noise float64
	// Jitter is the standard deviation of a common per-frame spot shift.
	Jitter float64
	// Saturation clips rendered values. Zero means 65535.
	Saturation uint16
	Spots      []Spot
}

// DefaultScene mimics five trap sites 37 px apart along X on an 8-bit sensor,
// brightest in the middle.
func DefaultScene() Scene {
	scene := Scene{
		Width:      640,
		Height:     480,
		Background: 5,
		Noise:      1,
		Jitter:     0.5,
		Saturation: 255,
	}
	for i, amp := range []float64{60, 90, 150, 90, 60} {
		scene.Spots = append(scene.Spots, Spot{
			X:         320 + float64(i-2)*37,
			Y:         240,
			Amplitude: amp,
			SigmaX:    4,
			SigmaY:    4,
		})
	}
	return scene
}

// Render draws one frame. A nil rng renders without noise.
func (s Scene) Render(rng *rand.Rand) types.Frame {
	limit := float64(math.MaxUint16)
	if s.Saturation > 0 {
		limit = float64(s.Saturation)
	}
	pix := make([]uint16, s.Width*s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := s.Background
			for _, sp := range s.Spots {
				dx := (float64(x) - sp.X) / sp.SigmaX
				dy := (float64(y) - sp.Y) / sp.SigmaY
				v += sp.Amplitude * math.Exp(-(dx*dx+dy*dy)/2)
			}
			if rng != nil && s.Noise > 0 {
				v += rng.NormFloat64() * s.Noise
			}
			v = math.Round(v)
			if v < 0 {
				v = 0
			}
			if v > limit {
				v = limit
			}
			pix[y*s.Width+x] = uint16(v)
		}
	}
	return types.Frame{
		Width:     s.Width,
		Height:    s.Height,
		Pix:       pix,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
}

// Shifted returns a copy of the scene with every spot moved by (dx, dy).
func (s Scene) Shifted(dx, dy float64) Scene {
	out := s
	out.Spots = make([]Spot, len(s.Spots))
	for i, sp := range s.Spots {
		sp.X += dx
		sp.Y += dy
		out.Spots[i] = sp
	}
	return out
}

// Stream emits frames at acqRate until ctx ends.
func Stream(ctx context.Context, scene Scene, acqRate float64, seed int64) <-chan types.Frame {
	out := make(chan types.Frame)
	go func() {
		defer close(out)

		rng := rand.New(rand.NewSource(seed))
		frameInterval := time.Duration(float64(time.Second) / acqRate)
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := scene.Shifted(rng.NormFloat64()*scene.Jitter, rng.NormFloat64()*scene.Jitter).Render(rng)
				select {
				case <-ctx.Done():
					return
				case out <- frame:
				}
			}
		}
	}()

	return out
}

// Source serves Stream frames one shot at a time.
type Source struct {
	frames <-chan types.Frame
}

func NewSource(ctx context.Context, scene Scene, acqRate float64, seed int64) *Source {
	return &Source{frames: Stream(ctx, scene, acqRate, seed)}
}

func (s *Source) NextFrame(ctx context.Context, shot int) (types.Frame, error) {
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case frame, ok := <-s.frames:
		if !ok {
			return types.Frame{}, context.Canceled
		}
		return frame, nil
	}
}
