package processing

import (
	"errors"
	"testing"

	"beamspot-go/internal/types"
)

func frameOf(width, height int, fill uint16) types.Frame {
	pix := make([]uint16, width*height)
	for i := range pix {
		pix[i] = fill
	}
	return types.Frame{Width: width, Height: height, Pix: pix}
}

func setBlock(f types.Frame, x0, y0, w, h int, v uint16) {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			f.Pix[y*f.Width+x] = v
		}
	}
}

func TestKthBrightest(t *testing.T) {
	pix := []uint16{1, 5, 3, 5, 2}
	cases := []struct {
		k    int
		want uint16
	}{
		{1, 5},
		{2, 5},
		{3, 3},
		{5, 1},
		{10, 1},
	}
	for _, tc := range cases {
		if got := KthBrightest(pix, tc.k); got != tc.want {
			t.Fatalf("KthBrightest(k=%d) = %d, want %d", tc.k, got, tc.want)
		}
	}
}

func TestOpenRemovesIsolatedPixels(t *testing.T) {
	m := NewMask(12, 12)
	m.Bits[2*12+2] = true
	for y := 5; y < 10; y++ {
		for x := 5; x < 10; x++ {
			m.Bits[y*12+x] = true
		}
	}

	opened := Open(m)
	if opened.At(2, 2) {
		t.Fatalf("isolated pixel survived opening")
	}
	// A 5x5 block opened with the cross loses its four corners.
	if got := opened.Count(); got != 21 {
		t.Fatalf("opened block has %d pixels, want 21", got)
	}
	if opened.At(5, 5) || !opened.At(7, 5) || !opened.At(7, 7) {
		t.Fatalf("unexpected opened shape")
	}
	for i, b := range opened.Bits {
		if b && !m.Bits[i] {
			t.Fatalf("opened mask is not a subset of the input at %d", i)
		}
	}
}

func TestOpenTreatsOutsideAsUnset(t *testing.T) {
	m := NewMask(4, 4)
	for i := range m.Bits {
		m.Bits[i] = true
	}
	opened := Open(m)
	// Border pixels erode away; the dilated 2x2 core covers all but the corners.
	if got := opened.Count(); got != 12 {
		t.Fatalf("opened full mask has %d pixels, want 12", got)
	}
	if opened.At(0, 0) {
		t.Fatalf("corner survived opening")
	}
}

func TestPreprocessUniformFrameHasNoSignal(t *testing.T) {
	pre, err := Preprocess(frameOf(64, 48, 50), 100)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}
	if pre.Threshold != 50 {
		t.Fatalf("threshold = %d, want 50", pre.Threshold)
	}
	if pre.HasSignal() {
		t.Fatalf("uniform frame reported signal")
	}
}

func TestPreprocessZeroFrameHasNoSignal(t *testing.T) {
	pre, err := Preprocess(frameOf(16, 16, 0), 10)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}
	if pre.HasSignal() {
		t.Fatalf("dark frame reported signal")
	}
}

func TestPreprocessMasksSpot(t *testing.T) {
	f := frameOf(40, 40, 5)
	setBlock(f, 10, 20, 6, 6, 200)
	f.Pix[3*40+3] = 250 // hot pixel

	pre, err := Preprocess(f, 40)
	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}
	if !pre.HasSignal() {
		t.Fatalf("expected signal")
	}
	if pre.Masked.At(3, 3) != 0 {
		t.Fatalf("hot pixel kept in masked frame")
	}
	if pre.Masked.At(12, 22) != 200 {
		t.Fatalf("spot pixel lost: %d", pre.Masked.At(12, 22))
	}
	if f.Pix[3*40+3] != 250 {
		t.Fatalf("input frame modified")
	}
}

func TestPreprocessContractViolations(t *testing.T) {
	if _, err := Preprocess(types.Frame{}, 10); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("empty frame error = %v, want ErrEmptyFrame", err)
	}
	if _, err := Preprocess(types.Frame{Width: 4, Height: 4, Pix: make([]uint16, 3)}, 10); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("short buffer error = %v, want ErrEmptyFrame", err)
	}
	if _, err := Preprocess(frameOf(4, 4, 1), 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("order 0 error = %v, want ErrInvalidConfig", err)
	}
}
