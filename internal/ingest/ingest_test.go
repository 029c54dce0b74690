package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"beamspot-go/internal/acquisition"
	"beamspot-go/internal/types"
)

func TestDecodeMessageImage(t *testing.T) {
	msg := map[string]any{
		"type":      "image",
		"shot":      7,
		"timestamp": 1.25,
		"image": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{1, 2},
				cbor.Tag{
					Number:  tagUint8,
					Content: []byte{10, 20},
				},
			},
		},
	}

	payload, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	raw, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}

	if raw.Type != "image" {
		t.Fatalf("unexpected type: %q", raw.Type)
	}
	if raw.Shot != 7 {
		t.Fatalf("unexpected shot: %d", raw.Shot)
	}
	if raw.Image.Timestamp != 1.25 {
		t.Fatalf("unexpected timestamp: %v", raw.Image.Timestamp)
	}
	if raw.Image.Width != 2 || raw.Image.Height != 1 {
		t.Fatalf("unexpected shape: %dx%d", raw.Image.Width, raw.Image.Height)
	}
	if raw.Image.Pix[0] != 10 || raw.Image.Pix[1] != 20 {
		t.Fatalf("unexpected pixels: %#v", raw.Image.Pix)
	}
}

func TestEncodeImageWideSamples(t *testing.T) {
	frame := types.Frame{Width: 3, Height: 2, Pix: []uint16{1, 2, 3, 4, 5, 4000}, Timestamp: 9.5}

	payload, err := EncodeImage(4, frame)
	if err != nil {
		t.Fatalf("EncodeImage error: %v", err)
	}
	raw, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if raw.Shot != 4 || raw.Image.Width != 3 || raw.Image.Height != 2 {
		t.Fatalf("unexpected message: %+v", raw)
	}
	if raw.Image.Pix[5] != 4000 {
		t.Fatalf("16-bit sample lost: %d", raw.Image.Pix[5])
	}
}

func TestDecodeMessageError(t *testing.T) {
	payload, err := EncodeError(3, "retrieve timeout")
	if err != nil {
		t.Fatalf("EncodeError error: %v", err)
	}
	raw, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if raw.Type != TypeError || raw.Shot != 3 || raw.Message != "retrieve timeout" {
		t.Fatalf("unexpected message: %+v", raw)
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte{0xff, 0x00}); err == nil {
		t.Fatalf("expected decode error")
	}
	payload, _ := cbor.Marshal(map[string]any{"type": "image", "timestamp": 1.0, "image": "nope"})
	if _, err := DecodeMessage(payload); err == nil {
		t.Fatalf("expected invalid image error")
	}
}

func TestDecodeMessageKeepsMeta(t *testing.T) {
	payload, _ := cbor.Marshal(map[string]any{"type": "start", "series": 12})
	raw, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if raw.Type != "start" || raw.Meta["series"] == nil {
		t.Fatalf("unexpected meta message: %+v", raw)
	}
}

func TestSourceSkipsMetaAndMapsErrors(t *testing.T) {
	msgs := make(chan types.RawMessage, 4)
	msgs <- types.RawMessage{Type: "start"}
	msgs <- types.RawMessage{Type: TypeImage, Image: types.Frame{Width: 1, Height: 1, Pix: []uint16{9}}}
	msgs <- types.RawMessage{Type: TypeError, Shot: 1, Message: "retrieve failed"}
	src := NewSource(msgs, time.Second)

	frame, err := src.NextFrame(context.Background(), 0)
	if err != nil {
		t.Fatalf("NextFrame error: %v", err)
	}
	if frame.Pix[0] != 9 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if _, err := src.NextFrame(context.Background(), 1); err == nil {
		t.Fatalf("expected camera error")
	}

	close(msgs)
	if _, err := src.NextFrame(context.Background(), 2); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestSourceTimesOutAfterFirstShot(t *testing.T) {
	src := NewSource(make(chan types.RawMessage), 20*time.Millisecond)

	start := time.Now()
	if _, err := src.NextFrame(context.Background(), 1); err == nil {
		t.Fatalf("expected timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long")
	}

	// Shot 0 ignores the timeout and waits for the context.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := src.NextFrame(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func pixel(v uint16) types.Frame {
	return types.Frame{Width: 1, Height: 1, Pix: []uint16{v}}
}

func TestSourceDropsLateFrameAfterTimeout(t *testing.T) {
	msgs := make(chan types.RawMessage, 4)
	src := NewSource(msgs, 20*time.Millisecond)
	ctx := context.Background()

	msgs <- types.RawMessage{Type: TypeImage, Shot: 0, Image: pixel(10)}
	if _, err := src.NextFrame(ctx, 0); err != nil {
		t.Fatalf("shot 0: %v", err)
	}
	if _, err := src.NextFrame(ctx, 1); err == nil {
		t.Fatalf("expected shot 1 to time out")
	}

	// The late shot 1 arrives before the next sequence starts.
	msgs <- types.RawMessage{Type: TypeImage, Shot: 1, Image: pixel(11)}
	msgs <- types.RawMessage{Type: TypeImage, Shot: 0, Image: pixel(20)}
	frame, err := src.NextFrame(ctx, 0)
	if err != nil {
		t.Fatalf("next sequence shot 0: %v", err)
	}
	if frame.Pix[0] != 20 {
		t.Fatalf("shot 0 served pixel %d, want 20", frame.Pix[0])
	}
}

func TestSourceSignalsNewSequence(t *testing.T) {
	msgs := make(chan types.RawMessage, 4)
	src := NewSource(msgs, time.Second)
	ctx := context.Background()

	msgs <- types.RawMessage{Type: TypeImage, Shot: 0, Image: pixel(1)}
	msgs <- types.RawMessage{Type: TypeImage, Shot: 0, Image: pixel(2)}
	if _, err := src.NextFrame(ctx, 0); err != nil {
		t.Fatalf("shot 0: %v", err)
	}
	if _, err := src.NextFrame(ctx, 1); !errors.Is(err, acquisition.ErrNewSequence) {
		t.Fatalf("expected ErrNewSequence, got %v", err)
	}
	frame, err := src.NextFrame(ctx, 0)
	if err != nil {
		t.Fatalf("held shot 0: %v", err)
	}
	if frame.Pix[0] != 2 {
		t.Fatalf("held frame pixel %d, want 2", frame.Pix[0])
	}
}

func TestSourceHoldsFrameAfterGap(t *testing.T) {
	msgs := make(chan types.RawMessage, 4)
	src := NewSource(msgs, time.Second)
	ctx := context.Background()

	msgs <- types.RawMessage{Type: TypeImage, Shot: 2, Image: pixel(3)}
	if _, err := src.NextFrame(ctx, 1); err == nil || errors.Is(err, acquisition.ErrNewSequence) {
		t.Fatalf("expected lost shot 1, got %v", err)
	}
	frame, err := src.NextFrame(ctx, 2)
	if err != nil {
		t.Fatalf("shot 2: %v", err)
	}
	if frame.Pix[0] != 3 {
		t.Fatalf("shot 2 served pixel %d, want 3", frame.Pix[0])
	}
}

func TestSourceSkipsUnfinishedSequence(t *testing.T) {
	msgs := make(chan types.RawMessage, 4)
	src := NewSource(msgs, time.Second)

	msgs <- types.RawMessage{Type: TypeImage, Shot: 3, Image: pixel(3)}
	msgs <- types.RawMessage{Type: TypeError, Shot: 4, Message: "retrieve failed"}
	msgs <- types.RawMessage{Type: TypeImage, Shot: 0, Image: pixel(7)}
	frame, err := src.NextFrame(context.Background(), 0)
	if err != nil {
		t.Fatalf("shot 0: %v", err)
	}
	if frame.Pix[0] != 7 {
		t.Fatalf("shot 0 served pixel %d, want 7", frame.Pix[0])
	}
}
