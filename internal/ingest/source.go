package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"beamspot-go/internal/acquisition"
	"beamspot-go/internal/processing"
	"beamspot-go/internal/types"
)

// ErrStreamClosed is returned once the message stream has ended.
var ErrStreamClosed = errors.New("ingest stream closed")

// Source serves streamed images one shot at a time. Shot 0 waits for the
// camera indefinitely; later shots of the same acquisition give up after
// timeout.
//
// Messages are matched to the requested shot by their shot label. Late
// messages for earlier shots are dropped. A message for a later shot is held
// back and the requested shot reports a lost frame. A shot-0 message while a
// later shot is awaited means the camera started over: it is held back for the
// next acquisition and acquisition.ErrNewSequence is returned.
type Source struct {
	messages <-chan types.RawMessage
	timeout  time.Duration
	held     *types.RawMessage
}

func NewSource(messages <-chan types.RawMessage, timeout time.Duration) *Source {
	return &Source{messages: messages, timeout: timeout}
}

func (s *Source) NextFrame(ctx context.Context, shot int) (types.Frame, error) {
	var expired <-chan time.Time
	if shot > 0 && s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		msg, err := s.next(ctx, expired, shot)
		if err != nil {
			return types.Frame{}, err
		}
		if msg.Type != TypeImage && msg.Type != TypeError {
			continue
		}

		switch {
		case msg.Shot == 0 && shot > 0:
			s.held = &msg
			return types.Frame{}, fmt.Errorf("shot %d: %w", shot, acquisition.ErrNewSequence)
		case msg.Shot < shot:
			processing.Logf("ingest: dropping late message for shot %d while waiting for shot %d", msg.Shot, shot)
			continue
		case msg.Shot > shot && shot == 0:
			processing.Logf("ingest: dropping shot %d of an unfinished sequence", msg.Shot)
			continue
		case msg.Shot > shot:
			s.held = &msg
			return types.Frame{}, fmt.Errorf("shot %d: camera moved on to shot %d", shot, msg.Shot)
		}

		if msg.Type == TypeError {
			return types.Frame{}, fmt.Errorf("camera shot %d: %s", msg.Shot, msg.Message)
		}
		return msg.Image, nil
	}
}

// next returns the held message, if any, or the next one from the stream.
func (s *Source) next(ctx context.Context, expired <-chan time.Time, shot int) (types.RawMessage, error) {
	if s.held != nil {
		msg := *s.held
		s.held = nil
		return msg, nil
	}
	select {
	case <-ctx.Done():
		return types.RawMessage{}, ctx.Err()
	case <-expired:
		return types.RawMessage{}, fmt.Errorf("shot %d: no frame within %s", shot, s.timeout)
	case msg, ok := <-s.messages:
		if !ok {
			return types.RawMessage{}, ErrStreamClosed
		}
		return msg, nil
	}
}
