package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"golang.org/x/time/rate"

	"beamspot-go/internal/processing"
	"beamspot-go/internal/types"
)

// Message types on the camera stream.
const (
	TypeImage = "image"
	TypeError = "error"
)

const recvTimeout = 500 * time.Millisecond

// Recorder receives every raw payload before decoding.
type Recorder interface {
	Record(payload []byte) error
}

// Receiver pulls CBOR messages from the camera process.
// Image messages look like
// { "type": "image", "shot": <int>, "timestamp": <float>, "image": <tag 40 array> }
// and retrieval failures like
// { "type": "error", "shot": <int>, "message": <string> }.
type Receiver struct {
	endpoint string
	recorder Recorder
	logs     *rate.Sometimes

	received       atomic.Int64
	decodeFailures atomic.Int64
}

// NewReceiver logs the first problem and then every logEvery-th one.
func NewReceiver(endpoint string, logEvery int, recorder Recorder) *Receiver {
	if logEvery < 1 {
		logEvery = 1
	}
	return &Receiver{
		endpoint: endpoint,
		recorder: recorder,
		logs:     &rate.Sometimes{First: 1, Every: logEvery},
	}
}

func (r *Receiver) Received() int64       { return r.received.Load() }
func (r *Receiver) DecodeFailures() int64 { return r.decodeFailures.Load() }

func (r *Receiver) logf(format string, args ...any) {
	r.logs.Do(func() { log.Printf(format, args...) })
}

// Stream connects to the endpoint, retrying with exponential backoff until
// ctx ends, and returns the decoded messages.
func (r *Receiver) Stream(ctx context.Context) (<-chan types.RawMessage, error) {
	socket, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan types.RawMessage, 128)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				r.logf("ingest recv error: %v", err)
				continue
			}
			r.received.Add(1)

			if r.recorder != nil {
				if err := r.recorder.Record(msg); err != nil {
					r.logf("ingest raw record error: %v", err)
				}
			}

			raw, err := DecodeMessage(msg)
			if err != nil {
				r.decodeFailures.Add(1)
				r.logf("ingest decode skipped message: %v", err)
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- raw:
			}
		}
	}()

	return out, nil
}

func (r *Receiver) connect(ctx context.Context) (*zmq4.Socket, error) {
	var socket *zmq4.Socket
	op := func() error {
		s, err := zmq4.NewSocket(zmq4.PULL)
		if err != nil {
			return err
		}
		if err := s.SetRcvtimeo(recvTimeout); err != nil {
			_ = s.Close()
			return err
		}
		if err := s.Connect(r.endpoint); err != nil {
			_ = s.Close()
			return err
		}
		socket = s
		return nil
	}
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2.,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("ingest connect %s failed: %v; retrying in %s", r.endpoint, err, wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("connect %s: %w", r.endpoint, err)
	}
	return socket, nil
}

// DecodeMessage decodes one CBOR message from the camera stream.
func DecodeMessage(msg []byte) (types.RawMessage, error) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return types.RawMessage{}, fmt.Errorf("CBOR decode: %w", err)
	}

	msgType, _ := payload["type"].(string)
	raw := types.RawMessage{Type: msgType}
	if v, ok := payload["shot"]; ok {
		shot, err := toInt(v)
		if err != nil {
			return types.RawMessage{}, fmt.Errorf("invalid shot: %w", err)
		}
		raw.Shot = shot
	}

	switch msgType {
	case TypeImage:
		ts, err := toFloat(payload["timestamp"])
		if err != nil {
			return types.RawMessage{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		rows, err := decodeMultiDimArray(payload["image"])
		if err != nil {
			return types.RawMessage{}, fmt.Errorf("invalid image: %w", err)
		}
		frame, ok := processing.FrameFromPayload(rows, ts)
		if !ok {
			return types.RawMessage{}, errors.New("image has no samples")
		}
		raw.Image = frame
	case TypeError:
		raw.Message, _ = payload["message"].(string)
	default:
		raw.Meta = make(map[string]any, len(payload))
		for k, v := range payload {
			if k != "type" {
				raw.Meta[k] = v
			}
		}
	}
	return raw, nil
}

// EncodeImage builds the wire form of an image message.
func EncodeImage(shot int, frame types.Frame) ([]byte, error) {
	return cbor.Marshal(map[string]any{
		"type":      TypeImage,
		"shot":      shot,
		"timestamp": frame.Timestamp,
		"image":     encodeImage(frame.Width, frame.Height, frame.Pix),
	})
}

// EncodeError builds the wire form of a camera retrieval failure.
func EncodeError(shot int, message string) ([]byte, error) {
	return cbor.Marshal(map[string]any{
		"type":    TypeError,
		"shot":    shot,
		"message": message,
	})
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
