// Package command answers JSON requests from the experiment control software
// on a ZMQ REP socket.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"beamspot-go/internal/config"
	"beamspot-go/internal/types"
)

// Actions understood by the server.
const (
	ActionEcho       = "ECHO"
	ActionGetResults = "GET_RESULTS"
	ActionGetConfig  = "GET_CONFIG"
	ActionUpdate     = "UPDATE"
	ActionStart      = "START"
	ActionGetImage   = "GET_IMAGE"
)

const recvTimeout = time.Second

// CameraData is the per-camera block of a GET_RESULTS reply.
type CameraData struct {
	Error bool                         `json:"error"`
	Data  []ShotData                   `json:"data"`
	Stats map[string]types.Measurement `json:"stats"`
}

// ShotData lists one shot of the report in shot order.
type ShotData struct {
	Shot    int               `json:"shot"`
	X       types.Measurement `json:"x"`
	Y       types.Measurement `json:"y"`
	EV      types.Measurement `json:"ev"`
	Failure string            `json:"failure,omitempty"`
}

// Server dispatches requests. Latest returns the last finished report, Frame
// the last acquired frame with its shot index. Rearm discards the acquisition
// in progress and reports whether one was running.
type Server struct {
	Addr     string
	Camera   string
	Pipeline *config.Store
	Latest   func() (types.Report, bool)
	Frame    func() (types.Frame, int, bool)
	Rearm    func() bool
}

// Run binds the REP socket and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	socket, err := zmq4.NewSocket(zmq4.REP)
	if err != nil {
		return err
	}
	defer socket.Close()
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		return err
	}
	if err := socket.Bind(s.Addr); err != nil {
		return fmt.Errorf("bind %s: %w", s.Addr, err)
	}
	log.Printf("command server bound to %s", s.Addr)

	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			return fmt.Errorf("command recv: %w", err)
		}
		if _, err := socket.SendBytes(s.dispatch(msg), 0); err != nil {
			return fmt.Errorf("command send: %w", err)
		}
	}
}

func (s *Server) dispatch(msg []byte) []byte {
	var req map[string]any
	if err := json.Unmarshal(msg, &req); err != nil {
		log.Printf("command: unable to parse %q: %v", msg, err)
		return reply(map[string]any{"status": 1, "message": "Unable to parse message from client"})
	}
	action, _ := req["action"].(string)

	switch action {
	case ActionEcho:
		req["status"] = 0
		req["message"] = "success"
		return reply(req)
	case ActionGetResults:
		return reply(s.results())
	case ActionGetConfig:
		return reply(map[string]any{"pipeline": s.Pipeline.PipelineConfig(), "status": 0, "message": "success"})
	case ActionUpdate:
		return reply(s.update(req))
	case ActionStart:
		return reply(s.start())
	case ActionGetImage:
		return reply(s.image())
	default:
		req["status"] = 1
		req["message"] = fmt.Sprintf("Unrecognized action requested: `%s`", action)
		return reply(req)
	}
}

func (s *Server) results() map[string]any {
	var rep types.Report
	ok := false
	if s.Latest != nil {
		rep, ok = s.Latest()
	}
	if !ok {
		return map[string]any{
			"camera_data": map[string]CameraData{s.Camera: {Error: true, Data: []ShotData{}, Stats: map[string]types.Measurement{}}},
			"status":      1,
			"message":     "no acquisition has finished",
		}
	}
	return map[string]any{
		"camera_data": map[string]CameraData{s.Camera: {Error: rep.Error, Data: shotData(rep), Stats: rep.Stats}},
		"status":      rep.Status(),
		"message":     "success",
	}
}

func shotData(rep types.Report) []ShotData {
	data := make([]ShotData, rep.Shots)
	for i := range data {
		x, y, ev := rep.Shot(i)
		data[i] = ShotData{Shot: i, X: x, Y: y, EV: ev, Failure: rep.Failures[i]}
	}
	return data
}

// start arms the next acquisition. A partial acquisition is discarded.
func (s *Server) start() map[string]any {
	if s.Rearm == nil {
		return map[string]any{"status": 1, "message": "acquisition control is not available"}
	}
	discarded := s.Rearm()
	if discarded {
		log.Printf("command: acquisition in progress discarded by START")
	}
	return map[string]any{"discarded": discarded, "status": 0, "message": "success"}
}

// image returns the last acquired frame as rows of samples.
func (s *Server) image() map[string]any {
	var (
		frame types.Frame
		shot  int
		ok    bool
	)
	if s.Frame != nil {
		frame, shot, ok = s.Frame()
	}
	if !ok || !frame.Valid() {
		return map[string]any{"image": [][]uint16{}, "status": 1, "message": "no frame has been acquired"}
	}
	rows := make([][]uint16, frame.Height)
	for y := range rows {
		rows[y] = frame.Pix[y*frame.Width : (y+1)*frame.Width]
	}
	return map[string]any{
		"image":     rows,
		"shot":      shot,
		"timestamp": frame.Timestamp,
		"status":    0,
		"message":   "success",
	}
}

func (s *Server) update(req map[string]any) map[string]any {
	patch, ok := req["pipeline"].(map[string]any)
	if !ok {
		return map[string]any{"status": 1, "message": "UPDATE requires a `pipeline` object"}
	}
	next, err := s.Pipeline.Merge(patch)
	if err != nil {
		log.Printf("command: rejected update: %v", err)
		msg := err.Error()
		if !errors.Is(err, config.ErrInvalidConfig) {
			msg = "update failed: " + msg
		}
		return map[string]any{"pipeline": next, "status": 1, "message": msg}
	}
	log.Printf("command: pipeline configuration updated")
	return map[string]any{"pipeline": next, "status": 0, "message": "success"}
}

func reply(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"status": 1, "message": err.Error()})
	}
	return data
}
