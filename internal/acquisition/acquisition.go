// Package acquisition runs the localization pipeline over the shots of one
// measurement and hands the finished report to its consumers.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"beamspot-go/internal/config"
	"beamspot-go/internal/processing"
	"beamspot-go/internal/types"
)

// FrameSource delivers one frame per shot.
type FrameSource interface {
	NextFrame(ctx context.Context, shot int) (types.Frame, error)
}

// ConfigSource is read once at the start of every acquisition.
type ConfigSource interface {
	PipelineConfig() config.Pipeline
}

// Consumer receives each finished report.
type Consumer interface {
	Consume(ctx context.Context, rep types.Report) error
}

type ConsumerFunc func(ctx context.Context, rep types.Report) error

func (f ConsumerFunc) Consume(ctx context.Context, rep types.Report) error {
	return f(ctx, rep)
}

// ShotObserver sees every frame together with its result.
type ShotObserver interface {
	ObserveShot(frame types.Frame, res types.ShotResult)
}

// ErrNewSequence is returned by a FrameSource when the camera started a new
// sequence before the current acquisition received all of its shots. The
// remaining shots are recorded as acquisition failures.
var ErrNewSequence = errors.New("camera started a new sequence")

// ErrRearmed is returned by Acquire when Rearm discarded the acquisition in
// progress.
var ErrRearmed = errors.New("acquisition re-armed")

// Runner owns the accumulator; Acquire must not be called concurrently.
type Runner struct {
	source    FrameSource
	config    ConfigSource
	consumers []Consumer
	observers []ShotObserver
	acc       *processing.Accumulator

	mu       sync.Mutex
	acquired int
	shots    int
	failed   int
	rearm    context.CancelCauseFunc
}

func NewRunner(source FrameSource, cfg ConfigSource, consumers ...Consumer) *Runner {
	return &Runner{
		source:    source,
		config:    cfg,
		consumers: consumers,
		acc:       processing.NewAccumulator(),
	}
}

// Observe registers o for every processed shot.
func (r *Runner) Observe(o ShotObserver) {
	r.observers = append(r.observers, o)
}

// Rearm discards the acquisition in progress, if any, so that the next one
// starts at shot 0. It reports whether an acquisition was running.
func (r *Runner) Rearm() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rearm == nil {
		return false
	}
	r.rearm(ErrRearmed)
	r.rearm = nil
	return true
}

// Acquire runs one acquisition. Shot failures are recorded in the report. An
// error is returned only for an invalid configuration, an empty frame,
// cancellation or Rearm.
func (r *Runner) Acquire(ctx context.Context) (types.Report, error) {
	cfg := r.config.PipelineConfig()
	pipe, err := processing.New(cfg)
	if err != nil {
		return types.Report{}, err
	}

	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.mu.Lock()
	r.rearm = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.rearm = nil
		r.mu.Unlock()
	}()

	id := r.acc.BeginAcquisition()
	for shot := 0; shot < cfg.ShotsPerMeasurement; shot++ {
		var frame types.Frame
		if err = actx.Err(); err == nil {
			frame, err = r.source.NextFrame(actx, shot)
		}
		if err != nil {
			if ctx.Err() != nil {
				return types.Report{}, ctx.Err()
			}
			if cause := context.Cause(actx); errors.Is(cause, ErrRearmed) {
				processing.Logf("acquisition %s discarded at shot %d", id, shot)
				r.acc.Handoff()
				return types.Report{}, cause
			}
			if errors.Is(err, ErrNewSequence) {
				processing.Logf("acquisition %s: %v; closing after %d shots", id, err, shot)
				for ; shot < cfg.ShotsPerMeasurement; shot++ {
					r.recordLost(shot, err)
				}
				break
			}
			processing.Logf("acquisition %s shot %d: %v", id, shot, err)
			r.recordLost(shot, err)
			continue
		}

		res, err := pipe.Process(shot, frame)
		if err != nil {
			return types.Report{}, fmt.Errorf("acquisition %s shot %d: %w", id, shot, err)
		}
		_ = r.acc.Record(res)
		r.count(res)
		for _, o := range r.observers {
			o.ObserveShot(frame, res)
		}
	}

	rep := r.acc.Handoff()
	r.mu.Lock()
	r.acquired++
	r.mu.Unlock()

	var errs []error
	for _, c := range r.consumers {
		if err := c.Consume(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("acquisition %s: consumer errors: %v", rep.ID, err)
	}
	return rep, nil
}

func (r *Runner) recordLost(shot int, err error) {
	res := types.ShotResult{Shot: shot, Err: fmt.Errorf("%w: %w", processing.ErrAcquisition, err)}
	res.Failure = res.Err.Error()
	_ = r.acc.Record(res)
	r.count(res)
}

// Run acquires until ctx ends. Configuration errors are logged and retried
// after retryDelay so that a corrected configuration takes effect.
func (r *Runner) Run(ctx context.Context, retryDelay time.Duration) error {
	for {
		_, err := r.Acquire(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil || errors.Is(err, ErrRearmed) {
			continue
		}
		log.Printf("acquisition aborted: %v", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
		}
	}
}

// Stats are running totals since the runner started.
type Stats struct {
	Acquisitions int
	Shots        int
	FailedShots  int
}

func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Acquisitions: r.acquired, Shots: r.shots, FailedShots: r.failed}
}

func (r *Runner) count(res types.ShotResult) {
	r.mu.Lock()
	r.shots++
	if !res.OK() {
		r.failed++
	}
	r.mu.Unlock()
}

// Latest keeps the most recent report. It is safe for concurrent use.
type Latest struct {
	mu  sync.RWMutex
	rep types.Report
	ok  bool
}

func (l *Latest) Consume(_ context.Context, rep types.Report) error {
	l.mu.Lock()
	l.rep, l.ok = rep, true
	l.mu.Unlock()
	return nil
}

// Get returns the latest report and whether one exists.
func (l *Latest) Get() (types.Report, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rep, l.ok
}

// LastFrame keeps the most recently acquired frame. It is safe for concurrent
// use. Frames are shared, not copied.
type LastFrame struct {
	mu    sync.RWMutex
	frame types.Frame
	shot  int
	ok    bool
}

func (l *LastFrame) ObserveShot(frame types.Frame, res types.ShotResult) {
	l.mu.Lock()
	l.frame, l.shot, l.ok = frame, res.Shot, true
	l.mu.Unlock()
}

// Get returns the last frame, its shot index and whether one exists.
func (l *LastFrame) Get() (types.Frame, int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.shot, l.ok
}
