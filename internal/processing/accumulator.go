package processing

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"beamspot-go/internal/types"
)

// ErrNoAcquisition is returned by Record before BeginAcquisition.
var ErrNoAcquisition = errors.New("no acquisition in progress")

// Accumulator collects the shot results of one acquisition into a Report.
// It is not safe for concurrent use.
type Accumulator struct {
	id       string
	started  time.Time
	shots    int
	stats    map[string]types.Measurement
	failures map[int]string
	failed   bool
	now      func() time.Time
}

func NewAccumulator() *Accumulator {
	return &Accumulator{now: time.Now}
}

// BeginAcquisition discards any previous statistics and starts a new
// acquisition. It returns the acquisition ID.
func (a *Accumulator) BeginAcquisition() string {
	a.id = uuid.NewString()
	a.started = a.now()
	a.shots = 0
	a.stats = make(map[string]types.Measurement)
	a.failures = make(map[int]string)
	a.failed = false
	return a.id
}

func (a *Accumulator) Active() bool {
	return a.stats != nil
}

// Record stores X, Y and EV for the result's shot. Invalid measurements are
// stored as absent.
func (a *Accumulator) Record(r types.ShotResult) error {
	if !a.Active() {
		return ErrNoAcquisition
	}
	a.stats[types.StatKey(types.KeyX, r.Shot)] = r.X
	a.stats[types.StatKey(types.KeyY, r.Shot)] = r.Y
	a.stats[types.StatKey(types.KeyExposure, r.Shot)] = r.EV
	if r.Shot+1 > a.shots {
		a.shots = r.Shot + 1
	}
	if !r.OK() {
		a.failed = true
		msg := r.Failure
		if msg == "" && r.Err != nil {
			msg = r.Err.Error()
		}
		a.failures[r.Shot] = msg
	}
	return nil
}

// Snapshot returns a copy of the statistics collected so far.
func (a *Accumulator) Snapshot() types.Report {
	rep := types.Report{
		ID:        a.id,
		StartedAt: a.started,
		Shots:     a.shots,
		Stats:     make(map[string]types.Measurement, len(a.stats)),
		Error:     a.failed,
	}
	for k, v := range a.stats {
		rep.Stats[k] = v
	}
	if len(a.failures) > 0 {
		rep.Failures = make(map[int]string, len(a.failures))
		for k, v := range a.failures {
			rep.Failures[k] = v
		}
	}
	return rep
}

// Handoff returns the finished report and clears the accumulator.
func (a *Accumulator) Handoff() types.Report {
	rep := a.Snapshot()
	rep.FinishedAt = a.now()
	a.stats = nil
	a.failures = nil
	a.failed = false
	a.shots = 0
	return rep
}

// Timestamp formats the current time for output file names.
func Timestamp() string {
	return time.Now().Format("20060102_150405")
}
