// Package calval runs calibration and validation procedures through a fixed
// five phase lifecycle: Init, Start, Update until complete, Stop, Results.
package calval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

type State int

const (
	StateInit State = iota
	StateStart
	StateRunning
	StateStop
	StateResults
	StateDone
)

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStart:
		return "START"
	case StateRunning:
		return "RUNNING"
	case StateStop:
		return "STOP"
	case StateResults:
		return "RESULTS"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stage selects between writing new calibration data and exercising the
// stored data.
type Stage int

const (
	Calibrate Stage = iota
	Validate
)

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s Stage) String() string {
	if s == Validate {
		return "VALIDATE"
	}
	return "CALIBRATE"
}

// ParseStage accepts "cal"/"calibrate" and "val"/"validate".
func ParseStage(s string) (Stage, error) {
	switch s {
	case "cal", "calibrate", "calibration":
		return Calibrate, nil
	case "val", "validate", "validation":
		return Validate, nil
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Result is what a phase reports back to the runner.
type Result int

const (
	OK Result = iota
	Complete
	Error
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Complete:
		return "COMPLETE"
	case Error:
		return "ERROR"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Procedure is one calibration or validation routine. The runner calls the
// phases strictly in order; Update is called until it returns Complete.
type Procedure interface {
	Name() string
	Init(Stage) Result
	Start(Stage) Result
	Update(Stage) Result
	Stop(Stage) Result
	Results(Stage) Result
}

// Reporter is implemented by procedures that produce a report.
type Reporter interface {
	Report() *Report
}

// Descriptor tracks one activation of a procedure.
type Descriptor struct {
	State     State
	Stage     Stage
	Procedure Procedure
	Failed    bool
	Aborted   bool
}

var (
	ErrBusy   = errors.New("another procedure is active")
	ErrFailed = errors.New("procedure failed")
	ErrAbort  = errors.New("procedure aborted")
)

// Runner dispatches the active procedure, one phase per Process call.
type Runner struct {
	mu     sync.Mutex
	clock  hal.Clock
	log    *utils.Logger
	obs    Observer
	active *Descriptor
}

func NewRunner(clock hal.Clock, log *utils.Logger, obs Observer) *Runner {
	if obs == nil {
		obs = ObserverFunc(func(Event) {})
	}
	return &Runner{clock: clock, log: log, obs: obs}
}

// Activate makes p the active procedure in the given stage.
func (r *Runner) Activate(p Procedure, stage Stage) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrBusy, r.active.Procedure.Name())
	}
	d := &Descriptor{State: StateInit, Stage: stage, Procedure: p}
	r.active = d
	r.log.Info("%s %s activated", p.Name(), stage)
	return d, nil
}

// Active returns the running descriptor or nil.
func (r *Runner) Active() *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Abort sends the active procedure to its Stop phase so it can release the
// motors. Stop must therefore tolerate running without Init or Start.
func (r *Runner) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.active
	if d == nil {
		return
	}
	d.Aborted = true
	if d.State < StateStop {
		d.State = StateStop
	}
	r.log.Warn("%s %s aborted", d.Procedure.Name(), d.Stage)
}

// Process advances the active procedure by one phase. It reports whether a
// procedure is still active afterwards.
func (r *Runner) Process() bool {
	r.mu.Lock()
	d := r.active
	var st State
	if d != nil {
		st = d.State
	}
	r.mu.Unlock()
	if d == nil {
		return false
	}
	p := d.Procedure

	switch st {
	case StateInit:
		r.step(d, p.Init(d.Stage), StateStart, StateStop)
	case StateStart:
		r.step(d, p.Start(d.Stage), StateRunning, StateStop)
	case StateRunning:
		switch res := p.Update(d.Stage); res {
		case OK:
		case Complete:
			r.transition(d, StateStop, "")
		default:
			r.fail(d, res, StateStop)
		}
	case StateStop:
		r.step(d, p.Stop(d.Stage), StateResults, StateDone)
	case StateResults:
		r.step(d, p.Results(d.Stage), StateDone, StateDone)
	default:
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
		r.log.Info("%s %s done", p.Name(), d.Stage)
		return false
	}
	return true
}

func (r *Runner) step(d *Descriptor, res Result, next, onError State) {
	if res == Error {
		r.fail(d, res, onError)
		return
	}
	r.transition(d, next, "")
}

func (r *Runner) fail(d *Descriptor, res Result, next State) {
	d.Failed = true
	r.mu.Lock()
	cur := d.State
	r.mu.Unlock()
	r.log.Error("%s %s: %s in %s", d.Procedure.Name(), d.Stage, res, cur)
	r.transition(d, next, fmt.Sprintf("%s in %s", res, cur))
}

func (r *Runner) transition(d *Descriptor, next State, msg string) {
	r.mu.Lock()
	// an abort that landed while a phase was running wins
	if d.Aborted && d.State > next {
		next = d.State
	}
	d.State = next
	r.mu.Unlock()

	ev := Event{
		Procedure: d.Procedure.Name(),
		Stage:     d.Stage,
		State:     next,
		Failed:    d.Failed,
		Message:   msg,
		TimeMs:    r.clock.Millis(),
	}
	if next == StateDone {
		if rp, ok := d.Procedure.(Reporter); ok {
			ev.Report = rp.Report()
		}
	}
	r.log.Debug("%s %s -> %s", ev.Procedure, ev.Stage, next)
	r.obs.Observe(ev)
}

// Run activates p and drives it to completion, calling tick between phases
// so the control loop keeps running. Cancelling ctx aborts the procedure.
func (r *Runner) Run(ctx context.Context, p Procedure, stage Stage, tick func()) error {
	d, err := r.Activate(p, stage)
	if err != nil {
		return err
	}
	aborted := false
	for r.Process() {
		if !aborted && ctx.Err() != nil {
			r.Abort()
			aborted = true
		}
		if tick != nil {
			tick()
		}
	}
	switch {
	case aborted:
		return fmt.Errorf("%w: %s: %v", ErrAbort, p.Name(), ctx.Err())
	case d.Failed:
		return fmt.Errorf("%w: %s %s", ErrFailed, p.Name(), stage)
	}
	return nil
}
