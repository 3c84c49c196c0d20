package calval

import (
	"context"
	"io"
	"math"
	"testing"

	"diffdrive-core/closed_loop/calstore"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

func quietLogger() *utils.Logger { return utils.NewLogger(io.Discard, utils.TRACE) }

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

type rig struct {
	clk    *hal.ManualClock
	store  *calstore.Store
	drive  *control.Drive
	env    *Env
	runner *Runner
	events []Event
}

// newRig builds a drive on simulated wheels. With tables set the store gets
// motor tables computed from the simulated wheel model.
func newRig(t *testing.T, tables bool) *rig {
	t.Helper()
	log := quietLogger()
	r := &rig{clk: hal.NewManualClock(0)}
	store, err := calstore.New(hal.NewMemStore(calstore.LayoutSize), log)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	r.store = store
	if tables {
		writeSimTables(t, store)
	}

	cfg := control.DefaultDriveConfig()
	cfg.WheelGains = control.GainsConfig{Kp: 0.5, Ki: 3}
	cfg.DeltaWindow = 2
	cfg.CpsWindow = 1
	left := hal.NewSimWheel(r.clk, hal.DefaultSimWheelConfig(false))
	right := hal.NewSimWheel(r.clk, hal.DefaultSimWheelConfig(true))
	hw := control.Hardware{LeftMotor: left, RightMotor: right, LeftEncoder: left, RightEncoder: right}
	d, err := control.NewDrive(cfg, hw, store, r.clk, log, nil, nil)
	if err != nil {
		t.Fatalf("new drive: %v", err)
	}
	d.Start()
	r.drive = d
	r.env = &Env{Drive: d, Store: store, Clock: r.clk, Log: log}
	r.runner = NewRunner(r.clk, log, ObserverFunc(func(e Event) { r.events = append(r.events, e) }))
	return r
}

func (r *rig) tick() {
	r.clk.Advance(1)
	r.drive.Tick()
}

func (r *rig) run(t *testing.T, p Procedure, stage Stage) error {
	t.Helper()
	return r.runner.Run(context.Background(), p, stage, r.tick)
}

// simCps is the steady speed of the default simulated wheel at pwm.
func simCps(w calstore.Wheel, pwm uint16) float64 {
	d := float64(int(pwm) - int(calstore.PwmStop))
	if w == calstore.Right {
		d = -d
	}
	if math.Abs(d) <= 30 {
		return 0
	}
	return math.Copysign((math.Abs(d)-30)/470*3000, d)
}

func writeSimTables(t *testing.T, s *calstore.Store) {
	t.Helper()
	for _, w := range []calstore.Wheel{calstore.Left, calstore.Right} {
		for _, d := range []calstore.Direction{calstore.Forward, calstore.Backward} {
			pwm, _ := calstore.PwmSamples(w, d)
			cps := make([]int32, calstore.NumSamples)
			for i, p := range pwm {
				cps[i] = int32(math.Round(simCps(w, p) * calstore.ScaleFactor))
			}
			tbl, err := calstore.NewTable(cps, pwm[:])
			if err != nil {
				t.Fatalf("%s %s table: %v", w, d, err)
			}
			if err := s.WriteTable(w, d, tbl); err != nil {
				t.Fatalf("write table: %v", err)
			}
		}
	}
	if err := s.SetStatusBit(calstore.StatusMotor); err != nil {
		t.Fatalf("set motor status: %v", err)
	}
}

// scripted records the phases it is called in and returns canned results.
type scripted struct {
	calls    []string
	results  map[string]Result
	updates  int
	complete int
	onUpdate func()
}

func newScripted(complete int) *scripted {
	return &scripted{results: map[string]Result{}, complete: complete}
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) phase(name string) Result {
	s.calls = append(s.calls, name)
	if r, ok := s.results[name]; ok {
		return r
	}
	return OK
}

func (s *scripted) Init(Stage) Result    { return s.phase("init") }
func (s *scripted) Start(Stage) Result   { return s.phase("start") }
func (s *scripted) Stop(Stage) Result    { return s.phase("stop") }
func (s *scripted) Results(Stage) Result { return s.phase("results") }

func (s *scripted) Update(Stage) Result {
	s.updates++
	if s.onUpdate != nil {
		s.onUpdate()
	}
	if r := s.phase("update"); r != OK {
		return r
	}
	if s.updates >= s.complete {
		return Complete
	}
	return OK
}
