package calval

import (
	"fmt"

	"diffdrive-core/closed_loop/calstore"
)

const (
	settleIters = 5
	avgIters    = 10
	sampleMs    = 10
	rampDownMs  = 1000
	stopSettle  = 500
)

// MotorConfig controls motor calibration and validation.
type MotorConfig struct {
	Runs      int
	Points    int
	LowPct    float64
	HighPct   float64
	RunTimeMs uint32
	Legs      Selection
}

func DefaultMotorConfig() MotorConfig {
	return MotorConfig{
		Runs:      5,
		Points:    11,
		LowPct:    0.2,
		HighPct:   0.8,
		RunTimeMs: 2000,
		Legs:      AllLegs(),
	}
}

// MotorProcedure measures the cps reached at each sampled pulse width and
// writes the per-wheel, per-direction tables. Validation drives the wheels
// open loop through the tables and compares commanded to measured speed.
type MotorProcedure struct {
	env *Env
	cfg MotorConfig

	legs    []leg
	legIdx  int
	written int
	report  *Report
	profile *profileRun
}

func NewMotorProcedure(env *Env, cfg MotorConfig) *MotorProcedure {
	if cfg.Runs <= 0 {
		cfg.Runs = 1
	}
	return &MotorProcedure{env: env, cfg: cfg}
}

func (m *MotorProcedure) Name() string    { return "motor" }
func (m *MotorProcedure) Report() *Report { return m.report }

func (m *MotorProcedure) Init(stage Stage) Result {
	m.report = NewReport(m.Name(), stage)
	m.legIdx, m.written = 0, 0
	m.env.Drive.Debug.Store()
	if stage == Validate {
		if !m.env.Store.IsSet(calstore.StatusMotor) {
			m.env.Log.Error("motor validation needs motor calibration")
			return Error
		}
		return OK
	}
	// calibration order: left-forward, left-backward, right-forward, right-backward
	m.legs = nil
	for _, w := range m.cfg.Legs.Wheels {
		for _, d := range m.cfg.Legs.Directions {
			m.legs = append(m.legs, leg{w, d})
		}
	}
	if err := m.env.Store.ClearStatusBit(calstore.StatusMotor); err != nil {
		m.env.Log.Error("clear motor status: %v", err)
		return Error
	}
	return OK
}

func (m *MotorProcedure) Start(stage Stage) Result {
	drv := m.env.Drive
	if stage == Calibrate {
		drv.EnablePIDs(false)
		drv.StopMotors()
		return OK
	}

	fwd, bwd, err := m.env.Store.ProfileLimits()
	if err != nil {
		m.env.Log.Error("profile limits: %v", err)
		return Error
	}
	limit := min(fwd, -bwd)
	profiles := map[calstore.Direction][]float64{}
	for dir, sign := range map[calstore.Direction]float64{calstore.Forward: 1, calstore.Backward: -1} {
		p, err := signedProfile(m.cfg.Points, m.cfg.LowPct, m.cfg.HighPct, sign*limit)
		if err != nil {
			m.env.Log.Error("%s profile: %v", dir, err)
			return Error
		}
		profiles[dir] = p
	}
	m.report.Set("max_cps", limit)

	drv.EnablePIDs(true)
	drv.BypassPIDs(true)
	drv.ResetEncoders()
	drv.Commander.SetLeftRightOverride(true)
	m.profile = &profileRun{
		env:      m.env,
		legs:     m.cfg.Legs.legs(),
		profiles: profiles,
		holdMs:   m.cfg.RunTimeMs,
		set:      m.setWheel,
		report:   m.report,
	}
	if !m.profile.begin() {
		return Error
	}
	return OK
}

func (m *MotorProcedure) setWheel(w calstore.Wheel, cps float64) {
	if w == calstore.Right {
		m.env.Drive.Commander.SetLeftRightVelocity(0, cps)
		return
	}
	m.env.Drive.Commander.SetLeftRightVelocity(cps, 0)
}

// Update sweeps one leg per call while calibrating.
func (m *MotorProcedure) Update(stage Stage) Result {
	if stage == Validate {
		if m.profile.step() {
			return OK
		}
		return Complete
	}
	if m.legIdx >= len(m.legs) {
		return Complete
	}
	l := m.legs[m.legIdx]
	m.legIdx++
	t, err := m.CollectCpsPwmSamples(l.wheel, l.dir)
	if err != nil {
		m.env.Log.Error("%s: %v", l, err)
		return Error
	}
	if err := m.env.Store.WriteTable(l.wheel, l.dir, t); err != nil {
		m.env.Log.Error("%s: write table: %v", l, err)
		return Error
	}
	m.written++
	m.report.Set(l.String()+"_max_cps", t.MaxCps())
	m.report.Set(l.String()+"_min_cps", t.MinCps())
	m.env.Log.Info("%s: table written, cps %.2f to %.2f", l, t.MinCps(), t.MaxCps())
	if m.legIdx == len(m.legs) {
		return Complete
	}
	return OK
}

// CollectCpsPwmSamples runs the pulse width sweep of one wheel and direction
// Runs times and averages the measured cps into a table.
func (m *MotorProcedure) CollectCpsPwmSamples(w calstore.Wheel, d calstore.Direction) (*calstore.Table, error) {
	drv := m.env.Drive
	enc := drv.Encoder(w)
	mtr := drv.Motor(w)
	samples, reverse := calstore.PwmSamples(w, d)

	var sum [calstore.NumSamples]float64
	for run := 0; run < m.cfg.Runs; run++ {
		drv.StopMotors()
		m.env.Clock.Sleep(stopSettle)
		drv.ResetEncoders()

		for k := 0; k < calstore.NumSamples; k++ {
			i := k
			if reverse {
				i = calstore.NumSamples - 1 - k
			}
			mtr.SetPwm(samples[i])
			sum[i] += m.sampleCps(enc.Cps, drv.UpdateEncoders)
		}
		mtr.RampDown(rampDownMs)
		drv.StopMotors()
		m.env.Log.Debug("%s-%s run %d done", w, d, run+1)
	}

	cps := make([]int32, calstore.NumSamples)
	pwm := make([]uint16, calstore.NumSamples)
	for i := range sum {
		cps[i] = int32(sum[i] / float64(m.cfg.Runs))
		pwm[i] = samples[i]
		m.env.Log.Debug("%s-%s %d: pwm %d cps %d", w, d, i, pwm[i], cps[i])
	}
	t, err := calstore.NewTable(cps, pwm)
	if err != nil {
		return nil, fmt.Errorf("%s-%s table: %w", w, d, err)
	}
	return t, nil
}

// sampleCps lets the wheel settle, then averages the scaled encoder speed
// over avgIters*5 samples taken every sampleMs.
func (m *MotorProcedure) sampleCps(cps func() float64, update func() bool) float64 {
	n := avgIters * 5
	total := 0.0
	for i := 0; i < n+settleIters; i++ {
		update()
		if i >= settleIters {
			total += cps() * calstore.ScaleFactor
		}
		m.env.Clock.Sleep(sampleMs)
	}
	return total / float64(n)
}

func (m *MotorProcedure) Stop(stage Stage) Result {
	drv := m.env.Drive
	drv.StopMotors()
	defer drv.Debug.Restore()
	if stage == Validate {
		drv.Commander.SetLeftRightOverride(false)
		drv.BypassPIDs(false)
		return OK
	}
	drv.EnablePIDs(true)
	if m.written < len(m.legs) {
		m.env.Log.Warn("motor status left clear: %d of %d tables written", m.written, len(m.legs))
		return OK
	}
	// the status bit covers all four tables, some may come from an earlier run
	if _, _, err := m.env.Store.ProfileLimits(); err != nil {
		m.env.Log.Warn("motor status left clear: %v", err)
		return OK
	}
	if err := m.env.Store.SetStatusBit(calstore.StatusMotor); err != nil {
		m.env.Log.Error("set motor status: %v", err)
		return Error
	}
	return OK
}

func (m *MotorProcedure) Results(stage Stage) Result {
	if stage == Validate {
		s := m.report.Summarize()
		if s != nil {
			m.env.Log.Info("motor validation: %d samples, mean diff %.2f cps, mean error %.1f%%, max %.1f%%",
				s.Count, s.MeanDiff, s.MeanAbsPct, s.MaxAbsPct)
		}
		return OK
	}
	m.env.Log.Info("motor calibration status: %v", m.env.Store.StatusNames())
	return OK
}
