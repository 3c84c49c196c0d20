package calval

import (
	"math"

	"diffdrive-core/closed_loop/calstore"
	control "diffdrive-core/closed_loop/drive_control"
)

// PIDConfig controls wheel PID calibration and validation.
type PIDConfig struct {
	Twiddle   TwiddleConfig
	StepCps   float64
	StepMs    uint32
	SettleMs  uint32
	Points    int
	LowPct    float64
	HighPct   float64
	RunTimeMs uint32
	Legs      Selection
}

func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Twiddle:   DefaultTwiddleConfig(),
		StepCps:   225,
		StepMs:    2000,
		SettleMs:  500,
		Points:    7,
		LowPct:    0.2,
		HighPct:   0.8,
		RunTimeMs: 3000,
		Legs:      AllLegs(),
	}
}

// PIDProcedure tunes the wheel speed loops with a twiddle search over step
// responses, and validates them by stepping the wheel targets through a
// speed profile.
type PIDProcedure struct {
	env *Env
	cfg PIDConfig

	wheelIdx int
	gains    map[calstore.Wheel]calstore.Gains
	report   *Report
	profile  *profileRun
	targets  [2]float64
}

func NewPIDProcedure(env *Env, cfg PIDConfig) *PIDProcedure {
	return &PIDProcedure{env: env, cfg: cfg}
}

func (p *PIDProcedure) Name() string    { return "pid" }
func (p *PIDProcedure) Report() *Report { return p.report }

func (p *PIDProcedure) Init(stage Stage) Result {
	p.report = NewReport(p.Name(), stage)
	p.wheelIdx = 0
	p.gains = map[calstore.Wheel]calstore.Gains{}
	p.targets = [2]float64{}
	p.env.Drive.Debug.Store()
	if !p.env.Store.IsSet(calstore.StatusMotor) {
		p.env.Log.Error("pid %s needs motor calibration", stage)
		return Error
	}
	return OK
}

func (p *PIDProcedure) Start(stage Stage) Result {
	drv := p.env.Drive
	drv.StopMotors()
	drv.BypassPIDs(false)
	p.env.prepareMotion()
	if stage == Calibrate {
		return OK
	}

	fwd, bwd, err := p.env.Store.ProfileLimits()
	if err != nil {
		p.env.Log.Error("profile limits: %v", err)
		return Error
	}
	pidMax := drv.Config().Geometry.MaxWheelCps()
	profiles := map[calstore.Direction][]float64{}
	for dir, limit := range map[calstore.Direction]float64{
		calstore.Forward:  min(fwd, pidMax),
		calstore.Backward: -min(-bwd, pidMax),
	} {
		prof, err := signedProfile(p.cfg.Points, p.cfg.LowPct, p.cfg.HighPct, limit)
		if err != nil {
			p.env.Log.Error("%s profile: %v", dir, err)
			return Error
		}
		profiles[dir] = prof
	}

	drv.SetPIDTargets(p.target(calstore.Left), p.target(calstore.Right))
	p.profile = &profileRun{
		env:      p.env,
		legs:     p.cfg.Legs.legs(),
		profiles: profiles,
		holdMs:   p.cfg.RunTimeMs,
		set:      func(w calstore.Wheel, cps float64) { p.targets[w] = cps },
		report:   p.report,
	}
	if !p.profile.begin() {
		return Error
	}
	return OK
}

func (p *PIDProcedure) target(w calstore.Wheel) control.TargetFunc {
	return func() float64 { return p.targets[w] }
}

// Update tunes one wheel per call while calibrating.
func (p *PIDProcedure) Update(stage Stage) Result {
	if stage == Validate {
		if p.profile.step() {
			return OK
		}
		return Complete
	}
	wheels := p.cfg.Legs.Wheels
	if p.wheelIdx >= len(wheels) {
		return Complete
	}
	w := wheels[p.wheelIdx]
	p.wheelIdx++

	best, cost, runs := Twiddle(p.cfg.Twiddle, func(g [3]float64) float64 {
		return p.stepCost(w, g)
	})
	if math.IsInf(cost, 1) {
		p.env.Log.Error("%s pid: no usable step response", w)
		return Error
	}
	g := calstore.Gains{Kp: best[0], Ki: best[1], Kd: best[2]}
	p.gains[w] = g
	p.report.Set(w.String()+"_kp", g.Kp)
	p.report.Set(w.String()+"_ki", g.Ki)
	p.report.Set(w.String()+"_kd", g.Kd)
	p.report.Set(w.String()+"_cost", cost)
	p.env.Log.Info("%s pid: kp %.3f ki %.3f kd %.3f cost %.2f after %d runs", w, g.Kp, g.Ki, g.Kd, cost, runs)

	if p.wheelIdx == len(wheels) {
		return Complete
	}
	return OK
}

// stepCost runs a step response on one wheel with the given gains and
// returns the mean absolute speed error over the PID updates.
func (p *PIDProcedure) stepCost(w calstore.Wheel, g [3]float64) float64 {
	drv := p.env.Drive
	clk := p.env.Clock
	if err := drv.PID(w).SetGains(control.GainsConfig{Kp: g[0], Ki: g[1], Kd: g[2]}); err != nil {
		return math.Inf(1)
	}
	drv.StopMotors()
	drv.ResetEncoders()
	drv.ResetPIDs()

	p.targets = [2]float64{}
	p.targets[w] = p.cfg.StepCps
	drv.SetPIDTargets(p.target(calstore.Left), p.target(calstore.Right))
	defer drv.RestorePIDTargets()

	enc := drv.Encoder(w)
	start := clk.Millis()
	total, n := 0.0, 0
	for clk.Millis()-start < p.cfg.StepMs {
		clk.Sleep(1)
		drv.UpdateEncoders()
		if drv.UpdatePIDs() {
			total += math.Abs(p.cfg.StepCps - math.Abs(enc.Cps()))
			n++
		}
	}
	p.targets = [2]float64{}
	drv.StopMotors()
	clk.Sleep(p.cfg.SettleMs)
	if n == 0 {
		return math.Inf(1)
	}
	return total / float64(n)
}

func (p *PIDProcedure) Stop(stage Stage) Result {
	drv := p.env.Drive
	drv.RestorePIDTargets()
	drv.StopMotors()
	drv.Debug.Restore()
	if stage == Calibrate {
		// drop the gains of the last trial
		drv.LoadGains()
	}
	return OK
}

func (p *PIDProcedure) Results(stage Stage) Result {
	if stage == Validate {
		if s := p.report.Summarize(); s != nil {
			p.env.Log.Info("pid validation: %d samples, mean diff %.2f cps, mean error %.1f%%, max %.1f%%",
				s.Count, s.MeanDiff, s.MeanAbsPct, s.MaxAbsPct)
		}
		return OK
	}
	if len(p.gains) == 0 {
		p.env.Log.Warn("pid calibration produced no gains")
		return OK
	}
	for w, g := range p.gains {
		if err := p.env.Store.WriteGains(calstore.WheelGains(w), g); err != nil {
			p.env.Log.Error("write %s gains: %v", w, err)
			return Error
		}
	}
	if err := p.env.Store.SetStatusBit(calstore.StatusPID); err != nil {
		p.env.Log.Error("set pid status: %v", err)
		return Error
	}
	p.env.Drive.LoadGains()
	return OK
}
