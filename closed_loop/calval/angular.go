package calval

import (
	"math"

	"diffdrive-core/closed_loop/calstore"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/utils"
)

type AngularConfig struct {
	Rate            float64 // rad/s
	Clockwise       bool
	TimeoutMs       uint32
	ValidateDelayMs uint32
	Tolerance       float64 // rad
}

func DefaultAngularConfig() AngularConfig {
	return AngularConfig{
		Rate:            0.5,
		Clockwise:       true,
		TimeoutMs:       15000,
		ValidateDelayMs: 1000,
		Tolerance:       0.01,
	}
}

const commandedDeg = 360.0

// AngularProcedure spins in place for one revolution. Calibration
// accumulates odometry heading until it reports a full turn; validation
// spins until the heading comes back to zero.
type AngularProcedure struct {
	env *Env
	cfg AngularConfig

	linear, angular float64
	measuredDeg     float64
	turned          float64
	lastHeading     float64
	lastRot         float64
	startMs         uint32
	elapsedMs       uint32
	timedOut        bool
	report          *Report
}

func NewAngularProcedure(env *Env, cfg AngularConfig) *AngularProcedure {
	return &AngularProcedure{env: env, cfg: cfg}
}

func (a *AngularProcedure) Name() string    { return "angular" }
func (a *AngularProcedure) Report() *Report { return a.report }

// SetMeasured records the rotation actually made, in degrees.
func (a *AngularProcedure) SetMeasured(deg float64) { a.measuredDeg = deg }

func (a *AngularProcedure) Init(stage Stage) Result {
	a.report = NewReport(a.Name(), stage)
	a.timedOut = false
	a.env.Drive.Debug.Store()
	if !a.env.Store.IsSet(calstore.StatusMotor) {
		a.env.Log.Error("angular %s needs motor calibration", stage)
		return Error
	}
	if stage == Calibrate {
		if err := a.env.Store.ClearStatusBit(calstore.StatusAngular); err != nil {
			a.env.Log.Error("clear angular status: %v", err)
			return Error
		}
		if err := a.env.Store.WriteAngularBias(calstore.BiasDefault); err != nil {
			a.env.Log.Error("reset angular bias: %v", err)
			return Error
		}
	}
	return OK
}

// direction is -1 for clockwise rotation.
func (a *AngularProcedure) direction() float64 {
	if a.cfg.Clockwise {
		return -1
	}
	return 1
}

func (a *AngularProcedure) rotation() utils.RotationDir {
	if a.cfg.Clockwise {
		return utils.CW
	}
	return utils.CCW
}

func (a *AngularProcedure) Start(stage Stage) Result {
	a.env.prepareMotion()
	a.linear, a.angular = 0, a.direction()*a.cfg.Rate
	a.turned, a.lastHeading, a.lastRot = 0, 0, 0
	a.env.Drive.Commander.SetCommandSource(velocitySource(&a.linear, &a.angular))
	a.startMs = a.env.Clock.Millis()
	a.env.Log.Info("angular %s: %.2f rad/s", stage, a.angular)
	return OK
}

func (a *AngularProcedure) Update(stage Stage) Result {
	a.elapsedMs = a.env.Clock.Millis() - a.startMs
	if a.elapsedMs >= a.cfg.TimeoutMs {
		a.timedOut = true
		a.env.Log.Warn("angular: timed out after %d ms", a.elapsedMs)
		return Complete
	}
	h := a.env.Drive.Odometry.Heading()
	if stage == Calibrate {
		a.turned += utils.NormalizeHeading(h - a.lastHeading)
		a.lastHeading = h
		if math.Abs(a.turned) >= 2*math.Pi {
			return Complete
		}
		return OK
	}

	if a.elapsedMs < a.cfg.ValidateDelayMs {
		return OK
	}
	// progress in the direction of rotation, 0 to 2pi
	rot := utils.NormalizeHeadingDir(h, a.rotation())
	prev := a.lastRot
	a.lastRot = rot
	if rot >= utils.TwoPi-a.cfg.Tolerance {
		return Complete
	}
	// one odometry step can jump over the tolerance band
	if prev > math.Pi && rot < math.Pi/2 {
		return Complete
	}
	return OK
}

func (a *AngularProcedure) Stop(Stage) Result {
	drv := a.env.Drive
	a.linear, a.angular = 0, 0
	drv.Commander.RestoreCommandSource()
	drv.StopMotors()
	drv.Debug.Restore()
	return OK
}

func (a *AngularProcedure) Results(stage Stage) Result {
	h := a.env.Drive.Odometry.Heading()
	a.report.Set("heading", h)
	a.report.Set("elapsed_ms", float64(a.elapsedMs))
	a.report.Set("timed_out", control.BoolToFloat(a.timedOut))
	if stage == Validate {
		a.report.Set("bias", a.env.Store.AngularBias())
		a.env.Log.Info("angular: heading %.4f elapsed %d ms", h, a.elapsedMs)
		return OK
	}

	turnedDeg := math.Abs(a.turned) * 180 / math.Pi
	a.report.Set("turned_deg", turnedDeg)
	a.env.Log.Info("angular: turned %.2f deg heading %.4f elapsed %d ms", turnedDeg, h, a.elapsedMs)
	if a.measuredDeg <= 0 {
		a.env.Log.Error("angular: measured rotation not set")
		return Error
	}
	bias := commandedDeg / a.measuredDeg
	if err := a.env.Store.WriteAngularBias(bias); err != nil {
		a.env.Log.Error("write angular bias: %v", err)
		return Error
	}
	if err := a.env.Store.SetStatusBit(calstore.StatusAngular); err != nil {
		a.env.Log.Error("set angular status: %v", err)
		return Error
	}
	a.env.Drive.ResetOdometry()
	a.report.Set("measured_deg", a.measuredDeg)
	a.report.Set("bias", bias)
	a.env.Log.Info("angular bias: %.4f", bias)
	return OK
}
