package calval

import (
	"math"

	"diffdrive-core/closed_loop/calstore"
	control "diffdrive-core/closed_loop/drive_control"
)

type LinearConfig struct {
	Speed     float64 // m/s
	DistanceM float64
	TimeoutMs uint32
	Backward  bool
}

func DefaultLinearConfig() LinearConfig {
	return LinearConfig{Speed: 0.2, DistanceM: 1.0, TimeoutMs: 20000}
}

// LinearProcedure drives straight for a fixed odometry distance. Calibration
// compares that distance with the one measured on the floor.
type LinearProcedure struct {
	env *Env
	cfg LinearConfig

	linear, angular float64
	measured        float64
	startMs         uint32
	elapsedMs       uint32
	timedOut        bool
	report          *Report
}

func NewLinearProcedure(env *Env, cfg LinearConfig) *LinearProcedure {
	return &LinearProcedure{env: env, cfg: cfg}
}

func (l *LinearProcedure) Name() string    { return "linear" }
func (l *LinearProcedure) Report() *Report { return l.report }

// SetMeasured records the distance actually travelled, in meters.
func (l *LinearProcedure) SetMeasured(m float64) { l.measured = m }

func (l *LinearProcedure) Init(stage Stage) Result {
	l.report = NewReport(l.Name(), stage)
	l.timedOut = false
	l.env.Drive.Debug.Store()
	if !l.env.Store.IsSet(calstore.StatusMotor) {
		l.env.Log.Error("linear %s needs motor calibration", stage)
		return Error
	}
	if stage == Calibrate {
		if err := l.env.Store.ClearStatusBit(calstore.StatusLinear); err != nil {
			l.env.Log.Error("clear linear status: %v", err)
			return Error
		}
		if err := l.env.Store.WriteLinearBias(calstore.BiasDefault); err != nil {
			l.env.Log.Error("reset linear bias: %v", err)
			return Error
		}
	}
	return OK
}

func (l *LinearProcedure) Start(stage Stage) Result {
	l.env.prepareMotion()
	l.linear, l.angular = l.cfg.Speed, 0
	if l.cfg.Backward {
		l.linear = -l.cfg.Speed
	}
	l.env.Drive.Commander.SetCommandSource(velocitySource(&l.linear, &l.angular))
	l.startMs = l.env.Clock.Millis()
	l.env.Log.Info("linear %s: %.2f m/s for %.2f m", stage, l.linear, l.cfg.DistanceM)
	return OK
}

func (l *LinearProcedure) Update(Stage) Result {
	l.elapsedMs = l.env.Clock.Millis() - l.startMs
	o := l.env.Drive.Odometry.Snapshot()
	if math.Hypot(o.X, o.Y) >= l.cfg.DistanceM {
		return Complete
	}
	if l.elapsedMs >= l.cfg.TimeoutMs {
		l.timedOut = true
		l.env.Log.Warn("linear: timed out after %d ms", l.elapsedMs)
		return Complete
	}
	return OK
}

func (l *LinearProcedure) Stop(Stage) Result {
	drv := l.env.Drive
	l.linear, l.angular = 0, 0
	drv.Commander.RestoreCommandSource()
	drv.StopMotors()
	drv.Debug.Restore()
	return OK
}

func (l *LinearProcedure) Results(stage Stage) Result {
	o := l.env.Drive.Odometry.Snapshot()
	dist := math.Hypot(o.X, o.Y)
	l.report.Set("x", o.X)
	l.report.Set("y", o.Y)
	l.report.Set("distance", dist)
	l.report.Set("heading", o.Heading)
	l.report.Set("elapsed_ms", float64(l.elapsedMs))
	l.report.Set("timed_out", control.BoolToFloat(l.timedOut))
	l.env.Log.Info("linear: x %.3f y %.3f dist %.3f heading %.3f elapsed %d ms",
		o.X, o.Y, dist, o.Heading, l.elapsedMs)

	if stage == Validate {
		l.report.Set("bias", l.env.Store.LinearBias())
		return OK
	}
	if l.measured <= 0 {
		l.env.Log.Error("linear: measured distance not set")
		return Error
	}
	bias := l.cfg.DistanceM / l.measured
	if err := l.env.Store.WriteLinearBias(bias); err != nil {
		l.env.Log.Error("write linear bias: %v", err)
		return Error
	}
	if err := l.env.Store.SetStatusBit(calstore.StatusLinear); err != nil {
		l.env.Log.Error("set linear status: %v", err)
		return Error
	}
	l.env.Drive.ResetEncoders()
	l.report.Set("measured", l.measured)
	l.report.Set("bias", bias)
	l.env.Log.Info("linear bias: %.4f", bias)
	return OK
}
