package control

import "math"

// VelocitySource returns a linear (m/s) and angular (rad/s) velocity pair.
type VelocitySource func() (linear, angular float64)

// CalcAngle is the angle of the (linear, angular) velocity vector measured
// from the linear axis. A zero vector gives 0.
func CalcAngle(linear, angular float64) float64 {
	return finite(math.Asin(angular / math.Hypot(linear, angular)))
}

// UnicycleConfig returns the loop settings for the heading coupling PID.
func UnicycleConfig(gains GainsConfig, rates Rates) PIDConfig {
	return PIDConfig{
		Gains:         gains,
		SampleTimeSec: float64(rates.PIDMs) / 1000,
		OutMin:        -math.Pi / 4,
		OutMax:        math.Pi / 4,
		Mode:          Automatic,
		Direction:     Direct,
		ErrorFn:       AngleError,
	}
}

// UnicyclePID couples the wheels by tracking the angle between commanded
// linear and angular velocity against the measured one, nudging the
// commanded angular velocity by the correction.
type UnicyclePID struct {
	pid      *PIDController
	cmd      *Commander
	measured VelocitySource
	debug    *Debug
	sign     float64
	enabled  bool
}

func NewUnicyclePID(cfg PIDConfig, cmd *Commander, measured VelocitySource, debug *Debug) (*UnicyclePID, error) {
	pid, err := NewPIDController(cfg)
	if err != nil {
		return nil, err
	}
	return &UnicyclePID{pid: pid, cmd: cmd, measured: measured, debug: debug, sign: 1.0}, nil
}

func (u *UnicyclePID) Process() {
	if !u.enabled {
		return
	}
	linear, angular := u.cmd.CmdVelocity()
	target := CalcAngle(linear, angular)
	u.sign = -1.0
	if target > 0 {
		u.sign = 1.0
	}
	input := CalcAngle(u.measured())

	u.pid.SetSetpoint(math.Abs(target))
	u.pid.SetInput(math.Abs(input))
	if !u.pid.Compute() {
		return
	}
	angular += u.pid.Output() * u.sign
	u.cmd.SetCmdVelocity(linear, angular)

	u.debug.Printf(DebugUnicycle, "unicycle pid: %.3f %.3f %.3f %.3f", target, input, u.pid.Output(), angular)
}

func (u *UnicyclePID) Enable(enable bool) {
	u.enabled = enable
	if enable {
		u.pid.SetMode(Automatic)
	}
}

func (u *UnicyclePID) Bypass(bypass bool) {
	mode := Automatic
	if bypass {
		u.enabled = true
		mode = Manual
	}
	u.pid.SetMode(mode)
}

func (u *UnicyclePID) Reset()                       { u.pid.Reset() }
func (u *UnicyclePID) Enabled() bool                { return u.enabled }
func (u *UnicyclePID) SetGains(g GainsConfig) error { return u.pid.SetTunings(g) }
func (u *UnicyclePID) Gains() GainsConfig           { return u.pid.Gains() }
func (u *UnicyclePID) Controller() *PIDController   { return u.pid }
