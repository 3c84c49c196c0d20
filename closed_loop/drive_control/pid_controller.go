package control

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidLimits = errors.New("pid output limits: min must be below max")
	ErrInvalidGains  = errors.New("pid gains must be non-negative")
)

// Mode selects whether Compute runs the loop or leaves the output alone.
type Mode int

const (
	Manual Mode = iota
	Automatic
)

func (m Mode) String() string {
	if m == Automatic {
		return "automatic"
	}
	return "manual"
}

// ControllerDirection flips the sign of every gain when Reverse.
type ControllerDirection int

const (
	Direct ControllerDirection = iota
	Reverse
)

// ErrorFunc computes the control error from setpoint and input.
type ErrorFunc func(setpoint, input float64) float64

// SubtractError is the default error function.
func SubtractError(setpoint, input float64) float64 { return setpoint - input }

// AngleError wraps the difference of two angles into [-pi, pi].
func AngleError(setpoint, input float64) float64 {
	d := setpoint - input
	return math.Atan2(math.Sin(d), math.Cos(d))
}

// PIDConfig holds PID controller parameters
type PIDConfig struct {
	Gains         GainsConfig
	SampleTimeSec float64
	OutMin        float64
	OutMax        float64
	Mode          Mode
	Direction     ControllerDirection
	ErrorFn       ErrorFunc
}

// PIDController is a fixed-step PID with feed-forward, derivative on
// measurement and an integral term clamped to the output limits.
type PIDController struct {
	gains      GainsConfig // as configured, sample-time independent
	kp, ki, kd float64     // scaled by sample time and direction
	kf         float64
	sampleTime float64
	outMin     float64
	outMax     float64
	mode       Mode
	direction  ControllerDirection
	errorFn    ErrorFunc

	setpoint  float64
	input     float64
	lastInput float64
	integral  float64
	output    float64
	lastError float64
}

// NewPIDController creates a new PID controller with given configuration
func NewPIDController(cfg PIDConfig) (*PIDController, error) {
	pid := &PIDController{
		mode:      cfg.Mode,
		direction: cfg.Direction,
		errorFn:   cfg.ErrorFn,
	}
	if pid.errorFn == nil {
		pid.errorFn = SubtractError
	}
	pid.sampleTime = cfg.SampleTimeSec
	if pid.sampleTime <= 0 {
		pid.sampleTime = 1.0
	}
	if err := pid.SetOutputLimits(cfg.OutMin, cfg.OutMax); err != nil {
		return nil, err
	}
	if err := pid.SetTunings(cfg.Gains); err != nil {
		return nil, err
	}
	return pid, nil
}

// Compute runs one step. It returns false, leaving the output untouched, in
// manual mode.
func (pid *PIDController) Compute() bool {
	if pid.mode == Manual {
		return false
	}

	err := pid.errorFn(pid.setpoint, pid.input)
	pid.lastError = err

	pid.integral = ClampFloat(pid.integral+pid.ki*err, pid.outMin, pid.outMax)
	dInput := pid.input - pid.lastInput

	out := pid.kf*pid.setpoint + pid.kp*err + pid.integral - pid.kd*dInput
	pid.output = ClampFloat(out, pid.outMin, pid.outMax)
	pid.lastInput = pid.input
	return true
}

// SetMode switches mode. Going from manual to automatic seeds the integral
// with the current output so the output does not jump.
func (pid *PIDController) SetMode(mode Mode) {
	if pid.mode != mode && mode == Automatic {
		pid.integral = ClampFloat(pid.output, pid.outMin, pid.outMax)
		pid.lastInput = pid.input
	}
	pid.mode = mode
}

func (pid *PIDController) SetOutputLimits(min, max float64) error {
	if min >= max {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidLimits, min, max)
	}
	pid.outMin = min
	pid.outMax = max
	if pid.mode == Automatic {
		pid.output = ClampFloat(pid.output, min, max)
		pid.integral = ClampFloat(pid.integral, min, max)
	}
	return nil
}

func (pid *PIDController) SetTunings(g GainsConfig) error {
	if g.Kp < 0 || g.Ki < 0 || g.Kd < 0 || g.Kf < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidGains, g)
	}
	pid.gains = g
	pid.scaleGains()
	return nil
}

func (pid *PIDController) scaleGains() {
	pid.kp = pid.gains.Kp
	pid.ki = pid.gains.Ki * pid.sampleTime
	pid.kd = pid.gains.Kd / pid.sampleTime
	pid.kf = pid.gains.Kf
	if pid.direction == Reverse {
		pid.kp, pid.ki, pid.kd, pid.kf = -pid.kp, -pid.ki, -pid.kd, -pid.kf
	}
}

func (pid *PIDController) SetControllerDirection(dir ControllerDirection) {
	pid.direction = dir
	pid.scaleGains()
}

// SetSampleTime changes the step length, rescaling the integral and
// derivative gains. Non-positive values are ignored.
func (pid *PIDController) SetSampleTime(sec float64) {
	if sec <= 0 {
		return
	}
	pid.sampleTime = sec
	pid.scaleGains()
}

func (pid *PIDController) SetSetpoint(v float64) { pid.setpoint = v }
func (pid *PIDController) SetInput(v float64)    { pid.input = v }

// SetOutput forces the output, typically while in manual mode.
func (pid *PIDController) SetOutput(v float64) {
	pid.output = ClampFloat(v, pid.outMin, pid.outMax)
}

// Reset clears the loop state, keeping tunings, limits and mode.
func (pid *PIDController) Reset() {
	pid.setpoint = 0
	pid.input = 0
	pid.lastInput = 0
	pid.integral = 0
	pid.output = 0
	pid.lastError = 0
}

func (pid *PIDController) Output() float64                { return pid.output }
func (pid *PIDController) Setpoint() float64              { return pid.setpoint }
func (pid *PIDController) Input() float64                 { return pid.input }
func (pid *PIDController) LastInput() float64             { return pid.lastInput }
func (pid *PIDController) Integral() float64              { return pid.integral }
func (pid *PIDController) Gains() GainsConfig             { return pid.gains }
func (pid *PIDController) Mode() Mode                     { return pid.mode }
func (pid *PIDController) Direction() ControllerDirection { return pid.direction }
func (pid *PIDController) SampleTime() float64            { return pid.sampleTime }

func (pid *PIDController) OutputLimits() (float64, float64) {
	return pid.outMin, pid.outMax
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Setpoint: pid.setpoint,
		Input:    pid.input,
		Error:    pid.lastError,
		Integral: pid.integral,
		Output:   pid.output,
		P:        pid.kp * pid.lastError,
		I:        pid.integral,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Setpoint float64 `json:"setpoint"`
	Input    float64 `json:"input"`
	Error    float64 `json:"error"`
	Integral float64 `json:"integral"`
	Output   float64 `json:"output"`
	P        float64 `json:"p"`
	I        float64 `json:"i"`
}
