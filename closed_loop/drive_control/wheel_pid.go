package control

import (
	"math"

	"diffdrive-core/closed_loop/calstore"
)

// TargetFunc returns the desired wheel speed in counts per second.
type TargetFunc func() float64

// PwmConverter maps a signed wheel speed to a pulse width.
type PwmConverter interface {
	CpsToPwm(w calstore.Wheel, cps float64) uint16
}

// WheelPID closes the speed loop of one wheel. The PID works on magnitudes
// only; the sign of the target is put back before the PWM lookup.
type WheelPID struct {
	wheel   calstore.Wheel
	pid     *PIDController
	encoder *Encoder
	motor   *Motor
	curve   PwmConverter
	debug   *Debug
	channel DebugChannel

	target      TargetFunc
	savedTarget TargetFunc
	sign        float64
	enabled     bool
	lastPwm     uint16
}

// WheelPIDConfig returns the loop settings for a wheel speed PID.
func WheelPIDConfig(gains GainsConfig, rates Rates, geom Geometry) PIDConfig {
	return PIDConfig{
		Gains:         gains,
		SampleTimeSec: float64(rates.PIDMs) / 1000,
		OutMin:        0,
		OutMax:        geom.MaxWheelCps(),
		Mode:          Automatic,
		Direction:     Direct,
	}
}

func NewWheelPID(wheel calstore.Wheel, cfg PIDConfig, enc *Encoder, motor *Motor, curve PwmConverter, target TargetFunc, debug *Debug) (*WheelPID, error) {
	pid, err := NewPIDController(cfg)
	if err != nil {
		return nil, err
	}
	ch := DebugLeftPID
	if wheel == calstore.Right {
		ch = DebugRightPID
	}
	return &WheelPID{
		wheel:   wheel,
		pid:     pid,
		encoder: enc,
		motor:   motor,
		curve:   curve,
		debug:   debug,
		channel: ch,
		target:  target,
		sign:    1.0,
		lastPwm: calstore.PwmStop,
	}, nil
}

// Process runs one loop step and writes the resulting PWM.
func (w *WheelPID) Process() {
	if !w.enabled {
		return
	}
	target := w.target()
	w.sign = Sign(target)
	input := math.Abs(w.encoder.Cps())

	w.pid.SetSetpoint(math.Abs(target))
	w.pid.SetInput(input)

	var pwm uint16
	if w.pid.Compute() {
		pwm = w.curve.CpsToPwm(w.wheel, w.pid.Output()*w.sign)
	} else {
		pwm = w.curve.CpsToPwm(w.wheel, target)
	}
	w.motor.SetPwm(pwm)
	w.lastPwm = pwm

	w.debug.Printf(w.channel, "%s pid: %.3f %.3f %.3f %.3f %d",
		w.wheel, target, input, w.pid.Output(), w.pid.Integral(), pwm)
}

// SetTarget swaps in a new target source; RestoreTarget undoes it.
func (w *WheelPID) SetTarget(fn TargetFunc) {
	if w.savedTarget == nil {
		w.savedTarget = w.target
	}
	w.target = fn
}

func (w *WheelPID) RestoreTarget() {
	if w.savedTarget != nil {
		w.target = w.savedTarget
		w.savedTarget = nil
	}
}

func (w *WheelPID) Enable(enable bool) {
	w.enabled = enable
	if enable {
		w.pid.SetMode(Automatic)
	}
}

// Bypass feeds the target straight to the PWM lookup. Bypassing also
// enables processing.
func (w *WheelPID) Bypass(bypass bool) {
	mode := Automatic
	if bypass {
		w.enabled = true
		mode = Manual
	}
	w.pid.SetMode(mode)
}

func (w *WheelPID) Reset() { w.pid.Reset() }

func (w *WheelPID) SetGains(g GainsConfig) error { return w.pid.SetTunings(g) }
func (w *WheelPID) Gains() GainsConfig           { return w.pid.Gains() }

func (w *WheelPID) Enabled() bool               { return w.enabled }
func (w *WheelPID) Wheel() calstore.Wheel       { return w.wheel }
func (w *WheelPID) Controller() *PIDController  { return w.pid }
func (w *WheelPID) LastPwm() uint16             { return w.lastPwm }
func (w *WheelPID) Diagnostics() PIDDiagnostics { return w.pid.GetDiagnostics() }
