package control

import (
	"diffdrive-core/closed_loop/calstore"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

const (
	rampMinStep = 1
	rampMaxStep = 10
)

// Motor wraps a MotorDriver with range clamping and ramping.
type Motor struct {
	name   string
	driver hal.MotorDriver
	clock  hal.Clock
}

func NewMotor(name string, driver hal.MotorDriver, clock hal.Clock) *Motor {
	return &Motor{name: name, driver: driver, clock: clock}
}

func (m *Motor) Name() string { return m.name }

func (m *Motor) SetPwm(pwm uint16) {
	m.driver.SetPwm(utils.Constrain(pwm, calstore.PwmMin, calstore.PwmMax))
}

func (m *Motor) Pwm() uint16 { return m.driver.GetPwm() }

func (m *Motor) Stop() { m.driver.SetPwm(calstore.PwmStop) }

// Ramp moves the pulse width to target in steps of up to 10 spread over
// timeMs. It blocks on the clock and always finishes exactly at target.
func (m *Motor) Ramp(target uint16, timeMs uint32) {
	target = utils.Constrain(target, calstore.PwmMin, calstore.PwmMax)
	pwm := int(m.Pwm())
	delta := int(target) - pwm
	if delta == 0 {
		return
	}
	span := delta
	if span < 0 {
		span = -span
	}
	step := utils.Constrain(rampMaxStep, rampMinStep, min(span, rampMaxStep))
	delay := timeMs * uint32(step) / uint32(span)
	if delta < 0 {
		step = -step
	}

	for pwm != int(target) {
		pwm += step
		if (step > 0 && pwm > int(target)) || (step < 0 && pwm < int(target)) {
			pwm = int(target)
		}
		m.driver.SetPwm(uint16(pwm))
		m.clock.Sleep(delay)
	}
}

// RampDown brings the motor to stop over timeMs.
func (m *Motor) RampDown(timeMs uint32) {
	m.Ramp(calstore.PwmStop, timeMs)
}
