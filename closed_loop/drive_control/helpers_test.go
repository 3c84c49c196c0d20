package control

import (
	"io"
	"math"

	"diffdrive-core/closed_loop/calstore"
	"diffdrive-core/utils"
)

type fakeCounter struct {
	count int32
}

func (c *fakeCounter) ReadCounter() int32   { return c.count }
func (c *fakeCounter) WriteCounter(v int32) { c.count = v }

type fakeDriver struct {
	pwm     uint16
	history []uint16
}

func newFakeDriver() *fakeDriver { return &fakeDriver{pwm: calstore.PwmStop} }

func (d *fakeDriver) SetPwm(pwm uint16) {
	d.pwm = pwm
	d.history = append(d.history, pwm)
}

func (d *fakeDriver) GetPwm() uint16 { return d.pwm }

// fakeCal inverts the default simulated wheel: 3000 cps at full span past a
// 30 us deadband, with the right motor mirrored.
type fakeCal struct {
	linearBias  float64
	angularBias float64
	status      calstore.StatusBit
	gains       map[calstore.GainsID]calstore.Gains
	cleared     int
}

func newFakeCal() *fakeCal {
	return &fakeCal{linearBias: 1, angularBias: 1, gains: map[calstore.GainsID]calstore.Gains{}}
}

func (c *fakeCal) CpsToPwm(w calstore.Wheel, cps float64) uint16 {
	if cps == 0 {
		return calstore.PwmStop
	}
	d := 30 + math.Abs(cps)*470/3000
	if cps < 0 {
		d = -d
	}
	if w == calstore.Right {
		d = -d
	}
	return uint16(math.Round(utils.Constrain(1500+d, 1000, 2000)))
}

func (c *fakeCal) LinearBias() float64  { return c.linearBias }
func (c *fakeCal) AngularBias() float64 { return c.angularBias }

func (c *fakeCal) Gains(id calstore.GainsID) (calstore.Gains, bool) {
	g, ok := c.gains[id]
	return g, ok
}

func (c *fakeCal) IsSet(bit calstore.StatusBit) bool { return c.status&bit != 0 }

func (c *fakeCal) Clear() error {
	c.cleared++
	c.status &^= calstore.StatusMotor | calstore.StatusPID
	return nil
}

func quietLogger() *utils.Logger { return utils.NewLogger(io.Discard, utils.TRACE) }

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }
