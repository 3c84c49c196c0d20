// Package calstore owns the persisted calibration image: status bits, odometry
// biases, PID gains and the per-wheel, per-direction count/sec to PWM tables.
package calstore

import (
	"errors"
	"fmt"

	"diffdrive-core/utils"
)

const (
	NumSamples  = 51
	ScaleFactor = 100

	PwmMin  uint16 = 1000
	PwmStop uint16 = 1500
	PwmMax  uint16 = 2000
)

var (
	ErrNotCalibrated = errors.New("calibration table not present")
	ErrUnsortedTable = errors.New("calibration table cps not ascending")
)

type Wheel int

const (
	Left Wheel = iota
	Right
)

func (w Wheel) String() string {
	if w == Right {
		return "right"
	}
	return "left"
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Table maps wheel speed to pulse width for one wheel and direction. Cps,
// CpsMin and CpsMax are stored multiplied by CpsScale.
type Table struct {
	CpsMin   int32              `json:"cps_min"`
	CpsMax   int32              `json:"cps_max"`
	CpsScale int32              `json:"cps_scale"`
	Cps      [NumSamples]int32  `json:"cps"`
	Pwm      [NumSamples]uint16 `json:"pwm"`
}

// NewTable builds a table from scaled cps samples and their pulse widths.
func NewTable(cps []int32, pwm []uint16) (*Table, error) {
	if len(cps) != NumSamples || len(pwm) != NumSamples {
		return nil, fmt.Errorf("table needs %d samples, got %d cps and %d pwm", NumSamples, len(cps), len(pwm))
	}
	t := &Table{CpsScale: ScaleFactor}
	copy(t.Cps[:], cps)
	copy(t.Pwm[:], pwm)
	t.CpsMin, t.CpsMax = minMax(cps)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func minMax(v []int32) (lo, hi int32) {
	lo, hi = v[0], v[0]
	for _, x := range v[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

func (t *Table) Validate() error {
	if t.CpsScale <= 0 {
		return ErrNotCalibrated
	}
	for i := 1; i < NumSamples; i++ {
		if t.Cps[i] < t.Cps[i-1] {
			return fmt.Errorf("%w: index %d (%d < %d)", ErrUnsortedTable, i, t.Cps[i], t.Cps[i-1])
		}
	}
	return nil
}

// CpsToPwm converts an unscaled count/sec value to a pulse width.
func (t *Table) CpsToPwm(cps float64) uint16 {
	if cps == 0 {
		return PwmStop
	}
	scaled := utils.Constrain(int32(cps*float64(t.CpsScale)), t.CpsMin, t.CpsMax)
	return CpsToPwm(scaled, t.Cps[:], t.Pwm[:])
}

// MaxCps and MinCps return the unscaled extremes of the table.
func (t *Table) MaxCps() float64 { return float64(t.CpsMax) / float64(t.CpsScale) }
func (t *Table) MinCps() float64 { return float64(t.CpsMin) / float64(t.CpsScale) }

// CpsToPwm looks cps up in an ascending table and interpolates the pulse
// width between the bracketing samples.
func CpsToPwm(cps int32, cpsTable []int32, pwmTable []uint16) uint16 {
	if cps == 0 {
		return PwmStop
	}
	n := min(len(cpsTable), len(pwmTable))
	if n == 0 {
		return PwmStop
	}
	lo, hi := utils.BinaryRangeSearch(cps, cpsTable[:n])
	pwm := utils.Interpolate(cps, cpsTable[lo], cpsTable[hi], int32(pwmTable[lo]), int32(pwmTable[hi]))
	return uint16(utils.Constrain(pwm, int32(PwmMin), int32(PwmMax)))
}

// PwmSamples returns the pulse widths sampled for a wheel and direction,
// ordered so that the measured cps come out ascending. reverse reports that
// the samples must be driven from the last index down so the motor always
// starts at stop and speeds up.
func PwmSamples(w Wheel, d Direction) (samples [NumSamples]uint16, reverse bool) {
	var start, step int
	switch {
	case w == Left && d == Forward:
		start, step = int(PwmStop), int(PwmMax-PwmStop)/(NumSamples-1)
	case w == Left && d == Backward:
		start, step, reverse = int(PwmMin), int(PwmStop-PwmMin)/(NumSamples-1), true
	case w == Right && d == Forward:
		start, step = int(PwmStop), -int(PwmStop-PwmMin)/(NumSamples-1)
	default:
		start, step, reverse = int(PwmMax), -int(PwmMax-PwmStop)/(NumSamples-1), true
	}
	for i := range samples {
		samples[i] = uint16(start + i*step)
	}
	return samples, reverse
}
