package calval

import (
	"math"

	"diffdrive-core/closed_loop/calstore"
	"diffdrive-core/utils"
)

// signedProfile returns a triangular profile of n points between lowPct and
// highPct of limit. A negative limit gives a negative profile.
func signedProfile(n int, lowPct, highPct, limit float64) ([]float64, error) {
	mag := math.Abs(limit)
	p, err := utils.CalcTriangularProfile(n, lowPct*mag, highPct*mag)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		for i := range p {
			p[i] = -p[i]
		}
	}
	return p, nil
}

// profileRun steps each selected leg through its speed profile, holding
// every point for holdMs and sampling the wheel at the end of the hold.
type profileRun struct {
	env      *Env
	legs     []leg
	profiles map[calstore.Direction][]float64
	holdMs   uint32
	set      func(w calstore.Wheel, cps float64)
	report   *Report

	legIdx   int
	pointIdx int
	started  uint32
}

func (p *profileRun) target() float64 {
	l := p.legs[p.legIdx]
	return p.profiles[l.dir][p.pointIdx]
}

func (p *profileRun) apply() {
	l := p.legs[p.legIdx]
	p.set(l.wheel, p.target())
	p.started = p.env.Clock.Millis()
	p.env.Log.Info("%s: %.2f cps", l, p.target())
}

func (p *profileRun) begin() bool {
	p.legIdx, p.pointIdx = 0, 0
	if len(p.legs) == 0 {
		return false
	}
	p.apply()
	return true
}

// step reports whether more points remain.
func (p *profileRun) step() bool {
	if p.env.Clock.Millis()-p.started < p.holdMs {
		return true
	}
	l := p.legs[p.legIdx]
	enc := p.env.Drive.Encoder(l.wheel)
	s := Sample{
		Label:    l.String(),
		Target:   p.target(),
		Measured: enc.Cps(),
		Pwm:      p.env.Drive.Motor(l.wheel).Pwm(),
	}
	p.report.Add(s)
	p.env.Log.Info("%s: calc cps %.3f meas cps %.3f diff %.3f (%.1f%%) pwm %d",
		s.Label, s.Target, s.Measured, s.Diff(), s.PercentDiff(), s.Pwm)

	p.pointIdx++
	if p.pointIdx == len(p.profiles[l.dir]) {
		p.set(l.wheel, 0)
		p.pointIdx = 0
		p.legIdx++
		if p.legIdx == len(p.legs) {
			return false
		}
	}
	p.apply()
	return true
}
