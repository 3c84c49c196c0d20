package calval

import "math"

// TwiddleConfig tunes the coordinate search.
type TwiddleConfig struct {
	Tolerance float64 // stop once the step sizes sum below this
	Up        float64 // step growth after an improvement
	Down      float64 // step shrink after a miss
	MaxRuns   int     // cost evaluations allowed, 0 for no limit
}

func DefaultTwiddleConfig() TwiddleConfig {
	return TwiddleConfig{Tolerance: 0.2, Up: 1.1, Down: 0.9}
}

// CostFunc scores a gain set (kp, ki, kd); lower is better.
type CostFunc func(gains [3]float64) float64

// Twiddle searches for the gains minimizing cost, starting from zero with
// unit steps. Negative gains are never evaluated. It returns the best gains,
// their cost and the number of evaluations.
func Twiddle(cfg TwiddleConfig, cost CostFunc) ([3]float64, float64, int) {
	runs := 0
	spent := func() bool { return cfg.MaxRuns > 0 && runs >= cfg.MaxRuns }
	eval := func(p [3]float64) float64 {
		if spent() {
			return math.Inf(1)
		}
		for _, v := range p {
			if v < 0 {
				return math.Inf(1)
			}
		}
		runs++
		return cost(p)
	}

	var p [3]float64
	d := [3]float64{1, 1, 1}
	best := eval(p)

	for d[0]+d[1]+d[2] > cfg.Tolerance && !spent() {
		for i := range p {
			if spent() {
				break
			}
			p[i] += d[i]
			if err := eval(p); err < best {
				best = err
				d[i] *= cfg.Up
				continue
			}
			p[i] -= 2 * d[i]
			if err := eval(p); err < best {
				best = err
				d[i] *= cfg.Up
				continue
			}
			p[i] += d[i]
			d[i] *= cfg.Down
		}
	}
	return p, best, runs
}
