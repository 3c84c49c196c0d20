package calval

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Event is emitted on every phase transition.
type Event struct {
	Procedure string  `json:"procedure"`
	Stage     Stage   `json:"stage"`
	State     State   `json:"state"`
	Failed    bool    `json:"failed"`
	Message   string  `json:"message,omitempty"`
	TimeMs    uint32  `json:"time_ms"`
	Report    *Report `json:"report,omitempty"`
}

type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Sample is one target/measurement pair taken during a procedure.
type Sample struct {
	Label    string  `json:"label"`
	Target   float64 `json:"target"`
	Measured float64 `json:"measured"`
	Pwm      uint16  `json:"pwm,omitempty"`
}

func (s Sample) Diff() float64 { return s.Measured - s.Target }

// PercentDiff is relative to the target; a zero target gives 0.
func (s Sample) PercentDiff() float64 {
	if s.Target == 0 {
		return 0
	}
	return 100 * (s.Target - s.Measured) / s.Target
}

// Report collects the outputs of one procedure run.
type Report struct {
	Procedure string             `json:"procedure"`
	Stage     string             `json:"stage"`
	Values    map[string]float64 `json:"values,omitempty"`
	Samples   []Sample           `json:"samples,omitempty"`
	Summary   *Summary           `json:"summary,omitempty"`
}

// Summary holds statistics over the sample errors.
type Summary struct {
	Count      int     `json:"count"`
	MeanDiff   float64 `json:"mean_diff"`
	StdDevDiff float64 `json:"stddev_diff"`
	MeanAbsPct float64 `json:"mean_abs_pct"`
	MaxAbsPct  float64 `json:"max_abs_pct"`
}

func NewReport(procedure string, stage Stage) *Report {
	return &Report{Procedure: procedure, Stage: stage.String(), Values: map[string]float64{}}
}

func (r *Report) Set(key string, v float64) { r.Values[key] = v }

func (r *Report) Add(s Sample) {
	r.Samples = append(r.Samples, s)
}

// Summarize computes the error statistics over all samples.
func (r *Report) Summarize() *Summary {
	n := len(r.Samples)
	if n == 0 {
		r.Summary = nil
		return nil
	}
	diffs := make([]float64, n)
	pcts := make([]float64, n)
	maxPct := 0.0
	for i, s := range r.Samples {
		diffs[i] = s.Diff()
		pcts[i] = math.Abs(s.PercentDiff())
		maxPct = math.Max(maxPct, pcts[i])
	}
	sum := &Summary{Count: n, MaxAbsPct: maxPct, MeanAbsPct: stat.Mean(pcts, nil)}
	if n > 1 {
		sum.MeanDiff, sum.StdDevDiff = stat.MeanStdDev(diffs, nil)
	} else {
		sum.MeanDiff = diffs[0]
	}
	r.Summary = sum
	return sum
}
