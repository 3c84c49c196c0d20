package control

import (
	"math"

	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

// BiasFunc supplies a correction factor, re-read on every reset.
type BiasFunc func() float64

func unitBias() float64 { return 1.0 }

// Encoder samples a wheel counter and filters it into speed and distance.
type Encoder struct {
	name    string
	counter hal.EncoderCounter
	geom    Geometry
	biasFn  BiasFunc

	count     int32
	lastCount int32
	delta     int32
	avgDelta  float64
	cps       float64
	avgCps    float64
	avgMps    float64
	distance  float64
	deltaDist float64
	bias      float64

	deltaMA *utils.MovingAverage
	cpsMA   *utils.MovingAverage
}

func NewEncoder(name string, counter hal.EncoderCounter, geom Geometry, biasFn BiasFunc, deltaWindow, cpsWindow int) *Encoder {
	if biasFn == nil {
		biasFn = unitBias
	}
	e := &Encoder{
		name:    name,
		counter: counter,
		geom:    geom,
		biasFn:  biasFn,
		deltaMA: utils.NewMovingAverage(deltaWindow),
		cpsMA:   utils.NewMovingAverage(cpsWindow),
	}
	e.Reset()
	return e
}

// Update takes one sample. deltaMs is the time since the previous sample.
// The count difference uses wrapping int32 arithmetic, so a counter rolling
// over from MaxInt32 to MinInt32 yields the small positive step it really made.
func (e *Encoder) Update(deltaMs uint32) {
	if deltaMs == 0 {
		return
	}
	e.count = e.counter.ReadCounter()
	e.delta = e.count - e.lastCount
	e.lastCount = e.count

	e.avgDelta = e.deltaMA.Update(float64(e.delta))
	e.cps = e.avgDelta * 1000 / float64(deltaMs)
	e.avgCps = e.cpsMA.Update(e.cps)
	e.avgMps = e.avgCps * e.geom.MetersPerCount()

	e.deltaDist = e.bias * math.Pi * e.geom.WheelDiameterM() * e.avgDelta / e.geom.CountsPerRev()
	e.distance += e.deltaDist
}

// Reset zeroes the hardware counter and all derived values and reloads the bias.
func (e *Encoder) Reset() {
	e.counter.WriteCounter(0)
	e.count = 0
	e.lastCount = 0
	e.delta = 0
	e.avgDelta = 0
	e.cps = 0
	e.avgCps = 0
	e.avgMps = 0
	e.distance = 0
	e.deltaDist = 0
	e.deltaMA.Reset()
	e.cpsMA.Reset()
	e.bias = e.biasFn()
}

func (e *Encoder) Name() string { return e.name }

// Count reads the live hardware counter.
func (e *Encoder) Count() int32 { return e.counter.ReadCounter() }

func (e *Encoder) Delta() int32           { return e.delta }
func (e *Encoder) AvgDelta() float64      { return e.avgDelta }
func (e *Encoder) Cps() float64           { return e.avgCps }
func (e *Encoder) Mps() float64           { return e.avgMps }
func (e *Encoder) Distance() float64      { return e.distance }
func (e *Encoder) DeltaDistance() float64 { return e.deltaDist }
func (e *Encoder) Bias() float64          { return e.bias }

// EncoderState is a copy of an encoder's outputs.
type EncoderState struct {
	Count    int32   `json:"count"`
	Delta    int32   `json:"delta"`
	Cps      float64 `json:"cps"`
	Mps      float64 `json:"mps"`
	Distance float64 `json:"distance"`
}

func (e *Encoder) State() EncoderState {
	return EncoderState{
		Count:    e.count,
		Delta:    e.delta,
		Cps:      e.avgCps,
		Mps:      e.avgMps,
		Distance: e.distance,
	}
}
