package utils

// MovingAverage is an exponentially weighted running average that keeps a
// running sum instead of a sample history: S' = S + v - S/N, avg = S'/N.
type MovingAverage struct {
	sum  float64
	size float64
}

func NewMovingAverage(size int) *MovingAverage {
	if size <= 0 {
		size = 1
	}
	return &MovingAverage{size: float64(size)}
}

func (m *MovingAverage) Update(v float64) float64 {
	m.sum = m.sum + v - m.sum/m.size
	return m.sum / m.size
}

func (m *MovingAverage) Value() float64 { return m.sum / m.size }
func (m *MovingAverage) Reset()         { m.sum = 0 }

// IntMovingAverage is the integer form of MovingAverage; divisions truncate.
type IntMovingAverage struct {
	sum  int32
	size int32
}

func NewIntMovingAverage(size int32) *IntMovingAverage {
	if size <= 0 {
		size = 1
	}
	return &IntMovingAverage{size: size}
}

func (m *IntMovingAverage) Update(v int32) int32 {
	m.sum = m.sum + v - m.sum/m.size
	return m.sum / m.size
}

func (m *IntMovingAverage) Value() int32 { return m.sum / m.size }
func (m *IntMovingAverage) Reset()       { m.sum = 0 }
