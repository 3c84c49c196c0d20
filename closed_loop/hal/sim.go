package hal

import (
	"math"
	"sync"
)

const (
	pwmStop     = 1500
	pwmHalfSpan = 500
)

// SimWheelConfig describes the simulated motor and encoder of one wheel.
type SimWheelConfig struct {
	MaxCps       float64 // counts per second at full pulse width
	DeadbandUs   uint16  // pulse distance from stop that produces no motion
	TimeConstMs  float64 // first-order lag of wheel speed
	Reversed     bool    // motor mounted mirrored: pwm below stop drives forward
	Gain         float64 // per-wheel efficiency, 1.0 when zero
	MaxStepMs    uint32  // cap on lazily integrated time per update
	InitialCount int32
}

func DefaultSimWheelConfig(reversed bool) SimWheelConfig {
	return SimWheelConfig{
		MaxCps:      3000,
		DeadbandUs:  30,
		TimeConstMs: 60,
		Reversed:    reversed,
		Gain:        1.0,
		MaxStepMs:   5000,
	}
}

// SimWheel couples a MotorDriver to an EncoderCounter through a simple plant
// model integrated at 1 ms resolution whenever either side is touched.
type SimWheel struct {
	mu    sync.Mutex
	cfg   SimWheelConfig
	clock Clock
	pwm   uint16
	cps   float64
	pos   float64
	last  uint32
}

func NewSimWheel(clock Clock, cfg SimWheelConfig) *SimWheel {
	if cfg.Gain == 0 {
		cfg.Gain = 1.0
	}
	if cfg.TimeConstMs <= 0 {
		cfg.TimeConstMs = 1
	}
	if cfg.MaxStepMs == 0 {
		cfg.MaxStepMs = 5000
	}
	return &SimWheel{
		cfg:   cfg,
		clock: clock,
		pwm:   pwmStop,
		pos:   float64(cfg.InitialCount),
		last:  clock.Millis(),
	}
}

// steadyCps is the speed the wheel settles at for pwm, positive forward.
func (w *SimWheel) steadyCps(pwm uint16) float64 {
	d := float64(int(pwm) - pwmStop)
	if w.cfg.Reversed {
		d = -d
	}
	db := float64(w.cfg.DeadbandUs)
	if math.Abs(d) <= db {
		return 0
	}
	frac := (math.Abs(d) - db) / (pwmHalfSpan - db)
	return math.Copysign(frac*w.cfg.MaxCps*w.cfg.Gain, d)
}

func (w *SimWheel) advance() {
	now := w.clock.Millis()
	dt := now - w.last
	w.last = now
	if dt > w.cfg.MaxStepMs {
		dt = w.cfg.MaxStepMs
	}
	target := w.steadyCps(w.pwm)
	alpha := 1 / w.cfg.TimeConstMs
	if alpha > 1 {
		alpha = 1
	}
	for i := uint32(0); i < dt; i++ {
		w.cps += (target - w.cps) * alpha
		w.pos += w.cps / 1000
	}
}

func (w *SimWheel) SetPwm(pwm uint16) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	w.pwm = pwm
}

func (w *SimWheel) GetPwm() uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pwm
}

func (w *SimWheel) ReadCounter() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	return int32(math.Floor(w.pos))
}

func (w *SimWheel) WriteCounter(v int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	w.pos = float64(v)
}

// Speed returns the current simulated speed in counts per second.
func (w *SimWheel) Speed() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance()
	return w.cps
}
