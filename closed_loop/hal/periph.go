package hal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	servoFrequency = 50 * physic.Hertz
	servoPeriodUs  = 20000
	edgeTimeout    = 100 * time.Millisecond
)

var initOnce struct {
	sync.Once
	err error
}

// InitHost loads the periph.io host drivers once per process.
func InitHost() error {
	initOnce.Do(func() {
		_, initOnce.err = host.Init()
	})
	if initOnce.err != nil {
		return fmt.Errorf("periph host init: %w", initOnce.err)
	}
	return nil
}

func lookupPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}

// PeriphMotor drives an RC-style motor controller with a 50 Hz pulse.
type PeriphMotor struct {
	mu  sync.Mutex
	pin gpio.PinIO
	pwm uint16
	err error
}

func NewPeriphMotor(pinName string) (*PeriphMotor, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	pin, err := lookupPin(pinName)
	if err != nil {
		return nil, err
	}
	m := &PeriphMotor{pin: pin}
	m.SetPwm(pwmStop)
	if m.err != nil {
		return nil, m.err
	}
	return m, nil
}

func pulseDuty(pulseUs uint16) gpio.Duty {
	return gpio.Duty(int64(pulseUs) * int64(gpio.DutyMax) / servoPeriodUs)
}

func (m *PeriphMotor) SetPwm(pwm uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pwm = pwm
	if err := m.pin.PWM(pulseDuty(pwm), servoFrequency); err != nil {
		m.err = fmt.Errorf("pwm %s: %w", m.pin.Name(), err)
	}
}

func (m *PeriphMotor) GetPwm() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pwm
}

// Err returns the last pin error, if any.
func (m *PeriphMotor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// quadrature transition table indexed by prev<<2 | cur, where state = a<<1 | b.
var quadTable = [16]int32{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// PeriphEncoder decodes an A/B quadrature encoder at x4 resolution from two
// GPIO edge streams. The count is an atomic so reads never tear.
type PeriphEncoder struct {
	a, b    gpio.PinIO
	count   atomic.Int32
	mu      sync.Mutex
	state   uint8
	invert  bool
	cancel  context.CancelFunc
	stopped sync.WaitGroup
}

func NewPeriphEncoder(ctx context.Context, pinA, pinB string, invert bool) (*PeriphEncoder, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	a, err := lookupPin(pinA)
	if err != nil {
		return nil, err
	}
	b, err := lookupPin(pinB)
	if err != nil {
		return nil, err
	}
	for _, p := range []gpio.PinIO{a, b} {
		if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return nil, fmt.Errorf("configure %s: %w", p.Name(), err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &PeriphEncoder{a: a, b: b, invert: invert, cancel: cancel}
	e.state = e.levels()
	e.stopped.Add(2)
	go e.watch(ctx, a)
	go e.watch(ctx, b)
	return e, nil
}

func (e *PeriphEncoder) levels() uint8 {
	var s uint8
	if e.a.Read() == gpio.High {
		s |= 2
	}
	if e.b.Read() == gpio.High {
		s |= 1
	}
	return s
}

func (e *PeriphEncoder) watch(ctx context.Context, p gpio.PinIO) {
	defer e.stopped.Done()
	for ctx.Err() == nil {
		if !p.WaitForEdge(edgeTimeout) {
			continue
		}
		e.mu.Lock()
		cur := e.levels()
		step := quadTable[e.state<<2|cur]
		e.state = cur
		e.mu.Unlock()
		if e.invert {
			step = -step
		}
		if step != 0 {
			e.count.Add(step)
		}
	}
}

func (e *PeriphEncoder) ReadCounter() int32   { return e.count.Load() }
func (e *PeriphEncoder) WriteCounter(v int32) { e.count.Store(v) }

// Close stops the edge watchers and releases the pins.
func (e *PeriphEncoder) Close() error {
	e.cancel()
	e.stopped.Wait()
	if err := e.a.Halt(); err != nil {
		return err
	}
	return e.b.Halt()
}
