// Package hal holds the hardware-facing contracts the drive core consumes and
// the implementations used on the host: wall and manual clocks, byte-addressed
// non-volatile stores, a simulated wheel plant and periph.io GPIO drivers.
package hal

// Clock is a millisecond counter that wraps silently at 2^32.
type Clock interface {
	Millis() uint32
	Sleep(ms uint32)
}

// EncoderCounter exposes a signed, direction-aware tick count. Implementations
// backed by interrupts or goroutines must return a consistent snapshot.
type EncoderCounter interface {
	ReadCounter() int32
	WriteCounter(v int32)
}

// MotorDriver accepts pulse widths in [1000, 2000] us, 1500 being stop.
type MotorDriver interface {
	SetPwm(pwm uint16)
	GetPwm() uint16
}

// NVStore is a flat, offset-addressed byte range with no transactional
// guarantees.
type NVStore interface {
	ReadBytes(offset, n int) ([]byte, error)
	WriteBytes(b []byte, offset int) (int, error)
	Size() int
}
