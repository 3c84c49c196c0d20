package utils

import (
	"context"
	"errors"
	"sort"

	"go.einride.tech/can"
)

var (
	ErrReaderClosed = errors.New("can reader closed")
	ErrWriterClosed = errors.New("can writer closed")
)

// CANReader yields received frames until the context ends or the bus closes.
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// SignalDef describes one scaled signal packed little-endian into a frame.
type SignalDef struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
	Default   float64
	Unit      string
}

// FrameDef is one CAN frame of the robot telemetry/command map.
// Direction is "tx" for frames the robot sends and "rx" for frames it consumes.
type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal returns the named signal definition.
func (f *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range f.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FramesByDirection returns the frames with the given direction sorted by ID.
func (m *CANMap) FramesByDirection(dir string) []*FrameDef {
	var out []*FrameDef
	for _, fd := range m.ByID {
		if fd.Direction == dir {
			out = append(out, fd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
