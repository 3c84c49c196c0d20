package utils

import (
	"fmt"
	"math"

	"go.einride.tech/can"
)

// raw scales a physical value into the signal's integer field. NaN and
// missing values fall back to the default before clamping.
func (s SignalDef) raw(v float64, ok bool) uint64 {
	if !ok || math.IsNaN(v) {
		v = s.Default
	}
	v = clamp(v, s.Min, s.Max)
	r := int64(math.Round((v - s.Offset) / s.Factor))
	return uint64(clampRaw(r, s.BitLength, s.Signed))
}

func (s SignalDef) physical(payload uint64) float64 {
	r := signExtend(getBits(payload, s.StartBit, s.BitLength), s.BitLength, s.Signed)
	return float64(r)*s.Factor + s.Offset
}

func (m *CANMap) pack(frameName string, values map[string]float64) (*FrameDef, uint64, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return nil, 0, err
	}
	if fd.DLC <= 0 || fd.DLC > 8 {
		return nil, 0, fmt.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}
	var payload uint64
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		payload = setBits(payload, s.StartBit, s.BitLength, s.raw(v, ok))
	}
	return fd, payload, nil
}

// EncodeFrame packs physical signal values into a DLC-sized payload.
// Missing signals take their default; values are clamped to [min, max].
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) ([]byte, uint32, error) {
	fd, payload, err := m.pack(frameName, values)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, fd.DLC)
	for i := range out {
		out[i] = byte(payload >> (8 * i))
	}
	return out, fd.ID, nil
}

// EncodeEinrideFrame produces a validated can.Frame ready to transmit.
func (m *CANMap) EncodeEinrideFrame(frameName string, values map[string]float64) (can.Frame, error) {
	fd, payload, err := m.pack(frameName, values)
	if err != nil {
		return can.Frame{}, err
	}
	f := can.Frame{ID: fd.ID, Length: uint8(fd.DLC)}
	f.Data.UnpackLittleEndian(payload)
	if err := f.Validate(); err != nil {
		return can.Frame{}, fmt.Errorf("frame %s: %w", fd.Name, err)
	}
	return f, nil
}

// DecodeFrame unpacks a payload into physical signal values.
func (m *CANMap) DecodeFrame(frameID uint32, data []byte) (map[string]float64, error) {
	fd, err := m.FrameByID(frameID)
	if err != nil {
		return nil, err
	}
	if len(data) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", frameID, fd.DLC, len(data))
	}
	var payload uint64
	for i := 0; i < fd.DLC && i < 8; i++ {
		payload |= uint64(data[i]) << (8 * i)
	}
	return fd.unpack(payload), nil
}

// DecodeEinrideFrame decodes a received can.Frame. Remote and extended
// frames are not part of the map.
func (m *CANMap) DecodeEinrideFrame(f can.Frame) (map[string]float64, error) {
	if f.IsRemote || f.IsExtended {
		return nil, fmt.Errorf("frame 0x%X: remote or extended frames not supported", f.ID)
	}
	fd, err := m.FrameByID(f.ID)
	if err != nil {
		return nil, err
	}
	if int(f.Length) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", f.ID, fd.DLC, f.Length)
	}
	return fd.unpack(f.Data.PackLittleEndian()), nil
}

func (fd *FrameDef) unpack(payload uint64) map[string]float64 {
	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		out[s.Name] = s.physical(payload)
	}
	return out
}
