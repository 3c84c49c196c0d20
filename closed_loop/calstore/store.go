package calstore

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

type StatusBit uint16

const (
	StatusMotor   StatusBit = 0x0001
	StatusPID     StatusBit = 0x0002
	StatusLinear  StatusBit = 0x0004
	StatusAngular StatusBit = 0x0008
	StatusVerbose StatusBit = 0x0080

	erasedStatus = 0xFFFF
)

var statusNames = []struct {
	bit  StatusBit
	name string
}{
	{StatusMotor, "motor"},
	{StatusPID, "pid"},
	{StatusLinear, "linear"},
	{StatusAngular, "angular"},
	{StatusVerbose, "verbose"},
}

const (
	BiasMin     = 0.5
	BiasMax     = 1.5
	BiasDefault = 1.0
)

var ErrStoreTooSmall = errors.New("nv store smaller than calibration layout")

// GainsID selects one of the persisted PID gain sets.
type GainsID int

const (
	GainsLeft GainsID = iota
	GainsRight
	GainsLinear
	GainsAngular
)

func (id GainsID) String() string {
	switch id {
	case GainsLeft:
		return "left"
	case GainsRight:
		return "right"
	case GainsLinear:
		return "linear"
	case GainsAngular:
		return "angular"
	}
	return fmt.Sprintf("gains(%d)", int(id))
}

// WheelGains maps a wheel to its gain set.
func WheelGains(w Wheel) GainsID {
	if w == Right {
		return GainsRight
	}
	return GainsLeft
}

type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Store reads and writes the calibration image through an NVStore. Status
// and tables are cached; every write goes straight through.
type Store struct {
	mu     sync.Mutex
	nv     hal.NVStore
	log    *utils.Logger
	status uint16
	tables [2][2]*Table
	warned bool
}

func New(nv hal.NVStore, log *utils.Logger) (*Store, error) {
	if nv.Size() < LayoutSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrStoreTooSmall, nv.Size(), LayoutSize)
	}
	st, err := hal.ReadUint16(nv, offStatus)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if st == erasedStatus {
		st = 0
	}
	return &Store{nv: nv, log: log, status: st}, nil
}

func (s *Store) Status() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) IsSet(bit StatusBit) bool {
	return s.Status()&uint16(bit) != 0
}

// StatusNames lists the set bits by name.
func (s *Store) StatusNames() []string {
	st := s.Status()
	var out []string
	for _, n := range statusNames {
		if st&uint16(n.bit) != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (s *Store) writeStatus(st uint16) error {
	if err := hal.WriteUint16(s.nv, offStatus, st); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	s.status = st
	if st&uint16(StatusMotor) != 0 {
		s.warned = false
	}
	return nil
}

func (s *Store) SetStatusBit(bit StatusBit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeStatus(s.status | uint16(bit))
}

func (s *Store) ClearStatusBit(bit StatusBit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeStatus(s.status &^ uint16(bit))
}

// Clear drops the motor and PID calibration so both must be redone.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeStatus(s.status &^ uint16(StatusMotor|StatusPID))
}

func (s *Store) bias(bit StatusBit, offset int) float64 {
	if !s.IsSet(bit) {
		return BiasDefault
	}
	v, err := hal.ReadFloat(s.nv, offset)
	if err != nil {
		s.log.Error("read bias at %d: %v", offset, err)
		return BiasDefault
	}
	if math.IsNaN(float64(v)) {
		return BiasDefault
	}
	return utils.Constrain(float64(v), BiasMin, BiasMax)
}

// LinearBias returns the distance correction factor, 1.0 until calibrated.
func (s *Store) LinearBias() float64 { return s.bias(StatusLinear, offLinearBias) }

// AngularBias returns the heading correction factor, 1.0 until calibrated.
func (s *Store) AngularBias() float64 { return s.bias(StatusAngular, offAngularBias) }

func (s *Store) WriteLinearBias(v float64) error {
	return s.writeFloat(offLinearBias, v)
}

func (s *Store) WriteAngularBias(v float64) error {
	return s.writeFloat(offAngularBias, v)
}

func (s *Store) writeFloat(offset int, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := hal.WriteFloat(s.nv, offset, float32(v)); err != nil {
		return fmt.Errorf("write float at %d: %w", offset, err)
	}
	return s.updateChecksum()
}

// Gains returns the stored gain set and whether it holds usable values.
func (s *Store) Gains(id GainsID) (Gains, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.nv.ReadBytes(gainsOffset(id), gainsSize)
	if err != nil {
		s.log.Error("read %s gains: %v", id, err)
		return Gains{}, false
	}
	return decodeGains(b)
}

func (s *Store) WriteGains(id GainsID, g Gains) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := hal.WriteBytesExact(s.nv, encodeGains(g), gainsOffset(id)); err != nil {
		return fmt.Errorf("write %s gains: %w", id, err)
	}
	return s.updateChecksum()
}

func (s *Store) Table(w Wheel, d Direction) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table(w, d)
}

func (s *Store) table(w Wheel, d Direction) (*Table, error) {
	if t := s.tables[w][d]; t != nil {
		return t, nil
	}
	b, err := s.nv.ReadBytes(tableOffset(w, d), TableSize)
	if err != nil {
		return nil, fmt.Errorf("read %s %s table: %w", w, d, err)
	}
	t, err := decodeTable(b)
	if err != nil {
		return nil, fmt.Errorf("%s %s table: %w", w, d, err)
	}
	s.tables[w][d] = t
	return t, nil
}

func (s *Store) WriteTable(w Wheel, d Direction, t *Table) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s %s table: %w", w, d, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := hal.WriteBytesExact(s.nv, encodeTable(t), tableOffset(w, d)); err != nil {
		return fmt.Errorf("write %s %s table: %w", w, d, err)
	}
	cp := *t
	s.tables[w][d] = &cp
	return s.updateChecksum()
}

// CpsToPwm converts a signed wheel speed to a pulse width using the forward
// table for cps >= 0 and the backward table otherwise. Without motor
// calibration it returns PwmStop.
func (s *Store) CpsToPwm(w Wheel, cps float64) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status&uint16(StatusMotor) == 0 {
		if !s.warned {
			s.log.Warn("motor calibration status not set")
			s.warned = true
		}
		return PwmStop
	}
	d := Forward
	if cps < 0 {
		d = Backward
	}
	t, err := s.table(w, d)
	if err != nil {
		if !s.warned {
			s.log.Error("cps to pwm: %v", err)
			s.warned = true
		}
		return PwmStop
	}
	return t.CpsToPwm(cps)
}

// ProfileLimits returns the highest forward speed both wheels reach and the
// backward speed (negative) both wheels reach, unscaled.
func (s *Store) ProfileLimits() (fwdMax, bwdMax float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, err := s.table(Left, Forward)
	if err != nil {
		return 0, 0, err
	}
	rf, err := s.table(Right, Forward)
	if err != nil {
		return 0, 0, err
	}
	lb, err := s.table(Left, Backward)
	if err != nil {
		return 0, 0, err
	}
	rb, err := s.table(Right, Backward)
	if err != nil {
		return 0, 0, err
	}
	return math.Min(lf.MaxCps(), rf.MaxCps()), math.Max(lb.MinCps(), rb.MinCps()), nil
}

func (s *Store) updateChecksum() error {
	b, err := s.nv.ReadBytes(checksumStart, LayoutSize-checksumStart)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return hal.WriteUint16(s.nv, offChecksum, checksum(b))
}

// Checksum returns the stored and the recomputed image checksum.
func (s *Store) Checksum() (stored, computed uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err = hal.ReadUint16(s.nv, offChecksum)
	if err != nil {
		return 0, 0, err
	}
	b, err := s.nv.ReadBytes(checksumStart, LayoutSize-checksumStart)
	if err != nil {
		return 0, 0, err
	}
	return stored, checksum(b), nil
}

type TableSummary struct {
	Wheel     string  `json:"wheel"`
	Direction string  `json:"direction"`
	MinCps    float64 `json:"min_cps"`
	MaxCps    float64 `json:"max_cps"`
	Present   bool    `json:"present"`
}

type Snapshot struct {
	Status      uint16           `json:"status"`
	Flags       []string         `json:"flags"`
	LinearBias  float64          `json:"linear_bias"`
	AngularBias float64          `json:"angular_bias"`
	Gains       map[string]Gains `json:"gains"`
	Tables      []TableSummary   `json:"tables"`
	ChecksumOK  bool             `json:"checksum_ok"`
}

// Snapshot collects the whole calibration state for display and telemetry.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Status:      s.Status(),
		Flags:       s.StatusNames(),
		LinearBias:  s.LinearBias(),
		AngularBias: s.AngularBias(),
		Gains:       map[string]Gains{},
	}
	for _, id := range []GainsID{GainsLeft, GainsRight, GainsLinear, GainsAngular} {
		if g, ok := s.Gains(id); ok {
			snap.Gains[id.String()] = g
		}
	}
	for _, w := range []Wheel{Left, Right} {
		for _, d := range []Direction{Forward, Backward} {
			ts := TableSummary{Wheel: w.String(), Direction: d.String()}
			if t, err := s.Table(w, d); err == nil {
				ts.Present = true
				ts.MinCps = t.MinCps()
				ts.MaxCps = t.MaxCps()
			}
			snap.Tables = append(snap.Tables, ts)
		}
	}
	if stored, computed, err := s.Checksum(); err == nil {
		snap.ChecksumOK = stored == computed
	}
	return snap
}
