package calstore

import (
	"math"

	"diffdrive-core/utils"
)

// Byte offsets of the calibration image. They are part of the persisted
// format and must not move.
const (
	offStatus      = 0
	offChecksum    = 2
	offGains       = 4
	gainsSize      = 12
	offLinearBias  = 52
	offAngularBias = 56
	offTables      = 60
	TableSize      = 12 + NumSamples*4 + NumSamples*2
	LayoutSize     = offTables + 4*TableSize

	checksumStart = offGains
)

func tableOffset(w Wheel, d Direction) int {
	return offTables + (int(w)*2+int(d))*TableSize
}

func gainsOffset(id GainsID) int {
	return offGains + int(id)*gainsSize
}

func encodeTable(t *Table) []byte {
	b := make([]byte, TableSize)
	utils.PutInt32(b[0:], t.CpsMin)
	utils.PutInt32(b[4:], t.CpsMax)
	utils.PutInt32(b[8:], t.CpsScale)
	off := 12
	for _, c := range t.Cps {
		utils.PutInt32(b[off:], c)
		off += 4
	}
	for _, p := range t.Pwm {
		utils.PutUint16(b[off:], p)
		off += 2
	}
	return b
}

func decodeTable(b []byte) (*Table, error) {
	t := &Table{
		CpsMin:   utils.Int32(b[0:]),
		CpsMax:   utils.Int32(b[4:]),
		CpsScale: utils.Int32(b[8:]),
	}
	off := 12
	for i := range t.Cps {
		t.Cps[i] = utils.Int32(b[off:])
		off += 4
	}
	for i := range t.Pwm {
		t.Pwm[i] = utils.Uint16(b[off:])
		off += 2
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func encodeGains(g Gains) []byte {
	b := make([]byte, gainsSize)
	utils.PutFloat32(b[0:], float32(g.Kp))
	utils.PutFloat32(b[4:], float32(g.Ki))
	utils.PutFloat32(b[8:], float32(g.Kd))
	return b
}

// decodeGains reports false for erased or otherwise unusable gains.
func decodeGains(b []byte) (Gains, bool) {
	g := Gains{
		Kp: float64(utils.Float32(b[0:])),
		Ki: float64(utils.Float32(b[4:])),
		Kd: float64(utils.Float32(b[8:])),
	}
	for _, v := range []float64{g.Kp, g.Ki, g.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Gains{}, false
		}
	}
	return g, true
}

func checksum(image []byte) uint16 {
	var sum uint16
	for _, b := range image {
		sum += uint16(b)
	}
	return sum
}
