package utils

import (
	"encoding/binary"
	"math"
)

// Little-endian scalar codecs for the flat NV byte layout.

func PutUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func Uint16(b []byte) uint16       { return binary.LittleEndian.Uint16(b) }

func PutInt32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func Int32(b []byte) int32       { return int32(binary.LittleEndian.Uint32(b)) }

func PutFloat32(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) }
func Float32(b []byte) float32       { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
