package frame

import "math"

// Fixed88 is an 8.8 fixed-point value: high byte integer part, low byte
// fraction in 1/256 steps.
type Fixed88 uint16

// InvalidFixed is returned by Fixed16At when the offset is out of range.
const InvalidFixed Fixed88 = 0xFFFF

// NewFixed88 packs an integer and fractional byte.
func NewFixed88(intPart, fracPart uint8) Fixed88 {
	return Fixed88(uint16(intPart)<<8 | uint16(fracPart))
}

// Fixed88FromFloat rounds v to the nearest representable 8.8 value, clamping
// to [0, 255 + 255/256].
func Fixed88FromFloat(v float64) Fixed88 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	scaled := math.Round(v * 256)
	if scaled > 0xFFFF {
		scaled = 0xFFFF
	}
	return Fixed88(scaled)
}

func (f Fixed88) Int() uint8  { return uint8(f >> 8) }
func (f Fixed88) Frac() uint8 { return uint8(f) }

// Float converts to a real number: integer byte + fraction byte / 256.
func (f Fixed88) Float() float64 {
	return float64(f.Int()) + float64(f.Frac())/256.0
}

// Fixed16At reads a big-endian 8.8 value at b[off:off+2]. It returns
// InvalidFixed when off+1 is not a valid index.
func Fixed16At(b []byte, off int) Fixed88 {
	if off < 0 || off+1 >= len(b) {
		return InvalidFixed
	}
	return Fixed88(uint16(b[off])<<8 | uint16(b[off+1]))
}

// Fixed24At reads the three-byte speed format: bytes off..off+1 are the
// big-endian integer part, byte off+2 the fraction in 1/256 steps.
// ok is false when the three bytes are not all in range.
func Fixed24At(b []byte, off int) (v float64, ok bool) {
	if off < 0 || off+2 >= len(b) {
		return 0, false
	}
	whole := uint32(b[off])<<8 | uint32(b[off+1])
	return float64(whole) + float64(b[off+2])/256.0, true
}

// PutFixed24 encodes v in the three-byte speed format.
func PutFixed24(dst []byte, v float64) {
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	scaled := uint32(math.Round(v * 256))
	if scaled > 0xFFFFFF {
		scaled = 0xFFFFFF
	}
	dst[0] = byte(scaled >> 16)
	dst[1] = byte(scaled >> 8)
	dst[2] = byte(scaled)
}

// Uint24At reads a three-byte big-endian unsigned integer.
func Uint24At(b []byte, off int) (v uint32, ok bool) {
	if off < 0 || off+2 >= len(b) {
		return 0, false
	}
	return uint32(b[off])<<16 | uint32(b[off+1])<<8 | uint32(b[off+2]), true
}

// PutUint24 writes the low 24 bits of v big-endian into dst[0:3].
func PutUint24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}
