package pigeon

import (
	"math"
	"math/bits"
)

const (
	FXP_10_22_SCALE = 1 << 22
	FXP_0_8_SCALE   = 1 << 8

	ANGLE_SCALAR = 360.0 / 8192.0
	QUAT_SCALAR  = 1.0 / 16384.0
	GYRO_SCALAR  = 2000.0 / 32768.0
	TILT_SCALAR  = 180.0 / 32768.0
	FIELD_SCALAR = 0.15
)

func ToFXP1022(value float64) int32 {
	return int32(value * FXP_10_22_SCALE)
}

func FromFXP1022(raw int32) float64 {
	return float64(raw) / FXP_10_22_SCALE
}

func ToFXP08(value float64) int32 {
	return int32(value * FXP_0_8_SCALE)
}

func FromFXP08(raw int32) float64 {
	return float64(raw) / FXP_0_8_SCALE
}

// PayloadBytes unpacks payload so that byte k is bits [8k, 8k+8).
func PayloadBytes(payload uint64) (b [8]byte) {
	for k := range b {
		b[k] = byte(payload >> (8 * uint(k)))
	}
	return
}

func BytesPayload(b [8]byte) (payload uint64) {
	for k := range b {
		payload |= uint64(b[k]) << (8 * uint(k))
	}
	return
}

// stream reads the payload bytes as one big-endian bit stream, byte 0 first.
func stream(payload uint64) uint64 {
	return bits.ReverseBytes64(payload)
}

// DecodeParams16 returns the four big-endian 16 bit words of a payload.
func DecodeParams16(payload uint64) (words [4]int16) {
	s := stream(payload)
	for i := range words {
		words[i] = int16(s >> (48 - 16*uint(i)))
	}
	return
}

func EncodeParams16(words [4]int16) uint64 {
	var s uint64
	for i, w := range words {
		s |= uint64(uint16(w)) << (48 - 16*uint(i))
	}
	return stream(s)
}

// DecodeParams20 returns the three sign extended 20 bit signals of a payload.
// The low nibble of byte 7 is not part of any signal.
func DecodeParams20(payload uint64) (sigs [3]int32) {
	s := stream(payload)
	for i := range sigs {
		raw := uint32(s>>(44-20*uint(i))) & 0xFFFFF
		sigs[i] = int32(raw<<12) >> 12
	}
	return
}

func EncodeParams20(sigs [3]int32, flags byte) uint64 {
	var s uint64
	for i, sig := range sigs {
		s |= uint64(uint32(sig)&0xFFFFF) << (44 - 20*uint(i))
	}
	s |= uint64(flags & 0x0F)
	return stream(s)
}

// ScaledParams16 decodes the first n words of a payload and multiplies them by scalar.
func ScaledParams16(payload uint64, n int, scalar float64) []float64 {
	words := DecodeParams16(payload)
	if n > len(words) {
		n = len(words)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = float64(words[i]) * scalar
	}
	return out
}

func ScaledParams20(payload uint64, scalar float64) (out [3]float64) {
	for i, sig := range DecodeParams20(payload) {
		out[i] = float64(sig) * scalar
	}
	return
}

// BoundAngle wraps value into [min, max).
func BoundAngle(value, min, max float64) float64 {
	span := max - min
	if span <= 0 {
		return value
	}

	wrapped := math.Mod(value-min, span)
	if wrapped < 0 {
		wrapped += span
	}
	if wrapped >= span {
		wrapped = 0
	}
	return wrapped + min
}
