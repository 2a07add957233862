package wire

import "math"

// CoordToFixed converts a coordinate to its 1/8-unit fixed-point form,
// rounding to nearest and clamping to the int16 range.
func CoordToFixed(v float32) int16 {
	f := math.Round(float64(v) * CoordScale)
	if f > math.MaxInt16 {
		return math.MaxInt16
	}
	if f < math.MinInt16 {
		return math.MinInt16
	}
	return int16(f)
}

// FixedToCoord is the inverse of CoordToFixed.
func FixedToCoord(v int16) float32 {
	return float32(v) / CoordScale
}

// QuantizeCoord snaps v to the nearest representable wire coordinate.
func QuantizeCoord(v float32) float32 {
	return FixedToCoord(CoordToFixed(v))
}

// AngleToShort maps degrees onto 65536 steps per turn. Any input angle,
// including negative ones, wraps into the unsigned range.
func AngleToShort(deg float32) uint16 {
	return uint16(int64(math.Round(float64(deg)*65536/360)) & 0xFFFF)
}

// ShortToAngle is the inverse of AngleToShort; results lie in [0, 360).
func ShortToAngle(v uint16) float32 {
	return float32(v) * (360.0 / 65536.0)
}

// QuantizeAngle16 snaps deg to the nearest 16-bit wire angle.
func QuantizeAngle16(deg float32) float32 {
	return ShortToAngle(AngleToShort(deg))
}
