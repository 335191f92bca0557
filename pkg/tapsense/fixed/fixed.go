// Package fixed implements the signed Q2.29 fixed-point format used by the
// tap detector: 2 integer bits, 29 fractional bits, stored in an int32.
// Representable range is [-4.0, 4.0 - 2^-29].
package fixed

import "math"

type Q int32

const (
	FracBits = 29
	One      Q = 1 << FracBits

	MaxQ Q = math.MaxInt32
	MinQ Q = math.MinInt32

	// pcm16Shift aligns a 16-bit PCM sample (sign bit at 15) to the Q2.29
	// fractional point, so full-scale PCM maps to ±1.0.
	pcm16Shift = FracBits - 15

	maxFloat = 3.999999
	minFloat = -4.0
)

// FromFloat converts f to Q2.29, clamping to [-4.0, 3.999999] and rounding
// to the nearest representable value.
func FromFloat(f float64) Q {
	if math.IsNaN(f) {
		return 0
	}
	if f > maxFloat {
		f = maxFloat
	} else if f < minFloat {
		f = minFloat
	}
	return Q(math.Round(f * float64(One)))
}

// FromFullScale converts a fraction of the 32-bit word's full scale (2^31)
// into a Q value, truncating toward zero. Detection thresholds are expressed
// this way: 0.0075 yields 16106127.
func FromFullScale(f float64) Q {
	v := f * (1 << 31)
	if v >= math.MaxInt32 {
		return MaxQ
	}
	if v <= math.MinInt32 {
		return MinQ
	}
	return Q(int32(v))
}

func (q Q) Float() float64 {
	return float64(q) / float64(One)
}

// Mul returns (a*b) >> 29 computed in 64 bits. The shift is arithmetic, so
// fractional results truncate toward negative infinity. Products that do not
// fit in 32 bits saturate.
func Mul(a, b Q) Q {
	return saturate(int64(a) * int64(b) >> FracBits)
}

// Add returns a+b, saturating at the int32 limits instead of wrapping.
func Add(a, b Q) Q {
	return saturate(int64(a) + int64(b))
}

// Sub returns a-b, saturating at the int32 limits instead of wrapping.
func Sub(a, b Q) Q {
	return saturate(int64(a) - int64(b))
}

// Abs returns |a|. The absolute value of MinQ saturates to MaxQ.
func Abs(a Q) Q {
	if a >= 0 {
		return a
	}
	if a == MinQ {
		return MaxQ
	}
	return -a
}

func Clip(v, lo, hi Q) Q {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Max(a, b Q) Q {
	if a > b {
		return a
	}
	return b
}

// FromPCM16 converts a 16-bit PCM sample to Q2.29.
func FromPCM16(s int16) Q {
	return Q(int32(s) << pcm16Shift)
}

// FromPCM converts an integer PCM sample of the given bit depth to Q2.29
// with the same alignment as FromPCM16.
func FromPCM(s int, bitDepth int) Q {
	shift := FracBits - (bitDepth - 1)
	if shift >= 0 {
		return saturate(int64(s) << shift)
	}
	return saturate(int64(s) >> -shift)
}

// PCM16 converts q back to a 16-bit PCM sample, clipping values outside
// [-1.0, 1.0).
func (q Q) PCM16() int16 {
	v := int32(q) >> pcm16Shift
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func saturate(v int64) Q {
	if v > math.MaxInt32 {
		return MaxQ
	}
	if v < math.MinInt32 {
		return MinQ
	}
	return Q(v)
}
