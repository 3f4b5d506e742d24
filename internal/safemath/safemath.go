package safemath

import (
	"errors"
	"math/bits"
)

var ErrOverflow = errors.New("number overflow")

func Add64(a, b uint64) (uint64, bool) {
	v, carry := bits.Add64(a, b, 0)
	return v, carry == 0
}

func Sub64(a, b uint64) (uint64, bool) {
	v, borrow := bits.Sub64(a, b, 0)
	return v, borrow == 0
}

// SaturatingSub64 returns a-b, or 0 when b > a.
func SaturatingSub64(a, b uint64) uint64 {
	if v, ok := Sub64(a, b); ok {
		return v
	}
	return 0
}

// Sum64 adds all values, failing with ErrOverflow if the total exceeds 2^64-1.
func Sum64(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		var ok bool
		if total, ok = Add64(total, v); !ok {
			return 0, ErrOverflow
		}
	}
	return total, nil
}

// Mul64 multiplies a and b, reporting false on overflow.
func Mul64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}
