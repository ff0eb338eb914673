// Package i128 implements a fixed-width signed 128-bit integer for ledger
// amounts (position sizes, fixed-point prices, notionals). Every multiply and
// divide reports overflow explicitly instead of wrapping.
package i128

import (
	"errors"
	"math/bits"
	"strconv"
)

// ErrOverflow is returned when a result does not fit in 128 bits (or in
// 64 bits for Int64).
var ErrOverflow = errors.New("i128: overflow")

// I128 is a two's-complement signed 128-bit integer: value = Hi·2^64 + Lo.
type I128 struct {
	Hi int64
	Lo uint64
}

// Zero is the zero value.
var Zero = I128{}

// FromInt64 widens v to 128 bits.
func FromInt64(v int64) I128 {
	var hi int64
	if v < 0 {
		hi = -1
	}
	return I128{Hi: hi, Lo: uint64(v)}
}

// Sign returns -1, 0 or +1.
func (a I128) Sign() int {
	if a.Hi < 0 {
		return -1
	}
	if a.Hi == 0 && a.Lo == 0 {
		return 0
	}
	return 1
}

// IsZero reports whether a == 0.
func (a I128) IsZero() bool {
	return a.Hi == 0 && a.Lo == 0
}

// Neg returns -a. Negating the minimum value overflows.
func (a I128) Neg() (I128, error) {
	if a.Hi == -1<<63 && a.Lo == 0 {
		return Zero, ErrOverflow
	}
	lo, borrow := bits.Sub64(0, a.Lo, 0)
	hi, _ := bits.Sub64(0, uint64(a.Hi), borrow)
	return I128{Hi: int64(hi), Lo: lo}, nil
}

// Add returns a + b, checking for signed overflow.
func (a I128) Add(b I128) (I128, error) {
	lo, carry := bits.Add64(a.Lo, b.Lo, 0)
	hi, _ := bits.Add64(uint64(a.Hi), uint64(b.Hi), carry)
	sum := I128{Hi: int64(hi), Lo: lo}
	// Overflow iff operands share a sign the sum does not.
	if (a.Hi < 0) == (b.Hi < 0) && (sum.Hi < 0) != (a.Hi < 0) {
		return Zero, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b.
func (a I128) Sub(b I128) (I128, error) {
	nb, err := b.Neg()
	if err != nil {
		return Zero, err
	}
	return a.Add(nb)
}

// Cmp returns -1, 0 or +1 comparing a to b.
func (a I128) Cmp(b I128) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// abs returns the magnitude of a as an unsigned 128-bit pair.
func (a I128) abs() (hi, lo uint64) {
	if a.Hi >= 0 {
		return uint64(a.Hi), a.Lo
	}
	lo, borrow := bits.Sub64(0, a.Lo, 0)
	hi, _ = bits.Sub64(0, uint64(a.Hi), borrow)
	return hi, lo
}

// fromMagnitude builds an I128 from a magnitude and sign, checking range.
func fromMagnitude(hi, lo uint64, negative bool) (I128, error) {
	if negative {
		// Magnitude up to 2^127 is representable.
		if hi > 1<<63 || (hi == 1<<63 && lo > 0) {
			return Zero, ErrOverflow
		}
		nlo, borrow := bits.Sub64(0, lo, 0)
		nhi, _ := bits.Sub64(0, hi, borrow)
		return I128{Hi: int64(nhi), Lo: nlo}, nil
	}
	if hi >= 1<<63 {
		return Zero, ErrOverflow
	}
	return I128{Hi: int64(hi), Lo: lo}, nil
}

// Mul64 returns a × m, checking for overflow.
func (a I128) Mul64(m int64) (I128, error) {
	if m == 0 || a.IsZero() {
		return Zero, nil
	}
	negative := (a.Sign() < 0) != (m < 0)
	ahi, alo := a.abs()
	mu := uint64(m)
	if m < 0 {
		mu = uint64(-m)
	}
	carryHi, lo := bits.Mul64(alo, mu)
	overflowHi, hiPart := bits.Mul64(ahi, mu)
	if overflowHi != 0 {
		return Zero, ErrOverflow
	}
	hi, carry := bits.Add64(hiPart, carryHi, 0)
	if carry != 0 {
		return Zero, ErrOverflow
	}
	return fromMagnitude(hi, lo, negative)
}

// Div64 returns a / d truncated toward zero, checking d != 0.
func (a I128) Div64(d int64) (I128, error) {
	if d == 0 {
		return Zero, ErrOverflow
	}
	negative := (a.Sign() < 0) != (d < 0)
	ahi, alo := a.abs()
	du := uint64(d)
	if d < 0 {
		du = uint64(-d)
	}
	qhi := ahi / du
	rem := ahi % du
	qlo, _ := bits.Div64(rem, alo, du)
	return fromMagnitude(qhi, qlo, negative)
}

// Int64 narrows a to 64 bits, failing if the value does not fit.
func (a I128) Int64() (int64, error) {
	v := int64(a.Lo)
	var wantHi int64
	if v < 0 {
		wantHi = -1
	}
	if a.Hi != wantHi {
		return 0, ErrOverflow
	}
	return v, nil
}

// MulDiv64 computes v × m / d through a 128-bit intermediate, the usual
// fixed-point scaling step.
func MulDiv64(v, m, d int64) (int64, error) {
	p, err := FromInt64(v).Mul64(m)
	if err != nil {
		return 0, err
	}
	q, err := p.Div64(d)
	if err != nil {
		return 0, err
	}
	return q.Int64()
}

// String renders a in decimal.
func (a I128) String() string {
	if a.IsZero() {
		return "0"
	}
	negative := a.Sign() < 0
	hi, lo := a.abs()

	// Peel off 18-digit chunks by dividing the magnitude by 1e18.
	const chunk = 1_000_000_000_000_000_000
	var parts []uint64
	for hi != 0 || lo != 0 {
		qhi := hi / chunk
		rem := hi % chunk
		qlo, r := bits.Div64(rem, lo, chunk)
		parts = append(parts, r)
		hi, lo = qhi, qlo
	}

	out := strconv.FormatUint(parts[len(parts)-1], 10)
	for i := len(parts) - 2; i >= 0; i-- {
		s := strconv.FormatUint(parts[i], 10)
		out += "000000000000000000"[:18-len(s)] + s
	}
	if negative {
		out = "-" + out
	}
	return out
}
