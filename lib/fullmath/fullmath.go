package fullmath

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"

	ui "github.com/holiman/uint256"
)

// MulDiv computes floor(a*b/denominator) with a 512-bit intermediate.
func MulDiv(a, b, denominator *ui.Int) (*ui.Int, error) {
	if denominator.IsZero() {
		return nil, clmmerr.ErrDivideByZero
	}
	result, overflow := new(ui.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, fmt.Errorf("%w: mulDiv", clmmerr.ErrMathOverflow)
	}
	return result, nil
}

func MulDivRoundingUp(a, b, denominator *ui.Int) (*ui.Int, error) {
	result, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	rem := new(ui.Int).MulMod(a, b, denominator)
	if !rem.IsZero() {
		if result.Eq(maxUint256) {
			return nil, fmt.Errorf("%w: mulDivRoundingUp", clmmerr.ErrMathOverflow)
		}
		result.Add(result, cons.One)
	}
	return result, nil
}

var maxUint256 = new(ui.Int).SetAllOne()

// Fits128 reports whether x fits in an unsigned 128-bit value.
func Fits128(x *ui.Int) bool {
	return x.BitLen() <= 128
}

func CheckedAdd128(a, b *ui.Int) (*ui.Int, error) {
	z := new(ui.Int).Add(a, b)
	if !Fits128(z) {
		return nil, fmt.Errorf("%w: add", clmmerr.ErrMathOverflow)
	}
	return z, nil
}

func CheckedSub128(a, b *ui.Int) (*ui.Int, error) {
	if a.Lt(b) {
		return nil, fmt.Errorf("%w: sub", clmmerr.ErrMathOverflow)
	}
	return new(ui.Int).Sub(a, b), nil
}

func CheckedMul128(a, b *ui.Int) (*ui.Int, error) {
	z, overflow := new(ui.Int).MulOverflow(a, b)
	if overflow || !Fits128(z) {
		return nil, fmt.Errorf("%w: mul", clmmerr.ErrMathOverflow)
	}
	return z, nil
}

// WrappingAdd128 and WrappingSub128 are modulo 2^128. Only fee growth
// accumulators go through them.
func WrappingAdd128(a, b *ui.Int) *ui.Int {
	z := new(ui.Int).Add(a, b)
	return z.And(z, cons.MaxUint128)
}

func WrappingSub128(a, b *ui.Int) *ui.Int {
	z := new(ui.Int).Sub(a, b)
	return z.And(z, cons.MaxUint128)
}

// AddDelta128 applies a signed (two's complement) delta to an unsigned
// 128-bit quantity.
func AddDelta128(x, delta *ui.Int) (*ui.Int, error) {
	if delta.Sign() < 0 {
		abs := new(ui.Int).Neg(delta)
		if x.Lt(abs) {
			return nil, fmt.Errorf("%w: liquidity below zero", clmmerr.ErrMathOverflow)
		}
		return new(ui.Int).Sub(x, abs), nil
	}
	return CheckedAdd128(x, delta)
}

// SubDelta128 is AddDelta128 with the delta negated.
func SubDelta128(x, delta *ui.Int) (*ui.Int, error) {
	return AddDelta128(x, new(ui.Int).Neg(delta))
}

// FitsInt128 reports whether a two's complement value lies in the signed
// 128-bit range.
func FitsInt128(x *ui.Int) bool {
	if x.Sign() < 0 {
		abs := new(ui.Int).Neg(x)
		return abs.BitLen() <= 127 || abs.Eq(minInt128Abs)
	}
	return x.BitLen() <= 127
}

var minInt128Abs = new(ui.Int).Lsh(cons.One, 127)

// ToUint64 narrows x, failing when it does not fit.
func ToUint64(x *ui.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, fmt.Errorf("%w: %s exceeds u64", clmmerr.ErrMathOverflow, x.Dec())
	}
	return x.Uint64(), nil
}
