package sqrtprice_math

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	fm "github.com/btb-finance/clmm-core/lib/fullmath"

	ui "github.com/holiman/uint256"
)

// GetAmount0Delta returns L * (sqrtB - sqrtA) / (sqrtA * sqrtB), in token0 units.
func GetAmount0Delta(sqrtRatioAX64, sqrtRatioBX64, liquidity *ui.Int, roundUp bool) (*ui.Int, error) {
	if sqrtRatioAX64.Gt(sqrtRatioBX64) {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}
	if sqrtRatioAX64.IsZero() {
		return nil, fmt.Errorf("%w: sqrt price is zero", clmmerr.ErrDivideByZero)
	}

	numerator1 := new(ui.Int).Lsh(liquidity, 64)
	numerator2 := new(ui.Int).Sub(sqrtRatioBX64, sqrtRatioAX64)

	if roundUp {
		inner, err := fm.MulDivRoundingUp(numerator1, numerator2, sqrtRatioBX64)
		if err != nil {
			return nil, err
		}
		return fm.MulDivRoundingUp(inner, cons.One, sqrtRatioAX64)
	}

	res, err := fm.MulDiv(numerator1, numerator2, sqrtRatioBX64)
	if err != nil {
		return nil, err
	}
	return res.Div(res, sqrtRatioAX64), nil
}

// GetAmount1Delta returns L * (sqrtB - sqrtA), in token1 units.
func GetAmount1Delta(sqrtRatioAX64, sqrtRatioBX64, liquidity *ui.Int, roundUp bool) (*ui.Int, error) {
	if sqrtRatioAX64.Gt(sqrtRatioBX64) {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}
	diff := new(ui.Int).Sub(sqrtRatioBX64, sqrtRatioAX64)
	if roundUp {
		return fm.MulDivRoundingUp(liquidity, diff, cons.Q64)
	}
	return fm.MulDiv(liquidity, diff, cons.Q64)
}

func GetNextSqrtPriceFromInput(sqrtPX64, liquidity, amountIn *ui.Int, zeroForOne bool) (*ui.Int, error) {
	if liquidity.IsZero() {
		return nil, clmmerr.ErrZeroLiquidity
	}
	if zeroForOne {
		return getNextSqrtPriceFromAmount0RoundingUp(sqrtPX64, liquidity, amountIn, true)
	}
	return getNextSqrtPriceFromAmount1RoundingDown(sqrtPX64, liquidity, amountIn, true)
}

func GetNextSqrtPriceFromOutput(sqrtPX64, liquidity, amountOut *ui.Int, zeroForOne bool) (*ui.Int, error) {
	if liquidity.IsZero() {
		return nil, clmmerr.ErrZeroLiquidity
	}
	if zeroForOne {
		return getNextSqrtPriceFromAmount1RoundingDown(sqrtPX64, liquidity, amountOut, false)
	}
	return getNextSqrtPriceFromAmount0RoundingUp(sqrtPX64, liquidity, amountOut, false)
}

func getNextSqrtPriceFromAmount0RoundingUp(sqrtPX64, liquidity, amount *ui.Int, add bool) (*ui.Int, error) {
	if amount.IsZero() {
		return sqrtPX64.Clone(), nil
	}

	numerator1 := new(ui.Int).Lsh(liquidity, 64)
	product, overflow := new(ui.Int).MulOverflow(amount, sqrtPX64)
	if add {
		if !overflow {
			denominator, overflow := new(ui.Int).AddOverflow(numerator1, product)
			if !overflow {
				return fm.MulDivRoundingUp(numerator1, sqrtPX64, denominator)
			}
		}
		// numerator1 / (numerator1/sqrtP + amount)
		denominator := new(ui.Int).Div(numerator1, sqrtPX64)
		denominator.Add(denominator, amount)
		return fm.MulDivRoundingUp(numerator1, cons.One, denominator)
	}
	if overflow || !numerator1.Gt(product) {
		return nil, fmt.Errorf("%w: output exceeds token0 reserve", clmmerr.ErrInsufficientLiquidity)
	}
	denominator := new(ui.Int).Sub(numerator1, product)
	return fm.MulDivRoundingUp(numerator1, sqrtPX64, denominator)
}

func getNextSqrtPriceFromAmount1RoundingDown(sqrtPX64, liquidity, amount *ui.Int, add bool) (*ui.Int, error) {
	if add {
		quotient, err := fm.MulDiv(amount, cons.Q64, liquidity)
		if err != nil {
			return nil, err
		}
		return fm.CheckedAdd128(sqrtPX64, quotient)
	}

	quotient, err := fm.MulDivRoundingUp(amount, cons.Q64, liquidity)
	if err != nil {
		return nil, err
	}
	if !sqrtPX64.Gt(quotient) {
		return nil, fmt.Errorf("%w: output exceeds token1 reserve", clmmerr.ErrInsufficientLiquidity)
	}
	return new(ui.Int).Sub(sqrtPX64, quotient), nil
}
