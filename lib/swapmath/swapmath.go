package swapmath

import (
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/fees"
	fm "github.com/btb-finance/clmm-core/lib/fullmath"
	sqrtmath "github.com/btb-finance/clmm-core/lib/sqrtprice_math"

	ui "github.com/holiman/uint256"
)

// ComputeSwapStep prices one exact-input step from sqrtRatioCurrentX64
// towards sqrtRatioTargetX64. amountIn excludes feeAmount; together they
// never exceed amountRemaining.
func ComputeSwapStep(sqrtRatioCurrentX64, sqrtRatioTargetX64, liquidity, amountRemaining *ui.Int, feeRate uint32) (sqrtRatioNextX64, amountIn, amountOut, feeAmount *ui.Int, err error) {
	zeroForOne := sqrtRatioCurrentX64.Cmp(sqrtRatioTargetX64) >= 0

	_, amountRemainingLessFee, err := fees.CalculateFeeAmount(amountRemaining, feeRate)
	if err != nil {
		return
	}
	if zeroForOne {
		amountIn, err = sqrtmath.GetAmount0Delta(sqrtRatioTargetX64, sqrtRatioCurrentX64, liquidity, true)
	} else {
		amountIn, err = sqrtmath.GetAmount1Delta(sqrtRatioCurrentX64, sqrtRatioTargetX64, liquidity, true)
	}
	if err != nil {
		return
	}
	if amountRemainingLessFee.Cmp(amountIn) >= 0 {
		sqrtRatioNextX64 = sqrtRatioTargetX64.Clone()
	} else {
		sqrtRatioNextX64, err = sqrtmath.GetNextSqrtPriceFromInput(sqrtRatioCurrentX64, liquidity, amountRemainingLessFee, zeroForOne)
		if err != nil {
			return
		}
	}

	max := sqrtRatioTargetX64.Eq(sqrtRatioNextX64)

	if zeroForOne {
		if !max {
			if amountIn, err = sqrtmath.GetAmount0Delta(sqrtRatioNextX64, sqrtRatioCurrentX64, liquidity, true); err != nil {
				return
			}
		}
		amountOut, err = sqrtmath.GetAmount1Delta(sqrtRatioNextX64, sqrtRatioCurrentX64, liquidity, false)
	} else {
		if !max {
			if amountIn, err = sqrtmath.GetAmount1Delta(sqrtRatioCurrentX64, sqrtRatioNextX64, liquidity, true); err != nil {
				return
			}
		}
		amountOut, err = sqrtmath.GetAmount0Delta(sqrtRatioCurrentX64, sqrtRatioNextX64, liquidity, false)
	}
	if err != nil {
		return
	}

	remainder := new(ui.Int).Sub(amountRemaining, amountIn)
	if !max {
		// we didn't reach the target, so take the remainder of the maximum input as fee
		feeAmount = remainder
		return
	}
	feeAmount, err = fm.MulDivRoundingUp(amountIn, ui.NewInt(uint64(feeRate)), ui.NewInt(uint64(cons.FeeDenominator-feeRate)))
	if err != nil {
		return
	}
	if feeAmount.Gt(remainder) {
		feeAmount = remainder
	}
	return
}
