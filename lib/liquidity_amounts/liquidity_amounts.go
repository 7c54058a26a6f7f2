package liquidity_amounts

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/fullmath"
	sqrtmath "github.com/btb-finance/clmm-core/lib/sqrtprice_math"

	ui "github.com/holiman/uint256"
)

func sortedRange(sqrtRatioAX64, sqrtRatioBX64 *ui.Int) (*ui.Int, *ui.Int, *ui.Int, error) {
	if sqrtRatioAX64.Gt(sqrtRatioBX64) {
		sqrtRatioAX64, sqrtRatioBX64 = sqrtRatioBX64, sqrtRatioAX64
	}
	diff := new(ui.Int).Sub(sqrtRatioBX64, sqrtRatioAX64)
	if diff.IsZero() {
		return nil, nil, nil, fmt.Errorf("%w: empty price range", clmmerr.ErrDivideByZero)
	}
	return sqrtRatioAX64, sqrtRatioBX64, diff, nil
}

// GetLiquidityForAmount0 returns (amount0 << 64) / (sqrtB - sqrtA).
func GetLiquidityForAmount0(sqrtRatioAX64, sqrtRatioBX64, amount0 *ui.Int) (*ui.Int, error) {
	_, _, diff, err := sortedRange(sqrtRatioAX64, sqrtRatioBX64)
	if err != nil {
		return nil, err
	}
	return fullmath.MulDiv(amount0, cons.Q64, diff)
}

// GetLiquidityForAmount1 returns (amount1 * sqrtA * sqrtB / (sqrtB - sqrtA)) >> 64.
func GetLiquidityForAmount1(sqrtRatioAX64, sqrtRatioBX64, amount1 *ui.Int) (*ui.Int, error) {
	sqrtA, sqrtB, diff, err := sortedRange(sqrtRatioAX64, sqrtRatioBX64)
	if err != nil {
		return nil, err
	}
	scaled, overflow := new(ui.Int).MulOverflow(amount1, sqrtA)
	if overflow {
		return nil, fmt.Errorf("%w: amount1 * sqrtA", clmmerr.ErrMathOverflow)
	}
	liquidity, err := fullmath.MulDiv(scaled, sqrtB, diff)
	if err != nil {
		return nil, err
	}
	return liquidity.Rsh(liquidity, 64), nil
}

// GetLiquidityForAmounts returns the binding constraint min(L0, L1) of the
// two supplied amounts over [sqrtA, sqrtB].
func GetLiquidityForAmounts(sqrtRatioAX64, sqrtRatioBX64, amount0, amount1 *ui.Int) (*ui.Int, error) {
	liquidity0, err := GetLiquidityForAmount0(sqrtRatioAX64, sqrtRatioBX64, amount0)
	if err != nil {
		return nil, err
	}
	liquidity1, err := GetLiquidityForAmount1(sqrtRatioAX64, sqrtRatioBX64, amount1)
	if err != nil {
		return nil, err
	}
	liquidity := liquidity0
	if liquidity1.Lt(liquidity0) {
		liquidity = liquidity1
	}
	if !fullmath.Fits128(liquidity) {
		return nil, fmt.Errorf("%w: liquidity exceeds u128", clmmerr.ErrMathOverflow)
	}
	return liquidity, nil
}

// GetAmountsForLiquidity returns the token amounts liquidity is worth over
// [sqrtA, sqrtB] at sqrtRatioX64. Withdrawals round down and deposits round
// up.
func GetAmountsForLiquidity(sqrtRatioX64, sqrtRatioAX64, sqrtRatioBX64, liquidity *ui.Int, roundUp bool) (amount0, amount1 *ui.Int, err error) {
	sqrtA, sqrtB, _, err := sortedRange(sqrtRatioAX64, sqrtRatioBX64)
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1 = ui.NewInt(0), ui.NewInt(0)
	switch {
	case !sqrtRatioX64.Gt(sqrtA):
		amount0, err = sqrtmath.GetAmount0Delta(sqrtA, sqrtB, liquidity, roundUp)
	case sqrtRatioX64.Lt(sqrtB):
		if amount0, err = sqrtmath.GetAmount0Delta(sqrtRatioX64, sqrtB, liquidity, roundUp); err != nil {
			return nil, nil, err
		}
		amount1, err = sqrtmath.GetAmount1Delta(sqrtA, sqrtRatioX64, liquidity, roundUp)
	default:
		amount1, err = sqrtmath.GetAmount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
