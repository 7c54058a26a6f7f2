// Package fees holds the stateless fee arithmetic of the pool: trade fees,
// the protocol share, fee growth per unit of liquidity and the fee growth
// inside a tick range.
package fees

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	fm "github.com/btb-finance/clmm-core/lib/fullmath"

	ui "github.com/holiman/uint256"
)

func ValidateFeeRate(feeRate uint32) error {
	if feeRate > cons.MaxFeeRate {
		return fmt.Errorf("%w: %d exceeds %d", clmmerr.ErrInvalidFeeRate, feeRate, cons.MaxFeeRate)
	}
	return nil
}

func ValidateProtocolFeeRate(protocolFeeRate uint8) error {
	if protocolFeeRate < cons.MinProtocolFeeRate || protocolFeeRate > cons.MaxProtocolFeeRate {
		return fmt.Errorf("%w: %d outside [%d, %d]", clmmerr.ErrInvalidProtocolFeeRate,
			protocolFeeRate, cons.MinProtocolFeeRate, cons.MaxProtocolFeeRate)
	}
	return nil
}

// CalculateFeeAmount splits amountIn into floor(amountIn*feeRate/1e6) and
// the remainder. Trades below the rounding threshold pay no fee.
func CalculateFeeAmount(amountIn *ui.Int, feeRate uint32) (fee, amountAfterFee *ui.Int, err error) {
	if feeRate > cons.FeeDenominator {
		return nil, nil, fmt.Errorf("%w: %d exceeds %d", clmmerr.ErrInvalidFeeRate, feeRate, cons.FeeDenominator)
	}
	fee, err = fm.MulDiv(amountIn, ui.NewInt(uint64(feeRate)), cons.FeeDenominatorInt)
	if err != nil {
		return nil, nil, err
	}
	return fee, new(ui.Int).Sub(amountIn, fee), nil
}

// CalculateProtocolFee returns floor(fee*protocolFeeRate/100).
func CalculateProtocolFee(fee *ui.Int, protocolFeeRate uint8) (*ui.Int, error) {
	if err := ValidateProtocolFeeRate(protocolFeeRate); err != nil {
		return nil, err
	}
	return fm.MulDiv(fee, ui.NewInt(uint64(protocolFeeRate)), cons.ProtocolFeeDenominatorInt)
}

// FeeGrowthDelta returns floor((fee << 64) / liquidity).
func FeeGrowthDelta(fee, liquidity *ui.Int) (*ui.Int, error) {
	if liquidity.IsZero() {
		return nil, fmt.Errorf("%w: cannot assess fee %s", clmmerr.ErrZeroLiquidity, fee.Dec())
	}
	delta, err := fm.MulDiv(fee, cons.Q64, liquidity)
	if err != nil {
		return nil, err
	}
	if !fm.Fits128(delta) {
		return nil, fmt.Errorf("%w: fee growth delta", clmmerr.ErrMathOverflow)
	}
	return delta, nil
}

// Boundary is the part of a tick the inside computation reads.
type Boundary struct {
	Index    int32
	Outside0 *ui.Int
	Outside1 *ui.Int
}

// ComputeFeeGrowthInside returns global - below - above for both tokens,
// modulo 2^128.
func ComputeFeeGrowthInside(tickCurrent int32, global0, global1 *ui.Int, lower, upper Boundary) (inside0, inside1 *ui.Int) {
	var below0, below1 *ui.Int
	if tickCurrent >= lower.Index {
		below0, below1 = lower.Outside0, lower.Outside1
	} else {
		below0 = fm.WrappingSub128(global0, lower.Outside0)
		below1 = fm.WrappingSub128(global1, lower.Outside1)
	}

	var above0, above1 *ui.Int
	if tickCurrent < upper.Index {
		above0, above1 = upper.Outside0, upper.Outside1
	} else {
		above0 = fm.WrappingSub128(global0, upper.Outside0)
		above1 = fm.WrappingSub128(global1, upper.Outside1)
	}

	inside0 = fm.WrappingSub128(fm.WrappingSub128(global0, below0), above0)
	inside1 = fm.WrappingSub128(fm.WrappingSub128(global1, below1), above1)
	return inside0, inside1
}

// ComputeUncollectedFees returns (insideNow - insideLast) * liquidity / 2^64.
// The growth difference wraps; the scaling does not.
func ComputeUncollectedFees(liquidity, insideNow, insideLast *ui.Int) (*ui.Int, error) {
	delta := fm.WrappingSub128(insideNow, insideLast)
	owed, err := fm.MulDiv(delta, liquidity, cons.Q64)
	if err != nil {
		return nil, err
	}
	if !fm.Fits128(owed) {
		return nil, fmt.Errorf("%w: uncollected fees", clmmerr.ErrMathOverflow)
	}
	return owed, nil
}
