package prices

import (
	"fmt"
	"math/big"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/tickmath"

	ui "github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// digits kept when dividing by 2^128
const precision = 40

var q128 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 128), 0)

// SqrtPriceX64ToPrice returns the human price of token0 in token1:
// (sqrt/2^64)^2 * 10^(decimals0-decimals1).
func SqrtPriceX64ToPrice(sqrtPriceX64 *ui.Int, decimals0, decimals1 uint8) decimal.Decimal {
	s := decimal.NewFromBigInt(sqrtPriceX64.ToBig(), 0)
	return s.Mul(s).DivRound(q128, precision).Shift(int32(decimals0) - int32(decimals1))
}

// PriceToSqrtPriceX64 inverts SqrtPriceX64ToPrice, rounding down.
func PriceToSqrtPriceX64(price decimal.Decimal, decimals0, decimals1 uint8) (*ui.Int, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price %s", clmmerr.ErrInvalidSqrtPrice, price)
	}
	raw := price.Shift(int32(decimals1) - int32(decimals0))
	scaled := raw.Mul(q128).BigInt()
	sqrt, overflow := ui.FromBig(new(big.Int).Sqrt(scaled))
	if overflow || sqrt.Lt(cons.MinSqrtPriceX64) || sqrt.Gt(cons.MaxSqrtPriceX64) {
		return nil, fmt.Errorf("%w: price %s out of range", clmmerr.ErrInvalidSqrtPrice, price)
	}
	return sqrt, nil
}

func TickToPrice(tick int32, decimals0, decimals1 uint8) (decimal.Decimal, error) {
	sqrt, err := tickmath.TickToSqrtPriceX64(tick)
	if err != nil {
		return decimal.Zero, err
	}
	return SqrtPriceX64ToPrice(sqrt, decimals0, decimals1), nil
}

// PriceToTick returns the greatest tick whose price does not exceed price.
func PriceToTick(price decimal.Decimal, decimals0, decimals1 uint8) (int32, error) {
	sqrt, err := PriceToSqrtPriceX64(price, decimals0, decimals1)
	if err != nil {
		return 0, err
	}
	return tickmath.SqrtPriceX64ToTick(sqrt)
}
