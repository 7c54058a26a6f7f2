package pool

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/fees"
	"github.com/btb-finance/clmm-core/lib/fullmath"
	"github.com/btb-finance/clmm-core/lib/swapmath"
	"github.com/btb-finance/clmm-core/lib/tickmath"

	ui "github.com/holiman/uint256"
)

// SwapResult is what one pool swap consumed and produced. AmountIn includes
// FeeAmount, and ProtocolFee is the part of FeeAmount kept by the protocol.
type SwapResult struct {
	AmountIn     *ui.Int
	AmountOut    *ui.Int
	FeeAmount    *ui.Int
	ProtocolFee  *ui.Int
	SqrtPriceX64 *ui.Int
	TickCurrent  int32
	TicksCrossed int
}

type stepComputations struct {
	sqrtPriceStartX64 *ui.Int
	tickNext          int32
	initialized       bool
	sqrtPriceNextX64  *ui.Int
	amountIn          *ui.Int
	amountOut         *ui.Int
	feeAmount         *ui.Int
}

// DefaultSqrtPriceLimit is the furthest price a swap in the given direction
// may reach.
func DefaultSqrtPriceLimit(zeroForOne bool) *ui.Int {
	if zeroForOne {
		return cons.MinSqrtPriceX64.Clone()
	}
	return cons.MaxSqrtPriceX64.Clone()
}

func (p *Pool) validatePriceLimit(sqrtPriceLimitX64 *ui.Int, zeroForOne bool) error {
	if sqrtPriceLimitX64 == nil {
		return fmt.Errorf("%w: missing", clmmerr.ErrInvalidPriceLimit)
	}
	if zeroForOne {
		if sqrtPriceLimitX64.Lt(cons.MinSqrtPriceX64) || !sqrtPriceLimitX64.Lt(p.SqrtPriceX64) {
			return fmt.Errorf("%w: %s not in [%s, %s)", clmmerr.ErrInvalidPriceLimit,
				sqrtPriceLimitX64.Dec(), cons.MinSqrtPriceX64.Dec(), p.SqrtPriceX64.Dec())
		}
		return nil
	}
	if sqrtPriceLimitX64.Gt(cons.MaxSqrtPriceX64) || !sqrtPriceLimitX64.Gt(p.SqrtPriceX64) {
		return fmt.Errorf("%w: %s not in (%s, %s]", clmmerr.ErrInvalidPriceLimit,
			sqrtPriceLimitX64.Dec(), p.SqrtPriceX64.Dec(), cons.MaxSqrtPriceX64.Dec())
	}
	return nil
}

// SwapStep swaps exactly amountIn of the input token (token0 when
// zeroForOne) until it is spent or the price reaches sqrtPriceLimitX64,
// crossing every initialized tick on the way. Nothing changes unless the
// whole swap succeeds and pays at least minAmountOut.
func (p *Pool) SwapStep(amountIn, minAmountOut, sqrtPriceLimitX64 *ui.Int, zeroForOne bool) (*SwapResult, error) {
	var result *SwapResult
	err := p.atomically(func(next *Pool) error {
		var err error
		result, err = next.swap(amountIn, minAmountOut, sqrtPriceLimitX64, zeroForOne)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QuoteSwap prices a swap without changing the pool.
func (p *Pool) QuoteSwap(amountIn, sqrtPriceLimitX64 *ui.Int, zeroForOne bool) (*SwapResult, error) {
	return p.Clone().swap(amountIn, cons.Zero, sqrtPriceLimitX64, zeroForOne)
}

// swap mutates p in place and may leave it half updated on error.
func (p *Pool) swap(amountIn, minAmountOut, sqrtPriceLimitX64 *ui.Int, zeroForOne bool) (*SwapResult, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, fmt.Errorf("%w: amount in", clmmerr.ErrZeroAmount)
	}
	if !amountIn.IsUint64() {
		return nil, fmt.Errorf("%w: amount in %s exceeds u64", clmmerr.ErrMathOverflow, amountIn.Dec())
	}
	if err := p.validatePriceLimit(sqrtPriceLimitX64, zeroForOne); err != nil {
		return nil, err
	}
	if p.Liquidity.IsZero() {
		return nil, clmmerr.ErrZeroLiquidity
	}

	remaining := amountIn.Clone()
	result := &SwapResult{
		AmountIn:    ui.NewInt(0),
		AmountOut:   ui.NewInt(0),
		FeeAmount:   ui.NewInt(0),
		ProtocolFee: ui.NewInt(0),
	}

	for !remaining.IsZero() && !p.SqrtPriceX64.Eq(sqrtPriceLimitX64) {
		var step stepComputations
		step.sqrtPriceStartX64 = p.SqrtPriceX64
		step.tickNext, step.initialized = p.TickArrays.NextInitializedTick(p.TickCurrent, zeroForOne)

		if step.tickNext < tickmath.MinTick {
			step.tickNext = tickmath.MinTick
		} else if step.tickNext > tickmath.MaxTick {
			step.tickNext = tickmath.MaxTick
		}

		var err error
		if step.sqrtPriceNextX64, err = tickmath.TickToSqrtPriceX64(step.tickNext); err != nil {
			return nil, err
		}
		target := step.sqrtPriceNextX64
		if zeroForOne && target.Lt(sqrtPriceLimitX64) || !zeroForOne && target.Gt(sqrtPriceLimitX64) {
			target = sqrtPriceLimitX64
		}

		var sqrtPriceX64 *ui.Int
		sqrtPriceX64, step.amountIn, step.amountOut, step.feeAmount, err =
			swapmath.ComputeSwapStep(p.SqrtPriceX64, target, p.Liquidity, remaining, p.FeeRate)
		if err != nil {
			return nil, err
		}
		p.SqrtPriceX64 = sqrtPriceX64

		spent := new(ui.Int).Add(step.amountIn, step.feeAmount)
		remaining.Sub(remaining, spent)
		result.AmountIn.Add(result.AmountIn, spent)
		result.AmountOut.Add(result.AmountOut, step.amountOut)

		if err := p.accrueFee(step.feeAmount, zeroForOne, result); err != nil {
			return nil, err
		}

		if p.SqrtPriceX64.Eq(step.sqrtPriceNextX64) {
			if step.initialized {
				if err := p.CrossTick(step.tickNext); err != nil {
					return nil, err
				}
				result.TicksCrossed++
			}
			if zeroForOne {
				p.TickCurrent = step.tickNext - 1
				if p.TickCurrent < tickmath.MinTick {
					p.TickCurrent = tickmath.MinTick
				}
			} else {
				p.TickCurrent = step.tickNext
			}
		} else if !p.SqrtPriceX64.Eq(step.sqrtPriceStartX64) {
			if p.TickCurrent, err = tickmath.SqrtPriceX64ToTick(p.SqrtPriceX64); err != nil {
				return nil, err
			}
		}
	}

	if !result.AmountOut.IsUint64() {
		return nil, fmt.Errorf("%w: amount out %s exceeds u64", clmmerr.ErrMathOverflow, result.AmountOut.Dec())
	}
	if result.AmountOut.Lt(minAmountOut) {
		return nil, fmt.Errorf("%w: out %s below minimum %s", clmmerr.ErrExcessiveSlippage,
			result.AmountOut.Dec(), minAmountOut.Dec())
	}
	result.SqrtPriceX64 = p.SqrtPriceX64.Clone()
	result.TickCurrent = p.TickCurrent
	return result, nil
}

// accrueFee splits one step's fee between the protocol and the in-range
// liquidity of the input token.
func (p *Pool) accrueFee(feeAmount *ui.Int, zeroForOne bool, result *SwapResult) error {
	if feeAmount.IsZero() {
		return nil
	}
	if p.Liquidity.IsZero() {
		return fmt.Errorf("%w: fee %s charged with no active liquidity", clmmerr.ErrZeroLiquidity, feeAmount.Dec())
	}
	protocolFee, err := fees.CalculateProtocolFee(feeAmount, p.ProtocolFeeRate)
	if err != nil {
		return err
	}
	lpFee := new(ui.Int).Sub(feeAmount, protocolFee)
	growth, err := fees.FeeGrowthDelta(lpFee, p.Liquidity)
	if err != nil {
		return err
	}

	protocolFees, global := &p.ProtocolFees1, &p.FeeGrowthGlobal1X64
	if zeroForOne {
		protocolFees, global = &p.ProtocolFees0, &p.FeeGrowthGlobal0X64
	}
	if *protocolFees, err = fullmath.CheckedAdd128(*protocolFees, protocolFee); err != nil {
		return err
	}
	*global = fullmath.WrappingAdd128(*global, growth)

	result.FeeAmount.Add(result.FeeAmount, feeAmount)
	result.ProtocolFee.Add(result.ProtocolFee, protocolFee)
	return nil
}
