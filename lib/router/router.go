package router

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/pool"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
)

// Hop swaps through one pool in one direction.
type Hop struct {
	Pool       *pool.Pool
	ZeroForOne bool
}

func (h Hop) InputMint() solana.PublicKey {
	if h.ZeroForOne {
		return h.Pool.TokenMint0
	}
	return h.Pool.TokenMint1
}

func (h Hop) OutputMint() solana.PublicKey {
	if h.ZeroForOne {
		return h.Pool.TokenMint1
	}
	return h.Pool.TokenMint0
}

// Result holds the per-hop swap results and the updated pool clones, in
// route order.
type Result struct {
	AmountIn  *ui.Int
	AmountOut *ui.Int
	Hops      []*pool.SwapResult
	Pools     []*pool.Pool
}

// ValidateRoute checks that every hop consumes the mint the previous hop
// produced.
func ValidateRoute(hops []Hop) error {
	if len(hops) == 0 {
		return fmt.Errorf("%w: empty route", clmmerr.ErrInvalidRoute)
	}
	for i, h := range hops {
		if h.Pool == nil {
			return fmt.Errorf("%w: hop %d has no pool", clmmerr.ErrInvalidRoute, i)
		}
		if i > 0 && !hops[i-1].OutputMint().Equals(h.InputMint()) {
			return fmt.Errorf("%w: hop %d takes %s but hop %d yields %s", clmmerr.ErrInvalidRoute,
				i, h.InputMint(), i-1, hops[i-1].OutputMint())
		}
	}
	return nil
}

// Swap chains exact-input swaps along hops. Each hop's output is the next
// hop's input and only the last hop is held to minAmountOut. The hop pools
// are not modified; the caller commits Result.Pools. A pool that appears
// twice on the route sees its own earlier hop.
func Swap(hops []Hop, amountIn, minAmountOut *ui.Int) (*Result, error) {
	if err := ValidateRoute(hops); err != nil {
		return nil, err
	}
	clones := make(map[*pool.Pool]*pool.Pool, len(hops))
	res := &Result{AmountIn: amountIn.Clone()}
	amount := amountIn.Clone()
	for i, h := range hops {
		p, ok := clones[h.Pool]
		if !ok {
			p = h.Pool.Clone()
			clones[h.Pool] = p
		}
		minOut := cons.Zero
		if i == len(hops)-1 {
			minOut = minAmountOut
		}
		step, err := p.SwapStep(amount, minOut, pool.DefaultSqrtPriceLimit(h.ZeroForOne), h.ZeroForOne)
		if err != nil {
			return nil, fmt.Errorf("hop %d (pool %s): %w", i, h.Pool.ID, err)
		}
		res.Hops = append(res.Hops, step)
		res.Pools = append(res.Pools, p)
		amount = step.AmountOut
	}
	res.AmountOut = amount.Clone()
	return res, nil
}
