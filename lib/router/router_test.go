package router

import (
	"testing"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/pool"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, id byte, mint0, mint1 solana.PublicKey) *pool.Pool {
	t.Helper()
	p, err := pool.NewPool(pool.Config{
		ID:              solana.PublicKey{id},
		TokenMint0:      mint0,
		TokenMint1:      mint1,
		FeeRate:         3000,
		ProtocolFeeRate: 10,
		TickSpacing:     1,
		SqrtPriceX64:    cons.Q64.Clone(),
	})
	require.NoError(t, err)
	_, err = p.OpenPositionWithLiquidity(solana.PublicKey{id, 1}, solana.PublicKey{9}, -1000, 1000, ui.NewInt(100_000_000))
	require.NoError(t, err)
	return p
}

func TestSwapTwoHops(t *testing.T) {
	a := newPool(t, 10, solana.PublicKey{1}, solana.PublicKey{2})
	b := newPool(t, 11, solana.PublicKey{2}, solana.PublicKey{3})

	res, err := Swap([]Hop{{a, true}, {b, true}}, ui.NewInt(100_000), cons.Zero)
	require.NoError(t, err)
	require.Len(t, res.Hops, 2)
	assert.Equal(t, res.Hops[0].AmountOut, res.Hops[1].AmountIn)
	assert.True(t, res.AmountOut.Eq(res.Hops[1].AmountOut))
	assert.True(t, res.AmountOut.Lt(ui.NewInt(100_000)))

	// the route works on clones
	assert.True(t, a.SqrtPriceX64.Eq(cons.Q64))
	assert.True(t, b.SqrtPriceX64.Eq(cons.Q64))
	assert.True(t, res.Pools[0].SqrtPriceX64.Lt(cons.Q64))
	assert.True(t, res.Pools[1].SqrtPriceX64.Lt(cons.Q64))
}

func TestSwapOnlyLastHopEnforcesMinimum(t *testing.T) {
	a := newPool(t, 10, solana.PublicKey{1}, solana.PublicKey{2})
	b := newPool(t, 11, solana.PublicKey{2}, solana.PublicKey{3})
	hops := []Hop{{a, true}, {b, true}}

	quote, err := Swap(hops, ui.NewInt(100_000), cons.Zero)
	require.NoError(t, err)

	_, err = Swap(hops, ui.NewInt(100_000), quote.AmountOut)
	require.NoError(t, err)

	tooMuch := new(ui.Int).AddUint64(quote.AmountOut, 1)
	_, err = Swap(hops, ui.NewInt(100_000), tooMuch)
	require.ErrorIs(t, err, clmmerr.ErrExcessiveSlippage)
	assert.Contains(t, err.Error(), "hop 1")
}

func TestSwapRejectsBrokenRoutes(t *testing.T) {
	a := newPool(t, 10, solana.PublicKey{1}, solana.PublicKey{2})
	b := newPool(t, 11, solana.PublicKey{2}, solana.PublicKey{3})

	_, err := Swap(nil, ui.NewInt(100), cons.Zero)
	require.ErrorIs(t, err, clmmerr.ErrInvalidRoute)

	// a yields mint 1 going one-for-zero, b wants mint 2
	_, err = Swap([]Hop{{a, false}, {b, true}}, ui.NewInt(100), cons.Zero)
	require.ErrorIs(t, err, clmmerr.ErrInvalidRoute)

	_, err = Swap([]Hop{{a, true}, {b, false}}, ui.NewInt(100), cons.Zero)
	require.ErrorIs(t, err, clmmerr.ErrInvalidRoute)
}

func TestSwapSamePoolTwice(t *testing.T) {
	a := newPool(t, 10, solana.PublicKey{1}, solana.PublicKey{2})

	res, err := Swap([]Hop{{a, true}, {a, false}}, ui.NewInt(100_000), cons.Zero)
	require.NoError(t, err)
	assert.Same(t, res.Pools[0], res.Pools[1])
	// two fees are paid on the round trip
	assert.True(t, res.AmountOut.Lt(ui.NewInt(100_000)))
	assert.True(t, a.FeeGrowthGlobal0X64.IsZero())
}
