package manager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/pool"
	"github.com/btb-finance/clmm-core/lib/tickmath"
	"github.com/btb-finance/clmm-core/lib/transfer"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	mint0 = solana.PublicKey{1}
	mint1 = solana.PublicKey{2}
	mint2 = solana.PublicKey{3}
	alice = solana.PublicKey{10}
	bob   = solana.PublicKey{11}
)

type memStore struct {
	mu    sync.Mutex
	pools map[solana.PublicKey]*pool.Pool
	saves int
	fail  error
}

func newMemStore() *memStore {
	return &memStore{pools: make(map[solana.PublicKey]*pool.Pool)}
}

func (s *memStore) Save(_ context.Context, p *pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.pools[p.ID] = p.Clone()
	s.saves++
	return nil
}

func (s *memStore) Load(_ context.Context, id solana.PublicKey) (*pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, clmmerr.ErrPoolNotFound
	}
	return p.Clone(), nil
}

func (s *memStore) List(_ context.Context) ([]solana.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]solana.PublicKey, 0, len(s.pools))
	for id := range s.pools {
		ids = append(ids, id)
	}
	return ids, nil
}

func params(m0, m1 solana.PublicKey) CreatePoolParams {
	return CreatePoolParams{
		TokenMint0:      m0,
		TokenMint1:      m1,
		FeeRate:         3000,
		ProtocolFeeRate: 10,
		TickSpacing:     1,
		SqrtPriceX64:    cons.Q64.Clone(),
	}
}

type fixture struct {
	ctx    context.Context
	ledger *transfer.Ledger
	store  *memStore
	m      *Manager
	pool   *pool.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), ledger: transfer.NewLedger(), store: newMemStore()}
	f.m = New(f.ledger, f.store, zap.NewNop())
	for _, mint := range []solana.PublicKey{mint0, mint1, mint2} {
		require.NoError(t, f.ledger.Credit(alice, mint, 100_000_000))
	}
	require.NoError(t, f.ledger.Credit(bob, mint0, 1_000_000))
	p, err := f.m.CreatePool(f.ctx, alice, params(mint0, mint1))
	require.NoError(t, err)
	f.pool = p
	return f
}

func TestPoolIdentity(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, PoolID(mint0, mint1, 3000, 1), f.pool.ID)
	assert.Equal(t, VaultAddress(f.pool.ID, mint0), f.pool.TokenVault0)
	assert.NotEqual(t, PoolID(mint0, mint1, 500, 1), f.pool.ID)
	assert.NotEqual(t, PositionID(f.pool.ID, alice, -10, 10, 1), PositionID(f.pool.ID, alice, -10, 10, 2))

	_, err := f.m.CreatePool(f.ctx, bob, params(mint0, mint1))
	require.ErrorIs(t, err, clmmerr.ErrPoolExists)
	_, err = f.m.CreatePool(f.ctx, bob, params(mint1, mint0))
	require.ErrorIs(t, err, clmmerr.ErrInvalidTokenOrder)
	assert.Equal(t, []solana.PublicKey{f.pool.ID}, f.m.Pools())

	_, err = f.m.Pool(solana.PublicKey{99})
	require.ErrorIs(t, err, clmmerr.ErrPoolNotFound)
}

func TestPositionLifecycleMovesTokens(t *testing.T) {
	f := newFixture(t)
	pos, err := f.m.OpenPosition(f.ctx, alice, f.pool.ID, -100, 100, 1_000_000, 1_000_000)
	require.NoError(t, err)
	d0, d1, err := f.pool.AmountsForLiquidity(-100, 100, pos.Liquidity, true)
	require.NoError(t, err)
	assert.False(t, d0.IsZero())
	assert.False(t, d1.IsZero())
	assert.Equal(t, 100_000_000-d0.Uint64(), f.ledger.Balance(alice, mint0))
	assert.Equal(t, d0.Uint64(), f.ledger.Balance(f.pool.TokenVault0, mint0))
	assert.Equal(t, d1.Uint64(), f.ledger.Balance(f.pool.TokenVault1, mint1))

	res, err := f.m.Swap(f.ctx, bob, f.pool.ID, ui.NewInt(10_000), cons.Zero, pool.DefaultSqrtPriceLimit(true), true)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000-res.AmountIn.Uint64(), f.ledger.Balance(bob, mint0))
	assert.Equal(t, res.AmountOut.Uint64(), f.ledger.Balance(bob, mint1))

	_, _, err = f.m.CollectFees(f.ctx, bob, f.pool.ID, pos.ID)
	require.ErrorIs(t, err, clmmerr.ErrUnauthorized)

	fee0, fee1, err := f.m.CollectFees(f.ctx, alice, f.pool.ID, pos.ID)
	require.NoError(t, err)
	assert.False(t, fee0.IsZero())
	assert.True(t, fee1.IsZero())
	assert.Equal(t, 100_000_000-d0.Uint64()+fee0.Uint64(), f.ledger.Balance(alice, mint0))

	a0, a1, err := f.m.DecreaseLiquidity(f.ctx, alice, f.pool.ID, pos.ID, pos.Liquidity, cons.Zero, cons.Zero)
	require.NoError(t, err)
	require.ErrorIs(t, f.m.ClosePosition(f.ctx, alice, f.pool.ID, pos.ID), clmmerr.ErrPositionNotEmpty)

	c0, c1, err := f.m.CollectFees(f.ctx, alice, f.pool.ID, pos.ID)
	require.NoError(t, err)
	assert.True(t, c0.Eq(a0))
	assert.True(t, c1.Eq(a1))
	require.NoError(t, f.m.ClosePosition(f.ctx, alice, f.pool.ID, pos.ID))

	p, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
	assert.True(t, p.Liquidity.IsZero())
}

func TestFailedTransferDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.OpenPosition(f.ctx, alice, f.pool.ID, -100, 100, 1_000_000, 1_000_000)
	require.NoError(t, err)
	saves := f.store.saves

	// bob holds no token1
	_, err = f.m.Swap(f.ctx, bob, f.pool.ID, ui.NewInt(10_000), cons.Zero, pool.DefaultSqrtPriceLimit(false), false)
	require.ErrorIs(t, err, clmmerr.ErrInsufficientBalance)

	p, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.True(t, p.SqrtPriceX64.Eq(cons.Q64))
	assert.True(t, p.FeeGrowthGlobal1X64.IsZero())
	assert.Equal(t, saves, f.store.saves)

	// nor can bob fund a position he cannot pay for
	_, err = f.m.OpenPosition(f.ctx, bob, f.pool.ID, -10, 10, 1_000, 1_000)
	require.ErrorIs(t, err, clmmerr.ErrInsufficientBalance)
	p, err = f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.Len(t, p.Positions, 1)
}

func TestAdminRequiresPoolOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.OpenPosition(f.ctx, alice, f.pool.ID, -100, 100, 1_000_000, 1_000_000)
	require.NoError(t, err)
	_, err = f.m.Swap(f.ctx, bob, f.pool.ID, ui.NewInt(100_000), cons.Zero, pool.DefaultSqrtPriceLimit(true), true)
	require.NoError(t, err)

	rate := uint32(500)
	require.ErrorIs(t, f.m.UpdateFeeRates(f.ctx, bob, f.pool.ID, &rate, nil), clmmerr.ErrUnauthorized)
	require.NoError(t, f.m.UpdateFeeRates(f.ctx, alice, f.pool.ID, &rate, nil))

	_, _, err = f.m.CollectProtocolFees(f.ctx, bob, f.pool.ID)
	require.ErrorIs(t, err, clmmerr.ErrUnauthorized)

	before := f.ledger.Balance(alice, mint0)
	p0, p1, err := f.m.CollectProtocolFees(f.ctx, alice, f.pool.ID)
	require.NoError(t, err)
	assert.False(t, p0.IsZero())
	assert.True(t, p1.IsZero())
	assert.Equal(t, before+p0.Uint64(), f.ledger.Balance(alice, mint0))

	p, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), p.FeeRate)
	assert.True(t, p.ProtocolFees0.IsZero())
}

func TestRouterSwapMovesThroughVaults(t *testing.T) {
	f := newFixture(t)
	second, err := f.m.CreatePool(f.ctx, alice, params(mint1, mint2))
	require.NoError(t, err)
	_, err = f.m.OpenPosition(f.ctx, alice, f.pool.ID, -1000, 1000, 10_000_000, 10_000_000)
	require.NoError(t, err)
	_, err = f.m.OpenPosition(f.ctx, alice, second.ID, -1000, 1000, 10_000_000, 10_000_000)
	require.NoError(t, err)

	route := []RouteHop{{f.pool.ID, true}, {second.ID, true}}
	quote, err := f.m.QuoteSwap(f.pool.ID, ui.NewInt(50_000), pool.DefaultSqrtPriceLimit(true), true)
	require.NoError(t, err)

	vaultA := f.ledger.Balance(f.pool.TokenVault1, mint1)
	vaultB := f.ledger.Balance(second.TokenVault0, mint1)
	res, err := f.m.RouterSwap(f.ctx, bob, route, ui.NewInt(50_000), cons.Zero)
	require.NoError(t, err)
	assert.True(t, quote.AmountOut.Eq(res.Hops[0].AmountOut))
	assert.Equal(t, uint64(950_000), f.ledger.Balance(bob, mint0))
	assert.Equal(t, uint64(0), f.ledger.Balance(bob, mint1))
	assert.Equal(t, res.AmountOut.Uint64(), f.ledger.Balance(bob, mint2))

	mid := res.Hops[0].AmountOut.Uint64()
	assert.Equal(t, vaultA-mid, f.ledger.Balance(f.pool.TokenVault1, mint1))
	assert.Equal(t, vaultB+mid, f.ledger.Balance(second.TokenVault0, mint1))

	a, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	b, err := f.m.Pool(second.ID)
	require.NoError(t, err)
	assert.True(t, a.SqrtPriceX64.Lt(cons.Q64))
	assert.True(t, b.SqrtPriceX64.Lt(cons.Q64))

	tooMuch := new(ui.Int).AddUint64(res.AmountOut, 1_000_000)
	_, err = f.m.RouterSwap(f.ctx, bob, route, ui.NewInt(50_000), tooMuch)
	require.ErrorIs(t, err, clmmerr.ErrExcessiveSlippage)
	again, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.True(t, again.SqrtPriceX64.Eq(a.SqrtPriceX64))

	_, err = f.m.RouterSwap(f.ctx, bob, nil, ui.NewInt(1), cons.Zero)
	require.ErrorIs(t, err, clmmerr.ErrInvalidRoute)
}

func TestRestoreFromSnapshots(t *testing.T) {
	f := newFixture(t)
	pos, err := f.m.OpenPosition(f.ctx, alice, f.pool.ID, -100, 100, 1_000_000, 1_000_000)
	require.NoError(t, err)

	restored := New(f.ledger, f.store, zap.NewNop())
	n, err := restored.Restore(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := restored.Pool(f.pool.ID)
	require.NoError(t, err)
	got, err := p.Position(pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Liquidity.Eq(pos.Liquidity))
	assert.True(t, p.Liquidity.Eq(pos.Liquidity))
}

func TestDepositNeverExceedsSuppliedAmounts(t *testing.T) {
	f := newFixture(t)
	cfg := params(mint1, mint2)
	cfg.SqrtPriceX64 = tickmath.MustTickToSqrtPriceX64(50_000)
	p, err := f.m.CreatePool(f.ctx, alice, cfg)
	require.NoError(t, err)

	// sized by token0, the range would need about 72k of token1
	_, err = f.m.OpenPosition(f.ctx, alice, p.ID, 49_000, 51_000, 1_000_000, 1_000)
	require.ErrorIs(t, err, clmmerr.ErrExcessiveSlippage)
	assert.Equal(t, uint64(100_000_000), f.ledger.Balance(alice, mint1))
	assert.Equal(t, uint64(100_000_000), f.ledger.Balance(alice, mint2))
	untouched, err := f.m.Pool(p.ID)
	require.NoError(t, err)
	assert.Empty(t, untouched.Positions)

	pos, err := f.m.OpenPosition(f.ctx, alice, p.ID, 49_000, 51_000, 1_000_000, 50_000_000)
	require.NoError(t, err)
	paid1 := 100_000_000 - f.ledger.Balance(alice, mint1)
	paid2 := 100_000_000 - f.ledger.Balance(alice, mint2)
	assert.LessOrEqual(t, paid1, uint64(1_000_000))
	assert.LessOrEqual(t, paid2, uint64(50_000_000))
	assert.Equal(t, paid1, f.ledger.Balance(p.TokenVault0, mint1))
	assert.Equal(t, paid2, f.ledger.Balance(p.TokenVault1, mint2))

	_, err = f.m.IncreaseLiquidity(f.ctx, alice, p.ID, pos.ID, 1_000_000, 1_000)
	require.ErrorIs(t, err, clmmerr.ErrExcessiveSlippage)
	assert.Equal(t, paid1, f.ledger.Balance(p.TokenVault0, mint1))
	after, err := f.m.Pool(p.ID)
	require.NoError(t, err)
	assert.True(t, after.Liquidity.Eq(pos.Liquidity))
}

func TestDecreaseLiquidityMinimums(t *testing.T) {
	f := newFixture(t)
	pos, err := f.m.OpenPosition(f.ctx, alice, f.pool.ID, -100, 100, 1_000_000, 1_000_000)
	require.NoError(t, err)
	want0, want1, err := f.pool.AmountsForLiquidity(-100, 100, pos.Liquidity, false)
	require.NoError(t, err)

	_, _, err = f.m.DecreaseLiquidity(f.ctx, alice, f.pool.ID, pos.ID, pos.Liquidity, new(ui.Int).AddUint64(want0, 1), cons.Zero)
	require.ErrorIs(t, err, clmmerr.ErrExcessiveSlippage)
	p, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.True(t, p.Liquidity.Eq(pos.Liquidity))

	a0, a1, err := f.m.DecreaseLiquidity(f.ctx, alice, f.pool.ID, pos.ID, pos.Liquidity, want0, want1)
	require.NoError(t, err)
	assert.True(t, a0.Eq(want0))
	assert.True(t, a1.Eq(want1))
}

func TestPersistFailureKeepsCommittedResult(t *testing.T) {
	f := newFixture(t)
	f.store.fail = errors.New("disk full")

	pos, err := f.m.OpenPosition(f.ctx, alice, f.pool.ID, -100, 100, 1_000_000, 1_000_000)
	require.ErrorIs(t, err, ErrNotPersisted)
	require.NotNil(t, pos)
	assert.Less(t, f.ledger.Balance(alice, mint0), uint64(100_000_000))

	p, err := f.m.Pool(f.pool.ID)
	require.NoError(t, err)
	_, err = p.Position(pos.ID)
	require.NoError(t, err)

	res, err := f.m.Swap(f.ctx, bob, f.pool.ID, ui.NewInt(10_000), cons.Zero, pool.DefaultSqrtPriceLimit(true), true)
	require.ErrorIs(t, err, ErrNotPersisted)
	require.NotNil(t, res)
	assert.Equal(t, res.AmountOut.Uint64(), f.ledger.Balance(bob, mint1))

	// a rejected operation is not mistaken for a committed one
	_, err = f.m.OpenPosition(f.ctx, bob, f.pool.ID, -10, 10, 1_000, 1_000)
	require.ErrorIs(t, err, clmmerr.ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrNotPersisted)
}
