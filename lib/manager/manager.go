package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	"github.com/btb-finance/clmm-core/lib/pool"
	"github.com/btb-finance/clmm-core/lib/position"
	"github.com/btb-finance/clmm-core/lib/router"
	"github.com/btb-finance/clmm-core/lib/transfer"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"go.uber.org/zap"
)

// ErrNotPersisted marks an operation that committed and moved tokens but
// whose snapshot failed. Its results are still returned alongside it.
var ErrNotPersisted = errors.New("committed but not persisted")

// Snapshotter persists pool state between runs.
type Snapshotter interface {
	Save(ctx context.Context, p *pool.Pool) error
	Load(ctx context.Context, id solana.PublicKey) (*pool.Pool, error)
	List(ctx context.Context) ([]solana.PublicKey, error)
}

// CreatePoolParams are the caller supplied pool parameters. Identity and
// vaults are derived from them.
type CreatePoolParams struct {
	TokenMint0      solana.PublicKey
	TokenMint1      solana.PublicKey
	FeeRate         uint32
	ProtocolFeeRate uint8
	TickSpacing     uint16
	SqrtPriceX64    *ui.Int
}

// RouteHop names one pool on a multi-hop route.
type RouteHop struct {
	PoolID     solana.PublicKey
	ZeroForOne bool
}

type entry struct {
	mu   sync.Mutex
	pool *pool.Pool
}

// Manager hosts pools: it owns their identities, checks who may act on
// them, moves tokens through a Transferer and commits state only once the
// transfers have landed.
type Manager struct {
	mu        sync.RWMutex
	pools     map[solana.PublicKey]*entry
	transfers transfer.Transferer
	store     Snapshotter
	logger    *zap.Logger
	nonce     atomic.Uint64
}

// New builds a Manager. store may be nil.
func New(transfers transfer.Transferer, store Snapshotter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pools:     make(map[solana.PublicKey]*entry),
		transfers: transfers,
		store:     store,
		logger:    logger,
	}
}

func (m *Manager) entry(id solana.PublicKey) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", clmmerr.ErrPoolNotFound, id)
	}
	return e, nil
}

// Pool returns a copy of the pool's current state.
func (m *Manager) Pool(id solana.PublicKey) (*pool.Pool, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Clone(), nil
}

// Pools lists the hosted pool ids in byte order.
func (m *Manager) Pools() []solana.PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]solana.PublicKey, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []solana.PublicKey) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

// Restore loads every persisted pool.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	ids, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p, err := m.store.Load(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("load pool %s: %w", id, err)
		}
		m.pools[id] = &entry{pool: p}
	}
	m.logger.Info("restored pools", zap.Int("count", len(ids)))
	return len(ids), nil
}

func (m *Manager) persist(ctx context.Context, p *pool.Pool) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, p); err != nil {
		m.logger.Error("persist pool", zap.Stringer("pool", p.ID), zap.Error(err))
		return fmt.Errorf("%w: pool %s: %w", ErrNotPersisted, p.ID, err)
	}
	return nil
}

// failed reports whether err means the operation did not commit.
func failed(err error) bool {
	return err != nil && !errors.Is(err, ErrNotPersisted)
}

// CreatePool derives the pool id and vaults from params and hosts a new
// empty pool owned by owner.
func (m *Manager) CreatePool(ctx context.Context, owner solana.PublicKey, params CreatePoolParams) (*pool.Pool, error) {
	id := PoolID(params.TokenMint0, params.TokenMint1, params.FeeRate, params.TickSpacing)
	p, err := pool.NewPool(pool.Config{
		ID:              id,
		Owner:           owner,
		TokenMint0:      params.TokenMint0,
		TokenMint1:      params.TokenMint1,
		TokenVault0:     VaultAddress(id, params.TokenMint0),
		TokenVault1:     VaultAddress(id, params.TokenMint1),
		FeeRate:         params.FeeRate,
		ProtocolFeeRate: params.ProtocolFeeRate,
		TickSpacing:     params.TickSpacing,
		SqrtPriceX64:    params.SqrtPriceX64,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.pools[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", clmmerr.ErrPoolExists, id)
	}
	m.pools[id] = &entry{pool: p}
	m.mu.Unlock()

	m.logger.Info("pool created",
		zap.Stringer("pool", id),
		zap.Stringer("mint0", p.TokenMint0),
		zap.Stringer("mint1", p.TokenMint1),
		zap.Uint32("fee_rate", p.FeeRate),
		zap.Uint16("tick_spacing", p.TickSpacing),
		zap.Int32("tick", p.TickCurrent),
	)
	return p.Clone(), m.persist(ctx, p)
}

// mutate runs fn against a clone of the pool under its lock, executes the
// transfers fn asks for and then commits the clone. A snapshot failure
// after the commit comes back wrapped in ErrNotPersisted.
func (m *Manager) mutate(ctx context.Context, poolID solana.PublicKey, fn func(next *pool.Pool) ([]transfer.Transfer, error)) error {
	e, err := m.entry(poolID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.pool.Clone()
	transfers, err := fn(next)
	if err != nil {
		return err
	}
	if err := m.execute(ctx, transfers); err != nil {
		return err
	}
	e.pool = next
	return m.persist(ctx, next)
}

func (m *Manager) execute(ctx context.Context, transfers []transfer.Transfer) error {
	batch := transfers[:0:0]
	for _, t := range transfers {
		if t.Amount > 0 {
			batch = append(batch, t)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := m.transfers.Execute(ctx, batch); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	return nil
}

func ownedPosition(p *pool.Pool, caller, id solana.PublicKey) (*position.Position, error) {
	pos, err := p.Position(id)
	if err != nil {
		return nil, err
	}
	if !pos.Owner.Equals(caller) {
		return nil, fmt.Errorf("%w: %s does not own position %s", clmmerr.ErrUnauthorized, caller, id)
	}
	return pos, nil
}

func checkPoolOwner(p *pool.Pool, caller solana.PublicKey) error {
	if !p.Owner.Equals(caller) {
		return fmt.Errorf("%w: %s does not own pool %s", clmmerr.ErrUnauthorized, caller, p.ID)
	}
	return nil
}

func toUint64(name string, v *ui.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s %s exceeds u64", clmmerr.ErrMathOverflow, name, v.Dec())
	}
	return v.Uint64(), nil
}

// deposit pulls what liquidity over [tickLower, tickUpper) requires at the
// current price from owner into the vaults, never more than max0 and max1.
func deposit(p *pool.Pool, owner solana.PublicKey, tickLower, tickUpper int32, liquidity *ui.Int, max0, max1 uint64) ([]transfer.Transfer, error) {
	amount0, amount1, err := p.AmountsForLiquidity(tickLower, tickUpper, liquidity, true)
	if err != nil {
		return nil, err
	}
	if amount0.GtUint64(max0) || amount1.GtUint64(max1) {
		return nil, fmt.Errorf("%w: liquidity %s needs (%s, %s), supplied (%d, %d)", clmmerr.ErrExcessiveSlippage,
			liquidity.Dec(), amount0.Dec(), amount1.Dec(), max0, max1)
	}
	a0, err := toUint64("amount0", amount0)
	if err != nil {
		return nil, err
	}
	a1, err := toUint64("amount1", amount1)
	if err != nil {
		return nil, err
	}
	return []transfer.Transfer{
		{Mint: p.TokenMint0, From: owner, To: p.TokenVault0, Authority: owner, Amount: a0},
		{Mint: p.TokenMint1, From: owner, To: p.TokenVault1, Authority: owner, Amount: a1},
	}, nil
}

func withdraw(p *pool.Pool, to solana.PublicKey, amount0, amount1 *ui.Int) ([]transfer.Transfer, error) {
	a0, err := toUint64("amount0", amount0)
	if err != nil {
		return nil, err
	}
	a1, err := toUint64("amount1", amount1)
	if err != nil {
		return nil, err
	}
	return []transfer.Transfer{
		{Mint: p.TokenMint0, From: p.TokenVault0, To: to, Authority: p.ID, Amount: a0},
		{Mint: p.TokenMint1, From: p.TokenVault1, To: to, Authority: p.ID, Amount: a1},
	}, nil
}

// OpenPosition opens a position sized by the supplied amounts and pulls what
// its liquidity is worth from owner into the pool vaults. It fails with
// ErrExcessiveSlippage when that is more than was supplied.
func (m *Manager) OpenPosition(ctx context.Context, owner, poolID solana.PublicKey, tickLower, tickUpper int32, amount0, amount1 uint64) (*position.Position, error) {
	var opened *position.Position
	err := m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		id := PositionID(poolID, owner, tickLower, tickUpper, m.nonce.Add(1))
		pos, err := next.OpenPosition(id, owner, tickLower, tickUpper, amount0, amount1)
		if err != nil {
			return nil, err
		}
		opened = pos
		return deposit(next, owner, tickLower, tickUpper, pos.Liquidity, amount0, amount1)
	})
	if failed(err) {
		return nil, err
	}
	m.logger.Info("position opened",
		zap.Stringer("pool", poolID),
		zap.Stringer("position", opened.ID),
		zap.Stringer("owner", owner),
		zap.Int32("tick_lower", tickLower),
		zap.Int32("tick_upper", tickUpper),
		zap.String("liquidity", opened.Liquidity.Dec()),
	)
	return opened, err
}

// IncreaseLiquidity adds the liquidity the supplied amounts buy to an owned
// position.
func (m *Manager) IncreaseLiquidity(ctx context.Context, caller, poolID, positionID solana.PublicKey, amount0, amount1 uint64) (*ui.Int, error) {
	var added *ui.Int
	err := m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		pos, err := ownedPosition(next, caller, positionID)
		if err != nil {
			return nil, err
		}
		if added, err = next.IncreaseLiquidity(positionID, amount0, amount1); err != nil {
			return nil, err
		}
		return deposit(next, caller, pos.TickLowerIndex, pos.TickUpperIndex, added, amount0, amount1)
	})
	if failed(err) {
		return nil, err
	}
	m.logger.Info("liquidity increased",
		zap.Stringer("pool", poolID),
		zap.Stringer("position", positionID),
		zap.String("liquidity", added.Dec()),
	)
	return added, err
}

// DecreaseLiquidity removes liquidity from an owned position, provided it is
// worth at least minAmount0 and minAmount1. The principal stays in the
// vaults, owed to the position until CollectFees.
func (m *Manager) DecreaseLiquidity(ctx context.Context, caller, poolID, positionID solana.PublicKey, liquidity, minAmount0, minAmount1 *ui.Int) (amount0, amount1 *ui.Int, err error) {
	err = m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		if _, err := ownedPosition(next, caller, positionID); err != nil {
			return nil, err
		}
		var err error
		amount0, amount1, err = next.DecreaseLiquidity(positionID, liquidity, minAmount0, minAmount1)
		return nil, err
	})
	if failed(err) {
		return nil, nil, err
	}
	m.logger.Info("liquidity decreased",
		zap.Stringer("pool", poolID),
		zap.Stringer("position", positionID),
		zap.String("liquidity", liquidity.Dec()),
		zap.String("amount0", amount0.Dec()),
		zap.String("amount1", amount1.Dec()),
	)
	return amount0, amount1, err
}

// CollectFees pays everything owed to an owned position out of the vaults.
func (m *Manager) CollectFees(ctx context.Context, caller, poolID, positionID solana.PublicKey) (amount0, amount1 *ui.Int, err error) {
	err = m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		if _, err := ownedPosition(next, caller, positionID); err != nil {
			return nil, err
		}
		var err error
		if amount0, amount1, err = next.CollectFees(positionID); err != nil {
			return nil, err
		}
		return withdraw(next, caller, amount0, amount1)
	})
	if failed(err) {
		return nil, nil, err
	}
	m.logger.Info("fees collected",
		zap.Stringer("pool", poolID),
		zap.Stringer("position", positionID),
		zap.String("amount0", amount0.Dec()),
		zap.String("amount1", amount1.Dec()),
	)
	return amount0, amount1, err
}

func (m *Manager) ClosePosition(ctx context.Context, caller, poolID, positionID solana.PublicKey) error {
	err := m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		if _, err := ownedPosition(next, caller, positionID); err != nil {
			return nil, err
		}
		return nil, next.ClosePosition(positionID)
	})
	if failed(err) {
		return err
	}
	m.logger.Info("position closed", zap.Stringer("pool", poolID), zap.Stringer("position", positionID))
	return err
}

// Swap sells amountIn of one pool token for the other on behalf of trader.
func (m *Manager) Swap(ctx context.Context, trader, poolID solana.PublicKey, amountIn, minAmountOut, sqrtPriceLimitX64 *ui.Int, zeroForOne bool) (*pool.SwapResult, error) {
	var res *pool.SwapResult
	err := m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		var err error
		if res, err = next.SwapStep(amountIn, minAmountOut, sqrtPriceLimitX64, zeroForOne); err != nil {
			return nil, err
		}
		return swapTransfers(next, trader, trader, trader, zeroForOne, res)
	})
	if failed(err) {
		return nil, err
	}
	m.logger.Info("swap",
		zap.Stringer("pool", poolID),
		zap.Stringer("trader", trader),
		zap.Bool("zero_for_one", zeroForOne),
		zap.String("amount_in", res.AmountIn.Dec()),
		zap.String("amount_out", res.AmountOut.Dec()),
		zap.String("fee", res.FeeAmount.Dec()),
		zap.Int32("tick", res.TickCurrent),
		zap.Int("ticks_crossed", res.TicksCrossed),
	)
	return res, err
}

// swapTransfers pays res.AmountIn from payer into the pool and res.AmountOut
// from the pool to recipient.
func swapTransfers(p *pool.Pool, payer, authority, recipient solana.PublicKey, zeroForOne bool, res *pool.SwapResult) ([]transfer.Transfer, error) {
	in, err := toUint64("amount in", res.AmountIn)
	if err != nil {
		return nil, err
	}
	out, err := toUint64("amount out", res.AmountOut)
	if err != nil {
		return nil, err
	}
	inMint, inVault, outMint, outVault := p.TokenMint1, p.TokenVault1, p.TokenMint0, p.TokenVault0
	if zeroForOne {
		inMint, inVault, outMint, outVault = p.TokenMint0, p.TokenVault0, p.TokenMint1, p.TokenVault1
	}
	return []transfer.Transfer{
		{Mint: inMint, From: payer, To: inVault, Authority: authority, Amount: in},
		{Mint: outMint, From: outVault, To: recipient, Authority: p.ID, Amount: out},
	}, nil
}

// QuoteSwap prices a swap against the current pool state without changing
// it.
func (m *Manager) QuoteSwap(poolID solana.PublicKey, amountIn, sqrtPriceLimitX64 *ui.Int, zeroForOne bool) (*pool.SwapResult, error) {
	p, err := m.Pool(poolID)
	if err != nil {
		return nil, err
	}
	res, err := p.QuoteSwap(amountIn, sqrtPriceLimitX64, zeroForOne)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("quote",
		zap.Stringer("pool", poolID),
		zap.String("amount_in", res.AmountIn.Dec()),
		zap.String("amount_out", res.AmountOut.Dec()),
	)
	return res, nil
}

// RouterSwap swaps along route. Every pool on the route is locked, in id
// order, for the whole swap, and all of them commit or none does.
func (m *Manager) RouterSwap(ctx context.Context, trader solana.PublicKey, route []RouteHop, amountIn, minAmountOut *ui.Int) (*router.Result, error) {
	if len(route) == 0 {
		return nil, fmt.Errorf("%w: empty route", clmmerr.ErrInvalidRoute)
	}
	entries := make(map[solana.PublicKey]*entry, len(route))
	for _, h := range route {
		e, err := m.entry(h.PoolID)
		if err != nil {
			return nil, err
		}
		entries[h.PoolID] = e
	}
	ids := make([]solana.PublicKey, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for _, id := range ids {
		entries[id].mu.Lock()
		defer entries[id].mu.Unlock()
	}

	hops := make([]router.Hop, len(route))
	for i, h := range route {
		hops[i] = router.Hop{Pool: entries[h.PoolID].pool, ZeroForOne: h.ZeroForOne}
	}
	res, err := router.Swap(hops, amountIn, minAmountOut)
	if err != nil {
		return nil, err
	}

	var transfers []transfer.Transfer
	payer, authority := trader, trader
	for i, h := range route {
		next := res.Pools[i]
		recipient := trader
		if i < len(route)-1 {
			nextHop := res.Pools[i+1]
			recipient = nextHop.TokenVault1
			if route[i+1].ZeroForOne {
				recipient = nextHop.TokenVault0
			}
		}
		ts, err := swapTransfers(next, payer, authority, recipient, h.ZeroForOne, res.Hops[i])
		if err != nil {
			return nil, err
		}
		// only the first hop's input comes from the trader; later inputs are
		// the previous hop's payout
		if i > 0 {
			ts = ts[1:]
		}
		transfers = append(transfers, ts...)
	}
	if err := m.execute(ctx, transfers); err != nil {
		return nil, err
	}

	committed := make(map[solana.PublicKey]*pool.Pool, len(ids))
	for i, h := range route {
		entries[h.PoolID].pool = res.Pools[i]
		committed[h.PoolID] = res.Pools[i]
	}
	var persistErr error
	for _, id := range ids {
		persistErr = errors.Join(persistErr, m.persist(ctx, committed[id]))
	}
	m.logger.Info("router swap",
		zap.Stringer("trader", trader),
		zap.Int("hops", len(route)),
		zap.String("amount_in", res.AmountIn.Dec()),
		zap.String("amount_out", res.AmountOut.Dec()),
	)
	return res, persistErr
}

// UpdateFeeRates changes a pool's fee rates. Only the pool owner may.
func (m *Manager) UpdateFeeRates(ctx context.Context, caller, poolID solana.PublicKey, feeRate *uint32, protocolFeeRate *uint8) error {
	err := m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		if err := checkPoolOwner(next, caller); err != nil {
			return nil, err
		}
		return nil, next.UpdateFeeRates(feeRate, protocolFeeRate)
	})
	if failed(err) {
		return err
	}
	fields := []zap.Field{zap.Stringer("pool", poolID)}
	if feeRate != nil {
		fields = append(fields, zap.Uint32("fee_rate", *feeRate))
	}
	if protocolFeeRate != nil {
		fields = append(fields, zap.Uint8("protocol_fee_rate", *protocolFeeRate))
	}
	m.logger.Info("fee rates updated", fields...)
	return err
}

// CollectProtocolFees pays the accrued protocol fees to the pool owner.
func (m *Manager) CollectProtocolFees(ctx context.Context, caller, poolID solana.PublicKey) (amount0, amount1 *ui.Int, err error) {
	err = m.mutate(ctx, poolID, func(next *pool.Pool) ([]transfer.Transfer, error) {
		if err := checkPoolOwner(next, caller); err != nil {
			return nil, err
		}
		amount0, amount1 = next.CollectProtocolFees()
		return withdraw(next, caller, amount0, amount1)
	})
	if failed(err) {
		return nil, nil, err
	}
	m.logger.Info("protocol fees collected",
		zap.Stringer("pool", poolID),
		zap.String("amount0", amount0.Dec()),
		zap.String("amount1", amount1.Dec()),
	)
	return amount0, amount1, err
}
