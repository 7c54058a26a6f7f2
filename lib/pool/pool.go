package pool

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/fees"
	"github.com/btb-finance/clmm-core/lib/fullmath"
	la "github.com/btb-finance/clmm-core/lib/liquidity_amounts"
	"github.com/btb-finance/clmm-core/lib/position"
	"github.com/btb-finance/clmm-core/lib/tickarray"
	"github.com/btb-finance/clmm-core/lib/tickmath"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
)

// Config is what a pool is created from.
type Config struct {
	ID              solana.PublicKey
	Owner           solana.PublicKey
	TokenMint0      solana.PublicKey
	TokenMint1      solana.PublicKey
	TokenVault0     solana.PublicKey
	TokenVault1     solana.PublicKey
	FeeRate         uint32
	ProtocolFeeRate uint8
	TickSpacing     uint16
	SqrtPriceX64    *ui.Int
}

type Pool struct {
	ID                  solana.PublicKey
	Owner               solana.PublicKey
	TokenMint0          solana.PublicKey
	TokenMint1          solana.PublicKey
	TokenVault0         solana.PublicKey
	TokenVault1         solana.PublicKey
	FeeRate             uint32
	ProtocolFeeRate     uint8
	TickSpacing         uint16
	Liquidity           *ui.Int
	SqrtPriceX64        *ui.Int
	TickCurrent         int32
	FeeGrowthGlobal0X64 *ui.Int
	FeeGrowthGlobal1X64 *ui.Int
	ProtocolFees0       *ui.Int
	ProtocolFees1       *ui.Int
	TickArrays          *tickarray.Registry
	Positions           map[solana.PublicKey]*position.Position
}

// ValidateMintOrder requires two distinct mints with mint0 < mint1.
func ValidateMintOrder(mint0, mint1 solana.PublicKey) error {
	if bytes.Compare(mint0[:], mint1[:]) >= 0 {
		return fmt.Errorf("%w: %s, %s", clmmerr.ErrInvalidTokenOrder, mint0, mint1)
	}
	return nil
}

func ValidateSqrtPrice(sqrtPriceX64 *ui.Int) error {
	if sqrtPriceX64 == nil || sqrtPriceX64.IsZero() ||
		sqrtPriceX64.Lt(cons.MinSqrtPriceX64) || sqrtPriceX64.Gt(cons.MaxSqrtPriceX64) {
		return fmt.Errorf("%w: outside [%s, %s]", clmmerr.ErrInvalidSqrtPrice, cons.MinSqrtPriceX64.Dec(), cons.MaxSqrtPriceX64.Dec())
	}
	return nil
}

func (c Config) Validate() error {
	if err := fees.ValidateFeeRate(c.FeeRate); err != nil {
		return err
	}
	if err := fees.ValidateProtocolFeeRate(c.ProtocolFeeRate); err != nil {
		return err
	}
	if err := tickarray.ValidateTickSpacing(c.TickSpacing); err != nil {
		return err
	}
	if err := ValidateMintOrder(c.TokenMint0, c.TokenMint1); err != nil {
		return err
	}
	return ValidateSqrtPrice(c.SqrtPriceX64)
}

// NewPool creates an empty pool at the configured price.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tickCurrent, err := tickmath.SqrtPriceX64ToTick(cfg.SqrtPriceX64)
	if err != nil {
		return nil, err
	}
	return &Pool{
		ID:                  cfg.ID,
		Owner:               cfg.Owner,
		TokenMint0:          cfg.TokenMint0,
		TokenMint1:          cfg.TokenMint1,
		TokenVault0:         cfg.TokenVault0,
		TokenVault1:         cfg.TokenVault1,
		FeeRate:             cfg.FeeRate,
		ProtocolFeeRate:     cfg.ProtocolFeeRate,
		TickSpacing:         cfg.TickSpacing,
		Liquidity:           ui.NewInt(0),
		SqrtPriceX64:        cfg.SqrtPriceX64.Clone(),
		TickCurrent:         tickCurrent,
		FeeGrowthGlobal0X64: ui.NewInt(0),
		FeeGrowthGlobal1X64: ui.NewInt(0),
		ProtocolFees0:       ui.NewInt(0),
		ProtocolFees1:       ui.NewInt(0),
		TickArrays:          tickarray.NewRegistry(cfg.TickSpacing),
		Positions:           make(map[solana.PublicKey]*position.Position),
	}, nil
}

func (p *Pool) Clone() *Pool {
	positions := make(map[solana.PublicKey]*position.Position, len(p.Positions))
	for k, v := range p.Positions {
		positions[k] = v.Clone()
	}
	c := *p
	c.Liquidity = p.Liquidity.Clone()
	c.SqrtPriceX64 = p.SqrtPriceX64.Clone()
	c.FeeGrowthGlobal0X64 = p.FeeGrowthGlobal0X64.Clone()
	c.FeeGrowthGlobal1X64 = p.FeeGrowthGlobal1X64.Clone()
	c.ProtocolFees0 = p.ProtocolFees0.Clone()
	c.ProtocolFees1 = p.ProtocolFees1.Clone()
	c.TickArrays = p.TickArrays.Clone()
	c.Positions = positions
	return &c
}

// atomically runs fn against a copy of the pool and keeps the copy only if
// fn succeeds.
func (p *Pool) atomically(fn func(next *Pool) error) error {
	next := p.Clone()
	if err := fn(next); err != nil {
		return err
	}
	*p = *next
	return nil
}

// InitializeTickArray allocates the tick array starting at startTickIndex.
func (p *Pool) InitializeTickArray(startTickIndex int32) error {
	return p.atomically(func(next *Pool) error {
		_, err := next.TickArrays.Initialize(startTickIndex)
		return err
	})
}

func (p *Pool) Position(id solana.PublicKey) (*position.Position, error) {
	pos, ok := p.Positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", clmmerr.ErrPositionNotFound, id)
	}
	return pos, nil
}

// PositionIDs returns the ids of all open positions in byte order.
func (p *Pool) PositionIDs() []solana.PublicKey {
	ids := make([]solana.PublicKey, 0, len(p.Positions))
	for id := range p.Positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

// FeeGrowthInside returns the fee growth inside [tickLower, tickUpper).
func (p *Pool) FeeGrowthInside(tickLower, tickUpper int32) (*ui.Int, *ui.Int, error) {
	lower, err := p.TickArrays.Tick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	upper, err := p.TickArrays.Tick(tickUpper)
	if err != nil {
		return nil, nil, err
	}
	inside0, inside1 := fees.ComputeFeeGrowthInside(p.TickCurrent, p.FeeGrowthGlobal0X64, p.FeeGrowthGlobal1X64,
		lower.Boundary(), upper.Boundary())
	return inside0, inside1, nil
}

func (p *Pool) rangePrices(tickLower, tickUpper int32) (*ui.Int, *ui.Int, error) {
	sqrtLower, err := tickmath.TickToSqrtPriceX64(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := tickmath.TickToSqrtPriceX64(tickUpper)
	if err != nil {
		return nil, nil, err
	}
	return sqrtLower, sqrtUpper, nil
}

// LiquidityForAmounts prices amount0/amount1 over [tickLower, tickUpper).
func (p *Pool) LiquidityForAmounts(tickLower, tickUpper int32, amount0, amount1 uint64) (*ui.Int, error) {
	if err := position.ValidateRange(tickLower, tickUpper, p.TickSpacing); err != nil {
		return nil, err
	}
	sqrtLower, sqrtUpper, err := p.rangePrices(tickLower, tickUpper)
	if err != nil {
		return nil, err
	}
	liquidity, err := la.GetLiquidityForAmounts(sqrtLower, sqrtUpper, ui.NewInt(amount0), ui.NewInt(amount1))
	if err != nil {
		return nil, err
	}
	if liquidity.IsZero() {
		return nil, fmt.Errorf("%w: amounts (%d, %d) over [%d, %d)", clmmerr.ErrZeroLiquidity, amount0, amount1, tickLower, tickUpper)
	}
	return liquidity, nil
}

// AmountsForLiquidity is what liquidity over [tickLower, tickUpper) is worth
// at the current price. Deposits round up and withdrawals round down.
func (p *Pool) AmountsForLiquidity(tickLower, tickUpper int32, liquidity *ui.Int, roundUp bool) (amount0, amount1 *ui.Int, err error) {
	sqrtLower, sqrtUpper, err := p.rangePrices(tickLower, tickUpper)
	if err != nil {
		return nil, nil, err
	}
	return la.GetAmountsForLiquidity(p.SqrtPriceX64, sqrtLower, sqrtUpper, liquidity, roundUp)
}

// modifyPosition moves liquidityDelta (two's complement) into or out of pos,
// its boundary ticks and, when in range, the active liquidity.
func (p *Pool) modifyPosition(pos *position.Position, liquidityDelta *ui.Int) error {
	var inside0, inside1 *ui.Int
	var err error
	// settle against the ticks as they are before a removal can release them
	if liquidityDelta.Sign() < 0 {
		if inside0, inside1, err = p.FeeGrowthInside(pos.TickLowerIndex, pos.TickUpperIndex); err != nil {
			return err
		}
	}

	bounds := []struct {
		tick  int32
		upper bool
	}{
		{pos.TickLowerIndex, false},
		{pos.TickUpperIndex, true},
	}
	for _, b := range bounds {
		arr, err := p.TickArrays.GetOrInit(b.tick)
		if err != nil {
			return err
		}
		if _, err := arr.UpdateTick(b.tick, liquidityDelta, b.upper, p.TickCurrent, p.FeeGrowthGlobal0X64, p.FeeGrowthGlobal1X64); err != nil {
			return err
		}
	}

	if inside0 == nil {
		if inside0, inside1, err = p.FeeGrowthInside(pos.TickLowerIndex, pos.TickUpperIndex); err != nil {
			return err
		}
	}
	if err := pos.Update(liquidityDelta, inside0, inside1); err != nil {
		return err
	}

	if pos.InRange(p.TickCurrent) {
		liquidity, err := fullmath.AddDelta128(p.Liquidity, liquidityDelta)
		if err != nil {
			return err
		}
		p.Liquidity = liquidity
	}
	return nil
}

// OpenPosition opens [tickLower, tickUpper) with the liquidity the two
// amounts buy. Moving the tokens is the caller's job.
func (p *Pool) OpenPosition(id, owner solana.PublicKey, tickLower, tickUpper int32, amount0, amount1 uint64) (*position.Position, error) {
	liquidity, err := p.LiquidityForAmounts(tickLower, tickUpper, amount0, amount1)
	if err != nil {
		return nil, err
	}
	return p.OpenPositionWithLiquidity(id, owner, tickLower, tickUpper, liquidity)
}

// OpenPositionWithLiquidity opens [tickLower, tickUpper) holding liquidity.
func (p *Pool) OpenPositionWithLiquidity(id, owner solana.PublicKey, tickLower, tickUpper int32, liquidity *ui.Int) (*position.Position, error) {
	if err := position.ValidateRange(tickLower, tickUpper, p.TickSpacing); err != nil {
		return nil, err
	}
	if liquidity.IsZero() {
		return nil, clmmerr.ErrZeroLiquidity
	}
	if !fullmath.Fits128(liquidity) {
		return nil, fmt.Errorf("%w: liquidity exceeds u128", clmmerr.ErrMathOverflow)
	}
	if _, ok := p.Positions[id]; ok {
		return nil, fmt.Errorf("%w: %s", clmmerr.ErrPositionExists, id)
	}
	var opened *position.Position
	err := p.atomically(func(next *Pool) error {
		pos := position.NewPosition(id, next.ID, owner, tickLower, tickUpper)
		if err := next.modifyPosition(pos, liquidity); err != nil {
			return err
		}
		next.Positions[id] = pos
		opened = pos.Clone()
		return nil
	})
	return opened, err
}

// IncreaseLiquidity adds the liquidity the two amounts buy to an open
// position and returns it.
func (p *Pool) IncreaseLiquidity(id solana.PublicKey, amount0, amount1 uint64) (*ui.Int, error) {
	pos, err := p.Position(id)
	if err != nil {
		return nil, err
	}
	liquidity, err := p.LiquidityForAmounts(pos.TickLowerIndex, pos.TickUpperIndex, amount0, amount1)
	if err != nil {
		return nil, err
	}
	err = p.atomically(func(next *Pool) error {
		return next.modifyPosition(next.Positions[id], liquidity)
	})
	if err != nil {
		return nil, err
	}
	return liquidity, nil
}

// DecreaseLiquidity removes liquidity from a position. What it is worth at
// the current price is credited to the position's owed balances and
// returned. It fails with ErrExcessiveSlippage when either amount falls
// below its minimum.
func (p *Pool) DecreaseLiquidity(id solana.PublicKey, liquidity, minAmount0, minAmount1 *ui.Int) (amount0, amount1 *ui.Int, err error) {
	pos, err := p.Position(id)
	if err != nil {
		return nil, nil, err
	}
	if liquidity.IsZero() {
		return nil, nil, fmt.Errorf("%w: liquidity", clmmerr.ErrZeroAmount)
	}
	if liquidity.Gt(pos.Liquidity) {
		return nil, nil, fmt.Errorf("%w: requested %s, position holds %s", clmmerr.ErrInsufficientLiquidity, liquidity.Dec(), pos.Liquidity.Dec())
	}
	amount0, amount1, err = p.AmountsForLiquidity(pos.TickLowerIndex, pos.TickUpperIndex, liquidity, false)
	if err != nil {
		return nil, nil, err
	}
	if minAmount0 != nil && amount0.Lt(minAmount0) || minAmount1 != nil && amount1.Lt(minAmount1) {
		return nil, nil, fmt.Errorf("%w: out (%s, %s) below minimum (%s, %s)", clmmerr.ErrExcessiveSlippage,
			amount0.Dec(), amount1.Dec(), decOrZero(minAmount0), decOrZero(minAmount1))
	}
	err = p.atomically(func(next *Pool) error {
		pos := next.Positions[id]
		if err := next.modifyPosition(pos, new(ui.Int).Neg(liquidity)); err != nil {
			return err
		}
		return pos.Credit(amount0, amount1)
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func decOrZero(v *ui.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// CollectFees settles a position and hands back everything it is owed.
func (p *Pool) CollectFees(id solana.PublicKey) (amount0, amount1 *ui.Int, err error) {
	if _, err := p.Position(id); err != nil {
		return nil, nil, err
	}
	err = p.atomically(func(next *Pool) error {
		pos := next.Positions[id]
		inside0, inside1, err := next.FeeGrowthInside(pos.TickLowerIndex, pos.TickUpperIndex)
		if err != nil {
			return err
		}
		if err := pos.Update(cons.Zero, inside0, inside1); err != nil {
			return err
		}
		amount0, amount1 = pos.Collect()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// ClosePosition removes a position that holds no liquidity and is owed
// nothing.
func (p *Pool) ClosePosition(id solana.PublicKey) error {
	pos, err := p.Position(id)
	if err != nil {
		return err
	}
	if !pos.IsEmpty() {
		return fmt.Errorf("%w: liquidity %s, owed (%s, %s)", clmmerr.ErrPositionNotEmpty,
			pos.Liquidity.Dec(), pos.TokensOwed0.Dec(), pos.TokensOwed1.Dec())
	}
	delete(p.Positions, id)
	return nil
}

// UpdateFeeRates changes the trading and protocol fee rates. A nil argument
// leaves that rate unchanged.
func (p *Pool) UpdateFeeRates(feeRate *uint32, protocolFeeRate *uint8) error {
	if feeRate != nil {
		if err := fees.ValidateFeeRate(*feeRate); err != nil {
			return err
		}
	}
	if protocolFeeRate != nil {
		if err := fees.ValidateProtocolFeeRate(*protocolFeeRate); err != nil {
			return err
		}
	}
	if feeRate != nil {
		p.FeeRate = *feeRate
	}
	if protocolFeeRate != nil {
		p.ProtocolFeeRate = *protocolFeeRate
	}
	return nil
}

// CollectProtocolFees returns the accrued protocol fees and zeroes them.
func (p *Pool) CollectProtocolFees() (amount0, amount1 *ui.Int) {
	amount0, amount1 = p.ProtocolFees0, p.ProtocolFees1
	p.ProtocolFees0, p.ProtocolFees1 = ui.NewInt(0), ui.NewInt(0)
	return amount0, amount1
}

// CrossTick moves the pool across an initialized tick: the active liquidity
// takes the tick's net liquidity and the tick's outside growth flips.
func (p *Pool) CrossTick(tickIndex int32) error {
	arr, err := p.TickArrays.Get(tickIndex)
	if err != nil {
		return err
	}
	liquidity, err := arr.CrossTick(tickIndex, p.TickCurrent, p.Liquidity, p.FeeGrowthGlobal0X64, p.FeeGrowthGlobal1X64)
	if err != nil {
		return err
	}
	p.Liquidity = liquidity
	return nil
}
