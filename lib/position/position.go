package position

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/fees"
	"github.com/btb-finance/clmm-core/lib/fullmath"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
)

// Position is a liquidity provider's stake in [TickLowerIndex, TickUpperIndex)
// of one pool.
type Position struct {
	ID                      solana.PublicKey
	Pool                    solana.PublicKey
	Owner                   solana.PublicKey
	TickLowerIndex          int32
	TickUpperIndex          int32
	Liquidity               *ui.Int
	FeeGrowthInside0LastX64 *ui.Int
	FeeGrowthInside1LastX64 *ui.Int
	TokensOwed0             *ui.Int
	TokensOwed1             *ui.Int
}

func NewPosition(id, pool, owner solana.PublicKey, tickLower, tickUpper int32) *Position {
	return &Position{
		ID:                      id,
		Pool:                    pool,
		Owner:                   owner,
		TickLowerIndex:          tickLower,
		TickUpperIndex:          tickUpper,
		Liquidity:               ui.NewInt(0),
		FeeGrowthInside0LastX64: ui.NewInt(0),
		FeeGrowthInside1LastX64: ui.NewInt(0),
		TokensOwed0:             ui.NewInt(0),
		TokensOwed1:             ui.NewInt(0),
	}
}

func (p *Position) Clone() *Position {
	return &Position{
		ID:                      p.ID,
		Pool:                    p.Pool,
		Owner:                   p.Owner,
		TickLowerIndex:          p.TickLowerIndex,
		TickUpperIndex:          p.TickUpperIndex,
		Liquidity:               p.Liquidity.Clone(),
		FeeGrowthInside0LastX64: p.FeeGrowthInside0LastX64.Clone(),
		FeeGrowthInside1LastX64: p.FeeGrowthInside1LastX64.Clone(),
		TokensOwed0:             p.TokensOwed0.Clone(),
		TokensOwed1:             p.TokensOwed1.Clone(),
	}
}

// ValidateRange checks lower < upper, both in bounds and on the spacing grid.
func ValidateRange(tickLower, tickUpper int32, tickSpacing uint16) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: lower %d >= upper %d", clmmerr.ErrInvalidTickRange, tickLower, tickUpper)
	}
	for _, tick := range []int32{tickLower, tickUpper} {
		if tick < cons.MinTick || tick > cons.MaxTick {
			return fmt.Errorf("%w: %d outside [%d, %d]", clmmerr.ErrInvalidTickIndex, tick, cons.MinTick, cons.MaxTick)
		}
		if tickSpacing == 0 || tick%int32(tickSpacing) != 0 {
			return fmt.Errorf("%w: %d not a multiple of spacing %d", clmmerr.ErrInvalidTickIndex, tick, tickSpacing)
		}
	}
	return nil
}

// InRange reports whether tickCurrent lies in [TickLowerIndex, TickUpperIndex).
func (p *Position) InRange(tickCurrent int32) bool {
	return tickCurrent >= p.TickLowerIndex && tickCurrent < p.TickUpperIndex
}

func (p *Position) IsEmpty() bool {
	return p.Liquidity.IsZero() && p.TokensOwed0.IsZero() && p.TokensOwed1.IsZero()
}

// Update settles the fees earned since the last snapshot into tokens owed,
// moves the snapshot to the given inside growth and applies liquidityDelta
// (two's complement). The position is unchanged on error.
func (p *Position) Update(liquidityDelta, feeGrowthInside0X64, feeGrowthInside1X64 *ui.Int) error {
	liquidityNext, err := fullmath.AddDelta128(p.Liquidity, liquidityDelta)
	if err != nil {
		if liquidityDelta.Sign() < 0 {
			return fmt.Errorf("%w: position holds %s", clmmerr.ErrInsufficientLiquidity, p.Liquidity.Dec())
		}
		return err
	}
	owed0, err := fees.ComputeUncollectedFees(p.Liquidity, feeGrowthInside0X64, p.FeeGrowthInside0LastX64)
	if err != nil {
		return err
	}
	owed1, err := fees.ComputeUncollectedFees(p.Liquidity, feeGrowthInside1X64, p.FeeGrowthInside1LastX64)
	if err != nil {
		return err
	}
	tokensOwed0, err := fullmath.CheckedAdd128(p.TokensOwed0, owed0)
	if err != nil {
		return err
	}
	tokensOwed1, err := fullmath.CheckedAdd128(p.TokensOwed1, owed1)
	if err != nil {
		return err
	}

	p.Liquidity = liquidityNext
	p.FeeGrowthInside0LastX64 = feeGrowthInside0X64.Clone()
	p.FeeGrowthInside1LastX64 = feeGrowthInside1X64.Clone()
	p.TokensOwed0 = tokensOwed0
	p.TokensOwed1 = tokensOwed1
	return nil
}

// Credit adds withdrawn principal to the owed balances.
func (p *Position) Credit(amount0, amount1 *ui.Int) error {
	tokensOwed0, err := fullmath.CheckedAdd128(p.TokensOwed0, amount0)
	if err != nil {
		return err
	}
	tokensOwed1, err := fullmath.CheckedAdd128(p.TokensOwed1, amount1)
	if err != nil {
		return err
	}
	p.TokensOwed0, p.TokensOwed1 = tokensOwed0, tokensOwed1
	return nil
}

// Collect returns everything owed and resets the balances.
func (p *Position) Collect() (amount0, amount1 *ui.Int) {
	amount0, amount1 = p.TokensOwed0, p.TokensOwed1
	p.TokensOwed0, p.TokensOwed1 = ui.NewInt(0), ui.NewInt(0)
	return amount0, amount1
}
