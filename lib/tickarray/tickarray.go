package tickarray

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/fees"
	fm "github.com/btb-finance/clmm-core/lib/fullmath"

	ui "github.com/holiman/uint256"
)

const Size = cons.TickArraySize

// Tick is one initialized-or-not price point. LiquidityNet is a two's
// complement signed value.
type Tick struct {
	Index                int32
	LiquidityNet         ui.Int
	LiquidityGross       ui.Int
	FeeGrowthOutside0X64 ui.Int
	FeeGrowthOutside1X64 ui.Int
}

func (t *Tick) IsInitialized() bool {
	return !t.LiquidityGross.IsZero()
}

func (t *Tick) Boundary() fees.Boundary {
	return fees.Boundary{
		Index:    t.Index,
		Outside0: t.FeeGrowthOutside0X64.Clone(),
		Outside1: t.FeeGrowthOutside1X64.Clone(),
	}
}

// TickArray holds Size consecutive usable ticks starting at StartTickIndex.
// Slot i holds tick StartTickIndex + i*TickSpacing.
type TickArray struct {
	StartTickIndex int32
	TickSpacing    uint16
	Ticks          [Size]Tick
}

func ValidateTickSpacing(tickSpacing uint16) error {
	if tickSpacing < cons.MinTickSpacing || tickSpacing > cons.MaxTickSpacing {
		return fmt.Errorf("%w: %d outside [%d, %d]", clmmerr.ErrInvalidTickSpacing,
			tickSpacing, cons.MinTickSpacing, cons.MaxTickSpacing)
	}
	return nil
}

func InitializeTickArray(startTickIndex int32, tickSpacing uint16) (*TickArray, error) {
	if err := ValidateTickSpacing(tickSpacing); err != nil {
		return nil, err
	}
	spacing := int32(tickSpacing)
	if startTickIndex%spacing != 0 {
		return nil, fmt.Errorf("%w: start %d not a multiple of spacing %d", clmmerr.ErrInvalidTickIndex, startTickIndex, spacing)
	}
	last := startTickIndex + (Size-1)*spacing
	if startTickIndex > cons.MaxTick || last < cons.MinTick {
		return nil, fmt.Errorf("%w: array at %d holds no usable tick", clmmerr.ErrInvalidTickIndex, startTickIndex)
	}
	a := &TickArray{StartTickIndex: startTickIndex, TickSpacing: tickSpacing}
	for i := range a.Ticks {
		a.Ticks[i].Index = startTickIndex + int32(i)*spacing
	}
	return a, nil
}

// Span is the number of raw tick indices one array covers.
func (a *TickArray) Span() int32 {
	return Size * int32(a.TickSpacing)
}

func (a *TickArray) Contains(tickIndex int32) bool {
	return tickIndex >= a.StartTickIndex && tickIndex < a.StartTickIndex+a.Span()
}

func (a *TickArray) slot(tickIndex int32) (int, error) {
	if !a.Contains(tickIndex) {
		return 0, fmt.Errorf("%w: %d outside array [%d, %d)", clmmerr.ErrInvalidTickIndex,
			tickIndex, a.StartTickIndex, a.StartTickIndex+a.Span())
	}
	offset := tickIndex - a.StartTickIndex
	if offset%int32(a.TickSpacing) != 0 {
		return 0, fmt.Errorf("%w: %d not a multiple of spacing %d", clmmerr.ErrInvalidTickIndex, tickIndex, a.TickSpacing)
	}
	if tickIndex < cons.MinTick || tickIndex > cons.MaxTick {
		return 0, fmt.Errorf("%w: %d outside [%d, %d]", clmmerr.ErrInvalidTickIndex, tickIndex, cons.MinTick, cons.MaxTick)
	}
	return int(offset / int32(a.TickSpacing)), nil
}

func (a *TickArray) Tick(tickIndex int32) (*Tick, error) {
	i, err := a.slot(tickIndex)
	if err != nil {
		return nil, err
	}
	return &a.Ticks[i], nil
}

// UpdateTick applies a position's signed liquidity delta to one of its
// boundary ticks. The lower bound gains delta in net liquidity, the upper
// bound loses it; gross liquidity moves by delta on both. A tick that becomes
// referenced at or below the current tick starts with all growth counted as
// outside. It reports whether the tick flipped between unreferenced and
// referenced.
func (a *TickArray) UpdateTick(tickIndex int32, liquidityDelta *ui.Int, upper bool, tickCurrent int32, feeGrowthGlobal0X64, feeGrowthGlobal1X64 *ui.Int) (bool, error) {
	tick, err := a.Tick(tickIndex)
	if err != nil {
		return false, err
	}

	grossBefore := tick.LiquidityGross.Clone()
	grossAfter, err := fm.AddDelta128(grossBefore, liquidityDelta)
	if err != nil {
		if liquidityDelta.Sign() < 0 {
			return false, fmt.Errorf("%w: tick %d gross liquidity", clmmerr.ErrInsufficientLiquidity, tickIndex)
		}
		return false, err
	}

	netAfter := new(ui.Int)
	if upper {
		netAfter.Sub(&tick.LiquidityNet, liquidityDelta)
	} else {
		netAfter.Add(&tick.LiquidityNet, liquidityDelta)
	}
	if !fm.FitsInt128(netAfter) {
		return false, fmt.Errorf("%w: tick %d net liquidity", clmmerr.ErrMathOverflow, tickIndex)
	}

	flipped := grossBefore.IsZero() != grossAfter.IsZero()
	if grossBefore.IsZero() && tickIndex <= tickCurrent {
		tick.FeeGrowthOutside0X64.Set(feeGrowthGlobal0X64)
		tick.FeeGrowthOutside1X64.Set(feeGrowthGlobal1X64)
	}
	tick.LiquidityGross.Set(grossAfter)
	tick.LiquidityNet.Set(netAfter)
	if grossAfter.IsZero() {
		*tick = Tick{Index: tick.Index}
	}
	return flipped, nil
}

// CrossTick moves liquidity across tickIndex and flips its outside fee
// growth. Moving down (tickCurrent >= tickIndex) removes the tick's net
// liquidity, moving up adds it.
func (a *TickArray) CrossTick(tickIndex, tickCurrent int32, liquidity, feeGrowthGlobal0X64, feeGrowthGlobal1X64 *ui.Int) (*ui.Int, error) {
	tick, err := a.Tick(tickIndex)
	if err != nil {
		return nil, err
	}
	var next *ui.Int
	if tickCurrent >= tickIndex {
		next, err = fm.SubDelta128(liquidity, &tick.LiquidityNet)
	} else {
		next, err = fm.AddDelta128(liquidity, &tick.LiquidityNet)
	}
	if err != nil {
		return nil, fmt.Errorf("crossing tick %d: %w", tickIndex, err)
	}
	tick.FeeGrowthOutside0X64.Set(fm.WrappingSub128(feeGrowthGlobal0X64, &tick.FeeGrowthOutside0X64))
	tick.FeeGrowthOutside1X64.Set(fm.WrappingSub128(feeGrowthGlobal1X64, &tick.FeeGrowthOutside1X64))
	return next, nil
}
