package constants

import (
	ui "github.com/holiman/uint256"
)

const (
	MinTick int32 = -443636
	MaxTick int32 = -MinTick

	TickArraySize = 88

	FeeDenominator         = 1_000_000
	MaxFeeRate             = 100_000
	ProtocolFeeDenominator = 100
	MinProtocolFeeRate     = 1
	MaxProtocolFeeRate     = 25
	MinTickSpacing         = 1
	MaxTickSpacing         = 100
)

var (
	Zero       = new(ui.Int)
	One        = new(ui.Int).SetOne()
	Q64        = new(ui.Int).Lsh(One, 64)
	Q96        = new(ui.Int).Lsh(One, 96)
	Q128       = new(ui.Int).Lsh(One, 128)
	MaxUint64  = new(ui.Int).SetUint64(^uint64(0))
	MaxUint128 = new(ui.Int).Sub(Q128, One)

	// sqrt prices at MinTick and MaxTick as Q64.64
	MinSqrtPriceX64 = ui.NewInt(4295048016)
	MaxSqrtPriceX64 = ui.MustFromDecimal("79226673515401279992447579055")

	FeeDenominatorInt         = ui.NewInt(FeeDenominator)
	ProtocolFeeDenominatorInt = ui.NewInt(ProtocolFeeDenominator)
)
