package liquidity_amounts

import (
	"errors"
	"testing"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/tickmath"

	ui "github.com/holiman/uint256"
)

var (
	priceOne  = cons.Q64.Clone()
	priceFour = new(ui.Int).Lsh(cons.Q64, 1)
)

func TestGetLiquidityForAmounts(t *testing.T) {
	tests := []struct {
		name             string
		amount0, amount1 uint64
		want             uint64
	}{
		{"token0 binds", 1_000_000, 1_000_000, 1_000_000},
		{"token1 binds", 1_000_000, 100_000, 200_000},
		{"no token1", 1_000_000, 0, 0},
		{"no token0", 0, 1_000_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := GetLiquidityForAmounts(priceOne, priceFour, ui.NewInt(tt.amount0), ui.NewInt(tt.amount1))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Uint64() != tt.want {
				t.Fatalf("want=%v result=%v", tt.want, result)
			}
		})
	}
}

func TestGetLiquidityForAmountsIsMinimum(t *testing.T) {
	lower := tickmath.MustTickToSqrtPriceX64(-100)
	upper := tickmath.MustTickToSqrtPriceX64(100)
	amount0, amount1 := ui.NewInt(5_000), ui.NewInt(7_000)
	l0, _ := GetLiquidityForAmount0(lower, upper, amount0)
	l1, _ := GetLiquidityForAmount1(lower, upper, amount1)
	result, err := GetLiquidityForAmounts(upper, lower, amount0, amount1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := l0
	if l1.Lt(l0) {
		want = l1
	}
	if result.IsZero() || !result.Eq(want) {
		t.Fatalf("want=%v result=%v", want, result)
	}
}

func TestGetAmountsForLiquidity(t *testing.T) {
	sqrtOneAndAHalf := new(ui.Int).Add(priceOne, new(ui.Int).Rsh(priceOne, 1))
	tests := []struct {
		name             string
		current          *ui.Int
		amount0, amount1 uint64
	}{
		{"below range", priceOne, 500_000, 0},
		{"above range", priceFour, 0, 1_000_000},
		// L*(2-1.5)/(1.5*2) and L*(1.5-1)
		{"in range", sqrtOneAndAHalf, 166_666, 500_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount0, amount1, err := GetAmountsForLiquidity(tt.current, priceOne, priceFour, ui.NewInt(1_000_000), false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if amount0.Uint64() != tt.amount0 || amount1.Uint64() != tt.amount1 {
				t.Fatalf("want=(%v, %v) result=(%v, %v)", tt.amount0, tt.amount1, amount0, amount1)
			}
		})
	}
}

func TestGetAmountsForLiquidityRounding(t *testing.T) {
	lower := tickmath.MustTickToSqrtPriceX64(-3000)
	upper := tickmath.MustTickToSqrtPriceX64(1200)
	current := tickmath.MustTickToSqrtPriceX64(-7)
	liquidity := ui.NewInt(123_456_789)
	down0, down1, err := GetAmountsForLiquidity(current, lower, upper, liquidity, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	up0, up1, err := GetAmountsForLiquidity(current, lower, upper, liquidity, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if down0.Gt(up0) || down1.Gt(up1) {
		t.Fatalf("withdrawal (%v, %v) exceeds deposit (%v, %v)", down0, down1, up0, up1)
	}
	if new(ui.Int).Sub(up0, down0).Uint64() > 2 || new(ui.Int).Sub(up1, down1).Uint64() > 2 {
		t.Fatalf("rounding gap too wide: (%v, %v) vs (%v, %v)", down0, down1, up0, up1)
	}
}

func TestEmptyRange(t *testing.T) {
	if _, err := GetLiquidityForAmounts(priceOne, priceOne, ui.NewInt(1), ui.NewInt(1)); !errors.Is(err, clmmerr.ErrDivideByZero) {
		t.Fatalf("want=%v result=%v", clmmerr.ErrDivideByZero, err)
	}
}
