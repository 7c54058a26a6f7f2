package prices

import (
	"errors"
	"testing"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"

	"github.com/shopspring/decimal"
)

func TestSqrtPriceX64ToPrice(t *testing.T) {
	tests := []struct {
		name                 string
		decimals0, decimals1 uint8
		want                 string
	}{
		{"same decimals", 6, 6, "1"},
		{"sol usdc", 9, 6, "1000"},
		{"usdc sol", 6, 9, "0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SqrtPriceX64ToPrice(cons.Q64, tt.decimals0, tt.decimals1)
			if !result.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("want=%v result=%v", tt.want, result)
			}
		})
	}
}

func TestPriceToSqrtPriceX64(t *testing.T) {
	result, err := PriceToSqrtPriceX64(decimal.NewFromInt(1000), 9, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Eq(cons.Q64) {
		t.Fatalf("want=%v result=%v", cons.Q64, result)
	}

	for _, price := range []string{"0", "-1", "1e40", "1e-40"} {
		if _, err := PriceToSqrtPriceX64(decimal.RequireFromString(price), 6, 6); !errors.Is(err, clmmerr.ErrInvalidSqrtPrice) {
			t.Fatalf("price %s: want=%v result=%v", price, clmmerr.ErrInvalidSqrtPrice, err)
		}
	}
}

func TestTickToPrice(t *testing.T) {
	result, err := TickToPrice(100, 6, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1.0001^100
	want := decimal.RequireFromString("1.0100496620928754")
	if result.Sub(want).Abs().GreaterThan(decimal.New(1, -12)) {
		t.Fatalf("want=%v result=%v", want, result)
	}

	tick, err := PriceToTick(result.Add(decimal.New(1, -12)), 6, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != 100 {
		t.Fatalf("want=100 result=%d", tick)
	}
}
