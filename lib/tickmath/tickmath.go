package tickmath

import (
	"fmt"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"

	ui "github.com/holiman/uint256"
)

const (
	MinTick = cons.MinTick // The minimum tick that can be used on any pool.
	MaxTick = cons.MaxTick // The maximum tick that can be used on any pool.
)

var (
	MinSqrtPriceX64 = cons.MinSqrtPriceX64
	MaxSqrtPriceX64 = cons.MaxSqrtPriceX64
)

// sqrt(1.0001)^(2^i) as Q32.96, for positive ticks.
var positiveFactors = [19]*ui.Int{
	ui.MustFromDecimal("79232123823359799118286999567"),
	ui.MustFromDecimal("79236085330515764027303304731"),
	ui.MustFromDecimal("79244008939048815603706035061"),
	ui.MustFromDecimal("79259858533276714757314932305"),
	ui.MustFromDecimal("79291567232598584799939703904"),
	ui.MustFromDecimal("79355022692464371645785046466"),
	ui.MustFromDecimal("79482085999252804386437311141"),
	ui.MustFromDecimal("79736823300114093921829183326"),
	ui.MustFromDecimal("80248749790819932309965073892"),
	ui.MustFromDecimal("81282483887344747381513967011"),
	ui.MustFromDecimal("83390072131320151908154831281"),
	ui.MustFromDecimal("87770609709833776024991924138"),
	ui.MustFromDecimal("97234110755111693312479820773"),
	ui.MustFromDecimal("119332217159966728226237229890"),
	ui.MustFromDecimal("179736315981702064433883588727"),
	ui.MustFromDecimal("407748233172238350107850275304"),
	ui.MustFromDecimal("2098478828474011932436660412517"),
	ui.MustFromDecimal("55581415166113811149459800483533"),
	ui.MustFromDecimal("38992368544603139932233054999993551"),
}

// 1/sqrt(1.0001)^(2^i) as Q64.64, for negative ticks.
var negativeFactors = [19]uint64{
	18445821805675392311,
	18444899583751176498,
	18443055278223354162,
	18439367220385604838,
	18431993317065449817,
	18417254355718160513,
	18387811781193591352,
	18329067761203520168,
	18212142134806087854,
	17980523815641551639,
	17526086738831147013,
	16651378430235024244,
	15030750278693429944,
	12247334978882834399,
	8131365268884726200,
	3584323654723342297,
	696457651847595233,
	26294789957452057,
	37481735321082,
}

// TickToSqrtPriceX64 returns sqrt(1.0001)^tick as a Q64.64.
func TickToSqrtPriceX64(tick int32) (*ui.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d outside [%d, %d]", clmmerr.ErrInvalidTickIndex, tick, MinTick, MaxTick)
	}
	if tick >= 0 {
		ratio := new(ui.Int).Set(cons.Q96)
		for i, factor := range positiveFactors {
			if tick&(1<<i) != 0 {
				ratio.Mul(ratio, factor)
				ratio.Rsh(ratio, 96)
			}
		}
		return ratio.Rsh(ratio, 32), nil
	}
	absTick := -tick
	ratio := new(ui.Int).Set(cons.Q64)
	factor := new(ui.Int)
	for i, f := range negativeFactors {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, factor.SetUint64(f))
			ratio.Rsh(ratio, 64)
		}
	}
	return ratio, nil
}

// MustTickToSqrtPriceX64 is for ticks already known to be in range.
func MustTickToSqrtPriceX64(tick int32) *ui.Int {
	p, err := TickToSqrtPriceX64(tick)
	if err != nil {
		panic(err)
	}
	return p
}

// SqrtPriceX64ToTick returns the greatest tick whose sqrt price does not
// exceed sqrtPriceX64.
func SqrtPriceX64ToTick(sqrtPriceX64 *ui.Int) (int32, error) {
	if sqrtPriceX64.Lt(MinSqrtPriceX64) || sqrtPriceX64.Gt(MaxSqrtPriceX64) {
		return 0, fmt.Errorf("%w: %s", clmmerr.ErrInvalidSqrtPrice, sqrtPriceX64.Dec())
	}
	l, r := MinTick, MaxTick
	for l < r {
		// Ticks never overflow, so we can use the mid as an index.
		mid := l + (r-l+1)/2
		if MustTickToSqrtPriceX64(mid).Gt(sqrtPriceX64) {
			r = mid - 1
		} else {
			l = mid
		}
	}
	return l, nil
}

// Floor rounds tick down to a multiple of spacing.
func Floor(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

func Ceil(tick, spacing int32) int32 {
	f := Floor(tick, spacing)
	if f == tick {
		return f
	}
	return f + spacing
}

func Round(tick, spacing int32) int32 {
	f := Floor(tick, spacing)
	if 2*(tick-f) >= spacing {
		return f + spacing
	}
	return f
}
