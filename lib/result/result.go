// Package result holds the report a scenario replay produces.
package result

import (
	"encoding/json"

	"github.com/btb-finance/clmm-core/lib/pool"
	"github.com/btb-finance/clmm-core/lib/prices"
	"github.com/btb-finance/clmm-core/lib/transaction"
)

// Step is the outcome of one operation.
type Step struct {
	Index       int                   `json:"index"`
	Operation   transaction.Operation `json:"operation"`
	Error       string                `json:"error,omitempty"`
	ExpectError string                `json:"expect_error,omitempty"`
	Passed      bool                  `json:"passed"`
	Amounts     map[string]string     `json:"amounts,omitempty"`
}

type PositionSummary struct {
	Label       string `json:"label"`
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	TickLower   int32  `json:"tick_lower"`
	TickUpper   int32  `json:"tick_upper"`
	Liquidity   string `json:"liquidity"`
	TokensOwed0 string `json:"tokens_owed0"`
	TokensOwed1 string `json:"tokens_owed1"`
}

type PoolSummary struct {
	Name                string            `json:"name"`
	ID                  string            `json:"id"`
	TokenMint0          string            `json:"token_mint0"`
	TokenMint1          string            `json:"token_mint1"`
	FeeRate             uint32            `json:"fee_rate"`
	ProtocolFeeRate     uint8             `json:"protocol_fee_rate"`
	SqrtPriceX64        string            `json:"sqrt_price_x64"`
	TickCurrent         int32             `json:"tick_current"`
	Price               string            `json:"price"`
	Liquidity           string            `json:"liquidity"`
	FeeGrowthGlobal0X64 string            `json:"fee_growth_global0_x64"`
	FeeGrowthGlobal1X64 string            `json:"fee_growth_global1_x64"`
	ProtocolFees0       string            `json:"protocol_fees0"`
	ProtocolFees1       string            `json:"protocol_fees1"`
	Positions           []PositionSummary `json:"positions"`
}

type Report struct {
	Scenario string                       `json:"scenario"`
	Steps    []Step                       `json:"steps"`
	Failed   int                          `json:"failed"`
	Pools    []PoolSummary                `json:"pools"`
	Balances map[string]map[string]string `json:"balances"`
}

// Record appends a step and counts it if it did not go as expected.
func (r *Report) Record(s Step) {
	s.Index = len(r.Steps)
	if !s.Passed {
		r.Failed++
	}
	r.Steps = append(r.Steps, s)
}

func (r *Report) Passed() bool {
	return r.Failed == 0
}

func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summarize captures a pool's state, pricing token0 in token1 with the mint
// decimals applied. labels maps position ids back to scenario labels.
func Summarize(name string, p *pool.Pool, decimals0, decimals1 uint8, labels map[string]string) PoolSummary {
	s := PoolSummary{
		Name:                name,
		ID:                  p.ID.String(),
		TokenMint0:          p.TokenMint0.String(),
		TokenMint1:          p.TokenMint1.String(),
		FeeRate:             p.FeeRate,
		ProtocolFeeRate:     p.ProtocolFeeRate,
		SqrtPriceX64:        p.SqrtPriceX64.Dec(),
		TickCurrent:         p.TickCurrent,
		Price:               prices.SqrtPriceX64ToPrice(p.SqrtPriceX64, decimals0, decimals1).String(),
		Liquidity:           p.Liquidity.Dec(),
		FeeGrowthGlobal0X64: p.FeeGrowthGlobal0X64.Dec(),
		FeeGrowthGlobal1X64: p.FeeGrowthGlobal1X64.Dec(),
		ProtocolFees0:       p.ProtocolFees0.Dec(),
		ProtocolFees1:       p.ProtocolFees1.Dec(),
		Positions:           []PositionSummary{},
	}
	for _, id := range p.PositionIDs() {
		pos := p.Positions[id]
		s.Positions = append(s.Positions, PositionSummary{
			Label:       labels[id.String()],
			ID:          id.String(),
			Owner:       pos.Owner.String(),
			TickLower:   pos.TickLowerIndex,
			TickUpper:   pos.TickUpperIndex,
			Liquidity:   pos.Liquidity.Dec(),
			TokensOwed0: pos.TokensOwed0.Dec(),
			TokensOwed1: pos.TokensOwed1.Dec(),
		})
	}
	return s
}
