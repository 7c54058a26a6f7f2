package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	"github.com/btb-finance/clmm-core/lib/manager"
	ent "github.com/btb-finance/clmm-core/lib/transaction"
	"github.com/btb-finance/clmm-core/lib/transfer"

	ui "github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func replay(t *testing.T, path string) (*Execution, *transfer.Ledger, *ent.Scenario) {
	t.Helper()
	sc, err := ent.Load(path)
	require.NoError(t, err)
	ledger := transfer.NewLedger()
	m := manager.New(ledger, nil, zap.NewNop())
	return New(m, ledger, DefaultOptions, zap.NewNop()), ledger, sc
}

func TestRunTwoPools(t *testing.T) {
	exec, ledger, sc := replay(t, "testdata/two_pools.json")

	report, err := exec.Run(context.Background(), sc)
	require.NoError(t, err)
	for _, s := range report.Steps {
		assert.True(t, s.Passed, "step %d (%s): error=%q expect=%q", s.Index, s.Operation.Type, s.Error, s.ExpectError)
	}
	require.True(t, report.Passed())
	require.Len(t, report.Steps, len(sc.Operations))

	// the slippage failure moved nothing, so bob paid exactly the two sales
	bob, err := exec.Account("bob")
	require.NoError(t, err)
	sol, err := exec.Mint("SOL")
	require.NoError(t, err)
	bonk, err := exec.Mint("BONK")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000-1_000_000-100_000), ledger.Balance(bob, sol))
	assert.Equal(t, report.Steps[4].Amounts["amount_out"], fmt.Sprint(ledger.Balance(bob, bonk)))
	assert.Equal(t, "1000000", report.Steps[2].Amounts["amount_in"])
	assert.NotEqual(t, "0", report.Steps[5].Amounts["amount0"])
	last := report.Steps[len(report.Steps)-1]
	assert.Equal(t, ent.OpDecrease, last.Operation.Type)
	assert.Contains(t, last.Error, clmmerr.ErrExcessiveSlippage.Error())

	require.Len(t, report.Pools, 2)
	solUsdc := report.Pools[0]
	assert.Equal(t, "sol-usdc", solUsdc.Name)
	assert.Equal(t, uint32(500), solUsdc.FeeRate)
	assert.Equal(t, "0", solUsdc.ProtocolFees0)
	assert.Less(t, solUsdc.TickCurrent, int32(0))
	require.Len(t, solUsdc.Positions, 1)
	assert.Equal(t, "lp1", solUsdc.Positions[0].Label)
	assert.Equal(t, "0", solUsdc.Positions[0].TokensOwed0)
	assert.NotEmpty(t, solUsdc.Price)

	assert.Contains(t, report.Balances, "alice")
	assert.Equal(t, fmt.Sprint(ledger.Balance(bob, sol)), report.Balances["bob"]["SOL"])
}

func TestRunRecordsUnexpectedOutcomes(t *testing.T) {
	sc, err := ent.Parse([]byte(`{
		"name": "broken",
		"mints": [{"name": "A"}, {"name": "B"}],
		"accounts": [{"name": "carol", "balances": {"A": "100"}}],
		"pools": [{"name": "a-b", "owner": "carol", "token0": "A", "token1": "B", "fee_rate": 3000, "protocol_fee_rate": 10, "tick_spacing": 1, "tick": 0}],
		"operations": [
			{"type": "swap", "caller": "carol", "pool": "a-b", "token_in": "A", "amount_in": "10"},
			{"type": "open", "caller": "carol", "pool": "a-b", "position": "p", "tick_lower": -10, "tick_upper": 10, "amount0": "100", "amount1": "100", "expect_error": "zero liquidity"}
		]
	}`))
	require.NoError(t, err)
	ledger := transfer.NewLedger()
	report, err := Run(context.Background(), manager.New(ledger, nil, nil), ledger, sc)
	require.NoError(t, err)

	require.Len(t, report.Steps, 2)
	assert.False(t, report.Passed())
	assert.Equal(t, 2, report.Failed)
	assert.Contains(t, report.Steps[0].Error, clmmerr.ErrZeroLiquidity.Error())
	assert.Contains(t, report.Steps[1].Error, clmmerr.ErrInsufficientBalance.Error())
}

func TestSetupErrors(t *testing.T) {
	cases := map[string]string{
		"unknown owner": `{"mints": [{"name": "A"}, {"name": "B"}], "pools": [{"name": "p", "owner": "x", "token0": "A", "token1": "B", "fee_rate": 1, "protocol_fee_rate": 1, "tick_spacing": 1, "tick": 0}]}`,
		"mint order":    `{"mints": [{"name": "A"}, {"name": "B"}], "accounts": [{"name": "x"}], "pools": [{"name": "p", "owner": "x", "token0": "B", "token1": "A", "fee_rate": 1, "protocol_fee_rate": 1, "tick_spacing": 1, "tick": 0}]}`,
		"duplicate":     `{"mints": [{"name": "A"}, {"name": "A"}]}`,
		"unknown mint":  `{"accounts": [{"name": "x", "balances": {"Z": "1"}}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			sc, err := ent.Parse([]byte(doc))
			require.NoError(t, err)
			ledger := transfer.NewLedger()
			_, err = Run(context.Background(), manager.New(ledger, nil, nil), ledger, sc)
			require.Error(t, err)
		})
	}
}

func TestMatches(t *testing.T) {
	wrapped := fmt.Errorf("hop 1: %w", clmmerr.ErrExcessiveSlippage)
	assert.True(t, matches(nil, ""))
	assert.False(t, matches(wrapped, ""))
	assert.True(t, matches(wrapped, "excessive slippage"))
	assert.False(t, matches(wrapped, "zero liquidity"))
	assert.True(t, matches(errors.New("unknown account \"x\""), "unknown account"))
	assert.False(t, matches(nil, "zero liquidity"))
}

func TestQuoteLeavesPoolUntouched(t *testing.T) {
	exec, _, sc := replay(t, "testdata/two_pools.json")
	_, err := exec.Run(context.Background(), sc)
	require.NoError(t, err)

	id, err := exec.Pool("sol-usdc")
	require.NoError(t, err)
	before, err := exec.manager.Pool(id)
	require.NoError(t, err)

	res, err := exec.Quote("sol-usdc", "USDC", ui.NewInt(50_000))
	require.NoError(t, err)
	assert.True(t, res.AmountOut.Sign() > 0)
	assert.True(t, res.SqrtPriceX64.Gt(before.SqrtPriceX64))

	after, err := exec.manager.Pool(id)
	require.NoError(t, err)
	assert.True(t, after.SqrtPriceX64.Eq(before.SqrtPriceX64))

	_, err = exec.Quote("sol-usdc", "BONK", ui.NewInt(1))
	assert.ErrorIs(t, err, clmmerr.ErrInvalidRoute)
}
