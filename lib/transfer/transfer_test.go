package transfer

import (
	"context"
	"math"
	"testing"

	"github.com/btb-finance/clmm-core/lib/clmmerr"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mintA = solana.PublicKey{1}
	mintB = solana.PublicKey{2}
	alice = solana.PublicKey{10}
	vault = solana.PublicKey{20}
)

func TestLedgerExecute(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(alice, mintA, 1000))
	require.NoError(t, l.Credit(alice, mintB, 50))

	err := l.Execute(context.Background(), []Transfer{
		{Mint: mintA, From: alice, To: vault, Authority: alice, Amount: 600},
		{Mint: mintB, From: alice, To: vault, Authority: alice, Amount: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(400), l.Balance(alice, mintA))
	assert.Equal(t, uint64(600), l.Balance(vault, mintA))
	assert.Equal(t, uint64(0), l.Balance(alice, mintB))
	assert.Equal(t, uint64(50), l.Balance(vault, mintB))
}

func TestLedgerBatchIsAllOrNothing(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(alice, mintA, 1000))

	err := l.Execute(context.Background(), []Transfer{
		{Mint: mintA, From: alice, To: vault, Amount: 600},
		{Mint: mintA, From: alice, To: vault, Amount: 600},
	})
	require.ErrorIs(t, err, clmmerr.ErrInsufficientBalance)
	assert.Equal(t, uint64(1000), l.Balance(alice, mintA))
	assert.Equal(t, uint64(0), l.Balance(vault, mintA))
}

func TestLedgerChainedTransfers(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(alice, mintA, 100))

	// vault can spend what it receives earlier in the same batch
	err := l.Execute(context.Background(), []Transfer{
		{Mint: mintA, From: alice, To: vault, Amount: 100},
		{Mint: mintA, From: vault, To: alice, Amount: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(30), l.Balance(alice, mintA))
	assert.Equal(t, uint64(70), l.Balance(vault, mintA))
}

func TestLedgerOverflowAndCancel(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(alice, mintA, math.MaxUint64))
	require.ErrorIs(t, l.Credit(alice, mintA, 1), clmmerr.ErrMathOverflow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Execute(ctx, []Transfer{{Mint: mintA, From: alice, To: vault, Amount: 1}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), l.Balance(vault, mintA))
}
