package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/btb-finance/clmm-core/lib/clmmerr"

	"github.com/gagliardetto/solana-go"
)

// Transfer moves Amount of Mint from one token account to another. Authority
// is the signer the move is made on behalf of.
type Transfer struct {
	Mint      solana.PublicKey
	From      solana.PublicKey
	To        solana.PublicKey
	Authority solana.PublicKey
	Amount    uint64
}

// Transferer executes a batch of transfers. Either every transfer in the
// batch lands or none does.
type Transferer interface {
	Execute(ctx context.Context, transfers []Transfer) error
}

type account struct {
	owner solana.PublicKey
	mint  solana.PublicKey
}

// Ledger is an in-memory Transferer keyed by (owner, mint).
type Ledger struct {
	mu       sync.Mutex
	balances map[account]uint64
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[account]uint64)}
}

// Credit mints amount of mint into owner's balance.
func (l *Ledger) Credit(owner, mint solana.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := account{owner, mint}
	next := l.balances[key] + amount
	if next < amount {
		return fmt.Errorf("%w: crediting %d to %s", clmmerr.ErrMathOverflow, amount, owner)
	}
	l.balances[key] = next
	return nil
}

func (l *Ledger) Balance(owner, mint solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account{owner, mint}]
}

// Execute applies the batch in order after checking it against a scratch
// copy of the touched balances.
func (l *Ledger) Execute(ctx context.Context, transfers []Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[account]uint64)
	get := func(k account) uint64 {
		if v, ok := scratch[k]; ok {
			return v
		}
		return l.balances[k]
	}
	for i, t := range transfers {
		from, to := account{t.From, t.Mint}, account{t.To, t.Mint}
		have := get(from)
		if have < t.Amount {
			return fmt.Errorf("%w: transfer %d needs %d of %s from %s, has %d",
				clmmerr.ErrInsufficientBalance, i, t.Amount, t.Mint, t.From, have)
		}
		scratch[from] = have - t.Amount
		received := get(to) + t.Amount
		if received < t.Amount {
			return fmt.Errorf("%w: transfer %d overflows %s", clmmerr.ErrMathOverflow, i, t.To)
		}
		scratch[to] = received
	}
	for k, v := range scratch {
		l.balances[k] = v
	}
	return nil
}
