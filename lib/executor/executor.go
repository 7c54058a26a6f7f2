// Package executor replays a scenario against a Manager: it funds the named
// accounts, creates the pools and applies every operation in order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	"github.com/btb-finance/clmm-core/lib/manager"
	"github.com/btb-finance/clmm-core/lib/pool"
	"github.com/btb-finance/clmm-core/lib/result"
	"github.com/btb-finance/clmm-core/lib/tickmath"
	ent "github.com/btb-finance/clmm-core/lib/transaction"
	"github.com/btb-finance/clmm-core/lib/transfer"

	"github.com/gagliardetto/solana-go"
	ui "github.com/holiman/uint256"
	"go.uber.org/zap"
)

const maxNamed = 255

// Options carry the decimals used for pricing when a mint declares none.
type Options struct {
	Decimals0 uint8
	Decimals1 uint8
}

var DefaultOptions = Options{Decimals0: 9, Decimals1: 6}

type positionRef struct {
	pool solana.PublicKey
	id   solana.PublicKey
}

type Execution struct {
	manager *manager.Manager
	ledger  *transfer.Ledger
	opts    Options
	logger  *zap.Logger

	mints     map[string]solana.PublicKey
	mintNames []string
	decimals  map[string]*uint8
	accounts  map[string]solana.PublicKey
	accNames  []string
	pools     map[string]solana.PublicKey
	poolNames []string
	positions map[string]positionRef
	labels    map[string]string
}

// New prepares an execution. ledger must be the Transferer m moves tokens
// through; it is credited with the scenario balances.
func New(m *manager.Manager, ledger *transfer.Ledger, opts Options, logger *zap.Logger) *Execution {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Execution{
		manager:   m,
		ledger:    ledger,
		opts:      opts,
		logger:    logger,
		mints:     make(map[string]solana.PublicKey),
		decimals:  make(map[string]*uint8),
		accounts:  make(map[string]solana.PublicKey),
		pools:     make(map[string]solana.PublicKey),
		positions: make(map[string]positionRef),
		labels:    make(map[string]string),
	}
}

// Run replays sc with the default options.
func Run(ctx context.Context, m *manager.Manager, ledger *transfer.Ledger, sc *ent.Scenario) (*result.Report, error) {
	return New(m, ledger, DefaultOptions, nil).Run(ctx, sc)
}

// namedKey gives the i-th name of a kind a key that sorts by declaration
// order, so token0 of a pool can be chosen by listing it first.
func namedKey(kind byte, i int) solana.PublicKey {
	var k solana.PublicKey
	k[0] = kind
	k[1] = byte(i + 1)
	return k
}

func (e *Execution) Mint(name string) (solana.PublicKey, error) {
	k, ok := e.mints[name]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("unknown mint %q", name)
	}
	return k, nil
}

func (e *Execution) Account(name string) (solana.PublicKey, error) {
	k, ok := e.accounts[name]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("unknown account %q", name)
	}
	return k, nil
}

func (e *Execution) Pool(name string) (solana.PublicKey, error) {
	k, ok := e.pools[name]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("%w: %q", clmmerr.ErrPoolNotFound, name)
	}
	return k, nil
}

func (e *Execution) position(label string) (positionRef, error) {
	ref, ok := e.positions[label]
	if !ok {
		return positionRef{}, fmt.Errorf("%w: %q", clmmerr.ErrPositionNotFound, label)
	}
	return ref, nil
}

// Run sets up sc and applies its operations. Setup failures abort the run;
// operation failures are recorded in the report.
func (e *Execution) Run(ctx context.Context, sc *ent.Scenario) (*result.Report, error) {
	if err := e.setup(ctx, sc); err != nil {
		return nil, fmt.Errorf("scenario %s setup: %w", sc.Name, err)
	}
	report := &result.Report{Scenario: sc.Name}
	for i, op := range sc.Operations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		amounts, err := e.apply(ctx, op)
		step := result.Step{
			Operation:   op,
			ExpectError: op.ExpectError,
			Amounts:     amounts,
			Passed:      matches(err, op.ExpectError),
		}
		if err != nil {
			step.Error = err.Error()
		}
		if step.Passed {
			e.logger.Debug("step", zap.Int("index", i), zap.String("type", op.Type), zap.Error(err))
		} else {
			e.logger.Warn("step did not go as expected",
				zap.Int("index", i),
				zap.String("type", op.Type),
				zap.String("expect_error", op.ExpectError),
				zap.Error(err),
			)
		}
		report.Record(step)
	}
	if err := e.summarize(report); err != nil {
		return nil, err
	}
	e.logger.Info("scenario replayed",
		zap.String("scenario", sc.Name),
		zap.Int("steps", len(report.Steps)),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// matches reports whether err is what the step expected. An expectation
// naming a known error kind matches with errors.Is, anything else by
// substring.
func matches(err error, expect string) bool {
	if expect == "" {
		return err == nil
	}
	if err == nil {
		return false
	}
	if kind, ok := clmmerr.Lookup(expect); ok {
		return errors.Is(err, kind)
	}
	return strings.Contains(err.Error(), expect)
}

func (e *Execution) setup(ctx context.Context, sc *ent.Scenario) error {
	if len(sc.Mints) > maxNamed || len(sc.Accounts) > maxNamed {
		return fmt.Errorf("at most %d mints and accounts", maxNamed)
	}
	for i, m := range sc.Mints {
		if _, ok := e.mints[m.Name]; ok {
			return fmt.Errorf("duplicate mint %q", m.Name)
		}
		e.mints[m.Name] = namedKey(1, i)
		e.decimals[m.Name] = m.Decimals
		e.mintNames = append(e.mintNames, m.Name)
	}
	for i, a := range sc.Accounts {
		if _, ok := e.accounts[a.Name]; ok {
			return fmt.Errorf("duplicate account %q", a.Name)
		}
		owner := namedKey(2, i)
		e.accounts[a.Name] = owner
		e.accNames = append(e.accNames, a.Name)
		for mintName, amount := range a.Balances {
			mint, err := e.Mint(mintName)
			if err != nil {
				return err
			}
			v, err := toUint64("balance", amount)
			if err != nil {
				return err
			}
			if err := e.ledger.Credit(owner, mint, v); err != nil {
				return fmt.Errorf("fund %s: %w", a.Name, err)
			}
		}
	}
	for _, p := range sc.Pools {
		if err := e.createPool(ctx, p); err != nil {
			return fmt.Errorf("pool %s: %w", p.Name, err)
		}
	}
	return nil
}

func (e *Execution) createPool(ctx context.Context, in ent.Pool) error {
	if _, ok := e.pools[in.Name]; ok {
		return fmt.Errorf("duplicate pool %q", in.Name)
	}
	owner, err := e.Account(in.Owner)
	if err != nil {
		return err
	}
	mint0, err := e.Mint(in.Token0)
	if err != nil {
		return err
	}
	mint1, err := e.Mint(in.Token1)
	if err != nil {
		return err
	}
	sqrtPrice := in.SqrtPriceX64
	if sqrtPrice == nil {
		if sqrtPrice, err = tickmath.TickToSqrtPriceX64(*in.Tick); err != nil {
			return err
		}
	}
	p, err := e.manager.CreatePool(ctx, owner, manager.CreatePoolParams{
		TokenMint0:      mint0,
		TokenMint1:      mint1,
		FeeRate:         in.FeeRate,
		ProtocolFeeRate: in.ProtocolFeeRate,
		TickSpacing:     in.TickSpacing,
		SqrtPriceX64:    sqrtPrice,
	})
	if p == nil {
		return err
	}
	e.pools[in.Name] = p.ID
	e.poolNames = append(e.poolNames, in.Name)
	return err
}

func toUint64(name string, v *ui.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s %s exceeds u64", clmmerr.ErrMathOverflow, name, v.Dec())
	}
	return v.Uint64(), nil
}

// zeroForOne derives the swap direction from the mint being sold.
func (e *Execution) zeroForOne(poolID solana.PublicKey, tokenIn string) (bool, error) {
	mint, err := e.Mint(tokenIn)
	if err != nil {
		return false, err
	}
	p, err := e.manager.Pool(poolID)
	if err != nil {
		return false, err
	}
	switch mint {
	case p.TokenMint0:
		return true, nil
	case p.TokenMint1:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s is not a token of pool %s", clmmerr.ErrInvalidRoute, tokenIn, poolID)
}

func amountPair(a0, a1 *ui.Int) map[string]string {
	if a0 == nil || a1 == nil {
		return nil
	}
	return map[string]string{"amount0": a0.Dec(), "amount1": a1.Dec()}
}

func (e *Execution) apply(ctx context.Context, op ent.Operation) (map[string]string, error) {
	if op.Type == ent.OpRoute {
		return e.route(ctx, op)
	}
	caller, err := e.Account(op.Caller)
	if err != nil {
		return nil, err
	}
	poolID, err := e.Pool(op.Pool)
	if err != nil {
		return nil, err
	}

	switch op.Type {
	case ent.OpOpen:
		return e.open(ctx, caller, poolID, op)
	case ent.OpIncrease:
		ref, err := e.position(op.Position)
		if err != nil {
			return nil, err
		}
		a0, err := toUint64("amount0", op.Amount0)
		if err != nil {
			return nil, err
		}
		a1, err := toUint64("amount1", op.Amount1)
		if err != nil {
			return nil, err
		}
		added, err := e.manager.IncreaseLiquidity(ctx, caller, ref.pool, ref.id, a0, a1)
		if added == nil {
			return nil, err
		}
		return map[string]string{"liquidity": added.Dec()}, err
	case ent.OpDecrease:
		ref, err := e.position(op.Position)
		if err != nil {
			return nil, err
		}
		liquidity := op.Liquidity
		if liquidity == nil {
			p, err := e.manager.Pool(ref.pool)
			if err != nil {
				return nil, err
			}
			pos, err := p.Position(ref.id)
			if err != nil {
				return nil, err
			}
			liquidity = pos.Liquidity
		}
		a0, a1, err := e.manager.DecreaseLiquidity(ctx, caller, ref.pool, ref.id, liquidity, op.MinAmount0, op.MinAmount1)
		return amountPair(a0, a1), err
	case ent.OpCollect:
		ref, err := e.position(op.Position)
		if err != nil {
			return nil, err
		}
		a0, a1, err := e.manager.CollectFees(ctx, caller, ref.pool, ref.id)
		return amountPair(a0, a1), err
	case ent.OpClose:
		ref, err := e.position(op.Position)
		if err != nil {
			return nil, err
		}
		err = e.manager.ClosePosition(ctx, caller, ref.pool, ref.id)
		if err != nil && !errors.Is(err, manager.ErrNotPersisted) {
			return nil, err
		}
		delete(e.labels, ref.id.String())
		delete(e.positions, op.Position)
		return nil, err
	case ent.OpSwap:
		zeroForOne, err := e.zeroForOne(poolID, op.TokenIn)
		if err != nil {
			return nil, err
		}
		limit := op.SqrtPriceLimitX64
		if limit == nil {
			limit = pool.DefaultSqrtPriceLimit(zeroForOne)
		}
		res, err := e.manager.Swap(ctx, caller, poolID, op.AmountIn, op.MinAmountOut, limit, zeroForOne)
		if res == nil {
			return nil, err
		}
		return map[string]string{
			"amount_in":     res.AmountIn.Dec(),
			"amount_out":    res.AmountOut.Dec(),
			"fee":           res.FeeAmount.Dec(),
			"protocol_fee":  res.ProtocolFee.Dec(),
			"ticks_crossed": fmt.Sprint(res.TicksCrossed),
		}, err
	case ent.OpUpdateFees:
		return nil, e.manager.UpdateFeeRates(ctx, caller, poolID, op.FeeRate, op.ProtocolFeeRate)
	case ent.OpCollectProtocol:
		a0, a1, err := e.manager.CollectProtocolFees(ctx, caller, poolID)
		return amountPair(a0, a1), err
	}
	return nil, fmt.Errorf("unknown operation type %q", op.Type)
}

func (e *Execution) open(ctx context.Context, caller, poolID solana.PublicKey, op ent.Operation) (map[string]string, error) {
	if op.Position == "" {
		return nil, fmt.Errorf("open needs a position label")
	}
	if _, ok := e.positions[op.Position]; ok {
		return nil, fmt.Errorf("%w: label %q", clmmerr.ErrPositionExists, op.Position)
	}
	a0, err := toUint64("amount0", op.Amount0)
	if err != nil {
		return nil, err
	}
	a1, err := toUint64("amount1", op.Amount1)
	if err != nil {
		return nil, err
	}
	pos, err := e.manager.OpenPosition(ctx, caller, poolID, op.TickLower, op.TickUpper, a0, a1)
	if pos == nil {
		return nil, err
	}
	e.positions[op.Position] = positionRef{pool: poolID, id: pos.ID}
	e.labels[pos.ID.String()] = op.Position
	return map[string]string{"position": pos.ID.String(), "liquidity": pos.Liquidity.Dec()}, err
}

func (e *Execution) route(ctx context.Context, op ent.Operation) (map[string]string, error) {
	caller, err := e.Account(op.Caller)
	if err != nil {
		return nil, err
	}
	hops := make([]manager.RouteHop, 0, len(op.Route))
	for _, h := range op.Route {
		poolID, err := e.Pool(h.Pool)
		if err != nil {
			return nil, err
		}
		zeroForOne, err := e.zeroForOne(poolID, h.TokenIn)
		if err != nil {
			return nil, err
		}
		hops = append(hops, manager.RouteHop{PoolID: poolID, ZeroForOne: zeroForOne})
	}
	res, err := e.manager.RouterSwap(ctx, caller, hops, op.AmountIn, op.MinAmountOut)
	if res == nil {
		return nil, err
	}
	return map[string]string{
		"amount_in":  res.AmountIn.Dec(),
		"amount_out": res.AmountOut.Dec(),
		"hops":       fmt.Sprint(len(res.Hops)),
	}, err
}

func (e *Execution) mintDecimals(name string, fallback uint8) uint8 {
	if d := e.decimals[name]; d != nil {
		return *d
	}
	return fallback
}

func (e *Execution) mintName(key solana.PublicKey) string {
	for _, name := range e.mintNames {
		if e.mints[name] == key {
			return name
		}
	}
	return key.String()
}

func (e *Execution) summarize(report *result.Report) error {
	report.Pools = make([]result.PoolSummary, 0, len(e.poolNames))
	for _, name := range e.poolNames {
		p, err := e.manager.Pool(e.pools[name])
		if err != nil {
			return err
		}
		d0 := e.mintDecimals(e.mintName(p.TokenMint0), e.opts.Decimals0)
		d1 := e.mintDecimals(e.mintName(p.TokenMint1), e.opts.Decimals1)
		report.Pools = append(report.Pools, result.Summarize(name, p, d0, d1, e.labels))
	}
	report.Balances = make(map[string]map[string]string, len(e.accNames))
	for _, acc := range e.accNames {
		balances := make(map[string]string, len(e.mintNames))
		for _, mint := range e.mintNames {
			balances[mint] = fmt.Sprint(e.ledger.Balance(e.accounts[acc], e.mints[mint]))
		}
		report.Balances[acc] = balances
	}
	return nil
}

// Quote prices selling amountIn of tokenIn on the named pool without
// changing it.
func (e *Execution) Quote(poolName, tokenIn string, amountIn *ui.Int) (*pool.SwapResult, error) {
	poolID, err := e.Pool(poolName)
	if err != nil {
		return nil, err
	}
	zeroForOne, err := e.zeroForOne(poolID, tokenIn)
	if err != nil {
		return nil, err
	}
	return e.manager.QuoteSwap(poolID, amountIn, pool.DefaultSqrtPriceLimit(zeroForOne), zeroForOne)
}
