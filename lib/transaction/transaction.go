// Package transaction decodes replay scenarios. Amounts arrive as decimal
// strings and are parsed into 256-bit integers before anything runs.
package transaction

import (
	"encoding/json"
	"fmt"
	"os"

	ui "github.com/holiman/uint256"
)

// Operation types.
const (
	OpOpen            = "open"
	OpIncrease        = "increase"
	OpDecrease        = "decrease"
	OpCollect         = "collect"
	OpClose           = "close"
	OpSwap            = "swap"
	OpRoute           = "route"
	OpUpdateFees      = "update_fees"
	OpCollectProtocol = "collect_protocol"
)

type MintInput struct {
	Name     string `json:"name"`
	Decimals *uint8 `json:"decimals,omitempty"`
}

type AccountInput struct {
	Name     string            `json:"name"`
	Balances map[string]string `json:"balances"`
}

type PoolInput struct {
	Name            string `json:"name"`
	Owner           string `json:"owner"`
	Token0          string `json:"token0"`
	Token1          string `json:"token1"`
	FeeRate         uint32 `json:"fee_rate"`
	ProtocolFeeRate uint8  `json:"protocol_fee_rate"`
	TickSpacing     uint16 `json:"tick_spacing"`
	SqrtPriceX64    string `json:"sqrt_price_x64,omitempty"`
	Tick            *int32 `json:"tick,omitempty"`
}

type HopInput struct {
	Pool    string `json:"pool"`
	TokenIn string `json:"token_in"`
}

type OperationInput struct {
	Type              string     `json:"type"`
	Caller            string     `json:"caller"`
	Pool              string     `json:"pool,omitempty"`
	Position          string     `json:"position,omitempty"`
	TickLower         int32      `json:"tick_lower,omitempty"`
	TickUpper         int32      `json:"tick_upper,omitempty"`
	Amount0           string     `json:"amount0,omitempty"`
	Amount1           string     `json:"amount1,omitempty"`
	Liquidity         string     `json:"liquidity,omitempty"`
	MinAmount0        string     `json:"min_amount0,omitempty"`
	MinAmount1        string     `json:"min_amount1,omitempty"`
	AmountIn          string     `json:"amount_in,omitempty"`
	MinAmountOut      string     `json:"min_amount_out,omitempty"`
	SqrtPriceLimitX64 string     `json:"sqrt_price_limit_x64,omitempty"`
	TokenIn           string     `json:"token_in,omitempty"`
	Route             []HopInput `json:"route,omitempty"`
	FeeRate           *uint32    `json:"fee_rate,omitempty"`
	ProtocolFeeRate   *uint8     `json:"protocol_fee_rate,omitempty"`
	ExpectError       string     `json:"expect_error,omitempty"`
}

type ScenarioInput struct {
	Name       string           `json:"name"`
	Mints      []MintInput      `json:"mints"`
	Accounts   []AccountInput   `json:"accounts"`
	Pools      []PoolInput      `json:"pools"`
	Operations []OperationInput `json:"operations"`
}

type Mint struct {
	Name     string
	Decimals *uint8
}

type Account struct {
	Name     string
	Balances map[string]*ui.Int
}

type Pool struct {
	Name            string
	Owner           string
	Token0          string
	Token1          string
	FeeRate         uint32
	ProtocolFeeRate uint8
	TickSpacing     uint16
	SqrtPriceX64    *ui.Int
	Tick            *int32
}

type Hop struct {
	Pool    string
	TokenIn string
}

// Operation is one parsed scenario step. Position names the label an open
// step assigns and later steps refer to. A decrease without Liquidity
// removes all of it, and fails if it would pay less than MinAmount0 or
// MinAmount1.
type Operation struct {
	Type              string
	Caller            string
	Pool              string
	Position          string
	TickLower         int32
	TickUpper         int32
	Amount0           *ui.Int
	Amount1           *ui.Int
	Liquidity         *ui.Int
	MinAmount0        *ui.Int
	MinAmount1        *ui.Int
	AmountIn          *ui.Int
	MinAmountOut      *ui.Int
	SqrtPriceLimitX64 *ui.Int
	TokenIn           string
	Route             []Hop
	FeeRate           *uint32
	ProtocolFeeRate   *uint8
	ExpectError       string
}

type Scenario struct {
	Name       string
	Mints      []Mint
	Accounts   []Account
	Pools      []Pool
	Operations []Operation
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var in ScenarioInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	sc := &Scenario{Name: in.Name}
	for _, m := range in.Mints {
		if m.Name == "" {
			return nil, fmt.Errorf("mint without name")
		}
		sc.Mints = append(sc.Mints, Mint{Name: m.Name, Decimals: m.Decimals})
	}
	for _, a := range in.Accounts {
		acc := Account{Name: a.Name, Balances: make(map[string]*ui.Int, len(a.Balances))}
		for mint, amount := range a.Balances {
			v, err := parseAmount(amount)
			if err != nil {
				return nil, fmt.Errorf("account %s balance %s: %w", a.Name, mint, err)
			}
			acc.Balances[mint] = v
		}
		sc.Accounts = append(sc.Accounts, acc)
	}
	for _, p := range in.Pools {
		sqrtPrice, err := parseOptional(p.SqrtPriceX64)
		if err != nil {
			return nil, fmt.Errorf("pool %s sqrt_price_x64: %w", p.Name, err)
		}
		if sqrtPrice == nil && p.Tick == nil {
			return nil, fmt.Errorf("pool %s needs sqrt_price_x64 or tick", p.Name)
		}
		sc.Pools = append(sc.Pools, Pool{
			Name:            p.Name,
			Owner:           p.Owner,
			Token0:          p.Token0,
			Token1:          p.Token1,
			FeeRate:         p.FeeRate,
			ProtocolFeeRate: p.ProtocolFeeRate,
			TickSpacing:     p.TickSpacing,
			SqrtPriceX64:    sqrtPrice,
			Tick:            p.Tick,
		})
	}
	for i, op := range in.Operations {
		parsed, err := parseOperation(op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Type, err)
		}
		sc.Operations = append(sc.Operations, parsed)
	}
	return sc, nil
}

func parseOperation(in OperationInput) (Operation, error) {
	switch in.Type {
	case OpOpen, OpIncrease, OpDecrease, OpCollect, OpClose, OpSwap, OpRoute, OpUpdateFees, OpCollectProtocol:
	default:
		return Operation{}, fmt.Errorf("unknown operation type %q", in.Type)
	}
	op := Operation{
		Type:            in.Type,
		Caller:          in.Caller,
		Pool:            in.Pool,
		Position:        in.Position,
		TickLower:       in.TickLower,
		TickUpper:       in.TickUpper,
		TokenIn:         in.TokenIn,
		FeeRate:         in.FeeRate,
		ProtocolFeeRate: in.ProtocolFeeRate,
		ExpectError:     in.ExpectError,
	}
	fields := []struct {
		name string
		raw  string
		dst  **ui.Int
	}{
		{"amount0", in.Amount0, &op.Amount0},
		{"amount1", in.Amount1, &op.Amount1},
		{"min_amount0", in.MinAmount0, &op.MinAmount0},
		{"min_amount1", in.MinAmount1, &op.MinAmount1},
		{"amount_in", in.AmountIn, &op.AmountIn},
		{"min_amount_out", in.MinAmountOut, &op.MinAmountOut},
	}
	for _, f := range fields {
		v, err := parseAmount(f.raw)
		if err != nil {
			return Operation{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	limit, err := parseOptional(in.SqrtPriceLimitX64)
	if err != nil {
		return Operation{}, fmt.Errorf("sqrt_price_limit_x64: %w", err)
	}
	op.SqrtPriceLimitX64 = limit
	if op.Liquidity, err = parseOptional(in.Liquidity); err != nil {
		return Operation{}, fmt.Errorf("liquidity: %w", err)
	}
	for _, h := range in.Route {
		op.Route = append(op.Route, Hop{Pool: h.Pool, TokenIn: h.TokenIn})
	}
	return op, nil
}

// parseAmount reads a decimal string; an empty string is zero.
func parseAmount(s string) (*ui.Int, error) {
	if s == "" {
		return new(ui.Int), nil
	}
	v, err := ui.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, nil
}

func parseOptional(s string) (*ui.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(s)
}

func format(v *ui.Int) string {
	if v == nil || v.IsZero() {
		return ""
	}
	return v.Dec()
}

func (o Operation) MarshalJSON() ([]byte, error) {
	in := OperationInput{
		Type:        o.Type,
		Caller:      o.Caller,
		Pool:        o.Pool,
		Position:    o.Position,
		ExpectError: o.ExpectError,
	}
	switch o.Type {
	case OpOpen, OpIncrease:
		in.TickLower = o.TickLower
		in.TickUpper = o.TickUpper
		in.Amount0 = format(o.Amount0)
		in.Amount1 = format(o.Amount1)
	case OpDecrease:
		in.Liquidity = format(o.Liquidity)
		in.MinAmount0 = format(o.MinAmount0)
		in.MinAmount1 = format(o.MinAmount1)
	case OpSwap:
		in.AmountIn = format(o.AmountIn)
		in.MinAmountOut = format(o.MinAmountOut)
		in.SqrtPriceLimitX64 = format(o.SqrtPriceLimitX64)
		in.TokenIn = o.TokenIn
	case OpRoute:
		in.AmountIn = format(o.AmountIn)
		in.MinAmountOut = format(o.MinAmountOut)
		for _, h := range o.Route {
			in.Route = append(in.Route, HopInput{Pool: h.Pool, TokenIn: h.TokenIn})
		}
	case OpUpdateFees:
		in.FeeRate = o.FeeRate
		in.ProtocolFeeRate = o.ProtocolFeeRate
	case OpCollect, OpClose, OpCollectProtocol:
	default:
		return nil, fmt.Errorf("unknown operation type %q", o.Type)
	}
	return json.Marshal(&in)
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var in OperationInput
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	op, err := parseOperation(in)
	if err != nil {
		return err
	}
	*o = op
	return nil
}
