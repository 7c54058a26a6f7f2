// Package clmmerr holds the error kinds returned by the liquidity core.
// Callers match them with errors.Is; call sites wrap them with detail.
package clmmerr

import "errors"

// Validation errors.
var (
	ErrInvalidTickIndex       = errors.New("invalid tick index")
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrInvalidTickSpacing     = errors.New("invalid tick spacing")
	ErrInvalidFeeRate         = errors.New("invalid fee rate")
	ErrInvalidProtocolFeeRate = errors.New("invalid protocol fee rate")
	ErrInvalidPriceLimit      = errors.New("invalid price limit")
	ErrInvalidSqrtPrice       = errors.New("invalid sqrt price")
	ErrInvalidTokenOrder      = errors.New("token mints not distinct and ordered")
	ErrZeroAmount             = errors.New("amount must be greater than zero")
	ErrInvalidRoute           = errors.New("invalid route")
)

// Arithmetic errors.
var (
	ErrMathOverflow = errors.New("math overflow")
	ErrDivideByZero = errors.New("divide by zero")
)

// Economic errors.
var (
	ErrZeroLiquidity         = errors.New("zero liquidity")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrExcessiveSlippage     = errors.New("excessive slippage")
	ErrPositionNotEmpty      = errors.New("position not empty")
)

// State errors.
var (
	ErrTickArrayNotInitialized = errors.New("tick array not initialized")
	ErrPoolNotFound            = errors.New("pool not found")
	ErrPoolExists              = errors.New("pool already exists")
	ErrPositionNotFound        = errors.New("position not found")
	ErrPositionExists          = errors.New("position already exists")
)

var ErrUnauthorized = errors.New("unauthorized")

var all = []error{
	ErrInvalidTickIndex, ErrInvalidTickRange, ErrInvalidTickSpacing, ErrInvalidFeeRate,
	ErrInvalidProtocolFeeRate, ErrInvalidPriceLimit, ErrInvalidSqrtPrice, ErrInvalidTokenOrder,
	ErrZeroAmount, ErrInvalidRoute, ErrMathOverflow, ErrDivideByZero, ErrZeroLiquidity,
	ErrInsufficientLiquidity, ErrInsufficientBalance, ErrExcessiveSlippage, ErrPositionNotEmpty,
	ErrTickArrayNotInitialized, ErrPoolNotFound, ErrPoolExists, ErrPositionNotFound,
	ErrPositionExists, ErrUnauthorized,
}

// Lookup returns the error kind whose message is msg.
func Lookup(msg string) (error, bool) {
	for _, err := range all {
		if err.Error() == msg {
			return err, true
		}
	}
	return nil, false
}
