package engine

import "errors"

// Sentinel errors returned (wrapped, with context) by engine operations.
// The HTTP layer maps these to status codes.
var (
	// ErrValidation covers malformed parameters: bad lengths, zero
	// amounts, prices outside (0, LamportsPerToken], time ordering.
	ErrValidation = errors.New("validation failed")

	// ErrState is an operation against the wrong lifecycle state or
	// outside its time window.
	ErrState = errors.New("invalid wager state")

	// ErrUnauthorized is a caller acting on an account it does not own.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientBalance is a debit exceeding the caller's ledger
	// balance. On the vault it signals broken internal accounting.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSlippage is a quick-buy that could not reach minTokensOut.
	ErrSlippage = errors.New("slippage exceeded")

	// ErrOverflow is a u64 arithmetic overflow; the operation aborts.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrNotFound is a missing order.
	ErrNotFound = errors.New("not found")

	// ErrCapacity is a full order-book queue.
	ErrCapacity = errors.New("order book at capacity")
)
