package types

import (
	"errors"
	"fmt"
	"math/big"
)

// Error categories. Concrete errors wrap exactly one of them so callers can
// classify a rejected operation with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrAuthorization = errors.New("authorization error")
	ErrSlippage      = errors.New("slippage error")
	ErrAccounting    = errors.New("accounting error")
)

var (
	ErrNotOwner        = fmt.Errorf("%w: Ownable: caller is not the owner", ErrAuthorization)
	ErrInvalidCaller   = fmt.Errorf("%w: InvalidCaller", ErrAuthorization)
	ErrInvalidSlippage = fmt.Errorf("%w: InvalidSlippage", ErrSlippage)
	ErrInvalidAmount   = fmt.Errorf("%w: InvalidAmount", ErrConfiguration)
)

// InputIsZeroError reports a required constructor input that was null
type InputIsZeroError struct {
	Field string
}

func (e *InputIsZeroError) Error() string {
	return fmt.Sprintf("InputIsZero(%q)", e.Field)
}

func (e *InputIsZeroError) Unwrap() error {
	return ErrConfiguration
}

// InsufficientBalanceToWithdrawError is returned when a withdrawal exceeds the position
type InsufficientBalanceToWithdrawError struct {
	Requested *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceToWithdrawError) Error() string {
	return fmt.Sprintf("InsufficientBalanceToWithdraw(requested=%s, available=%s)", e.Requested, e.Available)
}

func (e *InsufficientBalanceToWithdrawError) Unwrap() error {
	return ErrAccounting
}

// RepaymentShortfallError is returned when the round trip does not cover loan plus premium
type RepaymentShortfallError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *RepaymentShortfallError) Error() string {
	return fmt.Sprintf("RepaymentShortfall(required=%s, available=%s)", e.Required, e.Available)
}

func (e *RepaymentShortfallError) Unwrap() error {
	return ErrAccounting
}
