package flashloan

import (
	"errors"
	"math/big"

	"github.com/michaelpento.lv/flasharb/utils/math"
)

// Pool errors, named after the Aave V3 error codes
var (
	ErrInvalidAmount                  = errors.New("INVALID_AMOUNT")
	ErrReserveNotActive               = errors.New("RESERVE_INACTIVE")
	ErrReserveAlreadyInitialized      = errors.New("RESERVE_ALREADY_INITIALIZED")
	ErrInvalidFlashLoanExecutorReturn = errors.New("INVALID_FLASHLOAN_EXECUTOR_RETURN")
	ErrNotEnoughAvailableUserBalance  = errors.New("NOT_ENOUGH_AVAILABLE_USER_BALANCE")
	ErrInsufficientLiquidity          = errors.New("insufficient pool liquidity")
)

// DefaultPremiumBps is the Aave V3 flash loan premium (0.09%)
const DefaultPremiumBps = 9

// Premium returns the fee owed on a loan of amount, rounded half up
func Premium(amount *big.Int, premiumBps uint64) *big.Int {
	return math.PercentMul(amount, premiumBps)
}

// Repayment returns amount plus its premium
func Repayment(amount *big.Int, premiumBps uint64) *big.Int {
	return new(big.Int).Add(amount, Premium(amount, premiumBps))
}
