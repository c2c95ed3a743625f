package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receiver is called back by the pool while it holds the loaned funds
type Receiver interface {
	Address() common.Address

	// ExecuteOperation runs with amount of asset already transferred to the
	// receiver. The pool pulls amount+premium afterwards, so the receiver must
	// approve it before returning true.
	ExecuteOperation(ctx context.Context, caller, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error)
}

// Pool grants single-asset flash loans
type Pool interface {
	Address() common.Address

	// FlashLoanPremiumTotal returns the premium in basis points
	FlashLoanPremiumTotal() uint64

	FlashLoanSimple(ctx context.Context, initiator common.Address, receiver Receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) error
}

// AddressesProvider resolves the current pool of a market
type AddressesProvider interface {
	Address() common.Address
	GetPool() Pool
}
