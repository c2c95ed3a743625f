package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PercentUnit is one percent in the 18-decimal fixed point used for slippage
// tolerances (1% = 1e18).
var PercentUnit = big.NewInt(1e18)

// HundredPercent is 100% in PercentUnit precision
var HundredPercent = new(big.Int).Mul(big.NewInt(100), PercentUnit)

// LoanRequest describes a single-transaction loan
type LoanRequest struct {
	Asset  common.Address
	Amount *big.Int
}

// Matches reports whether a loan of amount of asset is the one requested
func (r LoanRequest) Matches(asset common.Address, amount *big.Int) bool {
	return r.Asset == asset && r.Amount != nil && amount != nil && r.Amount.Cmp(amount) == 0
}

// SwapPath is an ordered token route: path[0] is sold for path[len-1]
type SwapPath []common.Address

// Validate checks the path is a two-token route between distinct, non-zero tokens
func (p SwapPath) Validate() error {
	if len(p) != 2 {
		return fmt.Errorf("invalid path length %d", len(p))
	}
	if p[0] == (common.Address{}) || p[1] == (common.Address{}) {
		return fmt.Errorf("path contains zero address")
	}
	if p[0] == p[1] {
		return fmt.Errorf("path tokens are identical: %s", p[0].Hex())
	}
	return nil
}

// TokenIn returns the token sold
func (p SwapPath) TokenIn() common.Address {
	if len(p) == 0 {
		return common.Address{}
	}
	return p[0]
}

// TokenOut returns the token bought
func (p SwapPath) TokenOut() common.Address {
	if len(p) == 0 {
		return common.Address{}
	}
	return p[len(p)-1]
}

// Reverse returns the return-leg path
func (p SwapPath) Reverse() SwapPath {
	out := make(SwapPath, len(p))
	for i := range p {
		out[len(p)-1-i] = p[i]
	}
	return out
}

// SlippageBounds holds the minimum acceptable outputs of both swap legs
type SlippageBounds struct {
	MinimumFirstSwap  *big.Int
	MinimumSecondSwap *big.Int
}

// Percent converts a float percentage (1.5 = 1.5%) into PercentUnit precision
func Percent(p float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(p), new(big.Float).SetInt(PercentUnit))
	out, _ := scaled.Int(nil)
	return out
}

// ArbitrageReport is the outcome of one committed flash loan arbitrage
type ArbitrageReport struct {
	ID           string         `json:"id"`
	Executor     common.Address `json:"executor"`
	Asset        common.Address `json:"asset"`
	Token        common.Address `json:"token"`
	Amount       *big.Int       `json:"amount"`
	Premium      *big.Int       `json:"premium"`
	FirstLegOut  *big.Int       `json:"firstLegOut"`
	SecondLegOut *big.Int       `json:"secondLegOut"`
	Repayment    *big.Int       `json:"repayment"`
	Profit       *big.Int       `json:"profit"`
	Swept        bool           `json:"swept"`
	ExecutedAt   time.Time      `json:"executedAt"`
}
