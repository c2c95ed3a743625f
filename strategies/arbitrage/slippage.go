package arbitrage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/types"
)

// ValidateTolerance accepts tolerances in [0, 100%) expressed in
// types.PercentUnit precision
func ValidateTolerance(tolerance *big.Int) error {
	if tolerance == nil || tolerance.Sign() < 0 || tolerance.Cmp(types.HundredPercent) >= 0 {
		return types.ErrInvalidSlippage
	}
	return nil
}

// ApplyTolerance scales amount down by tolerance, rounding toward zero
func ApplyTolerance(amount, tolerance *big.Int) (*big.Int, error) {
	if err := ValidateTolerance(tolerance); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, types.ErrInvalidAmount
	}
	keep := new(big.Int).Sub(types.HundredPercent, tolerance)
	out := new(big.Int).Mul(amount, keep)
	return out.Quo(out, types.HundredPercent), nil
}

// EstimateBounds quotes the round trip asset -> token on first and
// token -> asset on second, the second leg priced on the unconstrained output
// of the first, and returns both outputs reduced by tolerance
func EstimateBounds(ctx context.Context, first, second dex.Quoter, asset, token common.Address, amount, tolerance *big.Int) (types.SlippageBounds, error) {
	if err := ValidateTolerance(tolerance); err != nil {
		return types.SlippageBounds{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return types.SlippageBounds{}, types.ErrInvalidAmount
	}

	leg1, err := quoteLeg(ctx, first, amount, asset, token)
	if err != nil {
		return types.SlippageBounds{}, fmt.Errorf("failed to quote first leg on %s: %w", first.Name(), err)
	}
	leg2, err := quoteLeg(ctx, second, leg1, token, asset)
	if err != nil {
		return types.SlippageBounds{}, fmt.Errorf("failed to quote second leg on %s: %w", second.Name(), err)
	}

	minFirst, err := ApplyTolerance(leg1, tolerance)
	if err != nil {
		return types.SlippageBounds{}, err
	}
	minSecond, err := ApplyTolerance(leg2, tolerance)
	if err != nil {
		return types.SlippageBounds{}, err
	}
	return types.SlippageBounds{MinimumFirstSwap: minFirst, MinimumSecondSwap: minSecond}, nil
}

func quoteLeg(ctx context.Context, venue dex.Quoter, amount *big.Int, from, to common.Address) (*big.Int, error) {
	amounts, err := venue.GetAmountsOut(ctx, amount, []common.Address{from, to})
	if err != nil {
		return nil, err
	}
	if len(amounts) < 2 {
		return nil, fmt.Errorf("quote returned %d amounts", len(amounts))
	}
	return amounts[len(amounts)-1], nil
}
