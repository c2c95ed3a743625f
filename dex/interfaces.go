package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/types"
)

var (
	ErrExpired                  = errors.New("UniswapV2Router: EXPIRED")
	ErrInsufficientOutputAmount = fmt.Errorf("%w: UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT", types.ErrSlippage)
	ErrInvalidPath              = errors.New("UniswapV2Library: INVALID_PATH")
	ErrIdenticalAddresses       = errors.New("UniswapV2Library: IDENTICAL_ADDRESSES")
	ErrInsufficientLiquidity    = errors.New("UniswapV2Library: INSUFFICIENT_LIQUIDITY")
	ErrInsufficientInputAmount  = errors.New("UniswapV2Library: INSUFFICIENT_INPUT_AMOUNT")
	ErrPairExists               = errors.New("UniswapV2: PAIR_EXISTS")
	ErrPairNotFound             = errors.New("UniswapV2: PAIR_NOT_FOUND")
)

// Quoter prices swaps along a token path
type Quoter interface {
	// Name returns the venue name
	Name() string

	// GetAmountsOut returns the amount at every hop of path for amountIn,
	// starting with amountIn itself
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// Router is a venue that can execute swaps
type Router interface {
	Quoter

	// Address returns the router contract address. Callers approve it to
	// pull their input tokens.
	Address() common.Address

	// SwapExactTokensForTokens sells exactly amountIn of path[0] and sends at
	// least amountOutMin of the last token to the recipient
	SwapExactTokensForTokens(ctx context.Context, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]*big.Int, error)
}

// Reserves represents token pair reserves
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// SortTokens orders two token addresses the way pair contracts do
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, ErrIdenticalAddresses
	}
	token0, token1 := tokenA, tokenB
	if tokenA.Cmp(tokenB) > 0 {
		token0, token1 = tokenB, tokenA
	}
	if token0 == (common.Address{}) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidPath)
	}
	return token0, token1, nil
}

// ValidatePath checks that path has at least one hop and no hop swaps a token
// for itself
func ValidatePath(path []common.Address) error {
	if len(path) < 2 {
		return fmt.Errorf("%w: length %d", ErrInvalidPath, len(path))
	}
	for i := 0; i < len(path)-1; i++ {
		if _, _, err := SortTokens(path[i], path[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// GetAmountOut returns the output of a constant product swap after a fee
// given in basis points
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10_000-feeBps)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10_000))
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator), nil
}

// GetAmountIn returns the input required to receive amountOut, rounded up
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("UniswapV2Library: INSUFFICIENT_OUTPUT_AMOUNT")
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Cmp(amountOut) <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, big.NewInt(10_000))
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, big.NewInt(int64(10_000-feeBps)))

	amountIn := numerator.Quo(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}
