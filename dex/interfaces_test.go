package dex

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flasharb/types"
)

var (
	usdt = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func TestSortTokens(t *testing.T) {
	token0, token1, err := SortTokens(weth, usdt)
	require.NoError(t, err)
	assert.Equal(t, weth, token0)
	assert.Equal(t, usdt, token1)

	_, _, err = SortTokens(usdt, usdt)
	assert.ErrorIs(t, err, ErrIdenticalAddresses)

	_, _, err = SortTokens(common.Address{}, usdt)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath([]common.Address{usdt, weth}))
	assert.NoError(t, ValidatePath([]common.Address{usdt, weth, usdt}))
	assert.ErrorIs(t, ValidatePath([]common.Address{usdt}), ErrInvalidPath)
	assert.ErrorIs(t, ValidatePath(nil), ErrInvalidPath)
	assert.ErrorIs(t, ValidatePath([]common.Address{usdt, weth, weth}), ErrIdenticalAddresses)
}

func TestGetAmountOut(t *testing.T) {
	amountIn := big.NewInt(1_000_000_000_000_000_000)        // 1 ETH
	reserveIn := new(big.Int).Mul(amountIn, big.NewInt(10)) // 10 ETH
	reserveOut := big.NewInt(5_000_000_000)                 // 5000 USDT

	out, err := GetAmountOut(amountIn, reserveIn, reserveOut, 30)
	require.NoError(t, err)
	// 997e18 * 5e9 / (10e18 * 1000 + 997e18)
	assert.Equal(t, "453305446", out.String())

	back, err := GetAmountIn(out, reserveIn, reserveOut, 30)
	require.NoError(t, err)
	assert.True(t, back.Cmp(amountIn) <= 0)
	assert.True(t, new(big.Int).Sub(amountIn, back).Cmp(big.NewInt(1e10)) < 0)

	_, err = GetAmountOut(big.NewInt(0), reserveIn, reserveOut, 30)
	assert.ErrorIs(t, err, ErrInsufficientInputAmount)

	_, err = GetAmountOut(amountIn, big.NewInt(0), reserveOut, 30)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = GetAmountIn(reserveOut, reserveIn, reserveOut, 30)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestInsufficientOutputIsSlippage(t *testing.T) {
	assert.True(t, errors.Is(ErrInsufficientOutputAmount, types.ErrSlippage))
}

func BenchmarkGetAmountOut(b *testing.B) {
	amountIn := big.NewInt(1_000_000_000_000_000_000)
	reserveIn := new(big.Int).Mul(amountIn, big.NewInt(10_000))
	reserveOut := big.NewInt(5_000_000_000_000)
	for i := 0; i < b.N; i++ {
		_, _ = GetAmountOut(amountIn, reserveIn, reserveOut, 30)
	}
}
