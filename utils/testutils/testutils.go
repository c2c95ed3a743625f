package testutils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flasharb/utils/math"
)

// ToUnits parses a decimal amount of a token with the given decimals
func ToUnits(t testing.TB, value string, decimals uint8) *big.Int {
	t.Helper()
	out, err := math.ParseUnits(value, decimals)
	require.NoError(t, err)
	return out
}

// ToWei parses an amount with 18 decimals. Slippage tolerances use the same
// precision, so ToWei("1") is 1%.
func ToWei(t testing.TB, value string) *big.Int {
	t.Helper()
	return ToUnits(t, value, 18)
}

// RandomAddress returns the address of a freshly generated key
func RandomAddress(t testing.TB) common.Address {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}
