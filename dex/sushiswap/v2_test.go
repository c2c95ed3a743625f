package sushiswap

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/token"
)

func TestNewV2Router(t *testing.T) {
	env := chain.NewEnv(time.Unix(1_700_000_000, 0), nil)
	ledger, err := token.NewLedger(env, nil)
	require.NoError(t, err)

	router, err := NewV2Router(env, ledger)
	require.NoError(t, err)
	assert.Equal(t, Name, router.Name())
	assert.Equal(t, MainnetRouter, router.Address())
	assert.Equal(t, MainnetFactory, router.Factory())

	usdt := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	pair, err := router.PairFor(usdt, weth)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x06da0fd433C1A5d7a4faa01111c044910A184553"), pair)
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	assert.Equal(t, Name, cfg.Name)
	assert.Equal(t, MainnetRouter, cfg.Router)
	assert.Positive(t, cfg.MaxRetries)
}
