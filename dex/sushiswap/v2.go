package sushiswap

import (
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/token"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Name is the venue name reported by SushiSwap routers
const Name = "SushiswapV2"

// Mainnet deployment
var (
	MainnetFactory  = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	MainnetRouter   = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
	MainnetInitCode = common.HexToHash("0xe18a34eb0e04b04f7a0ac29a6e80748dca96319b42c54d679cb821dca90c6303")
)

// MainnetConfig returns the SushiSwap V2 mainnet deployment. SushiSwap is a
// Uniswap V2 fork with the same 0.3% fee.
func MainnetConfig() uniswap.Config {
	return uniswap.Config{
		Name:          Name,
		Router:        MainnetRouter,
		Factory:       MainnetFactory,
		InitCodeHash:  MainnetInitCode,
		FeeBps:        30,
		PairCacheSize: 1024,
	}
}

// NewV2Router creates an in-process SushiSwap router
func NewV2Router(env *chain.Env, ledger token.ERC20, opts ...uniswap.Option) (*uniswap.V2Router, error) {
	return uniswap.NewV2Router(env, ledger, MainnetConfig(), opts...)
}

// DefaultClientConfig returns the client settings for the SushiSwap mainnet router
func DefaultClientConfig() uniswap.ClientConfig {
	cfg := uniswap.DefaultClientConfig()
	cfg.Name = Name
	cfg.Router = MainnetRouter
	return cfg
}

// NewRouterClient binds the SushiSwap mainnet router for live quotes
func NewRouterClient(caller uniswap.ContractCaller, cfg uniswap.ClientConfig, logger *zap.Logger, m *metrics.VenueMetrics) (*uniswap.RouterClient, error) {
	if cfg.Router == (common.Address{}) {
		cfg.Router = MainnetRouter
	}
	if cfg.Name == "" || cfg.Name == uniswap.DefaultClientConfig().Name {
		cfg.Name = Name
	}
	return uniswap.NewRouterClient(caller, cfg, logger, m)
}
