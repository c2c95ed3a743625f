package aave

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const addressesProviderABI = `[
	{
		"inputs": [],
		"name": "getPool",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const poolABI = `[
	{
		"inputs": [],
		"name": "FLASHLOAN_PREMIUM_TOTAL",
		"outputs": [{"internalType": "uint128", "name": "", "type": "uint128"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Client reads market parameters from a deployed Aave V3 market
type Client struct {
	caller   bind.ContractCaller
	provider *bind.BoundContract
	poolABI  abi.ABI
	logger   *zap.Logger
}

// NewClient binds the addresses provider at address
func NewClient(caller bind.ContractCaller, address common.Address, logger *zap.Logger) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("addresses provider cannot be zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providerABI, err := abi.JSON(strings.NewReader(addressesProviderABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse addresses provider ABI: %w", err)
	}
	parsedPoolABI, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}

	return &Client{
		caller:   caller,
		provider: bind.NewBoundContract(address, providerABI, caller, nil, nil),
		poolABI:  parsedPoolABI,
		logger:   logger,
	}, nil
}

// GetPool resolves the market's pool address
func (c *Client) GetPool(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := c.provider.Call(&bind.CallOpts{Context: ctx}, &out, "getPool"); err != nil {
		return common.Address{}, fmt.Errorf("failed to get pool: %w", err)
	}
	pool, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to parse pool address")
	}
	return pool, nil
}

// FlashLoanPremiumTotal returns the pool's flash loan premium in basis points
func (c *Client) FlashLoanPremiumTotal(ctx context.Context) (uint64, error) {
	pool, err := c.GetPool(ctx)
	if err != nil {
		return 0, err
	}

	contract := bind.NewBoundContract(pool, c.poolABI, c.caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "FLASHLOAN_PREMIUM_TOTAL"); err != nil {
		return 0, fmt.Errorf("failed to get flash loan premium: %w", err)
	}
	premium, ok := out[0].(*big.Int)
	if !ok || !premium.IsUint64() {
		return 0, fmt.Errorf("failed to parse flash loan premium")
	}

	c.logger.Debug("Fetched flash loan premium",
		zap.String("pool", pool.Hex()),
		zap.Uint64("premium_bps", premium.Uint64()))
	return premium.Uint64(), nil
}
