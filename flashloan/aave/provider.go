package aave

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/flashloan"
)

// Mainnet Aave V3 deployment
var (
	MainnetAddressesProvider = common.HexToAddress("0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e")
	MainnetPool              = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
)

// AddressesProvider is the registry a market's contracts are resolved from
type AddressesProvider struct {
	address common.Address

	mu   sync.RWMutex
	pool flashloan.Pool
}

var _ flashloan.AddressesProvider = (*AddressesProvider)(nil)

// NewAddressesProvider creates a provider pointing at pool
func NewAddressesProvider(address common.Address, pool flashloan.Pool) *AddressesProvider {
	return &AddressesProvider{address: address, pool: pool}
}

// Address returns the provider contract address
func (p *AddressesProvider) Address() common.Address {
	return p.address
}

// GetPool returns the current pool
func (p *AddressesProvider) GetPool() flashloan.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// SetPool points the provider at a new pool. Contracts that resolved the pool
// earlier keep the old one.
func (p *AddressesProvider) SetPool(pool flashloan.Pool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool = pool
}
