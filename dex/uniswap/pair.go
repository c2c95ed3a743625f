package uniswap

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/dex"
)

// Pair is a constant product pool holding token0 and token1. Its token
// balances live in the ledger; the pair tracks the reserves it last synced.
type Pair struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	journal *chain.Journal

	mu                 sync.RWMutex
	reserve0           *big.Int
	reserve1           *big.Int
	blockTimestampLast uint32
}

func newPair(address, token0, token1 common.Address, journal *chain.Journal) *Pair {
	return &Pair{
		address:  address,
		token0:   token0,
		token1:   token1,
		journal:  journal,
		reserve0: new(big.Int),
		reserve1: new(big.Int),
	}
}

// Address returns the pair contract address
func (p *Pair) Address() common.Address {
	return p.address
}

// Token0 returns the address of token0
func (p *Pair) Token0() common.Address {
	return p.token0
}

// Token1 returns the address of token1
func (p *Pair) Token1() common.Address {
	return p.token1
}

// GetReserves returns a copy of the current reserves
func (p *Pair) GetReserves() *dex.Reserves {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &dex.Reserves{
		Reserve0:           new(big.Int).Set(p.reserve0),
		Reserve1:           new(big.Int).Set(p.reserve1),
		BlockTimestampLast: p.blockTimestampLast,
	}
}

// reservesFor returns the reserves ordered as (tokenIn, tokenOut)
func (p *Pair) reservesFor(tokenIn common.Address) (*big.Int, *big.Int) {
	r := p.GetReserves()
	if tokenIn == p.token0 {
		return r.Reserve0, r.Reserve1
	}
	return r.Reserve1, r.Reserve0
}

// sync records new reserves and journals the previous ones
func (p *Pair) sync(balance0, balance1 *big.Int, timestamp uint32) {
	p.mu.Lock()
	prev0, prev1, prevTs := p.reserve0, p.reserve1, p.blockTimestampLast
	p.reserve0 = new(big.Int).Set(balance0)
	p.reserve1 = new(big.Int).Set(balance1)
	p.blockTimestampLast = timestamp
	p.mu.Unlock()

	p.journal.Append(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.reserve0, p.reserve1, p.blockTimestampLast = prev0, prev1, prevTs
	})
}
