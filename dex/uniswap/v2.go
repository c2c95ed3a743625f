package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/token"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Config describes a V2 deployment
type Config struct {
	Name          string
	Router        common.Address
	Factory       common.Address
	InitCodeHash  common.Hash
	FeeBps        uint64
	PairCacheSize int
}

// MainnetConfig returns the Uniswap V2 mainnet deployment
func MainnetConfig() Config {
	return Config{
		Name:          "UniswapV2",
		Router:        MainnetRouter,
		Factory:       MainnetFactory,
		InitCodeHash:  MainnetInitCode,
		FeeBps:        30,
		PairCacheSize: 1024,
	}
}

type Option func(*V2Router)

// WithLogger sets the router logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *V2Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics reports swaps and quotes to m
func WithMetrics(m *metrics.VenueMetrics) Option {
	return func(r *V2Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// V2Router is an in-process UniswapV2Router02 together with its factory and
// pairs. Token custody goes through the ledger and reserve updates are
// journaled, so swaps inside a reverted transaction leave no trace.
type V2Router struct {
	cfg     Config
	env     *chain.Env
	ledger  token.ERC20
	logger  *zap.Logger
	metrics *metrics.VenueMetrics

	mu        sync.RWMutex
	pairs     map[common.Address]*Pair
	pairCache *lru.Cache
}

// NewV2Router creates a router for the deployment described by cfg
func NewV2Router(env *chain.Env, ledger token.ERC20, cfg Config, opts ...Option) (*V2Router, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("token ledger is required")
	}
	if cfg.Router == (common.Address{}) || cfg.Factory == (common.Address{}) {
		return nil, fmt.Errorf("router and factory addresses are required")
	}
	if cfg.FeeBps >= 10_000 {
		return nil, fmt.Errorf("invalid fee: %d bps", cfg.FeeBps)
	}
	if cfg.Name == "" {
		cfg.Name = "UniswapV2"
	}
	if cfg.PairCacheSize <= 0 {
		cfg.PairCacheSize = 1024
	}

	cache, err := lru.New(cfg.PairCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair cache: %w", err)
	}

	r := &V2Router{
		cfg:       cfg,
		env:       env,
		ledger:    ledger,
		logger:    zap.NewNop(),
		pairs:     make(map[common.Address]*Pair),
		pairCache: cache,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewVenueMetrics(nil)
	}
	r.logger = r.logger.With(zap.String("venue", cfg.Name))
	return r, nil
}

// Name returns the exchange name
func (r *V2Router) Name() string {
	return r.cfg.Name
}

// Address returns the router contract address
func (r *V2Router) Address() common.Address {
	return r.cfg.Router
}

// Factory returns the factory contract address
func (r *V2Router) Factory() common.Address {
	return r.cfg.Factory
}

// PairFor derives the CREATE2 address of the pair for two tokens
func (r *V2Router) PairFor(tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1, err := dex.SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}

	key := xxhash.Sum64(append(token0.Bytes(), token1.Bytes()...))
	if cached, ok := r.pairCache.Get(key); ok {
		return cached.(common.Address), nil
	}

	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	address := crypto.CreateAddress2(r.cfg.Factory, salt, r.cfg.InitCodeHash.Bytes())
	r.pairCache.Add(key, address)
	return address, nil
}

// CreatePair deploys the pair for two tokens
func (r *V2Router) CreatePair(tokenA, tokenB common.Address) (*Pair, error) {
	address, err := r.PairFor(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	token0, token1, _ := dex.SortTokens(tokenA, tokenB)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pairs[address]; ok {
		return nil, fmt.Errorf("%w: %s", dex.ErrPairExists, address.Hex())
	}
	pair := newPair(address, token0, token1, r.env.Journal())
	r.pairs[address] = pair
	r.env.Journal().Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.pairs, address)
	})

	r.logger.Debug("Created pair",
		zap.String("pair", address.Hex()),
		zap.String("token0", token0.Hex()),
		zap.String("token1", token1.Hex()))
	return pair, nil
}

// GetPair returns the deployed pair for two tokens
func (r *V2Router) GetPair(tokenA, tokenB common.Address) (*Pair, error) {
	address, err := r.PairFor(tokenA, tokenB)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", dex.ErrPairNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pair, nil
}

// GetReserves returns the reserves of a pair ordered as (tokenA, tokenB)
func (r *V2Router) GetReserves(tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	pair, err := r.GetPair(tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	reserveA, reserveB := pair.reservesFor(tokenA)
	return reserveA, reserveB, nil
}

// AddLiquidity deposits both amounts from provider into the pair, creating it
// when needed. The provider must have approved the router for both tokens.
func (r *V2Router) AddLiquidity(ctx context.Context, provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return dex.ErrInsufficientInputAmount
	}

	var pair *Pair
	err := r.env.Call(func() error {
		var err error
		if pair, err = r.GetPair(tokenA, tokenB); err != nil {
			if pair, err = r.CreatePair(tokenA, tokenB); err != nil {
				return fmt.Errorf("failed to create pair: %w", err)
			}
		}
		if err := r.ledger.TransferFrom(tokenA, r.cfg.Router, provider, pair.Address(), amountA); err != nil {
			return fmt.Errorf("failed to transfer %s: %w", tokenA.Hex(), err)
		}
		if err := r.ledger.TransferFrom(tokenB, r.cfg.Router, provider, pair.Address(), amountB); err != nil {
			return fmt.Errorf("failed to transfer %s: %w", tokenB.Hex(), err)
		}
		r.syncPair(pair)
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("Added liquidity",
		zap.String("pair", pair.Address().Hex()),
		zap.String("amount_a", amountA.String()),
		zap.String("amount_b", amountB.String()))
	return nil
}

// GetAmountsOut returns the amount at every hop of path for amountIn
func (r *V2Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	start := time.Now()
	amounts, err := r.getAmountsOut(ctx, amountIn, path)
	r.metrics.QuoteLatency.WithLabelValues(r.cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.Quotes.WithLabelValues(r.cfg.Name, "error").Inc()
		return nil, err
	}
	r.metrics.Quotes.WithLabelValues(r.cfg.Name, "success").Inc()
	return amounts, nil
}

func (r *V2Router) getAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dex.ValidatePath(path); err != nil {
		return nil, err
	}

	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(orZero(amountIn))
	for i := 0; i < len(path)-1; i++ {
		pair, err := r.GetPair(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut := pair.reservesFor(path[i])
		out, err := dex.GetAmountOut(amounts[i], reserveIn, reserveOut, r.cfg.FeeBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// GetAmountsIn returns the input required at every hop to receive amountOut
func (r *V2Router) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dex.ValidatePath(path); err != nil {
		return nil, err
	}

	amounts := make([]*big.Int, len(path))
	amounts[len(amounts)-1] = new(big.Int).Set(orZero(amountOut))
	for i := len(path) - 1; i > 0; i-- {
		pair, err := r.GetPair(path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut := pair.reservesFor(path[i-1])
		in, err := dex.GetAmountIn(amounts[i], reserveIn, reserveOut, r.cfg.FeeBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i-1, err)
		}
		amounts[i-1] = in
	}
	return amounts, nil
}

// SwapExactTokensForTokens sells amountIn of path[0] pulled from caller and
// sends the output of the last hop to the recipient
func (r *V2Router) SwapExactTokensForTokens(ctx context.Context, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]*big.Int, error) {
	var amounts []*big.Int
	err := r.env.Call(func() error {
		var err error
		amounts, err = r.swap(ctx, caller, amountIn, amountOutMin, path, to, deadline)
		return err
	})
	if err != nil {
		r.metrics.Swaps.WithLabelValues(r.cfg.Name, "failed").Inc()
		r.logger.Debug("Swap failed", zap.Error(err))
		return nil, err
	}

	r.metrics.Swaps.WithLabelValues(r.cfg.Name, "success").Inc()
	r.metrics.SwapVolume.WithLabelValues(r.cfg.Name).Add(metrics.ToFloat(amountIn))
	r.logger.Debug("Swapped",
		zap.String("caller", caller.Hex()),
		zap.String("amount_in", amounts[0].String()),
		zap.String("amount_out", amounts[len(amounts)-1].String()))
	return amounts, nil
}

func (r *V2Router) swap(ctx context.Context, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]*big.Int, error) {
	if deadline == nil || deadline.Cmp(r.env.Timestamp()) < 0 {
		return nil, dex.ErrExpired
	}

	amounts, err := r.getAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	out := amounts[len(amounts)-1]
	if out.Cmp(orZero(amountOutMin)) < 0 {
		return nil, fmt.Errorf("%w: got %s, minimum %s", dex.ErrInsufficientOutputAmount, out, amountOutMin)
	}

	first, err := r.GetPair(path[0], path[1])
	if err != nil {
		return nil, err
	}
	if err := r.ledger.TransferFrom(path[0], r.cfg.Router, caller, first.Address(), amounts[0]); err != nil {
		return nil, fmt.Errorf("failed to transfer input: %w", err)
	}

	for i := 0; i < len(path)-1; i++ {
		pair, err := r.GetPair(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		recipient := to
		if i < len(path)-2 {
			next, err := r.GetPair(path[i+1], path[i+2])
			if err != nil {
				return nil, err
			}
			recipient = next.Address()
		}
		if err := r.ledger.Transfer(path[i+1], pair.Address(), recipient, amounts[i+1]); err != nil {
			return nil, fmt.Errorf("failed to transfer output at hop %d: %w", i, err)
		}
		r.syncPair(pair)
	}
	return amounts, nil
}

// syncPair matches the pair reserves to its ledger balances
func (r *V2Router) syncPair(pair *Pair) {
	balance0 := r.ledger.BalanceOf(pair.token0, pair.address)
	balance1 := r.ledger.BalanceOf(pair.token1, pair.address)
	pair.sync(balance0, balance1, uint32(r.env.Now().Unix()))
}

func orZero(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return amount
}
