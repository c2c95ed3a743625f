package simulator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/dex/sushiswap"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/flashloan/aave"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/token"
	"github.com/michaelpento.lv/flasharb/utils/math"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Mainnet tokens and the accounts used by simulations
var (
	USDT = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	WETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	Deployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	User     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	Whale    = common.HexToAddress("0x8EB8a3b98659Cce290402893d0123abb75E3ab28")
)

// Liquidity is the depth of one USDT/WETH pair
type Liquidity struct {
	USDT *big.Int
	WETH *big.Int
}

// Params describes the simulated market
type Params struct {
	Genesis    time.Time
	Uniswap    Liquidity
	Sushiswap  Liquidity
	PoolSupply *big.Int // USDT supplied to the lending pool by the whale
	PoolCash   *big.Int // extra USDT held by the pool, standing in for repaid borrows
	AprBps     uint64
	PremiumBps uint64
	WhaleUSDT  *big.Int
	WhaleWETH  *big.Int
}

// DefaultParams prices WETH at 2000 USDT on both venues
func DefaultParams() Params {
	return Params{
		Genesis: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Uniswap: Liquidity{
			USDT: usdt(20_000_000),
			WETH: weth(10_000),
		},
		Sushiswap: Liquidity{
			USDT: usdt(20_000_000),
			WETH: weth(10_000),
		},
		PoolSupply: usdt(50_000_000),
		PoolCash:   usdt(5_000_000),
		AprBps:     500,
		PremiumBps: flashloan.DefaultPremiumBps,
		WhaleUSDT:  usdt(100_000_000),
		WhaleWETH:  weth(50_000),
	}
}

// Scenario is a wired in-process market: a token ledger, both V2 venues and
// an Aave pool behind its addresses provider
type Scenario struct {
	Env       *chain.Env
	Ledger    *token.Ledger
	Uniswap   *uniswap.V2Router
	Sushiswap *uniswap.V2Router
	Pool      *aave.Pool
	Provider  *aave.AddressesProvider
	Params    Params

	logger *zap.Logger
}

// NewScenario deploys the market described by p. Metrics of the venues and
// the pool are registered on reg when it is not nil.
func NewScenario(ctx context.Context, p Params, logger *zap.Logger, reg prometheus.Registerer) (*Scenario, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.Genesis.IsZero() {
		p.Genesis = DefaultParams().Genesis
	}

	env := chain.NewEnv(p.Genesis, logger.Named("chain"))
	ledger, err := token.NewLedger(env, logger.Named("ledger"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	if err := ledger.Register(USDT, "USDT", 6); err != nil {
		return nil, err
	}
	if err := ledger.Register(WETH, "WETH", 18); err != nil {
		return nil, err
	}

	venueMetrics := metrics.NewVenueMetrics(reg)
	uni, err := uniswap.NewV2Router(env, ledger, uniswap.MainnetConfig(),
		uniswap.WithLogger(logger.Named("uniswap")), uniswap.WithMetrics(venueMetrics))
	if err != nil {
		return nil, fmt.Errorf("failed to deploy uniswap: %w", err)
	}
	sushi, err := sushiswap.NewV2Router(env, ledger,
		uniswap.WithLogger(logger.Named("sushiswap")), uniswap.WithMetrics(venueMetrics))
	if err != nil {
		return nil, fmt.Errorf("failed to deploy sushiswap: %w", err)
	}

	premium := p.PremiumBps
	pool, err := aave.NewPool(env, ledger, aave.MainnetPool,
		aave.WithPremium(premium),
		aave.WithPoolLogger(logger.Named("aave")),
		aave.WithPoolMetrics(metrics.NewLoanMetrics(reg)))
	if err != nil {
		return nil, fmt.Errorf("failed to deploy pool: %w", err)
	}

	s := &Scenario{
		Env:       env,
		Ledger:    ledger,
		Uniswap:   uni,
		Sushiswap: sushi,
		Pool:      pool,
		Provider:  aave.NewAddressesProvider(aave.MainnetAddressesProvider, pool),
		Params:    p,
		logger:    logger,
	}
	if err := s.seed(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scenario) seed(ctx context.Context) error {
	p := s.Params
	return s.Env.Atomic(func() error {
		if err := s.Pool.InitReserve(USDT, p.AprBps); err != nil {
			return fmt.Errorf("failed to init reserve: %w", err)
		}
		for _, venue := range []struct {
			router    *uniswap.V2Router
			liquidity Liquidity
		}{{s.Uniswap, p.Uniswap}, {s.Sushiswap, p.Sushiswap}} {
			if err := s.addLiquidity(ctx, venue.router, venue.liquidity); err != nil {
				return fmt.Errorf("failed to seed %s: %w", venue.router.Name(), err)
			}
		}

		if err := s.Fund(USDT, Whale, add(p.WhaleUSDT, p.PoolSupply)); err != nil {
			return err
		}
		if err := s.Fund(WETH, Whale, p.WhaleWETH); err != nil {
			return err
		}
		if positive(p.PoolSupply) {
			if err := s.Ledger.Approve(USDT, Whale, s.Pool.Address(), p.PoolSupply); err != nil {
				return err
			}
			if err := s.Pool.Supply(ctx, Whale, USDT, p.PoolSupply, Whale, 0); err != nil {
				return fmt.Errorf("failed to supply pool: %w", err)
			}
		}
		if positive(p.PoolCash) {
			if err := s.Fund(USDT, s.Pool.Address(), p.PoolCash); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Scenario) addLiquidity(ctx context.Context, router *uniswap.V2Router, l Liquidity) error {
	if err := s.Fund(USDT, Deployer, l.USDT); err != nil {
		return err
	}
	if err := s.Fund(WETH, Deployer, l.WETH); err != nil {
		return err
	}
	if err := s.Ledger.Approve(USDT, Deployer, router.Address(), l.USDT); err != nil {
		return err
	}
	if err := s.Ledger.Approve(WETH, Deployer, router.Address(), l.WETH); err != nil {
		return err
	}
	return router.AddLiquidity(ctx, Deployer, USDT, WETH, l.USDT, l.WETH)
}

// ExecutorConfig wires an arbitrage executor that borrows USDT, buys WETH on
// Uniswap and sells it on Sushiswap
func (s *Scenario) ExecutorConfig() arbitrage.Config {
	return arbitrage.Config{
		Provider: s.Provider,
		VenueA:   s.Uniswap,
		VenueB:   s.Sushiswap,
		Token0:   WETH,
		Token1:   USDT,
	}
}

// Venue returns the scenario router with the given name. An empty name is
// Uniswap.
func (s *Scenario) Venue(name string) (*uniswap.V2Router, error) {
	switch name {
	case "", s.Uniswap.Name():
		return s.Uniswap, nil
	case s.Sushiswap.Name():
		return s.Sushiswap, nil
	}
	return nil, fmt.Errorf("unknown venue %q", name)
}

// Fund mints amount of tok to account
func (s *Scenario) Fund(tok, account common.Address, amount *big.Int) error {
	if !positive(amount) {
		return nil
	}
	if err := s.Ledger.Mint(tok, account, amount); err != nil {
		return fmt.Errorf("failed to fund %s: %w", account.Hex(), err)
	}
	return nil
}

// CreateImbalance has the whale sell wethIn WETH for USDT on venue, making
// WETH cheaper there than on the other venue. Returns the USDT received.
func (s *Scenario) CreateImbalance(ctx context.Context, venue *uniswap.V2Router, wethIn *big.Int) (*big.Int, error) {
	var out *big.Int
	err := s.Env.Atomic(func() error {
		if err := s.Ledger.Approve(WETH, Whale, venue.Address(), wethIn); err != nil {
			return err
		}
		deadline := new(big.Int).Add(s.Env.Timestamp(), big.NewInt(60))
		amounts, err := venue.SwapExactTokensForTokens(ctx, Whale, wethIn, big.NewInt(0), []common.Address{WETH, USDT}, Whale, deadline)
		if err != nil {
			return err
		}
		out = amounts[len(amounts)-1]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create imbalance on %s: %w", venue.Name(), err)
	}

	s.logger.Info("Created price imbalance",
		zap.String("venue", venue.Name()),
		zap.String("weth_in", math.FormatUnits(wethIn, 18)),
		zap.String("usdt_out", math.FormatUnits(out, 6)))
	return out, nil
}

// Advance moves the block clock forward
func (s *Scenario) Advance(d time.Duration) {
	s.Env.Advance(d)
}

// Price returns the USDT price of one WETH on venue, from its reserves
func (s *Scenario) Price(venue *uniswap.V2Router) (*big.Int, error) {
	reserveUSDT, reserveWETH, err := venue.GetReserves(USDT, WETH)
	if err != nil {
		return nil, err
	}
	return math.MulDiv(reserveUSDT, math.Wad, reserveWETH), nil
}

func usdt(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

func weth(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), math.Wad)
}

func add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(orZero(a), orZero(b))
}

func positive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
