package simulator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

func TestNewScenario(t *testing.T) {
	ctx := context.Background()
	s, err := NewScenario(ctx, DefaultParams(), zaptest.NewLogger(t), prometheus.NewRegistry())
	require.NoError(t, err)

	t.Run("VenuesSeeded", func(t *testing.T) {
		reserveUSDT, reserveWETH, err := s.Uniswap.GetReserves(USDT, WETH)
		require.NoError(t, err)
		assert.Equal(t, testutils.ToUnits(t, "20000000", 6), reserveUSDT)
		assert.Equal(t, testutils.ToWei(t, "10000"), reserveWETH)

		reserveUSDT, reserveWETH, err = s.Sushiswap.GetReserves(USDT, WETH)
		require.NoError(t, err)
		assert.Equal(t, testutils.ToUnits(t, "20000000", 6), reserveUSDT)
		assert.Equal(t, testutils.ToWei(t, "10000"), reserveWETH)
	})

	t.Run("PoolFunded", func(t *testing.T) {
		assert.Equal(t, testutils.ToUnits(t, "50000000", 6), s.Pool.BalanceOf(USDT, Whale))
		assert.Equal(t, testutils.ToUnits(t, "55000000", 6), s.Ledger.BalanceOf(USDT, s.Pool.Address()))
		assert.Equal(t, s.Pool, s.Provider.GetPool())
	})

	t.Run("ExecutorConfig", func(t *testing.T) {
		cfg := s.ExecutorConfig()
		assert.Equal(t, WETH, cfg.Token0)
		assert.Equal(t, USDT, cfg.Token1)
		assert.Equal(t, s.Uniswap.Address(), cfg.VenueA.Address())
		assert.Equal(t, s.Sushiswap.Address(), cfg.VenueB.Address())
	})
}

func TestCreateImbalance(t *testing.T) {
	ctx := context.Background()
	s, err := NewScenario(ctx, DefaultParams(), nil, nil)
	require.NoError(t, err)

	before, err := s.Price(s.Uniswap)
	require.NoError(t, err)
	balance := s.Ledger.BalanceOf(USDT, Whale)

	out, err := s.CreateImbalance(ctx, s.Uniswap, testutils.ToWei(t, "500"))
	require.NoError(t, err)
	assert.Positive(t, out.Sign())
	assert.Equal(t, new(big.Int).Add(balance, out), s.Ledger.BalanceOf(USDT, Whale))

	after, err := s.Price(s.Uniswap)
	require.NoError(t, err)
	assert.Equal(t, -1, after.Cmp(before), "WETH should be cheaper after the dump")

	sushi, err := s.Price(s.Sushiswap)
	require.NoError(t, err)
	assert.Equal(t, before, sushi)

	t.Run("TooLargeRevertsCleanly", func(t *testing.T) {
		whaleWETH := s.Ledger.BalanceOf(WETH, Whale)
		_, err := s.CreateImbalance(ctx, s.Uniswap, new(big.Int).Add(whaleWETH, big.NewInt(1)))
		require.Error(t, err)
		assert.Equal(t, whaleWETH, s.Ledger.BalanceOf(WETH, Whale))
		price, err := s.Price(s.Uniswap)
		require.NoError(t, err)
		assert.Equal(t, after, price)
	})
}

func TestAdvance(t *testing.T) {
	s, err := NewScenario(context.Background(), DefaultParams(), nil, nil)
	require.NoError(t, err)

	start := s.Env.Now()
	s.Advance(365 * 24 * time.Hour)
	assert.Equal(t, start.Add(365*24*time.Hour), s.Env.Now())
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	opts := RunOptions{
		Params:        DefaultParams(),
		ImbalanceWETH: testutils.ToWei(t, "500"),
		LoanAmount:    testutils.ToUnits(t, "100000", 6),
		Tolerance:     new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)),
		Invest:        true,
		Hold:          365 * 24 * time.Hour,
		Registerer:    prometheus.NewRegistry(),
		Logger:        zaptest.NewLogger(t),
	}

	result, err := Run(ctx, opts)
	require.NoError(t, err)
	require.NotNil(t, result.Opportunity)
	assert.Equal(t, "UniswapV2->SushiswapV2", result.Opportunity.Direction())
	assert.Equal(t, -1, result.PriceUniswap.Cmp(result.PriceSushiswap))

	profit := result.Report.Profit
	assert.Equal(t, 1, profit.Sign())
	assert.Equal(t, result.Opportunity.Profit.String(), profit.String())
	assert.Equal(t, profit.String(), result.Invested.String())
	assert.Equal(t, 1, result.Withdrawn.Cmp(result.Invested), "a year of yield is withdrawn")
	assert.Equal(t, result.Withdrawn.String(), result.OwnerBalance.String())

	t.Run("GapOnSushiswap", func(t *testing.T) {
		opts := opts
		opts.ImbalanceVenue = "SushiswapV2"
		opts.Registerer = nil

		reverse, err := Run(ctx, opts)
		require.NoError(t, err)
		require.NotNil(t, reverse.Opportunity)
		assert.Equal(t, "SushiswapV2->UniswapV2", reverse.Opportunity.Direction())
		assert.Equal(t, 1, reverse.PriceUniswap.Cmp(reverse.PriceSushiswap))
		assert.Equal(t, reverse.Opportunity.Profit.String(), reverse.Report.Profit.String())
		assert.Equal(t, profit.String(), reverse.Report.Profit.String(), "mirrored markets pay the same")
	})

	t.Run("UnknownVenue", func(t *testing.T) {
		opts := opts
		opts.ImbalanceVenue = "Curve"
		opts.Registerer = nil
		_, err := Run(ctx, opts)
		require.Error(t, err)
	})

	t.Run("Balanced", func(t *testing.T) {
		opts := opts
		opts.ImbalanceWETH = nil
		opts.Registerer = nil
		_, err := Run(ctx, opts)
		require.Error(t, err)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		opts := opts
		opts.LoanAmount = nil
		_, err := Run(ctx, opts)
		require.Error(t, err)
	})
}
