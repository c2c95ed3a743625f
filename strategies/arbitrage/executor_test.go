package arbitrage_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/flashloan/aave"
	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"github.com/michaelpento.lv/flasharb/utils/testutils"
)

type harness struct {
	scenario *simulator.Scenario
	executor *arbitrage.Executor
	registry *prometheus.Registry
}

func newHarness(t *testing.T, imbalanceWETH string, opts ...arbitrage.Option) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := simulator.NewScenario(ctx, simulator.DefaultParams(), logger, nil)
	require.NoError(t, err)
	if imbalanceWETH != "" {
		_, err = s.CreateImbalance(ctx, s.Uniswap, testutils.ToWei(t, imbalanceWETH))
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	opts = append([]arbitrage.Option{arbitrage.WithLogger(logger), arbitrage.WithRegisterer(reg)}, opts...)
	e, err := arbitrage.NewExecutor(s.Env, s.Ledger, simulator.Deployer, s.ExecutorConfig(), opts...)
	require.NoError(t, err)
	return &harness{scenario: s, executor: e, registry: reg}
}

// snapshot captures every balance a flash loan arbitrage can touch
type snapshot struct {
	executorUSDT, executorWETH *big.Int
	poolUSDT                   *big.Int
	uniUSDT, uniWETH           *big.Int
	sushiUSDT, sushiWETH       *big.Int
	index                      *big.Int
	allowance                  *big.Int
}

func (h *harness) snapshot(t *testing.T) snapshot {
	t.Helper()
	s := h.scenario
	var snap snapshot
	var err error
	snap.executorUSDT = s.Ledger.BalanceOf(simulator.USDT, h.executor.Address())
	snap.executorWETH = s.Ledger.BalanceOf(simulator.WETH, h.executor.Address())
	snap.poolUSDT = s.Ledger.BalanceOf(simulator.USDT, s.Pool.Address())
	snap.uniUSDT, snap.uniWETH, err = s.Uniswap.GetReserves(simulator.USDT, simulator.WETH)
	require.NoError(t, err)
	snap.sushiUSDT, snap.sushiWETH, err = s.Sushiswap.GetReserves(simulator.USDT, simulator.WETH)
	require.NoError(t, err)
	snap.index, err = s.Pool.LiquidityIndex(simulator.USDT)
	require.NoError(t, err)
	snap.allowance = s.Ledger.Allowance(simulator.USDT, h.executor.Address(), s.Uniswap.Address())
	return snap
}

func (h *harness) assertMetric(t *testing.T, line string) {
	t.Helper()
	lines, err := metrics.Summarize(h.registry)
	require.NoError(t, err)
	assert.Contains(t, lines, line)
}

func assertSameState(t *testing.T, want, got snapshot) {
	t.Helper()
	assert.Equal(t, want.executorUSDT.String(), got.executorUSDT.String(), "executor USDT")
	assert.Equal(t, want.executorWETH.String(), got.executorWETH.String(), "executor WETH")
	assert.Equal(t, want.poolUSDT.String(), got.poolUSDT.String(), "pool USDT")
	assert.Equal(t, want.uniUSDT.String(), got.uniUSDT.String(), "uniswap USDT reserve")
	assert.Equal(t, want.uniWETH.String(), got.uniWETH.String(), "uniswap WETH reserve")
	assert.Equal(t, want.sushiUSDT.String(), got.sushiUSDT.String(), "sushiswap USDT reserve")
	assert.Equal(t, want.sushiWETH.String(), got.sushiWETH.String(), "sushiswap WETH reserve")
	assert.Equal(t, want.index.String(), got.index.String(), "liquidity index")
	assert.Equal(t, want.allowance.String(), got.allowance.String(), "router allowance")
}

func TestNewExecutor(t *testing.T) {
	s, err := simulator.NewScenario(context.Background(), simulator.DefaultParams(), nil, nil)
	require.NoError(t, err)

	var nilRouter *uniswap.V2Router
	var nilPool *aave.Pool

	tests := []struct {
		name   string
		mutate func(cfg *arbitrage.Config)
		owner  common.Address
		field  string
	}{
		{
			name:   "NilProvider",
			mutate: func(cfg *arbitrage.Config) { cfg.Provider = nil },
			field:  "PROVIDER",
		},
		{
			name:   "NilVenueA",
			mutate: func(cfg *arbitrage.Config) { cfg.VenueA = nil },
			field:  "UNISWAP_ROUTER",
		},
		{
			name:   "TypedNilVenueB",
			mutate: func(cfg *arbitrage.Config) { cfg.VenueB = nilRouter },
			field:  "SUSHISWAP_ROUTER",
		},
		{
			name:   "ZeroToken0",
			mutate: func(cfg *arbitrage.Config) { cfg.Token0 = common.Address{} },
			field:  "TOKEN0",
		},
		{
			name:   "ZeroToken1",
			mutate: func(cfg *arbitrage.Config) { cfg.Token1 = common.Address{} },
			field:  "TOKEN1",
		},
		{
			name: "ProviderFirst",
			mutate: func(cfg *arbitrage.Config) {
				cfg.Provider = nil
				cfg.Token1 = common.Address{}
			},
			field: "PROVIDER",
		},
		{
			name:   "ZeroOwner",
			mutate: func(cfg *arbitrage.Config) {},
			owner:  common.Address{},
			field:  "OWNER",
		},
		{
			name: "ProviderWithoutPool",
			mutate: func(cfg *arbitrage.Config) {
				cfg.Provider = aave.NewAddressesProvider(aave.MainnetAddressesProvider, nilPool)
			},
			field: "POOL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := s.ExecutorConfig()
			tt.mutate(&cfg)
			owner := simulator.Deployer
			if tt.field == "OWNER" {
				owner = tt.owner
			}

			e, err := arbitrage.NewExecutor(s.Env, s.Ledger, owner, cfg)
			require.Error(t, err)
			assert.Nil(t, e)
			assert.ErrorIs(t, err, types.ErrConfiguration)

			var zeroErr *types.InputIsZeroError
			require.True(t, errors.As(err, &zeroErr))
			assert.Equal(t, tt.field, zeroErr.Field)
		})
	}

	t.Run("Valid", func(t *testing.T) {
		e, err := arbitrage.NewExecutor(s.Env, s.Ledger, simulator.Deployer, s.ExecutorConfig())
		require.NoError(t, err)
		assert.Equal(t, simulator.Deployer, e.Owner())
		assert.Equal(t, s.Pool.Address(), e.Pool().Address())
		assert.NotEqual(t, common.Address{}, e.Address())
		assert.Equal(t, types.SwapPath{simulator.USDT, simulator.WETH}, e.GetPath(simulator.USDT, simulator.WETH))

		other, err := arbitrage.NewExecutor(s.Env, s.Ledger, simulator.Deployer, s.ExecutorConfig())
		require.NoError(t, err)
		assert.NotEqual(t, e.Address(), other.Address())
	})
}

func TestExecuteFlashLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("Profitable", func(t *testing.T) {
		h := newHarness(t, "500")
		s := h.scenario
		amount := testutils.ToUnits(t, "100000", 6)

		bounds, err := h.executor.EstimateSlippage(ctx, amount, types.Percent(1))
		require.NoError(t, err)
		poolBefore := s.Ledger.BalanceOf(simulator.USDT, s.Pool.Address())
		whaleBefore := s.Pool.BalanceOf(simulator.USDT, simulator.Whale)

		report, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, amount,
			bounds.MinimumFirstSwap, bounds.MinimumSecondSwap)
		require.NoError(t, err)
		require.NotNil(t, report)

		premium := testutils.ToUnits(t, "90", 6)
		assert.Equal(t, premium.String(), report.Premium.String())
		assert.Equal(t, new(big.Int).Add(amount, premium).String(), report.Repayment.String())
		assert.Equal(t, 1, report.Profit.Sign())
		assert.Equal(t, new(big.Int).Sub(report.SecondLegOut, report.Repayment).String(), report.Profit.String())
		assert.True(t, report.FirstLegOut.Cmp(bounds.MinimumFirstSwap) >= 0)
		assert.True(t, report.SecondLegOut.Cmp(bounds.MinimumSecondSwap) >= 0)
		assert.False(t, report.Swept)
		assert.NotEmpty(t, report.ID)
		assert.Equal(t, simulator.WETH, report.Token)

		// Profit stays on the executor, the pool keeps the premium.
		assert.Equal(t, report.Profit.String(), s.Ledger.BalanceOf(simulator.USDT, h.executor.Address()).String())
		assert.Equal(t, 0, s.Ledger.BalanceOf(simulator.WETH, h.executor.Address()).Sign())
		assert.Equal(t, new(big.Int).Add(poolBefore, premium).String(), s.Ledger.BalanceOf(simulator.USDT, s.Pool.Address()).String())
		assert.Equal(t, 1, s.Pool.BalanceOf(simulator.USDT, simulator.Whale).Cmp(whaleBefore))

		h.assertMetric(t, "flasharb_arbitrage_successes_total 1")
		h.assertMetric(t, `flasharb_arbitrage_premium_total_base_units{asset="USDT"} 9e+07`)
	})

	t.Run("NotOwner", func(t *testing.T) {
		h := newHarness(t, "500")
		before := h.snapshot(t)

		_, err := h.executor.ExecuteFlashLoan(ctx, simulator.User, simulator.USDT,
			testutils.ToUnits(t, "100000", 6), nil, nil)
		require.ErrorIs(t, err, types.ErrNotOwner)
		assert.Contains(t, err.Error(), "Ownable: caller is not the owner")
		h.assertMetric(t, `flasharb_arbitrage_failures_total{reason="unauthorized"} 1`)
		assertSameState(t, before, h.snapshot(t))
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		h := newHarness(t, "")
		_, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, big.NewInt(0), nil, nil)
		require.ErrorIs(t, err, types.ErrInvalidAmount)
	})

	t.Run("TightSlippageReverts", func(t *testing.T) {
		h := newHarness(t, "500")
		amount := testutils.ToUnits(t, "100000", 6)
		bounds, err := h.executor.EstimateSlippage(ctx, amount, big.NewInt(0))
		require.NoError(t, err)
		before := h.snapshot(t)

		tooHigh := new(big.Int).Add(bounds.MinimumSecondSwap, big.NewInt(1))
		_, err = h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, amount, bounds.MinimumFirstSwap, tooHigh)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrSlippage)
		assert.ErrorIs(t, err, dex.ErrInsufficientOutputAmount)
		assertSameState(t, before, h.snapshot(t))

		tooHigh = new(big.Int).Add(bounds.MinimumFirstSwap, big.NewInt(1))
		_, err = h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, amount, tooHigh, nil)
		require.ErrorIs(t, err, types.ErrSlippage)
		assertSameState(t, before, h.snapshot(t))

		h.assertMetric(t, `flasharb_arbitrage_failures_total{reason="slippage"} 2`)
	})

	t.Run("UnprofitableReverts", func(t *testing.T) {
		h := newHarness(t, "")
		before := h.snapshot(t)

		_, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT,
			testutils.ToUnits(t, "100000", 6), nil, nil)
		require.Error(t, err)
		var shortfall *types.RepaymentShortfallError
		require.True(t, errors.As(err, &shortfall))
		assert.Equal(t, -1, shortfall.Available.Cmp(shortfall.Required))
		assert.ErrorIs(t, err, types.ErrAccounting)
		assertSameState(t, before, h.snapshot(t))
	})

	t.Run("InsufficientPoolLiquidity", func(t *testing.T) {
		h := newHarness(t, "500")
		before := h.snapshot(t)

		tooMuch := new(big.Int).Add(before.poolUSDT, big.NewInt(1))
		_, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, tooMuch, nil, nil)
		require.ErrorIs(t, err, flashloan.ErrInsufficientLiquidity)
		assertSameState(t, before, h.snapshot(t))
	})

	t.Run("SweepPolicy", func(t *testing.T) {
		h := newHarness(t, "500", arbitrage.WithProfitPolicy(arbitrage.ProfitSweepToOwner))
		s := h.scenario
		ownerBefore := s.Ledger.BalanceOf(simulator.USDT, simulator.Deployer)

		report, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT,
			testutils.ToUnits(t, "100000", 6), nil, nil)
		require.NoError(t, err)
		assert.True(t, report.Swept)
		assert.Equal(t, 0, s.Ledger.BalanceOf(simulator.USDT, h.executor.Address()).Sign())
		assert.Equal(t, new(big.Int).Add(ownerBefore, report.Profit).String(),
			s.Ledger.BalanceOf(simulator.USDT, simulator.Deployer).String())
	})

	t.Run("Recorder", func(t *testing.T) {
		rec := &memRecorder{}
		h := newHarness(t, "500", arbitrage.WithRecorder(rec))
		report, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT,
			testutils.ToUnits(t, "100000", 6), nil, nil)
		require.NoError(t, err)

		_, err = h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, big.NewInt(1), big.NewInt(1e18), nil)
		require.Error(t, err)

		require.Len(t, rec.reports, 1)
		assert.Equal(t, report.ID, rec.reports[0].ID)
	})

	t.Run("RecorderErrorIsNotFatal", func(t *testing.T) {
		h := newHarness(t, "500", arbitrage.WithRecorder(&memRecorder{err: errors.New("disk full")}))
		report, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT,
			testutils.ToUnits(t, "100000", 6), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, report.Profit.String(),
			h.scenario.Ledger.BalanceOf(simulator.USDT, h.executor.Address()).String())
	})
}

func TestExecuteOperationRejectsForeignCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "500")
	s := h.scenario
	amount := testutils.ToUnits(t, "100000", 6)
	premium := flashloan.Premium(amount, flashloan.DefaultPremiumBps)

	t.Run("DirectCall", func(t *testing.T) {
		ok, err := h.executor.ExecuteOperation(ctx, simulator.User, simulator.USDT, amount, premium, h.executor.Address(), nil)
		assert.False(t, ok)
		assert.ErrorIs(t, err, types.ErrInvalidCaller)
	})

	t.Run("PoolWithoutOutstandingLoan", func(t *testing.T) {
		ok, err := h.executor.ExecuteOperation(ctx, s.Pool.Address(), simulator.USDT, amount, premium, h.executor.Address(), nil)
		assert.False(t, ok)
		assert.ErrorIs(t, err, types.ErrInvalidCaller)
	})

	t.Run("LoanInitiatedBySomeoneElse", func(t *testing.T) {
		before := h.snapshot(t)
		err := s.Env.Atomic(func() error {
			return s.Pool.FlashLoanSimple(ctx, simulator.User, h.executor, simulator.USDT, amount, nil, 0)
		})
		require.ErrorIs(t, err, types.ErrInvalidCaller)
		assertSameState(t, before, h.snapshot(t))
	})

	t.Run("ProviderRepointedAfterDeploy", func(t *testing.T) {
		rogue, err := aave.NewPool(s.Env, s.Ledger, testutils.RandomAddress(t))
		require.NoError(t, err)
		s.Provider.SetPool(rogue)
		defer s.Provider.SetPool(s.Pool)

		assert.Equal(t, s.Pool.Address(), h.executor.Pool().Address())
		ok, err := h.executor.ExecuteOperation(ctx, rogue.Address(), simulator.USDT, amount, premium, h.executor.Address(), nil)
		assert.False(t, ok)
		assert.ErrorIs(t, err, types.ErrInvalidCaller)
	})

	termsTests := []struct {
		name  string
		alter func(asset common.Address, amount *big.Int) (common.Address, *big.Int)
	}{
		{"AmountDiffersFromRequest", func(asset common.Address, amount *big.Int) (common.Address, *big.Int) {
			return asset, new(big.Int).Add(amount, big.NewInt(1))
		}},
		{"AssetDiffersFromRequest", func(_ common.Address, amount *big.Int) (common.Address, *big.Int) {
			return simulator.WETH, amount
		}},
	}
	for _, tt := range termsTests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := s.ExecutorConfig()
			cfg.Provider = aave.NewAddressesProvider(testutils.RandomAddress(t), alteringPool{Pool: s.Pool, alter: tt.alter})
			executor, err := arbitrage.NewExecutor(s.Env, s.Ledger, simulator.Deployer, cfg)
			require.NoError(t, err)

			before := h.snapshot(t)
			_, err = executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, amount, nil, nil)
			require.ErrorIs(t, err, types.ErrInvalidCaller)
			assertSameState(t, before, h.snapshot(t))
		})
	}
}

// alteringPool calls the receiver back with loan terms other than the ones
// it was asked for
type alteringPool struct {
	*aave.Pool
	alter func(asset common.Address, amount *big.Int) (common.Address, *big.Int)
}

func (p alteringPool) FlashLoanSimple(ctx context.Context, initiator common.Address, receiver flashloan.Receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) error {
	asset, amount = p.alter(asset, amount)
	ok, err := receiver.ExecuteOperation(ctx, p.Address(), asset, amount, flashloan.Premium(amount, p.FlashLoanPremiumTotal()), initiator, params)
	if err != nil {
		return err
	}
	if !ok {
		return flashloan.ErrInvalidFlashLoanExecutorReturn
	}
	return nil
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "500")
	s := h.scenario

	report, err := h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT,
		testutils.ToUnits(t, "100000", 6), nil, nil)
	require.NoError(t, err)

	_, err = h.executor.Sweep(ctx, simulator.User, simulator.USDT)
	require.ErrorIs(t, err, types.ErrNotOwner)

	ownerBefore := s.Ledger.BalanceOf(simulator.USDT, simulator.Deployer)
	swept, err := h.executor.Sweep(ctx, simulator.Deployer, simulator.USDT)
	require.NoError(t, err)
	assert.Equal(t, report.Profit.String(), swept.String())
	assert.Equal(t, new(big.Int).Add(ownerBefore, swept).String(), s.Ledger.BalanceOf(simulator.USDT, simulator.Deployer).String())

	swept, err = h.executor.Sweep(ctx, simulator.Deployer, simulator.USDT)
	require.NoError(t, err)
	assert.Equal(t, 0, swept.Sign())
}

func TestConcurrentExecutions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "500")
	amount := testutils.ToUnits(t, "10000", 6)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.executor.ExecuteFlashLoan(ctx, simulator.Deployer, simulator.USDT, amount, nil, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	h.assertMetric(t, "flasharb_arbitrage_successes_total 4")
	h.assertMetric(t, "flasharb_arbitrage_attempts_total 4")
}

func TestParseProfitPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    arbitrage.ProfitPolicy
		wantErr bool
	}{
		{in: "", want: arbitrage.ProfitRetain},
		{in: "retain", want: arbitrage.ProfitRetain},
		{in: " Sweep ", want: arbitrage.ProfitSweepToOwner},
		{in: "burn", wantErr: true},
	}
	for _, tt := range tests {
		got, err := arbitrage.ParseProfitPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want.String(), got.String())
	}
}

type memRecorder struct {
	mu      sync.Mutex
	err     error
	reports []*types.ArbitrageReport
}

func (r *memRecorder) Record(_ context.Context, report *types.ArbitrageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, report)
	return nil
}
