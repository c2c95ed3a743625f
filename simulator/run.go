package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/investment"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/types"
)

// RunOptions drives one end to end simulation
type RunOptions struct {
	Params         Params
	ImbalanceWETH  *big.Int
	ImbalanceVenue string
	LoanAmount     *big.Int
	Tolerance      *big.Int
	DeadlineWindow time.Duration
	ProfitPolicy   arbitrage.ProfitPolicy
	MinProfit      *big.Int
	Invest         bool
	Hold           time.Duration
	Recorder       arbitrage.Recorder
	Registerer     prometheus.Registerer
	Logger         *zap.Logger
}

// RunResult is what a simulation produced
type RunResult struct {
	PriceUniswap   *big.Int
	PriceSushiswap *big.Int
	Opportunity    *arbitrage.Opportunity
	Bounds         types.SlippageBounds
	Report         *types.ArbitrageReport
	Invested       *big.Int
	Withdrawn      *big.Int
	OwnerBalance   *big.Int
}

// Run builds a scenario, opens a price gap, arbitrages it with a flash loan
// and optionally parks the profit in the lending reserve for opts.Hold
func Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LoanAmount == nil || opts.LoanAmount.Sign() <= 0 {
		return nil, types.ErrInvalidAmount
	}

	s, err := NewScenario(ctx, opts.Params, logger, opts.Registerer)
	if err != nil {
		return nil, err
	}
	dumpVenue, err := s.Venue(opts.ImbalanceVenue)
	if err != nil {
		return nil, err
	}
	if opts.ImbalanceWETH != nil && opts.ImbalanceWETH.Sign() > 0 {
		if _, err := s.CreateImbalance(ctx, dumpVenue, opts.ImbalanceWETH); err != nil {
			return nil, err
		}
	}

	result := &RunResult{}
	if result.PriceUniswap, err = s.Price(s.Uniswap); err != nil {
		return nil, err
	}
	if result.PriceSushiswap, err = s.Price(s.Sushiswap); err != nil {
		return nil, err
	}

	detector, err := arbitrage.NewDetector(s.Uniswap, s.Sushiswap, opts.MinProfit, logger.Named("detector"))
	if err != nil {
		return nil, err
	}
	best, err := detector.Best(ctx, USDT, WETH, opts.LoanAmount, s.Pool.FlashLoanPremiumTotal())
	switch {
	case errors.Is(err, arbitrage.ErrNoOpportunity):
		logger.Warn("No profitable direction, executing anyway")
	case err != nil:
		return nil, fmt.Errorf("failed to evaluate opportunity: %w", err)
	default:
		result.Opportunity = best
	}

	executorOpts := []arbitrage.Option{
		arbitrage.WithLogger(logger.Named("executor")),
		arbitrage.WithProfitPolicy(opts.ProfitPolicy),
		arbitrage.WithDeadlineWindow(opts.DeadlineWindow),
	}
	if opts.Registerer != nil {
		executorOpts = append(executorOpts, arbitrage.WithRegisterer(opts.Registerer))
	}
	if opts.Recorder != nil {
		executorOpts = append(executorOpts, arbitrage.WithRecorder(opts.Recorder))
	}
	cfg := s.ExecutorConfig()
	if best != nil && best.FirstVenue == cfg.VenueB.Name() {
		cfg.VenueA, cfg.VenueB = cfg.VenueB, cfg.VenueA
	}
	executor, err := arbitrage.NewExecutor(s.Env, s.Ledger, Deployer, cfg, executorOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy executor: %w", err)
	}

	tolerance := opts.Tolerance
	if tolerance == nil {
		tolerance = new(big.Int)
	}
	result.Bounds, err = executor.EstimateSlippage(ctx, opts.LoanAmount, tolerance)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate slippage: %w", err)
	}
	result.Report, err = executor.ExecuteFlashLoan(ctx, Deployer, USDT, opts.LoanAmount,
		result.Bounds.MinimumFirstSwap, result.Bounds.MinimumSecondSwap)
	if err != nil {
		return nil, err
	}

	if opts.Invest && result.Report.Profit.Sign() > 0 {
		if !result.Report.Swept {
			if _, err := executor.Sweep(ctx, Deployer, USDT); err != nil {
				return nil, err
			}
		}
		if err := s.invest(ctx, opts, result); err != nil {
			return nil, err
		}
	}

	result.OwnerBalance = s.Ledger.BalanceOf(USDT, Deployer)
	return result, nil
}

func (s *Scenario) invest(ctx context.Context, opts RunOptions, result *RunResult) error {
	managerOpts := []investment.Option{investment.WithLogger(s.logger.Named("treasury"))}
	if opts.Registerer != nil {
		managerOpts = append(managerOpts, investment.WithRegisterer(opts.Registerer))
	}
	manager, err := investment.NewManager(s.Env, s.Ledger, Deployer, s.Pool, USDT, managerOpts...)
	if err != nil {
		return fmt.Errorf("failed to deploy position manager: %w", err)
	}

	profit := result.Report.Profit
	if err := s.Ledger.Approve(USDT, Deployer, manager.Address(), profit); err != nil {
		return err
	}
	if err := manager.Invest(ctx, Deployer, profit); err != nil {
		return err
	}
	result.Invested = new(big.Int).Set(profit)

	s.Advance(opts.Hold)
	result.Withdrawn, err = manager.Withdraw(ctx, Deployer, manager.GetTotalAaveLpBalance())
	return err
}
