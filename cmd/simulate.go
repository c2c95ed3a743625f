package cmd

import (
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/simulator"
	"github.com/michaelpento.lv/flasharb/storage"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/math"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"github.com/michaelpento.lv/flasharb/utils/monitor"
)

var (
	simHistory  bool
	simNoInvest bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a flash loan arbitrage against an in-process market",
	Long: `simulate seeds Uniswap and Sushiswap USDT/WETH pairs and an Aave USDT
reserve in memory, has a whale dump WETH on Uniswap, then borrows USDT,
buys WETH on Uniswap, sells it on Sushiswap and repays the loan atomically.
The profit is invested in the reserve and withdrawn after the hold period.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := runOptions(cfg)
		if err != nil {
			return err
		}
		opts.Logger = log
		opts.Registerer = metrics.Registry()
		opts.Invest = cfg.Treasury.InvestProfit && !simNoInvest

		if simHistory {
			if cfg.HistoryDB == "" {
				return fmt.Errorf("history requested but history_db is not configured")
			}
			db, err := storage.NewLevelDB(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer db.Close()
			opts.Recorder = storage.NewHistory(db, log.Named("history"))
		}

		mon := monitor.NewProcessMonitor(cmd.Context(), metrics.Registry(), time.Second, log.Named("monitor"))
		defer mon.Stop()

		result, err := simulator.Run(cmd.Context(), opts)
		if err != nil {
			log.Error("Simulation failed", zap.Error(err))
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "WETH price       uniswap %s USDT, sushiswap %s USDT\n",
			math.FormatUnits(result.PriceUniswap, 18), math.FormatUnits(result.PriceSushiswap, 18))
		if o := result.Opportunity; o != nil {
			fmt.Fprintf(w, "Opportunity      %s, expected profit %s USDT\n", o.Direction(), math.FormatUnits(o.Profit, 6))
		}
		fmt.Fprintf(w, "Slippage bounds  first >= %s WETH, second >= %s USDT\n",
			math.FormatUnits(result.Bounds.MinimumFirstSwap, 18), math.FormatUnits(result.Bounds.MinimumSecondSwap, 6))
		printReport(w, result.Report)
		if result.Invested != nil {
			fmt.Fprintf(w, "Invested         %s USDT for %s\n", math.FormatUnits(result.Invested, 6), cfg.Treasury.Hold())
			fmt.Fprintf(w, "Withdrawn        %s USDT\n", math.FormatUnits(result.Withdrawn, 6))
		}
		fmt.Fprintf(w, "Owner balance    %s USDT\n", math.FormatUnits(result.OwnerBalance, 6))

		mon.Collect()
		return printMetrics(w, metrics.Registry())
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simHistory, "history", false, "record the report in the configured history database")
	simulateCmd.Flags().BoolVar(&simNoInvest, "no-invest", false, "keep the profit instead of investing it")
	rootCmd.AddCommand(simulateCmd)
}

// runOptions translates the configuration into simulation inputs
func runOptions(c *config.Config) (simulator.RunOptions, error) {
	opts := simulator.RunOptions{Params: simulator.DefaultParams()}
	sim := c.Simulation

	amounts := []struct {
		value    string
		decimals uint8
		dst      **big.Int
	}{
		{sim.UniswapUSDT, 6, &opts.Params.Uniswap.USDT},
		{sim.UniswapWETH, 18, &opts.Params.Uniswap.WETH},
		{sim.SushiswapUSDT, 6, &opts.Params.Sushiswap.USDT},
		{sim.SushiswapWETH, 18, &opts.Params.Sushiswap.WETH},
		{sim.PoolSupply, 6, &opts.Params.PoolSupply},
		{sim.PoolCash, 6, &opts.Params.PoolCash},
		{sim.ImbalanceWETH, 18, &opts.ImbalanceWETH},
		{c.Arbitrage.LoanAmount, 6, &opts.LoanAmount},
		{c.Arbitrage.MinProfit, 6, &opts.MinProfit},
	}
	for _, a := range amounts {
		if a.value == "" {
			continue
		}
		v, err := math.ParseUnits(a.value, a.decimals)
		if err != nil {
			return opts, err
		}
		*a.dst = v
	}

	opts.ImbalanceVenue = sim.ImbalanceVenue
	opts.Params.AprBps = sim.AprBps
	opts.Params.PremiumBps = sim.PremiumBps

	policy, err := arbitrage.ParseProfitPolicy(c.Arbitrage.ProfitPolicy)
	if err != nil {
		return opts, err
	}
	opts.ProfitPolicy = policy
	opts.Tolerance = types.Percent(c.Arbitrage.TolerancePercent)
	opts.DeadlineWindow = c.Arbitrage.Deadline()
	opts.Hold = c.Treasury.Hold()
	if opts.Hold == 0 {
		opts.Hold = time.Second
	}
	return opts, nil
}

func printReport(w io.Writer, r *types.ArbitrageReport) {
	fmt.Fprintf(w, "Report %s\n", r.ID)
	fmt.Fprintf(w, "  borrowed       %s USDT (premium %s)\n", math.FormatUnits(r.Amount, 6), math.FormatUnits(r.Premium, 6))
	fmt.Fprintf(w, "  first leg out  %s WETH\n", math.FormatUnits(r.FirstLegOut, 18))
	fmt.Fprintf(w, "  second leg out %s USDT\n", math.FormatUnits(r.SecondLegOut, 6))
	fmt.Fprintf(w, "  repaid         %s USDT\n", math.FormatUnits(r.Repayment, 6))
	fmt.Fprintf(w, "  profit         %s USDT (swept: %t)\n", math.FormatUnits(r.Profit, 6), r.Swept)
}
