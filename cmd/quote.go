package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex/sushiswap"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashloan/aave"
	"github.com/michaelpento.lv/flasharb/gas"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/math"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

var (
	assetDecimals uint8
	tokenDecimals uint8
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price the configured round trip against live routers",
	Long: `quote reads both routers and the Aave market over RPC, evaluates the
round trip in both venue orders and prints the slippage bounds and gas cost
for the configured loan. Nothing is sent on chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Network.TimeoutDuration())
		defer cancel()

		client, err := ethclient.DialContext(ctx, cfg.Network.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", cfg.Network.RPCEndpoint, err)
		}
		defer client.Close()

		provider, uniRouter, sushiRouter, weth, asset := cfg.Contracts.Addresses()
		venueMetrics := metrics.NewVenueMetrics(metrics.Registry())

		uniCfg := uniswap.DefaultClientConfig()
		uniCfg.Router = uniRouter
		sushiCfg := sushiswap.DefaultClientConfig()
		sushiCfg.Router = sushiRouter
		for _, c := range []*uniswap.ClientConfig{&uniCfg, &sushiCfg} {
			c.RateLimit = cfg.RPCRateLimit.RequestsPerSecond
			c.RateBurst = cfg.RPCRateLimit.BurstSize
			c.MaxRetries = cfg.Retry.MaxRetries
			c.RetryBackoff = cfg.Retry.BackoffDuration()
		}
		uni, err := uniswap.NewRouterClient(client, uniCfg, log, venueMetrics)
		if err != nil {
			return err
		}
		sushi, err := sushiswap.NewRouterClient(client, sushiCfg, log, venueMetrics)
		if err != nil {
			return err
		}

		market, err := aave.NewClient(client, provider, log.Named("aave"))
		if err != nil {
			return err
		}
		premiumBps, err := market.FlashLoanPremiumTotal(ctx)
		if err != nil {
			return err
		}

		amount, err := cfg.Arbitrage.LoanAmountUnits(assetDecimals)
		if err != nil {
			return err
		}
		minProfit := new(big.Int)
		if cfg.Arbitrage.MinProfit != "" {
			if minProfit, err = math.ParseUnits(cfg.Arbitrage.MinProfit, assetDecimals); err != nil {
				return err
			}
		}

		detector, err := arbitrage.NewDetector(uni, sushi, minProfit, log.Named("detector"))
		if err != nil {
			return err
		}
		opportunities, err := detector.Evaluate(ctx, asset, weth, amount, premiumBps)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Loan %s, premium %d bps\n", math.FormatUnits(amount, assetDecimals), premiumBps)
		for _, o := range opportunities {
			fmt.Fprintf(w, "  %-24s out %s, back %s, profit %s\n", o.Direction(),
				math.FormatUnits(o.FirstLegOut, tokenDecimals),
				math.FormatUnits(o.SecondLegOut, assetDecimals),
				math.FormatUnits(o.Profit, assetDecimals))
		}

		bounds, err := arbitrage.EstimateBounds(ctx, uni, sushi, asset, weth, amount,
			types.Percent(cfg.Arbitrage.TolerancePercent))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Slippage bounds at %.2f%%: first >= %s, second >= %s\n", cfg.Arbitrage.TolerancePercent,
			math.FormatUnits(bounds.MinimumFirstSwap, tokenDecimals),
			math.FormatUnits(bounds.MinimumSecondSwap, assetDecimals))

		if err := printGasCost(ctx, w, client, uni, weth, asset); err != nil {
			log.Warn("Gas estimate unavailable", zap.Error(err))
		}
		return nil
	},
}

func init() {
	quoteCmd.Flags().Uint8Var(&assetDecimals, "asset-decimals", 6, "decimals of the borrowed asset (token1)")
	quoteCmd.Flags().Uint8Var(&tokenDecimals, "token-decimals", 18, "decimals of the intermediate token (token0)")
	rootCmd.AddCommand(quoteCmd)
}

// printGasCost prices the flash arbitrage gas in wei and in the borrowed
// asset, using token0 as the native token.
func printGasCost(ctx context.Context, w io.Writer, reader gas.ChainReader, venue *uniswap.RouterClient, native, asset common.Address) error {
	estimator := gas.NewEstimator(reader, log.Named("gas"))
	if err := estimator.Update(ctx); err != nil {
		return err
	}
	cost, err := estimator.EstimateFlashArbitrageCost()
	if err != nil {
		return err
	}
	one := math.MustBig("1000000000000000000")
	amounts, err := venue.GetAmountsOut(ctx, one, []common.Address{native, asset})
	if err != nil {
		return err
	}
	inAsset := math.MulDiv(cost, amounts[len(amounts)-1], one)
	fmt.Fprintf(w, "Gas %d units, cost %s ETH (~%s)\n", estimator.EstimateArbitrageGas(2),
		math.FormatUnits(cost, 18), math.FormatUnits(inAsset, assetDecimals))
	return nil
}
