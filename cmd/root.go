package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/utils"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

var (
	cfgFile string
	debug   bool
	logFile string

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "Atomic flash loan arbitrage and treasury engine",
	Long: `flasharb borrows a stable asset with an Aave V3 flash loan, round trips it
through two Uniswap V2 style venues to capture a price gap, repays the loan
plus premium in the same transaction and parks the profit in the lending
reserve.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.CleanupLogger()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.json, .yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotating file")
}

func initConfig() error {
	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if debug {
		loaded.Log.Debug = true
	}
	if logFile != "" {
		loaded.Log.File = logFile
	}
	cfg = loaded
	log = utils.InitLogger(cfg.Log)
	metrics.Initialize(&metrics.MetricsConfig{Enabled: cfg.Metrics.Enabled, LogMetrics: debug}, log)
	return nil
}

// printMetrics writes every non-empty sample of the process registry
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	if !cfg.Metrics.Print {
		return nil
	}
	lines, err := metrics.Summarize(g)
	if err != nil {
		return err
	}
	sort.Strings(lines)
	fmt.Fprintln(w, "\nMetrics:")
	fmt.Fprintln(w, "  "+strings.Join(lines, "\n  "))
	return nil
}
