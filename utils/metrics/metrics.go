package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const namespace = "flasharb"

var (
	registry = prometheus.NewRegistry()
	logger   *zap.Logger
)

type MetricsConfig struct {
	Enabled    bool
	LogMetrics bool
}

// Initialize prepares the process wide registry and returns it
func Initialize(cfg *MetricsConfig, log *zap.Logger) *prometheus.Registry {
	logger = log
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg != nil && cfg.LogMetrics {
		logger.Debug("Metrics registry initialized")
	}
	return registry
}

// Registry returns the process wide registry
func Registry() *prometheus.Registry {
	return registry
}

func factory(reg prometheus.Registerer) promauto.Factory {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return promauto.With(reg)
}

// ToFloat converts a token amount in base units to a float for reporting
func ToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

type ArbitrageMetrics struct {
	Attempts         prometheus.Counter
	Successes        prometheus.Counter
	Failures         *prometheus.CounterVec
	ProfitTotal      *prometheus.CounterVec
	PremiumTotal     *prometheus.CounterVec
	LastProfit       *prometheus.GaugeVec
	ExecutionTime    prometheus.Histogram
	SlippageEstimate prometheus.Counter
	Sweeps           prometheus.Counter
}

// NewArbitrageMetrics registers the executor metrics on reg. A nil
// registerer gets a private registry.
func NewArbitrageMetrics(reg prometheus.Registerer) *ArbitrageMetrics {
	f := factory(reg)
	return &ArbitrageMetrics{
		Attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "attempts_total",
			Help:      "Total number of flash loan arbitrage attempts",
		}),
		Successes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "successes_total",
			Help:      "Total number of committed flash loan arbitrages",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "failures_total",
			Help:      "Total number of reverted flash loan arbitrages by reason",
		}, []string{"reason"}),
		ProfitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "profit_total_base_units",
			Help:      "Total profit in token base units",
		}, []string{"asset"}),
		PremiumTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "premium_total_base_units",
			Help:      "Total flash loan premium paid in token base units",
		}, []string{"asset"}),
		LastProfit: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "last_profit_base_units",
			Help:      "Profit of the last committed arbitrage",
		}, []string{"asset"}),
		ExecutionTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "execution_time_seconds",
			Help:      "Time taken to execute a flash loan arbitrage",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		SlippageEstimate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "slippage_estimates_total",
			Help:      "Total number of slippage bound estimations",
		}),
		Sweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "sweeps_total",
			Help:      "Total number of profit sweeps to the owner",
		}),
	}
}

type TreasuryMetrics struct {
	Invested   prometheus.Counter
	Withdrawn  prometheus.Counter
	Position   prometheus.Gauge
	Operations *prometheus.CounterVec
}

// NewTreasuryMetrics registers the yield position metrics on reg
func NewTreasuryMetrics(reg prometheus.Registerer) *TreasuryMetrics {
	f := factory(reg)
	return &TreasuryMetrics{
		Invested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "invested_total_base_units",
			Help:      "Total amount supplied to the lending reserve",
		}),
		Withdrawn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "withdrawn_total_base_units",
			Help:      "Total amount withdrawn from the lending reserve",
		}),
		Position: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "position_base_units",
			Help:      "Tracked claim on the lending reserve",
		}),
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "treasury",
			Name:      "operations_total",
			Help:      "Treasury operations by kind and status",
		}, []string{"operation", "status"}),
	}
}

type VenueMetrics struct {
	Swaps        *prometheus.CounterVec
	SwapVolume   *prometheus.CounterVec
	Quotes       *prometheus.CounterVec
	QuoteLatency *prometheus.HistogramVec
	Retries      *prometheus.CounterVec
}

// NewVenueMetrics registers exchange metrics labelled by venue. One instance
// is shared by every venue using the same registry.
func NewVenueMetrics(reg prometheus.Registerer) *VenueMetrics {
	f := factory(reg)
	return &VenueMetrics{
		Swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "swaps_total",
			Help:      "Swaps executed by venue and status",
		}, []string{"venue", "status"}),
		SwapVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "swap_volume_base_units",
			Help:      "Input volume swapped by venue",
		}, []string{"venue"}),
		Quotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "quotes_total",
			Help:      "Quotes requested by venue and status",
		}, []string{"venue", "status"}),
		QuoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "quote_latency_seconds",
			Help:      "Quote latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		}, []string{"venue"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "rpc_retries_total",
			Help:      "RPC calls retried by venue",
		}, []string{"venue"}),
	}
}

type LoanMetrics struct {
	FlashLoans      prometheus.Counter
	FlashLoanVolume *prometheus.CounterVec
	Premiums        *prometheus.CounterVec
	Supplies        *prometheus.CounterVec
	Withdrawals     *prometheus.CounterVec
}

// NewLoanMetrics registers lending pool metrics on reg
func NewLoanMetrics(reg prometheus.Registerer) *LoanMetrics {
	f := factory(reg)
	return &LoanMetrics{
		FlashLoans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "flash_loans_total",
			Help:      "Total number of repaid flash loans",
		}),
		FlashLoanVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "flash_loan_volume_base_units",
			Help:      "Flash loaned amount by asset",
		}, []string{"asset"}),
		Premiums: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "premiums_base_units",
			Help:      "Flash loan premiums collected by asset",
		}, []string{"asset"}),
		Supplies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "supplies_total",
			Help:      "Supply operations by asset",
		}, []string{"asset"}),
		Withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "withdrawals_total",
			Help:      "Withdraw operations by asset",
		}, []string{"asset"}),
	}
}
