package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateConfig())

	provider, uniswap, sushiswap, token0, token1 := cfg.Contracts.Addresses()
	assert.Equal(t, "0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e", provider.Hex())
	assert.Equal(t, "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", uniswap.Hex())
	assert.Equal(t, "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F", sushiswap.Hex())
	assert.Equal(t, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", token0.Hex())
	assert.Equal(t, "0xdAC17F958D2ee523a2206206994597C13D831ec7", token1.Hex())

	assert.Equal(t, 60*time.Second, cfg.Arbitrage.Deadline())
	assert.Equal(t, 365*24*time.Hour, cfg.Treasury.Hold())
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BackoffDuration())

	loan, err := cfg.Arbitrage.LoanAmountUnits(6)
	require.NoError(t, err)
	assert.Equal(t, "100000000000", loan.String())
}

func TestLoadConfigFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "JSON",
			file: "flasharb.json",
			content: `{
				"network": {"chain_id": 5, "timeout": "3s"},
				"arbitrage": {"loan_amount": "2500.5", "profit_policy": "sweep"},
				"history_db": "/tmp/history"
			}`,
		},
		{
			name: "YAML",
			file: "flasharb.yaml",
			content: `
network:
  chain_id: 5
  timeout: 3s
arbitrage:
  loan_amount: "2500.5"
  profit_policy: sweep
history_db: /tmp/history
`,
		},
		{
			name: "TOML",
			file: "flasharb.toml",
			content: `
history_db = "/tmp/history"

[network]
chain_id = 5
timeout = "3s"

[arbitrage]
loan_amount = "2500.5"
profit_policy = "sweep"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, uint64(5), cfg.Network.ChainID)
			assert.Equal(t, 3*time.Second, cfg.Network.TimeoutDuration())
			assert.Equal(t, "2500.5", cfg.Arbitrage.LoanAmount)
			assert.Equal(t, "sweep", cfg.Arbitrage.ProfitPolicy)
			assert.Equal(t, "/tmp/history", cfg.HistoryDB)

			// Untouched sections keep their defaults.
			assert.Equal(t, DefaultConfig().Contracts, cfg.Contracts)
			assert.Equal(t, 1.0, cfg.Arbitrage.TolerancePercent)
			assert.Equal(t, uint64(500), cfg.Simulation.AprBps)
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
		assert.ErrorContains(t, err, "failed to open config file")
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, "flasharb.ini", "chain_id=1"))
		assert.ErrorContains(t, err, "unsupported config format")
	})

	t.Run("AggregatesProblems", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{
			"contracts": {"uniswap_router": "not-an-address", "token0": "0x0000000000000000000000000000000000000000"},
			"arbitrage": {"tolerance_percent": 100},
			"rpc_rate_limit": {"requests_per_second": 0, "burst_size": 1}
		}`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
		assert.Contains(t, err.Error(), "contracts.uniswap_router")
		assert.Contains(t, err.Error(), "contracts.token0: zero address")
		assert.Contains(t, err.Error(), "tolerance percent")
		assert.Contains(t, err.Error(), "requests per second")
	})

	t.Run("UnknownImbalanceVenue", func(t *testing.T) {
		path := writeFile(t, "venue.yaml", "simulation:\n  imbalance_venue: Curve\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "imbalance_venue")
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvRPCEndpoint, "https://eth.example.org")
	t.Setenv(EnvChainID, "11155111")
	t.Setenv(EnvHistoryDB, "/var/lib/flasharb")
	t.Setenv(EnvLogFile, "/var/log/flasharb.log")
	t.Setenv(EnvLoanAmount, "42")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://eth.example.org", cfg.Network.RPCEndpoint)
	assert.Equal(t, uint64(11155111), cfg.Network.ChainID)
	assert.Equal(t, "/var/lib/flasharb", cfg.HistoryDB)
	assert.Equal(t, "/var/log/flasharb.log", cfg.Log.File)
	assert.Equal(t, "42", cfg.Arbitrage.LoanAmount)

	t.Setenv(EnvChainID, "mainnet")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, EnvChainID)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"out.json", "out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.HistoryDB = "history"
			cfg.Simulation.ImbalanceWETH = "750"
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}
