package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCEndpoint = "FLASHARB_RPC_ENDPOINT"
	EnvChainID     = "FLASHARB_CHAIN_ID"
	EnvHistoryDB   = "FLASHARB_HISTORY_DB"
	EnvLogFile     = "FLASHARB_LOG_FILE"
	EnvLoanAmount  = "FLASHARB_LOAN_AMOUNT"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func applyEnvOverrides(cfg *Config) error {
	cfg.Network.RPCEndpoint = GetEnvWithDefault(EnvRPCEndpoint, cfg.Network.RPCEndpoint)
	cfg.HistoryDB = GetEnvWithDefault(EnvHistoryDB, cfg.HistoryDB)
	cfg.Log.File = GetEnvWithDefault(EnvLogFile, cfg.Log.File)
	cfg.Arbitrage.LoanAmount = GetEnvWithDefault(EnvLoanAmount, cfg.Arbitrage.LoanAmount)

	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvChainID, err)
		}
		cfg.Network.ChainID = id
	}
	return nil
}
