package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flasharb/utils"
	"github.com/michaelpento.lv/flasharb/utils/math"
)

type Config struct {
	Network      NetworkConfig    `json:"network" yaml:"network" toml:"network"`
	Contracts    ContractsConfig  `json:"contracts" yaml:"contracts" toml:"contracts"`
	Arbitrage    ArbitrageConfig  `json:"arbitrage" yaml:"arbitrage" toml:"arbitrage"`
	Treasury     TreasuryConfig   `json:"treasury" yaml:"treasury" toml:"treasury"`
	Simulation   SimulationConfig `json:"simulation" yaml:"simulation" toml:"simulation"`
	RPCRateLimit RateLimitConfig  `json:"rpc_rate_limit" yaml:"rpc_rate_limit" toml:"rpc_rate_limit"`
	Retry        RetryConfig      `json:"retry" yaml:"retry" toml:"retry"`
	Log          utils.LogConfig  `json:"log" yaml:"log" toml:"log"`
	Metrics      MetricsConfig    `json:"metrics" yaml:"metrics" toml:"metrics"`
	HistoryDB    string           `json:"history_db" yaml:"history_db" toml:"history_db"`
}

type NetworkConfig struct {
	RPCEndpoint string `json:"rpc_endpoint" yaml:"rpc_endpoint" toml:"rpc_endpoint"`
	ChainID     uint64 `json:"chain_id" yaml:"chain_id" toml:"chain_id"`
	Timeout     string `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// ContractsConfig holds hex addresses of the deployed collaborators
type ContractsConfig struct {
	PoolAddressesProvider string `json:"pool_addresses_provider" yaml:"pool_addresses_provider" toml:"pool_addresses_provider"`
	UniswapRouter         string `json:"uniswap_router" yaml:"uniswap_router" toml:"uniswap_router"`
	SushiswapRouter       string `json:"sushiswap_router" yaml:"sushiswap_router" toml:"sushiswap_router"`
	Token0                string `json:"token0" yaml:"token0" toml:"token0"`
	Token1                string `json:"token1" yaml:"token1" toml:"token1"`
}

// ArbitrageConfig amounts are decimal strings in whole token units
type ArbitrageConfig struct {
	LoanAmount       string  `json:"loan_amount" yaml:"loan_amount" toml:"loan_amount"`
	TolerancePercent float64 `json:"tolerance_percent" yaml:"tolerance_percent" toml:"tolerance_percent"`
	DeadlineWindow   string  `json:"deadline_window" yaml:"deadline_window" toml:"deadline_window"`
	ProfitPolicy     string  `json:"profit_policy" yaml:"profit_policy" toml:"profit_policy"`
	MinProfit        string  `json:"min_profit" yaml:"min_profit" toml:"min_profit"`
}

type TreasuryConfig struct {
	Asset        string `json:"asset" yaml:"asset" toml:"asset"`
	InvestProfit bool   `json:"invest_profit" yaml:"invest_profit" toml:"invest_profit"`
	HoldPeriod   string `json:"hold_period" yaml:"hold_period" toml:"hold_period"`
}

// SimulationConfig describes the in-process market, in whole token units
type SimulationConfig struct {
	UniswapUSDT   string `json:"uniswap_usdt" yaml:"uniswap_usdt" toml:"uniswap_usdt"`
	UniswapWETH   string `json:"uniswap_weth" yaml:"uniswap_weth" toml:"uniswap_weth"`
	SushiswapUSDT string `json:"sushiswap_usdt" yaml:"sushiswap_usdt" toml:"sushiswap_usdt"`
	SushiswapWETH string `json:"sushiswap_weth" yaml:"sushiswap_weth" toml:"sushiswap_weth"`
	PoolSupply    string `json:"pool_supply" yaml:"pool_supply" toml:"pool_supply"`
	PoolCash      string `json:"pool_cash" yaml:"pool_cash" toml:"pool_cash"`
	ImbalanceWETH string `json:"imbalance_weth" yaml:"imbalance_weth" toml:"imbalance_weth"`
	// ImbalanceVenue is where the whale dumps WETH, UniswapV2 or SushiswapV2
	ImbalanceVenue string `json:"imbalance_venue" yaml:"imbalance_venue" toml:"imbalance_venue"`
	AprBps         uint64 `json:"apr_bps" yaml:"apr_bps" toml:"apr_bps"`
	PremiumBps     uint64 `json:"premium_bps" yaml:"premium_bps" toml:"premium_bps"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size" toml:"burst_size"`
}

type RetryConfig struct {
	MaxRetries uint   `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	Backoff    string `json:"backoff" yaml:"backoff" toml:"backoff"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	Print   bool `json:"print" yaml:"print" toml:"print"`
}

// DefaultConfig targets Ethereum mainnet: the Aave V3 market, Uniswap V2 and
// Sushiswap routers, WETH/USDT
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			RPCEndpoint: "http://localhost:8545",
			ChainID:     1,
			Timeout:     "10s",
		},
		Contracts: ContractsConfig{
			PoolAddressesProvider: "0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e",
			UniswapRouter:         "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			SushiswapRouter:       "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
			Token0:                "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Token1:                "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		},
		Arbitrage: ArbitrageConfig{
			LoanAmount:       "100000",
			TolerancePercent: 1,
			DeadlineWindow:   "60s",
			ProfitPolicy:     "retain",
			MinProfit:        "0",
		},
		Treasury: TreasuryConfig{
			Asset:        "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			InvestProfit: true,
			HoldPeriod:   "8760h",
		},
		Simulation: SimulationConfig{
			UniswapUSDT:    "20000000",
			UniswapWETH:    "10000",
			SushiswapUSDT:  "20000000",
			SushiswapWETH:  "10000",
			PoolSupply:     "50000000",
			PoolCash:       "5000000",
			ImbalanceWETH:  "500",
			ImbalanceVenue: "UniswapV2",
			AprBps:         500,
			PremiumBps:     9,
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         20,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Backoff:    "200ms",
		},
		Log: utils.LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Print:   true,
		},
	}
}

// LoadConfig reads cfgFile on top of the defaults. The format follows the
// extension: .json, .yaml/.yml or .toml. An empty path only applies the
// defaults and the environment.
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	// A missing .env file is not an error.
	_ = LoadEnv()

	if cfgFile != "" {
		data, err := os.ReadFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		if err := decode(cfgFile, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// SaveConfig writes cfg in the format matching the file extension
func SaveConfig(cfg *Config, cfgFile string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(cfgFile)); ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "    ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(cfg)
		data = []byte(sb.String())
	default:
		err = fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.Network.ChainID == 0 {
		errors = append(errors, "network.chain_id must be specified")
	}
	if _, err := parseDuration(c.Network.Timeout); err != nil {
		errors = append(errors, fmt.Sprintf("network.timeout: %v", err))
	}

	for name, value := range map[string]string{
		"contracts.pool_addresses_provider": c.Contracts.PoolAddressesProvider,
		"contracts.uniswap_router":          c.Contracts.UniswapRouter,
		"contracts.sushiswap_router":        c.Contracts.SushiswapRouter,
		"contracts.token0":                  c.Contracts.Token0,
		"contracts.token1":                  c.Contracts.Token1,
		"treasury.asset":                    c.Treasury.Asset,
	} {
		if _, err := parseAddress(value); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if err := c.Arbitrage.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("arbitrage config error: %v", err))
	}
	if _, err := parseDuration(c.Treasury.HoldPeriod); err != nil {
		errors = append(errors, fmt.Sprintf("treasury.hold_period: %v", err))
	}
	if err := c.Simulation.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("simulation config error: %v", err))
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if _, err := parseDuration(c.Retry.Backoff); err != nil {
		errors = append(errors, fmt.Sprintf("retry.backoff: %v", err))
	}

	if len(errors) > 0 {
		sort.Strings(errors)
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (a *ArbitrageConfig) Validate() error {
	if amount, err := math.ParseUnits(a.LoanAmount, 18); err != nil || amount.Sign() <= 0 {
		return fmt.Errorf("loan amount must be a positive amount, got %q", a.LoanAmount)
	}
	if a.TolerancePercent < 0 || a.TolerancePercent >= 100 {
		return fmt.Errorf("tolerance percent must be in [0, 100)")
	}
	if _, err := parseDuration(a.DeadlineWindow); err != nil {
		return fmt.Errorf("deadline window: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(a.ProfitPolicy)) {
	case "", "retain", "sweep", "sweep_to_owner":
	default:
		return fmt.Errorf("unknown profit policy %q", a.ProfitPolicy)
	}
	if a.MinProfit != "" {
		if _, err := math.ParseUnits(a.MinProfit, 18); err != nil {
			return fmt.Errorf("invalid min profit %q", a.MinProfit)
		}
	}
	return nil
}

func (s *SimulationConfig) Validate() error {
	for name, value := range map[string]string{
		"uniswap_usdt":   s.UniswapUSDT,
		"uniswap_weth":   s.UniswapWETH,
		"sushiswap_usdt": s.SushiswapUSDT,
		"sushiswap_weth": s.SushiswapWETH,
	} {
		amount, err := math.ParseUnits(value, 18)
		if err != nil || amount.Sign() <= 0 {
			return fmt.Errorf("%s must be a positive amount", name)
		}
	}
	for name, value := range map[string]string{
		"pool_supply":    s.PoolSupply,
		"pool_cash":      s.PoolCash,
		"imbalance_weth": s.ImbalanceWETH,
	} {
		if value == "" {
			continue
		}
		amount, err := math.ParseUnits(value, 18)
		if err != nil || amount.Sign() < 0 {
			return fmt.Errorf("%s must be a non-negative amount", name)
		}
	}
	switch s.ImbalanceVenue {
	case "", "UniswapV2", "SushiswapV2":
	default:
		return fmt.Errorf("imbalance_venue must be UniswapV2 or SushiswapV2, got %q", s.ImbalanceVenue)
	}
	if s.PremiumBps >= 10_000 {
		return fmt.Errorf("premium must be below 10000 bps")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// Addresses returns the parsed contract addresses. Call after ValidateConfig.
func (c *ContractsConfig) Addresses() (provider, uniswap, sushiswap, token0, token1 common.Address) {
	return common.HexToAddress(c.PoolAddressesProvider),
		common.HexToAddress(c.UniswapRouter),
		common.HexToAddress(c.SushiswapRouter),
		common.HexToAddress(c.Token0),
		common.HexToAddress(c.Token1)
}

// LoanAmountUnits returns the configured loan in base units of a token with decimals
func (a *ArbitrageConfig) LoanAmountUnits(decimals uint8) (*big.Int, error) {
	return math.ParseUnits(a.LoanAmount, decimals)
}

// Deadline returns the swap deadline window
func (a *ArbitrageConfig) Deadline() time.Duration {
	d, _ := parseDuration(a.DeadlineWindow)
	return d
}

// Hold returns how long invested profit is left to accrue in simulations
func (t *TreasuryConfig) Hold() time.Duration {
	d, _ := parseDuration(t.HoldPeriod)
	return d
}

// TimeoutDuration returns the RPC timeout
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration(n.Timeout)
	return d
}

// BackoffDuration returns the initial retry backoff
func (r *RetryConfig) BackoffDuration() time.Duration {
	d, _ := parseDuration(r.Backoff)
	return d
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
