package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// ClientConfig tunes the RPC behaviour of a RouterClient
type ClientConfig struct {
	Name         string
	Router       common.Address
	RateLimit    float64
	RateBurst    int
	MaxRetries   uint
	RetryBackoff time.Duration
}

// DefaultClientConfig returns the client settings for the Uniswap mainnet router
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:         "UniswapV2",
		Router:       MainnetRouter,
		RateLimit:    10,
		RateBurst:    5,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// RouterClient quotes against a deployed UniswapV2Router02 over RPC. It is a
// dex.Quoter only; swaps are never sent from it.
type RouterClient struct {
	cfg      ClientConfig
	contract *bind.BoundContract
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *metrics.VenueMetrics
}

// NewRouterClient binds the router at cfg.Router
func NewRouterClient(caller ContractCaller, cfg ClientConfig, logger *zap.Logger, m *metrics.VenueMetrics) (*RouterClient, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if cfg.Router == (common.Address{}) {
		return nil, fmt.Errorf("router address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewVenueMetrics(nil)
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	parsedABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	return &RouterClient{
		cfg:      cfg,
		contract: bind.NewBoundContract(cfg.Router, parsedABI, caller, nil, nil),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:   logger.With(zap.String("venue", cfg.Name)),
		metrics:  m,
	}, nil
}

// Name returns the exchange name
func (c *RouterClient) Name() string {
	return c.cfg.Name
}

// Address returns the router contract address
func (c *RouterClient) Address() common.Address {
	return c.cfg.Router
}

// GetAmountsOut calls getAmountsOut on the router
func (c *RouterClient) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return c.quote(ctx, "getAmountsOut", amountIn, path)
}

// GetAmountsIn calls getAmountsIn on the router
func (c *RouterClient) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	return c.quote(ctx, "getAmountsIn", amountOut, path)
}

func (c *RouterClient) quote(ctx context.Context, method string, amount *big.Int, path []common.Address) ([]*big.Int, error) {
	if err := dex.ValidatePath(path); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, dex.ErrInsufficientInputAmount
	}

	start := time.Now()
	defer func() {
		c.metrics.QuoteLatency.WithLabelValues(c.cfg.Name).Observe(time.Since(start).Seconds())
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBackoff
	policy.MaxInterval = c.cfg.RetryBackoff * 10

	notify := func(err error, d time.Duration) {
		c.metrics.Retries.WithLabelValues(c.cfg.Name).Inc()
		c.logger.Warn("Retrying router call", zap.String("method", method), zap.Error(err), zap.Duration("backoff", d))
	}

	operation := func() ([]*big.Int, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		var out []interface{}
		err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, amount, path)
		if err != nil {
			if isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(out) != 1 {
			return nil, backoff.Permanent(fmt.Errorf("unexpected %s output length %d", method, len(out)))
		}
		amounts, ok := out[0].([]*big.Int)
		if !ok {
			return nil, backoff.Permanent(fmt.Errorf("failed to parse %s output", method))
		}
		return amounts, nil
	}

	amounts, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.cfg.MaxRetries),
		backoff.WithNotify(notify))
	if err != nil {
		c.metrics.Quotes.WithLabelValues(c.cfg.Name, "error").Inc()
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	c.metrics.Quotes.WithLabelValues(c.cfg.Name, "success").Inc()
	return amounts, nil
}

// isPermanent reports errors a retry cannot fix
func isPermanent(err error) bool {
	if errors.Is(err, bind.ErrNoCode) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "abi:")
}
