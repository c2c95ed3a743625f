package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Gas used by a flash loan round trip, on top of the base transaction cost
const (
	BaseTxGas         = uint64(21000)
	FlashLoanOverhead = uint64(85000)
	CostPerHop        = uint64(152000)
)

// ErrNoPrices is returned before the first successful update
var ErrNoPrices = errors.New("gas prices not fetched yet")

// ChainReader is the part of an RPC client the estimator needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator provides gas price estimation and tracking
type Estimator struct {
	client       ChainReader
	logger       *zap.Logger
	baseGasPrice *big.Int
	priorityFee  *big.Int
	updatedAt    time.Time
	mu           sync.RWMutex
}

// NewEstimator creates a new gas estimator
func NewEstimator(client ChainReader, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		client: client,
		logger: logger,
	}
}

// Run refreshes gas prices every interval until ctx is done
func (e *Estimator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Update(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Failed to update gas prices", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Update fetches latest gas prices
func (e *Estimator) Update(ctx context.Context) error {
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		// Pre-London chains have no base fee.
		baseFee = new(big.Int)
	}

	priorityFee, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	e.mu.Lock()
	e.baseGasPrice = new(big.Int).Set(baseFee)
	e.priorityFee = new(big.Int).Set(priorityFee)
	e.updatedAt = time.Now()
	e.mu.Unlock()

	e.logger.Debug("Updated gas prices",
		zap.String("base_fee", baseFee.String()),
		zap.String("priority_fee", priorityFee.String()))
	return nil
}

// GasPrice returns base fee plus priority fee
func (e *Estimator) GasPrice() (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.baseGasPrice == nil || e.priorityFee == nil {
		return nil, ErrNoPrices
	}
	return new(big.Int).Add(e.baseGasPrice, e.priorityFee), nil
}

// EstimateGasCost estimates the cost in wei of a transaction using gasLimit
func (e *Estimator) EstimateGasCost(gasLimit uint64) (*big.Int, error) {
	price, err := e.GasPrice()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit)), nil
}

// EstimateArbitrageGas estimates gas for a flash loan arbitrage with numHops swaps
func (e *Estimator) EstimateArbitrageGas(numHops int) uint64 {
	if numHops < 0 {
		numHops = 0
	}
	return BaseTxGas + FlashLoanOverhead + CostPerHop*uint64(numHops)
}

// EstimateFlashArbitrageCost prices a two venue round trip at current prices
func (e *Estimator) EstimateFlashArbitrageCost() (*big.Int, error) {
	return e.EstimateGasCost(e.EstimateArbitrageGas(2))
}
