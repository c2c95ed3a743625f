package investment

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/access"
	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/token"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Reserve is an interest bearing lending reserve
type Reserve interface {
	Address() common.Address
	Supply(ctx context.Context, caller, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error
	Withdraw(ctx context.Context, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	BalanceOf(asset, account common.Address) *big.Int
}

type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRegisterer registers the treasury metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.metrics = metrics.NewTreasuryMetrics(reg)
	}
}

// Manager holds a single asset position in a lending reserve on behalf of
// its owner
type Manager struct {
	access.Ownable

	address common.Address
	env     *chain.Env
	ledger  token.ERC20
	reserve Reserve
	asset   common.Address
	logger  *zap.Logger
	metrics *metrics.TreasuryMetrics

	mu    sync.RWMutex
	claim *big.Int
}

// NewManager deploys a position manager for asset owned by owner
func NewManager(env *chain.Env, ledger token.ERC20, owner common.Address, reserve Reserve, asset common.Address, opts ...Option) (*Manager, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("token ledger is required")
	}
	if reserve == nil || (reflect.ValueOf(reserve).Kind() == reflect.Ptr && reflect.ValueOf(reserve).IsNil()) ||
		reserve.Address() == (common.Address{}) {
		return nil, &types.InputIsZeroError{Field: "PROVIDER"}
	}
	if asset == (common.Address{}) {
		return nil, &types.InputIsZeroError{Field: "TOKEN"}
	}
	ownable, err := access.NewOwnable(owner)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		Ownable: ownable,
		address: env.Deploy(owner),
		env:     env,
		ledger:  ledger,
		reserve: reserve,
		asset:   asset,
		logger:  zap.NewNop(),
		claim:   new(big.Int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewTreasuryMetrics(nil)
	}
	m.logger = m.logger.With(zap.String("manager", m.address.Hex()))
	m.logger.Info("Deployed position manager",
		zap.String("owner", owner.Hex()),
		zap.String("reserve", reserve.Address().Hex()),
		zap.String("asset", asset.Hex()))
	return m, nil
}

// Address returns the manager contract address
func (m *Manager) Address() common.Address {
	return m.address
}

// Asset returns the managed asset
func (m *Manager) Asset() common.Address {
	return m.asset
}

// Metrics returns the treasury metrics of the manager
func (m *Manager) Metrics() *metrics.TreasuryMetrics {
	return m.metrics
}

// Claim returns the position tracked after the last invest or withdraw
func (m *Manager) Claim() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.claim)
}

// GetTotalAaveLpBalance returns the current reserve balance of the position,
// yield included. Balances are scaled by the reserve's liquidity index with
// half-up rounding both ways, so once the index is above one ray a fresh
// deposit may read back 1 wei above or below the amount supplied.
func (m *Manager) GetTotalAaveLpBalance() *big.Int {
	return m.reserve.BalanceOf(m.asset, m.address)
}

// Invest pulls amount from the owner and supplies it to the reserve. The
// owner must have approved the manager. Owner only. The claim grows by the
// balance the reserve reports, which can differ from amount by 1 wei.
func (m *Manager) Invest(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := m.OnlyOwner(caller); err != nil {
		m.metrics.Operations.WithLabelValues("invest", "unauthorized").Inc()
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return types.ErrInvalidAmount
	}

	var delta *big.Int
	err := m.env.Atomic(func() error {
		if err := m.ledger.TransferFrom(m.asset, m.address, m.Owner(), m.address, amount); err != nil {
			return fmt.Errorf("failed to pull deposit: %w", err)
		}
		if err := m.ledger.Approve(m.asset, m.address, m.reserve.Address(), amount); err != nil {
			return fmt.Errorf("failed to approve reserve: %w", err)
		}

		before := m.reserve.BalanceOf(m.asset, m.address)
		if err := m.reserve.Supply(ctx, m.address, m.asset, amount, m.address, 0); err != nil {
			return fmt.Errorf("failed to supply: %w", err)
		}
		delta = new(big.Int).Sub(m.reserve.BalanceOf(m.asset, m.address), before)
		m.addClaim(delta)
		return nil
	})
	if err != nil {
		m.metrics.Operations.WithLabelValues("invest", "reverted").Inc()
		m.logger.Warn("Invest reverted", zap.String("amount", amount.String()), zap.Error(err))
		return err
	}

	claim := m.Claim()
	m.metrics.Operations.WithLabelValues("invest", "ok").Inc()
	m.metrics.Invested.Add(metrics.ToFloat(amount))
	m.metrics.Position.Set(metrics.ToFloat(claim))
	m.logger.Info("Invested",
		zap.String("amount", amount.String()),
		zap.String("credited", delta.String()),
		zap.String("claim", claim.String()))
	return nil
}

// Withdraw sends amount of the position to the owner. Requests above the
// current reserve balance are rejected. Owner only.
func (m *Manager) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	if err := m.OnlyOwner(caller); err != nil {
		m.metrics.Operations.WithLabelValues("withdraw", "unauthorized").Inc()
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, types.ErrInvalidAmount
	}

	var withdrawn *big.Int
	err := m.env.Atomic(func() error {
		available := m.reserve.BalanceOf(m.asset, m.address)
		if amount.Cmp(available) > 0 {
			return &types.InsufficientBalanceToWithdrawError{
				Requested: new(big.Int).Set(amount),
				Available: available,
			}
		}

		var err error
		withdrawn, err = m.reserve.Withdraw(ctx, m.address, m.asset, amount, m.Owner())
		if err != nil {
			return fmt.Errorf("failed to withdraw: %w", err)
		}
		m.setClaim(m.reserve.BalanceOf(m.asset, m.address))
		return nil
	})
	if err != nil {
		m.metrics.Operations.WithLabelValues("withdraw", "reverted").Inc()
		m.logger.Warn("Withdraw reverted", zap.String("amount", amount.String()), zap.Error(err))
		return nil, err
	}

	claim := m.Claim()
	m.metrics.Operations.WithLabelValues("withdraw", "ok").Inc()
	m.metrics.Withdrawn.Add(metrics.ToFloat(withdrawn))
	m.metrics.Position.Set(metrics.ToFloat(claim))
	m.logger.Info("Withdrew",
		zap.String("amount", withdrawn.String()),
		zap.String("claim", claim.String()))
	return withdrawn, nil
}

func (m *Manager) addClaim(delta *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setClaimLocked(new(big.Int).Add(m.claim, delta))
}

func (m *Manager) setClaim(claim *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setClaimLocked(claim)
}

func (m *Manager) setClaimLocked(claim *big.Int) {
	prev := m.claim
	m.claim = new(big.Int).Set(claim)
	m.env.Journal().Append(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.claim = prev
	})
}
