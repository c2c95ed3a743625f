package aave

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/token"
	"github.com/michaelpento.lv/flasharb/utils/math"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// SecondsPerYear is the compounding period of the liquidity rate
const SecondsPerYear = 365 * 24 * 60 * 60

type reserve struct {
	liquidityIndex *big.Int
	liquidityRate  *big.Int
	lastUpdate     time.Time
	totalScaled    *big.Int
	scaled         map[common.Address]*big.Int
}

type PoolOption func(*Pool)

// WithPremium overrides the flash loan premium in basis points
func WithPremium(bps uint64) PoolOption {
	return func(p *Pool) {
		p.premiumBps = bps
	}
}

// WithPoolLogger sets the pool logger
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPoolMetrics reports loans and deposits to m
func WithPoolMetrics(m *metrics.LoanMetrics) PoolOption {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pool is an in-process Aave V3 pool. The pool address holds the cash of
// every reserve; supplier positions are kept as scaled balances that grow
// with the liquidity index.
type Pool struct {
	address    common.Address
	env        *chain.Env
	ledger     token.ERC20
	premiumBps uint64
	logger     *zap.Logger
	metrics    *metrics.LoanMetrics

	mu       sync.RWMutex
	reserves map[common.Address]*reserve
}

var _ flashloan.Pool = (*Pool)(nil)

// NewPool deploys a pool at address
func NewPool(env *chain.Env, ledger token.ERC20, address common.Address, opts ...PoolOption) (*Pool, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("token ledger is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}

	p := &Pool{
		address:    address,
		env:        env,
		ledger:     ledger,
		premiumBps: flashloan.DefaultPremiumBps,
		logger:     zap.NewNop(),
		reserves:   make(map[common.Address]*reserve),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.premiumBps >= 10_000 {
		return nil, fmt.Errorf("invalid flash loan premium: %d bps", p.premiumBps)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewLoanMetrics(nil)
	}
	p.logger = p.logger.With(zap.String("pool", address.Hex()))
	return p, nil
}

// Address returns the pool contract address
func (p *Pool) Address() common.Address {
	return p.address
}

// FlashLoanPremiumTotal returns the flash loan premium in basis points
func (p *Pool) FlashLoanPremiumTotal() uint64 {
	return p.premiumBps
}

// InitReserve lists asset with a fixed annual liquidity rate
func (p *Pool) InitReserve(asset common.Address, aprBps uint64) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: zero asset", flashloan.ErrReserveNotActive)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.reserves[asset]; ok {
		return fmt.Errorf("%w: %s", flashloan.ErrReserveAlreadyInitialized, asset.Hex())
	}
	p.reserves[asset] = &reserve{
		liquidityIndex: new(big.Int).Set(math.Ray),
		liquidityRate:  math.BpsToRay(aprBps),
		lastUpdate:     p.env.Now(),
		totalScaled:    new(big.Int),
		scaled:         make(map[common.Address]*big.Int),
	}
	p.env.Journal().Append(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.reserves, asset)
	})

	p.logger.Info("Initialized reserve",
		zap.String("asset", asset.Hex()),
		zap.Uint64("apr_bps", aprBps))
	return nil
}

// LiquidityIndex returns the normalized income of asset at the current time
func (p *Pool) LiquidityIndex(asset common.Address) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrReserveNotActive, asset.Hex())
	}
	return p.normalizedIncome(r), nil
}

// BalanceOf returns the aToken balance of account, including accrued yield
func (p *Pool) BalanceOf(asset, account common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.reserves[asset]
	if !ok {
		return new(big.Int)
	}
	scaled, ok := r.scaled[account]
	if !ok {
		return new(big.Int)
	}
	return math.RayMul(scaled, p.normalizedIncome(r))
}

// TotalSupply returns the aToken supply of asset
func (p *Pool) TotalSupply(asset common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.reserves[asset]
	if !ok {
		return new(big.Int)
	}
	return math.RayMul(r.totalScaled, p.normalizedIncome(r))
}

// Supply pulls amount of asset from caller and credits onBehalfOf
func (p *Pool) Supply(ctx context.Context, caller, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return flashloan.ErrInvalidAmount
	}

	err := p.env.Call(func() error {
		r, err := p.updateState(asset)
		if err != nil {
			return err
		}
		if err := p.ledger.TransferFrom(asset, p.address, caller, p.address, amount); err != nil {
			return fmt.Errorf("failed to transfer supply: %w", err)
		}

		p.mu.Lock()
		scaled := math.RayDiv(amount, r.liquidityIndex)
		p.mu.Unlock()
		if scaled.Sign() == 0 {
			return flashloan.ErrInvalidAmount
		}
		p.mint(r, onBehalfOf, scaled)
		return nil
	})
	if err != nil {
		return err
	}

	p.metrics.Supplies.WithLabelValues(asset.Hex()).Inc()
	p.logger.Debug("Supplied",
		zap.String("asset", asset.Hex()),
		zap.String("on_behalf_of", onBehalfOf.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// Withdraw burns the caller's position and sends the underlying to to. An
// amount of MaxUint256 withdraws the whole balance. Returns the amount sent.
func (p *Pool) Withdraw(ctx context.Context, caller, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, flashloan.ErrInvalidAmount
	}

	var withdrawn *big.Int
	err := p.env.Call(func() error {
		r, err := p.updateState(asset)
		if err != nil {
			return err
		}

		p.mu.RLock()
		userScaled := new(big.Int).Set(orZero(r.scaled[caller]))
		index := new(big.Int).Set(r.liquidityIndex)
		p.mu.RUnlock()

		balance := math.RayMul(userScaled, index)
		withdrawn = new(big.Int).Set(amount)
		if amount.Cmp(math.MaxUint256) == 0 {
			withdrawn = balance
		}
		if withdrawn.Sign() == 0 {
			return flashloan.ErrInvalidAmount
		}
		if withdrawn.Cmp(balance) > 0 {
			return fmt.Errorf("%w: requested %s, balance %s", flashloan.ErrNotEnoughAvailableUserBalance, withdrawn, balance)
		}
		if cash := p.ledger.BalanceOf(asset, p.address); cash.Cmp(withdrawn) < 0 {
			return fmt.Errorf("%w: cash %s, requested %s", flashloan.ErrInsufficientLiquidity, cash, withdrawn)
		}

		burn := userScaled
		if withdrawn.Cmp(balance) < 0 {
			burn = math.Min(math.RayDiv(withdrawn, index), userScaled)
		}
		p.burn(r, caller, burn)

		if err := p.ledger.Transfer(asset, p.address, to, withdrawn); err != nil {
			return fmt.Errorf("failed to transfer withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.metrics.Withdrawals.WithLabelValues(asset.Hex()).Inc()
	p.logger.Debug("Withdrew",
		zap.String("asset", asset.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", withdrawn.String()))
	return withdrawn, nil
}

// FlashLoanSimple lends amount of asset to receiver for the duration of its
// callback and pulls back amount plus premium afterwards
func (p *Pool) FlashLoanSimple(ctx context.Context, initiator common.Address, receiver flashloan.Receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if receiver == nil || receiver.Address() == (common.Address{}) {
		return fmt.Errorf("receiver is required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return flashloan.ErrInvalidAmount
	}

	premium := flashloan.Premium(amount, p.premiumBps)
	err := p.env.Call(func() error {
		if _, err := p.updateState(asset); err != nil {
			return err
		}
		if cash := p.ledger.BalanceOf(asset, p.address); cash.Cmp(amount) < 0 {
			return fmt.Errorf("%w: cash %s, requested %s", flashloan.ErrInsufficientLiquidity, cash, amount)
		}
		if err := p.ledger.Transfer(asset, p.address, receiver.Address(), amount); err != nil {
			return fmt.Errorf("failed to transfer loan: %w", err)
		}

		ok, err := receiver.ExecuteOperation(ctx, p.address, asset, amount, premium, initiator, params)
		if err != nil {
			return err
		}
		if !ok {
			return flashloan.ErrInvalidFlashLoanExecutorReturn
		}

		repayment := new(big.Int).Add(amount, premium)
		if err := p.ledger.TransferFrom(asset, p.address, receiver.Address(), p.address, repayment); err != nil {
			return fmt.Errorf("failed to pull repayment: %w", err)
		}
		p.cumulatePremium(asset, premium)
		return nil
	})
	if err != nil {
		p.logger.Debug("Flash loan reverted", zap.String("asset", asset.Hex()), zap.Error(err))
		return err
	}

	p.metrics.FlashLoans.Inc()
	p.metrics.FlashLoanVolume.WithLabelValues(asset.Hex()).Add(metrics.ToFloat(amount))
	p.metrics.Premiums.WithLabelValues(asset.Hex()).Add(metrics.ToFloat(premium))
	p.logger.Info("Flash loan repaid",
		zap.String("asset", asset.Hex()),
		zap.String("receiver", receiver.Address().Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", premium.String()))
	return nil
}

// normalizedIncome applies linear interest since the last update. Callers
// hold p.mu.
func (p *Pool) normalizedIncome(r *reserve) *big.Int {
	elapsed := p.env.Now().Sub(r.lastUpdate)
	if elapsed <= 0 || r.liquidityRate.Sign() == 0 {
		return new(big.Int).Set(r.liquidityIndex)
	}
	seconds := big.NewInt(int64(elapsed / time.Second))
	accrued := math.MulDiv(r.liquidityRate, seconds, big.NewInt(SecondsPerYear))
	return math.RayMul(new(big.Int).Add(math.Ray, accrued), r.liquidityIndex)
}

// updateState moves the reserve index to the current time
func (p *Pool) updateState(asset common.Address) (*reserve, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrReserveNotActive, asset.Hex())
	}

	prevIndex, prevUpdate := r.liquidityIndex, r.lastUpdate
	r.liquidityIndex = p.normalizedIncome(r)
	r.lastUpdate = p.env.Now()
	p.env.Journal().Append(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		r.liquidityIndex, r.lastUpdate = prevIndex, prevUpdate
	})
	return r, nil
}

// cumulatePremium credits a flash loan premium to suppliers by raising the
// liquidity index. With no suppliers the premium stays as pool cash.
func (p *Pool) cumulatePremium(asset common.Address, premium *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.reserves[asset]
	if premium.Sign() == 0 || r.totalScaled.Sign() == 0 {
		return
	}
	totalLiquidity := math.RayMul(r.totalScaled, r.liquidityIndex)
	ratio := math.RayDiv(premium, totalLiquidity)

	prevIndex := r.liquidityIndex
	r.liquidityIndex = math.RayMul(new(big.Int).Add(ratio, math.Ray), r.liquidityIndex)
	p.env.Journal().Append(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		r.liquidityIndex = prevIndex
	})
}

func (p *Pool) mint(r *reserve, account common.Address, scaled *big.Int) {
	p.adjustScaled(r, account, scaled)
}

func (p *Pool) burn(r *reserve, account common.Address, scaled *big.Int) {
	p.adjustScaled(r, account, new(big.Int).Neg(scaled))
}

func (p *Pool) adjustScaled(r *reserve, account common.Address, delta *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevUser, existed := r.scaled[account]
	prevTotal := r.totalScaled

	next := new(big.Int).Add(orZero(prevUser), delta)
	if next.Sign() == 0 {
		delete(r.scaled, account)
	} else {
		r.scaled[account] = next
	}
	r.totalScaled = new(big.Int).Add(prevTotal, delta)

	p.env.Journal().Append(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existed {
			r.scaled[account] = prevUser
		} else {
			delete(r.scaled, account)
		}
		r.totalScaled = prevTotal
	})
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
