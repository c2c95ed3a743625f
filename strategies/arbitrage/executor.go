package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/access"
	"github.com/michaelpento.lv/flasharb/chain"
	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/token"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// DefaultDeadlineWindow is how long after the callback starts a swap may
// still execute
const DefaultDeadlineWindow = 60 * time.Second

// ProfitPolicy decides what happens to the profit of a committed arbitrage
type ProfitPolicy int

const (
	// ProfitRetain leaves profit on the executor until swept
	ProfitRetain ProfitPolicy = iota
	// ProfitSweepToOwner sends profit to the owner in the same transaction
	ProfitSweepToOwner
)

func (p ProfitPolicy) String() string {
	switch p {
	case ProfitRetain:
		return "retain"
	case ProfitSweepToOwner:
		return "sweep"
	default:
		return fmt.Sprintf("ProfitPolicy(%d)", int(p))
	}
}

// ParseProfitPolicy parses "retain" or "sweep"
func ParseProfitPolicy(s string) (ProfitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retain":
		return ProfitRetain, nil
	case "sweep", "sweep_to_owner":
		return ProfitSweepToOwner, nil
	default:
		return 0, fmt.Errorf("unknown profit policy %q", s)
	}
}

// Recorder persists committed arbitrage reports
type Recorder interface {
	Record(ctx context.Context, report *types.ArbitrageReport) error
}

// Config names the collaborators of an executor. It is fixed at construction.
type Config struct {
	Provider flashloan.AddressesProvider
	VenueA   dex.Router
	VenueB   dex.Router
	Token0   common.Address
	Token1   common.Address
}

type Option func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer registers the executor metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Executor) {
		e.metrics = metrics.NewArbitrageMetrics(reg)
	}
}

// WithDeadlineWindow sets the swap deadline relative to the callback time
func WithDeadlineWindow(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.deadlineWindow = d
		}
	}
}

// WithProfitPolicy sets what happens to profit after repayment
func WithProfitPolicy(p ProfitPolicy) Option {
	return func(e *Executor) {
		e.profitPolicy = p
	}
}

// WithRecorder persists every committed report
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// outstandingLoan is the loan the executor is currently inside of. The pool
// callback is only honoured for it, and only once.
type outstandingLoan struct {
	request types.LoanRequest
	entered bool

	premium   *big.Int
	firstOut  *big.Int
	secondOut *big.Int
	repayment *big.Int
	profit    *big.Int
}

// Executor borrows an asset with a flash loan, sells it on venue A for
// token0, buys it back on venue B and repays the loan, all in one atomic
// transaction
type Executor struct {
	access.Ownable

	address        common.Address
	env            *chain.Env
	ledger         token.ERC20
	cfg            Config
	pool           flashloan.Pool
	deadlineWindow time.Duration
	profitPolicy   ProfitPolicy
	recorder       Recorder
	logger         *zap.Logger
	metrics        *metrics.ArbitrageMetrics

	mu   sync.Mutex
	loan *outstandingLoan
}

var _ flashloan.Receiver = (*Executor)(nil)

var paramsABI = abi.Arguments{
	{Name: "minimumFirstSwap", Type: mustType("uint256")},
	{Name: "minimumSecondSwap", Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// NewExecutor deploys an executor owned by owner
func NewExecutor(env *chain.Env, ledger token.ERC20, owner common.Address, cfg Config, opts ...Option) (*Executor, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("token ledger is required")
	}

	switch {
	case isNull(cfg.Provider):
		return nil, &types.InputIsZeroError{Field: "PROVIDER"}
	case isNull(cfg.VenueA):
		return nil, &types.InputIsZeroError{Field: "UNISWAP_ROUTER"}
	case isNull(cfg.VenueB):
		return nil, &types.InputIsZeroError{Field: "SUSHISWAP_ROUTER"}
	case cfg.Token0 == (common.Address{}):
		return nil, &types.InputIsZeroError{Field: "TOKEN0"}
	case cfg.Token1 == (common.Address{}):
		return nil, &types.InputIsZeroError{Field: "TOKEN1"}
	}

	ownable, err := access.NewOwnable(owner)
	if err != nil {
		return nil, err
	}
	pool := cfg.Provider.GetPool()
	if isNull(pool) {
		return nil, fmt.Errorf("failed to resolve pool: %w", &types.InputIsZeroError{Field: "POOL"})
	}

	e := &Executor{
		Ownable:        ownable,
		address:        env.Deploy(owner),
		env:            env,
		ledger:         ledger,
		cfg:            cfg,
		pool:           pool,
		deadlineWindow: DefaultDeadlineWindow,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewArbitrageMetrics(nil)
	}
	e.logger = e.logger.With(zap.String("executor", e.address.Hex()))

	e.logger.Info("Deployed arbitrage executor",
		zap.String("owner", owner.Hex()),
		zap.String("pool", pool.Address().Hex()),
		zap.String("venue_a", cfg.VenueA.Name()),
		zap.String("venue_b", cfg.VenueB.Name()),
		zap.Stringer("profit_policy", e.profitPolicy))
	return e, nil
}

// Address returns the executor contract address
func (e *Executor) Address() common.Address {
	return e.address
}

// Config returns the collaborators the executor was built with
func (e *Executor) Config() Config {
	return e.cfg
}

// Pool returns the loan source resolved at construction
func (e *Executor) Pool() flashloan.Pool {
	return e.pool
}

// GetPath returns the route from one token to another
func (e *Executor) GetPath(from, to common.Address) types.SwapPath {
	return types.SwapPath{from, to}
}

// EstimateSlippage quotes a round trip of amount of token1 (venue A to token0,
// venue B back) and returns both leg outputs reduced by tolerance
func (e *Executor) EstimateSlippage(ctx context.Context, amount, tolerance *big.Int) (types.SlippageBounds, error) {
	e.metrics.SlippageEstimate.Inc()
	return EstimateBounds(ctx, e.cfg.VenueA, e.cfg.VenueB, e.cfg.Token1, e.cfg.Token0, amount, tolerance)
}

// ExecuteFlashLoan borrows amount of asset and runs the round trip with the
// given minimum leg outputs. Owner only. Nothing is left behind on failure.
func (e *Executor) ExecuteFlashLoan(ctx context.Context, caller, asset common.Address, amount, minFirst, minSecond *big.Int) (*types.ArbitrageReport, error) {
	if err := e.OnlyOwner(caller); err != nil {
		e.metrics.Failures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, types.ErrInvalidAmount
	}
	if minFirst == nil {
		minFirst = new(big.Int)
	}
	if minSecond == nil {
		minSecond = new(big.Int)
	}

	opID := uuid.New()
	logger := e.logger.With(zap.String("op_id", opID.String()))
	logger.Info("Executing flash loan arbitrage",
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("min_first", minFirst.String()),
		zap.String("min_second", minSecond.String()))

	e.metrics.Attempts.Inc()
	start := time.Now()

	params, err := paramsABI.Pack(minFirst, minSecond)
	if err != nil {
		return nil, fmt.Errorf("failed to encode loan params: %w", err)
	}

	var report *types.ArbitrageReport
	err = e.env.Atomic(func() error {
		loan := &outstandingLoan{request: types.LoanRequest{Asset: asset, Amount: new(big.Int).Set(amount)}}
		e.setLoan(loan)
		defer e.setLoan(nil)

		if err := e.pool.FlashLoanSimple(ctx, e.address, e, asset, amount, params, 0); err != nil {
			return err
		}
		if !loan.entered || loan.profit == nil {
			return fmt.Errorf("flash loan completed without callback")
		}

		swept := false
		if e.profitPolicy == ProfitSweepToOwner && loan.profit.Sign() > 0 {
			if err := e.ledger.Transfer(asset, e.address, e.Owner(), loan.profit); err != nil {
				return fmt.Errorf("failed to sweep profit: %w", err)
			}
			swept = true
		}

		report = &types.ArbitrageReport{
			ID:           opID.String(),
			Executor:     e.address,
			Asset:        asset,
			Token:        e.cfg.Token0,
			Amount:       new(big.Int).Set(amount),
			Premium:      loan.premium,
			FirstLegOut:  loan.firstOut,
			SecondLegOut: loan.secondOut,
			Repayment:    loan.repayment,
			Profit:       loan.profit,
			Swept:        swept,
			ExecutedAt:   e.env.Now(),
		}
		return nil
	})
	e.metrics.ExecutionTime.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.Failures.WithLabelValues(failureReason(err)).Inc()
		logger.Warn("Flash loan arbitrage reverted", zap.Error(err))
		return nil, err
	}

	symbol := asset.Hex()
	if named, ok := e.ledger.(interface {
		Symbol(common.Address) (string, error)
	}); ok {
		if s, err := named.Symbol(asset); err == nil {
			symbol = s
		}
	}
	e.metrics.Successes.Inc()
	e.metrics.ProfitTotal.WithLabelValues(symbol).Add(metrics.ToFloat(report.Profit))
	e.metrics.PremiumTotal.WithLabelValues(symbol).Add(metrics.ToFloat(report.Premium))
	e.metrics.LastProfit.WithLabelValues(symbol).Set(metrics.ToFloat(report.Profit))
	if report.Swept {
		e.metrics.Sweeps.Inc()
	}

	logger.Info("Flash loan arbitrage committed",
		zap.String("first_leg_out", report.FirstLegOut.String()),
		zap.String("second_leg_out", report.SecondLegOut.String()),
		zap.String("premium", report.Premium.String()),
		zap.String("profit", report.Profit.String()),
		zap.Bool("swept", report.Swept))

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, report); err != nil {
			logger.Error("Failed to record arbitrage report", zap.Error(err))
		}
	}
	return report, nil
}

// ExecuteOperation is the pool callback. It only proceeds for the loan this
// executor itself has outstanding, called by the pool it resolved.
func (e *Executor) ExecuteOperation(ctx context.Context, caller, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error) {
	loan := e.currentLoan()
	if caller != e.pool.Address() || initiator != e.address || loan == nil || loan.entered ||
		!loan.request.Matches(asset, amount) {
		return false, types.ErrInvalidCaller
	}
	loan.entered = true

	if premium == nil {
		premium = new(big.Int)
	}
	minFirst, minSecond, err := decodeParams(params)
	if err != nil {
		return false, err
	}
	deadline := big.NewInt(e.env.Now().Add(e.deadlineWindow).Unix())

	firstPath := e.GetPath(asset, e.cfg.Token0)
	if err := firstPath.Validate(); err != nil {
		return false, fmt.Errorf("invalid first leg path: %w", err)
	}
	if err := e.ledger.Approve(firstPath.TokenIn(), e.address, e.cfg.VenueA.Address(), amount); err != nil {
		return false, fmt.Errorf("failed to approve %s: %w", e.cfg.VenueA.Name(), err)
	}
	firstAmounts, err := e.cfg.VenueA.SwapExactTokensForTokens(ctx, e.address, amount, minFirst, firstPath, e.address, deadline)
	if err != nil {
		return false, fmt.Errorf("first leg on %s: %w", e.cfg.VenueA.Name(), err)
	}
	firstOut := firstAmounts[len(firstAmounts)-1]

	secondPath := firstPath.Reverse()
	if err := secondPath.Validate(); err != nil {
		return false, fmt.Errorf("invalid second leg path: %w", err)
	}
	if err := e.ledger.Approve(secondPath.TokenIn(), e.address, e.cfg.VenueB.Address(), firstOut); err != nil {
		return false, fmt.Errorf("failed to approve %s: %w", e.cfg.VenueB.Name(), err)
	}
	secondAmounts, err := e.cfg.VenueB.SwapExactTokensForTokens(ctx, e.address, firstOut, minSecond, secondPath, e.address, deadline)
	if err != nil {
		return false, fmt.Errorf("second leg on %s: %w", e.cfg.VenueB.Name(), err)
	}
	secondOut := secondAmounts[len(secondAmounts)-1]

	repayment := new(big.Int).Add(amount, premium)
	if secondOut.Cmp(repayment) < 0 {
		return false, &types.RepaymentShortfallError{Required: repayment, Available: secondOut}
	}
	if err := e.ledger.Approve(secondPath.TokenOut(), e.address, caller, repayment); err != nil {
		return false, fmt.Errorf("failed to approve repayment: %w", err)
	}

	loan.premium = new(big.Int).Set(premium)
	loan.firstOut = firstOut
	loan.secondOut = secondOut
	loan.repayment = repayment
	loan.profit = new(big.Int).Sub(secondOut, repayment)
	return true, nil
}

// Sweep sends the executor's whole balance of tok to the owner. Owner only.
func (e *Executor) Sweep(ctx context.Context, caller, tok common.Address) (*big.Int, error) {
	if err := e.OnlyOwner(caller); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var swept *big.Int
	err := e.env.Atomic(func() error {
		swept = e.ledger.BalanceOf(tok, e.address)
		if swept.Sign() == 0 {
			return nil
		}
		return e.ledger.Transfer(tok, e.address, e.Owner(), swept)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sweep: %w", err)
	}
	if swept.Sign() > 0 {
		e.metrics.Sweeps.Inc()
		e.logger.Info("Swept balance to owner",
			zap.String("token", tok.Hex()),
			zap.String("amount", swept.String()))
	}
	return swept, nil
}

func (e *Executor) setLoan(loan *outstandingLoan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loan = loan
}

func (e *Executor) currentLoan() *outstandingLoan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loan
}

func decodeParams(params []byte) (*big.Int, *big.Int, error) {
	values, err := paramsABI.Unpack(params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode loan params: %w", err)
	}
	minFirst, ok1 := values[0].(*big.Int)
	minSecond, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("failed to decode loan params: unexpected types")
	}
	return minFirst, minSecond, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, types.ErrAuthorization):
		return "unauthorized"
	case errors.Is(err, types.ErrSlippage):
		return "slippage"
	case errors.Is(err, types.ErrAccounting):
		return "shortfall"
	case errors.Is(err, dex.ErrExpired):
		return "expired"
	default:
		return "error"
	}
}

// isNull reports whether a collaborator is missing: a nil interface, a typed
// nil pointer or one deployed at the zero address
func isNull(c interface{ Address() common.Address }) bool {
	if c == nil {
		return true
	}
	if v := reflect.ValueOf(c); v.Kind() == reflect.Ptr && v.IsNil() {
		return true
	}
	return c.Address() == (common.Address{})
}
