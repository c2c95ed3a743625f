package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/chain"
)

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrZeroAddress           = errors.New("ERC20: zero address")
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ERC20: insufficient allowance")
	ErrOverflow              = errors.New("ERC20: amount overflows uint256")
	ErrAlreadyRegistered     = errors.New("token already registered")
)

var maxAllowance = new(uint256.Int).SetAllOne()

// ERC20 is the token surface the executor and treasury interact with
type ERC20 interface {
	BalanceOf(token, account common.Address) *big.Int
	Allowance(token, owner, spender common.Address) *big.Int
	Approve(token, owner, spender common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

type tokenInfo struct {
	symbol   string
	decimals uint8
	supply   *uint256.Int
}

type balanceKey struct {
	token   common.Address
	account common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger keeps balances and allowances of every registered token. Mutations
// are recorded in the environment journal so a reverted transaction leaves
// no trace.
type Ledger struct {
	mu         sync.RWMutex
	journal    *chain.Journal
	tokens     map[common.Address]*tokenInfo
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	logger     *zap.Logger
}

// NewLedger creates an empty ledger bound to the environment journal
func NewLedger(env *chain.Env, logger *zap.Logger) (*Ledger, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		journal:    env.Journal(),
		tokens:     make(map[common.Address]*tokenInfo),
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		logger:     logger,
	}, nil
}

// Register adds a token to the ledger
func (l *Ledger) Register(token common.Address, symbol string, decimals uint8) error {
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[token]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, token.Hex())
	}
	l.tokens[token] = &tokenInfo{symbol: symbol, decimals: decimals, supply: new(uint256.Int)}

	l.logger.Debug("Registered token",
		zap.String("token", token.Hex()),
		zap.String("symbol", symbol),
		zap.Uint8("decimals", decimals))
	return nil
}

// Symbol returns the token symbol
func (l *Ledger) Symbol(token common.Address) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.tokens[token]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return info.symbol, nil
}

// Decimals returns the token decimals
func (l *Ledger) Decimals(token common.Address) (uint8, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.tokens[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return info.decimals, nil
}

// TotalSupply returns the amount of token minted so far
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return info.supply.ToBig()
}

// Mint creates new tokens for account
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) error {
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	value, err := toWord(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.tokens[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	supply, overflow := new(uint256.Int).AddOverflow(info.supply, value)
	if overflow {
		return ErrOverflow
	}
	key := balanceKey{token, account}
	balance, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(key), value)
	if overflow {
		return ErrOverflow
	}

	prevSupply := info.supply
	info.supply = supply
	l.journal.Append(func() {
		l.mu.Lock()
		info.supply = prevSupply
		l.mu.Unlock()
	})
	l.setBalanceLocked(key, balance)
	return nil
}

// BalanceOf returns the balance of account, zero for unknown tokens
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(balanceKey{token, account}).ToBig()
}

// Allowance returns how much spender may move on behalf of owner
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if v, ok := l.allowances[allowanceKey{token, owner, spender}]; ok {
		return v.ToBig()
	}
	return new(big.Int)
}

// Approve sets the allowance of spender over the owner's tokens
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	value, err := toWord(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	l.setAllowanceLocked(allowanceKey{token, owner, spender}, value)
	return nil
}

// Transfer moves amount from one account to another
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	value, err := toWord(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, value)
}

// TransferFrom moves amount from one account to another using the allowance
// granted to spender. An unlimited allowance is left untouched.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	value, err := toWord(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{token, from, spender}
	current, ok := l.allowances[key]
	if !ok {
		current = new(uint256.Int)
	}
	if !current.Eq(maxAllowance) {
		if current.Lt(value) {
			return fmt.Errorf("%w: allowance %s, amount %s", ErrInsufficientAllowance, current.Dec(), value.Dec())
		}
		// Nothing is written unless the transfer itself can succeed.
		if err := l.checkTransferLocked(token, from, to, value); err != nil {
			return err
		}
		l.setAllowanceLocked(key, new(uint256.Int).Sub(current, value))
	}
	return l.transferLocked(token, from, to, value)
}

func (l *Ledger) checkTransferLocked(token, from, to common.Address, value *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok := l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if l.balanceLocked(balanceKey{token, from}).Lt(value) {
		return ErrInsufficientBalance
	}
	return nil
}

func (l *Ledger) transferLocked(token, from, to common.Address, value *uint256.Int) error {
	if err := l.checkTransferLocked(token, from, to, value); err != nil {
		return err
	}
	if from == to || value.IsZero() {
		return nil
	}

	fromKey := balanceKey{token, from}
	toKey := balanceKey{token, to}
	credited, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(toKey), value)
	if overflow {
		return ErrOverflow
	}
	l.setBalanceLocked(fromKey, new(uint256.Int).Sub(l.balanceLocked(fromKey), value))
	l.setBalanceLocked(toKey, credited)
	return nil
}

func (l *Ledger) balanceLocked(key balanceKey) *uint256.Int {
	if v, ok := l.balances[key]; ok {
		return v
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalanceLocked(key balanceKey, value *uint256.Int) {
	prev, existed := l.balances[key]
	l.balances[key] = value
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.balances[key] = prev
		} else {
			delete(l.balances, key)
		}
	})
}

func (l *Ledger) setAllowanceLocked(key allowanceKey, value *uint256.Int) {
	prev, existed := l.allowances[key]
	l.allowances[key] = value
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.allowances[key] = prev
		} else {
			delete(l.allowances, key)
		}
	})
}

func toWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrOverflow, amount)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}
