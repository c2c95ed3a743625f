package chain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Clock exposes the current block time
type Clock interface {
	Now() time.Time
}

// Env is the execution environment shared by every simulated contract. It
// provides the block clock, address derivation and all-or-nothing
// transaction scopes backed by the journal.
type Env struct {
	txMu    sync.Mutex
	mu      sync.RWMutex
	journal *Journal
	now     time.Time
	nonces  map[common.Address]uint64
	logger  *zap.Logger
}

// NewEnv creates an environment whose clock starts at genesis
func NewEnv(genesis time.Time, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Env{
		journal: NewJournal(),
		now:     genesis.UTC().Truncate(time.Second),
		nonces:  make(map[common.Address]uint64),
		logger:  logger,
	}
}

// Journal returns the undo log components record their mutations into
func (e *Env) Journal() *Journal {
	return e.journal
}

// Now returns the current block time
func (e *Env) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now
}

// Timestamp returns the current block time as a unix timestamp
func (e *Env) Timestamp() *big.Int {
	return big.NewInt(e.Now().Unix())
}

// Advance moves the block clock forward
func (e *Env) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.now = e.now.Add(d).Truncate(time.Second)
	now := e.now
	e.mu.Unlock()

	e.logger.Debug("Advanced block time", zap.Time("now", now))
}

// Deploy derives a fresh contract address for the deployer, the way CREATE
// does on chain.
func (e *Env) Deploy(deployer common.Address) common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()

	nonce := e.nonces[deployer]
	e.nonces[deployer] = nonce + 1
	return crypto.CreateAddress(deployer, nonce)
}

// Atomic runs fn as one indivisible transaction. If fn returns an error or
// panics, every journaled mutation made since the call started is reverted.
// Transactions are serialized and must not be nested.
func (e *Env) Atomic(fn func() error) (err error) {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	id := e.journal.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			e.journal.RevertToSnapshot(id)
			err = fmt.Errorf("transaction panicked: %v", r)
			e.logger.Error("Transaction reverted", zap.Error(err))
		}
	}()

	if err = fn(); err != nil {
		e.journal.RevertToSnapshot(id)
		e.logger.Debug("Transaction reverted", zap.Error(err))
		return err
	}

	e.journal.Commit(id)
	return nil
}

// Call runs fn as a nested call frame inside the current transaction. When fn
// fails only the mutations it made are undone and the error is returned to
// the caller, like a reverted sub-call.
func (e *Env) Call(fn func() error) error {
	id := e.journal.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			e.journal.RevertToSnapshot(id)
			panic(r)
		}
	}()

	if err := fn(); err != nil {
		e.journal.RevertToSnapshot(id)
		return err
	}
	e.journal.Commit(id)
	return nil
}
