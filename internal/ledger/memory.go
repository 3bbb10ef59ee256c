package ledger

import (
	"sync"
	"time"
)

type tokenKey struct {
	class TokenClass
	acct  AccountID
}

// Memory is an in-memory ledger for development and tests. Transactions
// buffer copy-on-write balances and apply them on Commit.
type Memory struct {
	mu         sync.Mutex
	clock      func() time.Time
	collateral map[AccountID]uint64
	tokens     map[tokenKey]uint64
}

// NewMemory creates an empty in-memory ledger. A nil clock defaults to
// time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		clock:      clock,
		collateral: make(map[AccountID]uint64),
		tokens:     make(map[tokenKey]uint64),
	}
}

func (m *Memory) Now() time.Time { return m.clock() }

// Fund credits collateral to an account outside any transaction. Dev and
// test faucet; a real host ledger funds accounts out of band.
func (m *Memory) Fund(acct AccountID, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collateral[acct] += amount
}

// CollateralBalance reads a committed balance.
func (m *Memory) CollateralBalance(acct AccountID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collateral[acct]
}

// TokenBalance reads a committed token balance.
func (m *Memory) TokenBalance(class TokenClass, acct AccountID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[tokenKey{class, acct}]
}

func (m *Memory) Begin() Tx {
	return &memTx{
		base:       m,
		collateral: make(map[AccountID]uint64),
		tokens:     make(map[tokenKey]uint64),
	}
}

// memTx buffers balances copy-on-write: the first touch of an account
// snapshots its committed balance, later operations work on the copy.
type memTx struct {
	base       *Memory
	collateral map[AccountID]uint64
	tokens     map[tokenKey]uint64
	committed  bool
}

func (tx *memTx) balance(acct AccountID) uint64 {
	if v, ok := tx.collateral[acct]; ok {
		return v
	}
	v := tx.base.CollateralBalance(acct)
	tx.collateral[acct] = v
	return v
}

func (tx *memTx) tokenBalance(k tokenKey) uint64 {
	if v, ok := tx.tokens[k]; ok {
		return v
	}
	v := tx.base.TokenBalance(k.class, k.acct)
	tx.tokens[k] = v
	return v
}

func (tx *memTx) Transfer(from, to AccountID, amount uint64) error {
	if tx.balance(from) < amount {
		return ErrInsufficientFunds
	}
	tx.collateral[from] -= amount
	tx.collateral[to] = tx.balance(to) + amount
	return nil
}

func (tx *memTx) Mint(class TokenClass, to AccountID, amount uint64) error {
	k := tokenKey{class, to}
	tx.tokens[k] = tx.tokenBalance(k) + amount
	return nil
}

func (tx *memTx) Burn(class TokenClass, from AccountID, amount uint64) error {
	k := tokenKey{class, from}
	if tx.tokenBalance(k) < amount {
		return ErrInsufficientFunds
	}
	tx.tokens[k] -= amount
	return nil
}

func (tx *memTx) TransferToken(class TokenClass, from, to AccountID, amount uint64) error {
	fk := tokenKey{class, from}
	if tx.tokenBalance(fk) < amount {
		return ErrInsufficientFunds
	}
	tk := tokenKey{class, to}
	toBal := tx.tokenBalance(tk)
	tx.tokens[fk] -= amount
	tx.tokens[tk] = toBal + amount
	return nil
}

func (tx *memTx) Balance(acct AccountID) uint64 { return tx.balance(acct) }

func (tx *memTx) TokenBalance(class TokenClass, acct AccountID) uint64 {
	return tx.tokenBalance(tokenKey{class, acct})
}

func (tx *memTx) Commit() error {
	if tx.committed {
		return nil
	}
	tx.committed = true

	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	for acct, v := range tx.collateral {
		tx.base.collateral[acct] = v
	}
	for k, v := range tx.tokens {
		tx.base.tokens[k] = v
	}
	return nil
}
