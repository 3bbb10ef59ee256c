// Package ledger abstracts the host ledger the engine settles against:
// a clock, collateral transfers, and outcome-token mint/burn/transfer.
// Engine operations run inside a buffered transaction so a failing step
// leaves no partial balance changes behind.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ipredict/wager-engine/internal/model"
)

// ErrInsufficientFunds is returned when a debit exceeds the account balance.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// AccountID identifies a collateral account. User accounts are their
// addresses; program accounts are derived from a role and wager id.
type AccountID string

// TokenClass identifies one outcome-token mint: the YES or NO token of a
// single wager.
type TokenClass struct {
	WagerID uint64          `json:"wager_id"`
	Token   model.TokenType `json:"token"`
}

// Roles for derived program accounts.
const (
	RoleVault  = "vault"  // backs minted token pairs, pays redemptions
	RoleEscrow = "escrow" // holds buy-order collateral and sell-order tokens
)

// Derive returns the deterministic program account for a role on a wager.
func Derive(wagerID uint64, role string) AccountID {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", role, wagerID)))
	return AccountID(hex.EncodeToString(sum[:16]))
}

// Ledger is the host-ledger interface consumed by the engine.
type Ledger interface {
	// Now is the ledger clock used for all time gates.
	Now() time.Time

	// Begin opens a buffered transaction. Nothing is visible to other
	// transactions until Commit; dropping the Tx discards it.
	Begin() Tx
}

// Tx is a buffered ledger transaction. Debits are checked against the
// effective (base plus buffered) balance at call time.
type Tx interface {
	Transfer(from, to AccountID, amount uint64) error
	Mint(class TokenClass, to AccountID, amount uint64) error
	Burn(class TokenClass, from AccountID, amount uint64) error
	TransferToken(class TokenClass, from, to AccountID, amount uint64) error

	Balance(acct AccountID) uint64
	TokenBalance(class TokenClass, acct AccountID) uint64

	Commit() error
}
