// Package engine implements the wager core: the lifecycle state machine,
// complementary token mint/redeem accounting, the per-wager limit order
// book with its matching crank, and the quick-buy flow.
//
// Operations mutate the records passed in and settle balances through a
// buffered ledger transaction. On error nothing is committed; callers
// discard the mutated copies and persist only on success.
package engine

import (
	"fmt"

	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/model"
)

const (
	// LamportsPerSol is the collateral base unit scale.
	LamportsPerSol = 1_000_000_000

	// LamportsPerToken is the redemption value of one winning token
	// (0.01 SOL) and the mint granularity: deposits must be whole
	// multiples, each minting one YES and one NO token.
	LamportsPerToken = 10_000_000

	// TokensPerSol tokens of each type are minted per SOL deposited.
	TokensPerSol = LamportsPerSol / LamportsPerToken

	// ParPrice values a token at half a pair: the neutral quote price
	// for uncovered quick-buy remainder.
	ParPrice = LamportsPerToken / 2

	// BpsDivisor converts basis points to a fraction.
	BpsDivisor = 10_000

	MaxNameLength        = 200
	MaxDescriptionLength = 1000

	// MaxOrdersPerQueue bounds each (side, tokenType) queue.
	MaxOrdersPerQueue = 1000
)

// Engine executes wager operations against a host ledger.
type Engine struct {
	ledger ledger.Ledger
}

// New creates an engine settling against l.
func New(l ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

func tokenClass(wagerID uint64, t model.TokenType) ledger.TokenClass {
	return ledger.TokenClass{WagerID: wagerID, Token: t}
}

func vaultAccount(wagerID uint64) ledger.AccountID {
	return ledger.Derive(wagerID, ledger.RoleVault)
}

func escrowAccount(wagerID uint64) ledger.AccountID {
	return ledger.Derive(wagerID, ledger.RoleEscrow)
}

// feeSplit computes the skim on a trade value and its platform/creator
// split. The platform share truncates; the creator takes the remainder,
// so platformFee+creatorFee == fee exactly.
func feeSplit(p *model.Platform, value uint64) (fee, platformFee, creatorFee uint64, err error) {
	totalBps := uint64(p.PlatformFeeBps) + uint64(p.DeployerFeeBps)
	if totalBps == 0 {
		return 0, 0, 0, nil
	}
	raw, err := mulU64(value, totalBps)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fee on value %d: %w", value, err)
	}
	fee = raw / BpsDivisor
	platformFee = fee * uint64(p.PlatformFeeBps) / totalBps
	creatorFee = fee - platformFee
	return fee, platformFee, creatorFee, nil
}

// checkVault asserts vault conservation: the vault holds exactly what was
// deposited and not yet redeemed. A mismatch is broken accounting and
// aborts the transaction.
func checkVault(tx ledger.Tx, w *model.Wager) error {
	got := tx.Balance(vaultAccount(w.ID))
	want := w.TotalSolDeposited - w.TotalSolRedeemed
	if got != want {
		return fmt.Errorf("wager %d vault holds %d, expected %d: %w",
			w.ID, got, want, ErrInsufficientBalance)
	}
	return nil
}
