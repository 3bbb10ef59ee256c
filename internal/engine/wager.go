package engine

import (
	"fmt"
	"time"

	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/model"
)

// WagerParams are the caller-supplied fields of a new wager.
type WagerParams struct {
	Creator        string
	Name           string
	Description    string
	OpeningTime    time.Time
	ClosingTime    time.Time
	ResolutionTime time.Time
}

// CreateWager validates params, charges the creation fee to the creator,
// allocates the next wager id from the platform counter, and returns the
// new wager in Created state with its empty order book.
func (e *Engine) CreateWager(p *model.Platform, params WagerParams) (*model.Wager, *model.OrderBook, error) {
	now := e.ledger.Now()

	if params.Creator == "" {
		return nil, nil, fmt.Errorf("creator required: %w", ErrValidation)
	}
	if n := len(params.Name); n == 0 || n > MaxNameLength {
		return nil, nil, fmt.Errorf("name length %d: %w", n, ErrValidation)
	}
	if n := len(params.Description); n > MaxDescriptionLength {
		return nil, nil, fmt.Errorf("description length %d: %w", n, ErrValidation)
	}
	if params.OpeningTime.Before(now) {
		return nil, nil, fmt.Errorf("opening time is in the past: %w", ErrValidation)
	}
	if !params.OpeningTime.Before(params.ClosingTime) {
		return nil, nil, fmt.Errorf("opening time must precede closing time: %w", ErrValidation)
	}
	if params.ResolutionTime.Before(params.ClosingTime) {
		return nil, nil, fmt.Errorf("resolution time must not precede closing time: %w", ErrValidation)
	}
	if !params.ClosingTime.After(now) {
		return nil, nil, fmt.Errorf("closing time is in the past: %w", ErrValidation)
	}

	tx := e.ledger.Begin()
	if err := tx.Transfer(ledger.AccountID(params.Creator), ledger.AccountID(p.FeeRecipient), p.WagerCreationFee); err != nil {
		return nil, nil, fmt.Errorf("creation fee %d: %w", p.WagerCreationFee, ErrInsufficientBalance)
	}

	id := p.TotalWagersCreated
	p.TotalWagersCreated++

	w := &model.Wager{
		ID:             id,
		Creator:        params.Creator,
		Name:           params.Name,
		Description:    params.Description,
		OpeningTime:    params.OpeningTime,
		ClosingTime:    params.ClosingTime,
		ResolutionTime: params.ResolutionTime,
		Status:         model.WagerCreated,
		Resolution:     model.ResolutionPending,
		CreatedAt:      now,
	}
	book := &model.OrderBook{WagerID: id, NextOrderID: 1}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return w, book, nil
}

// DepositAndMint moves amount lamports from user into the wager vault and
// mints amount/LamportsPerToken YES and NO tokens to the user. The first
// deposit activates a Created wager.
func (e *Engine) DepositAndMint(w *model.Wager, pos *model.UserPosition, user string, amount uint64) error {
	tx := e.ledger.Begin()
	if err := e.depositAndMint(tx, w, pos, user, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// depositAndMint is the deposit body, shared with QuickBuy so both run in
// one transaction there.
func (e *Engine) depositAndMint(tx ledger.Tx, w *model.Wager, pos *model.UserPosition, user string, amount uint64) error {
	now := e.ledger.Now()

	if w.Status != model.WagerCreated && w.Status != model.WagerActive {
		return fmt.Errorf("deposit on %s wager %d: %w", w.Status, w.ID, ErrState)
	}
	if now.Before(w.OpeningTime) {
		return fmt.Errorf("wager %d not yet open: %w", w.ID, ErrState)
	}
	if !now.Before(w.ClosingTime) {
		return fmt.Errorf("wager %d closed for deposits: %w", w.ID, ErrState)
	}
	if amount == 0 || amount%LamportsPerToken != 0 {
		return fmt.Errorf("amount %d must be a positive multiple of %d: %w", amount, uint64(LamportsPerToken), ErrValidation)
	}

	tokens := amount / LamportsPerToken

	if err := tx.Transfer(ledger.AccountID(user), vaultAccount(w.ID), amount); err != nil {
		return fmt.Errorf("deposit %d from %s: %w", amount, user, ErrInsufficientBalance)
	}
	if err := tx.Mint(tokenClass(w.ID, model.TokenYes), ledger.AccountID(user), tokens); err != nil {
		return err
	}
	if err := tx.Mint(tokenClass(w.ID, model.TokenNo), ledger.AccountID(user), tokens); err != nil {
		return err
	}

	var err error
	if w.TotalYesTokens, err = addU64(w.TotalYesTokens, tokens); err != nil {
		return fmt.Errorf("yes supply: %w", err)
	}
	if w.TotalNoTokens, err = addU64(w.TotalNoTokens, tokens); err != nil {
		return fmt.Errorf("no supply: %w", err)
	}
	if w.TotalSolDeposited, err = addU64(w.TotalSolDeposited, amount); err != nil {
		return fmt.Errorf("deposited total: %w", err)
	}
	if w.Status == model.WagerCreated {
		w.Status = model.WagerActive
	}

	pos.SolDeposited += amount
	pos.YesBought += tokens
	pos.NoBought += tokens

	return checkVault(tx, w)
}

// ResolveWager records the outcome. Only the platform authority may
// resolve, only an Active wager, and only at or after its resolution time.
func (e *Engine) ResolveWager(p *model.Platform, w *model.Wager, caller string, res model.Resolution) error {
	if caller != p.Authority {
		return fmt.Errorf("caller %s is not the platform authority: %w", caller, ErrUnauthorized)
	}
	if w.Status != model.WagerActive {
		return fmt.Errorf("resolve on %s wager %d: %w", w.Status, w.ID, ErrState)
	}
	if e.ledger.Now().Before(w.ResolutionTime) {
		return fmt.Errorf("wager %d resolution time not reached: %w", w.ID, ErrState)
	}
	switch res {
	case model.ResolutionYesWon, model.ResolutionNoWon, model.ResolutionDraw:
	default:
		return fmt.Errorf("resolution %q: %w", res, ErrValidation)
	}

	w.Status = model.WagerResolved
	w.Resolution = res
	return nil
}

// ClaimWinnings redeems the user's token balances on a resolved wager:
// winning tokens at LamportsPerToken each, draws at half that per token of
// either type. Both balances are burned so outstanding supply stays backed
// by the vault. A position claims at most once.
func (e *Engine) ClaimWinnings(w *model.Wager, pos *model.UserPosition, user string) (uint64, error) {
	if w.Status != model.WagerResolved {
		return 0, fmt.Errorf("claim on %s wager %d: %w", w.Status, w.ID, ErrState)
	}
	if pos.WinningsClaimed {
		return 0, fmt.Errorf("wager %d already claimed by %s: %w", w.ID, user, ErrState)
	}

	tx := e.ledger.Begin()
	acct := ledger.AccountID(user)
	yesClass := tokenClass(w.ID, model.TokenYes)
	noClass := tokenClass(w.ID, model.TokenNo)
	yesBal := tx.TokenBalance(yesClass, acct)
	noBal := tx.TokenBalance(noClass, acct)

	var payout uint64
	var err error
	switch w.Resolution {
	case model.ResolutionYesWon:
		payout, err = mulU64(yesBal, LamportsPerToken)
	case model.ResolutionNoWon:
		payout, err = mulU64(noBal, LamportsPerToken)
	case model.ResolutionDraw:
		var total uint64
		if total, err = addU64(yesBal, noBal); err == nil {
			payout, err = mulU64(total, LamportsPerToken/2)
		}
	default:
		return 0, fmt.Errorf("wager %d resolution %q: %w", w.ID, w.Resolution, ErrState)
	}
	if err != nil {
		return 0, fmt.Errorf("payout for %s: %w", user, err)
	}

	// Losing-side tokens burn for nothing; supply stays closed.
	if yesBal > 0 {
		if err := tx.Burn(yesClass, acct, yesBal); err != nil {
			return 0, err
		}
	}
	if noBal > 0 {
		if err := tx.Burn(noClass, acct, noBal); err != nil {
			return 0, err
		}
	}
	if payout > 0 {
		if err := tx.Transfer(vaultAccount(w.ID), acct, payout); err != nil {
			return 0, fmt.Errorf("wager %d vault cannot cover payout %d: %w", w.ID, payout, ErrInsufficientBalance)
		}
	}

	if w.TotalSolRedeemed, err = addU64(w.TotalSolRedeemed, payout); err != nil {
		return 0, fmt.Errorf("redeemed total: %w", err)
	}
	w.TotalYesTokens -= yesBal
	w.TotalNoTokens -= noBal

	pos.SolWithdrawn += payout
	pos.WinningsClaimed = true

	if err := checkVault(tx, w); err != nil {
		return 0, err
	}
	return payout, tx.Commit()
}
