package engine

import (
	"fmt"

	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Quote estimates the cost of entering a one-sided position of solAmount
// via the quick-buy path, before fees. Prices are lamports per token.
type Quote struct {
	TokenType        model.TokenType `json:"token_type"`
	SolAmount        uint64          `json:"sol_amount"`
	TokensMinted     uint64          `json:"tokens_minted"`
	TokensMatched    uint64          `json:"tokens_matched"`    // covered by resting buys
	MatchedRevenue   uint64          `json:"matched_revenue"`   // lamports from those buys
	DefaultPrice     uint64          `json:"default_price"`     // applied to the remainder
	EstimatedRevenue uint64          `json:"estimated_revenue"` // matched + remainder×default
	EffectiveCost    uint64          `json:"effective_cost"`    // solAmount − estimated revenue
	EffectivePrice   decimal.Decimal `json:"effective_price"`   // effectiveCost / tokensMinted
	PriceImpact      decimal.Decimal `json:"price_impact"`      // vs par, signed fraction
}

// PositionCost walks the resting buy orders for the unwanted token, best
// price first, pricing the uncovered remainder at defaultPrice (par when
// zero). Read-only: the book is not modified and the quote carries no
// execution guarantee.
func (e *Engine) PositionCost(b *model.OrderBook, token model.TokenType, solAmount, defaultPrice uint64) (*Quote, error) {
	if token != model.TokenYes && token != model.TokenNo {
		return nil, fmt.Errorf("token type %q: %w", token, ErrValidation)
	}
	if solAmount == 0 || solAmount%LamportsPerToken != 0 {
		return nil, fmt.Errorf("amount %d must be a positive multiple of %d: %w", solAmount, uint64(LamportsPerToken), ErrValidation)
	}
	if defaultPrice == 0 {
		defaultPrice = ParPrice
	}
	if defaultPrice > LamportsPerToken {
		return nil, fmt.Errorf("default price %d above redemption value: %w", defaultPrice, ErrValidation)
	}

	minted := solAmount / LamportsPerToken
	toSell := minted
	var matched, revenue uint64

	for _, order := range *b.Queue(model.SideBuy, token.Opposite()) {
		if toSell == 0 {
			break
		}
		quantity := order.RemainingQuantity
		if quantity > toSell {
			quantity = toSell
		}
		value, err := mulU64(quantity, order.Price)
		if err != nil {
			return nil, fmt.Errorf("quote value %d×%d: %w", quantity, order.Price, err)
		}
		if revenue, err = addU64(revenue, value); err != nil {
			return nil, fmt.Errorf("quote revenue: %w", err)
		}
		matched += quantity
		toSell -= quantity
	}

	remainderValue, err := mulU64(toSell, defaultPrice)
	if err != nil {
		return nil, fmt.Errorf("remainder value %d×%d: %w", toSell, defaultPrice, err)
	}
	estimated, err := addU64(revenue, remainderValue)
	if err != nil {
		return nil, fmt.Errorf("estimated revenue: %w", err)
	}
	// Prices never exceed the redemption value, so revenue never exceeds
	// the deposit.
	cost := solAmount - estimated

	mintedDec := decimal.NewFromUint64(minted)
	effPrice := decimal.NewFromUint64(cost).Div(mintedDec)
	par := decimal.NewFromInt(ParPrice)
	impact := effPrice.Sub(par).Div(par)

	return &Quote{
		TokenType:        token,
		SolAmount:        solAmount,
		TokensMinted:     minted,
		TokensMatched:    matched,
		MatchedRevenue:   revenue,
		DefaultPrice:     defaultPrice,
		EstimatedRevenue: estimated,
		EffectiveCost:    cost,
		EffectivePrice:   effPrice,
		PriceImpact:      impact,
	}, nil
}

// QuickBuyResult reports an executed quick-buy.
type QuickBuyResult struct {
	TokensMinted  uint64       `json:"tokens_minted"` // wanted tokens credited
	TokensSold    uint64       `json:"tokens_sold"`   // unwanted tokens sold off
	Revenue       uint64       `json:"revenue"`       // sale proceeds net of fees
	Fees          uint64       `json:"fees"`
	EffectiveCost uint64       `json:"effective_cost"` // solAmount − revenue
	Fills         []model.Fill `json:"fills"`
}

// QuickBuy deposits solAmount, mints both tokens, and immediately sells
// the unwanted side into the resting buy orders for it, best price first.
// The whole flow is one ledger transaction: if fewer than minTokensOut
// unwanted tokens can be sold the deposit and all sales roll back and
// ErrSlippage is returned.
//
// minTokensOut bounds the net directional position: every unsold unwanted
// token pairs off a wanted token into a neutral, fixed-value pair.
func (e *Engine) QuickBuy(p *model.Platform, w *model.Wager, b *model.OrderBook, pos *model.UserPosition, user string, token model.TokenType, solAmount, minTokensOut uint64) (*QuickBuyResult, error) {
	if token != model.TokenYes && token != model.TokenNo {
		return nil, fmt.Errorf("token type %q: %w", token, ErrValidation)
	}

	tx := e.ledger.Begin()
	if err := e.depositAndMint(tx, w, pos, user, solAmount); err != nil {
		return nil, err
	}

	minted := solAmount / LamportsPerToken
	if minTokensOut > minted {
		return nil, fmt.Errorf("min tokens out %d exceeds mint %d: %w", minTokensOut, minted, ErrValidation)
	}

	unwanted := token.Opposite()
	unwantedClass := tokenClass(w.ID, unwanted)
	escrow := escrowAccount(w.ID)
	buys := b.Queue(model.SideBuy, unwanted)

	result := &QuickBuyResult{TokensMinted: minted}
	toSell := minted

	for toSell > 0 && len(*buys) > 0 {
		order := &(*buys)[0]
		quantity := order.RemainingQuantity
		if quantity > toSell {
			quantity = toSell
		}

		// The resting buy is the maker; it sets the price and its escrow
		// covers the sale exactly.
		value, err := mulU64(quantity, order.Price)
		if err != nil {
			return nil, fmt.Errorf("sale value %d×%d: %w", quantity, order.Price, err)
		}
		fee, platformFee, creatorFee, err := feeSplit(p, value)
		if err != nil {
			return nil, err
		}

		if err := tx.TransferToken(unwantedClass, ledger.AccountID(user), ledger.AccountID(order.Owner), quantity); err != nil {
			return nil, fmt.Errorf("sell %d %s tokens: %w", quantity, unwanted, ErrInsufficientBalance)
		}
		if err := tx.Transfer(escrow, ledger.AccountID(user), value-fee); err != nil {
			return nil, fmt.Errorf("wager %d escrow proceeds: %w", w.ID, ErrInsufficientBalance)
		}
		if platformFee > 0 {
			if err := tx.Transfer(escrow, ledger.AccountID(p.FeeRecipient), platformFee); err != nil {
				return nil, fmt.Errorf("wager %d escrow platform fee: %w", w.ID, ErrInsufficientBalance)
			}
		}
		if creatorFee > 0 {
			if err := tx.Transfer(escrow, ledger.AccountID(w.Creator), creatorFee); err != nil {
				return nil, fmt.Errorf("wager %d escrow creator fee: %w", w.ID, ErrInsufficientBalance)
			}
		}

		order.RemainingQuantity -= quantity
		if order.RemainingQuantity == 0 {
			order.Status = model.OrderFilled
			*buys = (*buys)[1:]
			b.ActiveOrders--
		} else {
			order.Status = model.OrderPartiallyFilled
		}

		if err := e.recordVolume(p, w, value, fee); err != nil {
			return nil, err
		}

		result.Fills = append(result.Fills, model.Fill{
			WagerID:    w.ID,
			TokenType:  unwanted,
			BuyOrderID: order.ID,
			Buyer:      order.Owner,
			Seller:     user,
			Price:      order.Price,
			Quantity:   quantity,
			Value:      value,
			Fee:        fee,
			Timestamp:  e.ledger.Now(),
		})

		toSell -= quantity
		result.TokensSold += quantity
		result.Revenue += value - fee
		result.Fees += fee
	}

	if result.TokensSold < minTokensOut {
		return nil, fmt.Errorf("sold %d of minimum %d: %w", result.TokensSold, minTokensOut, ErrSlippage)
	}

	result.EffectiveCost = solAmount - result.Revenue
	if err := checkVault(tx, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}
