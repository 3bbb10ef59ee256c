package engine

import (
	"fmt"

	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/model"
)

// MatchOrders is the permissionless matching crank. It crosses the best
// buy against the best sell of each token type while the buy price is at
// or above the sell price, executing at most maxIterations fills across
// both books in one call. Callers re-crank until it returns no fills.
//
// Each fill executes at the maker's price: the crossing order placed
// first sets it (on an id tie the buy is maker). The buyer's overpaid
// escrow, if the maker was the seller, is refunded on the spot.
func (e *Engine) MatchOrders(p *model.Platform, w *model.Wager, b *model.OrderBook, maxIterations int) ([]model.Fill, error) {
	if w.Status != model.WagerActive {
		return nil, fmt.Errorf("match on %s wager %d: %w", w.Status, w.ID, ErrState)
	}
	if maxIterations <= 0 {
		return nil, fmt.Errorf("max iterations %d: %w", maxIterations, ErrValidation)
	}

	tx := e.ledger.Begin()
	var fills []model.Fill
	iterations := 0

	for _, token := range []model.TokenType{model.TokenYes, model.TokenNo} {
		buys := b.Queue(model.SideBuy, token)
		sells := b.Queue(model.SideSell, token)

		for iterations < maxIterations && len(*buys) > 0 && len(*sells) > 0 {
			buy := &(*buys)[0]
			sell := &(*sells)[0]
			if buy.Price < sell.Price {
				break
			}

			fill, err := e.executeFill(tx, p, w, b, token, buy, sell)
			if err != nil {
				return nil, err
			}
			fills = append(fills, fill)
			iterations++

			if buy.RemainingQuantity == 0 {
				buy.Status = model.OrderFilled
				*buys = (*buys)[1:]
				b.ActiveOrders--
			}
			if sell.RemainingQuantity == 0 {
				sell.Status = model.OrderFilled
				*sells = (*sells)[1:]
				b.ActiveOrders--
			}
		}
	}

	if len(fills) == 0 {
		return nil, nil
	}
	return fills, tx.Commit()
}

// executeFill settles one crossing between resting orders: tokens from
// escrow to the buyer, collateral from escrow to the seller net of the
// fee skim, fee split between platform and creator.
func (e *Engine) executeFill(tx ledger.Tx, p *model.Platform, w *model.Wager, b *model.OrderBook, token model.TokenType, buy, sell *model.Order) (model.Fill, error) {
	// Maker is the earlier order; ids are assigned in creation order.
	execPrice := sell.Price
	if buy.ID <= sell.ID {
		execPrice = buy.Price
	}

	quantity := buy.RemainingQuantity
	if sell.RemainingQuantity < quantity {
		quantity = sell.RemainingQuantity
	}

	value, err := mulU64(quantity, execPrice)
	if err != nil {
		return model.Fill{}, fmt.Errorf("fill value %d×%d: %w", quantity, execPrice, err)
	}
	fee, platformFee, creatorFee, err := feeSplit(p, value)
	if err != nil {
		return model.Fill{}, err
	}

	escrow := escrowAccount(w.ID)
	if err := tx.TransferToken(tokenClass(w.ID, token), escrow, ledger.AccountID(buy.Owner), quantity); err != nil {
		return model.Fill{}, fmt.Errorf("wager %d token escrow: %w", w.ID, ErrInsufficientBalance)
	}
	if err := tx.Transfer(escrow, ledger.AccountID(sell.Owner), value-fee); err != nil {
		return model.Fill{}, fmt.Errorf("wager %d escrow proceeds: %w", w.ID, ErrInsufficientBalance)
	}
	if platformFee > 0 {
		if err := tx.Transfer(escrow, ledger.AccountID(p.FeeRecipient), platformFee); err != nil {
			return model.Fill{}, fmt.Errorf("wager %d escrow platform fee: %w", w.ID, ErrInsufficientBalance)
		}
	}
	if creatorFee > 0 {
		if err := tx.Transfer(escrow, ledger.AccountID(w.Creator), creatorFee); err != nil {
			return model.Fill{}, fmt.Errorf("wager %d escrow creator fee: %w", w.ID, ErrInsufficientBalance)
		}
	}
	// The buyer escrowed at its own limit; refund the difference when the
	// sell side set a lower execution price.
	if buy.Price > execPrice {
		refund, err := mulU64(quantity, buy.Price-execPrice)
		if err != nil {
			return model.Fill{}, fmt.Errorf("refund %d×%d: %w", quantity, buy.Price-execPrice, err)
		}
		if err := tx.Transfer(escrow, ledger.AccountID(buy.Owner), refund); err != nil {
			return model.Fill{}, fmt.Errorf("wager %d escrow refund: %w", w.ID, ErrInsufficientBalance)
		}
	}

	buy.RemainingQuantity -= quantity
	sell.RemainingQuantity -= quantity
	if buy.RemainingQuantity > 0 {
		buy.Status = model.OrderPartiallyFilled
	}
	if sell.RemainingQuantity > 0 {
		sell.Status = model.OrderPartiallyFilled
	}

	if err := e.recordVolume(p, w, value, fee); err != nil {
		return model.Fill{}, err
	}

	return model.Fill{
		WagerID:     w.ID,
		TokenType:   token,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		Price:       execPrice,
		Quantity:    quantity,
		Value:       value,
		Fee:         fee,
		Timestamp:   e.ledger.Now(),
	}, nil
}

func (e *Engine) recordVolume(p *model.Platform, w *model.Wager, value, fee uint64) error {
	var err error
	if w.TotalVolumeTraded, err = addU64(w.TotalVolumeTraded, value); err != nil {
		return fmt.Errorf("wager volume: %w", err)
	}
	if w.TotalFeesCollected, err = addU64(w.TotalFeesCollected, fee); err != nil {
		return fmt.Errorf("wager fees: %w", err)
	}
	if p.TotalVolumeTraded, err = addU64(p.TotalVolumeTraded, value); err != nil {
		return fmt.Errorf("platform volume: %w", err)
	}
	if p.TotalFeesCollected, err = addU64(p.TotalFeesCollected, fee); err != nil {
		return fmt.Errorf("platform fees: %w", err)
	}
	return nil
}
