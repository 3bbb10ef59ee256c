package engine

import (
	"fmt"
	"sort"

	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/model"
)

// sortQueue restores price priority after an append. The sort is stable,
// so orders at the same price keep FIFO (id) order.
func sortQueue(q []model.Order, side model.OrderSide) {
	if side == model.SideBuy {
		sort.SliceStable(q, func(i, j int) bool { return q[i].Price > q[j].Price })
	} else {
		sort.SliceStable(q, func(i, j int) bool { return q[i].Price < q[j].Price })
	}
}

// PlaceOrder escrows the order's full cost (collateral for buys, tokens
// for sells) and rests it in price-time priority. Orders never execute at
// placement; the matching crank crosses them.
func (e *Engine) PlaceOrder(w *model.Wager, b *model.OrderBook, user string, side model.OrderSide, token model.TokenType, price, quantity uint64) (*model.Order, error) {
	now := e.ledger.Now()

	if w.Status != model.WagerActive {
		return nil, fmt.Errorf("order on %s wager %d: %w", w.Status, w.ID, ErrState)
	}
	if now.Before(w.OpeningTime) {
		return nil, fmt.Errorf("wager %d not yet open: %w", w.ID, ErrState)
	}
	if !now.Before(w.ClosingTime) {
		return nil, fmt.Errorf("wager %d closed for trading: %w", w.ID, ErrState)
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("side %q: %w", side, ErrValidation)
	}
	if token != model.TokenYes && token != model.TokenNo {
		return nil, fmt.Errorf("token type %q: %w", token, ErrValidation)
	}
	if price == 0 || price > LamportsPerToken {
		return nil, fmt.Errorf("price %d outside (0, %d]: %w", price, uint64(LamportsPerToken), ErrValidation)
	}
	if quantity == 0 {
		return nil, fmt.Errorf("zero quantity: %w", ErrValidation)
	}

	queue := b.Queue(side, token)
	if len(*queue) >= MaxOrdersPerQueue {
		return nil, fmt.Errorf("wager %d %s/%s queue: %w", w.ID, side, token, ErrCapacity)
	}

	tx := e.ledger.Begin()
	if side == model.SideBuy {
		required, err := mulU64(price, quantity)
		if err != nil {
			return nil, fmt.Errorf("escrow %d×%d: %w", price, quantity, err)
		}
		if err := tx.Transfer(ledger.AccountID(user), escrowAccount(w.ID), required); err != nil {
			return nil, fmt.Errorf("escrow %d from %s: %w", required, user, ErrInsufficientBalance)
		}
	} else {
		if err := tx.TransferToken(tokenClass(w.ID, token), ledger.AccountID(user), escrowAccount(w.ID), quantity); err != nil {
			return nil, fmt.Errorf("escrow %d %s tokens from %s: %w", quantity, token, user, ErrInsufficientBalance)
		}
	}

	order := model.Order{
		ID:                b.NextOrderID,
		Owner:             user,
		Side:              side,
		TokenType:         token,
		Price:             price,
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		Status:            model.OrderActive,
		CreatedAt:         now,
	}
	b.NextOrderID++
	*queue = append(*queue, order)
	sortQueue(*queue, side)
	b.ActiveOrders++

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// findOrder locates an open order by id. Terminal orders are removed from
// the queues, so only open orders are addressable.
func findOrder(b *model.OrderBook, orderID uint64) (*[]model.Order, int) {
	for _, queue := range []*[]model.Order{&b.BuyYes, &b.SellYes, &b.BuyNo, &b.SellNo} {
		for i := range *queue {
			if (*queue)[i].ID == orderID {
				return queue, i
			}
		}
	}
	return nil, -1
}

// CancelOrder removes the caller's open order and returns exactly its
// remaining escrow: price×remaining collateral for buys, the remaining
// tokens for sells. Allowed in any wager state while the order is open.
func (e *Engine) CancelOrder(b *model.OrderBook, user string, orderID uint64) (*model.Order, error) {
	queue, i := findOrder(b, orderID)
	if queue == nil {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	order := (*queue)[i]
	if order.Owner != user {
		return nil, fmt.Errorf("order %d owned by %s: %w", orderID, order.Owner, ErrUnauthorized)
	}

	tx := e.ledger.Begin()
	if order.Side == model.SideBuy {
		refund, err := mulU64(order.Price, order.RemainingQuantity)
		if err != nil {
			return nil, fmt.Errorf("refund %d×%d: %w", order.Price, order.RemainingQuantity, err)
		}
		if err := tx.Transfer(escrowAccount(b.WagerID), ledger.AccountID(user), refund); err != nil {
			return nil, fmt.Errorf("wager %d escrow cannot refund %d: %w", b.WagerID, refund, ErrInsufficientBalance)
		}
	} else {
		if err := tx.TransferToken(tokenClass(b.WagerID, order.TokenType), escrowAccount(b.WagerID), ledger.AccountID(user), order.RemainingQuantity); err != nil {
			return nil, fmt.Errorf("wager %d escrow cannot return %d tokens: %w", b.WagerID, order.RemainingQuantity, ErrInsufficientBalance)
		}
	}

	*queue = append((*queue)[:i], (*queue)[i+1:]...)
	b.ActiveOrders--
	order.Status = model.OrderCancelled
	order.RemainingQuantity = 0

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}
