// Package risk implements pre-trade exposure limits over a user's open
// orders on a single wager's book.
//
// A user spraying resting orders across a book concentrates escrowed
// capital and queue slots. This package caps both: the aggregate notional
// a user may hold in open-order escrow, and the number of orders they may
// keep open at once. Zero for either limit disables it.
package risk

import (
	"errors"
	"math"
	"math/bits"

	"github.com/ipredict/wager-engine/internal/model"
)

var (
	// ErrEscrowLimitExceeded is returned when an order would push the
	// user's total open-order notional past the escrow maximum.
	ErrEscrowLimitExceeded = errors.New("risk: open-order escrow limit exceeded")

	// ErrOrderLimitExceeded is returned when the user already holds the
	// maximum number of open orders on this book.
	ErrOrderLimitExceeded = errors.New("risk: open order count limit exceeded")
)

// ExposureLimiter enforces per-user limits on one order book.
type ExposureLimiter struct {
	// MaxUserEscrow is the maximum aggregate notional (lamports, at
	// order price) a user may hold across open orders. Zero = unlimited.
	MaxUserEscrow uint64

	// MaxUserOrders is the maximum open orders per user per book.
	// Zero = unlimited.
	MaxUserOrders int
}

// NewExposureLimiter creates a limiter with the given caps.
func NewExposureLimiter(maxUserEscrow uint64, maxUserOrders int) *ExposureLimiter {
	return &ExposureLimiter{
		MaxUserEscrow: maxUserEscrow,
		MaxUserOrders: maxUserOrders,
	}
}

// Notional is the escrow value of an order, saturating at MaxUint64 so
// an oversized product always trips a configured escrow limit instead of
// wrapping past it.
func Notional(price, quantity uint64) uint64 {
	hi, lo := bits.Mul64(price, quantity)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func satAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// CheckOrder validates whether placing an order of the given notional
// respects the user's limits on this book. Sell-order escrow counts at
// the order's own price, so both sides measure in lamports.
//
// Returns nil if the order is within limits, or an error naming the
// violated limit.
func (l *ExposureLimiter) CheckOrder(user string, book *model.OrderBook, notional uint64) error {
	openNotional, openOrders := userExposure(user, book)

	if l.MaxUserOrders > 0 && openOrders+1 > l.MaxUserOrders {
		return ErrOrderLimitExceeded
	}
	if l.MaxUserEscrow > 0 && satAdd(openNotional, notional) > l.MaxUserEscrow {
		return ErrEscrowLimitExceeded
	}
	return nil
}

// userExposure sums the user's open-order notional and count across the
// four queues.
func userExposure(user string, book *model.OrderBook) (notional uint64, count int) {
	for _, queue := range [][]model.Order{book.BuyYes, book.SellYes, book.BuyNo, book.SellNo} {
		for i := range queue {
			if queue[i].Owner != user {
				continue
			}
			notional = satAdd(notional, Notional(queue[i].Price, queue[i].RemainingQuantity))
			count++
		}
	}
	return notional, count
}
