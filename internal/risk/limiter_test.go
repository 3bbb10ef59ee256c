package risk

import (
	"math"
	"testing"

	"github.com/ipredict/wager-engine/internal/model"
)

func bookWith(orders ...model.Order) *model.OrderBook {
	b := &model.OrderBook{WagerID: 1}
	for _, o := range orders {
		q := b.Queue(o.Side, o.TokenType)
		*q = append(*q, o)
	}
	return b
}

func order(owner string, side model.OrderSide, token model.TokenType, price, remaining uint64) model.Order {
	return model.Order{
		Owner:             owner,
		Side:              side,
		TokenType:         token,
		Price:             price,
		RemainingQuantity: remaining,
		Status:            model.OrderActive,
	}
}

func TestCheckOrder_WithinLimits(t *testing.T) {
	l := NewExposureLimiter(1_000_000, 3)
	b := bookWith(
		order("alice", model.SideBuy, model.TokenYes, 5_000, 50), // 250k notional
		order("bob", model.SideBuy, model.TokenYes, 9_000, 100),  // someone else's
	)

	if err := l.CheckOrder("alice", b, 500_000); err != nil {
		t.Errorf("expected order within limits, got %v", err)
	}
}

func TestCheckOrder_EscrowLimit(t *testing.T) {
	l := NewExposureLimiter(1_000_000, 0)
	b := bookWith(
		order("alice", model.SideBuy, model.TokenYes, 5_000, 100),  // 500k
		order("alice", model.SideSell, model.TokenNo, 4_000, 100),  // 400k
	)

	if err := l.CheckOrder("alice", b, 100_000); err != nil {
		t.Errorf("exactly at the cap should pass, got %v", err)
	}
	if err := l.CheckOrder("alice", b, 100_001); err != ErrEscrowLimitExceeded {
		t.Errorf("expected ErrEscrowLimitExceeded, got %v", err)
	}
}

func TestCheckOrder_OrderCountLimit(t *testing.T) {
	l := NewExposureLimiter(0, 2)
	b := bookWith(
		order("alice", model.SideBuy, model.TokenYes, 100, 1),
		order("alice", model.SideSell, model.TokenNo, 100, 1),
	)

	if err := l.CheckOrder("alice", b, 100); err != ErrOrderLimitExceeded {
		t.Errorf("expected ErrOrderLimitExceeded, got %v", err)
	}
	// Other users are unaffected by alice's open orders.
	if err := l.CheckOrder("bob", b, 100); err != nil {
		t.Errorf("expected bob within limits, got %v", err)
	}
}

func TestCheckOrder_ZeroLimitsDisable(t *testing.T) {
	l := NewExposureLimiter(0, 0)
	b := bookWith(
		order("alice", model.SideBuy, model.TokenYes, 10_000_000, 1_000_000),
	)

	if err := l.CheckOrder("alice", b, 1<<40); err != nil {
		t.Errorf("zero limits must disable checks, got %v", err)
	}
}

func TestNotional_SaturatesOnOverflow(t *testing.T) {
	if got := Notional(1<<40, 1<<40); got != math.MaxUint64 {
		t.Errorf("overflowing product must saturate, got %d", got)
	}
	if got := Notional(1_000, 50); got != 50_000 {
		t.Errorf("in-range product: %d", got)
	}
}

func TestCheckOrder_OverflowTripsEscrowLimit(t *testing.T) {
	l := NewExposureLimiter(1<<60, 0)
	b := bookWith()

	// A wrapped product would read as tiny and slip past the cap.
	if err := l.CheckOrder("alice", b, Notional(1<<40, 1<<40)); err != ErrEscrowLimitExceeded {
		t.Errorf("expected ErrEscrowLimitExceeded, got %v", err)
	}

	// Saturating resting exposure trips the cap for follow-up orders too.
	b = bookWith(
		order("alice", model.SideBuy, model.TokenYes, math.MaxUint64, math.MaxUint64),
	)
	if err := l.CheckOrder("alice", b, 1); err != ErrEscrowLimitExceeded {
		t.Errorf("expected ErrEscrowLimitExceeded from resting exposure, got %v", err)
	}
}

func TestUserExposure_CountsRemainingOnly(t *testing.T) {
	b := bookWith(
		order("alice", model.SideBuy, model.TokenYes, 1_000, 30), // partially filled down to 30
		order("alice", model.SideBuy, model.TokenNo, 2_000, 10),
	)

	notional, count := userExposure("alice", b)
	if notional != 30*1_000+10*2_000 {
		t.Errorf("notional: %d", notional)
	}
	if count != 2 {
		t.Errorf("count: %d", count)
	}
}
