package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ipredict/wager-engine/internal/model"
)

func seedWager(t *testing.T, s *MemoryStore, id uint64) {
	t.Helper()
	w := &model.Wager{ID: id, Creator: "alice", Name: "test", Status: model.WagerActive}
	b := &model.OrderBook{WagerID: id, NextOrderID: 1}
	if err := s.CreateWager(context.Background(), w, b); err != nil {
		t.Fatalf("create wager %d: %v", id, err)
	}
}

func TestMemoryStore_WagerRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetWager(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	seedWager(t, s, 1)
	seedWager(t, s, 2)
	if err := s.CreateWager(ctx, &model.Wager{ID: 1}, &model.OrderBook{WagerID: 1}); err == nil {
		t.Error("duplicate create should fail")
	}

	w, err := s.GetWager(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Returned record is a copy: local mutation must not leak.
	w.Status = model.WagerResolved
	again, _ := s.GetWager(ctx, 1)
	if again.Status != model.WagerActive {
		t.Error("mutation of a read copy leaked into the store")
	}

	wagers, err := s.ListWagers(ctx)
	if err != nil || len(wagers) != 2 {
		t.Fatalf("list: %v, %d wagers", err, len(wagers))
	}
	// Newest first.
	if wagers[0].ID != 2 || wagers[1].ID != 1 {
		t.Errorf("list order: %d, %d", wagers[0].ID, wagers[1].ID)
	}

	if err := s.SaveWager(ctx, &model.Wager{ID: 99}); !errors.Is(err, ErrNotFound) {
		t.Errorf("save of unknown wager: %v", err)
	}
}

func TestMemoryStore_BookDeepCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedWager(t, s, 1)

	b, _ := s.GetOrderBook(ctx, 1)
	b.BuyYes = append(b.BuyYes, model.Order{ID: 1, Owner: "carol", RemainingQuantity: 10})
	if err := s.SaveOrderBook(ctx, b); err != nil {
		t.Fatalf("save book: %v", err)
	}

	// Mutating a read copy's queue must not affect the stored book.
	read, _ := s.GetOrderBook(ctx, 1)
	read.BuyYes[0].RemainingQuantity = 0
	read.BuyYes = read.BuyYes[1:]

	stored, _ := s.GetOrderBook(ctx, 1)
	if len(stored.BuyYes) != 1 || stored.BuyYes[0].RemainingQuantity != 10 {
		t.Errorf("queue mutation leaked: %+v", stored.BuyYes)
	}
}

func TestMemoryStore_PositionDefaultsToZero(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pos, err := s.GetPosition(ctx, "bob", 5)
	if err != nil {
		t.Fatalf("get absent position: %v", err)
	}
	if pos.User != "bob" || pos.WagerID != 5 || pos.SolDeposited != 0 {
		t.Errorf("expected zero-valued position, got %+v", pos)
	}

	pos.SolDeposited = 100
	if err := s.SavePosition(ctx, pos); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved, _ := s.GetPosition(ctx, "bob", 5)
	if saved.SolDeposited != 100 {
		t.Errorf("position not saved: %+v", saved)
	}

	list, err := s.ListPositionsByUser(ctx, "bob")
	if err != nil || len(list) != 1 {
		t.Errorf("list positions: %v, %d", err, len(list))
	}
}

func TestMemoryStore_Fills(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, wagerID := range []uint64{1, 2, 1} {
		if err := s.InsertFill(ctx, &model.Fill{ID: "f", WagerID: wagerID, Quantity: 10}); err != nil {
			t.Fatalf("insert fill: %v", err)
		}
	}

	fills, err := s.ListFillsByWager(ctx, 1)
	if err != nil || len(fills) != 2 {
		t.Errorf("expected 2 fills for wager 1, got %d (%v)", len(fills), err)
	}
	fills, err = s.ListFillsByWager(ctx, 3)
	if err != nil || len(fills) != 0 {
		t.Errorf("expected no fills for wager 3, got %d (%v)", len(fills), err)
	}
}

func TestMemoryStore_Platform(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetPlatform(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before bootstrap, got %v", err)
	}
	if err := s.SavePlatform(ctx, &model.Platform{Authority: "authority", TotalWagersCreated: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := s.GetPlatform(ctx)
	if err != nil || p.TotalWagersCreated != 3 {
		t.Errorf("platform round trip: %+v, %v", p, err)
	}
}
