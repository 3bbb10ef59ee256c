package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ipredict/wager-engine/internal/model"
)

type posKey struct {
	user    string
	wagerID uint64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	platform  *model.Platform
	wagers    map[uint64]*model.Wager
	books     map[uint64]*model.OrderBook
	positions map[posKey]*model.UserPosition
	fills     []model.Fill
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wagers:    make(map[uint64]*model.Wager),
		books:     make(map[uint64]*model.OrderBook),
		positions: make(map[posKey]*model.UserPosition),
	}
}

// copyBook deep-copies a book so callers can mutate queues freely.
func copyBook(b *model.OrderBook) *model.OrderBook {
	cp := *b
	cp.BuyYes = append([]model.Order(nil), b.BuyYes...)
	cp.SellYes = append([]model.Order(nil), b.SellYes...)
	cp.BuyNo = append([]model.Order(nil), b.BuyNo...)
	cp.SellNo = append([]model.Order(nil), b.SellNo...)
	return &cp
}

func (s *MemoryStore) GetPlatform(_ context.Context) (*model.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.platform == nil {
		return nil, ErrNotFound
	}
	cp := *s.platform
	return &cp, nil
}

func (s *MemoryStore) SavePlatform(_ context.Context, p *model.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.platform = &cp
	return nil
}

func (s *MemoryStore) CreateWager(_ context.Context, w *model.Wager, b *model.OrderBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wagers[w.ID]; ok {
		return fmt.Errorf("wager %d already exists", w.ID)
	}

	// Store copies to avoid external mutation.
	wc := *w
	s.wagers[w.ID] = &wc
	s.books[b.WagerID] = copyBook(b)
	return nil
}

func (s *MemoryStore) GetWager(_ context.Context, id uint64) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, fmt.Errorf("wager %d: %w", id, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListWagers(_ context.Context) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wagers := make([]model.Wager, 0, len(s.wagers))
	for _, w := range s.wagers {
		wagers = append(wagers, *w)
	}
	sort.Slice(wagers, func(i, j int) bool { return wagers[i].ID > wagers[j].ID })
	return wagers, nil
}

func (s *MemoryStore) SaveWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wagers[w.ID]; !ok {
		return fmt.Errorf("wager %d: %w", w.ID, ErrNotFound)
	}
	cp := *w
	s.wagers[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrderBook(_ context.Context, wagerID uint64) (*model.OrderBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[wagerID]
	if !ok {
		return nil, fmt.Errorf("order book for wager %d: %w", wagerID, ErrNotFound)
	}
	return copyBook(b), nil
}

func (s *MemoryStore) SaveOrderBook(_ context.Context, b *model.OrderBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[b.WagerID]; !ok {
		return fmt.Errorf("order book for wager %d: %w", b.WagerID, ErrNotFound)
	}
	s.books[b.WagerID] = copyBook(b)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, user string, wagerID uint64) (*model.UserPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos, ok := s.positions[posKey{user, wagerID}]; ok {
		cp := *pos
		return &cp, nil
	}
	return &model.UserPosition{User: user, WagerID: wagerID}, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *model.UserPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pos
	s.positions[posKey{pos.User, pos.WagerID}] = &cp
	return nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, user string) ([]model.UserPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.UserPosition
	for _, pos := range s.positions {
		if pos.User == user {
			positions = append(positions, *pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].WagerID < positions[j].WagerID })
	return positions, nil
}

func (s *MemoryStore) InsertFill(_ context.Context, f *model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills = append(s.fills, *f)
	return nil
}

func (s *MemoryStore) ListFillsByWager(_ context.Context, wagerID uint64) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Fill
	for _, f := range s.fills {
		if f.WagerID == wagerID {
			result = append(result, f)
		}
	}
	return result, nil
}
