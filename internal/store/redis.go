package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ipredict/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Wagers and order-book
// snapshots are cached; the platform singleton and positions are hot
// write paths and pass through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateWager(ctx context.Context, w *model.Wager, b *model.OrderBook) error {
	if err := s.primary.CreateWager(ctx, w, b); err != nil {
		return err
	}
	s.cacheWager(ctx, w)
	s.cacheBook(ctx, b)
	return nil
}

func (s *CachedStore) SaveWager(ctx context.Context, w *model.Wager) error {
	if err := s.primary.SaveWager(ctx, w); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, wagerKey(w.ID))
	return nil
}

func (s *CachedStore) SaveOrderBook(ctx context.Context, b *model.OrderBook) error {
	if err := s.primary.SaveOrderBook(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, bookKey(b.WagerID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWager(ctx context.Context, id uint64) (*model.Wager, error) {
	data, err := s.rdb.Get(ctx, wagerKey(id)).Bytes()
	if err == nil {
		var w model.Wager
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	// Cache miss: read from primary.
	w, err := s.primary.GetWager(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheWager(ctx, w)
	return w, nil
}

func (s *CachedStore) GetOrderBook(ctx context.Context, wagerID uint64) (*model.OrderBook, error) {
	data, err := s.rdb.Get(ctx, bookKey(wagerID)).Bytes()
	if err == nil {
		var b model.OrderBook
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetOrderBook(ctx, wagerID)
	if err != nil {
		return nil, err
	}

	s.cacheBook(ctx, b)
	return b, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPlatform(ctx context.Context) (*model.Platform, error) {
	return s.primary.GetPlatform(ctx)
}

func (s *CachedStore) SavePlatform(ctx context.Context, p *model.Platform) error {
	return s.primary.SavePlatform(ctx, p)
}

func (s *CachedStore) ListWagers(ctx context.Context) ([]model.Wager, error) {
	return s.primary.ListWagers(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, user string, wagerID uint64) (*model.UserPosition, error) {
	return s.primary.GetPosition(ctx, user, wagerID)
}

func (s *CachedStore) SavePosition(ctx context.Context, pos *model.UserPosition) error {
	return s.primary.SavePosition(ctx, pos)
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, user string) ([]model.UserPosition, error) {
	return s.primary.ListPositionsByUser(ctx, user)
}

func (s *CachedStore) InsertFill(ctx context.Context, f *model.Fill) error {
	return s.primary.InsertFill(ctx, f)
}

func (s *CachedStore) ListFillsByWager(ctx context.Context, wagerID uint64) ([]model.Fill, error) {
	return s.primary.ListFillsByWager(ctx, wagerID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheWager(ctx context.Context, w *model.Wager) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, wagerKey(w.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheBook(ctx context.Context, b *model.OrderBook) {
	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, bookKey(b.WagerID), data, s.ttl)
	}
}

func wagerKey(id uint64) string { return fmt.Sprintf("wager:%d", id) }
func bookKey(id uint64) string  { return fmt.Sprintf("book:%d", id) }
