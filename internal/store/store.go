// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ipredict/wager-engine/internal/model"
)

// ErrNotFound is returned for missing entities.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Implementations return
// copies; callers mutate freely and persist with the Save methods.
type Store interface {
	// --- Platform singleton ---

	// GetPlatform retrieves the platform record, ErrNotFound before
	// initialization.
	GetPlatform(ctx context.Context) (*model.Platform, error)

	// SavePlatform upserts the platform record.
	SavePlatform(ctx context.Context, p *model.Platform) error

	// --- Wager operations ---

	// CreateWager persists a new wager with its empty order book.
	CreateWager(ctx context.Context, w *model.Wager, b *model.OrderBook) error

	// GetWager retrieves a wager by id.
	GetWager(ctx context.Context, id uint64) (*model.Wager, error)

	// ListWagers returns all wagers, newest first.
	ListWagers(ctx context.Context) ([]model.Wager, error)

	// SaveWager persists updated wager state.
	SaveWager(ctx context.Context, w *model.Wager) error

	// --- Order book ---

	// GetOrderBook retrieves the book for a wager.
	GetOrderBook(ctx context.Context, wagerID uint64) (*model.OrderBook, error)

	// SaveOrderBook persists the book with its embedded queues.
	SaveOrderBook(ctx context.Context, b *model.OrderBook) error

	// --- Positions ---

	// GetPosition retrieves a user's position on a wager; a zero-valued
	// position if they have none yet.
	GetPosition(ctx context.Context, user string, wagerID uint64) (*model.UserPosition, error)

	// SavePosition upserts a position.
	SavePosition(ctx context.Context, pos *model.UserPosition) error

	// ListPositionsByUser returns all of a user's positions.
	ListPositionsByUser(ctx context.Context, user string) ([]model.UserPosition, error)

	// --- Immutable fill ledger ---

	// InsertFill appends an immutable trade record.
	InsertFill(ctx context.Context, f *model.Fill) error

	// ListFillsByWager returns all fills for a wager in execution order.
	ListFillsByWager(ctx context.Context, wagerID uint64) ([]model.Fill, error)
}
