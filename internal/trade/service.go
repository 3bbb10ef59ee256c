// Package trade provides the HTTP handlers for the wager lifecycle,
// order placement and matching, quick-buy, and position/portfolio queries.
//
// Amounts cross the wire as integer lamports; derived prices in quotes and
// portfolio summaries use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ipredict/wager-engine/internal/engine"
	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/metrics"
	"github.com/ipredict/wager-engine/internal/model"
	"github.com/ipredict/wager-engine/internal/risk"
	"github.com/ipredict/wager-engine/internal/store"
)

// Service handles wager operations. Uses a mutex for serialized execution
// (single-instance). For horizontal scaling, replace with distributed
// locking or database-level optimistic concurrency.
type Service struct {
	store   store.Store
	engine  *engine.Engine
	limiter *risk.ExposureLimiter
	mu      sync.Mutex
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service executing against led.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, led ledger.Ledger, limiter *risk.ExposureLimiter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		engine:  engine.New(led),
		limiter: limiter,
		wsHub:   hub,
	}
}

// --- Request/Response types ---

// CreateWagerRequest is the JSON body for wager creation.
type CreateWagerRequest struct {
	Creator        string    `json:"creator"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	OpeningTime    time.Time `json:"opening_time"`
	ClosingTime    time.Time `json:"closing_time"`
	ResolutionTime time.Time `json:"resolution_time"`
}

// DepositRequest is the JSON body for POST /wagers/{id}/deposit.
type DepositRequest struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"` // lamports
}

// DepositResponse reports the mint resulting from a deposit.
type DepositResponse struct {
	WagerID      uint64          `json:"wager_id"`
	User         string          `json:"user"`
	Amount       uint64          `json:"amount"`
	TokensMinted uint64          `json:"tokens_minted"` // of each type
	Position     *model.UserPosition `json:"position"`
}

// ResolveRequest is the JSON body for POST /wagers/{id}/resolve.
type ResolveRequest struct {
	Caller     string           `json:"caller"`
	Resolution model.Resolution `json:"resolution"`
}

// ClaimRequest is the JSON body for POST /wagers/{id}/claim.
type ClaimRequest struct {
	User string `json:"user"`
}

// ClaimResponse reports the payout of a winnings claim.
type ClaimResponse struct {
	WagerID   uint64          `json:"wager_id"`
	User      string          `json:"user"`
	Payout    uint64          `json:"payout"` // lamports
	PayoutSol decimal.Decimal `json:"payout_sol"`
}

// PortfolioResponse aggregates a user's positions across wagers.
type PortfolioResponse struct {
	User           string               `json:"user"`
	Positions      []model.UserPosition `json:"positions"`
	TotalDeposited decimal.Decimal      `json:"total_deposited_sol"`
	TotalWithdrawn decimal.Decimal      `json:"total_withdrawn_sol"`
	NetFlow        decimal.Decimal      `json:"net_flow_sol"` // withdrawn − deposited
}

// --- Helpers ---

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine and store sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, engine.ErrState),
		errors.Is(err, engine.ErrSlippage),
		errors.Is(err, engine.ErrCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func wagerIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "wagerID"), 10, 64)
}

func lamportsToSol(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v).Div(decimal.NewFromInt(engine.LamportsPerSol))
}

// recordFill assigns the fill an id, persists it, updates the buyer's and
// seller's running tallies, and broadcasts it.
func (s *Service) recordFill(ctx context.Context, f *model.Fill) error {
	f.ID = uuid.New().String()
	if err := s.store.InsertFill(ctx, f); err != nil {
		return err
	}

	buyerPos, err := s.store.GetPosition(ctx, f.Buyer, f.WagerID)
	if err != nil {
		return err
	}
	sellerPos, err := s.store.GetPosition(ctx, f.Seller, f.WagerID)
	if err != nil {
		return err
	}
	if f.TokenType == model.TokenYes {
		buyerPos.YesBought += f.Quantity
		sellerPos.YesSold += f.Quantity
	} else {
		buyerPos.NoBought += f.Quantity
		sellerPos.NoSold += f.Quantity
	}
	if err := s.store.SavePosition(ctx, buyerPos); err != nil {
		return err
	}
	if err := s.store.SavePosition(ctx, sellerPos); err != nil {
		return err
	}

	metrics.FillsTotal.WithLabelValues(string(f.TokenType)).Inc()
	wagerLabel := strconv.FormatUint(f.WagerID, 10)
	metrics.VolumeLamports.WithLabelValues(wagerLabel).Add(float64(f.Value))
	metrics.FeesLamports.WithLabelValues(wagerLabel).Add(float64(f.Fee))

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "fill",
			WagerID:   f.WagerID,
			TokenType: string(f.TokenType),
			Price:     f.Price,
			Quantity:  f.Quantity,
			Value:     f.Value,
		})
	}
	return nil
}

// --- Wager lifecycle handlers ---

// CreateWager handles POST /api/v1/wagers
func (s *Service) CreateWager(w http.ResponseWriter, r *http.Request) {
	var req CreateWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize: wager ids come from the platform counter.
	s.mu.Lock()
	defer s.mu.Unlock()

	platform, err := s.store.GetPlatform(ctx)
	if err != nil {
		writeError(w, "platform not initialized", statusFor(err))
		return
	}

	wager, book, err := s.engine.CreateWager(platform, engine.WagerParams{
		Creator:        req.Creator,
		Name:           req.Name,
		Description:    req.Description,
		OpeningTime:    req.OpeningTime,
		ClosingTime:    req.ClosingTime,
		ResolutionTime: req.ResolutionTime,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.CreateWager(ctx, wager, book); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err := s.store.SavePlatform(ctx, platform); err != nil {
		writeError(w, "failed to update platform", http.StatusInternalServerError)
		return
	}

	metrics.WagersCreated.Inc()
	slog.Info("wager created",
		"id", wager.ID,
		"creator", wager.Creator,
		"name", wager.Name,
		"closing_time", wager.ClosingTime,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "wager_created", WagerID: wager.ID, User: wager.Creator})
	}

	writeJSON(w, http.StatusCreated, wager)
}

// ListWagers handles GET /api/v1/wagers
func (s *Service) ListWagers(w http.ResponseWriter, r *http.Request) {
	wagers, err := s.store.ListWagers(r.Context())
	if err != nil {
		writeError(w, "failed to list wagers", http.StatusInternalServerError)
		return
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}

	// Optional filter by ?status=active etc.
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Wager{}
		for _, wg := range wagers {
			if string(wg.Status) == status {
				filtered = append(filtered, wg)
			}
		}
		wagers = filtered
	}

	writeJSON(w, http.StatusOK, wagers)
}

// GetWager handles GET /api/v1/wagers/{wagerID}
func (s *Service) GetWager(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}

	wager, err := s.store.GetWager(r.Context(), id)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// GetOrderBook handles GET /api/v1/wagers/{wagerID}/book
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}

	book, err := s.store.GetOrderBook(r.Context(), id)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetFills handles GET /api/v1/wagers/{wagerID}/fills
func (s *Service) GetFills(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}

	fills, err := s.store.ListFillsByWager(r.Context(), id)
	if err != nil {
		writeError(w, "failed to get fills", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, http.StatusOK, fills)
}

// Deposit handles POST /api/v1/wagers/{wagerID}/deposit
// Moves collateral into the vault and mints both token types.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	wager, err := s.store.GetWager(ctx, id)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	pos, err := s.store.GetPosition(ctx, req.User, id)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	wasCreated := wager.Status == model.WagerCreated
	if err := s.engine.DepositAndMint(wager, pos, req.User, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.SaveWager(ctx, wager); err != nil {
		writeError(w, "failed to save wager", http.StatusInternalServerError)
		return
	}
	if err := s.store.SavePosition(ctx, pos); err != nil {
		writeError(w, "failed to save position", http.StatusInternalServerError)
		return
	}

	metrics.DepositsTotal.WithLabelValues("deposit").Inc()
	if wasCreated {
		metrics.ActiveWagers.Inc()
	}

	tokens := req.Amount / engine.LamportsPerToken
	slog.Info("deposit",
		"wager_id", id,
		"user", req.User,
		"amount", req.Amount,
		"tokens_minted", tokens,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "deposit",
			WagerID:  id,
			User:     req.User,
			Quantity: tokens,
			Value:    req.Amount,
		})
	}

	writeJSON(w, http.StatusOK, DepositResponse{
		WagerID:      id,
		User:         req.User,
		Amount:       req.Amount,
		TokensMinted: tokens,
		Position:     pos,
	})
}

// Resolve handles POST /api/v1/wagers/{wagerID}/resolve
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	platform, err := s.store.GetPlatform(ctx)
	if err != nil {
		writeError(w, "platform not initialized", statusFor(err))
		return
	}
	wager, err := s.store.GetWager(ctx, id)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}

	if err := s.engine.ResolveWager(platform, wager, req.Caller, req.Resolution); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if err := s.store.SaveWager(ctx, wager); err != nil {
		writeError(w, "failed to save wager", http.StatusInternalServerError)
		return
	}

	metrics.ActiveWagers.Dec()
	slog.Info("wager resolved", "wager_id", id, "resolution", req.Resolution)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "resolved",
			WagerID:    id,
			Resolution: string(req.Resolution),
		})
	}

	writeJSON(w, http.StatusOK, wager)
}

// Claim handles POST /api/v1/wagers/{wagerID}/claim
// Redeems the caller's token balances after resolution.
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	wager, err := s.store.GetWager(ctx, id)
	if err != nil {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	pos, err := s.store.GetPosition(ctx, req.User, id)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	payout, err := s.engine.ClaimWinnings(wager, pos, req.User)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.SaveWager(ctx, wager); err != nil {
		writeError(w, "failed to save wager", http.StatusInternalServerError)
		return
	}
	if err := s.store.SavePosition(ctx, pos); err != nil {
		writeError(w, "failed to save position", http.StatusInternalServerError)
		return
	}

	metrics.ClaimsPaid.Inc()
	slog.Info("winnings claimed",
		"wager_id", id,
		"user", req.User,
		"payout", payout,
		"resolution", wager.Resolution,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "claim", WagerID: id, User: req.User, Value: payout})
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		WagerID:   id,
		User:      req.User,
		Payout:    payout,
		PayoutSol: lamportsToSol(payout),
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "userID")

	positions, err := s.store.ListPositionsByUser(r.Context(), user)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.UserPosition{}
	}

	var deposited, withdrawn uint64
	for _, p := range positions {
		deposited += p.SolDeposited
		withdrawn += p.SolWithdrawn
	}

	totalDeposited := lamportsToSol(deposited)
	totalWithdrawn := lamportsToSol(withdrawn)

	writeJSON(w, http.StatusOK, PortfolioResponse{
		User:           user,
		Positions:      positions,
		TotalDeposited: totalDeposited,
		TotalWithdrawn: totalWithdrawn,
		NetFlow:        totalWithdrawn.Sub(totalDeposited),
	})
}

// GetPlatform handles GET /api/v1/platform
func (s *Service) GetPlatform(w http.ResponseWriter, r *http.Request) {
	platform, err := s.store.GetPlatform(r.Context())
	if err != nil {
		writeError(w, "platform not initialized", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, platform)
}
