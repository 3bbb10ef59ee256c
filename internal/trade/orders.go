package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ipredict/wager-engine/internal/metrics"
	"github.com/ipredict/wager-engine/internal/model"
	"github.com/ipredict/wager-engine/internal/risk"

	"github.com/go-chi/chi/v5"
)

// PlaceOrderRequest is the JSON body for POST /wagers/{id}/orders.
type PlaceOrderRequest struct {
	User      string          `json:"user"`
	Side      model.OrderSide `json:"side"`
	TokenType model.TokenType `json:"token_type"`
	Price     uint64          `json:"price"` // lamports per token
	Quantity  uint64          `json:"quantity"`
}

// CancelOrderRequest is the JSON body for POST /wagers/{id}/orders/{orderID}/cancel.
type CancelOrderRequest struct {
	User string `json:"user"`
}

// MatchRequest is the JSON body for POST /wagers/{id}/match.
type MatchRequest struct {
	MaxIterations int `json:"max_iterations"` // 0 → default 10
}

// MatchResponse reports one crank run.
type MatchResponse struct {
	WagerID   uint64       `json:"wager_id"`
	FillCount int          `json:"fill_count"`
	Fills     []model.Fill `json:"fills"`
}

// QuickBuyRequest is the JSON body for POST /wagers/{id}/quickbuy.
type QuickBuyRequest struct {
	User         string          `json:"user"`
	TokenType    model.TokenType `json:"token_type"`
	SolAmount    uint64          `json:"sol_amount"` // lamports
	MinTokensOut uint64          `json:"min_tokens_out"`
}

// PlaceOrder handles POST /api/v1/wagers/{wagerID}/orders
// Orders rest in the book; execution happens via the matching crank.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	var req PlaceOrderRequest
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
	book, err := s.store.GetOrderBook(ctx, id)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}

	if s.limiter != nil {
		if err := s.limiter.CheckOrder(req.User, book, risk.Notional(req.Price, req.Quantity)); err != nil {
			metrics.RiskRejections.Inc()
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
	}

	order, err := s.engine.PlaceOrder(wager, book, req.User, req.Side, req.TokenType, req.Price, req.Quantity)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.SaveOrderBook(ctx, book); err != nil {
		writeError(w, "failed to save order book", http.StatusInternalServerError)
		return
	}

	metrics.OrdersPlaced.WithLabelValues(string(req.Side), string(req.TokenType)).Inc()
	slog.Info("order placed",
		"wager_id", id,
		"order_id", order.ID,
		"user", req.User,
		"side", req.Side,
		"token_type", req.TokenType,
		"price", req.Price,
		"quantity", req.Quantity,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "order_placed",
			WagerID:   id,
			User:      req.User,
			Side:      string(req.Side),
			TokenType: string(req.TokenType),
			Price:     req.Price,
			Quantity:  req.Quantity,
		})
	}

	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder handles POST /api/v1/wagers/{wagerID}/orders/{orderID}/cancel
// Returns the order's remaining escrow to its owner.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return
	}
	var req CancelOrderRequest
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

	book, err := s.store.GetOrderBook(ctx, id)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}

	order, err := s.engine.CancelOrder(book, req.User, orderID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.SaveOrderBook(ctx, book); err != nil {
		writeError(w, "failed to save order book", http.StatusInternalServerError)
		return
	}

	metrics.OrdersCancelled.Inc()
	slog.Info("order cancelled",
		"wager_id", id,
		"order_id", orderID,
		"user", req.User,
		"original_quantity", order.OriginalQuantity,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "order_cancelled",
			WagerID:   id,
			User:      req.User,
			Side:      string(order.Side),
			TokenType: string(order.TokenType),
			Price:     order.Price,
			Quantity:  order.OriginalQuantity,
		})
	}

	writeJSON(w, http.StatusOK, order)
}

// MatchOrders handles POST /api/v1/wagers/{wagerID}/match
// Permissionless crank: anyone may call it; callers repeat until it
// reports zero fills.
func (s *Service) MatchOrders(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = 10
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
	book, err := s.store.GetOrderBook(ctx, id)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}

	start := time.Now()
	fills, err := s.engine.MatchOrders(platform, wager, book, req.MaxIterations)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.CrankLatency.Observe(time.Since(start).Seconds())

	if len(fills) > 0 {
		if err := s.store.SaveOrderBook(ctx, book); err != nil {
			writeError(w, "failed to save order book", http.StatusInternalServerError)
			return
		}
		if err := s.store.SaveWager(ctx, wager); err != nil {
			writeError(w, "failed to save wager", http.StatusInternalServerError)
			return
		}
		if err := s.store.SavePlatform(ctx, platform); err != nil {
			writeError(w, "failed to update platform", http.StatusInternalServerError)
			return
		}
		for i := range fills {
			if err := s.recordFill(ctx, &fills[i]); err != nil {
				writeError(w, "failed to record fill", http.StatusInternalServerError)
				return
			}
		}
		slog.Info("crank executed", "wager_id", id, "fills", len(fills))
	}

	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, http.StatusOK, MatchResponse{WagerID: id, FillCount: len(fills), Fills: fills})
}

// Quote handles GET /api/v1/wagers/{wagerID}/quote
// Query params: token_type, sol_amount, default_price (optional).
// Read-only estimate; carries no execution guarantee.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}

	token := model.TokenType(r.URL.Query().Get("token_type"))
	solAmount, err := strconv.ParseUint(r.URL.Query().Get("sol_amount"), 10, 64)
	if err != nil {
		writeError(w, "invalid sol_amount", http.StatusBadRequest)
		return
	}
	var defaultPrice uint64
	if v := r.URL.Query().Get("default_price"); v != "" {
		if defaultPrice, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeError(w, "invalid default_price", http.StatusBadRequest)
			return
		}
	}

	book, err := s.store.GetOrderBook(r.Context(), id)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}

	quote, err := s.engine.PositionCost(book, token, solAmount, defaultPrice)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// QuickBuy handles POST /api/v1/wagers/{wagerID}/quickbuy
// Deposit, mint, and sell the unwanted side in one atomic flow.
func (s *Service) QuickBuy(w http.ResponseWriter, r *http.Request) {
	id, err := wagerIDParam(r)
	if err != nil {
		writeError(w, "invalid wager id", http.StatusBadRequest)
		return
	}
	var req QuickBuyRequest
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
	book, err := s.store.GetOrderBook(ctx, id)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}
	pos, err := s.store.GetPosition(ctx, req.User, id)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	wasCreated := wager.Status == model.WagerCreated
	result, err := s.engine.QuickBuy(platform, wager, book, pos, req.User, req.TokenType, req.SolAmount, req.MinTokensOut)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if err := s.store.SaveWager(ctx, wager); err != nil {
		writeError(w, "failed to save wager", http.StatusInternalServerError)
		return
	}
	if err := s.store.SaveOrderBook(ctx, book); err != nil {
		writeError(w, "failed to save order book", http.StatusInternalServerError)
		return
	}
	if err := s.store.SavePosition(ctx, pos); err != nil {
		writeError(w, "failed to save position", http.StatusInternalServerError)
		return
	}
	if err := s.store.SavePlatform(ctx, platform); err != nil {
		writeError(w, "failed to update platform", http.StatusInternalServerError)
		return
	}
	for i := range result.Fills {
		if err := s.recordFill(ctx, &result.Fills[i]); err != nil {
			writeError(w, "failed to record fill", http.StatusInternalServerError)
			return
		}
	}

	metrics.DepositsTotal.WithLabelValues("quick_buy").Inc()
	if wasCreated {
		metrics.ActiveWagers.Inc()
	}

	slog.Info("quick buy",
		"wager_id", id,
		"user", req.User,
		"token_type", req.TokenType,
		"sol_amount", req.SolAmount,
		"tokens_minted", result.TokensMinted,
		"tokens_sold", result.TokensSold,
		"revenue", result.Revenue,
	)

	writeJSON(w, http.StatusOK, result)
}
