package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ipredict/wager-engine/internal/engine"
	"github.com/ipredict/wager-engine/internal/ledger"
	"github.com/ipredict/wager-engine/internal/model"
	"github.com/ipredict/wager-engine/internal/risk"
	"github.com/ipredict/wager-engine/internal/store"
	"github.com/ipredict/wager-engine/internal/trade"
)

const (
	sol = uint64(engine.LamportsPerSol)
	tok = uint64(engine.LamportsPerToken)
	par = uint64(engine.ParPrice)
)

// env is a full service stack on in-memory store and ledger with a
// controllable clock.
type env struct {
	t   *testing.T
	now time.Time
	led *ledger.Memory
	st  *store.MemoryStore
	r   chi.Router
}

func newTestEnv(t *testing.T, limiter *risk.ExposureLimiter) *env {
	t.Helper()
	e := &env{
		t:   t,
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		st:  store.NewMemoryStore(),
	}
	e.led = ledger.NewMemory(func() time.Time { return e.now })

	platform := &model.Platform{
		Authority:        "authority",
		FeeRecipient:     "fee-recipient",
		PlatformFeeBps:   25,
		DeployerFeeBps:   25,
		WagerCreationFee: sol,
	}
	if err := e.st.SavePlatform(context.Background(), platform); err != nil {
		t.Fatalf("seed platform: %v", err)
	}

	svc := trade.NewService(e.st, e.led, limiter, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/platform", svc.GetPlatform)
		r.Get("/wagers", svc.ListWagers)
		r.Post("/wagers", svc.CreateWager)
		r.Get("/wagers/{wagerID}", svc.GetWager)
		r.Post("/wagers/{wagerID}/deposit", svc.Deposit)
		r.Post("/wagers/{wagerID}/resolve", svc.Resolve)
		r.Post("/wagers/{wagerID}/claim", svc.Claim)
		r.Get("/wagers/{wagerID}/book", svc.GetOrderBook)
		r.Get("/wagers/{wagerID}/fills", svc.GetFills)
		r.Post("/wagers/{wagerID}/orders", svc.PlaceOrder)
		r.Post("/wagers/{wagerID}/orders/{orderID}/cancel", svc.CancelOrder)
		r.Post("/wagers/{wagerID}/match", svc.MatchOrders)
		r.Get("/wagers/{wagerID}/quote", svc.Quote)
		r.Post("/wagers/{wagerID}/quickbuy", svc.QuickBuy)
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
	})
	e.r = r
	return e
}

// do issues a JSON request against the router.
func (e *env) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// createWager funds alice with the creation fee and creates a wager
// closing in 24h, resolving in 48h.
func (e *env) createWager() model.Wager {
	e.t.Helper()
	e.led.Fund("alice", sol)
	rec := e.do("POST", "/api/v1/wagers", trade.CreateWagerRequest{
		Creator:        "alice",
		Name:           "Will it rain tomorrow?",
		OpeningTime:    e.now,
		ClosingTime:    e.now.Add(24 * time.Hour),
		ResolutionTime: e.now.Add(48 * time.Hour),
	})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create wager: %d %s", rec.Code, rec.Body.String())
	}
	return decode[model.Wager](e.t, rec)
}

// deposit funds the user and deposits into the wager.
func (e *env) deposit(wagerID uint64, user string, amount uint64) {
	e.t.Helper()
	e.led.Fund(ledger.AccountID(user), amount)
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/deposit", wagerID), trade.DepositRequest{
		User: user, Amount: amount,
	})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}
}

// placeOrder funds buy-side collateral and places an order.
func (e *env) placeOrder(wagerID uint64, user string, side model.OrderSide, token model.TokenType, price, qty uint64) model.Order {
	e.t.Helper()
	if side == model.SideBuy {
		e.led.Fund(ledger.AccountID(user), price*qty)
	}
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/orders", wagerID), trade.PlaceOrderRequest{
		User: user, Side: side, TokenType: token, Price: price, Quantity: qty,
	})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("place order: %d %s", rec.Code, rec.Body.String())
	}
	return decode[model.Order](e.t, rec)
}

func TestCreateWager(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.createWager()
	if w.ID != 0 || w.Status != model.WagerCreated || w.Creator != "alice" {
		t.Errorf("unexpected wager: %+v", w)
	}

	// Listed and fetchable.
	rec := e.do("GET", "/api/v1/wagers", nil)
	if wagers := decode[[]model.Wager](t, rec); len(wagers) != 1 {
		t.Errorf("expected 1 wager listed, got %d", len(wagers))
	}
	rec = e.do("GET", "/api/v1/wagers/0", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get wager: %d", rec.Code)
	}

	// Platform counter persisted.
	platform, err := e.st.GetPlatform(context.Background())
	if err != nil || platform.TotalWagersCreated != 1 {
		t.Errorf("platform counter: %+v, %v", platform, err)
	}
}

func TestCreateWager_Errors(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do("POST", "/api/v1/wagers", "not an object")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", rec.Code)
	}

	// No funds for the creation fee.
	rec = e.do("POST", "/api/v1/wagers", trade.CreateWagerRequest{
		Creator:        "pauper",
		Name:           "x",
		OpeningTime:    e.now,
		ClosingTime:    e.now.Add(time.Hour),
		ResolutionTime: e.now.Add(2 * time.Hour),
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("unfunded creator: expected 402, got %d", rec.Code)
	}
}

func TestDeposit(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()

	e.led.Fund("bob", sol)
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/deposit", w.ID), trade.DepositRequest{
		User: "bob", Amount: sol,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[trade.DepositResponse](t, rec)
	if resp.TokensMinted != 100 {
		t.Errorf("expected 100 tokens minted, got %d", resp.TokensMinted)
	}
	if resp.Position == nil || resp.Position.SolDeposited != sol {
		t.Errorf("position not reported: %+v", resp.Position)
	}

	// First deposit activates.
	rec = e.do("GET", fmt.Sprintf("/api/v1/wagers/%d", w.ID), nil)
	if got := decode[model.Wager](t, rec); got.Status != model.WagerActive {
		t.Errorf("expected active, got %s", got.Status)
	}

	// Non-multiple amounts are rejected.
	rec = e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/deposit", w.ID), trade.DepositRequest{
		User: "bob", Amount: tok + 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("odd amount: expected 400, got %d", rec.Code)
	}
}

func TestWagerNotFound(t *testing.T) {
	e := newTestEnv(t, nil)

	rec := e.do("GET", "/api/v1/wagers/42", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	rec = e.do("POST", "/api/v1/wagers/42/deposit", trade.DepositRequest{User: "bob", Amount: sol})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on deposit, got %d", rec.Code)
	}
}

func TestPlaceMatchFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)

	e.placeOrder(w.ID, "bob", model.SideSell, model.TokenYes, par, 50)
	e.placeOrder(w.ID, "carol", model.SideBuy, model.TokenYes, par, 50)

	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/match", w.ID), trade.MatchRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("match: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[trade.MatchResponse](t, rec)
	if resp.FillCount != 1 || len(resp.Fills) != 1 {
		t.Fatalf("expected one fill, got %+v", resp)
	}
	fill := resp.Fills[0]
	if fill.Buyer != "carol" || fill.Seller != "bob" || fill.Quantity != 50 || fill.Price != par {
		t.Errorf("unexpected fill: %+v", fill)
	}
	if fill.ID == "" {
		t.Error("fill should be assigned an id")
	}

	// Fill history is queryable.
	rec = e.do("GET", fmt.Sprintf("/api/v1/wagers/%d/fills", w.ID), nil)
	if fills := decode[[]model.Fill](t, rec); len(fills) != 1 {
		t.Errorf("expected 1 recorded fill, got %d", len(fills))
	}

	// Both queues drained.
	rec = e.do("GET", fmt.Sprintf("/api/v1/wagers/%d/book", w.ID), nil)
	book := decode[model.OrderBook](t, rec)
	if len(book.BuyYes) != 0 || len(book.SellYes) != 0 || book.ActiveOrders != 0 {
		t.Errorf("book not drained: %+v", book)
	}

	// Trade tallies land on both positions.
	carolPos, err := e.st.GetPosition(context.Background(), "carol", w.ID)
	if err != nil || carolPos.YesBought != 50 {
		t.Errorf("carol position: %+v, %v", carolPos, err)
	}
	bobPos, err := e.st.GetPosition(context.Background(), "bob", w.ID)
	if err != nil || bobPos.YesSold != 50 {
		t.Errorf("bob position: %+v, %v", bobPos, err)
	}

	// An empty crank is a no-op success.
	rec = e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/match", w.ID), trade.MatchRequest{})
	if resp := decode[trade.MatchResponse](t, rec); resp.FillCount != 0 {
		t.Errorf("expected empty crank, got %+v", resp)
	}
}

func TestCancelOrder(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)

	o := e.placeOrder(w.ID, "carol", model.SideBuy, model.TokenNo, par, 20)
	path := fmt.Sprintf("/api/v1/wagers/%d/orders/%d/cancel", w.ID, o.ID)

	rec := e.do("POST", path, trade.CancelOrderRequest{User: "mallory"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign cancel: expected 403, got %d", rec.Code)
	}

	rec = e.do("POST", path, trade.CancelOrderRequest{User: "carol"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	if got := e.led.CollateralBalance("carol"); got != par*20 {
		t.Errorf("expected escrow refund %d, got %d", par*20, got)
	}

	rec = e.do("POST", path, trade.CancelOrderRequest{User: "carol"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("double cancel: expected 404, got %d", rec.Code)
	}
}

func TestQuote(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)
	e.placeOrder(w.ID, "carol", model.SideBuy, model.TokenNo, 4*tok/10, 50)

	rec := e.do("GET", fmt.Sprintf("/api/v1/wagers/%d/quote?token_type=yes&sol_amount=%d", w.ID, sol), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote: %d %s", rec.Code, rec.Body.String())
	}
	q := decode[engine.Quote](t, rec)
	if q.TokensMinted != 100 || q.TokensMatched != 50 {
		t.Errorf("unexpected quote: %+v", q)
	}
	wantRevenue := 50*4*tok/10 + 50*par
	if q.EstimatedRevenue != wantRevenue {
		t.Errorf("expected revenue %d, got %d", wantRevenue, q.EstimatedRevenue)
	}

	rec = e.do("GET", fmt.Sprintf("/api/v1/wagers/%d/quote?token_type=yes&sol_amount=abc", w.ID), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad amount: expected 400, got %d", rec.Code)
	}
}

func TestQuickBuy(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)
	e.placeOrder(w.ID, "carol", model.SideBuy, model.TokenNo, 4*tok/10, 100)

	e.led.Fund("dave", sol)
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/quickbuy", w.ID), trade.QuickBuyRequest{
		User: "dave", TokenType: model.TokenYes, SolAmount: sol, MinTokensOut: 100,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("quick buy: %d %s", rec.Code, rec.Body.String())
	}
	res := decode[engine.QuickBuyResult](t, rec)
	if res.TokensMinted != 100 || res.TokensSold != 100 {
		t.Errorf("unexpected result: %+v", res)
	}

	// The sale is recorded as a fill against the resting order.
	rec = e.do("GET", fmt.Sprintf("/api/v1/wagers/%d/fills", w.ID), nil)
	fills := decode[[]model.Fill](t, rec)
	if len(fills) != 1 || fills[0].SellOrderID != 0 || fills[0].Seller != "dave" {
		t.Errorf("unexpected fills: %+v", fills)
	}

	// Seller tally recorded alongside the deposit tallies.
	davePos, err := e.st.GetPosition(context.Background(), "dave", w.ID)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if davePos.SolDeposited != sol || davePos.NoSold != 100 || davePos.NoBought != 100 {
		t.Errorf("dave position: %+v", davePos)
	}
}

func TestQuickBuy_SlippageLeavesStoreUntouched(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)
	e.placeOrder(w.ID, "carol", model.SideBuy, model.TokenNo, par, 40)

	e.led.Fund("dave", sol)
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/quickbuy", w.ID), trade.QuickBuyRequest{
		User: "dave", TokenType: model.TokenYes, SolAmount: sol, MinTokensOut: 100,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on slippage, got %d %s", rec.Code, rec.Body.String())
	}

	// The store kept the pre-request state: only bob's deposit.
	got, err := e.st.GetWager(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("reload wager: %v", err)
	}
	if got.TotalSolDeposited != sol || got.TotalYesTokens != 100 {
		t.Errorf("wager mutated by failed quick buy: %+v", got)
	}
	book, err := e.st.GetOrderBook(context.Background(), w.ID)
	if err != nil || len(book.BuyNo) != 1 || book.BuyNo[0].RemainingQuantity != 40 {
		t.Errorf("book mutated by failed quick buy: %+v, %v", book, err)
	}
	if got := e.led.CollateralBalance("dave"); got != sol {
		t.Errorf("ledger mutated by failed quick buy: %d", got)
	}
}

func TestResolveAndClaim(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)

	path := fmt.Sprintf("/api/v1/wagers/%d/resolve", w.ID)

	// Too early.
	rec := e.do("POST", path, trade.ResolveRequest{Caller: "authority", Resolution: model.ResolutionYesWon})
	if rec.Code != http.StatusConflict {
		t.Errorf("early resolve: expected 409, got %d", rec.Code)
	}

	e.now = w.ResolutionTime

	rec = e.do("POST", path, trade.ResolveRequest{Caller: "mallory", Resolution: model.ResolutionYesWon})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign resolve: expected 403, got %d", rec.Code)
	}

	rec = e.do("POST", path, trade.ResolveRequest{Caller: "authority", Resolution: model.ResolutionYesWon})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}

	claimPath := fmt.Sprintf("/api/v1/wagers/%d/claim", w.ID)
	rec = e.do("POST", claimPath, trade.ClaimRequest{User: "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[trade.ClaimResponse](t, rec)
	if resp.Payout != sol {
		t.Errorf("expected payout 1 SOL, got %d", resp.Payout)
	}
	if !resp.PayoutSol.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1 SOL decimal, got %s", resp.PayoutSol)
	}

	rec = e.do("POST", claimPath, trade.ClaimRequest{User: "bob"})
	if rec.Code != http.StatusConflict {
		t.Errorf("double claim: expected 409, got %d", rec.Code)
	}

	// Portfolio reflects the round trip.
	rec = e.do("GET", "/api/v1/portfolio/bob", nil)
	pf := decode[trade.PortfolioResponse](t, rec)
	if len(pf.Positions) != 1 || !pf.NetFlow.IsZero() {
		t.Errorf("unexpected portfolio: %+v", pf)
	}
}

func TestDeposit_BeforeOpeningWindow(t *testing.T) {
	e := newTestEnv(t, nil)

	e.led.Fund("alice", sol)
	rec := e.do("POST", "/api/v1/wagers", trade.CreateWagerRequest{
		Creator:        "alice",
		Name:           "Will it rain tomorrow?",
		OpeningTime:    e.now.Add(time.Hour),
		ClosingTime:    e.now.Add(24 * time.Hour),
		ResolutionTime: e.now.Add(48 * time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create wager: %d %s", rec.Code, rec.Body.String())
	}
	w := decode[model.Wager](t, rec)

	e.led.Fund("bob", sol)
	rec = e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/deposit", w.ID), trade.DepositRequest{
		User: "bob", Amount: sol,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("deposit before opening: expected 409, got %d %s", rec.Code, rec.Body.String())
	}

	e.now = w.OpeningTime
	e.deposit(w.ID, "bob", sol)
}

func TestRiskLimits(t *testing.T) {
	e := newTestEnv(t, risk.NewExposureLimiter(0, 1))
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)

	e.placeOrder(w.ID, "carol", model.SideBuy, model.TokenYes, par, 10)

	e.led.Fund("carol", par*10)
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/orders", w.ID), trade.PlaceOrderRequest{
		User: "carol", Side: model.SideBuy, TokenType: model.TokenYes, Price: par, Quantity: 10,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 from the exposure limiter, got %d %s", rec.Code, rec.Body.String())
	}

	// Other users keep trading.
	e.placeOrder(w.ID, "dave", model.SideBuy, model.TokenYes, par, 10)
}

func TestRiskLimits_OverflowingNotional(t *testing.T) {
	e := newTestEnv(t, risk.NewExposureLimiter(1_000_000_000, 0))
	w := e.createWager()
	e.deposit(w.ID, "bob", sol)

	// price×quantity wraps uint64; the limiter must reject, not undercount.
	rec := e.do("POST", fmt.Sprintf("/api/v1/wagers/%d/orders", w.ID), trade.PlaceOrderRequest{
		User: "carol", Side: model.SideBuy, TokenType: model.TokenYes,
		Price: 1 << 40, Quantity: 1 << 40,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for overflowing order, got %d %s", rec.Code, rec.Body.String())
	}
}
